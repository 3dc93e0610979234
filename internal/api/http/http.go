package http

import "time"

type Config struct {
	Port         uint           `mapstructure:"port"`
	SharedSecret string         `mapstructure:"shared_secret"`
	Operator     OperatorConfig `mapstructure:"operator"`
}

// OperatorConfig enables bearer-token protection of the operator query
// surface. When left empty the surface is open, matching the channel's
// reference behavior.
type OperatorConfig struct {
	Username     string        `mapstructure:"username"`
	PasswordHash string        `mapstructure:"password_hash"`
	JWTSecret    string        `mapstructure:"jwt_secret"`
	TokenTTL     time.Duration `mapstructure:"token_ttl"`
}

func (o OperatorConfig) Enabled() bool {
	return o.Username != "" && o.PasswordHash != "" && o.JWTSecret != ""
}
