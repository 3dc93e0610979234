package handler

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/outfleet/beacon/internal/api/http/dto"
	"github.com/outfleet/beacon/internal/auth"
)

// AuthHandler exchanges operator credentials for a bearer token.
type AuthHandler struct {
	username     string
	passwordHash string
	tokenConfig  auth.Config
}

func NewAuthHandler(username, passwordHash string, tokenConfig auth.Config) *AuthHandler {
	return &AuthHandler{
		username:     username,
		passwordHash: passwordHash,
		tokenConfig:  tokenConfig,
	}
}

// Login verifies the configured operator credentials.
// POST /auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req dto.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	usernameOK := subtle.ConstantTimeCompare([]byte(req.Username), []byte(h.username)) == 1
	if !usernameOK || !auth.CheckPassword(req.Password, h.passwordHash) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	token, err := auth.GenerateToken(h.tokenConfig, req.Username)
	if err != nil {
		slog.Error("Failed to generate token", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, dto.LoginResponse{Token: token})
}
