package handlers

import (
	"crypto/subtle"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pquerna/otp/totp"
	"github.com/sirupsen/logrus"

	"github.com/ModoriLabs/zk-escrow/internal/config"
	"github.com/ModoriLabs/zk-escrow/internal/middleware"
)

// AdminAuthHandler handles the TOTP-gated admin login.
type AdminAuthHandler struct {
	cfg    config.AdminConfig
	tokens *middleware.TokenManager
	logger *logrus.Logger
}

func NewAdminAuthHandler(cfg config.AdminConfig, tokens *middleware.TokenManager, logger *logrus.Logger) *AdminAuthHandler {
	if cfg.TOTPSecret == "" || cfg.Password == "" {
		logger.Warn("Admin credentials not fully configured, admin login will be rejected")
	}
	return &AdminAuthHandler{cfg: cfg, tokens: tokens, logger: logger}
}

type adminLoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
	TOTPCode string `json:"totp_code" binding:"required"`
}

// LoginHandler validates username, password and TOTP code, then issues an
// admin token.
func (h *AdminAuthHandler) LoginHandler(c *gin.Context) {
	if h.cfg.TOTPSecret == "" || h.cfg.Password == "" {
		fail(c, http.StatusInternalServerError, "MISCONFIGURED", "admin credentials not configured")
		return
	}

	var req adminLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "INVALID_REQUEST", fmt.Sprintf("invalid request: %v", err))
		return
	}

	username := h.cfg.Username
	if username == "" {
		username = "admin"
	}

	// Generic message on any credential mismatch.
	userOK := subtle.ConstantTimeCompare([]byte(req.Username), []byte(username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(req.Password), []byte(h.cfg.Password)) == 1
	if !userOK || !passOK {
		h.logger.WithField("username", req.Username).Warn("Admin login rejected")
		fail(c, http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid credentials")
		return
	}

	if !totp.Validate(req.TOTPCode, h.cfg.TOTPSecret) {
		fail(c, http.StatusUnauthorized, "INVALID_TOTP", "invalid TOTP code")
		return
	}

	token, err := h.tokens.Issue("", middleware.RoleAdmin)
	if err != nil {
		fail(c, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to generate token")
		return
	}

	h.logger.WithField("username", req.Username).Info("Admin authenticated")
	ok(c, gin.H{"token": token})
}
