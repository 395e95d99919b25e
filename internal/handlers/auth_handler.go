package handlers

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/ModoriLabs/zk-escrow/internal/middleware"
	"github.com/ModoriLabs/zk-escrow/internal/utils"
)

const nonceTTL = 5 * time.Minute

// AuthHandler issues JWT tokens to wallet owners. The client requests a
// nonce, signs "zk-escrow login: <nonce>" with personal_sign and submits
// the signature.
type AuthHandler struct {
	tokens *middleware.TokenManager
	logger *logrus.Logger

	mu     sync.Mutex
	nonces map[string]time.Time // nonce -> expiry
}

func NewAuthHandler(tokens *middleware.TokenManager, logger *logrus.Logger) *AuthHandler {
	return &AuthHandler{
		tokens: tokens,
		logger: logger,
		nonces: make(map[string]time.Time),
	}
}

// NonceHandler returns a fresh login nonce.
func (h *AuthHandler) NonceHandler(c *gin.Context) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		fail(c, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to generate nonce")
		return
	}
	nonce := hex.EncodeToString(buf)

	h.mu.Lock()
	now := time.Now()
	for n, exp := range h.nonces {
		if now.After(exp) {
			delete(h.nonces, n)
		}
	}
	h.nonces[nonce] = now.Add(nonceTTL)
	h.mu.Unlock()

	ok(c, gin.H{
		"nonce":   nonce,
		"message": loginMessage(nonce),
	})
}

type loginRequest struct {
	Address   string `json:"address" binding:"required"`
	Nonce     string `json:"nonce" binding:"required"`
	Signature string `json:"signature" binding:"required"`
}

// LoginHandler verifies the signed nonce and returns a bearer token.
func (h *AuthHandler) LoginHandler(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "INVALID_REQUEST", fmt.Sprintf("invalid request: %v", err))
		return
	}

	addr, err := utils.ParseAddress(req.Address)
	if err != nil {
		fail(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid address")
		return
	}

	if !h.consumeNonce(req.Nonce) {
		fail(c, http.StatusUnauthorized, "INVALID_NONCE", "unknown or expired nonce")
		return
	}

	recovered, err := recoverSigner(loginMessage(req.Nonce), req.Signature)
	if err != nil || recovered != addr {
		h.logger.WithFields(logrus.Fields{
			"address": req.Address,
		}).Warn("Login signature rejected")
		fail(c, http.StatusUnauthorized, "INVALID_SIGNATURE", "signature verification failed")
		return
	}

	token, err := h.tokens.Issue(addr.Hex(), middleware.RoleUser)
	if err != nil {
		fail(c, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to generate token")
		return
	}

	h.logger.WithField("address", addr.Hex()).Info("User authenticated")
	ok(c, gin.H{"token": token, "address": addr.Hex()})
}

func (h *AuthHandler) consumeNonce(nonce string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	exp, found := h.nonces[nonce]
	if !found {
		return false
	}
	delete(h.nonces, nonce)
	return time.Now().Before(exp)
}

func loginMessage(nonce string) string {
	return "zk-escrow login: " + nonce
}

func recoverSigner(message, signature string) (addr common.Address, err error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(signature, "0x"))
	if err != nil {
		return addr, fmt.Errorf("decode signature: %w", err)
	}
	if len(sig) != 65 {
		return addr, fmt.Errorf("signature must be 65 bytes, got %d", len(sig))
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return addr, fmt.Errorf("recover signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
