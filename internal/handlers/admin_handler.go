package handlers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/ModoriLabs/zk-escrow/internal/escrow"
	"github.com/ModoriLabs/zk-escrow/internal/registry"
	"github.com/ModoriLabs/zk-escrow/internal/utils"
	"github.com/ModoriLabs/zk-escrow/internal/verifier"
)

// EscrowRegistrar persists verifier-to-escrow registrations so they
// survive restarts; boot wiring reads them back into each verifier's
// escrow set. Nil when running on the memory store.
type EscrowRegistrar interface {
	EnsureEscrowRegistration(ctx context.Context, verifier, escrowAddr common.Address) error
	EscrowRegistrations(ctx context.Context, verifier common.Address) ([]common.Address, error)
}

// AdminHandler exposes owner operations: registry write permissions,
// verifier whitelisting and escrow registration on verifiers. Admin
// routes act on behalf of the configured owner address.
type AdminHandler struct {
	engine    *escrow.Engine
	registry  *registry.Registry
	verifiers map[string]*verifier.ReclaimVerifier
	registrar EscrowRegistrar
	logger    *logrus.Logger
}

func NewAdminHandler(engine *escrow.Engine, reg *registry.Registry, verifiers []*verifier.ReclaimVerifier, registrar EscrowRegistrar, logger *logrus.Logger) *AdminHandler {
	byAddr := make(map[string]*verifier.ReclaimVerifier, len(verifiers))
	for _, v := range verifiers {
		byAddr[v.Address().Hex()] = v
	}
	return &AdminHandler{engine: engine, registry: reg, verifiers: byAddr, registrar: registrar, logger: logger}
}

type addressRequest struct {
	Address string `json:"address" binding:"required"`
}

// ListWritersHandler returns current registry writers.
func (h *AdminHandler) ListWritersHandler(c *gin.Context) {
	writers, err := h.registry.Writers(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	out := make([]string, 0, len(writers))
	for _, w := range writers {
		out = append(out, w.Hex())
	}
	ok(c, gin.H{"writers": out})
}

// AddWriterHandler grants nullifier write permission.
func (h *AdminHandler) AddWriterHandler(c *gin.Context) {
	addr, okReq := bindAddress(c)
	if !okReq {
		return
	}
	if err := h.registry.AddWritePermission(c.Request.Context(), h.registry.Owner(), addr); err != nil {
		respondError(c, err)
		return
	}
	h.logger.WithField("writer", addr.Hex()).Info("Registry writer added")
	ok(c, gin.H{"writer": addr.Hex()})
}

// RemoveWriterHandler revokes nullifier write permission.
func (h *AdminHandler) RemoveWriterHandler(c *gin.Context) {
	addr, okReq := bindAddress(c)
	if !okReq {
		return
	}
	if err := h.registry.RemoveWritePermission(c.Request.Context(), h.registry.Owner(), addr); err != nil {
		respondError(c, err)
		return
	}
	h.logger.WithField("writer", addr.Hex()).Info("Registry writer removed")
	ok(c, gin.H{"writer": addr.Hex()})
}

// WhitelistVerifierHandler allows a payment verifier for new deposits
// and intents.
func (h *AdminHandler) WhitelistVerifierHandler(c *gin.Context) {
	addr, okReq := bindAddress(c)
	if !okReq {
		return
	}
	if err := h.engine.AddWhitelistedPaymentVerifier(c.Request.Context(), h.engine.Owner(), addr); err != nil {
		respondError(c, err)
		return
	}
	h.logger.WithField("verifier", addr.Hex()).Info("Payment verifier whitelisted")
	ok(c, gin.H{"verifier": addr.Hex()})
}

// RemoveVerifierHandler removes a verifier from the whitelist. Open
// intents referencing it still settle.
func (h *AdminHandler) RemoveVerifierHandler(c *gin.Context) {
	addr, okReq := bindAddress(c)
	if !okReq {
		return
	}
	if err := h.engine.RemoveWhitelistedPaymentVerifier(c.Request.Context(), h.engine.Owner(), addr); err != nil {
		respondError(c, err)
		return
	}
	h.logger.WithField("verifier", addr.Hex()).Info("Payment verifier removed from whitelist")
	ok(c, gin.H{"verifier": addr.Hex()})
}

type registerEscrowRequest struct {
	Verifier string `json:"verifier" binding:"required"`
	Escrow   string `json:"escrow" binding:"required"`
}

// RegisterEscrowHandler registers an escrow address on a verifier so the
// verifier accepts its verification calls.
func (h *AdminHandler) RegisterEscrowHandler(c *gin.Context) {
	var req registerEscrowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "INVALID_REQUEST", fmt.Sprintf("invalid request: %v", err))
		return
	}
	verifierAddr, err := utils.ParseAddress(req.Verifier)
	if err != nil {
		fail(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid verifier address")
		return
	}
	escrowAddr, err := utils.ParseAddress(req.Escrow)
	if err != nil {
		fail(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid escrow address")
		return
	}

	v, found := h.verifiers[verifierAddr.Hex()]
	if !found {
		fail(c, http.StatusNotFound, "NOT_FOUND", "verifier not configured")
		return
	}
	if err := v.AddEscrow(h.engine.Owner(), escrowAddr); err != nil {
		respondError(c, err)
		return
	}
	if h.registrar != nil {
		if err := h.registrar.EnsureEscrowRegistration(c.Request.Context(), verifierAddr, escrowAddr); err != nil {
			respondError(c, err)
			return
		}
	}

	h.logger.WithFields(logrus.Fields{
		"verifier": verifierAddr.Hex(),
		"escrow":   escrowAddr.Hex(),
	}).Info("Escrow registered on verifier")
	ok(c, gin.H{"verifier": verifierAddr.Hex(), "escrow": escrowAddr.Hex()})
}

func bindAddress(c *gin.Context) (addr common.Address, okOut bool) {
	var req addressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "INVALID_REQUEST", fmt.Sprintf("invalid request: %v", err))
		return addr, false
	}
	parsed, err := utils.ParseAddress(req.Address)
	if err != nil {
		fail(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid address")
		return addr, false
	}
	return parsed, true
}
