package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/ModoriLabs/zk-escrow/internal/escrow"
	"github.com/ModoriLabs/zk-escrow/internal/utils"
)

// IntentHandler exposes the intent lifecycle endpoints.
type IntentHandler struct {
	engine *escrow.Engine
	logger *logrus.Logger
}

func NewIntentHandler(engine *escrow.Engine, logger *logrus.Logger) *IntentHandler {
	return &IntentHandler{engine: engine, logger: logger}
}

type createIntentRequest struct {
	DepositID uint64 `json:"deposit_id" binding:"required"`
	Verifier  string `json:"verifier" binding:"required"`
	Currency  string `json:"currency" binding:"required"`
	Amount    string `json:"amount" binding:"required"`
}

// CreateHandler reserves liquidity and freezes the conversion rate.
func (h *IntentHandler) CreateHandler(c *gin.Context) {
	caller, okAddr := callerAddress(c)
	if !okAddr {
		return
	}

	var req createIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "INVALID_REQUEST", fmt.Sprintf("invalid request: %v", err))
		return
	}

	verifier, err := utils.ParseAddress(req.Verifier)
	if err != nil {
		fail(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid verifier address")
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		fail(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	currency := utils.CurrencyHash(req.Currency)

	intent, err := h.engine.CreateIntent(c.Request.Context(), caller, req.DepositID, verifier, currency, amount)
	if err != nil {
		respondError(c, err)
		return
	}

	h.logger.WithFields(logrus.Fields{
		"intent_id":  intent.ID,
		"deposit_id": intent.DepositID,
		"taker":      caller.Hex(),
		"amount":     amount.String(),
	}).Info("Intent created")

	ok(c, gin.H{"intent": intentView(intent)})
}

// GetHandler returns one intent.
func (h *IntentHandler) GetHandler(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		fail(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid intent id")
		return
	}
	intent, err := h.engine.GetIntent(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	ok(c, gin.H{"intent": intentView(intent)})
}

// ListMineHandler returns the caller's intents.
func (h *IntentHandler) ListMineHandler(c *gin.Context) {
	caller, okAddr := callerAddress(c)
	if !okAddr {
		return
	}
	intents, err := h.engine.ListIntentsByTaker(c.Request.Context(), caller)
	if err != nil {
		respondError(c, err)
		return
	}
	views := make([]gin.H, 0, len(intents))
	for _, it := range intents {
		views = append(views, intentView(it))
	}
	ok(c, gin.H{"intents": views})
}

type fulfillIntentRequest struct {
	// Proof is the verifier-specific payment proof payload.
	Proof json.RawMessage `json:"proof" binding:"required"`
}

// FulfillHandler settles an intent with a payment proof. Permissionless,
// the payout always goes to the intent's taker.
func (h *IntentHandler) FulfillHandler(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		fail(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid intent id")
		return
	}
	var req fulfillIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "INVALID_REQUEST", fmt.Sprintf("invalid request: %v", err))
		return
	}

	if err := h.engine.FulfillIntent(c.Request.Context(), id, req.Proof); err != nil {
		respondError(c, err)
		return
	}

	h.logger.WithField("intent_id", id).Info("Intent fulfilled")
	ok(c, gin.H{"intent_id": id, "status": string(escrow.IntentFulfilled)})
}

// CancelHandler lets the taker abandon an open intent.
func (h *IntentHandler) CancelHandler(c *gin.Context) {
	caller, okAddr := callerAddress(c)
	if !okAddr {
		return
	}
	id, err := parseID(c.Param("id"))
	if err != nil {
		fail(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid intent id")
		return
	}
	if err := h.engine.CancelIntent(c.Request.Context(), caller, id); err != nil {
		respondError(c, err)
		return
	}
	ok(c, gin.H{"intent_id": id, "status": string(escrow.IntentCancelled)})
}

// ExpireHandler reaps an intent past its deadline. Permissionless.
func (h *IntentHandler) ExpireHandler(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		fail(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid intent id")
		return
	}
	if err := h.engine.ExpireIntent(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	ok(c, gin.H{"intent_id": id, "status": string(escrow.IntentExpired)})
}

func intentView(it *escrow.Intent) gin.H {
	return gin.H{
		"id":              it.ID,
		"deposit_id":      it.DepositID,
		"taker":           it.Taker.Hex(),
		"verifier":        it.Verifier.Hex(),
		"currency":        it.Currency.Hex(),
		"amount":          it.Amount.String(),
		"conversion_rate": it.ConversionRate.String(),
		"status":          string(it.Status),
		"created_at":      it.CreatedAt,
		"expires_at":      it.ExpiresAt,
	}
}
