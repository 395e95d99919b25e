// Package handlers implements the HTTP API on top of the escrow engine.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ModoriLabs/zk-escrow/internal/escrow"
	"github.com/ModoriLabs/zk-escrow/internal/registry"
)

func ok(c *gin.Context, data gin.H) {
	body := gin.H{"success": true}
	for k, v := range data {
		body[k] = v
	}
	c.JSON(http.StatusOK, body)
}

func fail(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{
		"success": false,
		"error":   message,
		"code":    code,
	})
}

// respondError maps domain sentinel errors onto HTTP statuses.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, escrow.ErrDepositNotFound),
		errors.Is(err, escrow.ErrIntentNotFound):
		fail(c, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, escrow.ErrUnauthorized),
		errors.Is(err, registry.ErrNotOwner),
		errors.Is(err, registry.ErrNotWriter):
		fail(c, http.StatusForbidden, "FORBIDDEN", err.Error())
	case errors.Is(err, escrow.ErrInvalidAmount),
		errors.Is(err, escrow.ErrInvalidRange),
		errors.Is(err, escrow.ErrAmountOutOfRange),
		errors.Is(err, escrow.ErrCurrencyNotSupported),
		errors.Is(err, escrow.ErrVerifierNotAuthorized):
		fail(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
	case errors.Is(err, escrow.ErrInsufficientLiquidity):
		fail(c, http.StatusConflict, "INSUFFICIENT_LIQUIDITY", err.Error())
	case errors.Is(err, escrow.ErrIntentNotOpen),
		errors.Is(err, escrow.ErrIntentExpired),
		errors.Is(err, escrow.ErrIntentNotExpired):
		fail(c, http.StatusConflict, "INTENT_STATE", err.Error())
	case errors.Is(err, escrow.ErrPaymentReplayed),
		errors.Is(err, registry.ErrNullifierAlreadyUsed):
		fail(c, http.StatusConflict, "PAYMENT_REPLAYED", err.Error())
	case errors.Is(err, escrow.ErrInsufficientPayment),
		errors.Is(err, escrow.ErrProofMismatch),
		errors.Is(err, escrow.ErrIntentNotEligible),
		errors.Is(err, escrow.ErrEscrowNotRegistered):
		fail(c, http.StatusUnprocessableEntity, "PROOF_REJECTED", err.Error())
	case errors.Is(err, escrow.ErrTransferFailed):
		fail(c, http.StatusBadGateway, "TRANSFER_FAILED", err.Error())
	default:
		fail(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
}
