package handlers

import (
	"fmt"
	"math/big"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/ModoriLabs/zk-escrow/internal/escrow"
	"github.com/ModoriLabs/zk-escrow/internal/middleware"
	"github.com/ModoriLabs/zk-escrow/internal/utils"
)

// DepositHandler exposes deposit lifecycle endpoints.
type DepositHandler struct {
	engine *escrow.Engine
	logger *logrus.Logger
}

func NewDepositHandler(engine *escrow.Engine, logger *logrus.Logger) *DepositHandler {
	return &DepositHandler{engine: engine, logger: logger}
}

type currencyRateRequest struct {
	// Code is an ISO currency code, e.g. "KRW".
	Code string `json:"code" binding:"required"`
	// Rate is a decimal 1e18 fixed-point string.
	Rate string `json:"rate" binding:"required"`
}

type verifierSpecRequest struct {
	Address      string                `json:"address" binding:"required"`
	PayeeDetails string                `json:"payee_details" binding:"required"`
	Data         string                `json:"data"`
	Currencies   []currencyRateRequest `json:"currencies" binding:"required"`
}

type createDepositRequest struct {
	Token     string                `json:"token" binding:"required"`
	Amount    string                `json:"amount" binding:"required"`
	MinIntent string                `json:"min_intent_amount" binding:"required"`
	MaxIntent string                `json:"max_intent_amount" binding:"required"`
	Verifiers []verifierSpecRequest `json:"verifiers" binding:"required"`
}

// CreateHandler pulls tokens from the caller and opens a deposit.
func (h *DepositHandler) CreateHandler(c *gin.Context) {
	caller, okAddr := callerAddress(c)
	if !okAddr {
		return
	}

	var req createDepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "INVALID_REQUEST", fmt.Sprintf("invalid request: %v", err))
		return
	}

	token, err := utils.ParseAddress(req.Token)
	if err != nil {
		fail(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid token address")
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		fail(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	rng, err := parseRange(req.MinIntent, req.MaxIntent)
	if err != nil {
		fail(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	specs, err := parseVerifierSpecs(req.Verifiers)
	if err != nil {
		fail(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	deposit, err := h.engine.CreateDeposit(c.Request.Context(), caller, token, amount, rng, specs)
	if err != nil {
		respondError(c, err)
		return
	}

	h.logger.WithFields(logrus.Fields{
		"deposit_id": deposit.ID,
		"depositor":  caller.Hex(),
		"amount":     amount.String(),
	}).Info("Deposit created")

	ok(c, gin.H{"deposit": depositView(deposit)})
}

// GetHandler returns one deposit.
func (h *DepositHandler) GetHandler(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		fail(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid deposit id")
		return
	}
	deposit, err := h.engine.GetDeposit(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	ok(c, gin.H{"deposit": depositView(deposit)})
}

// ListHandler returns all active deposits.
func (h *DepositHandler) ListHandler(c *gin.Context) {
	deposits, err := h.engine.ListDeposits(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	views := make([]gin.H, 0, len(deposits))
	for _, d := range deposits {
		views = append(views, depositView(d))
	}
	ok(c, gin.H{"deposits": views})
}

type increaseDepositRequest struct {
	Amount string `json:"amount" binding:"required"`
}

// IncreaseHandler adds liquidity to an existing deposit.
func (h *DepositHandler) IncreaseHandler(c *gin.Context) {
	caller, okAddr := callerAddress(c)
	if !okAddr {
		return
	}
	id, err := parseID(c.Param("id"))
	if err != nil {
		fail(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid deposit id")
		return
	}
	var req increaseDepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "INVALID_REQUEST", fmt.Sprintf("invalid request: %v", err))
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		fail(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	if err := h.engine.IncreaseDeposit(c.Request.Context(), caller, id, amount); err != nil {
		respondError(c, err)
		return
	}
	ok(c, gin.H{"deposit_id": id})
}

type intentRangeRequest struct {
	MinIntent string `json:"min_intent_amount" binding:"required"`
	MaxIntent string `json:"max_intent_amount" binding:"required"`
}

// IntentRangeHandler updates the per-intent amount bounds.
func (h *DepositHandler) IntentRangeHandler(c *gin.Context) {
	caller, okAddr := callerAddress(c)
	if !okAddr {
		return
	}
	id, err := parseID(c.Param("id"))
	if err != nil {
		fail(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid deposit id")
		return
	}
	var req intentRangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "INVALID_REQUEST", fmt.Sprintf("invalid request: %v", err))
		return
	}
	rng, err := parseRange(req.MinIntent, req.MaxIntent)
	if err != nil {
		fail(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	if err := h.engine.UpdateDepositIntentAmountRange(c.Request.Context(), caller, id, rng); err != nil {
		respondError(c, err)
		return
	}
	ok(c, gin.H{"deposit_id": id})
}

type conversionRateRequest struct {
	Verifier string `json:"verifier" binding:"required"`
	Currency string `json:"currency" binding:"required"`
	Rate     string `json:"rate" binding:"required"`
}

// ConversionRateHandler repricess one currency on one verifier. Open
// intents keep their frozen rate.
func (h *DepositHandler) ConversionRateHandler(c *gin.Context) {
	caller, okAddr := callerAddress(c)
	if !okAddr {
		return
	}
	id, err := parseID(c.Param("id"))
	if err != nil {
		fail(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid deposit id")
		return
	}
	var req conversionRateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "INVALID_REQUEST", fmt.Sprintf("invalid request: %v", err))
		return
	}
	verifier, err := utils.ParseAddress(req.Verifier)
	if err != nil {
		fail(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid verifier address")
		return
	}
	rate, err := parseAmount(req.Rate)
	if err != nil {
		fail(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	currency := utils.CurrencyHash(req.Currency)
	if err := h.engine.UpdateDepositConversionRate(c.Request.Context(), caller, id, verifier, currency, rate); err != nil {
		respondError(c, err)
		return
	}
	ok(c, gin.H{"deposit_id": id})
}

// WithdrawHandler returns the unreserved remainder to the depositor.
func (h *DepositHandler) WithdrawHandler(c *gin.Context) {
	caller, okAddr := callerAddress(c)
	if !okAddr {
		return
	}
	id, err := parseID(c.Param("id"))
	if err != nil {
		fail(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid deposit id")
		return
	}
	amount, err := h.engine.WithdrawDeposit(c.Request.Context(), caller, id)
	if err != nil {
		respondError(c, err)
		return
	}
	h.logger.WithFields(logrus.Fields{
		"deposit_id": id,
		"amount":     amount.String(),
	}).Info("Deposit withdrawn")
	ok(c, gin.H{"deposit_id": id, "amount": amount.String()})
}

func depositView(d *escrow.Deposit) gin.H {
	verifiers := make([]gin.H, 0, len(d.Verifiers))
	for addr, cfg := range d.Verifiers {
		rates := make([]gin.H, 0, len(cfg.Rates))
		for code, rate := range cfg.Rates {
			rates = append(rates, gin.H{
				"currency": code.Hex(),
				"rate":     rate.String(),
			})
		}
		verifiers = append(verifiers, gin.H{
			"address":       addr.Hex(),
			"payee_details": cfg.PayeeDetails,
			"data":          hexutil.Encode(cfg.Data),
			"rates":         rates,
		})
	}
	return gin.H{
		"id":                d.ID,
		"depositor":         d.Depositor.Hex(),
		"token":             d.Token.Hex(),
		"remaining_amount":  d.RemainingAmount.String(),
		"min_intent_amount": d.IntentAmountRange.Min.String(),
		"max_intent_amount": d.IntentAmountRange.Max.String(),
		"verifiers":         verifiers,
		"created_at":        d.CreatedAt,
	}
}

func parseVerifierSpecs(reqs []verifierSpecRequest) ([]escrow.VerifierSpec, error) {
	specs := make([]escrow.VerifierSpec, 0, len(reqs))
	for _, vr := range reqs {
		addr, err := utils.ParseAddress(vr.Address)
		if err != nil {
			return nil, fmt.Errorf("invalid verifier address %q", vr.Address)
		}
		var data []byte
		if vr.Data != "" {
			data, err = hexutil.Decode(vr.Data)
			if err != nil {
				return nil, fmt.Errorf("invalid verifier data: %w", err)
			}
		}
		rates := make([]escrow.CurrencyRate, 0, len(vr.Currencies))
		for _, cr := range vr.Currencies {
			rate, err := parseAmount(cr.Rate)
			if err != nil {
				return nil, fmt.Errorf("currency %s: %w", cr.Code, err)
			}
			rates = append(rates, escrow.CurrencyRate{
				Code: utils.CurrencyHash(cr.Code),
				Rate: rate,
			})
		}
		specs = append(specs, escrow.VerifierSpec{
			Address:      addr,
			PayeeDetails: vr.PayeeDetails,
			Data:         data,
			Currencies:   rates,
		})
	}
	return specs, nil
}

func callerAddress(c *gin.Context) (common.Address, bool) {
	raw, found := middleware.CallerAddress(c)
	if !found {
		fail(c, http.StatusUnauthorized, "MISSING_AUTH", "authentication required")
		return common.Address{}, false
	}
	addr, err := utils.ParseAddress(raw)
	if err != nil {
		fail(c, http.StatusUnauthorized, "INVALID_TOKEN", "invalid caller address")
		return common.Address{}, false
	}
	return addr, true
}

func parseAmount(s string) (*big.Int, error) {
	v, okParse := new(big.Int).SetString(s, 10)
	if !okParse {
		return nil, fmt.Errorf("invalid decimal amount %q", s)
	}
	return v, nil
}

func parseRange(minStr, maxStr string) (escrow.AmountRange, error) {
	minAmt, err := parseAmount(minStr)
	if err != nil {
		return escrow.AmountRange{}, err
	}
	maxAmt, err := parseAmount(maxStr)
	if err != nil {
		return escrow.AmountRange{}, err
	}
	return escrow.AmountRange{Min: minAmt, Max: maxAmt}, nil
}

func parseID(s string) (uint64, error) {
	return strconv.ParseUint(s, 10, 64)
}
