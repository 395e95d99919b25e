package escrow

import "errors"

// Engine errors. Every operation detects its failure before mutating state,
// so any returned error implies no state change.
var (
	// Validation failures, the caller's fault.
	ErrInvalidAmount        = errors.New("escrow: amount must be positive")
	ErrInvalidRange         = errors.New("escrow: invalid intent amount range")
	ErrAmountOutOfRange     = errors.New("escrow: amount outside deposit intent range")
	ErrCurrencyNotSupported = errors.New("escrow: currency not supported by deposit verifier")

	// Authorization failures.
	ErrUnauthorized          = errors.New("escrow: caller not authorized")
	ErrVerifierNotAuthorized = errors.New("escrow: payment verifier not authorized")

	// Lookup failures.
	ErrDepositNotFound = errors.New("escrow: deposit not found")
	ErrIntentNotFound  = errors.New("escrow: intent not found")

	// Liquidity failure.
	ErrInsufficientLiquidity = errors.New("escrow: insufficient remaining deposit liquidity")

	// External asset ledger failure; the operation is fully reverted.
	ErrTransferFailed = errors.New("escrow: asset transfer failed")

	// Intent lifecycle failures.
	ErrIntentNotOpen    = errors.New("escrow: intent is in a terminal state")
	ErrIntentExpired    = errors.New("escrow: intent has expired")
	ErrIntentNotExpired = errors.New("escrow: intent has not expired yet")
)

// Verifier errors, surfaced through FulfillIntent. The intent stays OPEN on
// any of these; the taker may retry with a corrected proof.
var (
	ErrIntentNotEligible   = errors.New("verifier: intent not eligible for this verifier")
	ErrEscrowNotRegistered = errors.New("verifier: escrow not registered with verifier")
	ErrProofMismatch       = errors.New("verifier: proof does not match intent")
	ErrInsufficientPayment = errors.New("verifier: claimed fiat amount below required")
	ErrPaymentReplayed     = errors.New("verifier: payment proof already used")
)
