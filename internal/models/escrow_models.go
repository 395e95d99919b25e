// Escrow database models, one table per persisted aggregate. Amounts and
// rates are stored as decimal strings so uint256 values round-trip without
// precision loss.
package models

import "time"

// Deposit is a pooled liquidity row. IDs are assigned by the engine from
// the monotonic counter table, not by the database.
type Deposit struct {
	ID              uint64    `json:"id" gorm:"primaryKey;autoIncrement:false"`
	Depositor       string    `json:"depositor" gorm:"type:varchar(42);index;not null"`
	Token           string    `json:"token" gorm:"type:varchar(42);not null"`
	RemainingAmount string    `json:"remaining_amount" gorm:"not null"`
	IntentMinAmount string    `json:"intent_min_amount" gorm:"not null"`
	IntentMaxAmount string    `json:"intent_max_amount" gorm:"not null"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`

	Verifiers []DepositVerifier     `json:"verifiers" gorm:"foreignKey:DepositID;constraint:OnDelete:CASCADE"`
	Rates     []DepositCurrencyRate `json:"rates" gorm:"foreignKey:DepositID;constraint:OnDelete:CASCADE"`
}

// DepositVerifier stores one verifier authorization on a deposit: the payee
// identification the proof must match and opaque verifier data (for the
// reclaim scheme, the ABI-encoded witness address list).
type DepositVerifier struct {
	ID           uint64 `json:"id" gorm:"primaryKey;autoIncrement"`
	DepositID    uint64 `json:"deposit_id" gorm:"index:idx_deposit_verifier,unique;not null"`
	Verifier     string `json:"verifier" gorm:"type:varchar(42);index:idx_deposit_verifier,unique;not null"`
	PayeeDetails string `json:"payee_details" gorm:"not null"`
	Data         []byte `json:"data" gorm:"type:bytea"`
}

// DepositCurrencyRate stores one currency conversion rate (1e18 fixed
// point) under one verifier of one deposit.
type DepositCurrencyRate struct {
	ID        uint64 `json:"id" gorm:"primaryKey;autoIncrement"`
	DepositID uint64 `json:"deposit_id" gorm:"index:idx_deposit_currency,unique;not null"`
	Verifier  string `json:"verifier" gorm:"type:varchar(42);index:idx_deposit_currency,unique;not null"`
	Currency  string `json:"currency" gorm:"type:varchar(66);index:idx_deposit_currency,unique;not null"`
	Rate      string `json:"rate" gorm:"not null"`
}

// Intent is a reservation against a deposit at a frozen rate.
type Intent struct {
	ID             uint64    `json:"id" gorm:"primaryKey;autoIncrement:false"`
	DepositID      uint64    `json:"deposit_id" gorm:"index;not null"`
	Taker          string    `json:"taker" gorm:"type:varchar(42);index;not null"`
	Verifier       string    `json:"verifier" gorm:"type:varchar(42);not null"`
	Currency       string    `json:"currency" gorm:"type:varchar(66);not null"`
	Amount         string    `json:"amount" gorm:"not null"`
	ConversionRate string    `json:"conversion_rate" gorm:"not null"`
	Status         string    `json:"status" gorm:"type:varchar(16);index;not null"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at" gorm:"index;not null"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Nullifier marks a consumed proof identifier. Row presence is consumption;
// rows are never deleted.
type Nullifier struct {
	Hash      string    `json:"hash" gorm:"type:varchar(66);primaryKey"`
	CreatedAt time.Time `json:"created_at"`
}

// RegistryWriter is a principal allowed to record nullifiers.
type RegistryWriter struct {
	Address   string    `json:"address" gorm:"type:varchar(42);primaryKey"`
	CreatedAt time.Time `json:"created_at"`
}

// WhitelistedVerifier is a payment verifier admitted by the escrow owner.
type WhitelistedVerifier struct {
	Address   string    `json:"address" gorm:"type:varchar(42);primaryKey"`
	CreatedAt time.Time `json:"created_at"`
}

// EscrowRegistration records that a verifier serves an escrow instance
// (the verifier-side addEscrow wiring).
type EscrowRegistration struct {
	ID        uint64    `json:"id" gorm:"primaryKey;autoIncrement"`
	Verifier  string    `json:"verifier" gorm:"type:varchar(42);index:idx_verifier_escrow,unique;not null"`
	Escrow    string    `json:"escrow" gorm:"type:varchar(42);index:idx_verifier_escrow,unique;not null"`
	CreatedAt time.Time `json:"created_at"`
}

// Counter is a named monotonic ID sequence shared by deposits and intents.
type Counter struct {
	Name  string `json:"name" gorm:"type:varchar(32);primaryKey"`
	Value uint64 `json:"value" gorm:"not null"`
}
