// Package verifier implements payment proof validation, one scheme per
// fiat rail. The reclaim scheme checks zkTLS witness attestations over a
// bank transfer record.
package verifier

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// mustNewType creates an ABI type, panicking on error (package-level use only).
func mustNewType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(fmt.Sprintf("failed to create ABI type %s: %v", t, err))
	}
	return typ
}

var witnessListArgs = abi.Arguments{
	{Name: "witnesses", Type: mustNewType("address[]")},
}

// EncodeWitnesses ABI-encodes a witness address list for storage as deposit
// verifier data.
func EncodeWitnesses(witnesses []common.Address) ([]byte, error) {
	return witnessListArgs.Pack(witnesses)
}

// DecodeWitnesses decodes the deposit's verifier data back into the witness
// set permitted to attest payments for that deposit.
func DecodeWitnesses(data []byte) ([]common.Address, error) {
	values, err := witnessListArgs.Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("decode witness list: %w", err)
	}
	witnesses, ok := values[0].([]common.Address)
	if !ok {
		return nil, fmt.Errorf("decode witness list: unexpected type %T", values[0])
	}
	return witnesses, nil
}

// ClaimInfo is the attested TLS session description. Its keccak hash is the
// claim identifier the witnesses signed over.
type ClaimInfo struct {
	Provider   string `json:"provider"`
	Parameters string `json:"parameters"`
	Context    string `json:"context"`
}

// Identifier recomputes the claim identifier:
// keccak256("provider\nparameters\ncontext").
func (c ClaimInfo) Identifier() common.Hash {
	serialized := strings.Join([]string{c.Provider, c.Parameters, c.Context}, "\n")
	return crypto.Keccak256Hash([]byte(serialized))
}

// ClaimData is the witness-signed payload.
type ClaimData struct {
	Identifier common.Hash    `json:"identifier"`
	Owner      common.Address `json:"owner"`
	TimestampS uint64         `json:"timestampS"`
	Epoch      uint64         `json:"epoch"`
}

// SignedClaim couples the claim with the witness signatures over it.
type SignedClaim struct {
	Claim      ClaimData       `json:"claim"`
	Signatures []hexutil.Bytes `json:"signatures"`
}

// ReclaimProof is the wire format takers submit to fulfill an intent.
type ReclaimProof struct {
	ClaimInfo   ClaimInfo   `json:"claimInfo"`
	SignedClaim SignedClaim `json:"signedClaim"`
}

// ParseReclaimProof decodes the JSON proof blob.
func ParseReclaimProof(raw []byte) (*ReclaimProof, error) {
	var proof ReclaimProof
	if err := json.Unmarshal(raw, &proof); err != nil {
		return nil, fmt.Errorf("parse reclaim proof: %w", err)
	}
	return &proof, nil
}

// SignedMessage returns the byte string the witnesses signed:
// "identifier\nowner\ntimestampS\nepoch" with a lower-case hex owner.
func (s SignedClaim) SignedMessage() []byte {
	serialized := strings.Join([]string{
		s.Claim.Identifier.Hex(),
		strings.ToLower(s.Claim.Owner.Hex()),
		strconv.FormatUint(s.Claim.TimestampS, 10),
		strconv.FormatUint(s.Claim.Epoch, 10),
	}, "\n")
	return []byte(serialized)
}

// RecoverSigners recovers the witness addresses from the claim signatures.
// Signatures are over the Ethereum signed-message hash of SignedMessage.
func (s SignedClaim) RecoverSigners() ([]common.Address, error) {
	if len(s.Signatures) == 0 {
		return nil, fmt.Errorf("claim carries no signatures")
	}
	digest := accounts.TextHash(s.SignedMessage())
	out := make([]common.Address, 0, len(s.Signatures))
	for i, sig := range s.Signatures {
		if len(sig) != crypto.SignatureLength {
			return nil, fmt.Errorf("signature %d: unexpected length %d", i, len(sig))
		}
		// Accept both 27/28 and 0/1 recovery ids.
		norm := make([]byte, crypto.SignatureLength)
		copy(norm, sig)
		if norm[64] >= 27 {
			norm[64] -= 27
		}
		pub, err := crypto.SigToPub(digest, norm)
		if err != nil {
			return nil, fmt.Errorf("signature %d: %w", i, err)
		}
		out = append(out, crypto.PubkeyToAddress(*pub))
	}
	return out, nil
}

// Nullifier derives the unique consumption identifier of the proof from the
// claim identifier, which in turn commits to the attested session.
func (p *ReclaimProof) Nullifier() common.Hash {
	return crypto.Keccak256Hash(p.SignedClaim.Claim.Identifier.Bytes())
}

// PaymentDetails are the fields extracted from the claim context that the
// verifier matches against the intent.
type PaymentDetails struct {
	Amount           *big.Int
	CurrencyCode     string
	ReceivingAccount string
	PaidAt           time.Time
	ProviderHash     string
}

type claimContext struct {
	ExtractedParameters struct {
		Amount           string `json:"amount"`
		Currency         string `json:"currency"`
		ReceivingAccount string `json:"receivingAccount"`
		Date             string `json:"date"`
	} `json:"extractedParameters"`
	ProviderHash string `json:"providerHash"`
}

// ExtractPaymentDetails parses the claim context JSON. Fractional fiat
// amounts truncate toward zero, which can only understate the payment.
func (p *ReclaimProof) ExtractPaymentDetails() (*PaymentDetails, error) {
	var cc claimContext
	if err := json.Unmarshal([]byte(p.ClaimInfo.Context), &cc); err != nil {
		return nil, fmt.Errorf("parse claim context: %w", err)
	}
	ep := cc.ExtractedParameters

	amount, err := parseFiatAmount(ep.Amount)
	if err != nil {
		return nil, err
	}
	if ep.Currency == "" {
		return nil, fmt.Errorf("claim context missing currency")
	}
	if ep.ReceivingAccount == "" {
		return nil, fmt.Errorf("claim context missing receiving account")
	}
	paidAt, err := time.Parse(time.RFC3339, ep.Date)
	if err != nil {
		return nil, fmt.Errorf("parse payment date: %w", err)
	}
	return &PaymentDetails{
		Amount:           amount,
		CurrencyCode:     ep.Currency,
		ReceivingAccount: ep.ReceivingAccount,
		PaidAt:           paidAt,
		ProviderHash:     cc.ProviderHash,
	}, nil
}

func parseFiatAmount(s string) (*big.Int, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return nil, fmt.Errorf("claim context missing amount")
	}
	if i := strings.IndexByte(s, '.'); i >= 0 {
		s = s[:i]
	}
	amount, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("malformed fiat amount %q", s)
	}
	return amount, nil
}
