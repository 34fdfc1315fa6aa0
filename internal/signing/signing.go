// Package signing generates correlation identifiers and the EIP-712
// typed-data signature over invoice terms.
//
// The signature binds the invoice fields to a chain- and contract-scoped
// domain so it cannot be replayed against a different deployment.
// Verification happens only inside the LoanManager contract; this
// package's contract is solely to produce a correct, deterministic
// signature for a given input and signing key.
package signing

import (
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// EIP-712 domain constants. These must match the LoanManager deployment.
const (
	DomainName    = "YieldDiscountBNPL"
	DomainVersion = "1"
)

// NewCorrelationID draws a fresh 32-byte identifier from the platform
// CSPRNG. Collision probability is negligible at 256 bits; deterministic
// or sequential schemes must never be substituted here because the id
// doubles as the on-ledger loan key and the settlement idempotency anchor.
func NewCorrelationID() (common.Hash, error) {
	var id common.Hash
	if _, err := rand.Read(id[:]); err != nil {
		return common.Hash{}, fmt.Errorf("signing: generate correlation id: %w", err)
	}
	return id, nil
}

// ParseCorrelationID validates and decodes a 0x-prefixed 32-byte hex
// string. Unlike common.HexToHash it rejects malformed input instead of
// truncating or left-padding it.
func ParseCorrelationID(s string) (common.Hash, error) {
	if len(s) != 66 || !strings.HasPrefix(s, "0x") {
		return common.Hash{}, fmt.Errorf("signing: correlation id must be bytes32 hex, got %q", s)
	}
	for _, c := range s[2:] {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return common.Hash{}, fmt.Errorf("signing: correlation id must be bytes32 hex, got %q", s)
		}
	}
	return common.HexToHash(s), nil
}

// Domain scopes signatures to one chain and one verifying contract.
type Domain struct {
	ChainID           int64
	VerifyingContract common.Address
}

// Signer holds the dedicated invoice-signing credential. This key is
// distinct from any merchant key; merchants never sign invoice terms.
type Signer struct {
	key    *ecdsa.PrivateKey
	domain apitypes.TypedDataDomain
}

// NewSigner parses a hex-encoded private key (with or without 0x prefix)
// and binds it to the given domain.
func NewSigner(privateKeyHex string, domain Domain) (*Signer, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("signing: invalid signer key: %w", err)
	}
	return &Signer{
		key: key,
		domain: apitypes.TypedDataDomain{
			Name:              DomainName,
			Version:           DomainVersion,
			ChainId:           math.NewHexOrDecimal256(domain.ChainID),
			VerifyingContract: domain.VerifyingContract.Hex(),
		},
	}, nil
}

// Address returns the signer's account address.
func (s *Signer) Address() common.Address {
	return crypto.PubkeyToAddress(s.key.PublicKey)
}

// SignInvoice produces the 65-byte r||s||v signature (v in {27, 28}) over
// the InvoiceData struct. The output is deterministic per input and is
// computed exactly once per invoice, at creation time.
func (s *Signer) SignInvoice(correlationID common.Hash, merchant common.Address, price *big.Int, dueTimestamp uint64) ([]byte, error) {
	typed := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"InvoiceData": {
				{Name: "correlationId", Type: "bytes32"},
				{Name: "merchant", Type: "address"},
				{Name: "price", Type: "uint256"},
				{Name: "dueTimestamp", Type: "uint64"},
			},
		},
		PrimaryType: "InvoiceData",
		Domain:      s.domain,
		Message: apitypes.TypedDataMessage{
			"correlationId": correlationID.Hex(),
			"merchant":      merchant.Hex(),
			"price":         (*math.HexOrDecimal256)(new(big.Int).Set(price)),
			"dueTimestamp":  math.NewHexOrDecimal256(int64(dueTimestamp)),
		},
	}

	digest, _, err := apitypes.TypedDataAndHash(typed)
	if err != nil {
		return nil, fmt.Errorf("signing: hash invoice terms: %w", err)
	}

	sig, err := crypto.Sign(digest, s.key)
	if err != nil {
		return nil, fmt.Errorf("signing: sign invoice: %w", err)
	}

	// Contracts expect the Ethereum recovery id convention.
	sig[64] += 27
	return sig, nil
}
