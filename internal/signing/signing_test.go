package signing

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

// Throwaway key for tests only.
const testKey = "0x59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"

var (
	testContract = common.HexToAddress("0x000000000000000000000000000000000000beef")
	testMerchant = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
)

func newTestSigner(t *testing.T, chainID int64, contract common.Address) *Signer {
	t.Helper()
	s, err := NewSigner(testKey, Domain{ChainID: chainID, VerifyingContract: contract})
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	return s
}

func TestNewCorrelationID_UniqueAndNonZero(t *testing.T) {
	seen := make(map[common.Hash]bool)
	for i := 0; i < 100; i++ {
		id, err := NewCorrelationID()
		if err != nil {
			t.Fatalf("NewCorrelationID: %v", err)
		}
		if id == (common.Hash{}) {
			t.Fatal("correlation id is zero")
		}
		if seen[id] {
			t.Fatalf("duplicate correlation id: %s", id.Hex())
		}
		seen[id] = true
	}
}

func TestParseCorrelationID(t *testing.T) {
	id, err := NewCorrelationID()
	if err != nil {
		t.Fatal(err)
	}

	parsed, err := ParseCorrelationID(id.Hex())
	if err != nil {
		t.Fatalf("ParseCorrelationID(%s): %v", id.Hex(), err)
	}
	if parsed != id {
		t.Errorf("round trip mismatch: %s != %s", parsed.Hex(), id.Hex())
	}

	bad := []string{
		"",
		"0x",
		"deadbeef",
		"0xdeadbeef",                          // too short
		id.Hex() + "00",                       // too long
		"0x" + "zz" + id.Hex()[4:],            // non-hex
	}
	for _, s := range bad {
		if _, err := ParseCorrelationID(s); err == nil {
			t.Errorf("ParseCorrelationID(%q): expected error", s)
		}
	}
}

func TestSignInvoice_Shape(t *testing.T) {
	s := newTestSigner(t, 42431, testContract)
	id, _ := NewCorrelationID()

	sig, err := s.SignInvoice(id, testMerchant, big.NewInt(1000_000000), 1893456000)
	if err != nil {
		t.Fatalf("SignInvoice: %v", err)
	}
	if len(sig) != 65 {
		t.Fatalf("signature length = %d, want 65", len(sig))
	}
	if v := sig[64]; v != 27 && v != 28 {
		t.Errorf("recovery id = %d, want 27 or 28", v)
	}
}

func TestSignInvoice_DeterministicPerInput(t *testing.T) {
	s := newTestSigner(t, 42431, testContract)
	id, _ := NewCorrelationID()

	a, err := s.SignInvoice(id, testMerchant, big.NewInt(500_000000), 1893456000)
	if err != nil {
		t.Fatal(err)
	}
	b, err := s.SignInvoice(id, testMerchant, big.NewInt(500_000000), 1893456000)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Error("same input produced different signatures")
	}

	c, err := s.SignInvoice(id, testMerchant, big.NewInt(500_000001), 1893456000)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(a, c) {
		t.Error("different price produced identical signature")
	}
}

func TestSignInvoice_DomainSeparation(t *testing.T) {
	id, _ := NewCorrelationID()
	price := big.NewInt(1000_000000)
	var due uint64 = 1893456000

	base := newTestSigner(t, 42431, testContract)
	otherChain := newTestSigner(t, 1, testContract)
	otherContract := newTestSigner(t, 42431, common.HexToAddress("0x000000000000000000000000000000000000dead"))

	sigBase, err := base.SignInvoice(id, testMerchant, price, due)
	if err != nil {
		t.Fatal(err)
	}
	sigChain, err := otherChain.SignInvoice(id, testMerchant, price, due)
	if err != nil {
		t.Fatal(err)
	}
	sigContract, err := otherContract.SignInvoice(id, testMerchant, price, due)
	if err != nil {
		t.Fatal(err)
	}

	if bytes.Equal(sigBase, sigChain) {
		t.Error("signature not separated by chain id")
	}
	if bytes.Equal(sigBase, sigContract) {
		t.Error("signature not separated by verifying contract")
	}
}

func TestNewSigner_InvalidKey(t *testing.T) {
	for _, k := range []string{"", "0x", "nothex", "0x1234"} {
		if _, err := NewSigner(k, Domain{ChainID: 1, VerifyingContract: testContract}); err == nil {
			t.Errorf("NewSigner(%q): expected error", k)
		}
	}
}
