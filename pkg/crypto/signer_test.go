package crypto

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestGenerateKey(t *testing.T) {
	signer, err := GenerateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	if signer.Address() == (common.Address{}) {
		t.Error("generated zero address")
	}
}

func TestSignAndRecoverAddress(t *testing.T) {
	signer, _ := GenerateKey()

	hash := common.BytesToHash([]byte("Test message")).Bytes()
	signature, err := signer.Sign(hash)
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}
	if len(signature) != 65 {
		t.Errorf("signature length = %d, want 65", len(signature))
	}

	recoveredAddr, err := RecoverAddress(hash, signature)
	if err != nil {
		t.Fatalf("failed to recover address: %v", err)
	}
	if recoveredAddr != signer.Address() {
		t.Errorf("recovered address = %s, want %s", recoveredAddr.Hex(), signer.Address().Hex())
	}
}

func TestRecoverAddress_InvalidLengths(t *testing.T) {
	signer, _ := GenerateKey()
	hash := common.BytesToHash([]byte("test")).Bytes()
	signature, err := signer.Sign(hash)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if _, err := RecoverAddress(hash, signature[:3]); err == nil {
		t.Error("expected an error recovering from a truncated signature")
	}
	if _, err := RecoverAddress([]byte("short"), signature); err == nil {
		t.Error("expected an error recovering from a short hash")
	}
}
