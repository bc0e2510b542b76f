package core

import (
	"encoding/base64"
	"testing"

	"github.com/mr-tron/base58"
)

func wireBytes(sigCount int) []byte {
	out := []byte{byte(sigCount)}
	for i := 0; i < sigCount; i++ {
		sig := make([]byte, signatureLen)
		for j := range sig {
			sig[j] = byte(i + 1)
		}
		out = append(out, sig...)
	}
	return out
}

func TestDecodeWireTransactionBase58Default(t *testing.T) {
	raw := wireBytes(1)
	encoded := base58.Encode(raw)

	payload, sig, err := DecodeWireTransaction(encoded, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(payload) != string(raw) {
		t.Fatalf("payload mismatch")
	}
	wantSig := base58.Encode(raw[1 : 1+signatureLen])
	if sig != wantSig {
		t.Fatalf("signature mismatch: got %s want %s", sig, wantSig)
	}
}

func TestDecodeWireTransactionBase64(t *testing.T) {
	raw := wireBytes(2)
	encoded := base64.StdEncoding.EncodeToString(raw)

	_, sig, err := DecodeWireTransaction(encoded, "base64")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wantSig := base58.Encode(raw[1 : 1+signatureLen])
	if sig != wantSig {
		t.Fatalf("signature mismatch: got %s want %s", sig, wantSig)
	}
}

func TestDecodeWireTransactionUnsupportedEncoding(t *testing.T) {
	if _, _, err := DecodeWireTransaction("xx", "hex"); err == nil {
		t.Fatal("expected error for unsupported encoding")
	}
}

func TestDecodeWireTransactionTooShort(t *testing.T) {
	encoded := base58.Encode([]byte{0x01, 0x02, 0x03})
	if _, _, err := DecodeWireTransaction(encoded, "base58"); err == nil {
		t.Fatal("expected error for truncated payload")
	}
}

func TestDecodeWireTransactionZeroSignatures(t *testing.T) {
	encoded := base58.Encode([]byte{0x00})
	if _, _, err := DecodeWireTransaction(encoded, "base58"); err == nil {
		t.Fatal("expected error for zero-signature payload")
	}
}

func TestDecodeWireTransactionBadBase58(t *testing.T) {
	if _, _, err := DecodeWireTransaction("not-valid-base58-0OIl", "base58"); err == nil {
		t.Fatal("expected decode error")
	}
}
