package core

import (
	"encoding/base64"
	"fmt"

	"github.com/mr-tron/base58"
)

const signatureLen = 64

// DecodeWireTransaction decodes an encoded wire transaction per spec.md §6
// (sendTransaction.encoding) and extracts its first signature, which is the
// transaction's identifier throughout this service. The wire format follows
// the compact-array convention used by the chain this service forwards for:
// a single leading byte giving the signature count (assumed <=127, the
// common case) followed by that many 64-byte signatures.
func DecodeWireTransaction(encoded, encoding string) (payload []byte, signature string, err error) {
	switch encoding {
	case "", "base58":
		payload, err = base58.Decode(encoded)
	case "base64":
		payload, err = base64.StdEncoding.DecodeString(encoded)
	default:
		return nil, "", fmt.Errorf("unsupported encoding %q", encoding)
	}
	if err != nil {
		return nil, "", fmt.Errorf("decode transaction: %w", err)
	}

	sig, err := firstSignature(payload)
	if err != nil {
		return nil, "", err
	}
	return payload, sig, nil
}

// firstSignature extracts and base58-encodes the first signature from a
// decoded wire transaction.
func firstSignature(payload []byte) (string, error) {
	if len(payload) < 1 {
		return "", fmt.Errorf("decode transaction: empty payload")
	}
	count := int(payload[0])
	if count == 0 {
		return "", fmt.Errorf("decode transaction: zero signatures")
	}
	need := 1 + signatureLen
	if len(payload) < need {
		return "", fmt.Errorf("decode transaction: too short for a signature")
	}
	return base58.Encode(payload[1 : 1+signatureLen]), nil
}
