package crypto

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/R3DRVM/BlossomV2/pkg/canonicalize"
	"github.com/R3DRVM/BlossomV2/pkg/contracts"
)

// SigPrefixJWS marks an intent signature carried as a compact EdDSA JWS instead of raw hex.
const SigPrefixJWS = "jws:"

// signingView is the signed form of an intent. Integers are carried as decimal strings because
// RFC 8785 numbers are IEEE 754 doubles and would collapse amounts above 2^53.
type signingView struct {
	ID        string `json:"id"`
	Actor     string `json:"actor"`
	Recipient string `json:"recipient,omitempty"`
	Amount    string `json:"amount"`
	Expiry    string `json:"expiry"`
	Memo      string `json:"memo,omitempty"`
}

// SigningPayload is the canonical byte string an intent signature covers:
// the RFC 8785 form of every field except the signature itself.
func SigningPayload(i contracts.Intent) ([]byte, error) {
	f := i.SigningFields()
	b, err := canonicalize.JCS(signingView{
		ID:        f.ID,
		Actor:     f.Actor,
		Recipient: f.Recipient,
		Amount:    strconv.FormatUint(f.Amount, 10),
		Expiry:    strconv.FormatInt(f.Expiry, 10),
		Memo:      f.Memo,
	})
	if err != nil {
		return nil, fmt.Errorf("canonical intent payload: %w", err)
	}
	return b, nil
}

// ParseActorKey decodes an actor identity into its Ed25519 public key.
func ParseActorKey(actor string) (ed25519.PublicKey, error) {
	b, err := hex.DecodeString(actor)
	if err != nil {
		return nil, fmt.Errorf("invalid public key hex: %w", err)
	}
	if len(b) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("invalid public key size: %d", len(b))
	}
	return ed25519.PublicKey(b), nil
}

// Verify verifies a signature against a public key.
func Verify(pubKeyHex, sigHex string, data []byte) (bool, error) {
	pubKey, err := ParseActorKey(pubKeyHex)
	if err != nil {
		return false, err
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return false, fmt.Errorf("invalid signature hex: %w", err)
	}
	if len(sig) != ed25519.SignatureSize {
		return false, fmt.Errorf("invalid signature size: %d", len(sig))
	}
	return ed25519.Verify(pubKey, data, sig), nil
}

// VerifyIntent is a pure predicate over (actor, signed payload). It returns an error only when the
// inputs are malformed; a well-formed but wrong signature yields (false, nil).
func VerifyIntent(i contracts.Intent) (bool, error) {
	if i.Signature == "" {
		return false, fmt.Errorf("missing signature")
	}
	if strings.HasPrefix(i.Signature, SigPrefixJWS) {
		return verifyIntentJWS(i)
	}
	payload, err := SigningPayload(i)
	if err != nil {
		return false, err
	}
	return Verify(i.Actor, i.Signature, payload)
}
