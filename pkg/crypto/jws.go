package crypto

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/R3DRVM/BlossomV2/pkg/contracts"
)

// IntentClaims carries an intent inside a compact JWS. Expiry is a logical timestamp and is
// judged by the validator, so the registered exp/nbf claims are never set.
type IntentClaims struct {
	jwt.RegisteredClaims
	Recipient string `json:"recipient,omitempty"`
	Amount    uint64 `json:"amount"`
	Expiry    int64  `json:"expiry"`
	Memo      string `json:"memo,omitempty"`
}

func claimsFor(i contracts.Intent) IntentClaims {
	return IntentClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:      i.ID,
			Subject: i.Actor,
		},
		Recipient: i.Recipient,
		Amount:    i.Amount,
		Expiry:    i.Expiry,
		Memo:      i.Memo,
	}
}

// SignIntentJWS signs i as an EdDSA JWS and stores it as the intent signature.
func (s *Ed25519Signer) SignIntentJWS(i *contracts.Intent) error {
	if err := s.claimActor(i); err != nil {
		return err
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claimsFor(*i))
	token.Header["kid"] = s.KeyID
	signed, err := token.SignedString(s.privKey)
	if err != nil {
		return fmt.Errorf("jws signing failed: %w", err)
	}
	i.Signature = SigPrefixJWS + signed
	return nil
}

// DecodeIntentJWS extracts an intent from a compact JWS without verifying it.
// The returned intent carries the token as its signature; VerifyIntent checks it later.
func DecodeIntentJWS(compact string) (contracts.Intent, error) {
	var claims IntentClaims
	if _, _, err := jwt.NewParser().ParseUnverified(compact, &claims); err != nil {
		return contracts.Intent{}, fmt.Errorf("malformed jws: %w", err)
	}
	return contracts.Intent{
		ID:        claims.ID,
		Actor:     claims.Subject,
		Recipient: claims.Recipient,
		Amount:    claims.Amount,
		Expiry:    claims.Expiry,
		Memo:      claims.Memo,
		Signature: SigPrefixJWS + compact,
	}, nil
}

func verifyIntentJWS(i contracts.Intent) (bool, error) {
	pub, err := ParseActorKey(i.Actor)
	if err != nil {
		return false, err
	}
	compact := strings.TrimPrefix(i.Signature, SigPrefixJWS)

	var claims IntentClaims
	_, err = jwt.ParseWithClaims(compact, &claims,
		func(*jwt.Token) (any, error) { return pub, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			return false, nil
		}
		return false, fmt.Errorf("jws: %w", err)
	}

	// The token must bind exactly the fields being executed.
	want := claimsFor(i)
	return claims.ID == want.ID &&
		claims.Subject == want.Subject &&
		claims.Recipient == want.Recipient &&
		claims.Amount == want.Amount &&
		claims.Expiry == want.Expiry &&
		claims.Memo == want.Memo, nil
}
