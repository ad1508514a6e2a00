package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/R3DRVM/BlossomV2/pkg/contracts"
)

// Ed25519Signer implementation.
type Ed25519Signer struct {
	privKey ed25519.PrivateKey
	pubKey  ed25519.PublicKey
	KeyID   string
}

func NewEd25519Signer(keyID string) (*Ed25519Signer, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("key generation failed: %w", err)
	}
	return NewEd25519SignerFromKey(priv, keyID), nil
}

func NewEd25519SignerFromKey(priv ed25519.PrivateKey, keyID string) *Ed25519Signer {
	return &Ed25519Signer{
		privKey: priv,
		pubKey:  priv.Public().(ed25519.PublicKey),
		KeyID:   keyID,
	}
}

// NewEd25519SignerFromSeedHex rebuilds a signer from a hex-encoded 32-byte seed.
func NewEd25519SignerFromSeedHex(seedHex, keyID string) (*Ed25519Signer, error) {
	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, fmt.Errorf("invalid seed hex: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("invalid seed size: %d", len(seed))
	}
	return NewEd25519SignerFromKey(ed25519.NewKeyFromSeed(seed), keyID), nil
}

func (s *Ed25519Signer) Sign(data []byte) (string, error) {
	sig := ed25519.Sign(s.privKey, data)
	return hex.EncodeToString(sig), nil
}

func (s *Ed25519Signer) PublicKey() string {
	return hex.EncodeToString(s.pubKey)
}

// SeedHex exports the private seed. Only the CLI keygen path should need this.
func (s *Ed25519Signer) SeedHex() string {
	return hex.EncodeToString(s.privKey.Seed())
}

// SignIntent signs the canonical payload of i and stores the hex signature on it.
// An empty Actor is filled with the signer's public key; any other actor is refused.
func (s *Ed25519Signer) SignIntent(i *contracts.Intent) error {
	if err := s.claimActor(i); err != nil {
		return err
	}
	payload, err := SigningPayload(*i)
	if err != nil {
		return err
	}
	sig, err := s.Sign(payload)
	if err != nil {
		return err
	}
	i.Signature = sig
	return nil
}

func (s *Ed25519Signer) claimActor(i *contracts.Intent) error {
	if i.Actor == "" {
		i.Actor = s.PublicKey()
		return nil
	}
	if i.Actor != s.PublicKey() {
		return fmt.Errorf("signer %s cannot sign for actor %s", s.KeyID, i.Actor)
	}
	return nil
}
