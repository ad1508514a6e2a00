package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/R3DRVM/BlossomV2/pkg/contracts"
	"github.com/R3DRVM/BlossomV2/pkg/crypto"
)

type keyFile struct {
	KeyID string `json:"key_id"`
	Actor string `json:"actor"`
	Seed  string `json:"seed"`
}

func (a *app) keygenCmd() *cobra.Command {
	var (
		out   string
		keyID string
	)
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an Ed25519 key; the public key is the account identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := crypto.NewEd25519Signer(keyID)
			if err != nil {
				return err
			}
			kf := keyFile{KeyID: keyID, Actor: s.PublicKey(), Seed: s.SeedHex()}
			if out == "" {
				return json.NewEncoder(a.stdout).Encode(kf)
			}
			data, err := json.MarshalIndent(kf, "", "  ")
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, data, 0o600); err != nil {
				return fmt.Errorf("write key file: %w", err)
			}
			_, err = fmt.Fprintln(a.stdout, kf.Actor)
			return err
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the key to this file (mode 0600) and print only the actor")
	cmd.Flags().StringVar(&keyID, "key-id", "default", "key identifier placed in JWS headers")
	return cmd
}

func loadKey(path string) (*crypto.Ed25519Signer, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	var kf keyFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return nil, fmt.Errorf("parse key file: %w", err)
	}
	s, err := crypto.NewEd25519SignerFromSeedHex(strings.TrimSpace(kf.Seed), kf.KeyID)
	if err != nil {
		return nil, err
	}
	if kf.Actor != "" && kf.Actor != s.PublicKey() {
		return nil, fmt.Errorf("key file actor does not match seed")
	}
	return s, nil
}

func (a *app) signCmd() *cobra.Command {
	var (
		keyPath string
		in      contracts.Intent
		ttl     time.Duration
		jws     bool
	)
	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Build and sign an intent, printing it as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if keyPath == "" {
				return fmt.Errorf("--key is required")
			}
			s, err := loadKey(keyPath)
			if err != nil {
				return err
			}
			i := in
			if i.Expiry == 0 {
				i.Expiry = time.Now().Add(ttl).Unix()
			}
			if jws {
				err = s.SignIntentJWS(&i)
			} else {
				err = s.SignIntent(&i)
			}
			if err != nil {
				return err
			}
			return json.NewEncoder(a.stdout).Encode(i)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&keyPath, "key", "k", "", "key file written by keygen")
	f.StringVar(&in.ID, "id", "", "intent id (must be unique)")
	f.StringVar(&in.Recipient, "to", "", "recipient actor; omit for a plain debit")
	f.Uint64Var(&in.Amount, "amount", 0, "amount to move")
	f.Int64Var(&in.Expiry, "expiry", 0, "absolute expiry, unix seconds (overrides --ttl)")
	f.DurationVar(&ttl, "ttl", 5*time.Minute, "expiry relative to now")
	f.StringVar(&in.Memo, "memo", "", "free-form memo")
	f.BoolVar(&jws, "jws", false, "sign as a compact EdDSA JWS")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}
