package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/R3DRVM/BlossomV2/pkg/contracts"
	"github.com/R3DRVM/BlossomV2/pkg/snapshot"
	"github.com/R3DRVM/BlossomV2/pkg/store"
)

func (a *app) accountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Administer ledger accounts",
	}

	var (
		balance uint64
		owner   string
	)
	open := &cobra.Command{
		Use:   "open <actor>",
		Short: "Create an account with an initial balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.ledger(cmd.Context())
			if err != nil {
				return err
			}
			acct := contracts.AccountState{Actor: args[0], Owner: owner, Balance: balance, UpdatedAt: time.Now().UTC()}
			if err := s.OpenAccount(cmd.Context(), acct); err != nil {
				return fmt.Errorf("open account %s: %w", args[0], err)
			}
			return json.NewEncoder(a.stdout).Encode(acct)
		},
	}
	open.Flags().Uint64Var(&balance, "balance", 0, "initial balance")
	open.Flags().StringVar(&owner, "owner", "", "owner label")

	show := &cobra.Command{
		Use:   "show <actor>",
		Short: "Print an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.ledger(cmd.Context())
			if err != nil {
				return err
			}
			acct, err := s.GetAccount(cmd.Context(), args[0])
			if errors.Is(err, store.ErrNotFound) {
				return a.reportRejection(contracts.NotFoundError(args[0]))
			}
			if err != nil {
				return err
			}
			return json.NewEncoder(a.stdout).Encode(acct)
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "Print all accounts, one per line",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.ledger(cmd.Context())
			if err != nil {
				return err
			}
			accounts, err := s.ListAccounts(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(a.stdout)
			for _, acct := range accounts {
				if err := enc.Encode(acct); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.AddCommand(open, show, list)
	return cmd
}

func (a *app) recordCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Inspect execution records",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show <intent-id>",
		Short: "Print the execution record for an intent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.ledger(cmd.Context())
			if err != nil {
				return err
			}
			rec, err := s.GetRecord(cmd.Context(), args[0])
			if errors.Is(err, store.ErrNotFound) {
				_, _ = fmt.Fprintf(a.stderr, "intent %s has not been executed\n", args[0])
				return errRejected
			}
			if err != nil {
				return err
			}
			return json.NewEncoder(a.stdout).Encode(rec)
		},
	})
	return cmd
}

func (a *app) exportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Write a content-addressed ledger snapshot and print its hash",
		Long:  "Write a content-addressed ledger snapshot to the store selected by BLOSSOM_SNAPSHOT_STORE (fs, s3, gcs) and print its sha256 address.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.ledger(cmd.Context())
			if err != nil {
				return err
			}
			blobs, err := snapshot.NewBlobStoreFromEnv(cmd.Context())
			if err != nil {
				return err
			}
			hash, _, err := snapshot.Export(cmd.Context(), s, blobs)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(a.stdout, hash)
			return err
		},
	}
}

func (a *app) verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <sha256:hash>",
		Short: "Check a snapshot's content address and print a summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			blobs, err := snapshot.NewBlobStoreFromEnv(cmd.Context())
			if err != nil {
				return err
			}
			snap, err := snapshot.Verify(cmd.Context(), blobs, args[0])
			if err != nil {
				return err
			}
			total, overflow := snap.Balances()
			return json.NewEncoder(a.stdout).Encode(map[string]any{
				"hash":           args[0],
				"version":        snap.Version,
				"accounts":       len(snap.Accounts),
				"records":        len(snap.Records),
				"total_balance":  fmt.Sprint(total),
				"total_overflow": overflow,
			})
		},
	}
}
