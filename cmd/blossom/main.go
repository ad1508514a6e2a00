// Command blossom signs, executes and inspects intents against a local or shared ledger.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/R3DRVM/BlossomV2/pkg/config"
	"github.com/R3DRVM/BlossomV2/pkg/contracts"
	"github.com/R3DRVM/BlossomV2/pkg/observability"
	"github.com/R3DRVM/BlossomV2/pkg/policy"
	"github.com/R3DRVM/BlossomV2/pkg/program"
	"github.com/R3DRVM/BlossomV2/pkg/store"
)

func main() {
	os.Exit(Run(os.Args[1:], os.Stdout, os.Stderr))
}

// Exit codes.
const (
	exitOK       = 0
	exitRejected = 1
	exitError    = 2
)

// errRejected marks a command that ran correctly but whose intent(s) were rejected.
var errRejected = errors.New("rejected")

// Run is the testable entrypoint.
func Run(args []string, stdout, stderr io.Writer) int {
	app := &app{stdout: stdout, stderr: stderr}
	root := app.rootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(context.Background())
	app.close()
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errRejected):
		return exitRejected
	default:
		_, _ = fmt.Fprintln(stderr, "Error:", err)
		return exitError
	}
}

// app carries per-invocation state shared by subcommands.
type app struct {
	stdout, stderr io.Writer

	storeFlag string
	cfg       *config.Config
	logger    *slog.Logger

	store store.Store
	obs   *observability.Provider
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "blossom",
		Short:         "Intent execution: authorize and settle signed transfer intents",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
	}
	root.PersistentFlags().StringVar(&a.storeFlag, "store", "", "ledger backend: memory, sqlite, postgres or redis (overrides BLOSSOM_STORE)")

	root.AddCommand(
		a.keygenCmd(),
		a.signCmd(),
		a.executeCmd(),
		a.runCmd(),
		a.accountCmd(),
		a.recordCmd(),
		a.exportCmd(),
		a.verifyCmd(),
	)
	return root
}

func (a *app) init(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if a.storeFlag != "" {
		cfg.Store = a.storeFlag
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	a.cfg = cfg
	a.logger = slog.New(slog.NewJSONHandler(a.stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(a.logger)
	return nil
}

// ledger opens the configured store on first use.
func (a *app) ledger(ctx context.Context) (store.Store, error) {
	if a.store != nil {
		return a.store, nil
	}
	s, err := openStore(ctx, a.cfg)
	if err != nil {
		return nil, err
	}
	a.store = s
	return s, nil
}

func (a *app) program(ctx context.Context) (*program.Program, error) {
	s, err := a.ledger(ctx)
	if err != nil {
		return nil, err
	}
	pol, err := a.cfg.Policy()
	if err != nil {
		return nil, err
	}
	eval, err := policy.NewEvaluator(pol)
	if err != nil {
		return nil, err
	}
	obs, err := observability.New(ctx, a.cfg.Observability())
	if err != nil {
		return nil, err
	}
	a.obs = obs
	return program.New(s, eval, program.WithObservability(obs), program.WithLogger(a.logger)), nil
}

func (a *app) close() {
	if a.obs != nil {
		_ = a.obs.Shutdown(context.Background())
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil && a.logger != nil {
			a.logger.Error("failed to close store", "error", err)
		}
	}
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Store {
	case config.StoreMemory:
		return store.NewMemoryStore(), nil
	case config.StoreSQLite:
		return store.OpenSQLite(ctx, cfg.SQLitePath)
	case config.StorePostgres:
		return store.OpenPostgres(ctx, cfg.DatabaseURL)
	case config.StoreRedis:
		s := store.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, store.WithPrefix(cfg.RedisPrefix))
		if err := s.Ping(ctx); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("redis ping failed: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported store %q", cfg.Store)
	}
}

// reportRejection prints a rejected intent's error and returns errRejected.
func (a *app) reportRejection(err error) error {
	if e, ok := contracts.AsExecutionError(err); ok {
		_, _ = fmt.Fprintf(a.stderr, "rejected: %s\n", e.Error())
		return errRejected
	}
	return err
}
