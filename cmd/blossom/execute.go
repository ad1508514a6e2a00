package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/R3DRVM/BlossomV2/pkg/contracts"
	"github.com/R3DRVM/BlossomV2/pkg/intent"
	"github.com/R3DRVM/BlossomV2/pkg/runtime"
)

// maxIntentLine bounds a single JSONL line.
const maxIntentLine = 64 * 1024

func openInput(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	f, err := os.Open(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return f, nil
}

func (a *app) executeCmd() *cobra.Command {
	var amount uint64
	cmd := &cobra.Command{
		Use:   "execute <intent-file|->",
		Short: "Execute one signed intent (JSON or compact JWS) and print its execution record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openInput(args[0])
			if err != nil {
				return err
			}
			raw, err := io.ReadAll(io.LimitReader(r, maxIntentLine))
			_ = r.Close()
			if err != nil {
				return err
			}

			i, err := intent.Decode(raw)
			if err != nil {
				return a.reportRejection(err)
			}
			if !cmd.Flags().Changed("amount") {
				amount = i.Amount
			}

			prog, err := a.program(cmd.Context())
			if err != nil {
				return err
			}
			if err := prog.ExecuteIntent(cmd.Context(), i, amount); err != nil {
				return a.reportRejection(err)
			}
			s, _ := a.ledger(cmd.Context())
			rec, err := s.GetRecord(cmd.Context(), i.ID)
			if err != nil {
				return err
			}
			return json.NewEncoder(a.stdout).Encode(rec)
		},
	}
	cmd.Flags().Uint64Var(&amount, "amount", 0, "amount argument; must equal the signed amount (defaults to it)")
	return cmd
}

// limitedExecutor throttles executions to a shared rate.
type limitedExecutor struct {
	next    runtime.Executor
	limiter *rate.Limiter
}

func (l *limitedExecutor) Execute(ctx context.Context, i contracts.Intent) (contracts.ExecutionRecord, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return contracts.ExecutionRecord{}, err
	}
	return l.next.Execute(ctx, i)
}

func (a *app) runCmd() *cobra.Command {
	var (
		perSecond float64
		burst     int
		workers   int
	)
	cmd := &cobra.Command{
		Use:   "run <intents.jsonl|->",
		Short: "Execute a file of intents, one JSON intent per line, printing one result per line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if perSecond < 0 {
				return fmt.Errorf("--rate must not be negative")
			}
			if perSecond > 0 && burst < 1 {
				return fmt.Errorf("--burst must be at least 1 when --rate is set")
			}
			r, err := openInput(args[0])
			if err != nil {
				return err
			}
			defer func() { _ = r.Close() }()

			intents, decodeResults, err := readIntents(r)
			if err != nil {
				return err
			}

			prog, err := a.program(cmd.Context())
			if err != nil {
				return err
			}
			var exec runtime.Executor = prog
			if perSecond > 0 {
				exec = &limitedExecutor{next: prog, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
			}
			if workers <= 0 {
				workers = a.cfg.Workers
			}

			results, err := runtime.NewHost(exec, workers).ExecuteBatch(cmd.Context(), intents)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(a.stdout)
			rejected := len(decodeResults)
			for _, res := range decodeResults {
				if err := enc.Encode(res); err != nil {
					return err
				}
			}
			for _, res := range results {
				if res.State != contracts.StateApplied {
					rejected++
				}
				if err := enc.Encode(res); err != nil {
					return err
				}
			}
			if rejected > 0 {
				_, _ = fmt.Fprintf(a.stderr, "%d of %d intents rejected\n", rejected, len(results)+len(decodeResults))
				return errRejected
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.Float64Var(&perSecond, "rate", 0, "maximum executions per second (0 = unlimited)")
	f.IntVar(&burst, "burst", 1, "rate limiter burst")
	f.IntVar(&workers, "workers", 0, "concurrent executions (defaults to BLOSSOM_WORKERS)")
	return cmd
}

// readIntents decodes JSONL input. Lines that fail to decode become rejected results rather
// than aborting the batch.
func readIntents(r io.Reader) ([]contracts.Intent, []runtime.Result, error) {
	var (
		intents  []contracts.Intent
		rejected []runtime.Result
	)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), maxIntentLine)
	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		i, err := intent.Decode(raw)
		if err != nil {
			rejected = append(rejected, runtime.Result{
				IntentID: fmt.Sprintf("line:%d", line),
				State:    contracts.StateRejected,
				Err:      err,
				Error:    err.Error(),
			})
			continue
		}
		intents = append(intents, i)
	}
	if err := sc.Err(); err != nil {
		return nil, nil, fmt.Errorf("read intents: %w", err)
	}
	return intents, rejected, nil
}
