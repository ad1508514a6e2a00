package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	backend "github.com/redis/go-redis/v9"

	"github.com/R3DRVM/BlossomV2/pkg/contracts"
)

// RedisStore implements Store on Redis. Commit uses WATCH/MULTI so that a concurrent writer
// touching any of the same keys aborts the transaction instead of interleaving with it.
type RedisStore struct {
	client *backend.Client
	prefix string
}

type RedisOption func(*RedisStore)

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// NewRedisStore creates a Redis store with its own client.
func NewRedisStore(address, password string, db int, opts ...RedisOption) *RedisStore {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewRedisStoreFromClient(rdb, opts...)
}

// NewRedisStoreFromClient creates a Redis store from an existing client.
func NewRedisStoreFromClient(client *backend.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client: client,
		prefix: "blossom:",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) accountKey(actor string) string { return s.prefix + "account:" + actor }
func (s *RedisStore) recordKey(id string) string     { return s.prefix + "record:" + id }
func (s *RedisStore) accountIndex() string           { return s.prefix + "accounts" }
func (s *RedisStore) recordIndex() string            { return s.prefix + "records" }

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) GetAccount(ctx context.Context, actor string) (contracts.AccountState, error) {
	return getJSON[contracts.AccountState](ctx, s.client, s.accountKey(actor))
}

func (s *RedisStore) GetRecord(ctx context.Context, intentID string) (contracts.ExecutionRecord, error) {
	return getJSON[contracts.ExecutionRecord](ctx, s.client, s.recordKey(intentID))
}

type getter interface {
	Get(ctx context.Context, key string) *backend.StringCmd
}

func getJSON[T any](ctx context.Context, c getter, key string) (T, error) {
	var out T
	val, err := c.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return out, ErrNotFound
		}
		return out, fmt.Errorf("failed to get from redis: %w", err)
	}
	if err := json.Unmarshal(val, &out); err != nil {
		return out, fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return out, nil
}

// Commit watches the record key and every written account, verifies preconditions, then
// writes everything in one MULTI/EXEC.
func (s *RedisStore) Commit(ctx context.Context, t *contracts.Transition) error {
	if err := checkTransition(t); err != nil {
		return err
	}
	recKey := s.recordKey(t.Record.IntentID)
	keys := []string{recKey}
	for _, actor := range t.Accounts() {
		keys = append(keys, s.accountKey(actor))
	}

	recData, err := json.Marshal(t.Record)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	txf := func(tx *backend.Tx) error {
		n, err := tx.Exists(ctx, recKey).Result()
		if err != nil {
			return fmt.Errorf("check record: %w", err)
		}
		if n > 0 {
			return ErrRecordExists
		}

		updated := make([][]byte, len(t.Writes))
		for i, w := range t.Writes {
			acct, err := getJSON[contracts.AccountState](ctx, tx, s.accountKey(w.Actor))
			if errors.Is(err, ErrNotFound) {
				return ErrConflict
			}
			if err != nil {
				return err
			}
			if acct.Balance != w.Before {
				return ErrConflict
			}
			acct.Balance = w.After
			acct.UpdatedAt = w.UpdatedAt
			if updated[i], err = json.Marshal(acct); err != nil {
				return fmt.Errorf("failed to marshal account: %w", err)
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
			for i, w := range t.Writes {
				pipe.Set(ctx, s.accountKey(w.Actor), updated[i], 0)
			}
			pipe.Set(ctx, recKey, recData, 0)
			pipe.SAdd(ctx, s.recordIndex(), t.Record.IntentID)
			return nil
		})
		return err
	}

	err = s.client.Watch(ctx, txf, keys...)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, backend.TxFailedErr), errors.Is(err, ErrConflict):
		return s.conflict(ctx, recKey)
	case errors.Is(err, ErrRecordExists):
		return err
	default:
		return fmt.Errorf("redis commit: %w", err)
	}
}

// conflict classifies a lost race. A concurrent commit of the same intent is a duplicate, not a
// stale balance.
func (s *RedisStore) conflict(ctx context.Context, recKey string) error {
	n, err := s.client.Exists(ctx, recKey).Result()
	if err != nil {
		return fmt.Errorf("check record after conflict: %w", err)
	}
	if n > 0 {
		return ErrRecordExists
	}
	return ErrConflict
}

func (s *RedisStore) OpenAccount(ctx context.Context, acct contracts.AccountState) error {
	if err := checkAccount(acct); err != nil {
		return err
	}
	data, err := json.Marshal(acct)
	if err != nil {
		return fmt.Errorf("failed to marshal account: %w", err)
	}
	var created *backend.BoolCmd
	_, err = s.client.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
		created = pipe.SetNX(ctx, s.accountKey(acct.Actor), data, 0)
		pipe.SAdd(ctx, s.accountIndex(), acct.Actor)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to open account: %w", err)
	}
	if !created.Val() {
		return ErrAccountExists
	}
	return nil
}

func (s *RedisStore) ListAccounts(ctx context.Context) ([]contracts.AccountState, error) {
	return listJSON[contracts.AccountState](ctx, s.client, s.accountIndex(), s.accountKey)
}

func (s *RedisStore) ListRecords(ctx context.Context) ([]contracts.ExecutionRecord, error) {
	return listJSON[contracts.ExecutionRecord](ctx, s.client, s.recordIndex(), s.recordKey)
}

// maxStateReads bounds ListState retries under constant write load.
const maxStateReads = 32

// ListState watches both index sets while reading. Every commit adds to the record index and
// every OpenAccount to the account index, so an EXEC that succeeds proves no write landed
// between the reads.
func (s *RedisStore) ListState(ctx context.Context) ([]contracts.AccountState, []contracts.ExecutionRecord, error) {
	for attempt := 0; attempt < maxStateReads; attempt++ {
		var (
			accounts []contracts.AccountState
			records  []contracts.ExecutionRecord
		)
		err := s.client.Watch(ctx, func(tx *backend.Tx) error {
			var err error
			if accounts, err = listJSON[contracts.AccountState](ctx, tx, s.accountIndex(), s.accountKey); err != nil {
				return err
			}
			if records, err = listJSON[contracts.ExecutionRecord](ctx, tx, s.recordIndex(), s.recordKey); err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
				pipe.Exists(ctx, s.recordIndex())
				return nil
			})
			return err
		}, s.accountIndex(), s.recordIndex())
		switch {
		case err == nil:
			return accounts, records, nil
		case errors.Is(err, backend.TxFailedErr):
			continue
		default:
			return nil, nil, err
		}
	}
	return nil, nil, fmt.Errorf("ledger kept changing during %d reads: %w", maxStateReads, ErrConflict)
}

func listJSON[T any](ctx context.Context, c backend.Cmdable, index string, key func(string) string) ([]T, error) {
	ids, err := c.SMembers(ctx, index).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", index, err)
	}
	sort.Strings(ids)
	out := make([]T, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = key(id)
	}
	vals, err := c.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", index, err)
	}
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("index %s references missing key %s", index, keys[i])
		}
		var item T
		if err := json.Unmarshal([]byte(str), &item); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s: %w", keys[i], err)
		}
		out = append(out, item)
	}
	return out, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
