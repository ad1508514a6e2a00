package snapshot

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3DRVM/BlossomV2/pkg/contracts"
	"github.com/R3DRVM/BlossomV2/pkg/store"
)

func seeded(t *testing.T) *store.MemoryStore {
	t.Helper()
	ctx := context.Background()
	at := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	s := store.NewMemoryStore()
	require.NoError(t, s.OpenAccount(ctx, contracts.AccountState{Actor: "b", Balance: 5, UpdatedAt: at}))
	require.NoError(t, s.OpenAccount(ctx, contracts.AccountState{Actor: "a", Balance: 18446744073709551615, UpdatedAt: at}))
	require.NoError(t, s.Commit(ctx, &contracts.Transition{
		Writes: []contracts.AccountWrite{
			{Actor: "a", Before: 18446744073709551615, After: 18446744073709551605, UpdatedAt: at},
			{Actor: "b", Before: 5, After: 15, UpdatedAt: at},
		},
		Record: contracts.ExecutionRecord{IntentID: "1", ReceiptID: "r", Actor: "a", Recipient: "b", Amount: 10, ExecutedAt: at},
	}))
	return s
}

func TestExportVerify_FileStore(t *testing.T) {
	ctx := context.Background()
	blobs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	s := seeded(t)

	hash, snap, err := Export(ctx, s, blobs)
	require.NoError(t, err)
	assert.Regexp(t, `^sha256:[0-9a-f]{64}$`, hash)
	require.Len(t, snap.Accounts, 2)
	assert.Equal(t, "a", snap.Accounts[0].Actor)

	// Same ledger, same address.
	again, _, err := Export(ctx, s, blobs)
	require.NoError(t, err)
	assert.Equal(t, hash, again)

	got, err := Verify(ctx, blobs, hash)
	require.NoError(t, err)
	assert.Equal(t, uint64(18446744073709551605), got.Accounts[0].Balance)
	require.Len(t, got.Records, 1)
	assert.Equal(t, "1", got.Records[0].IntentID)

	_, overflow := got.Balances()
	assert.True(t, overflow)
}

func TestVerify_DetectsTampering(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	blobs, err := NewFileStore(dir)
	require.NoError(t, err)

	hash, _, err := Export(ctx, seeded(t), blobs)
	require.NoError(t, err)

	raw, err := parseAddress(hash)
	require.NoError(t, err)
	path := filepath.Join(dir, raw+".json")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, bytes.Replace(data, []byte(`"balance":15`), []byte(`"balance":16`), 1), 0o600))

	_, err = Verify(ctx, blobs, hash)
	assert.ErrorContains(t, err, "content mismatch")
}

func TestFileStore_Errors(t *testing.T) {
	ctx := context.Background()
	blobs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	_, err = blobs.Get(ctx, "md5:abc")
	assert.ErrorContains(t, err, "invalid hash format")
	_, err = blobs.Get(ctx, "sha256:zz")
	assert.ErrorContains(t, err, "invalid hash hex")

	missing := Address([]byte("nothing here"))
	_, err = blobs.Get(ctx, missing)
	assert.ErrorIs(t, err, ErrBlobNotFound)
	ok, err := blobs.Exists(ctx, missing)
	require.NoError(t, err)
	assert.False(t, ok)
}

// fakeS3 is an in-memory stand-in for the S3 API.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int

	// putErr fails every PutObject; storeOnErr still stores the object first.
	putErr     error
	storeOnErr bool
	// headErr fails HeadObject once a put has failed.
	headErr   error
	putFailed bool
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putFailed && f.headErr != nil {
		return nil, f.headErr
	}
	if _, ok := f.objects[aws.ToString(in.Key)]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		f.putFailed = true
		if f.storeOnErr {
			f.objects[aws.ToString(in.Key)] = data
		}
		return nil, f.putErr
	}
	f.objects[aws.ToString(in.Key)] = data
	f.puts++
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func TestS3Store(t *testing.T) {
	ctx := context.Background()
	fake := &fakeS3{objects: map[string][]byte{}}
	blobs := &S3Store{client: fake, bucket: "ledger", prefix: "snapshots/"}

	hash, _, err := Export(ctx, seeded(t), blobs)
	require.NoError(t, err)
	raw, _ := parseAddress(hash)
	assert.Contains(t, fake.objects, "snapshots/"+raw+".json")

	_, _, err = Export(ctx, seeded(t), blobs)
	require.NoError(t, err)
	assert.Equal(t, 1, fake.puts)

	snap, err := Verify(ctx, blobs, hash)
	require.NoError(t, err)
	assert.Len(t, snap.Accounts, 2)

	_, err = blobs.Get(ctx, Address([]byte("x")))
	assert.True(t, errors.Is(err, ErrBlobNotFound))
}

func TestS3Store_FailedPut(t *testing.T) {
	ctx := context.Background()
	data := []byte(`{"version":"blossom.snapshot/v1"}`)
	timeout := errors.New("response timeout")

	t.Run("object landed anyway", func(t *testing.T) {
		fake := &fakeS3{objects: map[string][]byte{}, putErr: timeout, storeOnErr: true}
		hash, err := (&S3Store{client: fake, bucket: "b"}).Put(ctx, data)
		require.NoError(t, err)
		assert.Equal(t, Address(data), hash)
	})

	t.Run("object missing", func(t *testing.T) {
		fake := &fakeS3{objects: map[string][]byte{}, putErr: timeout}
		_, err := (&S3Store{client: fake, bucket: "b"}).Put(ctx, data)
		assert.ErrorIs(t, err, timeout)
	})

	t.Run("existence check fails too", func(t *testing.T) {
		denied := errors.New("access denied")
		fake := &fakeS3{objects: map[string][]byte{}, putErr: timeout, headErr: denied}
		_, err := (&S3Store{client: fake, bucket: "b"}).Put(ctx, data)
		assert.ErrorIs(t, err, timeout)
		assert.ErrorIs(t, err, denied)
	})
}

func TestNewBlobStoreFromEnv(t *testing.T) {
	ctx := context.Background()

	t.Setenv("BLOSSOM_SNAPSHOT_STORE", "")
	t.Setenv("BLOSSOM_SNAPSHOT_DIR", t.TempDir())
	bs, err := NewBlobStoreFromEnv(ctx)
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, bs)

	t.Setenv("BLOSSOM_SNAPSHOT_STORE", "s3")
	t.Setenv("BLOSSOM_SNAPSHOT_BUCKET", "")
	_, err = NewBlobStoreFromEnv(ctx)
	assert.ErrorContains(t, err, "BLOSSOM_SNAPSHOT_BUCKET is required")

	t.Setenv("BLOSSOM_SNAPSHOT_STORE", "gcs")
	_, err = NewBlobStoreFromEnv(ctx)
	require.Error(t, err)

	t.Setenv("BLOSSOM_SNAPSHOT_STORE", "azure")
	_, err = NewBlobStoreFromEnv(ctx)
	assert.ErrorContains(t, err, "unsupported snapshot store")
}
