package reconcile

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"whattoeat/planner-svc/internal/gateway"
	"whattoeat/planner-svc/internal/kv"
	"whattoeat/planner-svc/internal/storage"
)

// flaky puts failure switches in front of a local store standing in for the
// remote backend.
type flaky struct {
	gateway.Gateway

	mu       sync.Mutex
	readErr  error
	writeErr error
	writes   int
}

func (f *flaky) fail(read, write error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readErr, f.writeErr = read, write
}

func (f *flaky) errs() (error, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.readErr, f.writeErr
}

func (f *flaky) write() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	return f.writeErr
}

func (f *flaky) Select(ctx context.Context, table string, q gateway.Query, dest any) error {
	if err, _ := f.errs(); err != nil {
		return err
	}
	return f.Gateway.Select(ctx, table, q, dest)
}

func (f *flaky) Insert(ctx context.Context, table string, rows any, dest any) error {
	if err := f.write(); err != nil {
		return err
	}
	return f.Gateway.Insert(ctx, table, rows, dest)
}

func (f *flaky) Upsert(ctx context.Context, table string, row any, onConflict string) error {
	if err := f.write(); err != nil {
		return err
	}
	return f.Gateway.Upsert(ctx, table, row, onConflict)
}

func (f *flaky) Delete(ctx context.Context, table string, filters ...gateway.Filter) error {
	if err := f.write(); err != nil {
		return err
	}
	return f.Gateway.Delete(ctx, table, filters...)
}

var (
	errOffline      = &gateway.Error{Op: "select", Err: gateway.ErrUnavailable}
	errTableMissing = &gateway.Error{Op: "insert", Code: "PGRST205", Err: gateway.ErrTableMissing}
)

type fixture struct {
	remote *flaky
	local  kv.Store
	deps   Deps
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	remoteStore, err := storage.NewLocalStore(context.Background(), kv.NewMemory(), zap.NewNop().Sugar())
	require.NoError(t, err)

	f := &fixture{remote: &flaky{Gateway: remoteStore}, local: kv.NewMemory()}
	f.deps = Deps{
		Gateway: f.remote,
		KV:      f.local,
		Status:  NewStatus(),
		Tasks:   &Tasks{},
		Logger:  zap.NewNop().Sugar(),
		Now:     func() time.Time { return time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC) },
	}
	return f
}
