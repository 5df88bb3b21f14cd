// Package storage is the local fallback store: the gateway's tabular and
// auth contract served entirely from the durable key-value store.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"whattoeat/planner-svc/internal/gateway"
	"whattoeat/planner-svc/internal/kv"
)

// DBKey holds every table as one JSON object.
const DBKey = "fallback-db"

type LocalStore struct {
	mu     sync.Mutex
	kv     kv.Store
	tables map[string]table
	// other keeps entries of the persisted mapping this build has no table for.
	other  map[string]json.RawMessage
	now    func() time.Time
	auth   *localAuth
	logger *zap.SugaredLogger
}

var _ gateway.Gateway = (*LocalStore)(nil)

type Option func(*LocalStore)

func WithClock(now func() time.Time) Option {
	return func(s *LocalStore) { s.now = now }
}

// NewLocalStore loads the persisted mapping from store. A missing mapping
// starts every table empty.
func NewLocalStore(ctx context.Context, store kv.Store, logger *zap.SugaredLogger, opts ...Option) (*LocalStore, error) {
	s := &LocalStore{
		kv:     store,
		tables: newTables(),
		other:  make(map[string]json.RawMessage),
		now:    time.Now,
		auth:   &localAuth{kv: store},
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	var persisted map[string]json.RawMessage
	if _, err := kv.GetJSON(ctx, store, DBKey, &persisted); err != nil {
		return nil, fmt.Errorf("load local store: %w", err)
	}
	for name, raw := range persisted {
		t, ok := s.tables[name]
		if !ok {
			s.other[name] = raw
			continue
		}
		if err := t.decode(raw); err != nil {
			logger.Warnw("discarding unreadable local table", "table", name, "error", err)
		}
	}
	return s, nil
}

func (s *LocalStore) Kind() gateway.Kind { return gateway.KindLocal }

func (s *LocalStore) Auth() gateway.Auth { return s.auth }

func (s *LocalStore) table(op, name string) (table, error) {
	t, ok := s.tables[name]
	if !ok {
		return nil, &gateway.Error{
			Op:      op,
			Table:   name,
			Code:    "PGRST205",
			Message: fmt.Sprintf("Could not find the table 'public.%s'", name),
			Err:     gateway.ErrTableMissing,
		}
	}
	return t, nil
}

func (s *LocalStore) stamp(name string) stampFunc {
	return func() (string, string) {
		return name + "-" + uuid.NewString(), s.now().UTC().Format(time.RFC3339Nano)
	}
}

func (s *LocalStore) Select(_ context.Context, name string, q gateway.Query, dest any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.table("select", name)
	if err != nil {
		return err
	}
	raw, err := t.selectJSON(q)
	if err != nil {
		return fmt.Errorf("select %s: %w", name, err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("select %s: decode: %w", name, err)
	}
	return nil
}

func (s *LocalStore) Insert(ctx context.Context, name string, rows any, dest any) error {
	raw, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("insert %s: %w", name, err)
	}

	var stored []byte
	err = s.mutate(ctx, "insert", name, func(t table) error {
		stored, err = t.insert(raw, s.stamp(name))
		return err
	})
	if err != nil || dest == nil {
		return err
	}
	if err := json.Unmarshal(stored, dest); err != nil {
		return fmt.Errorf("insert %s: decode: %w", name, err)
	}
	return nil
}

func (s *LocalStore) Upsert(ctx context.Context, name string, row any, onConflict string) error {
	raw, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", name, err)
	}
	return s.mutate(ctx, "upsert", name, func(t table) error {
		return t.upsert(raw, onConflict, s.stamp(name))
	})
}

func (s *LocalStore) Update(ctx context.Context, name string, patch map[string]any, filters ...gateway.Filter) error {
	if len(filters) == 0 {
		return &gateway.Error{Op: "update", Table: name, Message: "filter required", Err: gateway.ErrInvalidQuery}
	}
	raw, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("update %s: %w", name, err)
	}
	return s.mutate(ctx, "update", name, func(t table) error {
		return t.update(raw, filters)
	})
}

func (s *LocalStore) Delete(ctx context.Context, name string, filters ...gateway.Filter) error {
	if len(filters) == 0 {
		return &gateway.Error{Op: "delete", Table: name, Message: "filter required", Err: gateway.ErrInvalidQuery}
	}
	return s.mutate(ctx, "delete", name, func(t table) error {
		t.remove(filters)
		return nil
	})
}

// mutate applies fn and persists the whole mapping before returning. When
// fn or the write fails the table is restored to what it was.
func (s *LocalStore) mutate(ctx context.Context, op, name string, fn func(table) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.table(op, name)
	if err != nil {
		return err
	}
	before, err := t.encode()
	if err != nil {
		return fmt.Errorf("%s %s: %w", op, name, err)
	}

	if err := fn(t); err != nil {
		_ = t.decode(before)
		return fmt.Errorf("%s %s: %w", op, name, err)
	}
	if err := s.persist(ctx); err != nil {
		_ = t.decode(before)
		return fmt.Errorf("%s %s: %w", op, name, err)
	}
	return nil
}

func (s *LocalStore) persist(ctx context.Context) error {
	mapping := make(map[string]json.RawMessage, len(s.tables)+len(s.other))
	for name, raw := range s.other {
		mapping[name] = raw
	}
	for name, t := range s.tables {
		raw, err := t.encode()
		if err != nil {
			return err
		}
		mapping[name] = raw
	}
	return kv.SetJSON(ctx, s.kv, DBKey, mapping)
}

// Upload has nowhere to put the file, so the URL carries the bytes.
func (s *LocalStore) Upload(_ context.Context, _, _ string, data []byte, contentType string) (string, error) {
	return gateway.DataURL(contentType, data), nil
}

func (s *LocalStore) PublicURL(bucket, path string) string {
	return "/" + bucket + "/" + path
}
