package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"whattoeat/planner-svc/internal/domain"
	"whattoeat/planner-svc/internal/gateway"
	"whattoeat/planner-svc/internal/kv"
)

// Mirror keeps one value per user both behind the gateway, as a row keyed by
// user_id, and under a local key.
type Mirror[V any, R any] struct {
	kind   Kind
	table  string
	prefix string

	gw     gateway.Gateway
	kv     kv.Store
	status *Status
	tasks  *Tasks
	logger *zap.SugaredLogger
	now    func() time.Time

	toRow   func(userID string, v V, updatedAt string) R
	fromRow func(R) (V, error)
	empty   func(V) bool
	zero    func() V

	// pushMu orders remote writes; each push sends the latest local value.
	pushMu sync.Mutex
}

type Deps struct {
	Gateway gateway.Gateway
	KV      kv.Store
	Status  *Status
	Tasks   *Tasks
	Logger  *zap.SugaredLogger
	Now     func() time.Time
}

func (d Deps) clock() func() time.Time {
	if d.Now == nil {
		return time.Now
	}
	return d.Now
}

func (m *Mirror[V, R]) Key(userID string) string {
	return m.prefix + userID
}

// Local reads the mirror; the bool reports whether it exists.
func (m *Mirror[V, R]) Local(ctx context.Context, userID string) (V, bool, error) {
	var v V
	found, err := kv.GetJSON(ctx, m.kv, m.Key(userID), &v)
	return v, found, err
}

func (m *Mirror[V, R]) writeLocal(ctx context.Context, userID string, v V) error {
	if err := kv.SetJSON(ctx, m.kv, m.Key(userID), v); err != nil {
		return fmt.Errorf("write %s mirror: %w", m.kind, err)
	}
	return nil
}

func (m *Mirror[V, R]) upsert(ctx context.Context, userID string, v V) error {
	row := m.toRow(userID, v, m.now().UTC().Format(time.RFC3339))
	return m.gw.Upsert(ctx, m.table, row, "user_id")
}

// Restore picks the authoritative value when a session starts. A non-empty
// remote value wins and overwrites the mirror. An empty remote value is
// replaced by a non-empty mirror. An unreachable remote leaves the mirror in
// charge, creating an empty one if needed.
func (m *Mirror[V, R]) Restore(ctx context.Context, userID string) (V, error) {
	local, hasLocal, err := m.Local(ctx, userID)
	if err != nil {
		m.logger.Warnw("discarding unreadable local mirror", "kind", m.kind, "user_id", userID, "error", err)
		hasLocal = false
	}

	row, found, err := gateway.First[R](ctx, m.gw, m.table, gateway.Where(gateway.Eq("user_id", userID)))
	if err != nil {
		m.logger.Warnw("remote read failed, serving local mirror", "kind", m.kind, "user_id", userID, "error", err)
		m.status.Set(m.kind, domain.SourceLocal)
		if hasLocal {
			return local, nil
		}
		empty := m.zero()
		if err := m.writeLocal(ctx, userID, empty); err != nil {
			return empty, err
		}
		m.tasks.Go(ctx, func(ctx context.Context) error {
			if err := m.upsert(ctx, userID, empty); err != nil {
				m.logger.Debugw("initial remote row not created", "kind", m.kind, "user_id", userID, "error", err)
				return err
			}
			return nil
		})
		return empty, nil
	}

	if found {
		remote, convErr := m.fromRow(row)
		if convErr != nil {
			m.logger.Warnw("unreadable remote row", "kind", m.kind, "user_id", userID, "error", convErr)
		} else if !m.empty(remote) {
			if err := m.writeLocal(ctx, userID, remote); err != nil {
				m.logger.Warnw("local mirror not updated", "kind", m.kind, "user_id", userID, "error", err)
			}
			m.status.Set(m.kind, domain.SourceRemote)
			return remote, nil
		}
	}

	if hasLocal && !m.empty(local) {
		if err := m.upsert(ctx, userID, local); err != nil {
			m.logger.Warnw("pushing local mirror failed", "kind", m.kind, "user_id", userID, "error", err)
			m.status.Set(m.kind, domain.SourceLocal)
		} else {
			m.status.Set(m.kind, domain.SourceRemote)
		}
		return local, nil
	}

	empty := m.zero()
	if err := m.writeLocal(ctx, userID, empty); err != nil {
		m.logger.Warnw("local mirror not initialised", "kind", m.kind, "user_id", userID, "error", err)
	}
	m.status.Set(m.kind, domain.SourceRemote)
	return empty, nil
}

// Save writes the mirror now and the remote row in the background.
func (m *Mirror[V, R]) Save(ctx context.Context, userID string, v V) (*Task, error) {
	if err := m.writeLocal(ctx, userID, v); err != nil {
		return nil, err
	}
	return m.tasks.Go(ctx, func(ctx context.Context) error {
		return m.push(ctx, userID)
	}), nil
}

// Sync writes the mirror and then the remote row, returning the remote
// failure if any.
func (m *Mirror[V, R]) Sync(ctx context.Context, userID string, v V) error {
	if err := m.writeLocal(ctx, userID, v); err != nil {
		return err
	}
	return m.push(ctx, userID)
}

func (m *Mirror[V, R]) push(ctx context.Context, userID string) error {
	m.pushMu.Lock()
	defer m.pushMu.Unlock()

	latest, found, err := m.Local(ctx, userID)
	if err != nil {
		return err
	}
	if !found {
		latest = m.zero()
	}

	if err := m.upsert(ctx, userID, latest); err != nil {
		m.logger.Warnw("remote write failed, kept locally", "kind", m.kind, "user_id", userID, "error", err)
		m.status.Set(m.kind, domain.SourceLocal)
		return err
	}
	m.status.Set(m.kind, domain.SourceRemote)
	return nil
}

// Clear empties the mirror now and deletes the remote row in the background.
func (m *Mirror[V, R]) Clear(ctx context.Context, userID string) (*Task, error) {
	if err := m.writeLocal(ctx, userID, m.zero()); err != nil {
		return nil, err
	}
	return m.tasks.Go(ctx, func(ctx context.Context) error {
		m.pushMu.Lock()
		defer m.pushMu.Unlock()

		if err := m.gw.Delete(ctx, m.table, gateway.Eq("user_id", userID)); err != nil {
			m.logger.Warnw("remote clear failed", "kind", m.kind, "user_id", userID, "error", err)
			m.status.Set(m.kind, domain.SourceLocal)
			return err
		}
		m.status.Set(m.kind, domain.SourceRemote)
		return nil
	}), nil
}

// Initialise creates an empty remote row, best effort.
func (m *Mirror[V, R]) Initialise(ctx context.Context, userID string) error {
	return m.upsert(ctx, userID, m.zero())
}
