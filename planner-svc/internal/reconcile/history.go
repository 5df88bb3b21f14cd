package reconcile

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"whattoeat/planner-svc/internal/domain"
	"whattoeat/planner-svc/internal/gateway"
)

const historyPrefix = "meal_history_"

// localIDPrefix marks records that only exist in a local queue.
const localIDPrefix = "local-"

func IsLocalID(id string) bool {
	return strings.HasPrefix(id, localIDPrefix)
}

func newLocalID() string {
	return localIDPrefix + uuid.NewString()
}

// fallsBackLocally reports the failures after which a write goes to the
// local queue instead of being surfaced.
func fallsBackLocally(err error) bool {
	return gateway.IsTableMissing(err) || gateway.IsUnavailable(err)
}

// History is the append-only meal log for a user.
type History struct {
	gw     gateway.Gateway
	queue  *Queue[domain.MealHistoryRecord]
	status *Status
	logger *zap.SugaredLogger
	now    func() time.Time
}

func NewHistory(d Deps) *History {
	return &History{
		gw:     d.Gateway,
		queue:  NewQueue(d.KV, historyPrefix, func(m domain.MealHistoryRecord) string { return m.ID }),
		status: d.Status,
		logger: d.Logger,
		now:    d.clock(),
	}
}

// Load returns queued and remote records, newest meal date first. A failed
// remote read degrades to the queued records.
func (h *History) Load(ctx context.Context, userID string) []domain.MealHistoryRecord {
	queued, err := h.queue.Items(ctx, userID)
	if err != nil {
		h.logger.Warnw("discarding unreadable meal queue", "user_id", userID, "error", err)
		queued = nil
	}

	remote, err := gateway.List[domain.MealHistoryRecord](ctx, h.gw, domain.TableMealHistory,
		gateway.Where(gateway.Eq("user_id", userID)).OrderBy("meal_date", true))
	if err != nil {
		h.logger.Warnw("loading meal history failed", "user_id", userID, "error", err)
		h.status.Set(KindHistory, domain.SourceLocal)
		remote = nil
	} else if len(queued) == 0 {
		h.status.Set(KindHistory, domain.SourceRemote)
	} else {
		h.status.Set(KindHistory, domain.SourceLocal)
	}

	all := append(append([]domain.MealHistoryRecord{}, queued...), remote...)
	sort.SliceStable(all, func(i, j int) bool { return all[i].MealDate > all[j].MealDate })
	return all
}

// Add stores a record, queueing it locally when the table is missing or the
// backend cannot be reached.
func (h *History) Add(ctx context.Context, record domain.MealHistoryRecord) (domain.MealHistoryRecord, error) {
	var stored []domain.MealHistoryRecord
	err := h.gw.Insert(ctx, domain.TableMealHistory, []domain.MealHistoryRecord{record}, &stored)
	if err == nil {
		h.status.Set(KindHistory, domain.SourceRemote)
		if len(stored) > 0 {
			return stored[0], nil
		}
		return record, nil
	}
	if !fallsBackLocally(err) {
		return domain.MealHistoryRecord{}, fmt.Errorf("save meal: %w", err)
	}

	h.logger.Warnw("meal kept locally", "user_id", record.UserID, "error", err)
	record.ID = newLocalID()
	if record.CreatedAt == "" {
		record.CreatedAt = h.now().UTC().Format(time.RFC3339)
	}
	if err := h.queue.Prepend(ctx, record.UserID, record); err != nil {
		return domain.MealHistoryRecord{}, err
	}
	h.status.Set(KindHistory, domain.SourceLocal)
	return record, nil
}

func (h *History) Delete(ctx context.Context, userID, id string) error {
	removed, err := h.queue.Remove(ctx, userID, id)
	if err != nil {
		return err
	}
	// local ids never reach the backend
	if removed || IsLocalID(id) {
		return nil
	}
	if err := h.gw.Delete(ctx, domain.TableMealHistory, gateway.Eq("id", id), gateway.Eq("user_id", userID)); err != nil {
		return fmt.Errorf("delete meal %s: %w", id, err)
	}
	return nil
}

// Flush inserts the queued records in one batch and clears the queue on
// success. It returns the stored records.
func (h *History) Flush(ctx context.Context, userID string) ([]domain.MealHistoryRecord, error) {
	queued, err := h.queue.Items(ctx, userID)
	if err != nil || len(queued) == 0 {
		return nil, err
	}

	batch := make([]domain.MealHistoryRecord, len(queued))
	for i, m := range queued {
		m.ID = ""
		m.UserID = userID
		batch[i] = m
	}

	var stored []domain.MealHistoryRecord
	if err := h.gw.Insert(ctx, domain.TableMealHistory, batch, &stored); err != nil {
		h.status.Set(KindHistory, domain.SourceLocal)
		return nil, fmt.Errorf("flush meal history: %w", err)
	}
	if err := h.queue.Clear(ctx, userID); err != nil {
		return stored, err
	}
	h.status.Set(KindHistory, domain.SourceRemote)
	h.logger.Infow("flushed local meal history", "user_id", userID, "count", len(batch))
	return stored, nil
}
