// Package planner holds what the signed-in user is looking at: the catalog,
// the selection, the shopping cart and the meal log. Each concern has its own
// state owner; persistence goes through the reconcile package.
package planner

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"

	"whattoeat/planner-svc/internal/catalog"
	"whattoeat/planner-svc/internal/domain"
	"whattoeat/planner-svc/internal/events"
	"whattoeat/planner-svc/internal/gateway"
	"whattoeat/planner-svc/internal/reconcile"
	"whattoeat/planner-svc/internal/state"
)

var (
	ErrNotSignedIn    = errors.New("planner: not signed in")
	ErrUnknownDish    = errors.New("planner: unknown dish")
	ErrIndexRange     = errors.New("planner: cart index out of range")
	ErrEmptySelection = errors.New("planner: no dishes selected")
	ErrInvalidRange   = errors.New("planner: invalid report range")
)

type Deps struct {
	Gateway      gateway.Gateway
	Catalog      *catalog.Loader
	Selection    *reconcile.Selection
	Cart         *reconcile.Cart
	History      *reconcile.History
	CustomDishes *reconcile.CustomDishes
	Status       *reconcile.Status
	Tasks        *reconcile.Tasks
	Events       events.Publisher
	Logger       *zap.SugaredLogger
}

type Config struct {
	// Bucket receives custom dish images.
	Bucket string
	Now    func() time.Time
	Rand   *rand.Rand
}

type session struct {
	user *domain.User
}

type Planner struct {
	gw        gateway.Gateway
	catalog   *catalog.Loader
	selection *reconcile.Selection
	cart      *reconcile.Cart
	history   *reconcile.History
	custom    *reconcile.CustomDishes
	status    *reconcile.Status
	tasks     *reconcile.Tasks
	events    events.Publisher
	logger    *zap.SugaredLogger

	bucket string
	now    func() time.Time
	rngMu  sync.Mutex
	rng    *rand.Rand

	session  *state.Store[session]
	dishes   *state.Store[[]domain.Dish]
	selected *state.Store[[]string]
	items    *state.Store[[]domain.Ingredient]
	meals    *state.Store[[]domain.MealHistoryRecord]
}

func New(d Deps, cfg Config) *Planner {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if cfg.Bucket == "" {
		cfg.Bucket = "dish-images"
	}
	if d.Events == nil {
		d.Events = events.Noop{}
	}
	if d.Tasks == nil {
		d.Tasks = &reconcile.Tasks{}
	}

	p := &Planner{
		gw:        d.Gateway,
		catalog:   d.Catalog,
		selection: d.Selection,
		cart:      d.Cart,
		history:   d.History,
		custom:    d.CustomDishes,
		status:    d.Status,
		tasks:     d.Tasks,
		events:    d.Events,
		logger:    d.Logger,
		bucket:    cfg.Bucket,
		now:       cfg.Now,
		rng:       cfg.Rand,
		session:   state.New(session{}),
		dishes:    state.New([]domain.Dish{}),
		selected:  state.New([]string{}),
		items:     state.New([]domain.Ingredient{}),
		meals:     state.New([]domain.MealHistoryRecord{}),
	}
	d.Status.OnChange(p.sourceChanged)
	return p
}

func (p *Planner) Close() {
	p.session.Close()
	p.dishes.Close()
	p.selected.Close()
	p.items.Close()
	p.meals.Close()
}

func (p *Planner) sourceChanged(kind reconcile.Kind, source domain.SyncSource) {
	p.logger.Infow("sync source changed", "kind", kind, "source", source)
	uid, _ := p.userID(context.Background())
	p.publish(context.Background(), events.Event{
		Type:   events.SourceChanged,
		UserID: uid,
		RefID:  string(kind),
		Source: string(source),
	})
}

// publish sends e in the background; failures are only logged.
func (p *Planner) publish(ctx context.Context, e events.Event) {
	e.Timestamp = p.now().UTC()
	p.tasks.Go(ctx, func(ctx context.Context) error {
		if err := p.events.Publish(ctx, e); err != nil {
			p.logger.Warnw("event not published", "type", e.Type, "error", err)
			return err
		}
		return nil
	})
}

func (p *Planner) today() string {
	return p.now().Format(time.DateOnly)
}

// SyncStatus reports where each record kind's data currently comes from.
func (p *Planner) SyncStatus() map[reconcile.Kind]domain.SyncSource {
	return p.status.Snapshot()
}

func (p *Planner) Backend() gateway.Kind {
	return p.gw.Kind()
}
