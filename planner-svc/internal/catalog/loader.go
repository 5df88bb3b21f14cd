package catalog

import (
	"context"

	"go.uber.org/zap"

	"whattoeat/planner-svc/internal/domain"
	"whattoeat/planner-svc/internal/gateway"
)

// CustomSource lists a user's own dishes, locally queued ones first.
type CustomSource interface {
	List(ctx context.Context, userID string) []domain.CustomDish
}

type SeedSource func() ([]domain.Dish, error)

type Loader struct {
	tables gateway.Tables
	seed   SeedSource
	custom CustomSource
	logger *zap.SugaredLogger
	// importSeed keeps the dish table itself in line with the seed; set for
	// the local store, where the table is writable.
	importSeed bool
}

type LoaderOption func(*Loader)

func WithSeedImport() LoaderOption {
	return func(l *Loader) { l.importSeed = true }
}

func NewLoader(tables gateway.Tables, seed SeedSource, custom CustomSource, logger *zap.SugaredLogger, opts ...LoaderOption) *Loader {
	l := &Loader{tables: tables, seed: seed, custom: custom, logger: logger}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Loader) readSeed() []domain.Dish {
	if l.seed == nil {
		return nil
	}
	dishes, err := l.seed()
	if err != nil {
		l.logger.Warnw("seed file unreadable, continuing without it", "error", err)
		return nil
	}
	return dishes
}

// Load returns the catalog for userID (empty for no user). Names are unique;
// the first source to provide a name wins, in the order: user's local
// dishes, user's remote dishes, the dish table, the seed file.
func (l *Loader) Load(ctx context.Context, userID string) []domain.Dish {
	seed := l.readSeed()

	if l.importSeed && len(seed) > 0 {
		res, err := Import(ctx, l.tables, seed)
		if err != nil {
			l.logger.Warnw("seed import failed", "error", err)
		} else if res.Inserted > 0 || res.Updated > 0 {
			l.logger.Infow("seed import", "inserted", res.Inserted, "updated", res.Updated)
		}
	}

	system, err := gateway.List[domain.Dish](ctx, l.tables, domain.TableDishes, gateway.Query{}.OrderBy("name", false))
	if err != nil {
		l.logger.Warnw("loading dishes failed, using seed file", "error", err)
		system = nil
	}

	var m merger
	if userID != "" && l.custom != nil {
		for _, c := range l.custom.List(ctx, userID) {
			d := c.Dish
			d.IsMeat = domain.IsMeatCategory(d.Category)
			m.add(d)
		}
	}
	for _, d := range system {
		m.add(d)
	}
	for _, d := range seed {
		m.add(d)
	}
	return m.dishes
}

type merger struct {
	seen   map[string]bool
	dishes []domain.Dish
}

func (m *merger) add(d domain.Dish) {
	if m.seen == nil {
		m.seen = make(map[string]bool)
	}
	if d.Name == "" || m.seen[d.Name] {
		return
	}
	m.seen[d.Name] = true
	m.dishes = append(m.dishes, d)
}
