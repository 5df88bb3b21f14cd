package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"whattoeat/planner-svc/internal/domain"
	"whattoeat/planner-svc/internal/gateway"
)

// Record is a row type a collection can filter and order.
type Record interface {
	Column(name string) any
}

type stampFunc func() (id, createdAt string)

// table is the untyped face of a collection the store dispatches to. Rows
// cross it as JSON so callers can use their own row shapes.
type table interface {
	selectJSON(q gateway.Query) ([]byte, error)
	insert(raw []byte, stamp stampFunc) ([]byte, error)
	upsert(raw []byte, onConflict string, stamp stampFunc) error
	update(patch []byte, filters []gateway.Filter) error
	remove(filters []gateway.Filter)
	encode() (json.RawMessage, error)
	decode(raw json.RawMessage) error
}

type collection[T Record] struct {
	// userScoped tables hold at most one row per user_id.
	userScoped bool
	assign     func(row *T, id, createdAt string)
	rows       []T
}

func (c *collection[T]) matches(row T, filters []gateway.Filter) bool {
	for _, f := range filters {
		if !equal(row.Column(f.Column), f.Value) {
			return false
		}
	}
	return true
}

func (c *collection[T]) query(q gateway.Query) []T {
	out := make([]T, 0, len(c.rows))
	for _, row := range c.rows {
		if c.matches(row, q.Filters) {
			out = append(out, row)
		}
	}

	if q.Order != nil {
		col, desc := q.Order.Column, q.Order.Descending
		sort.SliceStable(out, func(i, j int) bool {
			if desc {
				return less(out[j].Column(col), out[i].Column(col))
			}
			return less(out[i].Column(col), out[j].Column(col))
		})
	}

	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

func (c *collection[T]) selectJSON(q gateway.Query) ([]byte, error) {
	return json.Marshal(c.query(q))
}

func (c *collection[T]) insert(raw []byte, stamp stampFunc) ([]byte, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '{' {
		raw = append(append([]byte{'['}, raw...), ']')
	}

	var rows []T
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("%w: %v", gateway.ErrRejected, err)
	}
	for i := range rows {
		id, at := stamp()
		c.assign(&rows[i], id, at)
	}
	c.rows = append(c.rows, rows...)
	return json.Marshal(rows)
}

func (c *collection[T]) keyFor(row T, onConflict string) (string, any) {
	if onConflict != "" {
		return onConflict, row.Column(onConflict)
	}
	if id := row.Column("id"); !isBlank(id) {
		return "id", id
	}
	if c.userScoped {
		return "user_id", row.Column("user_id")
	}
	return "", nil
}

func (c *collection[T]) upsert(raw []byte, onConflict string, stamp stampFunc) error {
	var row T
	if err := json.Unmarshal(raw, &row); err != nil {
		return fmt.Errorf("%w: %v", gateway.ErrRejected, err)
	}

	if key, value := c.keyFor(row, onConflict); key != "" && !isBlank(value) {
		for i := range c.rows {
			if !equal(c.rows[i].Column(key), value) {
				continue
			}
			merged := c.rows[i]
			if err := json.Unmarshal(raw, &merged); err != nil {
				return fmt.Errorf("%w: %v", gateway.ErrRejected, err)
			}
			c.rows[i] = merged
			return nil
		}
	}

	id, at := stamp()
	c.assign(&row, id, at)
	c.rows = append(c.rows, row)
	return nil
}

func (c *collection[T]) update(patch []byte, filters []gateway.Filter) error {
	for i := range c.rows {
		if !c.matches(c.rows[i], filters) {
			continue
		}
		merged := c.rows[i]
		if err := json.Unmarshal(patch, &merged); err != nil {
			return fmt.Errorf("%w: %v", gateway.ErrRejected, err)
		}
		c.rows[i] = merged
	}
	return nil
}

func (c *collection[T]) remove(filters []gateway.Filter) {
	kept := c.rows[:0]
	for _, row := range c.rows {
		if !c.matches(row, filters) {
			kept = append(kept, row)
		}
	}
	var zero T
	for i := len(kept); i < len(c.rows); i++ {
		c.rows[i] = zero
	}
	c.rows = kept
}

func (c *collection[T]) encode() (json.RawMessage, error) {
	if c.rows == nil {
		return json.RawMessage("[]"), nil
	}
	return json.Marshal(c.rows)
}

func (c *collection[T]) decode(raw json.RawMessage) error {
	var rows []T
	if err := json.Unmarshal(raw, &rows); err != nil {
		return err
	}
	c.rows = rows
	return nil
}

func newTables() map[string]table {
	return map[string]table{
		domain.TableDishes: &collection[domain.Dish]{
			assign: func(d *domain.Dish, id, at string) { stampDish(d, id, at) },
		},
		domain.TableUserDishes: &collection[domain.CustomDish]{
			assign: func(d *domain.CustomDish, id, at string) { stampDish(&d.Dish, id, at) },
		},
		domain.TableMealHistory: &collection[domain.MealHistoryRecord]{
			assign: func(m *domain.MealHistoryRecord, id, at string) {
				m.ID = orDefault(m.ID, id)
				m.CreatedAt = orDefault(m.CreatedAt, at)
			},
		},
		domain.TableSelections: &collection[domain.Selection]{
			userScoped: true,
			assign: func(s *domain.Selection, id, at string) {
				s.ID = orDefault(s.ID, id)
				s.UpdatedAt = orDefault(s.UpdatedAt, at)
			},
		},
		domain.TableCart: &collection[domain.CartRow]{
			userScoped: true,
			assign: func(c *domain.CartRow, id, at string) {
				c.ID = orDefault(c.ID, id)
				c.UpdatedAt = orDefault(c.UpdatedAt, at)
			},
		},
	}
}

func stampDish(d *domain.Dish, id, at string) {
	d.ID = orDefault(d.ID, id)
	d.CreatedAt = orDefault(d.CreatedAt, at)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
