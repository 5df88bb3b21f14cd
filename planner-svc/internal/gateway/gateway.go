// Package gateway defines the one interface the planner uses for tabular data,
// object storage and sign-in, whichever backend answers it.
package gateway

import (
	"context"
	"encoding/base64"

	"whattoeat/planner-svc/internal/domain"
)

type Kind string

const (
	KindHosted   Kind = "hosted"
	KindPostgres Kind = "postgres"
	KindLocal    Kind = "local"
)

// SessionKey is the key-value entry holding the signed-in session.
const SessionKey = "auth-token"

type Session struct {
	User        domain.User `json:"user"`
	AccessToken string      `json:"access_token,omitempty"`
}

type Filter struct {
	Column string
	Value  any
}

func Eq(column string, value any) Filter {
	return Filter{Column: column, Value: value}
}

type Order struct {
	Column     string
	Descending bool
}

type Query struct {
	Columns string
	Filters []Filter
	Order   *Order
	Limit   int
}

func Where(filters ...Filter) Query {
	return Query{Filters: filters}
}

func (q Query) OrderBy(column string, descending bool) Query {
	q.Order = &Order{Column: column, Descending: descending}
	return q
}

func (q Query) Take(n int) Query {
	q.Limit = n
	return q
}

func (q Query) Project(columns string) Query {
	q.Columns = columns
	return q
}

type Tables interface {
	// Select decodes the matching rows into dest, a pointer to a slice.
	Select(ctx context.Context, table string, q Query, dest any) error
	// Insert appends rows (a slice) and, when dest is non-nil, decodes the
	// stored rows into it.
	Insert(ctx context.Context, table string, rows any, dest any) error
	// Upsert inserts row or merges it into the row sharing onConflict.
	Upsert(ctx context.Context, table string, row any, onConflict string) error
	Update(ctx context.Context, table string, patch map[string]any, filters ...Filter) error
	Delete(ctx context.Context, table string, filters ...Filter) error
}

type Objects interface {
	// Upload stores data and returns a URL it can be fetched from.
	Upload(ctx context.Context, bucket, path string, data []byte, contentType string) (string, error)
	PublicURL(bucket, path string) string
}

type Auth interface {
	SignIn(ctx context.Context, email, password string) (domain.User, error)
	SignUp(ctx context.Context, email, password string) (domain.User, error)
	SignOut(ctx context.Context) error
	// CurrentUser returns nil without error when nobody is signed in.
	CurrentUser(ctx context.Context) (*domain.User, error)
}

type Gateway interface {
	Tables
	Objects
	Auth() Auth
	Kind() Kind
}

func List[T any](ctx context.Context, t Tables, table string, q Query) ([]T, error) {
	var rows []T
	if err := t.Select(ctx, table, q, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// First returns the first matching row and whether there was one.
func First[T any](ctx context.Context, t Tables, table string, q Query) (T, bool, error) {
	var zero T
	rows, err := List[T](ctx, t, table, q.Take(1))
	if err != nil {
		return zero, false, err
	}
	if len(rows) == 0 {
		return zero, false, nil
	}
	return rows[0], true, nil
}

// DataURL embeds data inline, used when no object storage can take a file.
func DataURL(contentType string, data []byte) string {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data)
}
