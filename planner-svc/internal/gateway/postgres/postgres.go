// Package postgres serves the gateway contract straight from a Postgres
// database, with S3 for objects and bcrypt-checked accounts for sign-in.
package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"whattoeat/planner-svc/internal/gateway"
	"whattoeat/planner-svc/internal/kv"
)

// perUserTables hold one row per user and upsert on user_id by default.
var perUserTables = map[string]bool{
	"user_selections": true,
	"shopping_cart":   true,
}

type Config struct {
	Timeout time.Duration
	Retry   gateway.RetryPolicy
}

type Gateway struct {
	db      *sql.DB
	cfg     Config
	objects gateway.Objects
	auth    *Auth
	logger  *zap.SugaredLogger
}

var _ gateway.Gateway = (*Gateway)(nil)

// New builds the gateway. objects may be nil, in which case uploads are
// returned inline as data URLs.
func New(db *sql.DB, cfg Config, objects gateway.Objects, store kv.Store, logger *zap.SugaredLogger) *Gateway {
	g := &Gateway{db: db, cfg: cfg, objects: objects, logger: logger}
	g.auth = &Auth{g: g, kv: store}
	return g
}

func (g *Gateway) Kind() gateway.Kind { return gateway.KindPostgres }

func (g *Gateway) Auth() gateway.Auth { return g.auth }

func (g *Gateway) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.cfg.Timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, g.cfg.Timeout)
}

func translate(op, table string, err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		e := &gateway.Error{Op: op, Table: table, Code: string(pqErr.Code), Message: pqErr.Message}
		switch {
		case pqErr.Code == "42P01":
			e.Err = gateway.ErrTableMissing
		case pqErr.Code.Class() == "08", pqErr.Code.Class() == "53", pqErr.Code.Class() == "57":
			e.Err = gateway.ErrUnavailable
		case pqErr.Code.Class() == "28":
			e.Err = gateway.ErrUnauthorized
		default:
			e.Err = gateway.ErrRejected
		}
		return e
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) || gateway.IsUnavailable(err) {
		return &gateway.Error{Op: op, Table: table, Err: errors.Join(gateway.ErrUnavailable, err)}
	}
	return &gateway.Error{Op: op, Table: table, Err: err}
}

func (g *Gateway) Select(ctx context.Context, table string, q gateway.Query, dest any) error {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	query, args := selectSQL(table, q)
	rows, err := g.db.QueryContext(ctx, query, args...)
	if err != nil {
		return translate("select", table, err)
	}
	defer rows.Close()

	var buf strings.Builder
	buf.WriteByte('[')
	n := 0
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return translate("select", table, err)
		}
		if n > 0 {
			buf.WriteByte(',')
		}
		buf.Write(raw)
		n++
	}
	if err := rows.Err(); err != nil {
		return translate("select", table, err)
	}
	buf.WriteByte(']')

	if err := json.Unmarshal([]byte(buf.String()), dest); err != nil {
		return &gateway.Error{Op: "select", Table: table, Message: "decode rows", Err: err}
	}
	return nil
}

// exec runs the statements in one transaction and collects each returned
// row.
func (g *Gateway) exec(ctx context.Context, op, table string, stmts []statement) ([]json.RawMessage, error) {
	var out []json.RawMessage
	err := g.cfg.Retry.Do(ctx, func() error {
		out = out[:0]
		ctx, cancel := g.withTimeout(ctx)
		defer cancel()

		tx, err := g.db.BeginTx(ctx, nil)
		if err != nil {
			return translate(op, table, err)
		}
		defer tx.Rollback()

		for _, st := range stmts {
			if !st.returning {
				if _, err := tx.ExecContext(ctx, st.query, st.args...); err != nil {
					return translate(op, table, err)
				}
				continue
			}
			var raw []byte
			err := tx.QueryRowContext(ctx, st.query, st.args...).Scan(&raw)
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			if err != nil {
				return translate(op, table, err)
			}
			out = append(out, json.RawMessage(raw))
		}
		return translate(op, table, tx.Commit())
	})
	return out, err
}

type statement struct {
	query     string
	args      []any
	returning bool
}

func (g *Gateway) Insert(ctx context.Context, table string, rows any, dest any) error {
	decoded, err := decodeRows(rows)
	if err != nil {
		return &gateway.Error{Op: "insert", Table: table, Err: errors.Join(gateway.ErrRejected, err)}
	}
	stmts := make([]statement, 0, len(decoded))
	for _, r := range decoded {
		query, args := insertSQL(table, r, "")
		stmts = append(stmts, statement{query: query, args: args, returning: true})
	}

	stored, err := g.exec(ctx, "insert", table, stmts)
	if err != nil || dest == nil {
		return err
	}
	raw, err := json.Marshal(stored)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}

func (g *Gateway) Upsert(ctx context.Context, table string, row any, onConflict string) error {
	decoded, err := decodeRows(row)
	if err != nil || len(decoded) != 1 {
		return &gateway.Error{Op: "upsert", Table: table, Message: "expected one row", Err: gateway.ErrRejected}
	}
	r := decoded[0]

	conflict := onConflict
	if conflict == "" {
		conflict = defaultConflict(table, r)
	}
	query, args := insertSQL(table, r, conflict)
	_, err = g.exec(ctx, "upsert", table, []statement{{query: query, args: args, returning: true}})
	return err
}

func defaultConflict(table string, r row) string {
	for _, col := range r.columns {
		if col == "id" {
			return "id"
		}
	}
	if perUserTables[table] {
		return "user_id"
	}
	return ""
}

func (g *Gateway) Update(ctx context.Context, table string, patch map[string]any, filters ...gateway.Filter) error {
	if len(filters) == 0 {
		return &gateway.Error{Op: "update", Table: table, Message: "filter required", Err: gateway.ErrInvalidQuery}
	}
	if len(patch) == 0 {
		return nil
	}
	query, args := updateSQL(table, toRow(patch), filters)
	_, err := g.exec(ctx, "update", table, []statement{{query: query, args: args}})
	return err
}

func (g *Gateway) Delete(ctx context.Context, table string, filters ...gateway.Filter) error {
	if len(filters) == 0 {
		return &gateway.Error{Op: "delete", Table: table, Message: "filter required", Err: gateway.ErrInvalidQuery}
	}
	query, args := deleteSQL(table, filters)
	_, err := g.exec(ctx, "delete", table, []statement{{query: query, args: args}})
	return err
}

func (g *Gateway) Upload(ctx context.Context, bucket, path string, data []byte, contentType string) (string, error) {
	if g.objects == nil {
		return gateway.DataURL(contentType, data), nil
	}
	var url string
	err := g.cfg.Retry.Do(ctx, func() error {
		var err error
		url, err = g.objects.Upload(ctx, bucket, path, data, contentType)
		return err
	})
	if gateway.IsBucketMissing(err) || errors.Is(err, gateway.ErrNotConfigured) {
		g.logger.Warnw("object storage unavailable, embedding image", "bucket", bucket, "path", path, "error", err)
		return gateway.DataURL(contentType, data), nil
	}
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", path, err)
	}
	return url, nil
}

func (g *Gateway) PublicURL(bucket, path string) string {
	if g.objects == nil {
		return ""
	}
	return g.objects.PublicURL(bucket, path)
}
