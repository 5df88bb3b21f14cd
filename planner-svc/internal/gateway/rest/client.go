// Package rest talks to the hosted backend: a PostgREST-style table API, an
// object storage API and a password auth API behind one base URL.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"whattoeat/planner-svc/internal/gateway"
	"whattoeat/planner-svc/internal/kv"
)

type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

type Config struct {
	URL     string
	Key     string
	Timeout time.Duration
	Retry   gateway.RetryPolicy
}

type Client struct {
	cfg    Config
	client HTTPClient
	auth   *Auth
	logger *zap.SugaredLogger
}

var _ gateway.Gateway = (*Client)(nil)

func New(cfg Config, client HTTPClient, store kv.Store, logger *zap.SugaredLogger) *Client {
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	c := &Client{
		cfg:    cfg,
		client: client,
		logger: logger,
	}
	c.auth = &Auth{c: c, kv: store}
	return c
}

func (c *Client) Kind() gateway.Kind { return gateway.KindHosted }

func (c *Client) Auth() gateway.Auth { return c.auth }

type request struct {
	op      string
	table   string
	method  string
	path    string
	query   url.Values
	body    io.Reader
	headers map[string]string
}

// backendError is the error body shape shared by the table, storage and
// auth APIs; each fills a different subset.
type backendError struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	Error       string `json:"error"`
	Description string `json:"error_description"`
	Msg         string `json:"msg"`
	StatusCode  string `json:"statusCode"`
}

func (b backendError) text() string {
	for _, s := range []string{b.Message, b.Description, b.Msg, b.Error} {
		if s != "" {
			return s
		}
	}
	return ""
}

func (c *Client) do(ctx context.Context, req request, out any) error {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	target := c.cfg.URL + req.path
	if len(req.query) > 0 {
		target += "?" + req.query.Encode()
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, target, req.body)
	if err != nil {
		return &gateway.Error{Op: req.op, Table: req.table, Err: err}
	}
	httpReq.Header.Set("apikey", c.cfg.Key)
	httpReq.Header.Set("Authorization", "Bearer "+c.auth.bearer(c.cfg.Key))
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range req.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return &gateway.Error{Op: req.op, Table: req.table, Err: errors.Join(gateway.ErrUnavailable, err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &gateway.Error{Op: req.op, Table: req.table, Err: errors.Join(gateway.ErrUnavailable, err)}
	}

	if resp.StatusCode >= http.StatusBadRequest {
		var body backendError
		_ = json.Unmarshal(raw, &body)
		msg := body.text()
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return &gateway.Error{
			Op:      req.op,
			Table:   req.table,
			Code:    body.Code,
			Message: msg,
			Err:     classify(resp.StatusCode, body, msg),
		}
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &gateway.Error{Op: req.op, Table: req.table, Message: "decode response", Err: err}
	}
	return nil
}

func classify(status int, body backendError, msg string) error {
	switch {
	case body.Code == "PGRST205" || body.Code == "42P01",
		strings.Contains(msg, "Could not find the table"),
		strings.Contains(msg, "relation") && strings.Contains(msg, "does not exist"):
		return gateway.ErrTableMissing
	case strings.Contains(msg, "Bucket not found"):
		return gateway.ErrBucketMissing
	case status == http.StatusUnauthorized, status == http.StatusForbidden, body.Error == "invalid_grant":
		return gateway.ErrUnauthorized
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests, status >= http.StatusInternalServerError:
		return gateway.ErrUnavailable
	}
	return gateway.ErrRejected
}

func jsonBody(v any) (io.Reader, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(raw), nil
}

func filterValues(q url.Values, filters []gateway.Filter) {
	for _, f := range filters {
		q.Add(f.Column, "eq."+formatValue(f.Value))
	}
}

func formatValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case nil:
		return "null"
	}
	return fmt.Sprint(v)
}

func (c *Client) Select(ctx context.Context, table string, q gateway.Query, dest any) error {
	params := url.Values{}
	columns := q.Columns
	if columns == "" {
		columns = "*"
	}
	params.Set("select", columns)
	filterValues(params, q.Filters)
	if q.Order != nil {
		dir := "asc"
		if q.Order.Descending {
			dir = "desc"
		}
		params.Set("order", q.Order.Column+"."+dir)
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}

	return c.do(ctx, request{
		op:     "select",
		table:  table,
		method: http.MethodGet,
		path:   "/rest/v1/" + table,
		query:  params,
	}, dest)
}

func (c *Client) Insert(ctx context.Context, table string, rows any, dest any) error {
	prefer := "return=minimal"
	if dest != nil {
		prefer = "return=representation"
	}
	return c.cfg.Retry.Do(ctx, func() error {
		body, err := jsonBody(rows)
		if err != nil {
			return &gateway.Error{Op: "insert", Table: table, Err: errors.Join(gateway.ErrRejected, err)}
		}
		return c.do(ctx, request{
			op:      "insert",
			table:   table,
			method:  http.MethodPost,
			path:    "/rest/v1/" + table,
			body:    body,
			headers: map[string]string{"Prefer": prefer},
		}, dest)
	})
}

func (c *Client) Upsert(ctx context.Context, table string, row any, onConflict string) error {
	params := url.Values{}
	if onConflict != "" {
		params.Set("on_conflict", onConflict)
	}
	return c.cfg.Retry.Do(ctx, func() error {
		body, err := jsonBody(row)
		if err != nil {
			return &gateway.Error{Op: "upsert", Table: table, Err: errors.Join(gateway.ErrRejected, err)}
		}
		return c.do(ctx, request{
			op:      "upsert",
			table:   table,
			method:  http.MethodPost,
			path:    "/rest/v1/" + table,
			query:   params,
			body:    body,
			headers: map[string]string{"Prefer": "resolution=merge-duplicates,return=minimal"},
		}, nil)
	})
}

func (c *Client) Update(ctx context.Context, table string, patch map[string]any, filters ...gateway.Filter) error {
	if len(filters) == 0 {
		return &gateway.Error{Op: "update", Table: table, Message: "filter required", Err: gateway.ErrInvalidQuery}
	}
	params := url.Values{}
	filterValues(params, filters)
	return c.cfg.Retry.Do(ctx, func() error {
		body, err := jsonBody(patch)
		if err != nil {
			return &gateway.Error{Op: "update", Table: table, Err: errors.Join(gateway.ErrRejected, err)}
		}
		return c.do(ctx, request{
			op:     "update",
			table:  table,
			method: http.MethodPatch,
			path:   "/rest/v1/" + table,
			query:  params,
			body:   body,
		}, nil)
	})
}

func (c *Client) Delete(ctx context.Context, table string, filters ...gateway.Filter) error {
	if len(filters) == 0 {
		return &gateway.Error{Op: "delete", Table: table, Message: "filter required", Err: gateway.ErrInvalidQuery}
	}
	params := url.Values{}
	filterValues(params, filters)
	return c.cfg.Retry.Do(ctx, func() error {
		return c.do(ctx, request{
			op:     "delete",
			table:  table,
			method: http.MethodDelete,
			path:   "/rest/v1/" + table,
			query:  params,
		}, nil)
	})
}
