package postgres

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/lib/pq"

	"whattoeat/planner-svc/internal/gateway"
)

// row is one record in column order, decoded from its JSON form.
type row struct {
	columns []string
	values  []any
}

// decodeRows turns a struct, map or slice of either into rows. Arrays of
// strings become text[] parameters; other nested values are sent as JSON.
func decodeRows(v any) ([]row, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '{' {
		raw = append(append([]byte{'['}, raw...), ']')
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var objects []map[string]any
	if err := dec.Decode(&objects); err != nil {
		return nil, err
	}

	rows := make([]row, 0, len(objects))
	for _, obj := range objects {
		rows = append(rows, toRow(obj))
	}
	return rows, nil
}

func toRow(obj map[string]any) row {
	if id, ok := obj["id"].(string); ok && id == "" {
		delete(obj, "id")
	}
	columns := make([]string, 0, len(obj))
	for col := range obj {
		columns = append(columns, col)
	}
	sort.Strings(columns)

	r := row{columns: columns, values: make([]any, len(columns))}
	for i, col := range columns {
		r.values[i] = param(obj[col])
	}
	return r
}

func param(v any) any {
	switch x := v.(type) {
	case json.Number:
		return x.String()
	case []any:
		strs := make([]string, 0, len(x))
		for _, item := range x {
			s, ok := item.(string)
			if !ok {
				raw, _ := json.Marshal(x)
				return string(raw)
			}
			strs = append(strs, s)
		}
		return pq.Array(strs)
	case map[string]any:
		raw, _ := json.Marshal(x)
		return string(raw)
	}
	return v
}

type builder struct {
	sb   strings.Builder
	args []any
}

func (b *builder) arg(v any) string {
	b.args = append(b.args, v)
	return "$" + strconv.Itoa(len(b.args))
}

func (b *builder) where(filters []gateway.Filter) {
	for i, f := range filters {
		if i == 0 {
			b.sb.WriteString(" WHERE ")
		} else {
			b.sb.WriteString(" AND ")
		}
		if f.Value == nil {
			b.sb.WriteString(pq.QuoteIdentifier(f.Column) + " IS NULL")
			continue
		}
		b.sb.WriteString(pq.QuoteIdentifier(f.Column) + " = " + b.arg(f.Value))
	}
}

func projection(columns string) string {
	if columns == "" || columns == "*" {
		return "*"
	}
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = pq.QuoteIdentifier(strings.TrimSpace(p))
	}
	return strings.Join(parts, ", ")
}

func selectSQL(table string, q gateway.Query) (string, []any) {
	var b builder
	fmt.Fprintf(&b.sb, "SELECT row_to_json(t) FROM (SELECT %s FROM %s", projection(q.Columns), pq.QuoteIdentifier(table))
	b.where(q.Filters)
	if q.Order != nil {
		dir := "ASC"
		if q.Order.Descending {
			dir = "DESC"
		}
		fmt.Fprintf(&b.sb, " ORDER BY %s %s", pq.QuoteIdentifier(q.Order.Column), dir)
	}
	if q.Limit > 0 {
		fmt.Fprintf(&b.sb, " LIMIT %d", q.Limit)
	}
	b.sb.WriteString(") t")
	return b.sb.String(), b.args
}

func insertSQL(table string, r row, conflict string) (string, []any) {
	var b builder
	cols := make([]string, len(r.columns))
	marks := make([]string, len(r.columns))
	for i, col := range r.columns {
		cols[i] = pq.QuoteIdentifier(col)
		marks[i] = b.arg(r.values[i])
	}
	fmt.Fprintf(&b.sb, "INSERT INTO %s AS t (%s) VALUES (%s)", pq.QuoteIdentifier(table), strings.Join(cols, ", "), strings.Join(marks, ", "))

	if conflict != "" {
		sets := make([]string, 0, len(r.columns))
		for _, col := range r.columns {
			if col == conflict {
				continue
			}
			sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", pq.QuoteIdentifier(col), pq.QuoteIdentifier(col)))
		}
		if len(sets) == 0 {
			fmt.Fprintf(&b.sb, " ON CONFLICT (%s) DO NOTHING", pq.QuoteIdentifier(conflict))
		} else {
			fmt.Fprintf(&b.sb, " ON CONFLICT (%s) DO UPDATE SET %s", pq.QuoteIdentifier(conflict), strings.Join(sets, ", "))
		}
	}
	b.sb.WriteString(" RETURNING row_to_json(t)")
	return b.sb.String(), b.args
}

func updateSQL(table string, patch row, filters []gateway.Filter) (string, []any) {
	var b builder
	sets := make([]string, len(patch.columns))
	for i, col := range patch.columns {
		sets[i] = pq.QuoteIdentifier(col) + " = " + b.arg(patch.values[i])
	}
	fmt.Fprintf(&b.sb, "UPDATE %s SET %s", pq.QuoteIdentifier(table), strings.Join(sets, ", "))
	b.where(filters)
	return b.sb.String(), b.args
}

func deleteSQL(table string, filters []gateway.Filter) (string, []any) {
	var b builder
	fmt.Fprintf(&b.sb, "DELETE FROM %s", pq.QuoteIdentifier(table))
	b.where(filters)
	return b.sb.String(), b.args
}
