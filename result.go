package sqlbridge

import (
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
)

// Row is one result row keyed by column name. Byte slice cells are
// normalized to string so script hosts see text, not driver buffers.
type Row map[string]any

// WriteResult reports the outcome of update, insert and batch verbs.
// For batches AffectedRows sums every statement and LastInsertID is
// the last non-zero id the server handed back.
type WriteResult struct {
	AffectedRows int64
	LastInsertID int64
}

// Result is the envelope every request resolves to, exactly once.
// Which payload field is meaningful follows from Verb; Err is set
// instead when the request failed.
type Result struct {
	RequestID string
	Verb      Verb
	Scalar    any
	Row       Row
	Rows      []Row
	Write     WriteResult
	Err       error
	Elapsed   time.Duration
}

// firstScalar reads the first column of the first row, nil when the
// result set is empty.
func firstScalar(rs *sql.Rows) (any, error) {
	defer rs.Close()
	if !rs.Next() {
		return nil, rs.Err()
	}
	vals, err := sqlx.SliceScan(rs)
	if err != nil { return nil, err }
	if len(vals) == 0 { return nil, nil }
	return normalizeValue(vals[0]), nil
}

// firstRow maps the first row, nil when the result set is empty.
func firstRow(rs *sql.Rows) (Row, error) {
	defer rs.Close()
	if !rs.Next() {
		return nil, rs.Err()
	}
	m := map[string]any{}
	if err := sqlx.MapScan(rs, m); err != nil { return nil, err }
	normalizeRow(m)
	return Row(m), nil
}

// collectRows drains the result set into ordered row maps.
func collectRows(rs *sql.Rows) ([]Row, error) {
	defer rs.Close()
	out := []Row{}
	for rs.Next() {
		m := map[string]any{}
		if err := sqlx.MapScan(rs, m); err != nil { return nil, err }
		normalizeRow(m)
		out = append(out, Row(m))
	}
	return out, rs.Err()
}

// writeResultFrom extracts counts from a driver result. LastInsertId
// errors are ignored: not every statement produces one.
func writeResultFrom(r sql.Result) WriteResult {
	var w WriteResult
	if n, err := r.RowsAffected(); err == nil { w.AffectedRows = n }
	if id, err := r.LastInsertId(); err == nil { w.LastInsertID = id }
	return w
}

func normalizeValue(v any) any {
	if b, ok := v.([]byte); ok { return string(b) }
	return v
}

func normalizeRow(m map[string]any) {
	for k, v := range m {
		m[k] = normalizeValue(v)
	}
}
