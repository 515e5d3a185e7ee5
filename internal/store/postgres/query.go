package postgres

import (
	"database/sql"
	"errors"
	"strconv"
	"strings"

	"pipeplane/internal/store"

	"github.com/lib/pq"
)

const uniqueViolation = "23505"

// mapError translates driver errors into store sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return store.ErrDuplicate
	}
	return err
}

// whereBuilder collects parameterized conditions for list queries.
// Placeholders are numbered in the order arguments are added.
type whereBuilder struct {
	conds []string
	args  []interface{}
}

// add appends a condition; "?" in cond is replaced by the next placeholder.
func (b *whereBuilder) add(cond string, arg interface{}) {
	b.args = append(b.args, arg)
	b.conds = append(b.conds, strings.Replace(cond, "?", "$"+strconv.Itoa(len(b.args)), 1))
}

func (b *whereBuilder) clause() string {
	if len(b.conds) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(b.conds, " AND ")
}

// page appends LIMIT/OFFSET placeholders and returns the suffix and full argument list.
func (b *whereBuilder) page(p store.Page) (string, []interface{}) {
	n := len(b.args)
	args := append(append([]interface{}{}, b.args...), p.Limit, p.Offset)
	return "LIMIT $" + strconv.Itoa(n+1) + " OFFSET $" + strconv.Itoa(n+2), args
}

// jsonOrEmpty returns raw as a string suitable for a JSONB parameter.
func jsonOrEmpty(raw []byte) string {
	if len(raw) == 0 {
		return "{}"
	}
	return string(raw)
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}
