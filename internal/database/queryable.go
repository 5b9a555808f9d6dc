package database

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Queryable is the union of the sqlx methods that both *sqlx.DB and *sqlx.Tx
// satisfy. Store methods accept a Queryable so that callers can choose
// whether a given operation participates in a wider transaction.
type Queryable interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	NamedExec(query string, arg interface{}) (sql.Result, error)
	Get(dest interface{}, query string, args ...interface{}) error
	Select(dest interface{}, query string, args ...interface{}) error
	Rebind(query string) string
}

// JsonColumn is a container for scanning JSON/JSONB columns (typically the
// output of a JSONB_AGG) in to a typed Go value.
type JsonColumn[T any] struct {
	val *T
}

func (j *JsonColumn[T]) Scan(src any) error {
	if src == nil {
		j.val = nil
		return nil
	}

	srcBytes, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T in to JsonColumn", src)
	}

	var value T
	if err := json.Unmarshal(srcBytes, &value); err != nil {
		return err
	}

	j.val = &value
	return nil
}

func (j JsonColumn[T]) Value() (driver.Value, error) {
	if j.val == nil {
		return nil, nil
	}

	return json.Marshal(*j.val)
}

// Get returns the scanned value, or nil if the column was NULL.
func (j *JsonColumn[T]) Get() *T { return j.val }

// NewJsonColumn wraps a value for writing to a JSON/JSONB column.
func NewJsonColumn[T any](val T) JsonColumn[T] {
	return JsonColumn[T]{val: &val}
}
