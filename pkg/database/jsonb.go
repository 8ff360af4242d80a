package database

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONB maps a Postgres jsonb column onto a Go value
type JSONB[T any] struct {
	Data T
}

func NewJSONB[T any](data T) JSONB[T] {
	return JSONB[T]{Data: data}
}

// Scan implements sql.Scanner. NULL leaves the zero value.
func (j *JSONB[T]) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		var zero T
		j.Data = zero
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("scan jsonb into %T: unsupported source %T", j.Data, src)
	}
	return json.Unmarshal(raw, &j.Data)
}

// Value implements driver.Valuer
func (j JSONB[T]) Value() (driver.Value, error) {
	return json.Marshal(j.Data)
}
