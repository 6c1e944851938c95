package core

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
)

// StringSlice stores a []string as a JSON array in a single text column.
// Implements sql.Scanner/driver.Valuer so GORM can round-trip it without a
// join table — used for Job.UserComments, which is append-only and read as
// a whole on every load.
type StringSlice []string

// Value implements driver.Valuer.
func (s StringSlice) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (s *StringSlice) Scan(value any) error {
	if value == nil {
		*s = nil
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return errors.New("core: StringSlice.Scan: unsupported type")
	}
	if len(raw) == 0 {
		*s = nil
		return nil
	}
	return json.Unmarshal(raw, s)
}
