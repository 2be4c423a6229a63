package models

import (
	"database/sql/driver"
	"encoding/json"

	"github.com/pkg/errors"
)

// StringList is a []string persisted as a JSONB array.
type StringList []string

// ActionList is a []Action persisted as a JSONB array.
type ActionList []Action

func scanJSON(src interface{}, dest interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return errors.Errorf("unsupported jsonb source type %T", src)
	}
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dest)
}

func valueJSON(v interface{}) (driver.Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	return valueJSON([]string(l))
}

func (l *StringList) Scan(src interface{}) error { return scanJSON(src, (*[]string)(l)) }

func (l ActionList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	return valueJSON([]Action(l))
}

func (l *ActionList) Scan(src interface{}) error { return scanJSON(src, (*[]Action)(l)) }

func (c Condition) Value() (driver.Value, error) { return valueJSON(c) }

func (c *Condition) Scan(src interface{}) error { return scanJSON(src, c) }

func (r TaskResult) Value() (driver.Value, error) { return valueJSON(r) }

func (r *TaskResult) Scan(src interface{}) error { return scanJSON(src, r) }

func (d SummaryData) Value() (driver.Value, error) { return valueJSON(d) }

func (d *SummaryData) Scan(src interface{}) error { return scanJSON(src, d) }

func (d LogData) Value() (driver.Value, error) { return valueJSON(d) }

func (d *LogData) Scan(src interface{}) error { return scanJSON(src, d) }

func (d TaskDescriptor) Value() (driver.Value, error) { return valueJSON(d) }

func (d *TaskDescriptor) Scan(src interface{}) error { return scanJSON(src, d) }
