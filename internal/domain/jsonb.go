package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONBMap carries a job's free-form metadata in and out of a jsonb column.
// A nil map round-trips as SQL NULL; an empty map is stored as '{}' so the
// column stays queryable.
type JSONBMap map[string]any

// Scan implements sql.Scanner.
func (j *JSONBMap) Scan(value any) error {
	if value == nil {
		*j = nil
		return nil
	}

	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into JSONBMap", value)
	}

	if len(data) == 0 {
		*j = JSONBMap{}
		return nil
	}

	return json.Unmarshal(data, j)
}

// Value implements driver.Valuer.
func (j JSONBMap) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	if len(j) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(j)
}
