package types

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Compile-time interface assertions. These ensure Props implements both
// sql.Scanner and driver.Valuer, catching signature drift at compile time.
// Scan is on the pointer receiver; Value is on the value receiver.
var (
	_ sql.Scanner   = (*Props)(nil)
	_ driver.Valuer = Props(nil)
)

// Props is the opaque key-value mapping passed to a template renderer.
// It is structurally untyped; validity of individual fields is the
// template's responsibility. Stored as JSONB.
type Props map[string]any

// Scan implements the sql.Scanner interface for reading JSONB from the database.
func (p *Props) Scan(value any) error {
	if value == nil {
		*p = nil
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("jsonb: unsupported scan type %T", value)
	}
	return json.Unmarshal(data, p)
}

// Value implements the driver.Valuer interface for writing JSONB to the database.
// A nil map is stored as an empty JSON object so that templates can always
// range over props without a nil check.
func (p Props) Value() (driver.Value, error) {
	if p == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(p)
}

// String extracts a string-typed prop, returning fallback when the key is
// absent, nil, or not a string. Templates use this for optional fields.
func (p Props) String(key, fallback string) string {
	if p == nil {
		return fallback
	}
	if s, ok := p[key].(string); ok && s != "" {
		return s
	}
	return fallback
}
