package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Document is an opaque JSON object stored in a jsonb column. Its keys are not interpreted
// by the service.
type Document map[string]any

func (d Document) Value() (driver.Value, error) {
	if d == nil {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(map[string]any(d))
	if err != nil {
		return nil, fmt.Errorf("document: marshal: %w", err)
	}
	return b, nil
}

func (d *Document) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*d = Document{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	case map[string]any:
		*d = Document(v)
		return nil
	default:
		return fmt.Errorf("document: unsupported scan type %T", src)
	}
	out := Document{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return fmt.Errorf("document: unmarshal: %w", err)
		}
	}
	*d = out
	return nil
}
