package postgres

import (
	"fmt"

	"github.com/goccy/go-json"
)

// marshalJSON wraps the JSONB encode path; nil stays NULL in the column.
func marshalJSON(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal jsonb: %w", err)
	}
	return data, nil
}

// unmarshalJSON tolerates NULL columns by leaving dst untouched.
func unmarshalJSON(data []byte, dst any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("unmarshal jsonb: %w", err)
	}
	return nil
}
