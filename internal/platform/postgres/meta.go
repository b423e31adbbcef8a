package postgres

import (
	"encoding/json"
	"fmt"

	"github.com/marrowlabs/enrich-api/internal/domain"
)

// metaParam converts a Meta map to a driver value for a jsonb column.
// A nil map is stored as NULL rather than an empty object, so "never set"
// stays distinguishable from "set to nothing".
func metaParam(m domain.Meta) (any, error) {
	if m == nil {
		return nil, nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return raw, nil
}

// scanMeta decodes a jsonb column value into a Meta map. NULL scans as nil.
func scanMeta(raw []byte) (domain.Meta, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var m domain.Meta
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return m, nil
}
