package icloud

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// requireKeys fails unless raw is a JSON object carrying every key.
func requireKeys(raw []byte, keys ...string) (map[string]json.RawMessage, error) {
	var object map[string]json.RawMessage
	if err := json.Unmarshal(raw, &object); err != nil {
		return nil, fmt.Errorf("expected object: %v", err)
	}
	if object == nil {
		return nil, fmt.Errorf("expected object, got null")
	}
	var missing []string
	for _, key := range keys {
		value, ok := object[key]
		if !ok || string(value) == "null" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("missing %s", strings.Join(missing, ", "))
	}
	return object, nil
}
