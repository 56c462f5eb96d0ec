package budget

import (
	"fmt"
	"strconv"
	"strings"
)

// =============================================================================
// CANONICAL KEYS
// =============================================================================

// CanonicalKey is the case-folded, trimmed form of a line item identifier.
// "labor_001" and " LABOR_001 " share one key and therefore one matrix row.
func CanonicalKey(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// =============================================================================
// STORAGE KEYS - <rubro>#<baseline>#<ordinal>
// =============================================================================

const storageKeySep = "#"

// StorageKey builds the per-project unique key of a materialized line item.
func StorageKey(rubroID string, baselineID BaselineID, ordinal int) string {
	return strings.Join([]string{
		strings.TrimSpace(rubroID),
		strings.TrimSpace(string(baselineID)),
		strconv.Itoa(ordinal),
	}, storageKeySep)
}

// ParseStorageKey splits a storage key back into its parts.
func ParseStorageKey(key string) (rubroID string, baselineID BaselineID, ordinal int, err error) {
	parts := strings.Split(key, storageKeySep)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return "", "", 0, fmt.Errorf("storage key %q: %w", key, ErrInvalidArgument)
	}
	ordinal, err = strconv.Atoi(parts[2])
	if err != nil || ordinal < 1 {
		return "", "", 0, fmt.Errorf("storage key %q: bad ordinal: %w", key, ErrInvalidArgument)
	}
	return parts[0], BaselineID(parts[1]), ordinal, nil
}
