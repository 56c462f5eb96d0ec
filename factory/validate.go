package factory

import (
	"github.com/warp/budget-engine/budget"
)

// ValidateStorageKeys checks the line items of one materialized baseline:
// every storage key is well formed, unique within the project, and names
// the baseline the item is tagged with.
func ValidateStorageKeys(projectID budget.ProjectID, baselineID budget.BaselineID, items []budget.LineItem) error {
	seen := make(map[string]bool, len(items))

	for _, item := range items {
		_, keyBaseline, _, err := budget.ParseStorageKey(item.StorageKey)
		if err != nil {
			return &budget.StorageKeyError{ProjectID: projectID, StorageKey: item.StorageKey, Cause: err}
		}
		if seen[item.StorageKey] {
			return &budget.StorageKeyError{ProjectID: projectID, StorageKey: item.StorageKey, Cause: budget.ErrDuplicateStorageKey}
		}
		seen[item.StorageKey] = true

		tag, ok := item.Tag().(budget.Tagged)
		if !ok || tag.BaselineID != baselineID || keyBaseline != baselineID {
			return &budget.StorageKeyError{ProjectID: projectID, StorageKey: item.StorageKey, Cause: budget.ErrBaselineLinkage}
		}
	}
	return nil
}
