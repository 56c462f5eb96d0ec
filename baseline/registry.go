/*
Package baseline answers "which baseline is active" and keeps line items of
competing baselines apart.

PURPOSE:
  A project may hold line items from several baselines at once (history,
  amendments, a rejected hand-off). Every read of a project's budget must be
  scoped to the active baseline before anything is summed, or totals mix
  baselines. This package owns that scoping.

COMPONENTS:
  Registry:         resolves the active baseline from project metadata
  FilterByBaseline: keeps only the line items of one baseline

MISSING BASELINE:
  A project that has not been handed off yet has no baseline. That is a
  normal state: the registry returns an empty ActiveBaseline and the filter
  treats an empty id as "no filtering".

SEE ALSO:
  - budget/types.go: LineItem.Tag (Tagged | Legacy)
  - portfolio/service.go: registry -> filter -> matrix
*/
package baseline

import (
	"context"
	"fmt"
	"strings"

	"github.com/warp/budget-engine/budget"
)

// ActiveBaseline is the registry's answer. Both fields are empty when the
// project has no baseline yet.
type ActiveBaseline struct {
	ID     budget.BaselineID
	Status budget.BaselineStatus
}

// Found reports whether a baseline is set.
func (a ActiveBaseline) Found() bool { return a.ID != "" }

// Registry resolves active baselines.
type Registry struct {
	Projects budget.ProjectStore
}

func NewRegistry(projects budget.ProjectStore) *Registry {
	return &Registry{Projects: projects}
}

// ActiveBaseline reads the project's metadata record. An absent record or one
// without a baseline reference is not an error.
func (r *Registry) ActiveBaseline(ctx context.Context, projectID budget.ProjectID) (ActiveBaseline, error) {
	if strings.TrimSpace(string(projectID)) == "" {
		return ActiveBaseline{}, budget.InvalidArgument("ActiveBaseline", "projectID", "empty")
	}

	md, err := r.Projects.GetProjectMetadata(ctx, projectID)
	if err != nil {
		return ActiveBaseline{}, fmt.Errorf("load metadata for %s: %w", projectID, err)
	}
	if md == nil || strings.TrimSpace(string(md.ActiveBaselineID)) == "" {
		return ActiveBaseline{}, nil
	}

	return ActiveBaseline{
		ID:     budget.BaselineID(strings.TrimSpace(string(md.ActiveBaselineID))),
		Status: md.BaselineStatus,
	}, nil
}
