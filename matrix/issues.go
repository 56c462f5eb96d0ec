package matrix

import (
	"fmt"

	"github.com/warp/budget-engine/budget"
)

// IssueKind classifies a record the builder could not use.
type IssueKind string

const (
	IssueUnknownProject     IssueKind = "unknown_project"
	IssueMissingLineItemID  IssueKind = "missing_line_item_id"
	IssueMalformedMonth     IssueKind = "malformed_month"
	IssueOutOfWindow        IssueKind = "out_of_window"
	IssueUnmatchedActual    IssueKind = "unmatched_actual"
	IssueUnreconciledActual IssueKind = "unreconciled_actual"
)

// Issue is a non-fatal data problem: the record was skipped and the build
// went on. Callers decide whether to log it.
type Issue struct {
	Kind      IssueKind
	Source    Origin
	ProjectID budget.ProjectID
	Ref       string // line item / rubro id as received
	Month     string
	Detail    string
}

func (i Issue) String() string {
	s := fmt.Sprintf("%s: %s project=%s ref=%q", i.Source, i.Kind, i.ProjectID, i.Ref)
	if i.Month != "" {
		s += " month=" + i.Month
	}
	if i.Detail != "" {
		s += " (" + i.Detail + ")"
	}
	return s
}

// CountByKind is a small summary for logging.
func CountByKind(issues []Issue) map[IssueKind]int {
	counts := make(map[IssueKind]int)
	for _, i := range issues {
		counts[i.Kind]++
	}
	return counts
}
