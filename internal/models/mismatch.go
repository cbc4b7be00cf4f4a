package models

// MismatchStatus classifies a parent/child broker pair by comparing the
// latest matchesFound counts on each side. Diagnostic only; it never
// influences scheduling.
type MismatchStatus string

const (
	MismatchNone       MismatchStatus = "noMismatch"
	MismatchParentMore MismatchStatus = "parentSiteHasMoreMatches"
	MismatchChildMore  MismatchStatus = "childSiteHasMoreMatches"
)

// Mismatch is one diagnostic comparison result.
type Mismatch struct {
	ParentBrokerID string         `json:"parent_broker_id"`
	ChildBrokerID  string         `json:"child_broker_id"`
	ProfileQueryID string         `json:"profile_query_id"`
	ParentMatches  int            `json:"parent_matches"`
	ChildMatches   int            `json:"child_matches"`
	Status         MismatchStatus `json:"status"`
}

// CompareMatches derives the status from the two counts.
func CompareMatches(parent, child int) MismatchStatus {
	switch {
	case parent > child:
		return MismatchParentMore
	case child > parent:
		return MismatchChildMore
	default:
		return MismatchNone
	}
}
