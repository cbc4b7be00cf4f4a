package models

import "time"

// ScanJobData is the scheduling state for the recurring scan of one
// (broker, profile query) tuple. A nil PreferredRunDate means the scan
// is not currently scheduled.
type ScanJobData struct {
	BrokerID         string     `json:"broker_id"`
	ProfileQueryID   string     `json:"profile_query_id"`
	LastRunDate      *time.Time `json:"last_run_date,omitempty"`
	PreferredRunDate *time.Time `json:"preferred_run_date,omitempty"`
}

// Key returns the composite storage key for the tuple.
func (s *ScanJobData) Key() string {
	return s.BrokerID + "|" + s.ProfileQueryID
}

// Due reports whether the scan should run at or before now.
func (s *ScanJobData) Due(now time.Time) bool {
	return s.PreferredRunDate != nil && !s.PreferredRunDate.After(now)
}

// Telemetry milestone names for the opt-out lifecycle.
const (
	MilestoneSubmitted      = "submitted"
	MilestoneConfirmedWeek1 = "confirmed_week1"
	MilestoneConfirmedWeek2 = "confirmed_week2"
)

// OptOutJobData is the scheduling state for the removal workflow of one
// extracted record.
type OptOutJobData struct {
	BrokerID           string     `json:"broker_id"`
	ProfileQueryID     string     `json:"profile_query_id"`
	ExtractedProfileID string     `json:"extracted_profile_id"`
	CreatedAt          time.Time  `json:"created_at"`
	LastRunDate        *time.Time `json:"last_run_date,omitempty"`
	PreferredRunDate   *time.Time `json:"preferred_run_date,omitempty"`

	// SubmittedSuccessfullyDate is set on the first successful opt-out
	// submission and never overwritten afterwards.
	SubmittedSuccessfullyDate *time.Time `json:"submitted_successfully_date,omitempty"`

	// AttemptCount counts opt-out submissions for this record.
	AttemptCount int `json:"attempt_count"`

	// Telemetry milestone flags. Each transitions false to true exactly
	// once; the telemetry collaborator consumes them.
	SubmittedPixelFired      bool `json:"submitted_pixel_fired"`
	ConfirmedWeek1PixelFired bool `json:"confirmed_week1_pixel_fired"`
	ConfirmedWeek2PixelFired bool `json:"confirmed_week2_pixel_fired"`
}

// Key returns the composite storage key for the record's opt-out job.
func (o *OptOutJobData) Key() string {
	return o.BrokerID + "|" + o.ProfileQueryID + "|" + o.ExtractedProfileID
}

// Due reports whether the opt-out should run at or before now.
func (o *OptOutJobData) Due(now time.Time) bool {
	return o.PreferredRunDate != nil && !o.PreferredRunDate.After(now)
}
