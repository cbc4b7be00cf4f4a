package models

import "time"

// MaxAttemptsUnlimited is the sentinel for brokers that may be retried
// without an attempt cap.
const MaxAttemptsUnlimited = -1

// ScheduleConfig holds the per-broker scheduling intervals, all in hours.
type ScheduleConfig struct {
	RetryErrorHours        int `toml:"retry_error_hours" validate:"gt=0"`
	ConfirmOptOutScanHours int `toml:"confirm_opt_out_scan_hours" validate:"gt=0"`
	MaintenanceScanHours   int `toml:"maintenance_scan_hours" validate:"gt=0"`

	// MaxAttempts caps opt-out retries for expired requests.
	// MaxAttemptsUnlimited (-1) disables the cap.
	MaxAttempts int `toml:"max_attempts" validate:"gte=-1,ne=0"`

	// NextOptOutAttemptHours is the recheck interval applied after an
	// opt-out request was submitted but no scan has confirmed it yet.
	NextOptOutAttemptHours int `toml:"next_opt_out_attempt_hours" validate:"gt=0"`
}

func (c ScheduleConfig) RetryError() time.Duration {
	return time.Duration(c.RetryErrorHours) * time.Hour
}

func (c ScheduleConfig) ConfirmOptOutScan() time.Duration {
	return time.Duration(c.ConfirmOptOutScanHours) * time.Hour
}

func (c ScheduleConfig) MaintenanceScan() time.Duration {
	return time.Duration(c.MaintenanceScanHours) * time.Hour
}

func (c ScheduleConfig) NextOptOutAttempt() time.Duration {
	return time.Duration(c.NextOptOutAttemptHours) * time.Hour
}

// AttemptsUnlimited reports whether the broker has no opt-out attempt cap.
func (c ScheduleConfig) AttemptsUnlimited() bool {
	return c.MaxAttempts == MaxAttemptsUnlimited
}

// MirrorSite is a site that republishes a parent broker's listings.
type MirrorSite struct {
	Name      string     `toml:"name" json:"name"`
	URL       string     `toml:"url" json:"url"`
	AddedAt   time.Time  `toml:"added_at" json:"added_at"`
	RemovedAt *time.Time `toml:"removed_at" json:"removed_at,omitempty"`
}

// WasRemoved reports whether the mirror was delisted before the given time.
func (m MirrorSite) WasRemoved(at time.Time) bool {
	return m.RemovedAt != nil && m.RemovedAt.Before(at)
}

// ScanSelectors are the CSS selectors used to pull match records out of a
// broker's rendered results page.
type ScanSelectors struct {
	Result    string `toml:"result" validate:"required"`
	Name      string `toml:"name" validate:"required"`
	AltNames  string `toml:"alt_names"`
	Address   string `toml:"address"`
	Relatives string `toml:"relatives"`
	Profile   string `toml:"profile_link"`
}

// OptOutForm describes how the automation runner fills the broker's
// removal-request form. Scan-only brokers (mirrors whose removals
// propagate from the parent) leave it empty.
type OptOutForm struct {
	URL           string `toml:"url" validate:"omitempty,url"`
	EmailField    string `toml:"email_field"`
	ProfileField  string `toml:"profile_field"`
	SubmitButton  string `toml:"submit_button" validate:"required_with=URL"`
	HasCaptcha    bool   `toml:"has_captcha"`
	CaptchaSite   string `toml:"captcha_site_key"`
	NeedsEmailURL bool   `toml:"needs_email_confirmation"`
}

// Broker is one third-party site that may list personal data.
type Broker struct {
	ID       string `toml:"id" json:"id" validate:"required"`
	Name     string `toml:"name" json:"name" validate:"required"`
	URL      string `toml:"url" json:"url" validate:"required,url"`
	ScanURL  string `toml:"scan_url" json:"scan_url" validate:"required"`
	Version  string `toml:"version" json:"version"`
	ParentID string `toml:"parent_id" json:"parent_id,omitempty"`

	Schedule  ScheduleConfig `toml:"schedule" json:"schedule" validate:"required"`
	Selectors ScanSelectors  `toml:"selectors" json:"selectors"`
	OptOut    OptOutForm     `toml:"opt_out" json:"opt_out"`
	Mirrors   []MirrorSite   `toml:"mirrors" json:"mirrors,omitempty"`
}

// IsChild reports whether this broker mirrors another broker's listings.
func (b *Broker) IsChild() bool {
	return b.ParentID != ""
}
