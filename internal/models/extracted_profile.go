package models

import "time"

// ExtractedProfile is a scraped record believed to match the monitored
// person on a broker site. RemovedDate is set when a scan no longer
// observes the record and cleared again if it reappears.
type ExtractedProfile struct {
	ID             string     `json:"id"`
	BrokerID       string     `json:"broker_id"`
	ProfileQueryID string     `json:"profile_query_id"`
	Name           string     `json:"name"`
	AlternateNames []string   `json:"alternate_names,omitempty"`
	Addresses      []string   `json:"addresses,omitempty"`
	Relatives      []string   `json:"relatives,omitempty"`
	ProfileURL     string     `json:"profile_url"`
	Age            string     `json:"age,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	RemovedDate    *time.Time `json:"removed_date,omitempty"`
}

// Identifier returns the key used to recognize the same record across
// scans. Brokers shuffle relative/address ordering between renders, so
// the profile URL is preferred when present.
func (p *ExtractedProfile) Identifier() string {
	if p.ProfileURL != "" {
		return p.ProfileURL
	}
	id := p.Name
	for _, a := range p.Addresses {
		id += "|" + a
	}
	return id
}

// Removed reports whether the record is currently considered delisted.
func (p *ExtractedProfile) Removed() bool {
	return p.RemovedDate != nil
}
