package models

import (
	"strings"
	"time"
)

// Address is one known city/state combination for the monitored person.
type Address struct {
	City  string `toml:"city" json:"city"`
	State string `toml:"state" json:"state"`
}

func (a Address) String() string {
	return a.City + ", " + a.State
}

// ProfileQuery is one concrete search combination (name, location and
// birth year variant). Queries are broker-independent; each broker runs
// its own scan job per query. Deprecated queries are kept for history
// but never scheduled again.
type ProfileQuery struct {
	ID         string    `json:"id"`
	FirstName  string    `json:"first_name"`
	MiddleName string    `json:"middle_name,omitempty"`
	LastName   string    `json:"last_name"`
	City       string    `json:"city"`
	State      string    `json:"state"`
	BirthYear  int       `json:"birth_year"`
	Deprecated bool      `json:"deprecated"`
	CreatedAt  time.Time `json:"created_at"`
}

// FullName joins the name parts with single spaces.
func (q *ProfileQuery) FullName() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{q.FirstName, q.MiddleName, q.LastName} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}
