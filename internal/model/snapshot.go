// Package model defines the usage snapshot emitted to the widget.
package model

import "time"

// UnknownSubscription is reported when the credential does not name a plan.
const UnknownSubscription = "unknown"

// Limit is a single quota bucket. Used is a 0-100 percentage.
type Limit struct {
	Used     float64 `json:"used"`
	Limit    float64 `json:"limit"`
	ResetsAt string  `json:"resetsAt,omitempty"`
}

// DefaultLimit returns the zero-usage bucket used when data is missing.
func DefaultLimit() Limit {
	return Limit{Used: 0, Limit: 100}
}

// Extra holds paid overage usage. Monetary values are in major currency units.
type Extra struct {
	Used        float64 `json:"used"`
	Limit       float64 `json:"limit"`
	Utilization float64 `json:"utilization"`
}

// DayBar is one entry of the display history shown in the widget chart.
type DayBar struct {
	Day     string  `json:"day"`
	Date    string  `json:"date"`
	Percent float64 `json:"percent"`
}

// Snapshot is one fetch cycle's complete usage picture.
type Snapshot struct {
	Session          Limit    `json:"session"`
	Weekly           Limit    `json:"weekly"`
	Sonnet           Limit    `json:"sonnet"`
	Opus             Limit    `json:"opus"`
	Extra            *Extra   `json:"extra,omitempty"`
	SubscriptionType string   `json:"subscriptionType"`
	LastUpdated      string   `json:"lastUpdated"`
	Error            *string  `json:"error"`
	DailyHistory     []DayBar `json:"dailyHistory,omitempty"`
}

// NewSnapshot returns a snapshot with every bucket at its default,
// stamped with the time of day of now.
func NewSnapshot(subscriptionType string, now time.Time) Snapshot {
	if subscriptionType == "" {
		subscriptionType = UnknownSubscription
	}
	return Snapshot{
		Session:          DefaultLimit(),
		Weekly:           DefaultLimit(),
		Sonnet:           DefaultLimit(),
		Opus:             DefaultLimit(),
		SubscriptionType: subscriptionType,
		LastUpdated:      now.Format("15:04:05"),
	}
}

// SetError records msg as the snapshot's error and resets usage to defaults.
func (s *Snapshot) SetError(msg string) {
	s.Session = DefaultLimit()
	s.Weekly = DefaultLimit()
	s.Sonnet = DefaultLimit()
	s.Opus = DefaultLimit()
	s.Extra = nil
	s.Error = &msg
}

// Failed reports whether the snapshot carries an error.
func (s Snapshot) Failed() bool {
	return s.Error != nil
}

// ErrorMessage returns the error string, or "" when the fetch succeeded.
func (s Snapshot) ErrorMessage() string {
	if s.Error == nil {
		return ""
	}
	return *s.Error
}
