// Package model defines the domain types used across the application.
package model

import "time"

// DefaultInterval is used for feeds that do not set their own polling interval.
const DefaultInterval = time.Hour

// Feed is one configured feed subscription. It is immutable after load.
type Feed struct {
	Name     string
	URL      string
	Room     string
	Interval time.Duration
	Schedule string
	Filters  []Filter
}

// PollInterval returns the feed's interval, or def if the feed has none.
func (f Feed) PollInterval(def time.Duration) time.Duration {
	if f.Interval > 0 {
		return f.Interval
	}
	if def > 0 {
		return def
	}
	return DefaultInterval
}

// FilterKind defines the type of filter rule.
type FilterKind string

// Supported filter kinds.
const (
	FilterInclude   FilterKind = "include"
	FilterExclude   FilterKind = "exclude"
	FilterIncludeRe FilterKind = "include_re"
	FilterExcludeRe FilterKind = "exclude_re"
)

// FilterScope defines which part of an entry a filter matches against.
type FilterScope string

// Supported filter scopes.
const (
	ScopeTitle   FilterScope = "title"
	ScopeContent FilterScope = "content"
	ScopeAll     FilterScope = "all"
)

// Filter is a single keyword rule attached to a feed.
type Filter struct {
	Kind  FilterKind
	Scope FilterScope
	Value string
}

// Entry is one item of a fetched feed document.
// Published is zero when the document carries no usable timestamp.
type Entry struct {
	ID        string
	Title     string
	Link      string
	Summary   string
	Published time.Time
}

// FeedStatus is a point-in-time view of one feed's polling loop.
type FeedStatus struct {
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	Room      string    `json:"room"`
	RoomID    string    `json:"room_id,omitempty"`
	Phase     string    `json:"phase"`
	Delivered int       `json:"delivered"`
	Polls     int       `json:"polls"`
	LastPoll  time.Time `json:"last_poll,omitzero"`
	NextPoll  time.Time `json:"next_poll,omitzero"`
	LastError string    `json:"last_error,omitempty"`
	Stopped   bool      `json:"stopped"`
}
