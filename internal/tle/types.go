package tle

import "time"

// TLEEntry is one satellite's two-line element set as read from a source file.
type TLEEntry struct {
	NORADID int
	Name    string
	Epoch   time.Time
	Line1   string
	Line2   string
}

// Elements returns the propagatable payload of the entry.
func (e TLEEntry) Elements() Elements {
	return Elements{Line1: e.Line1, Line2: e.Line2}
}

// Elements is the element payload handed to the propagator.
type Elements struct {
	Line1 string
	Line2 string
}

// Record is a single stored element set for a satellite.
type Record struct {
	Epoch    time.Time
	Elements Elements
	seq      uint64 // insertion order, used to break epoch-distance ties
}

// Source is a named remote element-set source from the registry file.
type Source struct {
	Name      string `json:"name"`
	URL       string `json:"url"`
	Timestamp int64  `json:"timestamp"` // unix seconds of the last successful fetch
}

// FetchedAt returns the last successful fetch time, or the zero time if never fetched.
func (s Source) FetchedAt() time.Time {
	if s.Timestamp <= 0 {
		return time.Time{}
	}
	return time.Unix(s.Timestamp, 0)
}
