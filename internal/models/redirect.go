package models

import "time"

// StatusClass is the HTTP status family of a redirect
type StatusClass string

const (
	StatusPermanent StatusClass = "permanent"
	StatusTemporary StatusClass = "temporary"
)

// Valid reports whether s is a supported status class
func (s StatusClass) Valid() bool {
	return s == StatusPermanent || s == StatusTemporary
}

// HTTPStatus returns the status code the redirect-serving layer should emit
func (s StatusClass) HTTPStatus() int {
	if s == StatusTemporary {
		return 302
	}
	return 301
}

// Redirect maps a source path to a target URL
type Redirect struct {
	Source    string      `json:"source" db:"source"`
	Target    string      `json:"target" db:"target"`
	Status    StatusClass `json:"status" db:"status"`
	CreatedAt time.Time   `json:"created_at" db:"created_at"`
}

// RedirectResult is returned when an entry is converted into a redirect
type RedirectResult struct {
	Redirect     *Redirect `json:"redirect"`
	EntryDeleted bool      `json:"entry_deleted"`
}
