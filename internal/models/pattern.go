package models

import "time"

// PatternType selects how an ignore pattern is evaluated
type PatternType string

const (
	PatternExact    PatternType = "exact"
	PatternWildcard PatternType = "wildcard"
	PatternRegex    PatternType = "regex"
)

// Valid reports whether t is one of the supported pattern types
func (t PatternType) Valid() bool {
	switch t {
	case PatternExact, PatternWildcard, PatternRegex:
		return true
	}
	return false
}

// IgnorePattern suppresses matching paths from default views
type IgnorePattern struct {
	ID        string      `json:"id" db:"id"`
	Type      PatternType `json:"type" db:"type"`
	Pattern   string      `json:"pattern" db:"pattern"`
	CreatedAt time.Time   `json:"created_at" db:"created_at"`
}
