package pattern

import (
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/notfound-triage/internal/models"
	"github.com/smartdevs17/notfound-triage/pkg/utils"
)

// Matcher evaluates a path against the current pattern set. The set is
// replaced wholesale on every edit, so readers never observe a partial edit.
type Matcher struct {
	set    atomic.Pointer[[]*Compiled]
	logger *logrus.Entry
}

// NewMatcher creates a matcher with an empty pattern set
func NewMatcher() *Matcher {
	m := &Matcher{logger: utils.GetLogger().WithField("component", "pattern_matcher")}
	empty := []*Compiled{}
	m.set.Store(&empty)
	return m
}

// Load compiles patterns and swaps them in. Stored patterns that no longer
// compile are skipped and logged; they were validated on creation.
func (m *Matcher) Load(patterns []*models.IgnorePattern) {
	compiled := make([]*Compiled, 0, len(patterns))
	for _, p := range patterns {
		c, err := CompilePattern(p)
		if err != nil {
			m.logger.WithFields(logrus.Fields{
				"pattern_id": p.ID,
				"pattern":    p.Pattern,
				"error":      err,
			}).Warn("Skipping stored pattern that failed to compile")
			continue
		}
		compiled = append(compiled, c)
	}
	m.set.Store(&compiled)
}

// Patterns returns the current compiled set
func (m *Matcher) Patterns() []*Compiled {
	return *m.set.Load()
}

// Len returns the number of active patterns
func (m *Matcher) Len() int {
	return len(*m.set.Load())
}

// Match returns the first pattern matching path, or nil
func (m *Matcher) Match(path string) *Compiled {
	for _, c := range *m.set.Load() {
		if c.Matches(path) {
			return c
		}
	}
	return nil
}

// IsIgnored reports whether any pattern matches path
func (m *Matcher) IsIgnored(path string) bool {
	return m.Match(path) != nil
}
