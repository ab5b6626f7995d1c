// Package pattern compiles and evaluates operator-defined ignore patterns.
//
// Wildcard patterns use a single metacharacter: '*' matches any run of
// characters, including '/', so "/wp-*" matches both "/wp-login.php" and
// "/wp-content/uploads/x.png". Every other character is literal and the whole
// path must match. Regex patterns use RE2 syntax and are evaluated as an
// unanchored search.
package pattern

import (
	"regexp"
	"strings"

	"github.com/smartdevs17/notfound-triage/internal/models"
	"github.com/smartdevs17/notfound-triage/pkg/utils"
)

// Compiled is an ignore pattern ready for evaluation
type Compiled struct {
	ID     string
	Type   models.PatternType
	Source string
	exact  string
	re     *regexp.Regexp
}

// Compile validates and compiles a pattern for its declared type. It fails
// with an INVALID_PATTERN AppError; such a pattern must never be stored.
func Compile(patternType models.PatternType, source string) (*Compiled, error) {
	if !patternType.Valid() {
		return nil, utils.NewAppError(utils.ErrCodeInvalidPattern,
			"Unsupported pattern type", string(patternType))
	}
	if strings.TrimSpace(source) == "" {
		return nil, utils.NewAppError(utils.ErrCodeInvalidPattern, "Pattern must not be empty")
	}

	c := &Compiled{Type: patternType, Source: source}

	switch patternType {
	case models.PatternExact:
		p, err := normalizeSource(source)
		if err != nil {
			return nil, err
		}
		c.exact = p
	case models.PatternWildcard:
		p, err := normalizeSource(source)
		if err != nil {
			return nil, err
		}
		re, err := regexp.Compile(wildcardToRegexp(p))
		if err != nil {
			return nil, utils.NewAppError(utils.ErrCodeInvalidPattern, "Invalid wildcard pattern", err.Error())
		}
		c.re = re
	case models.PatternRegex:
		re, err := regexp.Compile(source)
		if err != nil {
			return nil, utils.NewAppError(utils.ErrCodeInvalidPattern, "Invalid regular expression", err.Error())
		}
		c.re = re
	}

	return c, nil
}

// CompilePattern compiles a stored pattern and keeps its id
func CompilePattern(p *models.IgnorePattern) (*Compiled, error) {
	c, err := Compile(p.Type, p.Pattern)
	if err != nil {
		return nil, err
	}
	c.ID = p.ID
	return c, nil
}

// Matches reports whether the normalized path is matched by the pattern
func (c *Compiled) Matches(normalizedPath string) bool {
	if c.Type == models.PatternExact {
		return c.exact == normalizedPath
	}
	return c.re.MatchString(normalizedPath)
}

// IsExactFor reports whether c is an exact pattern for path
func (c *Compiled) IsExactFor(path string) bool {
	return c.Type == models.PatternExact && c.exact == path
}

// normalizeSource returns the path form of an exact or wildcard source. The
// only rewrite allowed is a missing leading slash; a query, fragment, scheme
// or host would be cut away and silently widen the pattern.
func normalizeSource(source string) (string, error) {
	if strings.ContainsAny(source, "?#") {
		return "", utils.NewAppError(utils.ErrCodeInvalidPattern,
			"Pattern must not contain a query string or fragment", source)
	}
	p := utils.NormalizePath(source)
	if p != source && p != "/"+source {
		return "", utils.NewAppError(utils.ErrCodeInvalidPattern,
			"Pattern must be a path, not a URL", source)
	}
	return p, nil
}

func wildcardToRegexp(glob string) string {
	parts := strings.Split(glob, "*")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	return "^" + strings.Join(parts, ".*") + "$"
}
