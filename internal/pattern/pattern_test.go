package pattern

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdevs17/notfound-triage/internal/models"
	"github.com/smartdevs17/notfound-triage/pkg/utils"
)

func TestCompileExact(t *testing.T) {
	c, err := Compile(models.PatternExact, "/old-page")
	require.NoError(t, err)

	assert.True(t, c.Matches("/old-page"))
	assert.False(t, c.Matches("/old-page/"))
	assert.False(t, c.Matches("/Old-Page"))
	assert.True(t, c.IsExactFor("/old-page"))
}

func TestCompileWildcardCrossesSegments(t *testing.T) {
	c, err := Compile(models.PatternWildcard, "/wp-*")
	require.NoError(t, err)

	assert.True(t, c.Matches("/wp-login.php"))
	assert.True(t, c.Matches("/wp-content/uploads/2020/a.png"))
	assert.True(t, c.Matches("/wp-"))
	assert.False(t, c.Matches("/blog/wp-login.php"))

	ext, err := Compile(models.PatternWildcard, "*.bak")
	require.NoError(t, err)
	assert.True(t, ext.Matches("/config.bak"))
	assert.True(t, ext.Matches("/deep/nested/dir/site.bak"))
	assert.False(t, ext.Matches("/config.bak.txt"))
}

func TestCompileAddsLeadingSlash(t *testing.T) {
	c, err := Compile(models.PatternExact, "old-page")
	require.NoError(t, err)
	assert.True(t, c.Matches("/old-page"))

	w, err := Compile(models.PatternWildcard, "*.bak")
	require.NoError(t, err)
	assert.True(t, w.Matches("/config.bak"))
	assert.False(t, w.Matches("/about"))
}

func TestCompileWildcardTreatsRegexMetaAsLiteral(t *testing.T) {
	c, err := Compile(models.PatternWildcard, "/a.(b)+/*")
	require.NoError(t, err)

	assert.True(t, c.Matches("/a.(b)+/x"))
	assert.False(t, c.Matches("/aX(b)+/x"))
	assert.False(t, c.Matches("/a.bb/x"))
}

func TestCompileRegexIsUnanchored(t *testing.T) {
	c, err := Compile(models.PatternRegex, `\.(php|asp)$`)
	require.NoError(t, err)

	assert.True(t, c.Matches("/xmlrpc.php"))
	assert.True(t, c.Matches("/admin/login.asp"))
	assert.False(t, c.Matches("/php/index.html"))
}

func TestCompileRejectsInvalidPatterns(t *testing.T) {
	tests := []struct {
		name string
		typ  models.PatternType
		src  string
	}{
		{"bad regex", models.PatternRegex, "(unclosed"},
		{"empty", models.PatternExact, "   "},
		{"unknown type", models.PatternType("glob"), "/x"},
		{"wildcard with query", models.PatternWildcard, "*?utm_source=*"},
		{"wildcard with fragment", models.PatternWildcard, "/docs/*#top"},
		{"wildcard url", models.PatternWildcard, "https://example.com/wp-*"},
		{"exact with query", models.PatternExact, "/old-page?utm=1"},
		{"exact url", models.PatternExact, "https://example.com/old-page"},
		{"exact protocol relative", models.PatternExact, "//cdn.example.com/x.js"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := Compile(tt.typ, tt.src)
			assert.Nil(t, c)
			require.Error(t, err)
			assert.True(t, errors.Is(err, utils.ErrInvalidPattern))
		})
	}
}

func TestMatcherLoadSwapsWholeSet(t *testing.T) {
	m := NewMatcher()
	assert.False(t, m.IsIgnored("/old-page"))

	m.Load([]*models.IgnorePattern{
		{ID: "p1", Type: models.PatternExact, Pattern: "/old-page"},
		{ID: "p2", Type: models.PatternRegex, Pattern: "(broken"},
		{ID: "p3", Type: models.PatternWildcard, Pattern: "/tmp/*"},
	})

	assert.Equal(t, 2, m.Len())
	match := m.Match("/old-page")
	require.NotNil(t, match)
	assert.Equal(t, "p1", match.ID)
	assert.True(t, m.IsIgnored("/tmp/a/b"))

	m.Load(nil)
	assert.Equal(t, 0, m.Len())
	assert.False(t, m.IsIgnored("/old-page"))
}

func TestMatcherConcurrentReadsDuringReload(t *testing.T) {
	m := NewMatcher()
	sets := [][]*models.IgnorePattern{
		{{ID: "a", Type: models.PatternExact, Pattern: "/x"}, {ID: "b", Type: models.PatternExact, Pattern: "/y"}},
		{},
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				n := len(m.Patterns())
				assert.True(t, n == 0 || n == 2, "observed partial set of %d", n)
			}
		}()
	}
	for j := 0; j < 200; j++ {
		m.Load(sets[j%2])
	}
	wg.Wait()
}
