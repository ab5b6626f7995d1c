// Package query filters, sorts and paginates a snapshot of log entries. The
// listing view and the export view both go through Select, so an export with
// the same filters reproduces the on-screen order exactly.
package query

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/smartdevs17/notfound-triage/internal/classifier"
	"github.com/smartdevs17/notfound-triage/internal/models"
	"github.com/smartdevs17/notfound-triage/pkg/utils"
)

// Sort orders the filtered entries
type Sort string

const (
	SortRecent Sort = "recent"
	SortTop    Sort = "top"
)

// IgnoredMode selects how ignored entries are treated
type IgnoredMode string

const (
	IgnoredAll  IgnoredMode = "all"
	IgnoredHide IgnoredMode = "hide"
	IgnoredOnly IgnoredMode = "only"
)

// DefaultPerPage is used whenever a caller asks for an unsupported page size
const DefaultPerPage = 20

// AllowedPerPage lists the accepted page sizes
var AllowedPerPage = []int{10, 20, 50, 100}

// checkEvery bounds how many entries are processed between deadline checks
const checkEvery = 512

// IgnoreChecker reports whether a path is currently ignored. *pattern.Matcher
// satisfies it.
type IgnoreChecker interface {
	IsIgnored(path string) bool
}

// Filters are AND-combined
type Filters struct {
	HideSpam   bool        `json:"hide_spam"`
	HideImages bool        `json:"hide_images"`
	HideBots   bool        `json:"hide_bots"`
	Ignored    IgnoredMode `json:"ignored"`
}

// Options describes one listing request
type Options struct {
	Filters
	Sort    Sort `json:"sort"`
	Page    int  `json:"page"`
	PerPage int  `json:"per_page"`
}

// Result is one page of the filtered, sorted view. The counts cover the whole
// snapshot, not just the filtered set.
type Result struct {
	Items        []*models.LogEntry `json:"items"`
	Total        int                `json:"total"`
	Page         int                `json:"page"`
	PerPage      int                `json:"per_page"`
	TotalPages   int                `json:"total_pages"`
	BotCount     int                `json:"bot_count"`
	IgnoredCount int                `json:"ignored_count"`
}

// ParseSort maps user input to a Sort, defaulting to recent
func ParseSort(s string) Sort {
	if Sort(strings.ToLower(s)) == SortTop {
		return SortTop
	}
	return SortRecent
}

// ParseIgnoredMode maps user input to an IgnoredMode, defaulting to all
func ParseIgnoredMode(s string) IgnoredMode {
	switch IgnoredMode(strings.ToLower(s)) {
	case IgnoredHide:
		return IgnoredHide
	case IgnoredOnly:
		return IgnoredOnly
	}
	return IgnoredAll
}

// NormalizePerPage returns n when it is an allowed page size, else the default
func NormalizePerPage(n int) int {
	for _, allowed := range AllowedPerPage {
		if n == allowed {
			return n
		}
	}
	return DefaultPerPage
}

// Run applies filters, sort and pagination to entries. Each returned item is a
// copy whose IsIgnored reflects the live pattern set.
func Run(ctx context.Context, entries []*models.LogEntry, ignore IgnoreChecker, opts Options) (*Result, error) {
	perPage := NormalizePerPage(opts.PerPage)
	page := opts.Page
	if page < 1 {
		page = 1
	}

	result := &Result{Page: page, PerPage: perPage}
	for i, e := range entries {
		if i%checkEvery == 0 {
			if err := checkDeadline(ctx); err != nil {
				return nil, err
			}
		}
		if e.IsBot {
			result.BotCount++
		}
		if ignore != nil && ignore.IsIgnored(e.Path) {
			result.IgnoredCount++
		}
	}

	selected, err := Select(ctx, entries, ignore, opts.Filters, opts.Sort)
	if err != nil {
		return nil, err
	}

	result.Total = len(selected)
	result.TotalPages = (result.Total + perPage - 1) / perPage
	if result.TotalPages < 1 {
		result.TotalPages = 1
	}

	// compare before multiplying; (page-1)*perPage overflows for huge pages
	if page > result.TotalPages {
		result.Items = []*models.LogEntry{}
		return result, nil
	}
	start := (page - 1) * perPage
	end := start + perPage
	if end > len(selected) {
		end = len(selected)
	}
	result.Items = selected[start:end]
	return result, nil
}

// Select filters and sorts entries without paginating. Either the whole
// ordered set is returned or an error; never a truncated slice.
func Select(ctx context.Context, entries []*models.LogEntry, ignore IgnoreChecker, f Filters, s Sort) ([]*models.LogEntry, error) {
	mode := f.Ignored
	if mode == "" {
		mode = IgnoredAll
	}

	selected := make([]*models.LogEntry, 0, len(entries))
	for i, e := range entries {
		if i%checkEvery == 0 {
			if err := checkDeadline(ctx); err != nil {
				return nil, err
			}
		}

		if f.HideBots && e.IsBot {
			continue
		}
		if f.HideSpam || f.HideImages {
			switch classifier.ExtensionCategory(e.Path) {
			case models.ExtensionSpam:
				if f.HideSpam {
					continue
				}
			case models.ExtensionImage:
				if f.HideImages {
					continue
				}
			}
		}

		ignored := ignore != nil && ignore.IsIgnored(e.Path)
		if (mode == IgnoredHide && ignored) || (mode == IgnoredOnly && !ignored) {
			continue
		}

		item := e.Clone()
		item.IsIgnored = ignored
		selected = append(selected, item)
	}

	sortEntries(selected, s)

	if err := checkDeadline(ctx); err != nil {
		return nil, err
	}
	return selected, nil
}

func sortEntries(entries []*models.LogEntry, s Sort) {
	less := lessRecent
	if s == SortTop {
		less = lessTop
	}
	sort.Slice(entries, func(i, j int) bool { return less(entries[i], entries[j]) })
}

func lessRecent(a, b *models.LogEntry) bool {
	if !a.LastSeen.Equal(b.LastSeen) {
		return a.LastSeen.After(b.LastSeen)
	}
	if a.Hits != b.Hits {
		return a.Hits > b.Hits
	}
	return a.Path < b.Path
}

func lessTop(a, b *models.LogEntry) bool {
	if a.Hits != b.Hits {
		return a.Hits > b.Hits
	}
	if !a.LastSeen.Equal(b.LastSeen) {
		return a.LastSeen.After(b.LastSeen)
	}
	return a.Path < b.Path
}

func checkDeadline(ctx context.Context) error {
	err := ctx.Err()
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return utils.NewAppError(utils.ErrCodeExportTimeout, "Query exceeded its time budget", err.Error())
	}
	return err
}
