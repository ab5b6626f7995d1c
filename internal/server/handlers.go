package server

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/smartdevs17/notfound-triage/internal/models"
	"github.com/smartdevs17/notfound-triage/internal/query"
	"github.com/smartdevs17/notfound-triage/internal/triage"
	"github.com/smartdevs17/notfound-triage/pkg/utils"
)

type pathRequest struct {
	Path string `json:"path"`
}

type patternRequest struct {
	Type    models.PatternType `json:"type"`
	Pattern string             `json:"pattern"`
}

// Write path

// recordHitHandler accepts one not-found notification. It answers 202 even
// when the hit is dropped; the caller must never wait on triage.
func (s *HTTPServer) recordHitHandler(w http.ResponseWriter, r *http.Request) {
	var hit models.Hit
	if err := decodeJSON(w, r, &hit); err != nil {
		s.writeError(w, err)
		return
	}
	if strings.TrimSpace(hit.RequestPath) == "" {
		s.writeError(w, utils.NewAppError(utils.ErrCodeValidation, "request_path is required"))
		return
	}
	if hit.UserAgent == "" {
		hit.UserAgent = r.UserAgent()
	}

	accepted := true
	if s.recorder != nil {
		accepted = s.recorder.Submit(hit)
	} else if _, err := s.service.RecordHit(r.Context(), hit); err != nil {
		accepted = false
		s.logger.WithField("error", err).Warn("Failed to record not-found hit")
	}

	s.writeJSON(w, http.StatusAccepted, map[string]interface{}{"accepted": accepted})
}

// Entry Handlers

// listEntriesHandler returns one page of entries
func (s *HTTPServer) listEntriesHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := query.Options{
		Filters: parseFilters(q),
		Sort:    query.ParseSort(q.Get("sort")),
		Page:    parseInt(q.Get("page"), 1),
		PerPage: parseInt(q.Get("per_page"), 0),
	}

	result, err := s.service.List(r.Context(), opts)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

// getEntryHandler returns one entry
func (s *HTTPServer) getEntryHandler(w http.ResponseWriter, r *http.Request) {
	path, err := pathVar(r, "path")
	if err != nil {
		s.writeError(w, err)
		return
	}

	entry, err := s.service.Get(r.Context(), path)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, entry)
}

// deleteEntryHandler deletes one entry; unknown paths succeed
func (s *HTTPServer) deleteEntryHandler(w http.ResponseWriter, r *http.Request) {
	path, err := pathVar(r, "path")
	if err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.service.DeleteEntry(r.Context(), path); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Entry deleted",
		"path":    utils.NormalizePath(path),
	})
}

// clearEntriesHandler deletes every entry
func (s *HTTPServer) clearEntriesHandler(w http.ResponseWriter, r *http.Request) {
	n, err := s.service.ClearAll(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "All entries cleared",
		"deleted": n,
	})
}

// ignoreEntryHandler ignores the entry named in the body
func (s *HTTPServer) ignoreEntryHandler(w http.ResponseWriter, r *http.Request) {
	var req pathRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	entry, err := s.service.Ignore(r.Context(), req.Path)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, entry)
}

// unignoreEntryHandler unignores the entry named in the body
func (s *HTTPServer) unignoreEntryHandler(w http.ResponseWriter, r *http.Request) {
	var req pathRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	entry, err := s.service.Unignore(r.Context(), req.Path)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, entry)
}

// createRedirectHandler converts an entry into a redirect
func (s *HTTPServer) createRedirectHandler(w http.ResponseWriter, r *http.Request) {
	var req triage.RedirectRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	result, err := s.service.CreateRedirectFromEntry(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, result)
}

// exportHandler streams the full filtered view as a download
func (s *HTTPServer) exportHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	out, err := s.service.Export(r.Context(), q.Get("format"), parseFilters(q), query.ParseSort(q.Get("sort")))
	if err != nil {
		s.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", out.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+out.Filename+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(out.Data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(out.Data); err != nil {
		s.logger.WithError(err).Warn("Failed to write export")
	}
}

// Pattern Handlers

// listPatternsHandler lists ignore patterns
func (s *HTTPServer) listPatternsHandler(w http.ResponseWriter, r *http.Request) {
	patterns, err := s.service.ListPatterns(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"patterns": patterns,
		"total":    len(patterns),
	})
}

// createPatternHandler validates and stores an ignore pattern
func (s *HTTPServer) createPatternHandler(w http.ResponseWriter, r *http.Request) {
	var req patternRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	p, err := s.service.CreateIgnorePattern(r.Context(), req.Type, req.Pattern)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, p)
}

// deletePatternHandler deletes an ignore pattern; unknown ids succeed
func (s *HTTPServer) deletePatternHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.service.DeleteIgnorePattern(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Pattern deleted",
		"id":      id,
	})
}

// Redirect Handlers

// listRedirectsHandler lists redirects
func (s *HTTPServer) listRedirectsHandler(w http.ResponseWriter, r *http.Request) {
	redirects, err := s.service.ListRedirects(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"redirects": redirects,
		"total":     len(redirects),
	})
}

// deleteRedirectHandler deletes a redirect; unknown sources succeed
func (s *HTTPServer) deleteRedirectHandler(w http.ResponseWriter, r *http.Request) {
	source, err := pathVar(r, "source")
	if err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.service.DeleteRedirect(r.Context(), source); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Redirect deleted",
		"source":  utils.NormalizePath(source),
	})
}

// pathVar unescapes a route variable holding a site path
func pathVar(r *http.Request, name string) (string, error) {
	raw := mux.Vars(r)[name]
	p, err := url.PathUnescape(raw)
	if err != nil {
		return "", utils.NewAppError(utils.ErrCodeValidation, "Invalid path encoding", raw)
	}
	return p, nil
}

func parseFilters(q url.Values) query.Filters {
	f := query.Filters{
		HideSpam:   parseBool(q.Get("hide_spam")),
		HideImages: parseBool(q.Get("hide_images")),
		HideBots:   parseBool(q.Get("hide_bots")),
		Ignored:    query.ParseIgnoredMode(q.Get("ignored")),
	}
	if q.Get("ignored") == "" && parseBool(q.Get("hide_ignored")) {
		f.Ignored = query.IgnoredHide
	}
	return f
}

func parseBool(s string) bool {
	b, _ := strconv.ParseBool(s)
	return b
}

func parseInt(s string, fallback int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}
