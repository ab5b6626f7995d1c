package triage

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/notfound-triage/internal/models"
	"github.com/smartdevs17/notfound-triage/internal/notification"
	"github.com/smartdevs17/notfound-triage/pkg/utils"
)

// RedirectRequest converts the entry at EntryPath into a redirect. Source
// defaults to EntryPath; a different source keeps the entry and only flags it.
type RedirectRequest struct {
	EntryPath string `json:"path"`
	Source    string `json:"source,omitempty"`
	Target    string `json:"target"`
	Status    string `json:"status"`
}

// ParseStatusClass accepts "permanent", "temporary", "301" or "302". An empty
// value means permanent.
func ParseStatusClass(s string) (models.StatusClass, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "permanent", "301":
		return models.StatusPermanent, nil
	case "temporary", "302":
		return models.StatusTemporary, nil
	}
	return "", utils.NewAppError(utils.ErrCodeValidation, "Unsupported redirect status", s)
}

// CreateRedirectFromEntry stores a redirect and, in the same storage step,
// retires or flags the entry. A source that already has a redirect fails with
// DUPLICATE_SOURCE and changes nothing.
func (s *Service) CreateRedirectFromEntry(ctx context.Context, req RedirectRequest) (*models.RedirectResult, error) {
	if strings.TrimSpace(req.EntryPath) == "" {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Entry path is required")
	}
	entryPath := utils.NormalizePath(req.EntryPath)

	source := entryPath
	if strings.TrimSpace(req.Source) != "" {
		source = utils.NormalizePath(req.Source)
	}

	target, err := validateTarget(req.Target, source)
	if err != nil {
		return nil, err
	}
	status, err := ParseStatusClass(req.Status)
	if err != nil {
		return nil, err
	}

	redirect := &models.Redirect{
		Source:    source,
		Target:    target,
		Status:    status,
		CreatedAt: s.now(),
	}
	retire := source == entryPath

	deleted, err := s.store.CreateRedirect(ctx, redirect, entryPath, retire)
	if err != nil {
		if errors.Is(err, utils.ErrDuplicateSource) {
			s.logger.WithField("source", source).Info("Redirect rejected, source already redirected")
		}
		return nil, err
	}

	result := &models.RedirectResult{Redirect: redirect, EntryDeleted: deleted}

	if s.metrics != nil {
		s.metrics.GetPrometheusMetrics().RecordRedirectCreated(string(status), deleted)
	}
	s.notifier.Notify(notification.NewRedirectCreated(result, entryPath))

	s.logger.WithFields(logrus.Fields{
		"source":        source,
		"target":        target,
		"status":        status,
		"entry_deleted": deleted,
	}).Info("Redirect created")
	return result, nil
}

// validateTarget accepts an absolute http(s) URL or a site-relative path and
// rejects a target that points back at the source.
func validateTarget(raw, source string) (string, error) {
	target := strings.TrimSpace(raw)
	if target == "" {
		return "", utils.NewAppError(utils.ErrCodeValidation, "Redirect target is required")
	}

	u, err := url.Parse(target)
	if err != nil {
		return "", utils.NewAppError(utils.ErrCodeValidation, "Invalid redirect target", err.Error())
	}

	switch {
	case u.IsAbs():
		if u.Scheme != "http" && u.Scheme != "https" {
			return "", utils.NewAppError(utils.ErrCodeValidation, "Redirect target must use http or https", target)
		}
		if u.Host == "" {
			return "", utils.NewAppError(utils.ErrCodeValidation, "Redirect target has no host", target)
		}
	case strings.HasPrefix(target, "/") && !strings.HasPrefix(target, "//"):
		if utils.NormalizePath(target) == source {
			return "", utils.NewAppError(utils.ErrCodeValidation, "Redirect target equals its source", target)
		}
	default:
		return "", utils.NewAppError(utils.ErrCodeValidation, "Redirect target must be an absolute URL or a path", target)
	}

	return target, nil
}
