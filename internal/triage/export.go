package triage

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/notfound-triage/internal/models"
	"github.com/smartdevs17/notfound-triage/internal/query"
	"github.com/smartdevs17/notfound-triage/pkg/utils"
)

// Export formats
const (
	FormatCSV  = "csv"
	FormatJSON = "json"
)

var csvHeader = []string{
	"path", "hits", "first_seen", "last_seen", "is_bot",
	"device", "user_agent", "is_ignored", "has_redirect",
}

// ExportResult is a fully serialized export
type ExportResult struct {
	Data        []byte
	Filename    string
	ContentType string
	Count       int
}

// Export serializes the whole filtered, sorted view. The run is bounded by the
// export timeout and either completes or fails with EXPORT_TIMEOUT.
func (s *Service) Export(ctx context.Context, format string, filters query.Filters, sort query.Sort) (*ExportResult, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = FormatCSV
	}
	if format != FormatCSV && format != FormatJSON {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Unsupported export format", format)
	}

	start := time.Now()
	result, err := s.export(ctx, format, filters, sort)
	status := "success"
	if err != nil {
		status = strings.ToLower(utils.ErrorCode(err))
	}
	if s.metrics != nil {
		s.metrics.GetPrometheusMetrics().RecordExport(format, status, time.Since(start))
	}
	if err != nil {
		s.logger.WithFields(logrus.Fields{"format": format, "error": err}).Warn("Export failed")
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"format":   format,
		"entries":  result.Count,
		"duration": time.Since(start),
	}).Info("Export completed")
	return result, nil
}

func (s *Service) export(ctx context.Context, format string, filters query.Filters, sort query.Sort) (*ExportResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.ExportTimeout)
	defer cancel()

	entries, err := s.store.ListEntries(ctx)
	if err != nil {
		if timeoutErr := exportDeadline(ctx); timeoutErr != nil {
			return nil, timeoutErr
		}
		return nil, err
	}

	items, err := query.Select(ctx, entries, s.matcher, filters, sort)
	if err != nil {
		return nil, err
	}

	var data []byte
	contentType := "text/csv; charset=utf-8"
	if format == FormatJSON {
		contentType = "application/json"
		data, err = json.Marshal(items)
	} else {
		data, err = encodeCSV(items)
	}
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeInternal, "Failed to encode export", err.Error())
	}

	if timeoutErr := exportDeadline(ctx); timeoutErr != nil {
		return nil, timeoutErr
	}

	return &ExportResult{
		Data:        data,
		Filename:    ExportFilename(s.now(), format),
		ContentType: contentType,
		Count:       len(items),
	}, nil
}

// ExportFilename returns the suggested download name for an export
func ExportFilename(at time.Time, format string) string {
	return fmt.Sprintf("404-log-%s.%s", at.Format("2006-01-02"), format)
}

func exportDeadline(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return utils.NewAppError(utils.ErrCodeExportTimeout, "Export exceeded its time budget", ctx.Err().Error())
	}
	return ctx.Err()
}

func encodeCSV(items []*models.LogEntry) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, err
	}
	for _, e := range items {
		record := []string{
			csvText(e.Path),
			strconv.FormatInt(e.Hits, 10),
			e.FirstSeen.UTC().Format(time.RFC3339),
			e.LastSeen.UTC().Format(time.RFC3339),
			strconv.FormatBool(e.IsBot),
			csvText(e.Device),
			csvText(e.UserAgent),
			strconv.FormatBool(e.IsIgnored),
			strconv.FormatBool(e.HasRedirect),
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// csvText prefixes client-supplied text that a spreadsheet would evaluate as
// a formula
func csvText(v string) string {
	if v != "" && strings.ContainsRune("=+-@\t\r", rune(v[0])) {
		return "'" + v
	}
	return v
}
