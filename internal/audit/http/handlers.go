package audithttp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tto-ledger/ledger/internal/audit"
	"github.com/tto-ledger/ledger/internal/platform/httpx"
	"github.com/tto-ledger/ledger/internal/shared"
)

const defaultDateRange = 7 * 24 * time.Hour

// TimelineService defines the contract for audit trail reads.
type TimelineService interface {
	Timeline(ctx context.Context, filters audit.TimelineFilters) (audit.Result, error)
	Export(ctx context.Context, filters audit.TimelineFilters) ([]audit.TimelineRow, error)
}

// Handler serves the audit trail endpoints.
type Handler struct {
	logger  *slog.Logger
	service TimelineService
	now     func() time.Time
}

// NewHandler builds an audit handler.
func NewHandler(logger *slog.Logger, service TimelineService) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, now: time.Now}
}

func (h *Handler) handleTimeline(w http.ResponseWriter, r *http.Request) {
	filters, err := h.parseFilters(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.Timeline(r.Context(), filters)
	if err != nil {
		h.fail(w, "load audit timeline", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	filters, err := h.parseFilters(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	rows, err := h.service.Export(r.Context(), filters)
	if err != nil {
		h.fail(w, "export audit timeline", err)
		return
	}
	csvBytes, err := audit.WriteCSV(rows)
	if err != nil {
		h.fail(w, "encode csv", err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", "attachment; filename=\"audit-trail.csv\"")
	if _, err := w.Write(csvBytes); err != nil {
		h.logger.Warn("write csv", slog.Any("error", err))
	}
}

func (h *Handler) parseFilters(r *http.Request) (audit.TimelineFilters, error) {
	q := r.URL.Query()
	now := h.now().UTC()
	toTime := now
	if v := strings.TrimSpace(q.Get("to")); v != "" {
		parsed, err := time.Parse("2006-01-02", v)
		if err != nil {
			return audit.TimelineFilters{}, invalid("to")
		}
		toTime = parsed.Add(24 * time.Hour)
	}
	fromTime := toTime.Add(-defaultDateRange)
	if v := strings.TrimSpace(q.Get("from")); v != "" {
		parsed, err := time.Parse("2006-01-02", v)
		if err != nil {
			return audit.TimelineFilters{}, invalid("from")
		}
		fromTime = parsed
	}

	filters := audit.TimelineFilters{
		From:     fromTime,
		To:       toTime,
		Entity:   strings.TrimSpace(q.Get("entity")),
		EntityID: strings.TrimSpace(q.Get("entity_id")),
		Action:   strings.TrimSpace(q.Get("action")),
	}
	var err error
	if filters.ActorID, err = optionalInt(q.Get("actor")); err != nil {
		return audit.TimelineFilters{}, invalid("actor")
	}
	page, err := optionalInt(q.Get("page"))
	if err != nil {
		return audit.TimelineFilters{}, invalid("page")
	}
	pageSize, err := optionalInt(q.Get("page_size"))
	if err != nil {
		return audit.TimelineFilters{}, invalid("page_size")
	}
	filters.Page = int(page)
	filters.PageSize = int(pageSize)
	return filters, nil
}

func (h *Handler) fail(w http.ResponseWriter, message string, err error) {
	if !errors.Is(err, shared.ErrInvalidInput) {
		h.logger.Error(message, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func optionalInt(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v <= 0 {
		return 0, errors.New("not a positive integer")
	}
	return v, nil
}

func invalid(field string) error {
	return fmt.Errorf("%w: invalid %s", shared.ErrInvalidInput, field)
}
