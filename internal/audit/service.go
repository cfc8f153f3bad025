// Package audit serves the read side of the ledger audit trail written by
// shared.AuditLogger.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/tto-ledger/ledger/internal/shared"
)

const (
	defaultPageSize = 20
	maxPageSize     = 50
	// MaxRange bounds a single timeline or export query.
	MaxRange = 90 * 24 * time.Hour
	// exportLimit caps export size.
	exportLimit = 10000
)

// Service coordinates audit trail queries.
type Service struct {
	repo Repository
}

// NewService builds a timeline service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Timeline returns one page of audit rows, newest first.
func (s *Service) Timeline(ctx context.Context, filters TimelineFilters) (Result, error) {
	if s.repo == nil {
		return Result{}, fmt.Errorf("audit: repository not configured")
	}
	if err := filters.validate(); err != nil {
		return Result{}, err
	}
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	params := filters.window()
	params.Offset = (page - 1) * pageSize
	params.Limit = pageSize + 1
	rows, err := s.repo.Window(ctx, params)
	if err != nil {
		return Result{}, err
	}
	hasNext := len(rows) > pageSize
	if hasNext {
		rows = rows[:pageSize]
	}
	if rows == nil {
		rows = []TimelineRow{}
	}
	paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	return Result{Rows: rows, Paging: paging}, nil
}

// Export returns every matching row up to the export cap.
func (s *Service) Export(ctx context.Context, filters TimelineFilters) ([]TimelineRow, error) {
	if s.repo == nil {
		return nil, fmt.Errorf("audit: repository not configured")
	}
	if err := filters.validate(); err != nil {
		return nil, err
	}
	params := filters.window()
	params.Limit = exportLimit
	return s.repo.Window(ctx, params)
}

func (f TimelineFilters) validate() error {
	if !f.From.IsZero() && !f.To.IsZero() {
		if f.From.After(f.To) {
			return fmt.Errorf("%w: from is after to", shared.ErrInvalidInput)
		}
		if f.To.Sub(f.From) > MaxRange {
			return fmt.Errorf("%w: range exceeds %d days", shared.ErrInvalidInput, int(MaxRange.Hours()/24))
		}
	}
	if f.ActorID < 0 {
		return fmt.Errorf("%w: actor must be positive", shared.ErrInvalidInput)
	}
	return nil
}

func (f TimelineFilters) window() WindowParams {
	return WindowParams{
		From:     f.From,
		To:       f.To,
		ActorID:  f.ActorID,
		Entity:   f.Entity,
		EntityID: f.EntityID,
		Action:   f.Action,
	}
}
