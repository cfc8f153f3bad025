package allocations

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/tto-ledger/ledger/internal/balances"
	"github.com/tto-ledger/ledger/internal/money"
	"github.com/tto-ledger/ledger/internal/projects"
	"github.com/tto-ledger/ledger/internal/shared"
)

// ProjectReader exposes the project data the allocation engine reads.
type ProjectReader interface {
	FinancialSummary(ctx context.Context, projectID int64) (projects.Project, projects.FinancialSummary, error)
	Representatives(ctx context.Context, projectID int64) ([]projects.Representative, error)
	Representative(ctx context.Context, projectID int64, person shared.PersonRef) (projects.Representative, error)
}

// BalancePort applies the balance effect of an allocation.
type BalancePort interface {
	Get(ctx context.Context, person shared.PersonRef) (balances.Balance, error)
	ApplySigned(ctx context.Context, person shared.PersonRef, amount money.Money, refType string, refID int64, description string) (balances.Balance, error)
}

// AuditPort records audit events.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service creates manual allocations under the project budget ceiling.
type Service struct {
	repo     Repository
	projects ProjectReader
	balances BalancePort
	locker   shared.Locker
	audit    AuditPort
	logger   *slog.Logger
	retry    shared.RetryPolicy
	observe  func(compensated bool)
}

// NewService wires the allocation engine.
func NewService(repo Repository, projects ProjectReader, balances BalancePort, locker shared.Locker, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		projects: projects,
		balances: balances,
		locker:   locker,
		audit:    audit,
		logger:   logger,
		retry:    shared.DefaultRetryPolicy,
	}
}

// WithRetryPolicy overrides the conflict retry policy.
func (s *Service) WithRetryPolicy(p shared.RetryPolicy) {
	s.retry = p
}

// WithCompensationObserver registers fn to be called after every
// compensating delete with whether the cleanup succeeded.
func (s *Service) WithCompensationObserver(fn func(compensated bool)) {
	s.observe = fn
}

// Create validates, books and applies a manual allocation. The project lock
// is held from the budget check until the balance effect is applied or the
// allocation is removed again, so the allocation total never exceeds the
// distributable amount.
func (s *Service) Create(ctx context.Context, in CreateInput) (Allocation, error) {
	in = in.normalized()
	if err := in.Validate(); err != nil {
		return Allocation{}, err
	}

	if _, err := s.projects.Representative(ctx, in.ProjectID, in.Person); err != nil {
		return Allocation{}, err
	}

	unlock, err := s.locker.Acquire(ctx, shared.ProjectLockKey(in.ProjectID))
	if err != nil {
		return Allocation{}, err
	}
	defer unlock()

	var created Allocation
	err = shared.RetryOnConflict(ctx, s.retry, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			if err := tx.LockProject(ctx, in.ProjectID); err != nil {
				return err
			}
			project, summary, err := s.projects.FinancialSummary(ctx, in.ProjectID)
			if err != nil {
				return err
			}
			if !project.AcceptsDistributions() {
				return fmt.Errorf("%w: project %d is %s", shared.ErrProjectClosed, project.ID, project.Status)
			}
			allocated, err := tx.SumForProject(ctx, in.ProjectID)
			if err != nil {
				return err
			}
			if err := CheckBudget(summary.DistributableAmount, allocated, in.Amount); err != nil {
				return err
			}
			created, err = tx.Insert(ctx, Allocation{
				ProjectID: in.ProjectID,
				Person:    in.Person,
				Amount:    in.Amount,
				Notes:     in.Notes,
				CreatedBy: in.ActorID,
			})
			return err
		})
	})
	if err != nil {
		return Allocation{}, err
	}

	description := fmt.Sprintf("manual allocation %d on project %d", created.ID, created.ProjectID)
	if _, err := s.balances.ApplySigned(ctx, in.Person, in.Amount, balances.RefAllocation, created.ID, description); err != nil {
		return Allocation{}, s.compensate(ctx, created, err)
	}

	s.recordAudit(ctx, in.ActorID, created)
	return created, nil
}

func (s *Service) compensate(ctx context.Context, created Allocation, cause error) error {
	cleanupCtx := context.WithoutCancel(ctx)
	err := s.repo.Delete(cleanupCtx, created.ID)
	if s.observe != nil {
		s.observe(err == nil)
	}
	if err != nil {
		s.logger.Error("allocation compensation failed",
			slog.Int64("allocation_id", created.ID),
			slog.Int64("project_id", created.ProjectID),
			slog.Any("error", err))
		return &shared.CompensationError{Op: "allocations: apply balance", Cause: cause, Failures: []error{err}}
	}
	return fmt.Errorf("allocations: apply balance: %w", cause)
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, created Allocation) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   "allocation.create",
		Entity:   "manual_balance_allocation",
		EntityID: strconv.FormatInt(created.ID, 10),
		After:    created,
		At:       created.CreatedAt,
	})
	if err != nil {
		s.logger.Warn("audit allocation", slog.Int64("allocation_id", created.ID), slog.Any("error", err))
	}
}

// Summarize returns the project's financial summary with every representative's
// allocation total and live balance.
func (s *Service) Summarize(ctx context.Context, projectID int64) (ProjectSummary, error) {
	var (
		summary projects.FinancialSummary
		reps    []projects.Representative
		sums    map[string]money.Money
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		_, summary, err = s.projects.FinancialSummary(gctx, projectID)
		return err
	})
	g.Go(func() error {
		var err error
		reps, err = s.projects.Representatives(gctx, projectID)
		return err
	})
	g.Go(func() error {
		var err error
		sums, err = s.repo.SumByPerson(gctx, projectID)
		return err
	})
	if err := g.Wait(); err != nil {
		return ProjectSummary{}, err
	}

	team := make([]TeamMember, len(reps))
	g, gctx = errgroup.WithContext(ctx)
	for i, rep := range reps {
		team[i] = TeamMember{
			RepresentativeID: rep.ID,
			Person:           rep.Person,
			FullName:         rep.FullName,
			Role:             rep.Role,
			AllocatedAmount:  sums[rep.Person.Key()],
		}
		g.Go(func() error {
			b, err := s.balances.Get(gctx, rep.Person)
			if err != nil {
				return err
			}
			team[i].CurrentBalance = b.Available
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return ProjectSummary{}, err
	}

	allocated := money.Zero
	for _, v := range sums {
		allocated = allocated.Add(v)
	}
	return ProjectSummary{
		Summary:                summary,
		AllocatedTotal:         allocated,
		RemainingDistributable: summary.DistributableAmount.Sub(allocated).ClampZero(),
		Team:                   team,
	}, nil
}
