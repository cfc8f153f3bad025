// Package ledger is the library boundary of the project ledger: financial
// summaries, manual allocations, payment instructions and balance movements.
package ledger

import (
	"context"
	"log/slog"
	"time"

	"github.com/tto-ledger/ledger/internal/allocations"
	"github.com/tto-ledger/ledger/internal/balances"
	"github.com/tto-ledger/ledger/internal/money"
	"github.com/tto-ledger/ledger/internal/notify"
	"github.com/tto-ledger/ledger/internal/observability"
	"github.com/tto-ledger/ledger/internal/payments"
	"github.com/tto-ledger/ledger/internal/projects"
	"github.com/tto-ledger/ledger/internal/shared"
)

// Operation names used for metrics.
const (
	OpSummary           = "summary.get"
	OpAllocationCreate  = "allocation.create"
	OpPaymentCreate     = "payment.create"
	OpPaymentTransition = "payment.transition"
	OpBalanceAdjust     = "balance.adjust"
)

// AuditSink records audit events.
type AuditSink interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Notifier delivers recipient notifications.
type Notifier interface {
	Notify(ctx context.Context, m notify.Message) error
}

// Config wires the engine's storage and collaborators.
type Config struct {
	Projects    projects.Repository
	Balances    balances.Repository
	Allocations allocations.Repository
	Payments    payments.Repository

	Locker      shared.Locker
	Audit       AuditSink
	Notifier    Notifier
	Idempotency payments.IdempotencyPort
	Formatter   *notify.Formatter
	Metrics     *observability.LedgerMetrics
	Logger      *slog.Logger
	Retry       shared.RetryPolicy
}

// Engine exposes the ledger operations to calling application code.
type Engine struct {
	projects    *projects.Service
	balances    *balances.Service
	allocations *allocations.Service
	payments    *payments.Service
	locker      shared.Locker
	audit       AuditSink
	metrics     *observability.LedgerMetrics
	logger      *slog.Logger
}

// NewEngine builds the services behind the engine.
func NewEngine(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	retry := cfg.Retry
	if retry.Attempts == 0 {
		retry = shared.DefaultRetryPolicy
	}

	projectSvc := projects.NewService(cfg.Projects)
	balanceSvc := balances.NewService(cfg.Balances)
	balanceSvc.WithRetryPolicy(retry)

	var audit allocations.AuditPort
	if cfg.Audit != nil {
		audit = cfg.Audit
	}
	allocationSvc := allocations.NewService(cfg.Allocations, projectSvc, balanceSvc, cfg.Locker, audit, logger)
	allocationSvc.WithRetryPolicy(retry)
	allocationSvc.WithCompensationObserver(func(ok bool) {
		cfg.Metrics.Compensation(OpAllocationCreate, ok)
	})

	opts := []payments.Option{
		payments.WithCompensationObserver(func(ok bool) {
			cfg.Metrics.Compensation(OpPaymentCreate, ok)
		}),
	}
	if cfg.Idempotency != nil {
		opts = append(opts, payments.WithIdempotency(cfg.Idempotency))
	}
	if cfg.Formatter != nil {
		opts = append(opts, payments.WithFormatter(cfg.Formatter))
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = notify.NewLogNotifier(logger)
	}
	paymentSvc := payments.NewService(cfg.Payments, projectSvc, balanceSvc, cfg.Locker, notifier, audit, logger, opts...)

	return &Engine{
		projects:    projectSvc,
		balances:    balanceSvc,
		allocations: allocationSvc,
		payments:    paymentSvc,
		locker:      cfg.Locker,
		audit:       cfg.Audit,
		metrics:     cfg.Metrics,
		logger:      logger,
	}
}

// GetFinancialSummary returns the project summary and its team members.
func (e *Engine) GetFinancialSummary(ctx context.Context, projectID int64) (projects.FinancialSummary, []allocations.TeamMember, error) {
	out, err := e.ProjectSummary(ctx, projectID)
	if err != nil {
		return projects.FinancialSummary{}, nil, err
	}
	return out.Summary, out.Team, nil
}

// ProjectSummary returns the summary with allocation totals and the
// remaining distributable amount.
func (e *Engine) ProjectSummary(ctx context.Context, projectID int64) (out allocations.ProjectSummary, err error) {
	defer e.observe(OpSummary, time.Now(), &err)
	return e.allocations.Summarize(ctx, projectID)
}

// CreateManualAllocation books a signed allocation for a representative.
func (e *Engine) CreateManualAllocation(ctx context.Context, projectID int64, person shared.PersonRef, amount money.Money, notes string, actorID int64) (a allocations.Allocation, err error) {
	defer e.observe(OpAllocationCreate, time.Now(), &err)
	return e.allocations.Create(ctx, allocations.CreateInput{
		ProjectID: projectID,
		Person:    person,
		Amount:    amount,
		Notes:     notes,
		ActorID:   actorID,
	})
}

// CreatePaymentInstruction books a pending instruction and reserves its funds.
func (e *Engine) CreatePaymentInstruction(ctx context.Context, in payments.CreateInput) (out payments.Instruction, err error) {
	defer e.observe(OpPaymentCreate, time.Now(), &err)
	return e.payments.Create(ctx, in)
}

// TransitionPayment moves an instruction to target, settling its reservation
// on completion or rejection.
func (e *Engine) TransitionPayment(ctx context.Context, id int64, target payments.Status, actorID int64) (out payments.Instruction, err error) {
	defer e.observe(OpPaymentTransition, time.Now(), &err)
	switch target {
	case payments.StatusApproved:
		return e.payments.Approve(ctx, id, actorID)
	case payments.StatusProcessing:
		return e.payments.StartProcessing(ctx, id, actorID)
	case payments.StatusCompleted:
		return e.payments.Complete(ctx, id, actorID)
	case payments.StatusRejected:
		return e.payments.Reject(ctx, id, actorID)
	}
	return payments.Instruction{}, payments.ValidateTransition(payments.StatusPending, target)
}

// PaymentInstruction returns an instruction with its items.
func (e *Engine) PaymentInstruction(ctx context.Context, id int64) (payments.Instruction, error) {
	return e.payments.Get(ctx, id)
}

// PaymentInstructions lists the recent instructions of a recipient.
func (e *Engine) PaymentInstructions(ctx context.Context, recipient shared.PersonRef, limit int) ([]payments.Instruction, error) {
	return e.payments.ListByRecipient(ctx, recipient, limit)
}

// AdjustBalance applies one movement to a person's balance on behalf of the
// system. It takes the same per-person lock as payment creation.
func (e *Engine) AdjustBalance(ctx context.Context, person shared.PersonRef, kind balances.Kind, amount money.Money, referenceType string, referenceID int64, description string) error {
	return e.AdjustBalanceBy(ctx, 0, person, kind, amount, referenceType, referenceID, description)
}

// AdjustBalanceBy applies one movement and records actorID in the audit
// trail.
func (e *Engine) AdjustBalanceBy(ctx context.Context, actorID int64, person shared.PersonRef, kind balances.Kind, amount money.Money, referenceType string, referenceID int64, description string) (err error) {
	defer e.observe(OpBalanceAdjust, time.Now(), &err)
	in := balances.AdjustInput{
		Person:        person,
		Kind:          kind,
		Amount:        amount,
		ReferenceType: referenceType,
		ReferenceID:   referenceID,
		Description:   description,
	}
	if err := in.Validate(); err != nil {
		return err
	}
	unlock, err := e.locker.Acquire(ctx, shared.BalanceLockKey(person))
	if err != nil {
		return err
	}
	defer unlock()
	balance, err := e.balances.Adjust(ctx, in)
	if err != nil {
		return err
	}
	e.recordAdjustment(ctx, actorID, in, balance)
	return nil
}

func (e *Engine) recordAdjustment(ctx context.Context, actorID int64, in balances.AdjustInput, after balances.Balance) {
	if e.audit == nil {
		return
	}
	err := e.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   "balance.adjust",
		Entity:   "balance",
		EntityID: in.Person.Key(),
		After: map[string]any{
			"kind":           in.Kind,
			"amount":         in.Amount,
			"reference_type": in.ReferenceType,
			"reference_id":   in.ReferenceID,
			"balance":        after,
		},
	})
	if err != nil {
		e.logger.Warn("record balance adjustment audit", slog.String("person", in.Person.String()), slog.Any("error", err))
	}
}

// Balance returns a person's balance.
func (e *Engine) Balance(ctx context.Context, person shared.PersonRef) (balances.Balance, error) {
	return e.balances.Get(ctx, person)
}

// BalanceHistory returns a person's recent journal rows.
func (e *Engine) BalanceHistory(ctx context.Context, person shared.PersonRef, limit int) ([]balances.Transaction, error) {
	return e.balances.History(ctx, person, limit)
}

func (e *Engine) observe(op string, start time.Time, errp *error) {
	err := *errp
	e.metrics.Observe(op, start, err)
	if err != nil {
		e.logger.Debug("ledger operation failed", slog.String("operation", op), slog.String("outcome", observability.Outcome(err)), slog.Any("error", err))
	}
}
