package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tto-ledger/ledger/internal/balances"
	"github.com/tto-ledger/ledger/internal/money"
	"github.com/tto-ledger/ledger/internal/notify"
	"github.com/tto-ledger/ledger/internal/projects"
	"github.com/tto-ledger/ledger/internal/shared"
)

// IdempotencyModule scopes payment request keys in the idempotency store.
const IdempotencyModule = "payments.create"

// Directory resolves recipients and their distribution entitlements.
type Directory interface {
	Person(ctx context.Context, ref shared.PersonRef) (projects.Person, error)
	IncomeDistribution(ctx context.Context, id int64) (projects.IncomeDistribution, error)
}

// BalancePort moves funds between available and reserved.
type BalancePort interface {
	Get(ctx context.Context, person shared.PersonRef) (balances.Balance, error)
	Reserve(ctx context.Context, person shared.PersonRef, amount money.Money, instructionID int64) (balances.Balance, error)
	ReleaseReservation(ctx context.Context, person shared.PersonRef, amount money.Money, instructionID int64) (balances.Balance, error)
	ConsumeReservation(ctx context.Context, person shared.PersonRef, amount money.Money, instructionID int64) (balances.Balance, error)
}

// Notifier delivers recipient notifications.
type Notifier interface {
	Notify(ctx context.Context, m notify.Message) error
}

// AuditPort records audit events.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort guards against replayed create requests.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key, module string) error
}

// Service creates payment instructions and drives their lifecycle.
type Service struct {
	repo        Repository
	directory   Directory
	balances    BalancePort
	locker      shared.Locker
	notifier    Notifier
	audit       AuditPort
	idempotency IdempotencyPort
	format      *notify.Formatter
	logger      *slog.Logger
	observe     func(compensated bool)
	newRef      func() uuid.UUID
	now         func() time.Time
}

// Option configures optional collaborators.
type Option func(*Service)

// WithIdempotency enables request key deduplication.
func WithIdempotency(store IdempotencyPort) Option {
	return func(s *Service) { s.idempotency = store }
}

// WithFormatter sets the notification amount formatter.
func WithFormatter(f *notify.Formatter) Option {
	return func(s *Service) { s.format = f }
}

// WithCompensationObserver registers fn to be called after every cleanup
// with whether it succeeded.
func WithCompensationObserver(fn func(compensated bool)) Option {
	return func(s *Service) { s.observe = fn }
}

// NewService wires the payment instruction engine.
func NewService(repo Repository, directory Directory, balances BalancePort, locker shared.Locker, notifier Notifier, audit AuditPort, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		repo:      repo,
		directory: directory,
		balances:  balances,
		locker:    locker,
		notifier:  notifier,
		audit:     audit,
		logger:    logger,
		newRef:    uuid.New,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.format == nil {
		s.format, _ = notify.NewFormatter("TRY", "en")
	}
	return s
}

// Get returns an instruction with its items.
func (s *Service) Get(ctx context.Context, id int64) (Instruction, error) {
	return s.repo.Get(ctx, id)
}

// ListByRecipient returns the most recent instructions of a recipient.
func (s *Service) ListByRecipient(ctx context.Context, recipient shared.PersonRef, limit int) ([]Instruction, error) {
	if err := recipient.Validate(); err != nil {
		return nil, err
	}
	return s.repo.ListByRecipient(ctx, recipient, limit)
}

// Create validates a payment request and books it as a pending instruction
// with its funds reserved. Either the instruction, its items and the
// reservation all persist or none of them do.
func (s *Service) Create(ctx context.Context, in CreateInput) (Instruction, error) {
	in = in.normalized()
	if err := in.Validate(); err != nil {
		return Instruction{}, err
	}

	person, err := s.directory.Person(ctx, in.Recipient)
	if err != nil {
		return Instruction{}, err
	}
	if !person.IsActive {
		return Instruction{}, fmt.Errorf("%w: %s is inactive", shared.ErrInvalidRecipient, in.Recipient)
	}
	if strings.TrimSpace(person.IBAN) == "" {
		return Instruction{}, fmt.Errorf("%w: %s has no IBAN", shared.ErrInvalidRecipient, in.Recipient)
	}

	if s.idempotency != nil && in.IdempotencyKey != "" {
		if err := s.idempotency.CheckAndInsert(ctx, in.IdempotencyKey, IdempotencyModule); err != nil {
			return Instruction{}, err
		}
	}

	created, err := s.createLocked(ctx, in)
	if err != nil {
		s.forgetKey(ctx, in.IdempotencyKey)
		return Instruction{}, err
	}

	reference := created.Reference.String()
	if err := s.notifier.Notify(ctx, s.format.PaymentCreated(created.Recipient, created.TotalAmount, reference)); err != nil {
		s.logger.Warn("notify payment instruction", slog.Int64("instruction_id", created.ID), slog.Any("error", err))
	}
	s.recordAudit(ctx, in.ActorID, "payment_instruction.create", created.ID, nil, created)
	return created, nil
}

func (s *Service) createLocked(ctx context.Context, in CreateInput) (Instruction, error) {
	unlock, err := s.locker.Acquire(ctx, shared.BalanceLockKey(in.Recipient))
	if err != nil {
		return Instruction{}, err
	}
	defer unlock()

	balance, err := s.balances.Get(ctx, in.Recipient)
	if err != nil {
		return Instruction{}, err
	}
	if balance.Debt.IsPositive() {
		return Instruction{}, fmt.Errorf("%w: %s owes %s", shared.ErrOutstandingDebt, in.Recipient, balance.Debt.StringFixed())
	}
	if in.TotalAmount.GreaterThan(balance.Available) {
		return Instruction{}, fmt.Errorf("%w: available %s, requested %s", shared.ErrInsufficientBalance,
			balance.Available.StringFixed(), in.TotalAmount.StringFixed())
	}
	if err := s.checkDistributions(ctx, in); err != nil {
		return Instruction{}, err
	}
	if err := CheckTotal(in.TotalAmount, in.Items); err != nil {
		return Instruction{}, err
	}

	created, err := s.repo.Insert(ctx, Instruction{
		Reference:   s.newRef(),
		Recipient:   in.Recipient,
		TotalAmount: in.TotalAmount,
		Status:      StatusPending,
		Notes:       in.Notes,
		CreatedBy:   in.ActorID,
	})
	if err != nil {
		return Instruction{}, fmt.Errorf("payments: insert instruction: %w", err)
	}

	items := make([]Item, len(in.Items))
	for i, item := range in.Items {
		items[i] = Item{IncomeDistributionID: item.IncomeDistributionID, Amount: item.Amount, Description: item.Description}
	}
	created.Items, err = s.repo.InsertItems(ctx, created.ID, items)
	if err != nil {
		return Instruction{}, s.compensate(ctx, "payments: insert items", created.ID, err)
	}

	if _, err := s.balances.Reserve(ctx, in.Recipient, in.TotalAmount, created.ID); err != nil {
		return Instruction{}, s.compensate(ctx, "payments: reserve funds", created.ID, err)
	}
	return created, nil
}

// checkDistributions caps the items drawn on each income distribution at
// that distribution's amount, summed across the request.
func (s *Service) checkDistributions(ctx context.Context, in CreateInput) error {
	var order []int64
	drawn := make(map[int64]money.Money)
	for _, item := range in.Items {
		if item.IncomeDistributionID == nil {
			continue
		}
		id := *item.IncomeDistributionID
		if _, ok := drawn[id]; !ok {
			order = append(order, id)
			drawn[id] = money.Zero
		}
		drawn[id] = drawn[id].Add(item.Amount)
	}
	for _, id := range order {
		dist, err := s.directory.IncomeDistribution(ctx, id)
		if err != nil {
			return err
		}
		if !dist.Person.Equal(in.Recipient) {
			return fmt.Errorf("%w: distribution %d does not belong to %s",
				shared.ErrInvalidAmount, dist.ID, in.Recipient)
		}
		if drawn[id].GreaterThan(dist.Amount) {
			return fmt.Errorf("%w: items total %s exceeds distribution %d amount %s",
				shared.ErrInvalidAmount, drawn[id].StringFixed(), dist.ID, dist.Amount.StringFixed())
		}
	}
	return nil
}

// compensate removes what an interrupted create inserted, newest first.
// Items are always deleted: a failed batch insert may still have committed.
func (s *Service) compensate(ctx context.Context, op string, instructionID int64, cause error) error {
	cleanupCtx := context.WithoutCancel(ctx)
	var failures []error
	if err := s.repo.DeleteItems(cleanupCtx, instructionID); err != nil {
		failures = append(failures, fmt.Errorf("delete items: %w", err))
	}
	if err := s.repo.Delete(cleanupCtx, instructionID); err != nil {
		failures = append(failures, fmt.Errorf("delete instruction: %w", err))
	}
	if s.observe != nil {
		s.observe(len(failures) == 0)
	}
	if len(failures) > 0 {
		s.logger.Error("payment instruction compensation failed",
			slog.Int64("instruction_id", instructionID),
			slog.Any("error", errors.Join(failures...)))
		return &shared.CompensationError{Op: op, Cause: cause, Failures: failures}
	}
	return fmt.Errorf("%s: %w", op, cause)
}

func (s *Service) forgetKey(ctx context.Context, key string) {
	if s.idempotency == nil || key == "" {
		return
	}
	if err := s.idempotency.Delete(context.WithoutCancel(ctx), key, IdempotencyModule); err != nil {
		s.logger.Warn("release idempotency key", slog.String("key", key), slog.Any("error", err))
	}
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, id int64, before, after any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "payment_instruction",
		EntityID: strconv.FormatInt(id, 10),
		Before:   before,
		After:    after,
		At:       s.now(),
	})
	if err != nil {
		s.logger.Warn("audit payment instruction", slog.String("action", action), slog.Int64("instruction_id", id), slog.Any("error", err))
	}
}
