package payments

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tto-ledger/ledger/internal/shared"
)

// Approve moves a pending instruction to approved.
func (s *Service) Approve(ctx context.Context, id, actorID int64) (Instruction, error) {
	return s.transition(ctx, id, actorID, StatusApproved)
}

// StartProcessing moves an approved instruction to processing.
func (s *Service) StartProcessing(ctx context.Context, id, actorID int64) (Instruction, error) {
	return s.transition(ctx, id, actorID, StatusProcessing)
}

// Complete marks a processing instruction paid and consumes its reservation.
func (s *Service) Complete(ctx context.Context, id, actorID int64) (Instruction, error) {
	return s.transition(ctx, id, actorID, StatusCompleted)
}

// Reject cancels a pending instruction and releases its reservation.
func (s *Service) Reject(ctx context.Context, id, actorID int64) (Instruction, error) {
	return s.transition(ctx, id, actorID, StatusRejected)
}

func (s *Service) transition(ctx context.Context, id, actorID int64, target Status) (Instruction, error) {
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return Instruction{}, err
	}
	if err := ValidateTransition(current.Status, target); err != nil {
		return Instruction{}, err
	}

	unlock, err := s.locker.Acquire(ctx, shared.BalanceLockKey(current.Recipient))
	if err != nil {
		return Instruction{}, err
	}
	defer unlock()

	var before Instruction
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		locked, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := ValidateTransition(locked.Status, target); err != nil {
			return err
		}
		before = locked
		return tx.UpdateStatus(ctx, id, target, actorID)
	})
	if err != nil {
		return Instruction{}, err
	}

	if err := s.settleReservation(ctx, before, target); err != nil {
		return Instruction{}, s.revertStatus(ctx, before, err)
	}

	after := before
	after.Status = target
	after.StatusChangedBy = actorID
	after.Items = current.Items
	after.UpdatedAt = s.now()

	msg := s.format.PaymentStatusChanged(after.Recipient, after.TotalAmount, after.Reference.String(), string(target))
	if err := s.notifier.Notify(ctx, msg); err != nil {
		s.logger.Warn("notify payment status", slog.Int64("instruction_id", id), slog.Any("error", err))
	}
	s.recordAudit(ctx, actorID, "payment_instruction."+string(target), id, before, after)
	return after, nil
}

func (s *Service) settleReservation(ctx context.Context, in Instruction, target Status) error {
	var err error
	switch target {
	case StatusCompleted:
		_, err = s.balances.ConsumeReservation(ctx, in.Recipient, in.TotalAmount, in.ID)
	case StatusRejected:
		_, err = s.balances.ReleaseReservation(ctx, in.Recipient, in.TotalAmount, in.ID)
	}
	return err
}

func (s *Service) revertStatus(ctx context.Context, before Instruction, cause error) error {
	cleanupCtx := context.WithoutCancel(ctx)
	err := s.repo.WithTx(cleanupCtx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateStatus(ctx, before.ID, before.Status, before.StatusChangedBy)
	})
	if s.observe != nil {
		s.observe(err == nil)
	}
	if err != nil {
		s.logger.Error("payment status revert failed", slog.Int64("instruction_id", before.ID), slog.Any("error", err))
		return &shared.CompensationError{Op: "payments: settle reservation", Cause: cause, Failures: []error{err}}
	}
	return fmt.Errorf("payments: settle reservation: %w", cause)
}
