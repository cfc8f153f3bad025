// Package ledgerhttp exposes the ledger engine as a JSON API.
package ledgerhttp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/tto-ledger/ledger/internal/allocations"
	"github.com/tto-ledger/ledger/internal/balances"
	"github.com/tto-ledger/ledger/internal/money"
	"github.com/tto-ledger/ledger/internal/payments"
	"github.com/tto-ledger/ledger/internal/platform/httpx"
	"github.com/tto-ledger/ledger/internal/shared"
)

// ActorHeader carries the id of the staff member performing a mutation.
const ActorHeader = "X-Actor-ID"

// IdempotencyHeader carries a client chosen key for payment creation.
const IdempotencyHeader = "Idempotency-Key"

// Engine is the ledger surface the handler needs.
type Engine interface {
	ProjectSummary(ctx context.Context, projectID int64) (allocations.ProjectSummary, error)
	CreateManualAllocation(ctx context.Context, projectID int64, person shared.PersonRef, amount money.Money, notes string, actorID int64) (allocations.Allocation, error)
	CreatePaymentInstruction(ctx context.Context, in payments.CreateInput) (payments.Instruction, error)
	TransitionPayment(ctx context.Context, id int64, target payments.Status, actorID int64) (payments.Instruction, error)
	PaymentInstruction(ctx context.Context, id int64) (payments.Instruction, error)
	PaymentInstructions(ctx context.Context, recipient shared.PersonRef, limit int) ([]payments.Instruction, error)
	AdjustBalanceBy(ctx context.Context, actorID int64, person shared.PersonRef, kind balances.Kind, amount money.Money, referenceType string, referenceID int64, description string) error
	Balance(ctx context.Context, person shared.PersonRef) (balances.Balance, error)
	BalanceHistory(ctx context.Context, person shared.PersonRef, limit int) ([]balances.Transaction, error)
}

// Handler wires the ledger JSON endpoints.
type Handler struct {
	engine    Engine
	logger    *slog.Logger
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(engine Engine, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{engine: engine, logger: logger, validator: validator.New()}
}

// MountRoutes registers ledger routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/projects/{projectID}/summary", h.getSummary)
	r.Post("/projects/{projectID}/allocations", h.createAllocation)

	r.Route("/people/{kind}/{personID}", func(r chi.Router) {
		r.Get("/balance", h.getBalance)
		r.Get("/balance/transactions", h.listTransactions)
		r.Post("/balance/adjustments", h.adjustBalance)
		r.Get("/payment-instructions", h.listInstructions)
	})

	r.Post("/payment-instructions", h.createInstruction)
	r.Get("/payment-instructions/{instructionID}", h.getInstruction)
	r.Post("/payment-instructions/{instructionID}/transitions", h.transitionInstruction)
}

type personRequest struct {
	UserID      *int64 `json:"user_id" validate:"omitempty,gt=0"`
	PersonnelID *int64 `json:"personnel_id" validate:"omitempty,gt=0"`
}

func (p personRequest) ref() shared.PersonRef {
	return shared.PersonRef{UserID: p.UserID, PersonnelID: p.PersonnelID}
}

type allocationRequest struct {
	personRequest
	Amount money.Money `json:"amount"`
	Notes  string      `json:"notes" validate:"max=2000"`
}

type instructionItemRequest struct {
	IncomeDistributionID *int64      `json:"income_distribution_id" validate:"omitempty,gt=0"`
	Amount               money.Money `json:"amount"`
	Description          string      `json:"description" validate:"max=500"`
}

type instructionRequest struct {
	Recipient   personRequest            `json:"recipient"`
	TotalAmount money.Money              `json:"total_amount"`
	Items       []instructionItemRequest `json:"items" validate:"required,min=1,dive"`
	Notes       string                   `json:"notes" validate:"max=2000"`
}

type adjustmentRequest struct {
	Kind          balances.Kind `json:"kind" validate:"required,oneof=credit debit reserve release consume debt settle_debt"`
	Amount        money.Money   `json:"amount"`
	ReferenceType string        `json:"reference_type" validate:"max=64"`
	ReferenceID   int64         `json:"reference_id" validate:"gte=0"`
	Description   string        `json:"description" validate:"max=500"`
}

type transitionRequest struct {
	Status payments.Status `json:"status" validate:"required,oneof=approved processing completed rejected"`
}

func (h *Handler) getSummary(w http.ResponseWriter, r *http.Request) {
	projectID, err := pathID(r, "projectID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out, err := h.engine.ProjectSummary(r.Context(), projectID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) createAllocation(w http.ResponseWriter, r *http.Request) {
	projectID, err := pathID(r, "projectID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	actorID, err := actor(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req allocationRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	created, err := h.engine.CreateManualAllocation(r.Context(), projectID, req.ref(), req.Amount, req.Notes, actorID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) getBalance(w http.ResponseWriter, r *http.Request) {
	person, err := pathPerson(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	b, err := h.engine.Balance(r.Context(), person)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, b)
}

func (h *Handler) listTransactions(w http.ResponseWriter, r *http.Request) {
	person, err := pathPerson(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	rows, err := h.engine.BalanceHistory(r.Context(), person, queryLimit(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"transactions": rows})
}

func (h *Handler) adjustBalance(w http.ResponseWriter, r *http.Request) {
	person, err := pathPerson(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	actorID, err := actor(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req adjustmentRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	refType := req.ReferenceType
	if refType == "" {
		refType = balances.RefManual
	}
	if err := h.engine.AdjustBalanceBy(r.Context(), actorID, person, req.Kind, req.Amount, refType, req.ReferenceID, req.Description); err != nil {
		h.fail(w, r, err)
		return
	}
	b, err := h.engine.Balance(r.Context(), person)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, b)
}

func (h *Handler) listInstructions(w http.ResponseWriter, r *http.Request) {
	person, err := pathPerson(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	list, err := h.engine.PaymentInstructions(r.Context(), person, queryLimit(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"payment_instructions": list})
}

func (h *Handler) createInstruction(w http.ResponseWriter, r *http.Request) {
	actorID, err := actor(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req instructionRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	in := payments.CreateInput{
		Recipient:      req.Recipient.ref(),
		TotalAmount:    req.TotalAmount,
		Notes:          req.Notes,
		ActorID:        actorID,
		IdempotencyKey: strings.TrimSpace(r.Header.Get(IdempotencyHeader)),
	}
	for _, item := range req.Items {
		in.Items = append(in.Items, payments.ItemInput{
			IncomeDistributionID: item.IncomeDistributionID,
			Amount:               item.Amount,
			Description:          item.Description,
		})
	}
	created, err := h.engine.CreatePaymentInstruction(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) getInstruction(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "instructionID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	in, err := h.engine.PaymentInstruction(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, in)
}

func (h *Handler) transitionInstruction(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "instructionID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	actorID, err := actor(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req transitionRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	in, err := h.engine.TransitionPayment(r.Context(), id, req.Status, actorID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, in)
}

func (h *Handler) decode(r *http.Request, target any) error {
	if err := httpx.DecodeJSON(r, target); err != nil {
		return err
	}
	if err := h.validator.Struct(target); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			fields := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				fields = append(fields, fe.Namespace()+" "+fe.Tag())
			}
			return fmt.Errorf("%w: %s", shared.ErrInvalidInput, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %v", shared.ErrInvalidInput, err)
	}
	return nil
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var ce *shared.CompensationError
	if errors.As(err, &ce) || errors.Is(err, shared.ErrPersistence) {
		h.logger.Error("ledger request", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid %s", shared.ErrInvalidInput, name)
	}
	return id, nil
}

func pathPerson(r *http.Request) (shared.PersonRef, error) {
	id, err := pathID(r, "personID")
	if err != nil {
		return shared.PersonRef{}, err
	}
	switch shared.PersonKind(chi.URLParam(r, "kind")) {
	case shared.PersonUser:
		return shared.UserRef(id), nil
	case shared.PersonPersonnel:
		return shared.PersonnelRef(id), nil
	}
	return shared.PersonRef{}, fmt.Errorf("%w: person kind must be user or personnel", shared.ErrInvalidInput)
}

func actor(r *http.Request) (int64, error) {
	raw := strings.TrimSpace(r.Header.Get(ActorHeader))
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %s header required", shared.ErrInvalidInput, ActorHeader)
	}
	return id, nil
}

func queryLimit(r *http.Request) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 || limit > 500 {
		return 50
	}
	return limit
}
