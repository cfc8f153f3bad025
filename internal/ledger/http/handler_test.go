package ledgerhttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/tto-ledger/ledger/internal/allocations"
	"github.com/tto-ledger/ledger/internal/balances"
	"github.com/tto-ledger/ledger/internal/ledger"
	"github.com/tto-ledger/ledger/internal/money"
	"github.com/tto-ledger/ledger/internal/payments"
	"github.com/tto-ledger/ledger/internal/platform/httpx"
	"github.com/tto-ledger/ledger/internal/projects"
	"github.com/tto-ledger/ledger/internal/shared"
)

func amt(s string) money.Money { return money.MustParse(s) }

type recordingAudit struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (a *recordingAudit) Record(_ context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

func newRouter(t *testing.T) http.Handler {
	t.Helper()
	return newAuditedRouter(t, nil)
}

func newAuditedRouter(t *testing.T, audit ledger.AuditSink) http.Handler {
	t.Helper()
	repo := projects.NewMemoryRepository()
	repo.PutProject(projects.Project{ID: 1, Code: "TTO-1", CommissionRate: amt("10"), Budget: amt("5000"), Status: projects.StatusActive})
	require.NoError(t, repo.AddIncome(projects.Income{ID: 1, ProjectID: 1, GrossAmount: amt("1000"), CollectedAmount: amt("1000")}))
	repo.AddRepresentative(projects.Representative{ID: 10, ProjectID: 1, Person: shared.UserRef(1), Role: projects.RoleProjectLeader, FullName: "Ada"})
	repo.PutPerson(projects.Person{Ref: shared.UserRef(1), FullName: "Ada", IBAN: "TR330006100519786457841326", IsActive: true})

	engine := ledger.NewEngine(ledger.Config{
		Projects:    repo,
		Balances:    balances.NewMemoryRepository(),
		Allocations: allocations.NewMemoryRepository(),
		Payments:    payments.NewMemoryRepository(),
		Locker:      shared.NewMemoryLocker(time.Second),
		Audit:       audit,
	})
	r := chi.NewRouter()
	NewHandler(engine, nil).MountRoutes(r)
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

var asActor = map[string]string{ActorHeader: "42"}

func problem(t *testing.T, rr *httptest.ResponseRecorder) httpx.ProblemDetail {
	t.Helper()
	var p httpx.ProblemDetail
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &p))
	return p
}

func TestSummaryEndpoint(t *testing.T) {
	h := newRouter(t)

	rr := do(t, h, http.MethodGet, "/projects/1/summary", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var body struct {
		Summary struct {
			DistributableAmount string `json:"distributable_amount"`
		} `json:"summary"`
		RemainingDistributable string `json:"remaining_distributable"`
		Team                   []struct {
			AllocatedAmount string `json:"allocated_amount"`
			CurrentBalance  string `json:"current_balance"`
		} `json:"team"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, "900.00", body.Summary.DistributableAmount)
	require.Equal(t, "900.00", body.RemainingDistributable)
	require.Len(t, body.Team, 1)
	require.Equal(t, "0.00", body.Team[0].CurrentBalance)

	rr = do(t, h, http.MethodGet, "/projects/9/summary", "", nil)
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = do(t, h, http.MethodGet, "/projects/abc/summary", "", nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAllocationAndPaymentFlow(t *testing.T) {
	h := newRouter(t)

	rr := do(t, h, http.MethodPost, "/projects/1/allocations", `{"user_id":1,"amount":"400","notes":"q1"}`, nil)
	require.Equal(t, http.StatusBadRequest, rr.Code, "actor header is required")

	rr = do(t, h, http.MethodPost, "/projects/1/allocations", `{"user_id":1,"amount":"400","notes":"q1"}`, asActor)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = do(t, h, http.MethodPost, "/projects/1/allocations", `{"user_id":1,"amount":"500.01"}`, asActor)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	require.Equal(t, "/problems/budget-exceeded", problem(t, rr).Type)

	payload := `{"recipient":{"user_id":1},"total_amount":"100.00","items":[{"amount":"60"},{"amount":"40","description":"travel"}]}`
	headers := map[string]string{ActorHeader: "42", IdempotencyHeader: "abc"}
	rr = do(t, h, http.MethodPost, "/payment-instructions", payload, headers)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var created struct {
		ID     int64  `json:"id"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))
	require.Equal(t, "pending", created.Status)

	rr = do(t, h, http.MethodGet, "/people/user/1/balance", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var bal struct {
		Available string `json:"available_amount"`
		Reserved  string `json:"reserved_amount"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &bal))
	require.Equal(t, "300.00", bal.Available)
	require.Equal(t, "100.00", bal.Reserved)

	rr = do(t, h, http.MethodPost, "/payment-instructions/1/transitions", `{"status":"completed"}`, asActor)
	require.Equal(t, http.StatusConflict, rr.Code)

	rr = do(t, h, http.MethodPost, "/payment-instructions/1/transitions", `{"status":"rejected"}`, asActor)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = do(t, h, http.MethodGet, "/people/user/1/payment-instructions", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"status":"rejected"`)

	rr = do(t, h, http.MethodGet, "/people/user/1/balance/transactions?limit=2", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var hist struct {
		Transactions []struct {
			Kind string `json:"kind"`
		} `json:"transactions"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &hist))
	require.Len(t, hist.Transactions, 2)
	require.Equal(t, "release", hist.Transactions[0].Kind)
}

func TestPaymentValidationErrors(t *testing.T) {
	h := newRouter(t)

	rr := do(t, h, http.MethodPost, "/payment-instructions", `{"recipient":{"user_id":1},"total_amount":"10","items":[]}`, asActor)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, h, http.MethodPost, "/payment-instructions", `{"recipient":{"user_id":1,"personnel_id":2},"total_amount":"10","items":[{"amount":"10"}]}`, asActor)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	require.Equal(t, "/problems/invalid-recipient", problem(t, rr).Type)

	rr = do(t, h, http.MethodPost, "/payment-instructions", `{"recipient":{"user_id":1},"total_amount":"10","items":[{"amount":"10"}],"bogus":true}`, asActor)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, h, http.MethodPost, "/payment-instructions", `{"recipient":{"user_id":1},"total_amount":"10","items":[{"amount":"10"}]}`, asActor)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	require.Equal(t, "/problems/insufficient-balance", problem(t, rr).Type)
}

func TestAdjustmentEndpoint(t *testing.T) {
	h := newRouter(t)

	rr := do(t, h, http.MethodPost, "/people/personnel/5/balance/adjustments", `{"kind":"credit","amount":"12.5"}`, asActor)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Contains(t, rr.Body.String(), `"available_amount":"12.50"`)

	rr = do(t, h, http.MethodPost, "/people/personnel/5/balance/adjustments", `{"kind":"gift","amount":"1"}`, asActor)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, h, http.MethodPost, "/people/robot/5/balance/adjustments", `{"kind":"credit","amount":"1"}`, asActor)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAdjustmentEndpointRecordsActor(t *testing.T) {
	audit := &recordingAudit{}
	h := newAuditedRouter(t, audit)

	rr := do(t, h, http.MethodPost, "/people/personnel/5/balance/adjustments", `{"kind":"credit","amount":"20","description":"grant"}`, asActor)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	require.Len(t, audit.logs, 1)
	entry := audit.logs[0]
	require.Equal(t, int64(42), entry.ActorID)
	require.Equal(t, "balance.adjust", entry.Action)
	require.Equal(t, "balance", entry.Entity)
	require.Equal(t, shared.PersonnelRef(5).Key(), entry.EntityID)

	rr = do(t, h, http.MethodPost, "/people/personnel/5/balance/adjustments", `{"kind":"debit","amount":"500"}`, asActor)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	require.Len(t, audit.logs, 1)
}
