package allocations

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tto-ledger/ledger/internal/balances"
	"github.com/tto-ledger/ledger/internal/money"
	"github.com/tto-ledger/ledger/internal/projects"
	"github.com/tto-ledger/ledger/internal/shared"
)

func amt(s string) money.Money { return money.MustParse(s) }

type stubProjects struct {
	snap projects.Snapshot
	reps []projects.Representative
}

func (p *stubProjects) FinancialSummary(ctx context.Context, id int64) (projects.Project, projects.FinancialSummary, error) {
	if id != p.snap.Project.ID {
		return projects.Project{}, projects.FinancialSummary{}, fmt.Errorf("%w: project %d", shared.ErrNotFound, id)
	}
	return p.snap.Project, projects.Summarize(p.snap), nil
}

func (p *stubProjects) Representatives(ctx context.Context, id int64) ([]projects.Representative, error) {
	return p.reps, nil
}

func (p *stubProjects) Representative(ctx context.Context, id int64, person shared.PersonRef) (projects.Representative, error) {
	for _, r := range p.reps {
		if r.Person.Equal(person) {
			return r, nil
		}
	}
	return projects.Representative{}, fmt.Errorf("%w: not a representative", shared.ErrNotFound)
}

type recordingAudit struct {
	mu   sync.Mutex
	logs []shared.AuditLog
	err  error
}

func (a *recordingAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return a.err
}

type fixture struct {
	svc      *Service
	repo     *MemoryRepository
	balances *balances.Service
	audit    *recordingAudit
	projects *stubProjects
}

// newFixture builds a project with a distributable amount of 800.00
// (1000 collected, 20% commission) and two representatives.
func newFixture(t *testing.T) fixture {
	t.Helper()
	proj := &stubProjects{
		snap: projects.Snapshot{
			Project: projects.Project{ID: 1, Code: "P-1", CommissionRate: amt("20"), Budget: amt("5000"), Status: projects.StatusActive},
			Incomes: []projects.Income{{ID: 1, ProjectID: 1, GrossAmount: amt("1000"), CollectedAmount: amt("1000")}},
		},
		reps: []projects.Representative{
			{ID: 10, ProjectID: 1, Person: shared.UserRef(1), Role: projects.RoleProjectLeader, FullName: "Ada Leader"},
			{ID: 11, ProjectID: 1, Person: shared.PersonnelRef(2), Role: projects.RoleResearcher, FullName: "Bo Researcher"},
		},
	}
	repo := NewMemoryRepository()
	bal := balances.NewService(balances.NewMemoryRepository())
	audit := &recordingAudit{}
	svc := NewService(repo, proj, bal, shared.NewMemoryLocker(5*time.Second), audit, nil)
	return fixture{svc: svc, repo: repo, balances: bal, audit: audit, projects: proj}
}

func TestCreateCreditsBalanceAndAudits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.svc.Create(ctx, CreateInput{ProjectID: 1, Person: shared.UserRef(1), Amount: amt("300"), Notes: "  first  ", ActorID: 42})
	require.NoError(t, err)
	require.NotZero(t, a.ID)
	require.Equal(t, "first", a.Notes)
	require.EqualValues(t, 42, a.CreatedBy)

	b, err := f.balances.Get(ctx, shared.UserRef(1))
	require.NoError(t, err)
	require.Equal(t, "300.00", b.Available.StringFixed())

	require.Len(t, f.audit.logs, 1)
	require.Equal(t, "allocation.create", f.audit.logs[0].Action)
	require.EqualValues(t, 42, f.audit.logs[0].ActorID)
}

func TestCreateRejectsOverBudget(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, CreateInput{ProjectID: 1, Person: shared.UserRef(1), Amount: amt("500")})
	require.NoError(t, err)

	_, err = f.svc.Create(ctx, CreateInput{ProjectID: 1, Person: shared.PersonnelRef(2), Amount: amt("300.01")})
	require.ErrorIs(t, err, shared.ErrBudgetExceeded)

	_, err = f.svc.Create(ctx, CreateInput{ProjectID: 1, Person: shared.PersonnelRef(2), Amount: amt("300")})
	require.NoError(t, err)

	list, err := f.repo.List(ctx, 1)
	require.NoError(t, err)
	require.Len(t, list, 2)
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, CreateInput{ProjectID: 1, Person: shared.UserRef(1), Amount: money.Zero})
	require.ErrorIs(t, err, shared.ErrInvalidAmount)

	_, err = f.svc.Create(ctx, CreateInput{ProjectID: 1, Person: shared.PersonRef{}, Amount: amt("1")})
	require.ErrorIs(t, err, shared.ErrInvalidInput)

	_, err = f.svc.Create(ctx, CreateInput{ProjectID: 1, Person: shared.UserRef(99), Amount: amt("1")})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestCreateRejectsSubCentAmountBeforeWriting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	var observed []bool
	f.svc.WithCompensationObserver(func(ok bool) { observed = append(observed, ok) })

	for _, raw := range []string{"0.004", "-0.004"} {
		_, err := f.svc.Create(ctx, CreateInput{ProjectID: 1, Person: shared.UserRef(1), Amount: amt(raw)})
		require.ErrorIs(t, err, shared.ErrInvalidAmount, raw)
	}
	require.Empty(t, observed)

	list, err := f.repo.List(ctx, 1)
	require.NoError(t, err)
	require.Empty(t, list)
	require.Empty(t, f.audit.logs)
}

func TestCreateRejectsClosedProject(t *testing.T) {
	for _, status := range []projects.Status{projects.StatusCompleted, projects.StatusCancelled} {
		t.Run(string(status), func(t *testing.T) {
			f := newFixture(t)
			f.projects.snap.Project.Status = status
			_, err := f.svc.Create(context.Background(), CreateInput{ProjectID: 1, Person: shared.UserRef(1), Amount: amt("10")})
			require.ErrorIs(t, err, shared.ErrProjectClosed)
		})
	}
}

func TestCreateDebitCompensatesOnInsufficientBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	var observed []bool
	f.svc.WithCompensationObserver(func(ok bool) { observed = append(observed, ok) })

	_, err := f.svc.Create(ctx, CreateInput{ProjectID: 1, Person: shared.UserRef(1), Amount: amt("100")})
	require.NoError(t, err)

	_, err = f.svc.Create(ctx, CreateInput{ProjectID: 1, Person: shared.UserRef(1), Amount: amt("-150")})
	require.ErrorIs(t, err, shared.ErrInsufficientBalance)
	require.Equal(t, []bool{true}, observed)

	list, err := f.repo.List(ctx, 1)
	require.NoError(t, err)
	require.Len(t, list, 1)

	b, err := f.balances.Get(ctx, shared.UserRef(1))
	require.NoError(t, err)
	require.Equal(t, "100.00", b.Available.StringFixed())
	require.Len(t, f.audit.logs, 1)
}

type failingDeleteRepo struct {
	*MemoryRepository
}

func (r failingDeleteRepo) Delete(ctx context.Context, id int64) error {
	return errors.New("connection reset")
}

func TestCreateReportsFailedCompensation(t *testing.T) {
	f := newFixture(t)
	f.svc.repo = failingDeleteRepo{MemoryRepository: f.repo}

	_, err := f.svc.Create(context.Background(), CreateInput{ProjectID: 1, Person: shared.UserRef(1), Amount: amt("-1")})
	require.ErrorIs(t, err, shared.ErrInsufficientBalance)
	var ce *shared.CompensationError
	require.ErrorAs(t, err, &ce)
	require.Len(t, ce.Failures, 1)
}

func TestCreateAuditFailureIsNotReturned(t *testing.T) {
	f := newFixture(t)
	f.audit.err = errors.New("audit down")

	_, err := f.svc.Create(context.Background(), CreateInput{ProjectID: 1, Person: shared.UserRef(1), Amount: amt("1")})
	require.NoError(t, err)
}

func TestCreateConcurrentWritersRespectCeiling(t *testing.T) {
	f := newFixture(t)
	people := []shared.PersonRef{shared.UserRef(1), shared.PersonnelRef(2)}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func(person shared.PersonRef) {
			defer wg.Done()
			_, err := f.svc.Create(context.Background(), CreateInput{ProjectID: 1, Person: person, Amount: amt("150")})
			switch {
			case err == nil:
				mu.Lock()
				succeeded++
				mu.Unlock()
			case !errors.Is(err, shared.ErrBudgetExceeded):
				t.Errorf("unexpected error: %v", err)
			}
		}(people[i%2])
	}
	wg.Wait()

	require.Equal(t, 5, succeeded)
	sums, err := f.repo.SumByPerson(context.Background(), 1)
	require.NoError(t, err)
	total := money.Zero
	for _, v := range sums {
		total = total.Add(v)
	}
	require.Equal(t, "750.00", total.StringFixed())
}

func TestSummarizeTeam(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, CreateInput{ProjectID: 1, Person: shared.UserRef(1), Amount: amt("200")})
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, CreateInput{ProjectID: 1, Person: shared.UserRef(1), Amount: amt("-50")})
	require.NoError(t, err)
	_, err = f.balances.Adjust(ctx, balances.AdjustInput{Person: shared.PersonnelRef(2), Kind: balances.KindCredit, Amount: amt("7")})
	require.NoError(t, err)

	out, err := f.svc.Summarize(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, "800.00", out.Summary.DistributableAmount.StringFixed())
	require.Equal(t, "150.00", out.AllocatedTotal.StringFixed())
	require.Equal(t, "650.00", out.RemainingDistributable.StringFixed())
	require.Len(t, out.Team, 2)
	require.Equal(t, "150.00", out.Team[0].AllocatedAmount.StringFixed())
	require.Equal(t, "150.00", out.Team[0].CurrentBalance.StringFixed())
	require.Equal(t, "0.00", out.Team[1].AllocatedAmount.StringFixed())
	require.Equal(t, "7.00", out.Team[1].CurrentBalance.StringFixed())
}

func TestSummarizeUnknownProject(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Summarize(context.Background(), 404)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestCheckBudgetAllowsNegativeAdjustments(t *testing.T) {
	require.NoError(t, CheckBudget(amt("100"), amt("120"), amt("-30")))
	require.ErrorIs(t, CheckBudget(amt("100"), amt("120"), amt("-10")), shared.ErrBudgetExceeded)
	require.NoError(t, CheckBudget(amt("100"), amt("99.99"), amt("0.01")))
}
