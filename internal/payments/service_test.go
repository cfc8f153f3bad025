package payments

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
	"github.com/tto-ledger/ledger/internal/notify"
	"github.com/tto-ledger/ledger/internal/projects"
	"github.com/tto-ledger/ledger/internal/shared"
)

func amt(s string) money.Money { return money.MustParse(s) }

func distID(id int64) *int64 { return &id }

type stubDirectory struct {
	people map[string]projects.Person
	dists  map[int64]projects.IncomeDistribution
}

func (d *stubDirectory) Person(ctx context.Context, ref shared.PersonRef) (projects.Person, error) {
	p, ok := d.people[ref.Key()]
	if !ok {
		return projects.Person{}, fmt.Errorf("%w: %s", shared.ErrNotFound, ref)
	}
	return p, nil
}

func (d *stubDirectory) IncomeDistribution(ctx context.Context, id int64) (projects.IncomeDistribution, error) {
	dist, ok := d.dists[id]
	if !ok {
		return projects.IncomeDistribution{}, fmt.Errorf("%w: distribution %d", shared.ErrNotFound, id)
	}
	return dist, nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []notify.Message
	err  error
}

func (n *recordingNotifier) Notify(ctx context.Context, m notify.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, m)
	return n.err
}

type recordingAudit struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (a *recordingAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

type failingReserve struct {
	BalancePort
	err error
}

func (f failingReserve) Reserve(ctx context.Context, person shared.PersonRef, amount money.Money, id int64) (balances.Balance, error) {
	return balances.Balance{}, f.err
}

type fakeIdempotency struct {
	seen    map[string]bool
	deleted []string
}

func (f *fakeIdempotency) CheckAndInsert(ctx context.Context, key, module string) error {
	if f.seen[module+key] {
		return shared.ErrIdempotencyConflict
	}
	f.seen[module+key] = true
	return nil
}

func (f *fakeIdempotency) Delete(ctx context.Context, key, module string) error {
	delete(f.seen, module+key)
	f.deleted = append(f.deleted, key)
	return nil
}

type fixture struct {
	svc      *Service
	repo     *MemoryRepository
	balances *balances.Service
	balRepo  *balances.MemoryRepository
	notifier *recordingNotifier
	audit    *recordingAudit
	dir      *stubDirectory
}

var (
	recipient = shared.UserRef(1)
	other     = shared.PersonnelRef(2)
)

func newFixture(t *testing.T, opts ...Option) fixture {
	t.Helper()
	dir := &stubDirectory{
		people: map[string]projects.Person{
			recipient.Key():              {Ref: recipient, FullName: "Ada", IBAN: "TR330006100519786457841326", IsActive: true},
			other.Key():                  {Ref: other, FullName: "Bo", IBAN: "TR330006100519786457841327", IsActive: true},
			shared.UserRef(3).Key():      {Ref: shared.UserRef(3), FullName: "Inactive", IBAN: "TR1", IsActive: false},
			shared.PersonnelRef(4).Key(): {Ref: shared.PersonnelRef(4), FullName: "No IBAN", IsActive: true},
			shared.PersonnelRef(5).Key(): {Ref: shared.PersonnelRef(5), FullName: "Blank IBAN", IBAN: "   ", IsActive: true},
		},
		dists: map[int64]projects.IncomeDistribution{
			100: {ID: 100, IncomeID: 1, ProjectID: 1, RepresentativeID: 10, Person: recipient, Amount: amt("300")},
			200: {ID: 200, IncomeID: 1, ProjectID: 1, RepresentativeID: 11, Person: other, Amount: amt("300")},
		},
	}
	balRepo := balances.NewMemoryRepository()
	balRepo.Seed(balances.Balance{Person: recipient, Available: amt("1000")})
	bal := balances.NewService(balRepo)
	repo := NewMemoryRepository()
	notifier := &recordingNotifier{}
	audit := &recordingAudit{}
	svc := NewService(repo, dir, bal, shared.NewMemoryLocker(5*time.Second), notifier, audit, nil, opts...)
	return fixture{svc: svc, repo: repo, balances: bal, balRepo: balRepo, notifier: notifier, audit: audit, dir: dir}
}

func validInput() CreateInput {
	return CreateInput{
		Recipient:   recipient,
		TotalAmount: amt("400"),
		Items: []ItemInput{
			{IncomeDistributionID: distID(100), Amount: amt("250"), Description: "share of income 1"},
			{Amount: amt("150"), Description: "manual"},
		},
		Notes:   "march payout",
		ActorID: 9,
	}
}

func TestCreateReservesFunds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in, err := f.svc.Create(ctx, validInput())
	require.NoError(t, err)
	require.Equal(t, StatusPending, in.Status)
	require.Len(t, in.Items, 2)
	require.NotEmpty(t, in.Reference.String())

	b, err := f.balances.Get(ctx, recipient)
	require.NoError(t, err)
	require.Equal(t, "600.00", b.Available.StringFixed())
	require.Equal(t, "400.00", b.Reserved.StringFixed())

	require.Len(t, f.notifier.msgs, 1)
	require.Equal(t, notify.TypePaymentInstruction, f.notifier.msgs[0].Type)
	require.True(t, f.notifier.msgs[0].Recipient.Equal(recipient))
	require.Len(t, f.audit.logs, 1)
	require.Equal(t, "payment_instruction.create", f.audit.logs[0].Action)

	stored, err := f.svc.Get(ctx, in.ID)
	require.NoError(t, err)
	require.Len(t, stored.Items, 2)
}

func TestCreateRejectsInvalidRecipients(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := map[string]shared.PersonRef{
		"inactive":   shared.UserRef(3),
		"no iban":    shared.PersonnelRef(4),
		"blank iban": shared.PersonnelRef(5),
		"both":       {UserID: distID(1), PersonnelID: distID(2)},
		"neither":    {},
	}
	for name, ref := range cases {
		t.Run(name, func(t *testing.T) {
			in := validInput()
			in.Recipient = ref
			_, err := f.svc.Create(ctx, in)
			require.ErrorIs(t, err, shared.ErrInvalidRecipient)
		})
	}

	in := validInput()
	in.Recipient = shared.UserRef(77)
	_, err := f.svc.Create(ctx, in)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestCreateRejectsOutstandingDebt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.balances.Adjust(ctx, balances.AdjustInput{Person: recipient, Kind: balances.KindDebt, Amount: amt("50")})
	require.NoError(t, err)

	_, err = f.svc.Create(ctx, validInput())
	require.ErrorIs(t, err, shared.ErrOutstandingDebt)

	count, _ := f.repo.Count()
	require.Zero(t, count)
}

func TestCreateRejectsInsufficientBalance(t *testing.T) {
	f := newFixture(t)
	in := CreateInput{Recipient: recipient, TotalAmount: amt("1000.01"), Items: []ItemInput{{Amount: amt("1000.01")}}}
	_, err := f.svc.Create(context.Background(), in)
	require.ErrorIs(t, err, shared.ErrInsufficientBalance)
}

func TestCreateChecksDistributions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := validInput()
	in.Items[0].IncomeDistributionID = distID(999)
	_, err := f.svc.Create(ctx, in)
	require.ErrorIs(t, err, shared.ErrNotFound)

	in = validInput()
	in.Items[0].IncomeDistributionID = distID(200)
	_, err = f.svc.Create(ctx, in)
	require.ErrorIs(t, err, shared.ErrInvalidAmount)

	in = CreateInput{Recipient: recipient, TotalAmount: amt("300.01"), Items: []ItemInput{{IncomeDistributionID: distID(100), Amount: amt("300.01")}}}
	_, err = f.svc.Create(ctx, in)
	require.ErrorIs(t, err, shared.ErrInvalidAmount)
}

func TestCreateCapsItemsSharingDistribution(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := CreateInput{
		Recipient:   recipient,
		TotalAmount: amt("600"),
		Items: []ItemInput{
			{IncomeDistributionID: distID(100), Amount: amt("300")},
			{IncomeDistributionID: distID(100), Amount: amt("300")},
		},
	}
	_, err := f.svc.Create(ctx, in)
	require.ErrorIs(t, err, shared.ErrInvalidAmount)
	instructions, items := f.repo.Count()
	require.Zero(t, instructions)
	require.Zero(t, items)

	in = CreateInput{
		Recipient:   recipient,
		TotalAmount: amt("300"),
		Items: []ItemInput{
			{IncomeDistributionID: distID(100), Amount: amt("150")},
			{IncomeDistributionID: distID(100), Amount: amt("150")},
		},
	}
	_, err = f.svc.Create(ctx, in)
	require.NoError(t, err)
}

func TestCreateRejectsSubCentAmountsBeforeWriting(t *testing.T) {
	var observed []bool
	f := newFixture(t, WithCompensationObserver(func(ok bool) { observed = append(observed, ok) }))
	ctx := context.Background()

	in := CreateInput{Recipient: recipient, TotalAmount: amt("0.004"), Items: []ItemInput{{Amount: amt("0.004")}}}
	_, err := f.svc.Create(ctx, in)
	require.ErrorIs(t, err, shared.ErrInvalidAmount)

	in = CreateInput{Recipient: recipient, TotalAmount: amt("10"), Items: []ItemInput{{Amount: amt("10")}, {Amount: amt("0.001")}}}
	_, err = f.svc.Create(ctx, in)
	require.ErrorIs(t, err, shared.ErrInvalidAmount)

	require.Empty(t, observed)
	instructions, items := f.repo.Count()
	require.Zero(t, instructions)
	require.Zero(t, items)
}

func TestCreateTotalTolerance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := validInput()
	in.TotalAmount = amt("400.01")
	_, err := f.svc.Create(ctx, in)
	require.NoError(t, err)

	in = validInput()
	in.TotalAmount = amt("400.02")
	_, err = f.svc.Create(ctx, in)
	require.ErrorIs(t, err, shared.ErrAmountMismatch)
	require.ErrorIs(t, err, shared.ErrInvalidAmount)
}

func TestCreateLeavesNoOrphansWhenReservationFails(t *testing.T) {
	var observed []bool
	f := newFixture(t, WithCompensationObserver(func(ok bool) { observed = append(observed, ok) }))
	f.svc.balances = failingReserve{BalancePort: f.balances, err: shared.ErrConcurrencyConflict}

	_, err := f.svc.Create(context.Background(), validInput())
	require.ErrorIs(t, err, shared.ErrConcurrencyConflict)
	require.Equal(t, []bool{true}, observed)

	instructions, items := f.repo.Count()
	require.Zero(t, instructions)
	require.Zero(t, items)
	require.Empty(t, f.notifier.msgs)
	require.Empty(t, f.audit.logs)

	b, err := f.balances.Get(context.Background(), recipient)
	require.NoError(t, err)
	require.Equal(t, "1000.00", b.Available.StringFixed())
	require.True(t, b.Reserved.IsZero())
}

type failingItems struct {
	*MemoryRepository
}

func (r failingItems) InsertItems(ctx context.Context, id int64, items []Item) ([]Item, error) {
	return nil, shared.ErrPersistence
}

func TestCreateRemovesInstructionWhenItemsFail(t *testing.T) {
	f := newFixture(t)
	f.svc.repo = failingItems{MemoryRepository: f.repo}

	_, err := f.svc.Create(context.Background(), validInput())
	require.ErrorIs(t, err, shared.ErrPersistence)
	instructions, _ := f.repo.Count()
	require.Zero(t, instructions)
}

// committedItems stores the items and then fails, as when the batch
// commits but reading its results is cut off.
type committedItems struct {
	*MemoryRepository
}

func (r committedItems) InsertItems(ctx context.Context, id int64, items []Item) ([]Item, error) {
	if _, err := r.MemoryRepository.InsertItems(ctx, id, items); err != nil {
		return nil, err
	}
	return nil, context.Canceled
}

func TestCreateRemovesCommittedItemsWhenInsertReportsFailure(t *testing.T) {
	var observed []bool
	f := newFixture(t, WithCompensationObserver(func(ok bool) { observed = append(observed, ok) }))
	f.svc.repo = committedItems{MemoryRepository: f.repo}

	_, err := f.svc.Create(context.Background(), validInput())
	require.ErrorIs(t, err, context.Canceled)
	var compErr *shared.CompensationError
	require.False(t, errors.As(err, &compErr))
	require.Equal(t, []bool{true}, observed)

	instructions, items := f.repo.Count()
	require.Zero(t, instructions)
	require.Zero(t, items)

	b, err := f.balances.Get(context.Background(), recipient)
	require.NoError(t, err)
	require.Equal(t, "1000.00", b.Available.StringFixed())
}

func TestCreateNotifierFailureIsNotReturned(t *testing.T) {
	f := newFixture(t)
	f.notifier.err = errors.New("queue down")
	_, err := f.svc.Create(context.Background(), validInput())
	require.NoError(t, err)
}

func TestCreateIdempotencyKey(t *testing.T) {
	store := &fakeIdempotency{seen: map[string]bool{}}
	f := newFixture(t, WithIdempotency(store))
	ctx := context.Background()

	in := validInput()
	in.IdempotencyKey = "req-1"
	_, err := f.svc.Create(ctx, in)
	require.NoError(t, err)

	_, err = f.svc.Create(ctx, in)
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)

	failing := validInput()
	failing.IdempotencyKey = "req-2"
	failing.TotalAmount = amt("5000")
	failing.Items = []ItemInput{{Amount: amt("5000")}}
	_, err = f.svc.Create(ctx, failing)
	require.ErrorIs(t, err, shared.ErrInsufficientBalance)
	require.Equal(t, []string{"req-2"}, store.deleted)
}

func TestCreateConcurrentRequestsNeverOverReserve(t *testing.T) {
	f := newFixture(t)
	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Create(context.Background(), CreateInput{Recipient: recipient, TotalAmount: amt("300"), Items: []ItemInput{{Amount: amt("300")}}})
			if err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
				return
			}
			if !errors.Is(err, shared.ErrInsufficientBalance) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 3, ok)
	b, err := f.balances.Get(context.Background(), recipient)
	require.NoError(t, err)
	require.Equal(t, "100.00", b.Available.StringFixed())
	require.Equal(t, "900.00", b.Reserved.StringFixed())
}
