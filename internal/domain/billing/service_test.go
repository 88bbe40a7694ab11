package billing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinic/clinic/internal/domain/session"
	"github.com/clinic/clinic/internal/platform/audit"
	"github.com/clinic/clinic/internal/platform/db"
	"github.com/clinic/clinic/internal/platform/lock"
	"github.com/clinic/clinic/internal/platform/uow"
	"github.com/clinic/clinic/pkg/apperror"
)

// -- Mock Repositories --

type mockCatalog struct {
	items map[uuid.UUID]*BillableService
}

func (m *mockCatalog) Create(_ context.Context, s *BillableService) error {
	for _, existing := range m.items {
		if existing.Name == s.Name {
			return apperror.Conflict("a service with this name already exists")
		}
	}
	s.ID = uuid.New()
	m.items[s.ID] = s
	return nil
}

func (m *mockCatalog) GetByID(_ context.Context, id uuid.UUID) (*BillableService, error) {
	s, ok := m.items[id]
	if !ok {
		return nil, apperror.NotFound("service %s not found", id)
	}
	return s, nil
}

func (m *mockCatalog) List(_ context.Context) ([]*BillableService, error) {
	var result []*BillableService
	for _, s := range m.items {
		result = append(result, s)
	}
	return result, nil
}

type mockSessionServices struct {
	catalog *mockCatalog
	links   map[uuid.UUID][]uuid.UUID
}

func (m *mockSessionServices) Add(_ context.Context, sessionID, serviceID uuid.UUID) error {
	for _, id := range m.links[sessionID] {
		if id == serviceID {
			return nil
		}
	}
	m.links[sessionID] = append(m.links[sessionID], serviceID)
	return nil
}

func (m *mockSessionServices) ListForSession(_ context.Context, sessionID uuid.UUID) ([]*BillableService, error) {
	var result []*BillableService
	for _, id := range m.links[sessionID] {
		result = append(result, m.catalog.items[id])
	}
	return result, nil
}

type mockBills struct {
	mu         sync.Mutex
	items      map[uuid.UUID]*Bill
	checkDelay time.Duration
}

func (m *mockBills) pause() {
	if m.checkDelay > 0 {
		time.Sleep(m.checkDelay)
	}
}

func (m *mockBills) Create(_ context.Context, b *Bill) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b.ID = uuid.New()
	m.items[b.ID] = b
	return nil
}

func (m *mockBills) GetByID(_ context.Context, id uuid.UUID) (*Bill, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.items[id]
	if !ok {
		return nil, apperror.NotFound("bill %s not found", id)
	}
	cp := *b
	return &cp, nil
}

func (m *mockBills) GetBySessionID(_ context.Context, sessionID uuid.UUID) (*Bill, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.items {
		if b.SessionID == sessionID {
			return b, nil
		}
	}
	return nil, apperror.NotFound("no bill for session %s", sessionID)
}

func (m *mockBills) ExistsForSession(_ context.Context, sessionID uuid.UUID) (bool, error) {
	defer m.pause()
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.items {
		if b.SessionID == sessionID {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockBills) MarkPaid(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.items[id]
	if !ok || b.IsPaid {
		return apperror.Conflict("bill %s is already paid or does not exist", id)
	}
	b.IsPaid = true
	return nil
}

func (m *mockBills) ListUnpaidByPatient(_ context.Context, patientID uuid.UUID) ([]*Bill, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*Bill
	for _, b := range m.items {
		if b.PatientID == patientID && !b.IsPaid {
			result = append(result, b)
		}
	}
	return result, nil
}

type mockPayments struct {
	items map[uuid.UUID]*Payment
}

func (m *mockPayments) Create(_ context.Context, p *Payment) error {
	for _, existing := range m.items {
		if existing.BillID == p.BillID {
			return apperror.Conflict("a payment already exists for this bill")
		}
	}
	p.ID = uuid.New()
	m.items[p.ID] = p
	return nil
}

func (m *mockPayments) GetByBillID(_ context.Context, billID uuid.UUID) (*Payment, error) {
	for _, p := range m.items {
		if p.BillID == billID {
			return p, nil
		}
	}
	return nil, apperror.NotFound("no payment for bill %s", billID)
}

type mockSessions map[uuid.UUID]*session.Session

func (m mockSessions) GetByID(_ context.Context, id uuid.UUID) (*session.Session, error) {
	s, ok := m[id]
	if !ok {
		return nil, apperror.NotFound("session %s not found", id)
	}
	return s, nil
}

type mockPatients map[uuid.UUID]bool

func (m mockPatients) PatientExists(_ context.Context, id uuid.UUID) (bool, error) {
	return m[id], nil
}

// -- Fixture --

type fixture struct {
	svc      *Service
	catalog  *mockCatalog
	links    *mockSessionServices
	bills    *mockBills
	payments *mockPayments
	sessions mockSessions
	patients mockPatients
}

func newFixture() *fixture {
	catalog := &mockCatalog{items: make(map[uuid.UUID]*BillableService)}
	f := &fixture{
		catalog:  catalog,
		links:    &mockSessionServices{catalog: catalog, links: make(map[uuid.UUID][]uuid.UUID)},
		bills:    &mockBills{items: make(map[uuid.UUID]*Bill)},
		payments: &mockPayments{items: make(map[uuid.UUID]*Payment)},
		sessions: make(mockSessions),
		patients: make(mockPatients),
	}
	tx := db.TransactorFunc(func(ctx context.Context, fn func(context.Context) error) error { return fn(ctx) })
	now := time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC)
	runner := uow.New(tx, lock.NewLocalLocker(), audit.Nop(), zerolog.Nop()).
		WithClock(func() time.Time { return now })
	f.svc = NewService(f.catalog, f.links, f.bills, f.payments, f.sessions, f.patients, runner)
	return f
}

func (f *fixture) addSession() *session.Session {
	s := &session.Session{ID: uuid.New(), AppointmentID: uuid.New(), DoctorID: uuid.New(), PatientID: uuid.New(), Status: session.StatusConfirmed}
	f.sessions[s.ID] = s
	f.patients[s.PatientID] = true
	return s
}

func (f *fixture) service(t *testing.T, name string, price Money) uuid.UUID {
	t.Helper()
	id, err := f.svc.CreateService(context.Background(), name, price, 30)
	if err != nil {
		t.Fatalf("create service %s: %v", name, err)
	}
	return id
}

// billFor returns an unpaid bill of the given amount for a fresh session.
func (f *fixture) billFor(t *testing.T, amount Money) uuid.UUID {
	t.Helper()
	s := f.addSession()
	svcID := f.service(t, "Consultation "+uuid.NewString(), amount)
	if err := f.svc.AddServiceToSession(context.Background(), s.ID, svcID); err != nil {
		t.Fatalf("add service: %v", err)
	}
	id, err := f.svc.CreateBill(context.Background(), s.PatientID, s.ID)
	if err != nil {
		t.Fatalf("create bill: %v", err)
	}
	return id
}

// -- Catalogue Tests --

func TestCreateService_UniqueName(t *testing.T) {
	f := newFixture()
	f.service(t, "X-Ray", 12000)
	if _, err := f.svc.CreateService(context.Background(), "X-Ray", 9000, 15); !apperror.IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestCreateService_Validation(t *testing.T) {
	f := newFixture()
	if _, err := f.svc.CreateService(context.Background(), " ", 100, 10); !apperror.IsValidation(err) {
		t.Errorf("expected validation error for empty name, got %v", err)
	}
	if _, err := f.svc.CreateService(context.Background(), "Scan", -1, 10); !apperror.IsValidation(err) {
		t.Errorf("expected validation error for negative price, got %v", err)
	}
	if _, err := f.svc.CreateService(context.Background(), "Scan", 100, 0); !apperror.IsValidation(err) {
		t.Errorf("expected validation error for zero duration, got %v", err)
	}
}

func TestAddServiceToSession_Idempotent(t *testing.T) {
	f := newFixture()
	s := f.addSession()
	id := f.service(t, "Consultation", 20000)
	ctx := context.Background()
	f.svc.AddServiceToSession(ctx, s.ID, id)
	if err := f.svc.AddServiceToSession(ctx, s.ID, id); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	items, _ := f.svc.ListSessionServices(ctx, s.ID)
	if len(items) != 1 {
		t.Errorf("expected 1 linked service, got %d", len(items))
	}
}

func TestAddServiceToSession_AfterBill(t *testing.T) {
	f := newFixture()
	billID := f.billFor(t, 20000)
	b, _ := f.bills.GetByID(context.Background(), billID)
	extra := f.service(t, "Blood test", 5000)
	if err := f.svc.AddServiceToSession(context.Background(), b.SessionID, extra); !apperror.IsConflict(err) {
		t.Fatalf("expected conflict once billed, got %v", err)
	}
}

func TestAddServiceToSession_UnknownService(t *testing.T) {
	f := newFixture()
	s := f.addSession()
	if err := f.svc.AddServiceToSession(context.Background(), s.ID, uuid.New()); !apperror.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

// -- CreateBill Tests --

func TestCreateBill_SumsServices(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	s := f.addSession()
	for name, price := range map[string]Money{"Consultation": 30000, "X-Ray": 15000, "Dressing": 5000} {
		if err := f.svc.AddServiceToSession(ctx, s.ID, f.service(t, name, price)); err != nil {
			t.Fatalf("add %s: %v", name, err)
		}
	}

	id, err := f.svc.CreateBill(ctx, s.PatientID, s.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b := f.bills.items[id]
	if b.Amount != 50000 {
		t.Errorf("expected amount 500.00, got %s", b.Amount)
	}
	if b.IsPaid {
		t.Error("expected new bill to be unpaid")
	}
}

func TestCreateBill_NothingToBill(t *testing.T) {
	f := newFixture()
	s := f.addSession()
	if _, err := f.svc.CreateBill(context.Background(), s.PatientID, s.ID); !apperror.IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if len(f.bills.items) != 0 {
		t.Error("expected no bill to be written")
	}
}

func TestCreateBill_OnePerSession(t *testing.T) {
	f := newFixture()
	billID := f.billFor(t, 10000)
	b := f.bills.items[billID]
	if _, err := f.svc.CreateBill(context.Background(), b.PatientID, b.SessionID); !apperror.IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestCreateBill_UnknownPatient(t *testing.T) {
	f := newFixture()
	s := f.addSession()
	if _, err := f.svc.CreateBill(context.Background(), uuid.New(), s.ID); !apperror.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCreateBill_UnknownSession(t *testing.T) {
	f := newFixture()
	patient := uuid.New()
	f.patients[patient] = true
	if _, err := f.svc.CreateBill(context.Background(), patient, uuid.New()); !apperror.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCreateBill_PatientMismatch(t *testing.T) {
	f := newFixture()
	s := f.addSession()
	other := uuid.New()
	f.patients[other] = true
	f.svc.AddServiceToSession(context.Background(), s.ID, f.service(t, "Consultation", 100))
	if _, err := f.svc.CreateBill(context.Background(), other, s.ID); !apperror.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

// -- Payment Tests --

func TestCreatePayment_AmountMismatch(t *testing.T) {
	f := newFixture()
	billID := f.billFor(t, 500)

	if _, err := f.svc.CreatePayment(context.Background(), billID, 450, MethodCash); !apperror.IsConflict(err) {
		t.Fatalf("expected conflict for short payment, got %v", err)
	}
	if f.bills.items[billID].IsPaid {
		t.Fatal("expected bill to stay unpaid")
	}
	if _, err := f.svc.CreatePayment(context.Background(), billID, 550, MethodCash); !apperror.IsConflict(err) {
		t.Fatalf("expected conflict for overpayment, got %v", err)
	}
	if len(f.payments.items) != 0 {
		t.Errorf("expected no payments written, got %d", len(f.payments.items))
	}
}

func TestCreatePayment_ExactAmount(t *testing.T) {
	f := newFixture()
	billID := f.billFor(t, 500)

	id, err := f.svc.CreatePayment(context.Background(), billID, 500, MethodCash)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !f.bills.items[billID].IsPaid {
		t.Error("expected bill to be paid")
	}
	p := f.payments.items[id]
	if p.Method != MethodCash || p.Amount != 500 {
		t.Errorf("unexpected payment %+v", p)
	}
}

func TestCreatePayment_AlreadyPaid(t *testing.T) {
	f := newFixture()
	billID := f.billFor(t, 500)
	f.svc.CreatePayment(context.Background(), billID, 500, MethodCard)
	if _, err := f.svc.CreatePayment(context.Background(), billID, 500, MethodCard); !apperror.IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestCreatePayment_InvalidMethod(t *testing.T) {
	f := newFixture()
	billID := f.billFor(t, 500)
	if _, err := f.svc.CreatePayment(context.Background(), billID, 500, "Barter"); !apperror.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCreatePayment_BillNotFound(t *testing.T) {
	f := newFixture()
	if _, err := f.svc.CreatePayment(context.Background(), uuid.New(), 500, MethodCash); !apperror.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

// -- MarkAsPaid Tests --

func TestMarkAsPaid_WithMatchingPayment(t *testing.T) {
	f := newFixture()
	billID := f.billFor(t, 800)
	f.payments.items[uuid.New()] = &Payment{BillID: billID, Amount: 800, Method: MethodInsurance}

	paid, err := f.svc.MarkAsPaid(context.Background(), billID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !paid || !f.bills.items[billID].IsPaid {
		t.Error("expected bill reconciled as paid")
	}
}

func TestMarkAsPaid_Twice(t *testing.T) {
	f := newFixture()
	billID := f.billFor(t, 800)
	f.payments.items[uuid.New()] = &Payment{BillID: billID, Amount: 800, Method: MethodInsurance}
	f.svc.MarkAsPaid(context.Background(), billID)

	paid, err := f.svc.MarkAsPaid(context.Background(), billID)
	if err != nil {
		t.Fatalf("expected no error on second reconciliation, got %v", err)
	}
	if paid {
		t.Error("expected second reconciliation to be a no-op")
	}
	if !f.bills.items[billID].IsPaid {
		t.Error("expected bill to stay paid")
	}
}

func TestMarkAsPaid_NoPayment(t *testing.T) {
	f := newFixture()
	billID := f.billFor(t, 800)
	paid, err := f.svc.MarkAsPaid(context.Background(), billID)
	if err != nil || paid {
		t.Fatalf("expected (false, nil), got (%v, %v)", paid, err)
	}
}

func TestMarkAsPaid_MismatchedPayment(t *testing.T) {
	f := newFixture()
	billID := f.billFor(t, 800)
	f.payments.items[uuid.New()] = &Payment{BillID: billID, Amount: 700, Method: MethodCash}
	paid, err := f.svc.MarkAsPaid(context.Background(), billID)
	if err != nil || paid {
		t.Fatalf("expected (false, nil), got (%v, %v)", paid, err)
	}
	if f.bills.items[billID].IsPaid {
		t.Error("expected bill to stay unpaid")
	}
}

func TestMarkAsPaid_BillNotFound(t *testing.T) {
	f := newFixture()
	if _, err := f.svc.MarkAsPaid(context.Background(), uuid.New()); !apperror.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestListUnpaidBills(t *testing.T) {
	f := newFixture()
	billID := f.billFor(t, 800)
	patient := f.bills.items[billID].PatientID
	items, err := f.svc.ListUnpaidBills(context.Background(), patient)
	if err != nil || len(items) != 1 {
		t.Fatalf("expected 1 unpaid bill, got %d (%v)", len(items), err)
	}
	f.svc.CreatePayment(context.Background(), billID, 800, MethodCash)
	items, _ = f.svc.ListUnpaidBills(context.Background(), patient)
	if len(items) != 0 {
		t.Errorf("expected no unpaid bills after payment, got %d", len(items))
	}
}

func TestMoney_String(t *testing.T) {
	cases := map[Money]string{0: "0.00", 5: "0.05", 50000: "500.00", -1250: "-12.50"}
	for m, want := range cases {
		if got := m.String(); got != want {
			t.Errorf("Money(%d): expected %s, got %s", int64(m), want, got)
		}
	}
}

// -- Concurrency Tests --

func TestCreateBill_ConcurrentSameSession(t *testing.T) {
	f := newFixture()
	f.bills.checkDelay = 2 * time.Millisecond
	s := f.addSession()
	if err := f.svc.AddServiceToSession(context.Background(), s.ID, f.service(t, "Consultation", 30000)); err != nil {
		t.Fatalf("add service: %v", err)
	}
	const callers = 20

	errs := make([]error, callers)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = f.svc.CreateBill(context.Background(), s.PatientID, s.ID)
		}(i)
	}
	close(start)
	wg.Wait()

	created, conflicts := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			created++
		case apperror.IsConflict(err):
			conflicts++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if created != 1 || conflicts != callers-1 {
		t.Fatalf("expected 1 bill and %d conflicts, got %d and %d", callers-1, created, conflicts)
	}
	if len(f.bills.items) != 1 {
		t.Errorf("expected 1 stored bill, got %d", len(f.bills.items))
	}
}
