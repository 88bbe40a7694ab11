package billing

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/clinic/clinic/internal/platform/lock"
	"github.com/clinic/clinic/internal/platform/uow"
	"github.com/clinic/clinic/pkg/apperror"
)

type Service struct {
	catalog         CatalogRepository
	sessionServices SessionServiceRepository
	bills           BillRepository
	payments        PaymentRepository
	sessions        SessionReader
	patients        PatientChecker
	uow             *uow.Runner
}

func NewService(catalog CatalogRepository, ss SessionServiceRepository, bills BillRepository, payments PaymentRepository,
	sessions SessionReader, patients PatientChecker, runner *uow.Runner) *Service {
	return &Service{
		catalog:         catalog,
		sessionServices: ss,
		bills:           bills,
		payments:        payments,
		sessions:        sessions,
		patients:        patients,
		uow:             runner,
	}
}

// -- Catalogue --

func (s *Service) CreateService(ctx context.Context, name string, price Money, durationMinutes int) (uuid.UUID, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return uuid.Nil, apperror.Validation("name is required")
	}
	if price < 0 {
		return uuid.Nil, apperror.Validation("price must not be negative")
	}
	if durationMinutes <= 0 {
		return uuid.Nil, apperror.Validation("duration_minutes must be positive")
	}
	svc := &BillableService{Name: name, Price: price, DurationMinutes: durationMinutes}
	if err := s.uow.Do(ctx, nil, func(ctx context.Context) error {
		return s.catalog.Create(ctx, svc)
	}); err != nil {
		return uuid.Nil, err
	}
	s.uow.Record(ctx, "create", "Service", svc.ID, "name="+name+" price="+price.String())
	return svc.ID, nil
}

func (s *Service) ListServices(ctx context.Context) ([]*BillableService, error) {
	return s.catalog.List(ctx)
}

// AddServiceToSession records a billable line item. The list is frozen once
// the session has been billed.
func (s *Service) AddServiceToSession(ctx context.Context, sessionID, serviceID uuid.UUID) error {
	if sessionID == uuid.Nil || serviceID == uuid.Nil {
		return apperror.Validation("session_id and service_id are required")
	}
	err := s.uow.Do(ctx, []string{lock.SessionKey(sessionID.String())}, func(ctx context.Context) error {
		if _, err := s.sessions.GetByID(ctx, sessionID); err != nil {
			return err
		}
		if _, err := s.catalog.GetByID(ctx, serviceID); err != nil {
			return err
		}
		billed, err := s.bills.ExistsForSession(ctx, sessionID)
		if err != nil {
			return err
		}
		if billed {
			return apperror.Conflict("session %s has already been billed", sessionID)
		}
		return s.sessionServices.Add(ctx, sessionID, serviceID)
	})
	if err != nil {
		return err
	}
	s.uow.Record(ctx, "add-service", "Session", sessionID, "service="+serviceID.String())
	return nil
}

func (s *Service) ListSessionServices(ctx context.Context, sessionID uuid.UUID) ([]*BillableService, error) {
	return s.sessionServices.ListForSession(ctx, sessionID)
}

// -- Bills --

// CreateBill bills the session for the sum of its linked services.
func (s *Service) CreateBill(ctx context.Context, patientID, sessionID uuid.UUID) (uuid.UUID, error) {
	if patientID == uuid.Nil || sessionID == uuid.Nil {
		return uuid.Nil, apperror.Validation("patient_id and session_id are required")
	}
	var bill *Bill
	err := s.uow.Do(ctx, []string{lock.SessionKey(sessionID.String())}, func(ctx context.Context) error {
		ok, err := s.patients.PatientExists(ctx, patientID)
		if err != nil {
			return err
		}
		if !ok {
			return apperror.NotFound("patient %s not found", patientID)
		}
		sess, err := s.sessions.GetByID(ctx, sessionID)
		if err != nil {
			return err
		}
		if sess.PatientID != patientID {
			return apperror.Validation("session %s does not belong to patient %s", sessionID, patientID)
		}
		exists, err := s.bills.ExistsForSession(ctx, sessionID)
		if err != nil {
			return err
		}
		if exists {
			return apperror.Conflict("a bill already exists for session %s", sessionID)
		}
		services, err := s.sessionServices.ListForSession(ctx, sessionID)
		if err != nil {
			return err
		}
		if len(services) == 0 {
			return apperror.Conflict("nothing to bill: session %s has no services", sessionID)
		}

		bill = &Bill{
			SessionID: sessionID,
			PatientID: patientID,
			Amount:    Total(services),
			Date:      s.uow.Now(),
		}
		return s.bills.Create(ctx, bill)
	})
	if err != nil {
		return uuid.Nil, err
	}
	s.uow.Record(ctx, "create", "Bill", bill.ID, "session="+sessionID.String()+" amount="+bill.Amount.String())
	return bill.ID, nil
}

func (s *Service) GetBill(ctx context.Context, id uuid.UUID) (*Bill, error) {
	return s.bills.GetByID(ctx, id)
}

func (s *Service) ListUnpaidBills(ctx context.Context, patientID uuid.UUID) ([]*Bill, error) {
	return s.bills.ListUnpaidByPatient(ctx, patientID)
}

// -- Payments --

// CreatePayment settles a bill in full. Partial and over-payments are refused.
func (s *Service) CreatePayment(ctx context.Context, billID uuid.UUID, amount Money, method PaymentMethod) (uuid.UUID, error) {
	if billID == uuid.Nil {
		return uuid.Nil, apperror.Validation("bill_id is required")
	}
	if !validMethods[method] {
		return uuid.Nil, apperror.Validation("invalid payment method %q", method)
	}
	var payment *Payment
	err := s.uow.Do(ctx, []string{lock.BillKey(billID.String())}, func(ctx context.Context) error {
		bill, err := s.bills.GetByID(ctx, billID)
		if err != nil {
			return err
		}
		if bill.IsPaid {
			return apperror.Conflict("bill %s is already paid", billID)
		}
		if amount != bill.Amount {
			return apperror.Conflict("payment amount %s does not match bill amount %s", amount, bill.Amount)
		}
		payment = &Payment{BillID: billID, Amount: amount, Date: s.uow.Now(), Method: method}
		if err := s.payments.Create(ctx, payment); err != nil {
			return err
		}
		return s.bills.MarkPaid(ctx, billID)
	})
	if err != nil {
		return uuid.Nil, err
	}
	s.uow.Record(ctx, "create", "Payment", payment.ID, "bill="+billID.String()+" method="+string(method))
	return payment.ID, nil
}

// MarkAsPaid reconciles a bill against a payment recorded out of band. It
// reports false, without error, when the bill is already paid or has no
// payment of exactly the billed amount.
func (s *Service) MarkAsPaid(ctx context.Context, billID uuid.UUID) (bool, error) {
	paid := false
	err := s.uow.Do(ctx, []string{lock.BillKey(billID.String())}, func(ctx context.Context) error {
		bill, err := s.bills.GetByID(ctx, billID)
		if err != nil {
			return err
		}
		if bill.IsPaid {
			return nil
		}
		payment, err := s.payments.GetByBillID(ctx, billID)
		if apperror.IsNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}
		if payment.Amount != bill.Amount {
			return nil
		}
		if err := s.bills.MarkPaid(ctx, billID); err != nil {
			return err
		}
		paid = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if paid {
		s.uow.Record(ctx, "mark-paid", "Bill", billID, "")
	}
	return paid, nil
}
