package billing

import (
	"context"

	"github.com/google/uuid"

	"github.com/clinic/clinic/internal/domain/session"
)

type CatalogRepository interface {
	Create(ctx context.Context, s *BillableService) error
	GetByID(ctx context.Context, id uuid.UUID) (*BillableService, error)
	List(ctx context.Context) ([]*BillableService, error)
}

type SessionServiceRepository interface {
	// Add links serviceID to sessionID; linking the same pair again is a no-op.
	Add(ctx context.Context, sessionID, serviceID uuid.UUID) error
	ListForSession(ctx context.Context, sessionID uuid.UUID) ([]*BillableService, error)
}

type BillRepository interface {
	Create(ctx context.Context, b *Bill) error
	GetByID(ctx context.Context, id uuid.UUID) (*Bill, error)
	GetBySessionID(ctx context.Context, sessionID uuid.UUID) (*Bill, error)
	ExistsForSession(ctx context.Context, sessionID uuid.UUID) (bool, error)
	MarkPaid(ctx context.Context, id uuid.UUID) error
	ListUnpaidByPatient(ctx context.Context, patientID uuid.UUID) ([]*Bill, error)
}

type PaymentRepository interface {
	Create(ctx context.Context, p *Payment) error
	GetByBillID(ctx context.Context, billID uuid.UUID) (*Payment, error)
}

type SessionReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*session.Session, error)
}

type PatientChecker interface {
	PatientExists(ctx context.Context, id uuid.UUID) (bool, error)
}
