package billing

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Money is an amount in minor currency units, so bill and payment compare exactly.
type Money int64

func (m Money) String() string {
	sign := ""
	if m < 0 {
		sign, m = "-", -m
	}
	return fmt.Sprintf("%s%d.%02d", sign, m/100, m%100)
}

type PaymentMethod string

const (
	MethodCash         PaymentMethod = "Cash"
	MethodCard         PaymentMethod = "Card"
	MethodInsurance    PaymentMethod = "Insurance"
	MethodBankTransfer PaymentMethod = "BankTransfer"
)

var validMethods = map[PaymentMethod]bool{
	MethodCash: true, MethodCard: true, MethodInsurance: true, MethodBankTransfer: true,
}

// BillableService is an entry of the clinic's service catalogue.
type BillableService struct {
	ID              uuid.UUID `db:"id" json:"id"`
	Name            string    `db:"name" json:"name"`
	Price           Money     `db:"price" json:"price"`
	DurationMinutes int       `db:"duration_minutes" json:"duration_minutes"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

type Bill struct {
	ID        uuid.UUID `db:"id" json:"id"`
	SessionID uuid.UUID `db:"session_id" json:"session_id"`
	PatientID uuid.UUID `db:"patient_id" json:"patient_id"`
	Amount    Money     `db:"amount" json:"amount"`
	Date      time.Time `db:"date" json:"date"`
	IsPaid    bool      `db:"is_paid" json:"is_paid"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

type Payment struct {
	ID        uuid.UUID     `db:"id" json:"id"`
	BillID    uuid.UUID     `db:"bill_id" json:"bill_id"`
	Amount    Money         `db:"amount" json:"amount"`
	Date      time.Time     `db:"date" json:"date"`
	Method    PaymentMethod `db:"method" json:"method"`
	CreatedAt time.Time     `db:"created_at" json:"created_at"`
}

// Total sums the catalogue prices of services.
func Total(services []*BillableService) Money {
	var sum Money
	for _, s := range services {
		sum += s.Price
	}
	return sum
}
