package bill

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"
)

// Lifecycle owns a bill's status field and enforces its transitions
type Lifecycle struct {
	db          DB
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewLifecycle creates a Lifecycle backed by db
func NewLifecycle(db DB, idGen IDGenerator, timeSrc TimeSource) *Lifecycle {
	return &Lifecycle{
		db:          db,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

// CreateBill stores bill as a new PROCESSING bill. An empty ID is generated.
func (l *Lifecycle) CreateBill(ctx context.Context, bill *Bill) error {
	now := l.timeSource.Now()
	if bill.ID == "" {
		bill.ID = l.idGenerator.Generate()
	}
	bill.Status = StatusProcessing
	bill.CreatedAt = now
	bill.UpdatedAt = now

	if err := l.db.SaveBill(ctx, bill); err != nil {
		return storageErr("creating bill", err)
	}
	return nil
}

// SettleBill records the extracted amounts and opens the bill for claiming
func (l *Lifecycle) SettleBill(ctx context.Context, billID, currency string, taxAmount, tipAmount decimal.Decimal) error {
	bill, err := l.transition(ctx, billID, StatusOpen)
	if err != nil {
		return err
	}
	bill.Currency = currency
	bill.TaxAmount = taxAmount
	bill.TipAmount = tipAmount
	bill.ErrorMessage = ""

	if err := l.db.SaveBill(ctx, bill); err != nil {
		return storageErr("settling bill", err)
	}
	slog.Info("Bill settled", "bill_id", billID, "currency", currency)
	return nil
}

// FailBill marks the bill ERROR and records why
func (l *Lifecycle) FailBill(ctx context.Context, billID string, reason error) error {
	bill, err := l.transition(ctx, billID, StatusError)
	if err != nil {
		return err
	}
	if reason != nil {
		bill.ErrorMessage = reason.Error()
	}

	if err := l.db.SaveBill(ctx, bill); err != nil {
		return storageErr("failing bill", err)
	}
	slog.Warn("Bill failed", "bill_id", billID, "reason", bill.ErrorMessage)
	return nil
}

// transition loads the bill and moves it to next in memory
func (l *Lifecycle) transition(ctx context.Context, billID string, next Status) (*Bill, error) {
	bill, err := l.db.GetBill(ctx, billID)
	if err != nil {
		return nil, storageErr("getting bill", err)
	}
	if !bill.Status.CanTransitionTo(next) {
		return nil, fmt.Errorf("bill %s %s -> %s: %w", billID, bill.Status, next, ErrInvalidTransition)
	}
	bill.Status = next
	bill.UpdatedAt = l.timeSource.Now()
	return bill, nil
}
