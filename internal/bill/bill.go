package bill

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/zombor/bill-splitter/internal/scanning"
)

// Status is the lifecycle state of a bill
type Status string

const (
	// StatusProcessing is set on upload, before extraction has finished
	StatusProcessing Status = "PROCESSING"
	// StatusOpen means extraction succeeded and items can be claimed
	StatusOpen Status = "OPEN"
	// StatusError means extraction failed
	StatusError Status = "ERROR"
)

// CanTransitionTo reports whether a bill in status s may move to next.
// OPEN -> OPEN is a re-settle (last write wins) and OPEN -> ERROR covers a
// failure after settlement; nothing leaves ERROR.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusProcessing:
		return next == StatusOpen || next == StatusError
	case StatusOpen:
		return next == StatusOpen || next == StatusError
	}
	return false
}

// Bill is one uploaded receipt and its aggregate amounts
type Bill struct {
	ID           string          `json:"id"`
	ExternalID   string          `json:"external_id,omitempty"` // chat the upload came from
	Status       Status          `json:"status"`
	Currency     string          `json:"currency,omitempty"`
	TaxAmount    decimal.Decimal `json:"tax_amount"`
	TipAmount    decimal.Decimal `json:"tip_amount"`
	ImageURL     string          `json:"raw_image_url"`
	ImagePath    string          `json:"image_path"`
	ContentType  string          `json:"content_type"`
	ErrorMessage string          `json:"error_message,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Item is a claimable receipt line
type Item struct {
	ID        string            `json:"id"`
	BillID    string            `json:"bill_id"`
	Name      string            `json:"name"`
	Quantity  int               `json:"quantity"`
	UnitPrice decimal.Decimal   `json:"unit_price"`
	Category  scanning.Category `json:"category"`
	CreatedAt time.Time         `json:"created_at"`
}

// Total is the line total, unit price times quantity
func (i *Item) Total() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Claim is one participant's share of an item
type Claim struct {
	ID         string    `json:"id"`
	ItemID     string    `json:"item_id"`
	UserID     string    `json:"user_id"`
	UserName   string    `json:"user_name"`
	Percentage float64   `json:"percentage"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Details is a bill together with its items and their claims
type Details struct {
	Bill   *Bill    `json:"bill"`
	Items  []*Item  `json:"items"`
	Claims []*Claim `json:"claims"`
}
