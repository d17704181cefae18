package scanning

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Category classifies a receipt line
type Category string

const (
	CategoryFood    Category = "FOOD"
	CategoryAlcohol Category = "ALCOHOL"
	CategoryShared  Category = "SHARED"
	CategoryTax     Category = "TAX"
	CategoryTip     Category = "TIP"
)

// Valid reports whether c is one of the known categories
func (c Category) Valid() bool {
	switch c {
	case CategoryFood, CategoryAlcohol, CategoryShared, CategoryTax, CategoryTip:
		return true
	}
	return false
}

// Claimable reports whether lines of this category become claimable items
func (c Category) Claimable() bool {
	return c != CategoryTax && c != CategoryTip
}

// LineItem is a single line read from a receipt
type LineItem struct {
	Name     string          `json:"name"`
	Quantity int             `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	Category Category        `json:"category"`
}

// ReceiptData contains extracted information from a receipt.
// Items only holds claimable lines; TAX and TIP lines are folded into
// TaxAmount and TipAmount by the parser.
type ReceiptData struct {
	Items     []LineItem      `json:"items"`
	Currency  string          `json:"currency"`
	TaxAmount decimal.Decimal `json:"tax_amount"`
	TipAmount decimal.Decimal `json:"tip_amount"`
}

// Scanner defines the interface for receipt scanning operations
type Scanner interface {
	// ScanReceipt analyzes a receipt image/PDF and extracts its line items
	ScanReceipt(ctx context.Context, imageData []byte, contentType string) (*ReceiptData, error)
	// Close closes the scanner and releases resources
	Close() error
}

// Extraction stages reported by ExtractionError
const (
	StageFetch   = "fetch"
	StageConvert = "convert"
	StageModel   = "model"
	StageParse   = "parse"
)

// ErrEmptyResponse is returned when the model produced no text
var ErrEmptyResponse = errors.New("empty model response")

// ExtractionError reports a failure to turn an image into receipt data
type ExtractionError struct {
	Stage string
	Err   error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction failed (%s): %v", e.Stage, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

func extractionErr(stage string, err error) error {
	var xerr *ExtractionError
	if errors.As(err, &xerr) {
		return err
	}
	return &ExtractionError{Stage: stage, Err: err}
}

// AsExtractionError wraps err as an ExtractionError at the given stage unless
// it already is one.
func AsExtractionError(stage string, err error) error {
	if err == nil {
		return nil
	}
	return extractionErr(stage, err)
}
