package scanning

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// rawReceipt mirrors the model output; pointers distinguish missing fields
// from zero values.
type rawReceipt struct {
	Items     []rawLineItem    `json:"items"`
	Currency  *string          `json:"currency"`
	TaxAmount *decimal.Decimal `json:"tax_amount"`
	TipAmount *decimal.Decimal `json:"tip_amount"`
}

type rawLineItem struct {
	Name     string           `json:"name"`
	Quantity *decimal.Decimal `json:"quantity"`
	Price    *decimal.Decimal `json:"price"`
	Category string           `json:"category"`
}

// stripFences removes markdown code fences the model may wrap its answer in
func stripFences(text string) string {
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```JSON", "")
	text = strings.ReplaceAll(text, "```", "")
	return strings.TrimSpace(text)
}

// parseReceiptJSON parses and validates the JSON response from the model
func parseReceiptJSON(text string) (*ReceiptData, error) {
	text = stripFences(text)
	if text == "" {
		return nil, ErrEmptyResponse
	}

	// Find the JSON object boundaries - look for first { and last }
	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return nil, fmt.Errorf("no JSON object found in response")
	}
	endIdx := strings.LastIndex(text, "}")
	if endIdx == -1 || endIdx < startIdx {
		return nil, fmt.Errorf("invalid JSON object in response")
	}
	text = text[startIdx : endIdx+1]

	var raw rawReceipt
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}

	switch {
	case raw.Items == nil:
		return nil, errors.New("missing field: items")
	case raw.Currency == nil:
		return nil, errors.New("missing field: currency")
	case raw.TaxAmount == nil:
		return nil, errors.New("missing field: tax_amount")
	case raw.TipAmount == nil:
		return nil, errors.New("missing field: tip_amount")
	}

	currency := strings.ToUpper(strings.TrimSpace(*raw.Currency))
	if currency == "" {
		return nil, errors.New("empty currency")
	}

	lines := make([]LineItem, 0, len(raw.Items))
	for i, item := range raw.Items {
		line, err := item.normalize()
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		lines = append(lines, line)
	}

	return foldTaxAndTip(lines, currency, *raw.TaxAmount, *raw.TipAmount), nil
}

func (r rawLineItem) normalize() (LineItem, error) {
	name := strings.TrimSpace(r.Name)
	if name == "" {
		return LineItem{}, errors.New("missing name")
	}
	if r.Price == nil {
		return LineItem{}, errors.New("missing price")
	}
	if r.Price.IsNegative() {
		return LineItem{}, fmt.Errorf("negative price %s", r.Price)
	}

	quantity, err := r.quantity()
	if err != nil {
		return LineItem{}, err
	}

	category := Category(strings.ToUpper(strings.TrimSpace(r.Category)))
	if !category.Valid() {
		category = CategoryShared
	}

	return LineItem{
		Name:     name,
		Quantity: quantity,
		Price:    *r.Price,
		Category: category,
	}, nil
}

// quantity accepts 2, 2.0 and "2". Missing or non-positive values count as 1.
func (r rawLineItem) quantity() (int, error) {
	if r.Quantity == nil || !r.Quantity.IsPositive() {
		return 1, nil
	}
	if !r.Quantity.IsInteger() {
		return 0, fmt.Errorf("fractional quantity %s", r.Quantity)
	}
	return int(r.Quantity.IntPart()), nil
}

// foldTaxAndTip drops TAX and TIP lines from the claimable items. Their
// amounts are used only when the model left the matching top-level field at
// zero, so the same charge is never counted twice.
func foldTaxAndTip(lines []LineItem, currency string, tax, tip decimal.Decimal) *ReceiptData {
	var lineTax, lineTip decimal.Decimal
	items := make([]LineItem, 0, len(lines))
	for _, line := range lines {
		amount := line.Price.Mul(decimal.NewFromInt(int64(line.Quantity)))
		switch line.Category {
		case CategoryTax:
			lineTax = lineTax.Add(amount)
		case CategoryTip:
			lineTip = lineTip.Add(amount)
		default:
			items = append(items, line)
		}
	}

	if tax.IsZero() {
		tax = lineTax
	}
	if tip.IsZero() {
		tip = lineTip
	}

	return &ReceiptData{
		Items:     items,
		Currency:  currency,
		TaxAmount: tax,
		TipAmount: tip,
	}
}
