package bill

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/zombor/bill-splitter/internal/scanning"
)

// Ensure both backends implement DB
var (
	_ DB = (*BoltDB)(nil)
	_ DB = (*SQLiteDB)(nil)
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS bills (
    id TEXT PRIMARY KEY,
    external_id TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    currency TEXT NOT NULL DEFAULT '',
    tax_amount TEXT NOT NULL DEFAULT '0',
    tip_amount TEXT NOT NULL DEFAULT '0',
    raw_image_url TEXT NOT NULL DEFAULT '',
    image_path TEXT NOT NULL DEFAULT '',
    content_type TEXT NOT NULL DEFAULT '',
    error_message TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS items (
    id TEXT PRIMARY KEY,
    bill_id TEXT NOT NULL,
    name TEXT NOT NULL,
    quantity INTEGER NOT NULL,
    unit_price TEXT NOT NULL,
    category TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    FOREIGN KEY (bill_id) REFERENCES bills(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS claims (
    id TEXT PRIMARY KEY,
    item_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    user_name TEXT NOT NULL,
    percentage REAL NOT NULL,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    UNIQUE (item_id, user_id),
    FOREIGN KEY (item_id) REFERENCES items(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_items_bill_id ON items(bill_id);
CREATE INDEX IF NOT EXISTS idx_claims_item_id ON claims(item_id);
`

// SQLiteDB implements the DB interface using SQLite
type SQLiteDB struct {
	db *sql.DB
}

// NewSQLiteDB opens (and migrates) a SQLite database at path
func NewSQLiteDB(path string) (*SQLiteDB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	// One writer at a time; SQLite serializes writes anyway and this avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &SQLiteDB{db: db}, nil
}

// SaveBill inserts or replaces a bill
func (s *SQLiteDB) SaveBill(ctx context.Context, bill *Bill) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO bills (id, external_id, status, currency, tax_amount, tip_amount, raw_image_url, image_path, content_type, error_message, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    external_id = excluded.external_id,
    status = excluded.status,
    currency = excluded.currency,
    tax_amount = excluded.tax_amount,
    tip_amount = excluded.tip_amount,
    raw_image_url = excluded.raw_image_url,
    image_path = excluded.image_path,
    content_type = excluded.content_type,
    error_message = excluded.error_message,
    updated_at = excluded.updated_at`,
		bill.ID, bill.ExternalID, string(bill.Status), bill.Currency,
		bill.TaxAmount.String(), bill.TipAmount.String(),
		bill.ImageURL, bill.ImagePath, bill.ContentType, bill.ErrorMessage,
		bill.CreatedAt.UnixNano(), bill.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("saving bill: %w", err)
	}
	return nil
}

const billColumns = `id, external_id, status, currency, tax_amount, tip_amount, raw_image_url, image_path, content_type, error_message, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBill(row rowScanner) (*Bill, error) {
	var (
		bill               Bill
		status, tax, tip   string
		createdAt, updated int64
	)
	err := row.Scan(&bill.ID, &bill.ExternalID, &status, &bill.Currency, &tax, &tip,
		&bill.ImageURL, &bill.ImagePath, &bill.ContentType, &bill.ErrorMessage, &createdAt, &updated)
	if err != nil {
		return nil, err
	}
	bill.Status = Status(status)
	if bill.TaxAmount, err = decimal.NewFromString(tax); err != nil {
		return nil, fmt.Errorf("parsing tax amount: %w", err)
	}
	if bill.TipAmount, err = decimal.NewFromString(tip); err != nil {
		return nil, fmt.Errorf("parsing tip amount: %w", err)
	}
	bill.CreatedAt = time.Unix(0, createdAt).UTC()
	bill.UpdatedAt = time.Unix(0, updated).UTC()
	return &bill, nil
}

// GetBill retrieves a bill by ID
func (s *SQLiteDB) GetBill(ctx context.Context, id string) (*Bill, error) {
	bill, err := scanBill(s.db.QueryRowContext(ctx, "SELECT "+billColumns+" FROM bills WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("bill %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting bill: %w", err)
	}
	return bill, nil
}

// ListBills returns all bills, newest first
func (s *SQLiteDB) ListBills(ctx context.Context) ([]*Bill, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+billColumns+" FROM bills ORDER BY created_at DESC")
	if err != nil {
		return nil, fmt.Errorf("listing bills: %w", err)
	}
	defer rows.Close()

	bills := make([]*Bill, 0)
	for rows.Next() {
		bill, err := scanBill(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning bill: %w", err)
		}
		bills = append(bills, bill)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating bills: %w", err)
	}
	return bills, nil
}

// InsertItems stores all items in a single transaction
func (s *SQLiteDB) InsertItems(ctx context.Context, items []*Item) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, item := range items {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO items (id, bill_id, name, quantity, unit_price, category, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
			item.ID, item.BillID, item.Name, item.Quantity, item.UnitPrice.String(), string(item.Category), item.CreatedAt.UnixNano(),
		)
		if err != nil {
			return fmt.Errorf("inserting item: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing items: %w", err)
	}
	return nil
}

const itemColumns = `id, bill_id, name, quantity, unit_price, category, created_at`

func scanItem(row rowScanner) (*Item, error) {
	var (
		item            Item
		price, category string
		createdAt       int64
	)
	if err := row.Scan(&item.ID, &item.BillID, &item.Name, &item.Quantity, &price, &category, &createdAt); err != nil {
		return nil, err
	}
	unitPrice, err := decimal.NewFromString(price)
	if err != nil {
		return nil, fmt.Errorf("parsing unit price: %w", err)
	}
	item.UnitPrice = unitPrice
	item.Category = scanning.Category(category)
	item.CreatedAt = time.Unix(0, createdAt).UTC()
	return &item, nil
}

// GetItem retrieves an item by ID
func (s *SQLiteDB) GetItem(ctx context.Context, id string) (*Item, error) {
	item, err := scanItem(s.db.QueryRowContext(ctx, "SELECT "+itemColumns+" FROM items WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("item %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting item: %w", err)
	}
	return item, nil
}

// ListItems returns a bill's items in insertion order
func (s *SQLiteDB) ListItems(ctx context.Context, billID string) ([]*Item, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+itemColumns+" FROM items WHERE bill_id = ? ORDER BY rowid", billID)
	if err != nil {
		return nil, fmt.Errorf("listing items: %w", err)
	}
	defer rows.Close()

	items := make([]*Item, 0)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating items: %w", err)
	}
	return items, nil
}

// InsertClaim stores a new claim
func (s *SQLiteDB) InsertClaim(ctx context.Context, claim *Claim) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO claims (id, item_id, user_id, user_name, percentage, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		claim.ID, claim.ItemID, claim.UserID, claim.UserName, claim.Percentage,
		claim.CreatedAt.UnixNano(), claim.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("inserting claim: %w", err)
	}
	return nil
}

const claimColumns = `id, item_id, user_id, user_name, percentage, created_at, updated_at`

func scanClaim(row rowScanner) (*Claim, error) {
	var (
		claim              Claim
		createdAt, updated int64
	)
	err := row.Scan(&claim.ID, &claim.ItemID, &claim.UserID, &claim.UserName, &claim.Percentage, &createdAt, &updated)
	if err != nil {
		return nil, err
	}
	claim.CreatedAt = time.Unix(0, createdAt).UTC()
	claim.UpdatedAt = time.Unix(0, updated).UTC()
	return &claim, nil
}

// FindClaim returns the claim userID holds on itemID
func (s *SQLiteDB) FindClaim(ctx context.Context, itemID, userID string) (*Claim, error) {
	claim, err := scanClaim(s.db.QueryRowContext(ctx,
		"SELECT "+claimColumns+" FROM claims WHERE item_id = ? AND user_id = ?", itemID, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("claim on item %s by %s: %w", itemID, userID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("finding claim: %w", err)
	}
	return claim, nil
}

// ListClaims returns all claims on an item, oldest first
func (s *SQLiteDB) ListClaims(ctx context.Context, itemID string) ([]*Claim, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+claimColumns+" FROM claims WHERE item_id = ? ORDER BY created_at, id", itemID)
	if err != nil {
		return nil, fmt.Errorf("listing claims: %w", err)
	}
	defer rows.Close()

	claims := make([]*Claim, 0)
	for rows.Next() {
		claim, err := scanClaim(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning claim: %w", err)
		}
		claims = append(claims, claim)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating claims: %w", err)
	}
	return claims, nil
}

// UpdateClaimPercentage rewrites the percentage of one claim
func (s *SQLiteDB) UpdateClaimPercentage(ctx context.Context, id string, percentage float64, updatedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE claims SET percentage = ?, updated_at = ? WHERE id = ?", percentage, updatedAt.UnixNano(), id)
	if err != nil {
		return fmt.Errorf("updating claim: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("claim %s: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteClaim removes a claim
func (s *SQLiteDB) DeleteClaim(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM claims WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting claim: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("claim %s: %w", id, ErrNotFound)
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteDB) Close() error {
	return s.db.Close()
}
