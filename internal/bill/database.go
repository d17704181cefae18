package bill

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"
)

var (
	billsBucket      = []byte("bills")
	itemsBucket      = []byte("items")       // bill id -> (sequence -> item)
	itemIndexBucket  = []byte("item_index")  // item id -> bill id + sequence
	claimsBucket     = []byte("claims")      // item id -> (claim id -> claim)
	claimIndexBucket = []byte("claim_index") // claim id -> item id
)

// DB defines the row-level operations the core needs from persistence.
// Every call is atomic on its own; nothing spans calls.
type DB interface {
	// SaveBill inserts or replaces a bill
	SaveBill(ctx context.Context, bill *Bill) error

	// GetBill retrieves a bill by ID
	GetBill(ctx context.Context, id string) (*Bill, error)

	// ListBills returns all bills
	ListBills(ctx context.Context) ([]*Bill, error)

	// InsertItems stores all items of one extraction, all or nothing
	InsertItems(ctx context.Context, items []*Item) error

	// GetItem retrieves an item by ID
	GetItem(ctx context.Context, id string) (*Item, error)

	// ListItems returns a bill's items in extraction order
	ListItems(ctx context.Context, billID string) ([]*Item, error)

	// InsertClaim stores a new claim
	InsertClaim(ctx context.Context, claim *Claim) error

	// FindClaim returns the claim a user holds on an item
	FindClaim(ctx context.Context, itemID, userID string) (*Claim, error)

	// ListClaims returns all claims on an item, oldest first
	ListClaims(ctx context.Context, itemID string) ([]*Claim, error)

	// UpdateClaimPercentage rewrites the share of one claim
	UpdateClaimPercentage(ctx context.Context, id string, percentage float64, updatedAt time.Time) error

	// DeleteClaim removes a claim
	DeleteClaim(ctx context.Context, id string) error

	// Close closes the database connection
	Close() error
}

// BoltDB implements the DB interface using BoltDB
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{billsBucket, itemsBucket, itemIndexBucket, claimsBucket, claimIndexBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

// SaveBill inserts or replaces a bill
func (b *BoltDB) SaveBill(_ context.Context, bill *Bill) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(bill)
		if err != nil {
			return fmt.Errorf("marshaling bill: %w", err)
		}
		return tx.Bucket(billsBucket).Put([]byte(bill.ID), data)
	})
}

// GetBill retrieves a bill by ID
func (b *BoltDB) GetBill(_ context.Context, id string) (*Bill, error) {
	var bill *Bill
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(billsBucket).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("bill %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &bill)
	})
	if err != nil {
		return nil, err
	}
	return bill, nil
}

// ListBills returns all bills, newest first
func (b *BoltDB) ListBills(_ context.Context) ([]*Bill, error) {
	bills := make([]*Bill, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(billsBucket).ForEach(func(k, v []byte) error {
			var bill Bill
			if err := json.Unmarshal(v, &bill); err != nil {
				return fmt.Errorf("unmarshaling bill: %w", err)
			}
			bills = append(bills, &bill)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(bills, func(i, j int) bool {
		return bills[i].CreatedAt.After(bills[j].CreatedAt)
	})
	return bills, nil
}

// InsertItems stores all items in a single transaction
func (b *BoltDB) InsertItems(_ context.Context, items []*Item) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		index := tx.Bucket(itemIndexBucket)
		for _, item := range items {
			bucket, err := tx.Bucket(itemsBucket).CreateBucketIfNotExists([]byte(item.BillID))
			if err != nil {
				return fmt.Errorf("creating item bucket: %w", err)
			}
			seq, err := bucket.NextSequence()
			if err != nil {
				return fmt.Errorf("item sequence: %w", err)
			}
			data, err := json.Marshal(item)
			if err != nil {
				return fmt.Errorf("marshaling item: %w", err)
			}
			key := sequenceKey(seq)
			if err := bucket.Put(key, data); err != nil {
				return err
			}
			if err := index.Put([]byte(item.ID), append([]byte(item.BillID+"\x00"), key...)); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetItem retrieves an item by ID
func (b *BoltDB) GetItem(_ context.Context, id string) (*Item, error) {
	var item *Item
	err := b.db.View(func(tx *bbolt.Tx) error {
		ref := tx.Bucket(itemIndexBucket).Get([]byte(id))
		if ref == nil {
			return fmt.Errorf("item %s: %w", id, ErrNotFound)
		}
		billID, key := splitItemRef(ref)
		bucket := tx.Bucket(itemsBucket).Bucket(billID)
		if bucket == nil {
			return fmt.Errorf("item %s: %w", id, ErrNotFound)
		}
		data := bucket.Get(key)
		if data == nil {
			return fmt.Errorf("item %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &item)
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// ListItems returns a bill's items in insertion order
func (b *BoltDB) ListItems(_ context.Context, billID string) ([]*Item, error) {
	items := make([]*Item, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(itemsBucket).Bucket([]byte(billID))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			var item Item
			if err := json.Unmarshal(v, &item); err != nil {
				return fmt.Errorf("unmarshaling item: %w", err)
			}
			items = append(items, &item)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// InsertClaim stores a new claim
func (b *BoltDB) InsertClaim(_ context.Context, claim *Claim) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := tx.Bucket(claimsBucket).CreateBucketIfNotExists([]byte(claim.ItemID))
		if err != nil {
			return fmt.Errorf("creating claim bucket: %w", err)
		}
		data, err := json.Marshal(claim)
		if err != nil {
			return fmt.Errorf("marshaling claim: %w", err)
		}
		if err := bucket.Put([]byte(claim.ID), data); err != nil {
			return err
		}
		return tx.Bucket(claimIndexBucket).Put([]byte(claim.ID), []byte(claim.ItemID))
	})
}

// FindClaim returns the claim userID holds on itemID
func (b *BoltDB) FindClaim(_ context.Context, itemID, userID string) (*Claim, error) {
	var found *Claim
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(claimsBucket).Bucket([]byte(itemID))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			var claim Claim
			if err := json.Unmarshal(v, &claim); err != nil {
				return fmt.Errorf("unmarshaling claim: %w", err)
			}
			if claim.UserID == userID {
				found = &claim
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("claim on item %s by %s: %w", itemID, userID, ErrNotFound)
	}
	return found, nil
}

// ListClaims returns all claims on an item, oldest first
func (b *BoltDB) ListClaims(_ context.Context, itemID string) ([]*Claim, error) {
	claims := make([]*Claim, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(claimsBucket).Bucket([]byte(itemID))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			var claim Claim
			if err := json.Unmarshal(v, &claim); err != nil {
				return fmt.Errorf("unmarshaling claim: %w", err)
			}
			claims = append(claims, &claim)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortClaims(claims)
	return claims, nil
}

// UpdateClaimPercentage rewrites the percentage of one claim
func (b *BoltDB) UpdateClaimPercentage(_ context.Context, id string, percentage float64, updatedAt time.Time) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := claimBucketFor(tx, id)
		if err != nil {
			return err
		}
		data := bucket.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("claim %s: %w", id, ErrNotFound)
		}
		var claim Claim
		if err := json.Unmarshal(data, &claim); err != nil {
			return fmt.Errorf("unmarshaling claim: %w", err)
		}
		claim.Percentage = percentage
		claim.UpdatedAt = updatedAt
		data, err = json.Marshal(&claim)
		if err != nil {
			return fmt.Errorf("marshaling claim: %w", err)
		}
		return bucket.Put([]byte(id), data)
	})
}

// DeleteClaim removes a claim
func (b *BoltDB) DeleteClaim(_ context.Context, id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := claimBucketFor(tx, id)
		if err != nil {
			return err
		}
		if err := bucket.Delete([]byte(id)); err != nil {
			return err
		}
		return tx.Bucket(claimIndexBucket).Delete([]byte(id))
	})
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}

func claimBucketFor(tx *bbolt.Tx, claimID string) (*bbolt.Bucket, error) {
	itemID := tx.Bucket(claimIndexBucket).Get([]byte(claimID))
	if itemID == nil {
		return nil, fmt.Errorf("claim %s: %w", claimID, ErrNotFound)
	}
	bucket := tx.Bucket(claimsBucket).Bucket(itemID)
	if bucket == nil {
		return nil, fmt.Errorf("claim %s: %w", claimID, ErrNotFound)
	}
	return bucket, nil
}

func sequenceKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

func splitItemRef(ref []byte) (billID, key []byte) {
	split := len(ref) - 9
	return ref[:split], ref[split+1:]
}

func sortClaims(claims []*Claim) {
	sort.SliceStable(claims, func(i, j int) bool {
		if claims[i].CreatedAt.Equal(claims[j].CreatedAt) {
			return claims[i].ID < claims[j].ID
		}
		return claims[i].CreatedAt.Before(claims[j].CreatedAt)
	})
}
