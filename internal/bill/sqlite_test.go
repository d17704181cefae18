package bill

import (
	"context"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/zombor/bill-splitter/internal/scanning"
)

var _ = Describe("SQLiteDB", func() {
	var (
		ctx context.Context
		db  *SQLiteDB
		now time.Time
	)

	BeforeEach(func() {
		ctx = context.Background()
		now = time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
		var err error
		db, err = NewSQLiteDB(filepath.Join(GinkgoT().TempDir(), "nested", "bills.sqlite"))
		Expect(err).NotTo(HaveOccurred())

		Expect(db.SaveBill(ctx, &Bill{ID: "bill-1", Status: StatusOpen, CreatedAt: now, UpdatedAt: now})).To(Succeed())
		Expect(db.InsertItems(ctx, []*Item{
			{ID: "item-1", BillID: "bill-1", Name: "Pad Thai", Quantity: 1, UnitPrice: decimal.NewFromInt(120), Category: scanning.CategoryFood, CreatedAt: now},
		})).To(Succeed())
	})

	AfterEach(func() {
		db.Close()
	})

	It("should reject a second claim by the same user on one item", func() {
		Expect(db.InsertClaim(ctx, &Claim{ID: "c-1", ItemID: "item-1", UserID: "alice", CreatedAt: now, UpdatedAt: now})).To(Succeed())
		Expect(db.InsertClaim(ctx, &Claim{ID: "c-2", ItemID: "item-1", UserID: "alice", CreatedAt: now, UpdatedAt: now})).NotTo(Succeed())
	})

	It("should reject items for an unknown bill", func() {
		err := db.InsertItems(ctx, []*Item{
			{ID: "item-2", BillID: "missing", Name: "Ghost", Quantity: 1, UnitPrice: decimal.NewFromInt(1), Category: scanning.CategoryShared, CreatedAt: now},
		})
		Expect(err).To(HaveOccurred())
	})

	It("should insert items all or nothing", func() {
		err := db.InsertItems(ctx, []*Item{
			{ID: "item-2", BillID: "bill-1", Name: "Beer", Quantity: 1, UnitPrice: decimal.NewFromInt(80), Category: scanning.CategoryAlcohol, CreatedAt: now},
			{ID: "item-1", BillID: "bill-1", Name: "Duplicate", Quantity: 1, UnitPrice: decimal.NewFromInt(1), Category: scanning.CategoryShared, CreatedAt: now},
		})
		Expect(err).To(HaveOccurred())

		items, err := db.ListItems(ctx, "bill-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(items).To(HaveLen(1))
	})
})
