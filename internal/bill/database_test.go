package bill

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/zombor/bill-splitter/internal/scanning"
)

// describeDB runs the behaviour every DB backend must share
func describeDB(name string, open func(dir string) (DB, error)) {
	Describe(name, func() {
		var (
			ctx  context.Context
			db   DB
			base time.Time
		)

		BeforeEach(func() {
			ctx = context.Background()
			base = time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
			var err error
			db, err = open(GinkgoT().TempDir())
			Expect(err).NotTo(HaveOccurred())
		})

		AfterEach(func() {
			if db != nil {
				db.Close()
			}
		})

		saveBill := func(id string, createdAt time.Time) {
			Expect(db.SaveBill(ctx, &Bill{
				ID:        id,
				Status:    StatusProcessing,
				CreatedAt: createdAt,
				UpdatedAt: createdAt,
			})).To(Succeed())
		}

		Describe("SaveBill and GetBill", func() {
			BeforeEach(func() {
				Expect(db.SaveBill(ctx, &Bill{
					ID:          "bill-1",
					ExternalID:  "chat-42",
					Status:      StatusOpen,
					Currency:    "THB",
					TaxAmount:   decimal.RequireFromString("10.50"),
					TipAmount:   decimal.Zero,
					ImageURL:    "http://localhost/files/bill-1_r.png",
					ImagePath:   "bill-1_r.png",
					ContentType: "image/png",
					CreatedAt:   base,
					UpdatedAt:   base,
				})).To(Succeed())
			})

			It("should round trip every field", func() {
				bill, err := db.GetBill(ctx, "bill-1")
				Expect(err).NotTo(HaveOccurred())
				Expect(bill.ExternalID).To(Equal("chat-42"))
				Expect(bill.Status).To(Equal(StatusOpen))
				Expect(bill.Currency).To(Equal("THB"))
				Expect(bill.TaxAmount.Equal(decimal.RequireFromString("10.5"))).To(BeTrue())
				Expect(bill.TipAmount.IsZero()).To(BeTrue())
				Expect(bill.ImagePath).To(Equal("bill-1_r.png"))
				Expect(bill.ContentType).To(Equal("image/png"))
				Expect(bill.CreatedAt.Equal(base)).To(BeTrue())
			})

			It("should replace on a second save", func() {
				bill, _ := db.GetBill(ctx, "bill-1")
				bill.Status = StatusError
				bill.ErrorMessage = "boom"
				Expect(db.SaveBill(ctx, bill)).To(Succeed())

				reloaded, err := db.GetBill(ctx, "bill-1")
				Expect(err).NotTo(HaveOccurred())
				Expect(reloaded.Status).To(Equal(StatusError))
				Expect(reloaded.ErrorMessage).To(Equal("boom"))
			})

			It("returns ErrNotFound for an unknown bill", func() {
				_, err := db.GetBill(ctx, "missing")
				Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
			})
		})

		Describe("ListBills", func() {
			It("should return an empty list", func() {
				bills, err := db.ListBills(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(bills).To(BeEmpty())
			})

			It("should return newest first", func() {
				saveBill("old", base)
				saveBill("new", base.Add(time.Hour))

				bills, err := db.ListBills(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(bills).To(HaveLen(2))
				Expect(bills[0].ID).To(Equal("new"))
				Expect(bills[1].ID).To(Equal("old"))
			})
		})

		Describe("items", func() {
			BeforeEach(func() {
				saveBill("bill-1", base)
				saveBill("bill-2", base)
				Expect(db.InsertItems(ctx, []*Item{
					{ID: "z-item", BillID: "bill-1", Name: "Pad Thai", Quantity: 1, UnitPrice: decimal.NewFromInt(120), Category: scanning.CategoryFood, CreatedAt: base},
					{ID: "a-item", BillID: "bill-1", Name: "Beer", Quantity: 2, UnitPrice: decimal.RequireFromString("80.25"), Category: scanning.CategoryAlcohol, CreatedAt: base},
					{ID: "other", BillID: "bill-2", Name: "Water", Quantity: 1, UnitPrice: decimal.NewFromInt(20), Category: scanning.CategoryShared, CreatedAt: base},
				})).To(Succeed())
			})

			It("should list a bill's items in extraction order", func() {
				items, err := db.ListItems(ctx, "bill-1")
				Expect(err).NotTo(HaveOccurred())
				Expect(items).To(HaveLen(2))
				Expect(items[0].Name).To(Equal("Pad Thai"))
				Expect(items[1].Name).To(Equal("Beer"))
				Expect(items[1].UnitPrice.Equal(decimal.RequireFromString("80.25"))).To(BeTrue())
				Expect(items[1].Category).To(Equal(scanning.CategoryAlcohol))
			})

			It("should get an item by id", func() {
				item, err := db.GetItem(ctx, "other")
				Expect(err).NotTo(HaveOccurred())
				Expect(item.BillID).To(Equal("bill-2"))
				Expect(item.Quantity).To(Equal(1))
			})

			It("returns ErrNotFound for an unknown item", func() {
				_, err := db.GetItem(ctx, "missing")
				Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
			})

			It("should return no items for a bill without any", func() {
				items, err := db.ListItems(ctx, "bill-3")
				Expect(err).NotTo(HaveOccurred())
				Expect(items).To(BeEmpty())
			})
		})

		Describe("claims", func() {
			BeforeEach(func() {
				saveBill("bill-1", base)
				Expect(db.InsertItems(ctx, []*Item{
					{ID: "item-1", BillID: "bill-1", Name: "Pad Thai", Quantity: 1, UnitPrice: decimal.NewFromInt(120), Category: scanning.CategoryFood, CreatedAt: base},
				})).To(Succeed())
				Expect(db.InsertClaim(ctx, &Claim{ID: "c-2", ItemID: "item-1", UserID: "bob", UserName: "Bob", Percentage: 0.5, CreatedAt: base.Add(time.Second), UpdatedAt: base})).To(Succeed())
				Expect(db.InsertClaim(ctx, &Claim{ID: "c-1", ItemID: "item-1", UserID: "alice", UserName: "Alice", Percentage: 0.5, CreatedAt: base, UpdatedAt: base})).To(Succeed())
			})

			It("should list claims oldest first", func() {
				claims, err := db.ListClaims(ctx, "item-1")
				Expect(err).NotTo(HaveOccurred())
				Expect(claims).To(HaveLen(2))
				Expect(claims[0].UserID).To(Equal("alice"))
				Expect(claims[1].UserID).To(Equal("bob"))
			})

			It("should find a user's claim", func() {
				claim, err := db.FindClaim(ctx, "item-1", "bob")
				Expect(err).NotTo(HaveOccurred())
				Expect(claim.ID).To(Equal("c-2"))
				Expect(claim.UserName).To(Equal("Bob"))
			})

			It("returns ErrNotFound when the user holds no claim", func() {
				_, err := db.FindClaim(ctx, "item-1", "carol")
				Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
			})

			It("should update a claim's percentage", func() {
				later := base.Add(time.Minute)
				Expect(db.UpdateClaimPercentage(ctx, "c-1", 1, later)).To(Succeed())

				claim, err := db.FindClaim(ctx, "item-1", "alice")
				Expect(err).NotTo(HaveOccurred())
				Expect(claim.Percentage).To(Equal(1.0))
				Expect(claim.UpdatedAt.Equal(later)).To(BeTrue())
			})

			It("returns ErrNotFound when updating an unknown claim", func() {
				err := db.UpdateClaimPercentage(ctx, "missing", 1, base)
				Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
			})

			It("should delete a claim", func() {
				Expect(db.DeleteClaim(ctx, "c-2")).To(Succeed())

				claims, err := db.ListClaims(ctx, "item-1")
				Expect(err).NotTo(HaveOccurred())
				Expect(claims).To(HaveLen(1))

				_, err = db.FindClaim(ctx, "item-1", "bob")
				Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
			})

			It("returns ErrNotFound when deleting an unknown claim", func() {
				err := db.DeleteClaim(ctx, "missing")
				Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
			})

			It("should return no claims for an unclaimed item", func() {
				claims, err := db.ListClaims(ctx, "item-2")
				Expect(err).NotTo(HaveOccurred())
				Expect(claims).To(BeEmpty())
			})
		})
	})
}

var _ = Describe("DB backends", func() {
	describeDB("BoltDB", func(dir string) (DB, error) {
		return NewBoltDB(filepath.Join(dir, "test.db"))
	})

	describeDB("SQLiteDB", func(dir string) (DB, error) {
		return NewSQLiteDB(filepath.Join(dir, "test.sqlite"))
	})
})

var _ = Describe("BoltDB", func() {
	It("should keep data across reopen", func() {
		path := filepath.Join(GinkgoT().TempDir(), "test.db")
		db, err := NewBoltDB(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(db.SaveBill(context.Background(), &Bill{ID: "bill-1", Status: StatusOpen})).To(Succeed())
		Expect(db.Close()).To(Succeed())

		db, err = NewBoltDB(path)
		Expect(err).NotTo(HaveOccurred())
		defer db.Close()

		bill, err := db.GetBill(context.Background(), "bill-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(bill.Status).To(Equal(StatusOpen))
	})

	It("should fail to open a path in a missing directory", func() {
		_, err := NewBoltDB(filepath.Join(GinkgoT().TempDir(), "missing", "test.db"))
		Expect(err).To(HaveOccurred())
	})
})
