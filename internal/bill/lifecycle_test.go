package bill

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
)

var _ = Describe("Lifecycle", func() {
	var (
		ctx       context.Context
		db        *mockDB
		timeSrc   *mockTimeSource
		lifecycle *Lifecycle
	)

	BeforeEach(func() {
		ctx = context.Background()
		db = newMockDB()
		timeSrc = &mockTimeSource{now: time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)}
		lifecycle = NewLifecycle(db, &mockIDGenerator{}, timeSrc)
	})

	Describe("CreateBill", func() {
		It("should store a PROCESSING bill with a generated id", func() {
			bill := &Bill{Status: StatusOpen, ImagePath: "a.png"}
			Expect(lifecycle.CreateBill(ctx, bill)).To(Succeed())

			Expect(bill.ID).To(Equal("id-1"))
			stored := db.bill("id-1")
			Expect(stored.Status).To(Equal(StatusProcessing))
			Expect(stored.CreatedAt).To(Equal(timeSrc.now))
			Expect(stored.UpdatedAt).To(Equal(timeSrc.now))
		})

		It("should keep a preset id", func() {
			bill := &Bill{ID: "bill-1"}
			Expect(lifecycle.CreateBill(ctx, bill)).To(Succeed())
			Expect(db.bill("bill-1").Status).To(Equal(StatusProcessing))
		})

		It("returns a storage error when the save fails", func() {
			db.saveBillErr = errors.New("db locked")
			err := lifecycle.CreateBill(ctx, &Bill{ID: "bill-1"})
			var serr *StorageError
			Expect(errors.As(err, &serr)).To(BeTrue())
			Expect(serr.Op).To(Equal("creating bill"))
		})
	})

	Describe("transitions", func() {
		var status Status

		JustBeforeEach(func() {
			db.bills["bill-1"] = Bill{ID: "bill-1", Status: status, ErrorMessage: "earlier"}
			timeSrc.now = timeSrc.now.Add(time.Minute)
		})

		settle := func() error {
			return lifecycle.SettleBill(ctx, "bill-1", "THB", decimal.NewFromInt(10), decimal.NewFromInt(5))
		}

		When("the bill is PROCESSING", func() {
			BeforeEach(func() {
				status = StatusProcessing
			})

			It("should settle to OPEN with the amounts", func() {
				Expect(settle()).To(Succeed())
				bill := db.bill("bill-1")
				Expect(bill.Status).To(Equal(StatusOpen))
				Expect(bill.Currency).To(Equal("THB"))
				Expect(bill.TaxAmount.Equal(decimal.NewFromInt(10))).To(BeTrue())
				Expect(bill.TipAmount.Equal(decimal.NewFromInt(5))).To(BeTrue())
				Expect(bill.ErrorMessage).To(BeEmpty())
				Expect(bill.UpdatedAt).To(Equal(timeSrc.now))
			})

			It("should fail to ERROR with the reason", func() {
				Expect(lifecycle.FailBill(ctx, "bill-1", errors.New("model timeout"))).To(Succeed())
				bill := db.bill("bill-1")
				Expect(bill.Status).To(Equal(StatusError))
				Expect(bill.ErrorMessage).To(Equal("model timeout"))
			})
		})

		When("the bill is OPEN", func() {
			BeforeEach(func() {
				status = StatusOpen
			})

			It("should allow a re-settle, last write wins", func() {
				Expect(settle()).To(Succeed())
				Expect(lifecycle.SettleBill(ctx, "bill-1", "USD", decimal.Zero, decimal.Zero)).To(Succeed())
				bill := db.bill("bill-1")
				Expect(bill.Status).To(Equal(StatusOpen))
				Expect(bill.Currency).To(Equal("USD"))
			})

			It("should allow failing", func() {
				Expect(lifecycle.FailBill(ctx, "bill-1", errors.New("insert failed"))).To(Succeed())
				Expect(db.bill("bill-1").Status).To(Equal(StatusError))
			})
		})

		When("the bill is ERROR", func() {
			BeforeEach(func() {
				status = StatusError
			})

			It("should refuse to settle", func() {
				Expect(settle()).To(MatchError(ErrInvalidTransition))
				Expect(db.bill("bill-1").Status).To(Equal(StatusError))
				Expect(db.bill("bill-1").Currency).To(BeEmpty())
			})

			It("should refuse to fail again", func() {
				Expect(lifecycle.FailBill(ctx, "bill-1", errors.New("again"))).To(MatchError(ErrInvalidTransition))
				Expect(db.bill("bill-1").ErrorMessage).To(Equal("earlier"))
			})
		})
	})

	It("returns ErrNotFound for an unknown bill", func() {
		err := lifecycle.FailBill(ctx, "missing", errors.New("x"))
		Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
	})
})

var _ = DescribeTable("Status.CanTransitionTo",
	func(from, to Status, allowed bool) {
		Expect(from.CanTransitionTo(to)).To(Equal(allowed))
	},
	Entry("PROCESSING to OPEN", StatusProcessing, StatusOpen, true),
	Entry("PROCESSING to ERROR", StatusProcessing, StatusError, true),
	Entry("PROCESSING to PROCESSING", StatusProcessing, StatusProcessing, false),
	Entry("OPEN to OPEN", StatusOpen, StatusOpen, true),
	Entry("OPEN to ERROR", StatusOpen, StatusError, true),
	Entry("OPEN to PROCESSING", StatusOpen, StatusProcessing, false),
	Entry("ERROR to OPEN", StatusError, StatusOpen, false),
	Entry("ERROR to PROCESSING", StatusError, StatusProcessing, false),
	Entry("ERROR to ERROR", StatusError, StatusError, false),
)
