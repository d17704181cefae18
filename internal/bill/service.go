package bill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/zombor/bill-splitter/internal/scanning"
)

// IDGenerator generates unique IDs for bills, items and claims
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// Notifier tells the downstream workflow that a bill is ready to be claimed
type Notifier interface {
	NotifyBillReady(ctx context.Context, billID, chatID, currency string) error
}

type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.New().String()
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now().UTC()
}

const (
	defaultScanTimeout   = 60 * time.Second
	defaultNotifyTimeout = 10 * time.Second
	defaultWorkers       = 4
	defaultQueueSize     = 64
)

// Service coordinates upload, background extraction and claiming
type Service struct {
	db        DB
	scanner   scanning.Scanner
	storage   Storage
	notifier  Notifier
	lifecycle *Lifecycle
	ledger    *Ledger
	queue     *Queue
	metrics   *Metrics

	idGenerator   IDGenerator
	timeSource    TimeSource
	scanTimeout   time.Duration
	notifyTimeout time.Duration
	workers       int
	queueSize     int
}

// Option configures a Service
type Option func(*Service)

// WithNotifier sets the bill-ready notifier; without one notifications are skipped
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithIDGenerator overrides the UUID generator
func WithIDGenerator(g IDGenerator) Option {
	return func(s *Service) { s.idGenerator = g }
}

// WithTimeSource overrides the wall clock
func WithTimeSource(t TimeSource) Option {
	return func(s *Service) { s.timeSource = t }
}

// WithMetrics sets the collectors the service reports to
func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithScanTimeout bounds each extraction's model call
func WithScanTimeout(d time.Duration) Option {
	return func(s *Service) { s.scanTimeout = d }
}

// WithNotifyTimeout bounds each webhook call
func WithNotifyTimeout(d time.Duration) Option {
	return func(s *Service) { s.notifyTimeout = d }
}

// WithWorkers sets the extraction worker count and queue buffer size
func WithWorkers(workers, queueSize int) Option {
	return func(s *Service) {
		s.workers = workers
		s.queueSize = queueSize
	}
}

// NewService creates a new Service. Call Start before submitting uploads.
func NewService(db DB, scanner scanning.Scanner, storage Storage, opts ...Option) *Service {
	s := &Service{
		db:            db,
		scanner:       scanner,
		storage:       storage,
		idGenerator:   &uuidGenerator{},
		timeSource:    &defaultTimeSource{},
		scanTimeout:   defaultScanTimeout,
		notifyTimeout: defaultNotifyTimeout,
		workers:       defaultWorkers,
		queueSize:     defaultQueueSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = NewMetrics(nil)
	}

	s.lifecycle = NewLifecycle(db, s.idGenerator, s.timeSource)
	s.ledger = NewLedger(db, s.idGenerator, s.timeSource, s.metrics)
	s.queue = NewQueue(s.workers, s.queueSize, s.processBill)
	return s
}

// Start launches the background extraction workers
func (s *Service) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Wait blocks until all submitted extractions have finished
func (s *Service) Wait() {
	s.queue.Wait()
}

// Stop drains the extraction queue
func (s *Service) Stop() error {
	return s.queue.Stop()
}

// Ingest stores the image, creates a PROCESSING bill and schedules extraction.
// It returns as soon as the bill exists; extraction runs in the background.
func (s *Service) Ingest(ctx context.Context, filename string, data []byte, contentType, externalID string) (*Bill, error) {
	id := s.idGenerator.Generate()

	key, err := s.storage.Save(fmt.Sprintf("%s_%s", id, sanitizeFilename(filename)), data)
	if err != nil {
		return nil, storageErr("saving image", err)
	}

	bill := &Bill{
		ID:          id,
		ExternalID:  externalID,
		ImageURL:    s.storage.URL(key),
		ImagePath:   key,
		ContentType: contentType,
	}
	if err := s.lifecycle.CreateBill(ctx, bill); err != nil {
		if delErr := s.storage.Delete(key); delErr != nil {
			slog.Warn("Failed to delete orphaned image", "path", key, "error", delErr)
		}
		return nil, err
	}

	if err := s.queue.Submit(Job{BillID: bill.ID}); err != nil {
		if failErr := s.lifecycle.FailBill(ctx, bill.ID, err); failErr != nil {
			slog.Error("Failed to mark unscheduled bill as failed", "bill_id", bill.ID, "error", failErr)
		}
		return nil, fmt.Errorf("scheduling extraction: %w", err)
	}

	s.metrics.BillsIngested.Inc()
	slog.Info("Receipt uploaded", "bill_id", bill.ID, "external_id", externalID, "content_type", contentType, "file_size", len(data))
	return bill, nil
}

// processBill is the background unit of work for one bill. Nothing observes
// it, so every failure ends here: logged and turned into an ERROR bill.
func (s *Service) processBill(ctx context.Context, job Job) {
	start := s.timeSource.Now()
	logger := slog.With("bill_id", job.BillID)

	err := s.extractAndSettle(ctx, job.BillID)
	s.metrics.ExtractionDuration.Observe(s.timeSource.Now().Sub(start).Seconds())

	switch {
	case err == nil:
		s.metrics.Extractions.WithLabelValues("ok").Inc()
		return
	case errors.Is(err, ErrAlreadyProcessed):
		s.metrics.Extractions.WithLabelValues("skipped").Inc()
		logger.Warn("Skipping extraction", "error", err)
		return
	}

	s.metrics.Extractions.WithLabelValues("error").Inc()
	logger.Error("Failed to process receipt", "error", err)

	// the job context may already be cancelled; the bill must still leave PROCESSING
	if failErr := s.lifecycle.FailBill(context.WithoutCancel(ctx), job.BillID, err); failErr != nil {
		logger.Error("Failed to mark bill as failed", "error", failErr)
	}
}

func (s *Service) extractAndSettle(ctx context.Context, billID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during extraction: %v", r)
		}
	}()

	bill, err := s.db.GetBill(ctx, billID)
	if err != nil {
		return storageErr("getting bill", err)
	}
	if bill.Status != StatusProcessing {
		return fmt.Errorf("bill %s is %s: %w", billID, bill.Status, ErrAlreadyProcessed)
	}

	data, err := s.storage.Get(bill.ImagePath)
	if err != nil {
		return scanning.AsExtractionError(scanning.StageFetch, err)
	}

	receipt, err := s.scan(ctx, data, bill.ContentType)
	if err != nil {
		return err
	}

	if err := s.lifecycle.SettleBill(ctx, billID, receipt.Currency, receipt.TaxAmount, receipt.TipAmount); err != nil {
		return err
	}

	if items := s.buildItems(billID, receipt.Items); len(items) > 0 {
		if err := s.db.InsertItems(ctx, items); err != nil {
			return storageErr("inserting items", err)
		}
	}

	s.notify(ctx, billID, receipt.Currency)
	return nil
}

// scan calls the scanner under the service's own deadline so a hung provider
// still ends in an ERROR bill.
func (s *Service) scan(ctx context.Context, data []byte, contentType string) (*scanning.ReceiptData, error) {
	ctx, cancel := context.WithTimeout(ctx, s.scanTimeout)
	defer cancel()

	receipt, err := s.scanner.ScanReceipt(ctx, data, contentType)
	if err != nil {
		return nil, scanning.AsExtractionError(scanning.StageModel, err)
	}
	if receipt == nil {
		return nil, scanning.AsExtractionError(scanning.StageModel, scanning.ErrEmptyResponse)
	}
	return receipt, nil
}

func (s *Service) buildItems(billID string, lines []scanning.LineItem) []*Item {
	now := s.timeSource.Now()
	items := make([]*Item, 0, len(lines))
	for _, line := range lines {
		if !line.Category.Claimable() {
			continue
		}
		quantity := line.Quantity
		if quantity < 1 {
			quantity = 1
		}
		items = append(items, &Item{
			ID:        s.idGenerator.Generate(),
			BillID:    billID,
			Name:      line.Name,
			Quantity:  quantity,
			UnitPrice: line.Price,
			Category:  line.Category,
			CreatedAt: now,
		})
	}
	return items
}

// notify is best effort: failures are logged and never undo settlement
func (s *Service) notify(ctx context.Context, billID, currency string) {
	logger := slog.With("bill_id", billID)

	bill, err := s.db.GetBill(ctx, billID)
	if err != nil {
		s.metrics.Notifications.WithLabelValues("error").Inc()
		logger.Warn("Skipping notification, bill lookup failed", "error", err)
		return
	}
	if bill.ExternalID == "" {
		s.metrics.Notifications.WithLabelValues("skipped").Inc()
		logger.Info("Skipping notification, bill has no external id")
		return
	}
	if s.notifier == nil {
		s.metrics.Notifications.WithLabelValues("skipped").Inc()
		logger.Debug("Skipping notification, no notifier configured")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, s.notifyTimeout)
	defer cancel()

	if err := s.notifier.NotifyBillReady(ctx, billID, bill.ExternalID, currency); err != nil {
		s.metrics.Notifications.WithLabelValues("error").Inc()
		logger.Warn("Failed to notify bill ready", "chat_id", bill.ExternalID, "error", err)
		return
	}
	s.metrics.Notifications.WithLabelValues("ok").Inc()
	logger.Info("Notified bill ready", "chat_id", bill.ExternalID)
}

// ToggleClaim joins or leaves an item of the bill for the given user
func (s *Service) ToggleClaim(ctx context.Context, billID, itemID, userID, userName string) (ToggleResult, error) {
	item, err := s.db.GetItem(ctx, itemID)
	if err != nil {
		return ToggleResult{}, storageErr("getting item", err)
	}
	if item.BillID != billID {
		return ToggleResult{}, fmt.Errorf("item %s on bill %s: %w", itemID, billID, ErrNotFound)
	}
	return s.ledger.Toggle(ctx, itemID, userID, userName)
}

// GetBill retrieves a bill with its items and claims
func (s *Service) GetBill(ctx context.Context, id string) (*Details, error) {
	bill, err := s.db.GetBill(ctx, id)
	if err != nil {
		return nil, storageErr("getting bill", err)
	}
	items, err := s.db.ListItems(ctx, id)
	if err != nil {
		return nil, storageErr("listing items", err)
	}

	claims := make([]*Claim, 0)
	for _, item := range items {
		itemClaims, err := s.db.ListClaims(ctx, item.ID)
		if err != nil {
			return nil, storageErr("listing claims", err)
		}
		claims = append(claims, itemClaims...)
	}

	return &Details{Bill: bill, Items: items, Claims: claims}, nil
}

// ListBills returns all bills
func (s *Service) ListBills(ctx context.Context) ([]*Bill, error) {
	bills, err := s.db.ListBills(ctx)
	if err != nil {
		return nil, storageErr("listing bills", err)
	}
	return bills, nil
}

// GetBillImage returns the stored receipt image and its content type
func (s *Service) GetBillImage(ctx context.Context, id string) ([]byte, string, error) {
	bill, err := s.db.GetBill(ctx, id)
	if err != nil {
		return nil, "", storageErr("getting bill", err)
	}
	data, err := s.storage.Get(bill.ImagePath)
	if err != nil {
		return nil, "", storageErr("getting image", err)
	}
	return data, bill.ContentType, nil
}

// GetFile returns a stored file by its storage key
func (s *Service) GetFile(key string) ([]byte, error) {
	data, err := s.storage.Get(key)
	if err != nil {
		return nil, storageErr("getting file", err)
	}
	return data, nil
}

// Share is what one participant owes for the items they claimed, before tax and tip
type Share struct {
	UserID   string          `json:"user_id"`
	UserName string          `json:"user_name"`
	Items    int             `json:"items"`
	Subtotal decimal.Decimal `json:"subtotal"`
}

// Shares computes each participant's subtotal over the bill's claimed items
func (s *Service) Shares(ctx context.Context, billID string) ([]Share, error) {
	details, err := s.GetBill(ctx, billID)
	if err != nil {
		return nil, err
	}

	totals := make(map[string]decimal.Decimal, len(details.Items))
	for _, item := range details.Items {
		totals[item.ID] = item.Total()
	}

	byUser := make(map[string]*Share)
	for _, claim := range details.Claims {
		share, ok := byUser[claim.UserID]
		if !ok {
			share = &Share{UserID: claim.UserID, UserName: claim.UserName}
			byUser[claim.UserID] = share
		}
		share.Items++
		share.Subtotal = share.Subtotal.Add(totals[claim.ItemID].Mul(decimal.NewFromFloat(claim.Percentage)))
	}

	shares := make([]Share, 0, len(byUser))
	for _, share := range byUser {
		share.Subtotal = share.Subtotal.Round(2)
		shares = append(shares, *share)
	}
	sort.Slice(shares, func(i, j int) bool {
		return shares[i].UserID < shares[j].UserID
	})
	return shares, nil
}
