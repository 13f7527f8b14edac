package sales

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-realtime-sales/internal/apperr"
	"github.com/ariefcatur/go-realtime-sales/internal/outbox"
	"github.com/ariefcatur/go-realtime-sales/internal/tracing"
)

var tracer = tracing.Tracer("sales")

type Store interface {
	CreateWithOutbox(ctx context.Context, s *Sale, msg outbox.Message) error
	Get(ctx context.Context, id string) (*Sale, error)
	History(ctx context.Context, id string) ([]HistoryEntry, error)
	ApplyOutcome(ctx context.Context, id string, to Status, entry HistoryEntry) (HistoryEntry, error)
}

// StatusCache is a read-through shortcut for a sale's status. It is never
// the source of truth.
type StatusCache interface {
	SetStatus(ctx context.Context, id string, st Status) error
	SetStatusIfAbsent(ctx context.Context, id string, st Status) error
	GetStatus(ctx context.Context, id string) (Status, bool, error)
}

type ItemInput struct {
	ProductID int             `json:"productId" validate:"gt=0,lte=2147483647"`
	Quantity  int             `json:"quantity" validate:"gt=0,lte=2147483647"`
	UnitPrice decimal.Decimal `json:"unitPrice" validate:"gte=0"`
}

type CreateSaleInput struct {
	CustomerID string      `json:"customerId"`
	Items      []ItemInput `json:"items" validate:"required,min=1,dive"`
}

type Service struct {
	store Store
	cache StatusCache
	topic string
	log   *zap.Logger
	now   func() time.Time
	newID func() string
}

func NewService(store Store, cache StatusCache, topic string, log *zap.Logger) *Service {
	if topic == "" {
		topic = TopicSales
	}
	return &Service{
		store: store,
		cache: cache,
		topic: topic,
		log:   log,
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// Create accepts a sale in Created and queues it for fulfillment. It returns
// once the sale and its outbox row are committed; stock is not touched here.
func (s *Service) Create(ctx context.Context, in CreateSaleInput) (*Sale, error) {
	ctx, span := tracer.Start(ctx, "sales.Create")
	defer span.End()

	if err := validateInput(in); err != nil {
		span.SetStatus(codes.Error, "invalid input")
		return nil, err
	}

	items := make([]SaleItem, 0, len(in.Items))
	for _, it := range in.Items {
		items = append(items, SaleItem{ProductID: it.ProductID, Quantity: it.Quantity, UnitPrice: it.UnitPrice})
	}
	sale := NewSale(s.newID(), in.CustomerID, items, s.now())
	span.SetAttributes(attribute.String("sale.id", sale.ID))

	payload, err := EncodeSale(sale)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	headers := EventHeaders()
	tracing.Inject(ctx, headers)

	msg := outbox.Message{
		AggregateID: sale.ID,
		Topic:       s.topic,
		EventType:   EventSaleCreated,
		Payload:     payload,
		Headers:     headers,
	}
	if err := s.store.CreateWithOutbox(ctx, sale, msg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist sale")
		return nil, apperr.Internal(err)
	}

	s.cacheStatus(ctx, sale.ID, sale.Status)
	s.log.Info("sale accepted",
		zap.String("sale_id", sale.ID),
		zap.String("customer_id", sale.CustomerID),
		zap.String("total", sale.TotalAmount.StringFixed(2)),
		zap.Int("items", len(sale.Items)),
	)
	return sale, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Sale, error) {
	return s.store.Get(ctx, id)
}

// Status answers from the cache when it can and falls back to the store.
func (s *Service) Status(ctx context.Context, id string) (Status, error) {
	if s.cache != nil {
		st, ok, err := s.cache.GetStatus(ctx, id)
		if err != nil {
			s.log.Warn("status cache read failed", zap.String("sale_id", id), zap.Error(err))
		} else if ok {
			return st, nil
		}
	}
	sale, err := s.store.Get(ctx, id)
	if err != nil {
		return "", err
	}
	s.cacheStatus(ctx, id, sale.Status)
	return sale.Status, nil
}

func (s *Service) History(ctx context.Context, id string) ([]HistoryEntry, error) {
	return s.store.History(ctx, id)
}

// ApplyStatusUpdate records a fulfillment outcome. Only a move from Created
// to a terminal status with one history entry is accepted.
func (s *Service) ApplyStatusUpdate(ctx context.Context, id string, up StatusUpdate) (HistoryEntry, error) {
	if up.ID != "" && up.ID != id {
		return HistoryEntry{}, apperr.InvalidInput("body id does not match path id")
	}
	if !up.Status.Terminal() {
		return HistoryEntry{}, apperr.InvalidInput("status must be Confirmed or Failed")
	}
	if up.History.Action == "" {
		return HistoryEntry{}, apperr.InvalidInput("history.action is required")
	}
	if up.History.Timestamp.IsZero() {
		up.History.Timestamp = s.now()
	}

	entry, err := s.store.ApplyOutcome(ctx, id, up.Status, up.History)
	if err != nil {
		return HistoryEntry{}, err
	}
	s.cacheStatus(ctx, id, up.Status)
	s.log.Info("sale status updated",
		zap.String("sale_id", id),
		zap.String("status", string(up.Status)),
		zap.String("action", entry.Action),
	)
	return entry, nil
}

// cacheStatus overwrites only with a terminal status. Created may be a
// snapshot taken before an outcome landed, so it never replaces an entry.
func (s *Service) cacheStatus(ctx context.Context, id string, st Status) {
	if s.cache == nil {
		return
	}
	set := s.cache.SetStatusIfAbsent
	if st.Terminal() {
		set = s.cache.SetStatus
	}
	if err := set(ctx, id, st); err != nil {
		s.log.Warn("status cache write failed", zap.String("sale_id", id), zap.Error(err))
	}
}
