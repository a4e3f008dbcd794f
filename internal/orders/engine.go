package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fusionaura/storefront-orders/internal/config"
	"github.com/fusionaura/storefront-orders/internal/inventory"
	"github.com/fusionaura/storefront-orders/internal/metrics"
)

const (
	defaultPaymentMethod = "cod"
	defaultPageSize      = 20
	maxPageSize          = 100
)

var tracer = otel.Tracer("github.com/fusionaura/storefront-orders/internal/orders")

var validate = validator.New()

// Notifier receives committed status changes. Delivery is best effort: the
// engine logs and discards its errors.
type Notifier interface {
	NotifyStatusChanged(ctx context.Context, ev StatusChangedEvent) error
}

// EngineDeps wires the order engine.
type EngineDeps struct {
	Store    Store
	Ledger   *inventory.Ledger
	Notifier Notifier
	Metrics  *metrics.Metrics
	Logger   *zerolog.Logger
	Payment  config.Payment

	// MaxAttempts bounds how often a conflicted operation runs. Defaults to 3.
	MaxAttempts int
	// BackOff builds the wait policy for one operation. Defaults to DefaultBackOff.
	BackOff func() backoff.BackOff
	// NotifyBuffer bounds the queue of status changes waiting for the
	// Notifier. Defaults to 256; changes beyond it are dropped and counted.
	NotifyBuffer int

	Clock     func() time.Time
	NewID     func() string
	NewNumber func(time.Time) string
}

// Engine owns the order lifecycle: creation, status transitions with their
// inventory effects, item edits, payment confirmation and archival.
type Engine struct {
	store       Store
	ledger      *inventory.Ledger
	notifier    Notifier
	metrics     *metrics.Metrics
	log         zerolog.Logger
	payment     config.Payment
	maxAttempts int
	newBackOff  func() backoff.BackOff
	now         func() time.Time
	newID       func() string
	newNumber   func(time.Time) string

	queue *notifyQueue
}

func NewEngine(deps EngineDeps) (*Engine, error) {
	if deps.Store == nil {
		return nil, errors.New("order engine: store is required")
	}
	e := &Engine{
		store:       deps.Store,
		ledger:      deps.Ledger,
		notifier:    deps.Notifier,
		metrics:     deps.Metrics,
		log:         zerolog.Nop(),
		payment:     deps.Payment,
		maxAttempts: deps.MaxAttempts,
		newBackOff:  deps.BackOff,
		now:         deps.Clock,
		newID:       deps.NewID,
		newNumber:   deps.NewNumber,
	}
	if deps.Logger != nil {
		e.log = deps.Logger.With().Str("component", "orders").Logger()
	}
	if e.ledger == nil {
		e.ledger = inventory.NewLedger(deps.Metrics)
	}
	if e.maxAttempts <= 0 {
		e.maxAttempts = defaultMaxAttempts
	}
	if e.newBackOff == nil {
		e.newBackOff = DefaultBackOff
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.newID == nil {
		e.newID = uuid.NewString
	}
	if e.newNumber == nil {
		e.newNumber = NewOrderNumber
	}
	if e.notifier != nil {
		e.queue = newNotifyQueue(deps.NotifyBuffer)
		go e.deliverNotifications()
	}
	return e, nil
}

// NewOrderNumber returns a human readable order number such as FUS-20240131-1A2B3C4D.
func NewOrderNumber(at time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("FUS-%s-%s", at.UTC().Format("20060102"), suffix)
}

type CreateOrderInput struct {
	UserID        *string
	PaymentMethod string
	Address       Address
	Items         []ItemInput
	Shipping      decimal.Decimal
	Discount      decimal.Decimal
}

// CreateOrder validates availability and persists the order with its items.
// No stock is reserved until the order is accepted.
func (e *Engine) CreateOrder(ctx context.Context, in CreateOrderInput) (out Order, err error) {
	ctx, span := tracer.Start(ctx, "orders.CreateOrder")
	defer func() { endSpan(span, err) }()

	inputs, err := normaliseInputs(in.Items)
	if err != nil {
		return Order{}, err
	}
	if err := validate.Struct(in.Address); err != nil {
		return Order{}, invalidInput("shipping address: %v", err)
	}
	method := strings.ToLower(strings.TrimSpace(in.PaymentMethod))
	if method == "" {
		method = defaultPaymentMethod
	}
	status := StatusPending
	if e.payment.IsOnline(method) {
		status = StatusAwaitingPayment
	}
	qty, ids := inputQuantities(inputs)

	err = e.inTx(ctx, "create", func(ctx context.Context, tx Tx) error {
		products, err := tx.LoadProducts(ctx, ids)
		if err != nil {
			return err
		}
		for _, id := range ids {
			p, ok := products[id]
			if !ok || !p.Purchasable() {
				return fmt.Errorf("%w: %s", ErrProductNotFound, id)
			}
			st, err := e.lockStock(ctx, tx, id)
			if err != nil {
				return err
			}
			if st.Quantity < qty[id] {
				return &StockError{ProductID: id, Requested: qty[id], Available: st.Quantity}
			}
		}

		now := e.now().UTC()
		o := Order{
			ID:            e.newID(),
			Number:        e.newNumber(now),
			Status:        status,
			UserID:        in.UserID,
			PaymentMethod: method,
			Address:       in.Address,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		o.Items = e.priceItems(o.ID, inputs, products)
		totals, err := CalculateTotals(linesOf(o.Items), in.Shipping, in.Discount)
		if err != nil {
			return err
		}
		o.applyTotals(totals)
		if err := tx.InsertOrder(ctx, o); err != nil {
			return err
		}
		out = o
		return nil
	})
	if err != nil {
		e.logFailure(ctx, "create", "", err)
		return Order{}, err
	}

	e.logger(ctx).Info().Str("order_id", out.ID).Str("order_number", out.Number).Str("status", string(out.Status)).Msg("order created")
	e.notify(ctx, out, "")
	return out, nil
}

// TransitionStatus moves an order along one edge of the transition table and
// applies that edge's inventory effect in the same transaction.
func (e *Engine) TransitionStatus(ctx context.Context, orderID string, target Status) (out Order, err error) {
	ctx, span := tracer.Start(ctx, "orders.TransitionStatus", trace.WithAttributes(
		attribute.String("order.id", orderID),
		attribute.String("order.target_status", string(target)),
	))
	defer func() { endSpan(span, err) }()

	if _, err := ParseStatus(string(target)); err != nil {
		return Order{}, err
	}

	var previous Status
	err = e.inTx(ctx, "transition", func(ctx context.Context, tx Tx) error {
		snap, err := tx.LoadOrderWithItemsAndInventory(ctx, orderID)
		if err != nil {
			return err
		}
		o := snap.Order
		previous = o.Status

		eff, ok := lookupTransition(o.Status, target)
		if !ok {
			return &TransitionError{From: o.Status, To: target}
		}
		if err := e.applyEffect(ctx, tx, eff, o.Items); err != nil {
			return err
		}

		now := e.now().UTC()
		if err := tx.UpdateOrderStatus(ctx, o.ID, target, now); err != nil {
			return err
		}
		o.Status = target
		o.UpdatedAt = now
		out = o
		return nil
	})
	e.metrics.Transition(string(previous), string(target), resultLabel(err))
	if err != nil {
		e.logFailure(ctx, "transition", orderID, err)
		return Order{}, err
	}

	e.logger(ctx).Info().Str("order_id", out.ID).Str("from", string(previous)).Str("to", string(target)).Msg("order status changed")
	e.notify(ctx, out, previous)
	return out, nil
}

// ArchiveOrder soft-deletes an order in a terminal status.
func (e *Engine) ArchiveOrder(ctx context.Context, orderID string) (err error) {
	ctx, span := tracer.Start(ctx, "orders.ArchiveOrder", trace.WithAttributes(attribute.String("order.id", orderID)))
	defer func() { endSpan(span, err) }()

	err = e.inTx(ctx, "archive", func(ctx context.Context, tx Tx) error {
		o, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if !o.Status.IsTerminal() {
			return fmt.Errorf("%w: order %s is %s", ErrOrderNotArchivable, o.ID, o.Status)
		}
		return tx.ArchiveOrder(ctx, o.ID, e.now().UTC())
	})
	if err != nil {
		e.logFailure(ctx, "archive", orderID, err)
		return err
	}
	e.logger(ctx).Info().Str("order_id", orderID).Msg("order archived")
	return nil
}

// GetOrder looks an order up by id or order number. Archived orders are not returned.
func (e *Engine) GetOrder(ctx context.Context, idOrNumber string) (Order, error) {
	key := strings.TrimSpace(idOrNumber)
	if key == "" {
		return Order{}, invalidInput("order id is required")
	}
	return e.store.FindOrder(ctx, key)
}

func (e *Engine) ListOrders(ctx context.Context, q ListOrdersQuery) (OrderPage, error) {
	if q.Status != "" {
		if _, err := ParseStatus(string(q.Status)); err != nil {
			return OrderPage{}, err
		}
	}
	if q.Page < 1 {
		q.Page = 1
	}
	switch {
	case q.Limit <= 0:
		q.Limit = defaultPageSize
	case q.Limit > maxPageSize:
		q.Limit = maxPageSize
	}
	q.UserID = strings.TrimSpace(q.UserID)
	q.Search = strings.TrimSpace(q.Search)

	list, total, err := e.store.ListOrders(ctx, q)
	if err != nil {
		return OrderPage{}, err
	}
	if list == nil {
		list = []Order{}
	}
	return OrderPage{
		Orders:     list,
		Page:       q.Page,
		Limit:      q.Limit,
		Total:      total,
		TotalPages: (total + q.Limit - 1) / q.Limit,
	}, nil
}

// PurgeTerminalOrders hard-deletes orders that reached a terminal status at or
// before the cutoff.
func (e *Engine) PurgeTerminalOrders(ctx context.Context, before time.Time) (int, error) {
	n, err := e.store.PurgeTerminalOrders(ctx, before)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		e.logger(ctx).Info().Int("purged", n).Time("before", before).Msg("terminal orders purged")
	}
	return n, nil
}

func (e *Engine) applyEffect(ctx context.Context, tx Tx, eff effect, items []Item) error {
	if eff == effectNone {
		return nil
	}
	qty, ids := quantitiesByProduct(items)
	for _, id := range ids {
		var err error
		switch eff {
		case effectReserve:
			err = e.reserve(ctx, tx, id, qty[id])
		case effectRelease:
			_, err = e.ledger.Release(ctx, tx, id, qty[id])
		case effectConsume:
			_, err = e.ledger.Consume(ctx, tx, id, qty[id])
		case effectReserveConsume:
			if err = e.reserve(ctx, tx, id, qty[id]); err == nil {
				_, err = e.ledger.Consume(ctx, tx, id, qty[id])
			}
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// reserve treats a product without an inventory row as having nothing to sell.
func (e *Engine) reserve(ctx context.Context, tx Tx, productID string, qty int) error {
	_, err := e.ledger.Reserve(ctx, tx, productID, qty)
	if errors.Is(err, inventory.ErrStockNotFound) {
		return &StockError{ProductID: productID, Requested: qty, Available: 0}
	}
	return err
}

func (e *Engine) lockStock(ctx context.Context, tx Tx, productID string) (inventory.Stock, error) {
	st, err := tx.LockStock(ctx, productID)
	if errors.Is(err, inventory.ErrStockNotFound) {
		return inventory.Stock{ProductID: productID}, nil
	}
	return st, err
}

func (e *Engine) priceItems(orderID string, inputs []ItemInput, products map[string]Product) []Item {
	items := make([]Item, 0, len(inputs))
	for _, in := range inputs {
		price := products[in.ProductID].Price
		items = append(items, Item{
			ID:        e.newID(),
			OrderID:   orderID,
			ProductID: in.ProductID,
			Quantity:  in.Quantity,
			Price:     price,
			Total:     price.Mul(decimal.NewFromInt(int64(in.Quantity))),
		})
	}
	return items
}

// logger prefers a request-scoped logger carried on ctx.
func (e *Engine) logger(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &e.log
}

func (e *Engine) logFailure(ctx context.Context, op, orderID string, err error) {
	ev := e.logger(ctx).Error()
	if IsBusinessError(err) {
		ev = e.logger(ctx).Warn()
	}
	ev.Err(err).Str("op", op).Str("order_id", orderID).Msg("order operation rejected")
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid"
	case errors.Is(err, ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrTransactionConflict):
		return "conflict"
	default:
		return "error"
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
