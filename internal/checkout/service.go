package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/openmartlabs/openmart-backend/internal/cart"
	"github.com/openmartlabs/openmart-backend/internal/catalog"
	"github.com/openmartlabs/openmart-backend/internal/idempotency"
	"github.com/openmartlabs/openmart-backend/internal/inventory"
	"github.com/openmartlabs/openmart-backend/internal/orders"
	"github.com/openmartlabs/openmart-backend/internal/payments"
	"github.com/openmartlabs/openmart-backend/pkg/config"
	"github.com/openmartlabs/openmart-backend/pkg/db/models"
	"github.com/openmartlabs/openmart-backend/pkg/enums"
	pkgerrors "github.com/openmartlabs/openmart-backend/pkg/errors"
	"github.com/openmartlabs/openmart-backend/pkg/logger"
	"github.com/openmartlabs/openmart-backend/pkg/metrics"
	"github.com/openmartlabs/openmart-backend/pkg/outbox"
	"github.com/openmartlabs/openmart-backend/pkg/types"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type stockLedger interface {
	Reserve(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, requests []inventory.ReserveRequest) ([]inventory.ReserveResult, error)
	DeductOnHand(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, lines []inventory.Line) error
}

type orderCanceller interface {
	Cancel(ctx context.Context, id uuid.UUID, actor orders.Actor, reason string) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type providerRegistry interface {
	ForMethod(method enums.PaymentMethod) (payments.Provider, error)
}

// Request is one checkout attempt against the caller's active cart.
type Request struct {
	PaymentMethod   enums.PaymentMethod
	ShippingAddress types.Address
	GuestEmail      *string
	ClientIP        string
	// IdempotencyKey scopes retry protection: the same key replays the
	// first result instead of creating a second order.
	IdempotencyKey string
	// ExpectedUnitPrices pins the prices the buyer saw. Checkout rejects
	// with the drifted variants when the live catalog disagrees.
	ExpectedUnitPrices map[uuid.UUID]int64
}

// Result tells the client how to continue after the order was created.
type Result struct {
	Order      *orders.View `json:"order"`
	PaymentURL string       `json:"paymentUrl,omitempty"`
	FlowStatus string       `json:"flowStatus"`
}

const (
	// FlowRedirect means the buyer must visit PaymentURL to pay.
	FlowRedirect = "redirect"
	// FlowConfirmed means the order confirmed without an online payment.
	FlowConfirmed = "confirmed"
)

// ServiceParams wires the checkout orchestrator.
type ServiceParams struct {
	CartRepo          cart.Repository
	CatalogRepo       catalog.Repository
	OrdersRepo        orders.Repository
	Orders            orderCanceller
	Ledger            stockLedger
	Providers         providerRegistry
	Outbox            outboxEmitter
	TransactionRunner txRunner
	Idempotency       *idempotency.Coordinator
	Metrics           *metrics.CheckoutMetrics
	Config            config.CheckoutConfig
	Payments          config.PaymentsConfig
	Logger            *logger.Logger
}

// Service converts a cart into an order: it re-prices every line from the
// live catalog, soft-locks stock, and initiates payment. The inventory
// guard rides inside the reservation UPDATE, so an oversold line rolls the
// whole checkout back.
type Service struct {
	cartRepo   cart.Repository
	catalog    catalog.Repository
	ordersRepo orders.Repository
	orders     orderCanceller
	ledger     stockLedger
	registry   providerRegistry
	outbox     outboxEmitter
	txRunner   txRunner
	idem       *idempotency.Coordinator
	metrics    *metrics.CheckoutMetrics
	cfg        config.CheckoutConfig
	payCfg     config.PaymentsConfig
	logg       *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.CartRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "cart repo required")
	}
	if params.CatalogRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "catalog repo required")
	}
	if params.OrdersRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "orders repo required")
	}
	if params.Orders == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "orders service required")
	}
	if params.Ledger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "inventory ledger required")
	}
	if params.Providers == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "provider registry required")
	}
	if params.Outbox == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox required")
	}
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{
		cartRepo:   params.CartRepo,
		catalog:    params.CatalogRepo,
		ordersRepo: params.OrdersRepo,
		orders:     params.Orders,
		ledger:     params.Ledger,
		registry:   params.Providers,
		outbox:     params.Outbox,
		txRunner:   params.TransactionRunner,
		idem:       params.Idempotency,
		metrics:    params.Metrics,
		cfg:        params.Config,
		payCfg:     params.Payments,
		logg:       params.Logger,
	}, nil
}

// Execute runs the checkout. On success the cart is converted and cannot
// be checked out again; on any failure the cart stays untouched. A
// client idempotency key pins the whole run: a retry with the same key
// replays the first order instead of creating a second one, and a retry
// racing the original gets OPERATION_IN_PROGRESS.
func (s *Service) Execute(ctx context.Context, owner types.Owner, req Request) (*Result, error) {
	if s.idem == nil || req.IdempotencyKey == "" {
		return s.execute(ctx, owner, req)
	}
	key := ownerKey(owner) + ":" + req.IdempotencyKey
	result, replayed, err := idempotency.Execute(ctx, s.idem, "checkout.create", key, s.idemOptions(),
		func(ctx context.Context) (*Result, error) {
			return s.execute(ctx, owner, req)
		})
	if err != nil {
		return nil, err
	}
	if replayed {
		s.logg.Info(s.logg.WithOrderID(ctx, result.Order.ID.String()), "checkout replayed")
	}
	return result, nil
}

func (s *Service) execute(ctx context.Context, owner types.Owner, req Request) (*Result, error) {
	if owner.IsZero() {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "checkout identity missing")
	}
	if !req.PaymentMethod.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown payment method")
	}
	if owner.IsGuest() && (req.GuestEmail == nil || *req.GuestEmail == "") {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "guest checkout requires an email")
	}
	provider, err := s.registry.ForMethod(req.PaymentMethod)
	if err != nil {
		return nil, err
	}

	var (
		order   *models.Order
		payTxn  *models.PaymentTransaction
		cartRec *models.Cart
	)
	err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		cartRepo := s.cartRepo.WithTx(tx)
		catalogRepo := s.catalog.WithTx(tx)
		ordersRepo := s.ordersRepo.WithTx(tx)

		var err error
		cartRec, err = cartRepo.FindActiveByOwner(ctx, owner)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeEmptyCart, "no active cart")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
		}
		if len(cartRec.Lines) == 0 {
			return pkgerrors.New(pkgerrors.CodeEmptyCart, "cart has no lines")
		}

		lines, subTotal, err := s.priceLines(ctx, catalogRepo, cartRec, req.ExpectedUnitPrices)
		if err != nil {
			return err
		}

		order = s.buildOrder(owner, req, lines, subTotal)
		if err := s.lockStock(ctx, tx, order); err != nil {
			return err
		}
		if err := ordersRepo.Create(ctx, order); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
		}

		payTxn = &models.PaymentTransaction{
			OrderID:     order.ID,
			Type:        enums.TransactionTypePayment,
			Status:      enums.TransactionStatusPending,
			Provider:    provider.Name(),
			AmountCents: order.TotalCents,
			Currency:    order.Currency,
		}
		if err := ordersRepo.CreateTransaction(ctx, payTxn); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payment transaction")
		}

		if err := ordersRepo.AppendTimeline(ctx, &models.OrderTimelineEntry{
			OrderID:     order.ID,
			ToStatus:    order.Status,
			Actor:       enums.TimelineActorBuyer,
			Description: fmt.Sprintf("order created, paying by %s", req.PaymentMethod),
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append timeline")
		}

		if err := cartRepo.UpdateStatus(ctx, cartRec.ID, enums.CartStatusConverted); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "convert cart")
		}

		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         &outbox.ActorRef{Kind: enums.TimelineActorBuyer.String(), SessionID: owner.SessionID},
			Data: map[string]any{
				"orderId":       order.ID,
				"code":          order.Code,
				"status":        order.Status,
				"paymentMethod": order.PaymentMethod,
				"totalCents":    order.TotalCents,
				"currency":      order.Currency,
			},
		}); err != nil {
			return err
		}

		if req.PaymentMethod == enums.PaymentMethodCOD {
			return s.confirmOffline(ctx, tx, ordersRepo, order, payTxn)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.IncOrderCreated(req.PaymentMethod.String())

	// The provider call stays outside the transaction; a slow gateway must
	// not hold row locks, and a failed initiation compensates explicitly.
	created, err := provider.CreatePayment(ctx, payments.CreateRequest{
		OrderID:     order.ID,
		OrderCode:   order.Code,
		AmountCents: order.TotalCents,
		Currency:    order.Currency,
		Description: fmt.Sprintf("order %s", order.Code),
		ClientIP:    req.ClientIP,
	})
	if err != nil {
		s.compensate(ctx, order.ID, err)
		return nil, pkgerrors.Wrap(pkgerrors.CodeProvider, err, "initiate payment")
	}
	if created.TransactionCode != "" {
		if err := s.ordersRepo.AttachTransactionCode(ctx, payTxn.ID, created.TransactionCode); err != nil {
			s.logg.Error(ctx, "attach transaction code", err)
		}
	}

	final, err := s.ordersRepo.FindByID(ctx, order.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload order")
	}

	result := &Result{Order: orders.NewView(final), FlowStatus: FlowRedirect}
	if created.Offline {
		result.FlowStatus = FlowConfirmed
	} else {
		result.PaymentURL = created.PaymentURL
	}
	s.logg.Info(s.logg.WithOrderID(ctx, order.ID.String()), "checkout completed")
	return result, nil
}

// priceLines snapshots order lines from the live catalog. Cart snapshots
// and the buyer's pinned prices are both checked against it; any drift
// aborts the checkout with the offending variants.
func (s *Service) priceLines(ctx context.Context, catalogRepo catalog.Repository, cartRec *models.Cart, pinned map[uuid.UUID]int64) ([]models.OrderLine, int64, error) {
	ids := make([]uuid.UUID, 0, len(cartRec.Lines))
	for _, line := range cartRec.Lines {
		ids = append(ids, line.VariantID)
	}
	variants, err := catalogRepo.FindVariantsByIDs(ctx, ids)
	if err != nil {
		return nil, 0, err
	}

	var drifted []map[string]any
	var inactive []uuid.UUID
	lines := make([]models.OrderLine, 0, len(cartRec.Lines))
	var subTotal int64

	for _, cartLine := range cartRec.Lines {
		variant, ok := variants[cartLine.VariantID]
		if !ok || !variant.Purchasable() {
			inactive = append(inactive, cartLine.VariantID)
			continue
		}
		expected := cartLine.UnitPriceCentsSnap
		if pin, ok := pinned[cartLine.VariantID]; ok {
			expected = pin
		}
		if variant.PriceCents != expected {
			drifted = append(drifted, map[string]any{
				"variantId":     cartLine.VariantID,
				"expectedCents": expected,
				"currentCents":  variant.PriceCents,
			})
			continue
		}
		total := variant.PriceCents * int64(cartLine.Quantity)
		subTotal += total
		lines = append(lines, models.OrderLine{
			VariantID:      variant.ID,
			SKU:            variant.SKU,
			Name:           variant.Name,
			ImageURL:       variant.ImageURL,
			UnitPriceCents: variant.PriceCents,
			Quantity:       cartLine.Quantity,
			TotalCents:     total,
		})
	}

	if len(inactive) > 0 {
		return nil, 0, pkgerrors.New(pkgerrors.CodeValidation, "cart contains unavailable variants").
			WithDetails(map[string]any{"variantIds": inactive})
	}
	if len(drifted) > 0 {
		return nil, 0, pkgerrors.New(pkgerrors.CodePriceChanged, "prices changed since the cart was priced").
			WithDetails(map[string]any{"variants": drifted})
	}
	return lines, subTotal, nil
}

func (s *Service) buildOrder(owner types.Owner, req Request, lines []models.OrderLine, subTotal int64) *models.Order {
	address := req.ShippingAddress
	order := &models.Order{
		ID:              uuid.New(),
		Code:            newOrderCode(),
		UserID:          owner.UserID,
		GuestEmail:      req.GuestEmail,
		Status:          enums.OrderStatusPendingPayment,
		PaymentStatus:   enums.PaymentStatusUnpaid,
		PaymentMethod:   req.PaymentMethod,
		SubTotalCents:   subTotal,
		ShippingCents:   s.cfg.ShippingFeeCents,
		TotalCents:      subTotal + s.cfg.ShippingFeeCents,
		Currency:        s.cfg.Currency,
		ShippingAddress: &address,
		Lines:           lines,
	}
	if owner.SessionID != "" {
		sid := owner.SessionID
		order.SessionID = &sid
	}
	if req.PaymentMethod.RequiresDeadline() {
		deadline := time.Now().Add(s.cfg.ReservationTTL)
		order.PaymentDeadline = &deadline
		reservation := &models.Reservation{
			Status:    enums.ReservationStatusActive,
			ExpiresAt: deadline,
		}
		for _, line := range lines {
			reservation.Lines = append(reservation.Lines, models.ReservationLine{
				VariantID:   line.VariantID,
				WarehouseID: s.cfg.DefaultWarehouseID,
				Quantity:    line.Quantity,
			})
		}
		order.Reservation = reservation
	}
	return order
}

// lockStock takes the inventory side of the checkout: a soft-lock for
// gateway methods, a direct deduction for cash on delivery.
func (s *Service) lockStock(ctx context.Context, tx *gorm.DB, order *models.Order) error {
	if order.PaymentMethod == enums.PaymentMethodCOD {
		lines := make([]inventory.Line, 0, len(order.Lines))
		for _, line := range order.Lines {
			lines = append(lines, inventory.Line{
				VariantID:   line.VariantID,
				WarehouseID: s.cfg.DefaultWarehouseID,
				Qty:         line.Quantity,
			})
		}
		return s.ledger.DeductOnHand(ctx, tx, order.ID, lines)
	}

	requests := make([]inventory.ReserveRequest, 0, len(order.Lines))
	for _, line := range order.Lines {
		requests = append(requests, inventory.ReserveRequest{
			LineID:      line.ID,
			VariantID:   line.VariantID,
			WarehouseID: s.cfg.DefaultWarehouseID,
			Qty:         line.Quantity,
		})
	}
	results, err := s.ledger.Reserve(ctx, tx, order.ID, requests)
	if err != nil {
		return err
	}
	var failures []map[string]any
	for _, result := range results {
		if !result.Reserved {
			failures = append(failures, map[string]any{
				"variantId": result.VariantID,
				"reason":    result.Reason,
			})
		}
	}
	if len(failures) > 0 {
		return pkgerrors.New(pkgerrors.CodeInsufficientStock, "insufficient stock for checkout").
			WithDetails(map[string]any{"lines": failures})
	}
	return nil
}

// confirmOffline settles a cash-on-delivery order inside the creation
// transaction: stock is already deducted, so the order confirms now and
// the cash settles with the courier.
func (s *Service) confirmOffline(ctx context.Context, tx *gorm.DB, ordersRepo orders.Repository, order *models.Order, payTxn *models.PaymentTransaction) error {
	now := time.Now()
	moved, err := ordersRepo.TransitionStatus(ctx, order.ID, enums.OrderStatusPendingPayment, enums.OrderStatusConfirmed, map[string]any{
		"confirmed_at":   &now,
		"payment_status": enums.PaymentStatusPaid,
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "confirm cod order")
	}
	if !moved {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "cod order left pending state")
	}
	order.Status = enums.OrderStatusConfirmed
	order.PaymentStatus = enums.PaymentStatusPaid

	response := "settled with courier on delivery"
	if err := ordersRepo.CompleteTransaction(ctx, payTxn.ID, enums.TransactionStatusSuccess, nil, &response); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "settle cod transaction")
	}

	fromStatus := enums.OrderStatusPendingPayment
	if err := ordersRepo.AppendTimeline(ctx, &models.OrderTimelineEntry{
		OrderID:     order.ID,
		FromStatus:  &fromStatus,
		ToStatus:    enums.OrderStatusConfirmed,
		Actor:       enums.TimelineActorSystem,
		Description: "cash on delivery, confirmed at checkout",
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append timeline")
	}

	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderConfirmed,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         &outbox.ActorRef{Kind: enums.TimelineActorSystem.String()},
		Data: map[string]any{
			"orderId":       order.ID,
			"code":          order.Code,
			"status":        enums.OrderStatusConfirmed,
			"paymentMethod": order.PaymentMethod,
			"totalCents":    order.TotalCents,
			"currency":      order.Currency,
		},
	})
}

// compensate rolls a created order back after payment initiation failed.
func (s *Service) compensate(ctx context.Context, orderID uuid.UUID, cause error) {
	reason := fmt.Sprintf("payment initiation failed: %s", cause)
	if err := s.orders.Cancel(ctx, orderID, orders.SystemActor(enums.TimelineActorSystem), reason); err != nil {
		s.logg.Error(s.logg.WithOrderID(ctx, orderID.String()), "compensating cancel failed", err)
	}
}

func (s *Service) idemOptions() idempotency.Options {
	resultTTL := s.payCfg.CreateTTL
	if resultTTL <= 0 {
		resultTTL = 24 * time.Hour
	}
	lockTTL := s.payCfg.LockTTL
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}
	return idempotency.Options{ResultTTL: resultTTL, LockTTL: lockTTL}
}

// ownerKey namespaces idempotency keys per caller, so two buyers using
// the same key never collide.
func ownerKey(owner types.Owner) string {
	if owner.UserID != nil {
		return owner.UserID.String()
	}
	if owner.SessionID != "" {
		return owner.SessionID
	}
	return "anonymous"
}

// newOrderCode mints a human-readable unique order code.
func newOrderCode() string {
	return fmt.Sprintf("OM-%s-%s",
		time.Now().UTC().Format("20060102"),
		strings.ToUpper(uuid.NewString()[:8]))
}
