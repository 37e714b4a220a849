package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/openmartlabs/openmart-backend/internal/idempotency"
	"github.com/openmartlabs/openmart-backend/internal/inventory"
	"github.com/openmartlabs/openmart-backend/internal/payments"
	"github.com/openmartlabs/openmart-backend/pkg/config"
	"github.com/openmartlabs/openmart-backend/pkg/db/models"
	dbtypes "github.com/openmartlabs/openmart-backend/pkg/db/types"
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
	CommitSale(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, lines []inventory.Line) error
	ReleaseHold(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, lines []inventory.Line) error
	Restock(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, lines []inventory.Line) error
}

type providerRegistry interface {
	ForMethod(method enums.PaymentMethod) (payments.Provider, error)
	ForName(name string) (payments.Provider, error)
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// ServiceParams wires the order lifecycle service. Idempotency is
// optional; without it buyer cancels and refunds run unguarded, which
// only background callers like the sweeper should do.
type ServiceParams struct {
	Repo              Repository
	TransactionRunner txRunner
	Ledger            stockLedger
	Providers         providerRegistry
	Outbox            outboxEmitter
	Idempotency       *idempotency.Coordinator
	Metrics           *metrics.CheckoutMetrics
	Config            config.CheckoutConfig
	Payments          config.PaymentsConfig
	Logger            *logger.Logger
}

// Service drives the order state machine. Every transition is a
// compare-and-swap plus its inventory and payment side effects in one
// transaction, so replays and races collapse into no-ops.
type Service struct {
	repo     Repository
	txRunner txRunner
	ledger   stockLedger
	registry providerRegistry
	outbox   outboxEmitter
	idem     *idempotency.Coordinator
	metrics  *metrics.CheckoutMetrics
	cfg      config.CheckoutConfig
	payCfg   config.PaymentsConfig
	logg     *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "orders repo required")
	}
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
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
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{
		repo:     params.Repo,
		txRunner: params.TransactionRunner,
		ledger:   params.Ledger,
		registry: params.Providers,
		outbox:   params.Outbox,
		idem:     params.Idempotency,
		metrics:  params.Metrics,
		cfg:      params.Config,
		payCfg:   params.Payments,
		logg:     params.Logger,
	}, nil
}

// Get returns the order if it belongs to the caller.
func (s *Service) Get(ctx context.Context, owner types.Owner, id uuid.UUID) (*View, error) {
	order, err := s.loadOwned(ctx, s.repo, owner, id)
	if err != nil {
		return nil, err
	}
	return NewView(order), nil
}

// List returns the caller's order history, newest first.
func (s *Service) List(ctx context.Context, owner types.Owner, limit, offset int) ([]View, error) {
	if owner.IsZero() {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "order owner identity missing")
	}
	records, err := s.repo.ListByOwner(ctx, owner, limit, offset)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}
	views := make([]View, 0, len(records))
	for i := range records {
		views = append(views, *NewView(&records[i]))
	}
	return views, nil
}

// GetStatus is the polling endpoint behind the payment waiting page.
func (s *Service) GetStatus(ctx context.Context, owner types.Owner, id uuid.UUID) (*StatusView, error) {
	order, err := s.loadOwned(ctx, s.repo, owner, id)
	if err != nil {
		return nil, err
	}

	view := &StatusView{
		OrderID:         order.ID,
		Code:            order.Code,
		Status:          order.Status,
		PaymentStatus:   order.PaymentStatus,
		PaymentDeadline: order.PaymentDeadline,
		CancelReason:    order.CancelReason,
	}
	if order.Status == enums.OrderStatusPendingPayment && order.PaymentDeadline != nil {
		remaining := time.Until(*order.PaymentDeadline)
		if remaining > 0 {
			view.RemainingSeconds = int64(remaining.Seconds())
			view.CanPay = true
		}
		view.CanCancel = true
	}
	return view, nil
}

// Timeline returns the audit trail for one order.
func (s *Service) Timeline(ctx context.Context, id uuid.UUID) ([]TimelineEntryView, error) {
	entries, err := s.repo.Timeline(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load timeline")
	}
	views := make([]TimelineEntryView, 0, len(entries))
	for _, entry := range entries {
		views = append(views, TimelineEntryView{
			FromStatus:  entry.FromStatus,
			ToStatus:    entry.ToStatus,
			Actor:       entry.Actor,
			Description: entry.Description,
			CreatedAt:   entry.CreatedAt,
		})
	}
	return views, nil
}

// Confirm moves a pending order to confirmed: held stock becomes sold,
// the reservation closes, and the pending transaction completes. Calling
// it on an already confirmed order is a no-op.
func (s *Service) Confirm(ctx context.Context, id uuid.UUID, actor Actor, completion *PaymentCompletion) error {
	err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.FindByID(ctx, id)
		if err != nil {
			return s.mapLoadErr(err)
		}
		if order.Status == enums.OrderStatusConfirmed {
			return nil
		}
		if !order.Status.CanTransitionTo(enums.OrderStatusConfirmed) {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order cannot be confirmed").
				WithDetails(map[string]any{"status": order.Status})
		}

		now := time.Now()
		moved, err := repo.TransitionStatus(ctx, id, order.Status, enums.OrderStatusConfirmed, map[string]any{
			"payment_status": enums.PaymentStatusPaid,
			"confirmed_at":   &now,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "confirm order")
		}
		if !moved {
			// Lost the race; the winner either confirmed or cancelled.
			current, err := repo.FindByID(ctx, id)
			if err != nil {
				return s.mapLoadErr(err)
			}
			if current.Status == enums.OrderStatusConfirmed {
				return nil
			}
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order cannot be confirmed").
				WithDetails(map[string]any{"status": current.Status})
		}

		if order.Reservation != nil && order.Reservation.Status == enums.ReservationStatusActive {
			if err := s.ledger.CommitSale(ctx, tx, order.ID, reservationLines(order.Reservation)); err != nil {
				return err
			}
			if _, err := repo.TransitionReservation(ctx, order.ID, enums.ReservationStatusActive, enums.ReservationStatusConfirmed); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "close reservation")
			}
		}

		if err := s.completePayment(ctx, repo, order, completion); err != nil {
			return err
		}

		fromStatus := order.Status
		if err := repo.AppendTimeline(ctx, &models.OrderTimelineEntry{
			OrderID:     order.ID,
			FromStatus:  &fromStatus,
			ToStatus:    enums.OrderStatusConfirmed,
			Actor:       actor.Kind,
			Description: "payment received, order confirmed",
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append timeline")
		}

		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderConfirmed,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         actorRef(actor),
			Data: orderEventData{
				OrderID:       order.ID,
				Code:          order.Code,
				Status:        enums.OrderStatusConfirmed,
				PaymentMethod: order.PaymentMethod.String(),
				TotalCents:    order.TotalCents,
				Currency:      order.Currency,
			},
		}); err != nil {
			return err
		}
		paymentData := paymentEventData{
			OrderID:     order.ID,
			Code:        order.Code,
			AmountCents: order.TotalCents,
		}
		if completion != nil {
			paymentData.TransactionCode = completion.TransactionCode
			paymentData.AmountCents = completion.AmountCents
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentSucceeded,
			AggregateType: enums.AggregatePayment,
			AggregateID:   order.ID,
			Actor:         actorRef(actor),
			Data:          paymentData,
		})
	})
	if err != nil {
		return err
	}
	s.metrics.IncTransition(enums.OrderStatusConfirmed.String())
	s.logg.Info(s.logg.WithOrderID(ctx, id.String()), "order confirmed")
	return nil
}

// Cancel closes a pending order and returns its held stock. Already
// cancelled orders are a no-op; confirmed orders refuse. Buyer cancels
// run under the coordinator so a double-submit cannot race two of them;
// system callers (sweeper, compensation) go straight through.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, actor Actor, reason string) error {
	if s.idem == nil || actor.Kind != enums.TimelineActorBuyer {
		return s.cancel(ctx, id, actor, reason)
	}
	_, _, err := idempotency.Execute(ctx, s.idem, "orders.cancel", id.String(), s.idemOptions(s.payCfg.CreateTTL),
		func(ctx context.Context) (struct{}, error) {
			return struct{}{}, s.cancel(ctx, id, actor, reason)
		})
	return err
}

func (s *Service) cancel(ctx context.Context, id uuid.UUID, actor Actor, reason string) error {
	err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.FindByID(ctx, id)
		if err != nil {
			return s.mapLoadErr(err)
		}
		if err := s.checkOwnership(order, actor); err != nil {
			return err
		}
		if order.Status == enums.OrderStatusCancelled {
			return nil
		}
		if !order.Status.CanTransitionTo(enums.OrderStatusCancelled) {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order cannot be cancelled").
				WithDetails(map[string]any{"status": order.Status})
		}

		now := time.Now()
		moved, err := repo.TransitionStatus(ctx, id, order.Status, enums.OrderStatusCancelled, map[string]any{
			"cancel_reason": reason,
			"cancelled_at":  &now,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel order")
		}
		if !moved {
			current, err := repo.FindByID(ctx, id)
			if err != nil {
				return s.mapLoadErr(err)
			}
			if current.Status == enums.OrderStatusCancelled {
				return nil
			}
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order cannot be cancelled").
				WithDetails(map[string]any{"status": current.Status})
		}

		reservationEvent := enums.EventReservationReleased
		reservationTarget := enums.ReservationStatusReleased
		if actor.Kind == enums.TimelineActorSweeper {
			reservationEvent = enums.EventReservationExpired
			reservationTarget = enums.ReservationStatusExpired
		}

		if order.Reservation != nil && order.Reservation.Status == enums.ReservationStatusActive {
			if err := s.ledger.ReleaseHold(ctx, tx, order.ID, reservationLines(order.Reservation)); err != nil {
				return err
			}
			if _, err := repo.TransitionReservation(ctx, order.ID, enums.ReservationStatusActive, reservationTarget); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "close reservation")
			}
			if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     reservationEvent,
				AggregateType: enums.AggregateReservation,
				AggregateID:   order.Reservation.ID,
				Actor:         actorRef(actor),
				Data: reservationEventData{
					OrderID:       order.ID,
					ReservationID: order.Reservation.ID,
					Reason:        reason,
				},
			}); err != nil {
				return err
			}
		}

		if err := repo.FailPendingTransactions(ctx, order.ID, reason); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fail pending transactions")
		}
		if actor.Kind == enums.TimelineActorGateway {
			if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventPaymentFailed,
				AggregateType: enums.AggregatePayment,
				AggregateID:   order.ID,
				Actor:         actorRef(actor),
				Data: paymentEventData{
					OrderID:     order.ID,
					Code:        order.Code,
					AmountCents: order.TotalCents,
					Reason:      reason,
				},
			}); err != nil {
				return err
			}
		}

		fromStatus := order.Status
		if err := repo.AppendTimeline(ctx, &models.OrderTimelineEntry{
			OrderID:     order.ID,
			FromStatus:  &fromStatus,
			ToStatus:    enums.OrderStatusCancelled,
			Actor:       actor.Kind,
			Description: reason,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append timeline")
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCancelled,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         actorRef(actor),
			Data: orderEventData{
				OrderID:       order.ID,
				Code:          order.Code,
				Status:        enums.OrderStatusCancelled,
				PaymentMethod: order.PaymentMethod.String(),
				TotalCents:    order.TotalCents,
				Currency:      order.Currency,
				Reason:        reason,
			},
		})
	})
	if err != nil {
		return err
	}
	s.metrics.IncTransition(enums.OrderStatusCancelled.String())
	s.logg.Info(s.logg.WithOrderID(ctx, id.String()), "order cancelled")
	return nil
}

// Refund returns the captured payment for a confirmed order. The whole
// operation runs under the idempotency coordinator keyed by order id, so
// two concurrent refund requests cannot both reach the provider.
func (s *Service) Refund(ctx context.Context, id uuid.UUID, actor Actor, reason string) error {
	if s.idem == nil {
		return s.refund(ctx, id, actor, reason)
	}
	_, _, err := idempotency.Execute(ctx, s.idem, "orders.refund", id.String(), s.idemOptions(s.payCfg.CallbackTTL),
		func(ctx context.Context) (struct{}, error) {
			return struct{}{}, s.refund(ctx, id, actor, reason)
		})
	return err
}

// refund does the work: record the attempt, call the provider outside the
// transaction, then settle the state machine. The pending refund row
// leaves evidence if we crash between the two.
func (s *Service) refund(ctx context.Context, id uuid.UUID, actor Actor, reason string) error {
	order, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return s.mapLoadErr(err)
	}
	if order.Status == enums.OrderStatusRefunded {
		return nil
	}
	if !order.Status.CanTransitionTo(enums.OrderStatusRefunded) {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "only confirmed orders can be refunded").
			WithDetails(map[string]any{"status": order.Status})
	}

	payment, err := s.repo.SuccessfulTransaction(ctx, order.ID, enums.TransactionTypePayment)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "no successful payment to refund")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment transaction")
	}
	if _, err := s.repo.SuccessfulTransaction(ctx, order.ID, enums.TransactionTypeRefund); err == nil {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "order already refunded")
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load refund transaction")
	}

	provider, err := s.registry.ForMethod(order.PaymentMethod)
	if err != nil {
		return err
	}

	refundTxn := &models.PaymentTransaction{
		OrderID:     order.ID,
		Type:        enums.TransactionTypeRefund,
		Status:      enums.TransactionStatusPending,
		Provider:    provider.Name(),
		AmountCents: payment.AmountCents,
		Currency:    order.Currency,
	}
	if err := s.repo.CreateTransaction(ctx, refundTxn); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record refund attempt")
	}

	refundReq := payments.RefundRequest{
		OrderID:     order.ID,
		OrderCode:   order.Code,
		AmountCents: payment.AmountCents,
		Currency:    order.Currency,
		Reason:      reason,
	}
	if payment.TransactionCode != nil {
		refundReq.TransactionCode = *payment.TransactionCode
	}
	refund, err := provider.Refund(ctx, refundReq)
	if err != nil {
		detail := err.Error()
		if failErr := s.repo.CompleteTransaction(ctx, refundTxn.ID, enums.TransactionStatusFailed, nil, &detail); failErr != nil {
			s.logg.Error(ctx, "mark refund failed", failErr)
		}
		return err
	}

	err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		now := time.Now()
		moved, err := repo.TransitionStatus(ctx, order.ID, enums.OrderStatusConfirmed, enums.OrderStatusRefunded, map[string]any{
			"payment_status": enums.PaymentStatusRefunded,
			"refunded_at":    &now,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "refund order")
		}
		if !moved {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order left confirmed state during refund")
		}

		code := refund.TransactionCode
		if err := repo.CompleteTransaction(ctx, refundTxn.ID, enums.TransactionStatusSuccess, &code, &refund.RawResponse); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "complete refund transaction")
		}

		if s.cfg.RestockOnRefund {
			if err := s.ledger.Restock(ctx, tx, order.ID, orderLines(order, s.cfg.DefaultWarehouseID)); err != nil {
				return err
			}
		}

		fromStatus := enums.OrderStatusConfirmed
		if err := repo.AppendTimeline(ctx, &models.OrderTimelineEntry{
			OrderID:     order.ID,
			FromStatus:  &fromStatus,
			ToStatus:    enums.OrderStatusRefunded,
			Actor:       actor.Kind,
			Description: reason,
			Metadata:    dbtypes.JSONMap{"refundTransactionCode": refund.TransactionCode},
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append timeline")
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderRefunded,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         actorRef(actor),
			Data: orderEventData{
				OrderID:       order.ID,
				Code:          order.Code,
				Status:        enums.OrderStatusRefunded,
				PaymentMethod: order.PaymentMethod.String(),
				TotalCents:    payment.AmountCents,
				Currency:      order.Currency,
				Reason:        reason,
			},
		})
	})
	if err != nil {
		return err
	}
	s.metrics.IncTransition(enums.OrderStatusRefunded.String())
	s.logg.Info(s.logg.WithOrderID(ctx, id.String()), "order refunded")
	return nil
}

// HandleCallback verifies a gateway notification and applies its outcome.
// The provider's signature check runs before anything is read from the
// payload, so forged callbacks stop here.
func (s *Service) HandleCallback(ctx context.Context, providerName string, params map[string]string) (*CallbackOutcome, error) {
	provider, err := s.registry.ForName(providerName)
	if err != nil {
		return nil, err
	}

	result, err := provider.VerifyCallback(ctx, params)
	if err != nil {
		s.metrics.IncCallback("rejected")
		return nil, err
	}

	order, err := s.repo.FindByCode(ctx, result.OrderCode)
	if err != nil {
		s.metrics.IncCallback("unknown_order")
		return nil, s.mapLoadErr(err)
	}

	actor := SystemActor(enums.TimelineActorGateway)
	if result.Succeeded {
		if result.AmountCents != order.TotalCents {
			s.metrics.IncCallback("amount_mismatch")
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "callback amount does not match order total").
				WithDetails(map[string]any{
					"expected": order.TotalCents,
					"received": result.AmountCents,
				})
		}
		if err := s.Confirm(ctx, order.ID, actor, &PaymentCompletion{
			TransactionCode: result.TransactionCode,
			RawResponse:     result.RawResponse,
			AmountCents:     result.AmountCents,
		}); err != nil {
			return nil, err
		}
		s.metrics.IncCallback("confirmed")
	} else {
		reason := result.FailureReason
		if reason == "" {
			reason = "payment failed"
		}
		if err := s.Cancel(ctx, order.ID, actor, fmt.Sprintf("payment failed: %s", reason)); err != nil {
			return nil, err
		}
		s.metrics.IncCallback("cancelled")
	}

	current, err := s.repo.FindByID(ctx, order.ID)
	if err != nil {
		return nil, s.mapLoadErr(err)
	}
	return &CallbackOutcome{
		OrderID:         current.ID,
		OrderCode:       current.Code,
		Status:          current.Status,
		TransactionCode: result.TransactionCode,
		Succeeded:       result.Succeeded,
	}, nil
}

// completePayment settles the pending payment transaction, or records a
// fresh successful one when the callback races ahead of the row.
func (s *Service) completePayment(ctx context.Context, repo Repository, order *models.Order, completion *PaymentCompletion) error {
	var code, response *string
	if completion != nil {
		if completion.TransactionCode != "" {
			code = &completion.TransactionCode
		}
		if completion.RawResponse != "" {
			response = &completion.RawResponse
		}
	}
	for i := range order.Transactions {
		txn := &order.Transactions[i]
		if txn.Type != enums.TransactionTypePayment || txn.Status != enums.TransactionStatusPending {
			continue
		}
		if err := repo.CompleteTransaction(ctx, txn.ID, enums.TransactionStatusSuccess, code, response); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "complete payment transaction")
		}
		return nil
	}

	now := time.Now()
	txn := &models.PaymentTransaction{
		OrderID:         order.ID,
		Type:            enums.TransactionTypePayment,
		Status:          enums.TransactionStatusSuccess,
		Provider:        order.PaymentMethod.String(),
		AmountCents:     order.TotalCents,
		Currency:        order.Currency,
		TransactionCode: code,
		GatewayResponse: response,
		CompletedAt:     &now,
	}
	if err := repo.CreateTransaction(ctx, txn); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record payment transaction")
	}
	return nil
}

func (s *Service) loadOwned(ctx context.Context, repo Repository, owner types.Owner, id uuid.UUID) (*models.Order, error) {
	if owner.IsZero() {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "order owner identity missing")
	}
	order, err := repo.FindByID(ctx, id)
	if err != nil {
		return nil, s.mapLoadErr(err)
	}
	if err := s.checkOwnership(order, Actor{Kind: enums.TimelineActorBuyer, Owner: owner}); err != nil {
		return nil, err
	}
	return order, nil
}

// checkOwnership hides other owners' orders behind a not-found answer.
func (s *Service) checkOwnership(order *models.Order, actor Actor) error {
	if actor.Owner.IsZero() {
		return nil
	}
	if actor.Owner.UserID != nil && order.OwnedByUser(*actor.Owner.UserID) {
		return nil
	}
	if order.OwnedBySession(actor.Owner.SessionID) {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
}

// idemOptions applies config defaults for a guarded execution.
func (s *Service) idemOptions(resultTTL time.Duration) idempotency.Options {
	if resultTTL <= 0 {
		resultTTL = 24 * time.Hour
	}
	lockTTL := s.payCfg.LockTTL
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}
	return idempotency.Options{ResultTTL: resultTTL, LockTTL: lockTTL}
}

func (s *Service) mapLoadErr(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
}

func reservationLines(reservation *models.Reservation) []inventory.Line {
	lines := make([]inventory.Line, 0, len(reservation.Lines))
	for _, line := range reservation.Lines {
		lines = append(lines, inventory.Line{
			VariantID:   line.VariantID,
			WarehouseID: line.WarehouseID,
			Qty:         line.Quantity,
		})
	}
	return lines
}

func orderLines(order *models.Order, warehouseID string) []inventory.Line {
	lines := make([]inventory.Line, 0, len(order.Lines))
	for _, line := range order.Lines {
		lines = append(lines, inventory.Line{
			VariantID:   line.VariantID,
			WarehouseID: warehouseID,
			Qty:         line.Quantity,
		})
	}
	return lines
}

func actorRef(actor Actor) *outbox.ActorRef {
	ref := &outbox.ActorRef{Kind: actor.Kind.String()}
	if actor.Owner.UserID != nil {
		ref.UserID = actor.Owner.UserID.String()
	}
	if actor.Owner.SessionID != "" {
		ref.SessionID = actor.Owner.SessionID
	}
	return ref
}
