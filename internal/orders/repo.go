package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/openmartlabs/openmart-backend/pkg/db/models"
	"github.com/openmartlabs/openmart-backend/pkg/enums"
	"github.com/openmartlabs/openmart-backend/pkg/types"
)

// Repository owns order persistence. Status moves go through
// TransitionStatus, a compare-and-swap, so two concurrent writers can
// never both apply the same transition.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	Create(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByCode(ctx context.Context, code string) (*models.Order, error)
	ListByOwner(ctx context.Context, owner types.Owner, limit, offset int) ([]models.Order, error)

	TransitionStatus(ctx context.Context, id uuid.UUID, from, to enums.OrderStatus, updates map[string]any) (bool, error)
	TransitionReservation(ctx context.Context, orderID uuid.UUID, from, to enums.ReservationStatus) (bool, error)

	AppendTimeline(ctx context.Context, entry *models.OrderTimelineEntry) error
	Timeline(ctx context.Context, orderID uuid.UUID) ([]models.OrderTimelineEntry, error)

	CreateTransaction(ctx context.Context, txn *models.PaymentTransaction) error
	AttachTransactionCode(ctx context.Context, id uuid.UUID, code string) error
	CompleteTransaction(ctx context.Context, id uuid.UUID, status enums.TransactionStatus, code, response *string) error
	FailPendingTransactions(ctx context.Context, orderID uuid.UUID, response string) error
	SuccessfulTransaction(ctx context.Context, orderID uuid.UUID, txnType enums.TransactionType) (*models.PaymentTransaction, error)

	FindPendingPastDeadline(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository binds the repository to the provided GORM handle.
func NewRepository(db *gorm.DB) Repository {
	if db == nil {
		return nil
	}
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, order *models.Order) error {
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	for i := range order.Lines {
		if order.Lines[i].ID == uuid.Nil {
			order.Lines[i].ID = uuid.New()
		}
		order.Lines[i].OrderID = order.ID
	}
	if order.Reservation != nil {
		if order.Reservation.ID == uuid.Nil {
			order.Reservation.ID = uuid.New()
		}
		order.Reservation.OrderID = order.ID
		for i := range order.Reservation.Lines {
			if order.Reservation.Lines[i].ID == uuid.Nil {
				order.Reservation.Lines[i].ID = uuid.New()
			}
			order.Reservation.Lines[i].ReservationID = order.Reservation.ID
		}
	}
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.preloaded(ctx).First(&order, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindByCode(ctx context.Context, code string) (*models.Order, error) {
	var order models.Order
	err := r.preloaded(ctx).First(&order, "code = ?", code).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) preloaded(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).
		Preload("Lines").
		Preload("Reservation").
		Preload("Reservation.Lines").
		Preload("Transactions")
}

func (r *repository) ListByOwner(ctx context.Context, owner types.Owner, limit, offset int) ([]models.Order, error) {
	query := r.db.WithContext(ctx).Preload("Lines").Order("created_at DESC")
	if owner.UserID != nil {
		query = query.Where("user_id = ?", *owner.UserID)
	} else {
		query = query.Where("session_id = ?", owner.SessionID)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	var orders []models.Order
	if err := query.Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

// TransitionStatus applies from -> to only while the row still holds from.
// Returns false when another writer got there first.
func (r *repository) TransitionStatus(ctx context.Context, id uuid.UUID, from, to enums.OrderStatus, updates map[string]any) (bool, error) {
	values := map[string]any{"status": to}
	for key, value := range updates {
		values[key] = value
	}
	res := r.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND status = ?", id, from).
		Updates(values)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// TransitionReservation takes the reservation's single terminal step.
func (r *repository) TransitionReservation(ctx context.Context, orderID uuid.UUID, from, to enums.ReservationStatus) (bool, error) {
	now := time.Now()
	res := r.db.WithContext(ctx).Model(&models.Reservation{}).
		Where("order_id = ? AND status = ?", orderID, from).
		Updates(map[string]any{"status": to, "closed_at": &now})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) AppendTimeline(ctx context.Context, entry *models.OrderTimelineEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repository) Timeline(ctx context.Context, orderID uuid.UUID) ([]models.OrderTimelineEntry, error) {
	var entries []models.OrderTimelineEntry
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repository) CreateTransaction(ctx context.Context, txn *models.PaymentTransaction) error {
	if txn.ID == uuid.Nil {
		txn.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(txn).Error
}

// AttachTransactionCode stores the provider's reference on a transaction
// that is still pending.
func (r *repository) AttachTransactionCode(ctx context.Context, id uuid.UUID, code string) error {
	return r.db.WithContext(ctx).Model(&models.PaymentTransaction{}).
		Where("id = ?", id).
		Update("transaction_code", code).Error
}

func (r *repository) CompleteTransaction(ctx context.Context, id uuid.UUID, status enums.TransactionStatus, code, response *string) error {
	now := time.Now()
	values := map[string]any{
		"status":       status,
		"completed_at": &now,
	}
	if code != nil {
		values["transaction_code"] = code
	}
	if response != nil {
		values["gateway_response"] = response
	}
	return r.db.WithContext(ctx).Model(&models.PaymentTransaction{}).
		Where("id = ?", id).
		Updates(values).Error
}

func (r *repository) FailPendingTransactions(ctx context.Context, orderID uuid.UUID, response string) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&models.PaymentTransaction{}).
		Where("order_id = ? AND status = ?", orderID, enums.TransactionStatusPending).
		Updates(map[string]any{
			"status":           enums.TransactionStatusFailed,
			"gateway_response": response,
			"completed_at":     &now,
		}).Error
}

func (r *repository) SuccessfulTransaction(ctx context.Context, orderID uuid.UUID, txnType enums.TransactionType) (*models.PaymentTransaction, error) {
	var txn models.PaymentTransaction
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND type = ? AND status = ?", orderID, txnType, enums.TransactionStatusSuccess).
		First(&txn).Error
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

// FindPendingPastDeadline feeds the reservation sweeper. Only orders whose
// payment method carries a deadline ever match.
func (r *repository) FindPendingPastDeadline(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	query := r.db.WithContext(ctx).
		Preload("Reservation").
		Preload("Reservation.Lines").
		Where("status = ? AND payment_deadline IS NOT NULL AND payment_deadline < ?",
			enums.OrderStatusPendingPayment, cutoff).
		Order("payment_deadline ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var orders []models.Order
	if err := query.Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}
