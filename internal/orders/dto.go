package orders

import (
	"time"

	"github.com/google/uuid"

	"github.com/openmartlabs/openmart-backend/pkg/db/models"
	"github.com/openmartlabs/openmart-backend/pkg/enums"
	"github.com/openmartlabs/openmart-backend/pkg/types"
)

// Actor identifies who drives a lifecycle transition. Owner is set for
// buyer-initiated calls and enforces ownership; system actors skip the
// ownership check.
type Actor struct {
	Kind  enums.TimelineActor
	Owner types.Owner
}

// SystemActor builds an actor for internal callers.
func SystemActor(kind enums.TimelineActor) Actor {
	return Actor{Kind: kind}
}

// BuyerActor builds an actor bound to the requesting owner.
func BuyerActor(owner types.Owner) Actor {
	return Actor{Kind: enums.TimelineActorBuyer, Owner: owner}
}

// PaymentCompletion carries the verified gateway outcome into Confirm.
type PaymentCompletion struct {
	TransactionCode string
	RawResponse     string
	AmountCents     int64
}

// StatusView is the buyer-facing polling answer while a payment is pending.
type StatusView struct {
	OrderID          uuid.UUID           `json:"orderId"`
	Code             string              `json:"code"`
	Status           enums.OrderStatus   `json:"status"`
	PaymentStatus    enums.PaymentStatus `json:"paymentStatus"`
	PaymentDeadline  *time.Time          `json:"paymentDeadline,omitempty"`
	RemainingSeconds int64               `json:"remainingSeconds"`
	CanPay           bool                `json:"canPay"`
	CanCancel        bool                `json:"canCancel"`
	CancelReason     *string             `json:"cancelReason,omitempty"`
}

// CallbackOutcome reports what a verified gateway notification did, so
// the controller can build the buyer redirect.
type CallbackOutcome struct {
	OrderID         uuid.UUID         `json:"orderId"`
	OrderCode       string            `json:"orderCode"`
	Status          enums.OrderStatus `json:"status"`
	TransactionCode string            `json:"transactionId"`
	Succeeded       bool              `json:"succeeded"`
}

// LineView mirrors one immutable order line.
type LineView struct {
	VariantID      uuid.UUID `json:"variantId"`
	SKU            string    `json:"sku"`
	Name           string    `json:"name"`
	ImageURL       *string   `json:"imageUrl,omitempty"`
	UnitPriceCents int64     `json:"unitPriceCents"`
	Quantity       int       `json:"quantity"`
	TotalCents     int64     `json:"totalCents"`
}

// View is the full order detail.
type View struct {
	ID              uuid.UUID           `json:"id"`
	Code            string              `json:"code"`
	Status          enums.OrderStatus   `json:"status"`
	PaymentStatus   enums.PaymentStatus `json:"paymentStatus"`
	PaymentMethod   enums.PaymentMethod `json:"paymentMethod"`
	PaymentDeadline *time.Time          `json:"paymentDeadline,omitempty"`
	SubTotalCents   int64               `json:"subTotalCents"`
	ShippingCents   int64               `json:"shippingCents"`
	TotalCents      int64               `json:"totalCents"`
	Currency        string              `json:"currency"`
	ShippingAddress *types.Address      `json:"shippingAddress,omitempty"`
	CancelReason    *string             `json:"cancelReason,omitempty"`
	Lines           []LineView          `json:"lines"`
	CreatedAt       time.Time           `json:"createdAt"`
}

// NewView projects the stored order into the client shape.
func NewView(order *models.Order) *View {
	view := &View{
		ID:              order.ID,
		Code:            order.Code,
		Status:          order.Status,
		PaymentStatus:   order.PaymentStatus,
		PaymentMethod:   order.PaymentMethod,
		PaymentDeadline: order.PaymentDeadline,
		SubTotalCents:   order.SubTotalCents,
		ShippingCents:   order.ShippingCents,
		TotalCents:      order.TotalCents,
		Currency:        order.Currency,
		ShippingAddress: order.ShippingAddress,
		CancelReason:    order.CancelReason,
		Lines:           make([]LineView, 0, len(order.Lines)),
		CreatedAt:       order.CreatedAt,
	}
	for _, line := range order.Lines {
		view.Lines = append(view.Lines, LineView{
			VariantID:      line.VariantID,
			SKU:            line.SKU,
			Name:           line.Name,
			ImageURL:       line.ImageURL,
			UnitPriceCents: line.UnitPriceCents,
			Quantity:       line.Quantity,
			TotalCents:     line.TotalCents,
		})
	}
	return view
}

// TimelineEntryView is one audit record of the order's history.
type TimelineEntryView struct {
	FromStatus  *enums.OrderStatus  `json:"fromStatus,omitempty"`
	ToStatus    enums.OrderStatus   `json:"toStatus"`
	Actor       enums.TimelineActor `json:"actor"`
	Description string              `json:"description"`
	CreatedAt   time.Time           `json:"createdAt"`
}

// Event payloads published through the outbox.

type orderEventData struct {
	OrderID       uuid.UUID         `json:"orderId"`
	Code          string            `json:"code"`
	Status        enums.OrderStatus `json:"status"`
	PaymentMethod string            `json:"paymentMethod"`
	TotalCents    int64             `json:"totalCents"`
	Currency      string            `json:"currency"`
	Reason        string            `json:"reason,omitempty"`
}

type paymentEventData struct {
	OrderID         uuid.UUID `json:"orderId"`
	Code            string    `json:"code"`
	Provider        string    `json:"provider"`
	AmountCents     int64     `json:"amountCents"`
	TransactionCode string    `json:"transactionCode,omitempty"`
	Reason          string    `json:"reason,omitempty"`
}

type reservationEventData struct {
	OrderID       uuid.UUID `json:"orderId"`
	ReservationID uuid.UUID `json:"reservationId"`
	Reason        string    `json:"reason,omitempty"`
}
