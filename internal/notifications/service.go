package notifications

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/openmartlabs/openmart-backend/pkg/db/models"
	"github.com/openmartlabs/openmart-backend/pkg/enums"
	pkgerrors "github.com/openmartlabs/openmart-backend/pkg/errors"
	"github.com/openmartlabs/openmart-backend/pkg/pagination"
	"github.com/openmartlabs/openmart-backend/pkg/types"
)

// View is the buyer-facing shape of one notification.
type View struct {
	ID        uuid.UUID              `json:"id"`
	OrderID   uuid.UUID              `json:"orderId"`
	Kind      enums.NotificationKind `json:"kind"`
	Title     string                 `json:"title"`
	Body      string                 `json:"body"`
	Read      bool                   `json:"read"`
	CreatedAt time.Time              `json:"createdAt"`
}

// ListView is one page of notifications plus the cursor for the next.
type ListView struct {
	Notifications []View  `json:"notifications"`
	NextCursor    *string `json:"nextCursor,omitempty"`
}

// Service exposes the buyer notification feed.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService builds the notifications service.
func NewService(repo Repository) (*Service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "notifications repo required")
	}
	return &Service{repo: repo, now: time.Now}, nil
}

// List returns the caller's notifications, newest first.
func (s *Service) List(ctx context.Context, owner types.Owner, params pagination.Params) (*ListView, error) {
	if owner.IsZero() {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "notification identity missing")
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	rows, next, err := s.repo.ListForOwner(ctx, owner, params.Limit, cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list notifications")
	}

	view := &ListView{Notifications: make([]View, 0, len(rows))}
	for _, row := range rows {
		view.Notifications = append(view.Notifications, newView(row))
	}
	if next != nil {
		encoded := pagination.EncodeCursor(*next)
		view.NextCursor = &encoded
	}
	return view, nil
}

// MarkRead marks one of the caller's notifications as read.
func (s *Service) MarkRead(ctx context.Context, owner types.Owner, id uuid.UUID) error {
	if owner.IsZero() {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "notification identity missing")
	}
	updated, err := s.repo.MarkRead(ctx, owner, id, s.now().UTC())
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark notification read")
	}
	if !updated {
		return pkgerrors.New(pkgerrors.CodeNotFound, "notification not found")
	}
	return nil
}

func newView(row models.Notification) View {
	return View{
		ID:        row.ID,
		OrderID:   row.OrderID,
		Kind:      row.Kind,
		Title:     row.Title,
		Body:      row.Body,
		Read:      row.ReadAt != nil,
		CreatedAt: row.CreatedAt,
	}
}
