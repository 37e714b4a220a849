package cart

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/openmartlabs/openmart-backend/internal/catalog"
	"github.com/openmartlabs/openmart-backend/pkg/config"
	"github.com/openmartlabs/openmart-backend/pkg/db/models"
	pkgerrors "github.com/openmartlabs/openmart-backend/pkg/errors"
	"github.com/openmartlabs/openmart-backend/pkg/types"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type availabilityReader interface {
	AvailableFor(ctx context.Context, db *gorm.DB, warehouseID string, variantIDs []uuid.UUID) (map[uuid.UUID]int, error)
}

// Service exposes cart operations. The cart is a working set only; all
// prices shown are advisory and re-validated at checkout.
type Service interface {
	GetOrCreate(ctx context.Context, owner types.Owner) (*View, error)
	AddItem(ctx context.Context, owner types.Owner, variantID uuid.UUID, qty int) (*View, error)
	UpdateItem(ctx context.Context, owner types.Owner, variantID uuid.UUID, qty int) (*View, error)
	RemoveItem(ctx context.Context, owner types.Owner, variantID uuid.UUID) (*View, error)
	Clear(ctx context.Context, owner types.Owner) error
	Merge(ctx context.Context, guest types.Owner, user types.Owner) (*View, error)
	RefreshPrices(ctx context.Context, owner types.Owner) (*View, error)
}

type service struct {
	repo    Repository
	tx      txRunner
	catalog catalog.Repository
	stock   availabilityReader
	db      *gorm.DB
	cfg     config.CheckoutConfig
}

// NewService builds a cart service backed by the provided stack.
func NewService(repo Repository, tx txRunner, catalogRepo catalog.Repository, stock availabilityReader, db *gorm.DB, cfg config.CheckoutConfig) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("cart repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if catalogRepo == nil {
		return nil, fmt.Errorf("catalog repository required")
	}
	if stock == nil {
		return nil, fmt.Errorf("availability reader required")
	}
	if db == nil {
		return nil, fmt.Errorf("db handle required")
	}
	return &service{
		repo:    repo,
		tx:      tx,
		catalog: catalogRepo,
		stock:   stock,
		db:      db,
		cfg:     cfg,
	}, nil
}

// View is the client-facing cart projection with live prices.
type View struct {
	ID            uuid.UUID  `json:"id"`
	Lines         []LineView `json:"lines"`
	SubTotalCents int64      `json:"subTotalCents"`
	Currency      string     `json:"currency"`
}

// LineView carries both the snapshot and the live price so clients can
// surface "price changed" before checkout rejects.
type LineView struct {
	VariantID         uuid.UUID `json:"variantId"`
	Name              string    `json:"name"`
	ImageURL          *string   `json:"imageUrl,omitempty"`
	Quantity          int       `json:"quantity"`
	UnitPriceCents    int64     `json:"unitPriceCents"`
	SnapshotCents     int64     `json:"snapshotCents"`
	PriceChanged      bool      `json:"priceChanged"`
	Available         int       `json:"available"`
	InsufficientStock bool      `json:"insufficientStock"`
}

func (s *service) GetOrCreate(ctx context.Context, owner types.Owner) (*View, error) {
	if owner.IsZero() {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "cart owner identity missing")
	}
	record, err := s.loadOrCreate(ctx, owner)
	if err != nil {
		return nil, err
	}
	return s.project(ctx, record)
}

func (s *service) AddItem(ctx context.Context, owner types.Owner, variantID uuid.UUID, qty int) (*View, error) {
	if owner.IsZero() {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "cart owner identity missing")
	}
	if qty <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}

	variant, err := s.catalog.FindVariantByID(ctx, variantID)
	if err != nil {
		return nil, err
	}
	if !variant.Purchasable() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "variant is not purchasable")
	}

	var record *models.Cart
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		record, err = s.loadOrCreateWith(ctx, repo, owner)
		if err != nil {
			return err
		}

		merged := qty
		for _, line := range record.Lines {
			if line.VariantID == variantID {
				merged += line.Quantity
				break
			}
		}
		if merged > s.maxQty() {
			return pkgerrors.New(pkgerrors.CodeValidation, "quantity exceeds the per-line maximum").
				WithDetails(map[string]any{"maxQuantity": s.maxQty(), "requested": merged})
		}
		if err := s.ensureAvailable(ctx, tx, variantID, merged); err != nil {
			return err
		}

		line := &models.CartLine{
			CartID:             record.ID,
			VariantID:          variantID,
			Quantity:           merged,
			UnitPriceCentsSnap: variant.PriceCents,
			DisplayName:        variant.Name,
			DisplayImageURL:    variant.ImageURL,
		}
		return repo.UpsertLine(ctx, line)
	})
	if err != nil {
		return nil, err
	}
	return s.reload(ctx, owner)
}

func (s *service) UpdateItem(ctx context.Context, owner types.Owner, variantID uuid.UUID, qty int) (*View, error) {
	if owner.IsZero() {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "cart owner identity missing")
	}
	if qty < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must not be negative")
	}
	if qty == 0 {
		return s.RemoveItem(ctx, owner, variantID)
	}
	if qty > s.maxQty() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity exceeds the per-line maximum").
			WithDetails(map[string]any{"maxQuantity": s.maxQty(), "requested": qty})
	}

	record, err := s.repo.FindActiveByOwner(ctx, owner)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "cart not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
	}
	lineExists := false
	for _, line := range record.Lines {
		if line.VariantID == variantID {
			lineExists = true
			break
		}
	}
	if !lineExists {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "cart line not found")
	}
	if err := s.ensureAvailable(ctx, s.db, variantID, qty); err != nil {
		return nil, err
	}

	if err := s.repo.UpdateLineQuantity(ctx, record.ID, variantID, qty); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "cart line not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update cart line")
	}
	return s.reload(ctx, owner)
}

func (s *service) RemoveItem(ctx context.Context, owner types.Owner, variantID uuid.UUID) (*View, error) {
	if owner.IsZero() {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "cart owner identity missing")
	}
	record, err := s.repo.FindActiveByOwner(ctx, owner)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "cart not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
	}
	if err := s.repo.RemoveLine(ctx, record.ID, variantID); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "remove cart line")
	}
	return s.reload(ctx, owner)
}

func (s *service) Clear(ctx context.Context, owner types.Owner) error {
	if owner.IsZero() {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "cart owner identity missing")
	}
	record, err := s.repo.FindActiveByOwner(ctx, owner)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
	}
	if err := s.repo.ClearLines(ctx, record.ID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "clear cart")
	}
	return nil
}

// Merge folds a guest-session cart into the authenticated user's cart.
// Lines for variants the user already carries get their quantities summed,
// clamped at the per-line cap, and repriced at the current catalog price;
// other lines move over with their snapshots intact. The guest cart is
// deleted afterward, so a second call is a no-op.
func (s *service) Merge(ctx context.Context, guest types.Owner, user types.Owner) (*View, error) {
	if user.IsZero() || user.UserID == nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authenticated cart owner required")
	}
	if guest.SessionID == "" || guest.UserID != nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "guest session identity required")
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		guestCart, err := repo.FindActiveByOwner(ctx, guest)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load guest cart")
		}

		userCart, err := s.loadOrCreateWith(ctx, repo, user)
		if err != nil {
			return err
		}

		existing := make(map[uuid.UUID]*models.CartLine, len(userCart.Lines))
		for i := range userCart.Lines {
			existing[userCart.Lines[i].VariantID] = &userCart.Lines[i]
		}

		ids := make([]uuid.UUID, 0, len(guestCart.Lines))
		for _, line := range guestCart.Lines {
			ids = append(ids, line.VariantID)
		}
		variants, err := s.catalog.FindVariantsByIDs(ctx, ids)
		if err != nil {
			return err
		}

		for _, guestLine := range guestCart.Lines {
			merged := models.CartLine{
				CartID:             userCart.ID,
				VariantID:          guestLine.VariantID,
				Quantity:           guestLine.Quantity,
				UnitPriceCentsSnap: guestLine.UnitPriceCentsSnap,
				DisplayName:        guestLine.DisplayName,
				DisplayImageURL:    guestLine.DisplayImageURL,
			}
			if userLine, ok := existing[guestLine.VariantID]; ok {
				merged.Quantity += userLine.Quantity
				// Summing is a fresh pricing event, same as a re-add.
				if variant, ok := variants[guestLine.VariantID]; ok {
					merged.UnitPriceCentsSnap = variant.PriceCents
					merged.DisplayName = variant.Name
					merged.DisplayImageURL = variant.ImageURL
				}
			}
			if merged.Quantity > s.maxQty() {
				merged.Quantity = s.maxQty()
			}
			if err := repo.UpsertLine(ctx, &merged); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "merge cart line")
			}
		}

		if err := repo.Delete(ctx, guestCart.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete guest cart")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	record, err := s.loadOrCreate(ctx, user)
	if err != nil {
		return nil, err
	}
	return s.project(ctx, record)
}

// RefreshPrices re-snapshots every line at the current catalog price. It is
// the client's way out of a PRICE_CHANGED rejection at checkout. Lines whose
// variant no longer exists keep their stale snapshot; checkout will still
// reject those.
func (s *service) RefreshPrices(ctx context.Context, owner types.Owner) (*View, error) {
	if owner.IsZero() {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "cart owner identity missing")
	}
	record, err := s.repo.FindActiveByOwner(ctx, owner)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "cart not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
	}
	if len(record.Lines) == 0 {
		return s.project(ctx, record)
	}

	ids := make([]uuid.UUID, 0, len(record.Lines))
	for _, line := range record.Lines {
		ids = append(ids, line.VariantID)
	}
	variants, err := s.catalog.FindVariantsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		for _, line := range record.Lines {
			variant, ok := variants[line.VariantID]
			if !ok {
				continue
			}
			refreshed := models.CartLine{
				CartID:             record.ID,
				VariantID:          line.VariantID,
				Quantity:           line.Quantity,
				UnitPriceCentsSnap: variant.PriceCents,
				DisplayName:        variant.Name,
				DisplayImageURL:    variant.ImageURL,
			}
			if err := repo.UpsertLine(ctx, &refreshed); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "refresh cart line")
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.reload(ctx, owner)
}

// ensureAvailable rejects a requested line quantity the ledger cannot
// cover. The cart takes no hold; checkout re-checks under its own lock.
func (s *service) ensureAvailable(ctx context.Context, db *gorm.DB, variantID uuid.UUID, qty int) error {
	available, err := s.stock.AvailableFor(ctx, db, s.cfg.DefaultWarehouseID, []uuid.UUID{variantID})
	if err != nil {
		return err
	}
	if available[variantID] < qty {
		return pkgerrors.New(pkgerrors.CodeInsufficientStock, "insufficient stock for requested quantity").
			WithDetails(map[string]any{
				"variantId": variantID,
				"requested": qty,
				"available": available[variantID],
			})
	}
	return nil
}

func (s *service) maxQty() int {
	if s.cfg.MaxQtyPerLine > 0 {
		return s.cfg.MaxQtyPerLine
	}
	return 99
}

func (s *service) loadOrCreate(ctx context.Context, owner types.Owner) (*models.Cart, error) {
	return s.loadOrCreateWith(ctx, s.repo, owner)
}

func (s *service) loadOrCreateWith(ctx context.Context, repo Repository, owner types.Owner) (*models.Cart, error) {
	record, err := repo.FindActiveByOwner(ctx, owner)
	if err == nil {
		return record, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
	}
	fresh := &models.Cart{UserID: owner.UserID}
	if owner.SessionID != "" {
		sid := owner.SessionID
		fresh.SessionID = &sid
	}
	created, err := repo.Create(ctx, fresh)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create cart")
	}
	return created, nil
}

func (s *service) reload(ctx context.Context, owner types.Owner) (*View, error) {
	record, err := s.repo.FindActiveByOwner(ctx, owner)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload cart")
	}
	return s.project(ctx, record)
}

// project joins the stored lines against the live catalog and inventory so
// the client sees price drift and stock shortfalls before checkout.
func (s *service) project(ctx context.Context, record *models.Cart) (*View, error) {
	view := &View{
		ID:       record.ID,
		Lines:    make([]LineView, 0, len(record.Lines)),
		Currency: s.cfg.Currency,
	}
	if len(record.Lines) == 0 {
		return view, nil
	}

	ids := make([]uuid.UUID, 0, len(record.Lines))
	for _, line := range record.Lines {
		ids = append(ids, line.VariantID)
	}
	variants, err := s.catalog.FindVariantsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	available, err := s.stock.AvailableFor(ctx, s.db, s.cfg.DefaultWarehouseID, ids)
	if err != nil {
		return nil, err
	}

	for _, line := range record.Lines {
		lv := LineView{
			VariantID:     line.VariantID,
			Name:          line.DisplayName,
			ImageURL:      line.DisplayImageURL,
			Quantity:      line.Quantity,
			SnapshotCents: line.UnitPriceCentsSnap,
		}
		if variant, ok := variants[line.VariantID]; ok {
			lv.Name = variant.Name
			lv.ImageURL = variant.ImageURL
			lv.UnitPriceCents = variant.PriceCents
			lv.PriceChanged = variant.PriceCents != line.UnitPriceCentsSnap
		} else {
			lv.UnitPriceCents = line.UnitPriceCentsSnap
		}
		lv.Available = available[line.VariantID]
		lv.InsufficientStock = lv.Available < line.Quantity
		view.SubTotalCents += lv.UnitPriceCents * int64(line.Quantity)
		view.Lines = append(view.Lines, lv)
	}
	return view, nil
}
