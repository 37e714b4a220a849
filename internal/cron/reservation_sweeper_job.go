package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/openmartlabs/openmart-backend/internal/orders"
	"github.com/openmartlabs/openmart-backend/pkg/db/models"
	"github.com/openmartlabs/openmart-backend/pkg/enums"
	pkgerrors "github.com/openmartlabs/openmart-backend/pkg/errors"
	"github.com/openmartlabs/openmart-backend/pkg/logger"
	"github.com/openmartlabs/openmart-backend/pkg/metrics"
)

const sweeperExpireReason = "payment timeout"

type expiredOrderReader interface {
	FindPendingPastDeadline(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error)
}

type orderCanceller interface {
	Cancel(ctx context.Context, id uuid.UUID, actor orders.Actor, reason string) error
}

// ReservationSweeperJobParams configure the reservation sweeper.
type ReservationSweeperJobParams struct {
	Logger  *logger.Logger
	Reader  expiredOrderReader
	Orders  orderCanceller
	Metrics *metrics.CronJobMetrics
	Batch   int
}

// NewReservationSweeperJob builds the job that expires pending orders whose
// payment deadline has passed, releasing their stock holds.
func NewReservationSweeperJob(params ReservationSweeperJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Reader == nil {
		return nil, fmt.Errorf("expired order reader required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("order canceller required")
	}
	batch := params.Batch
	if batch <= 0 {
		batch = 100
	}
	return &reservationSweeperJob{
		logg:    params.Logger,
		reader:  params.Reader,
		orders:  params.Orders,
		metrics: params.Metrics,
		batch:   batch,
		now:     time.Now,
	}, nil
}

type reservationSweeperJob struct {
	logg    *logger.Logger
	reader  expiredOrderReader
	orders  orderCanceller
	metrics *metrics.CronJobMetrics
	batch   int
	now     func() time.Time
}

func (j *reservationSweeperJob) Name() string { return "reservation-sweeper" }

func (j *reservationSweeperJob) Run(ctx context.Context) error {
	stale, err := j.reader.FindPendingPastDeadline(ctx, j.now().UTC(), j.batch)
	if err != nil {
		return fmt.Errorf("query expired orders: %w", err)
	}

	var errs error
	expired := 0
	for _, order := range stale {
		if err := j.expireOrder(ctx, order); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		expired++
	}
	if j.metrics != nil {
		j.metrics.AddExpired(j.Name(), expired)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{"scanned": len(stale), "expired": expired})
	j.logg.Info(logCtx, "reservation sweep complete")
	return errs
}

func (j *reservationSweeperJob) expireOrder(ctx context.Context, order models.Order) error {
	actor := orders.SystemActor(enums.TimelineActorSweeper)
	err := j.orders.Cancel(ctx, order.ID, actor, sweeperExpireReason)
	if err == nil {
		return nil
	}
	// A buyer who paid between the scan and the cancel wins the race.
	if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeStateConflict {
		logCtx := j.logg.WithOrderID(ctx, order.ID.String())
		j.logg.Info(logCtx, "order confirmed before sweep; leaving it alone")
		return nil
	}
	return fmt.Errorf("expire order %s: %w", order.Code, err)
}
