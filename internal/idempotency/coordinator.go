package idempotency

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	pkgerrors "github.com/openmartlabs/openmart-backend/pkg/errors"
	"github.com/openmartlabs/openmart-backend/pkg/logger"
	"github.com/openmartlabs/openmart-backend/pkg/redis"
)

// Coordinator makes mutating operations safe to retry. A completed
// operation's response is cached under the caller's idempotency key and
// replayed verbatim; an in-flight operation holds a short lock so a
// concurrent retry cannot run the work twice. Failures are never cached,
// a retry after an error re-executes the operation.
type Coordinator struct {
	kv     redis.KVStore
	logger *logger.Logger
}

// NewCoordinator builds the coordinator over the shared redis surface.
func NewCoordinator(kv redis.KVStore, logg *logger.Logger) (*Coordinator, error) {
	if kv == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "kv store required")
	}
	if logg == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Coordinator{kv: kv, logger: logg}, nil
}

// Options tune one guarded execution.
type Options struct {
	// ResultTTL bounds how long a completed response is replayable.
	ResultTTL time.Duration
	// LockTTL bounds how long a crashed holder blocks retries.
	LockTTL time.Duration
}

// Execute runs fn at most once per (scope, key). When a cached response
// exists it is unmarshalled into a fresh value and returned without
// running fn. ErrInProgress surfaces as CodeOperationInProgress.
func Execute[T any](ctx context.Context, c *Coordinator, scope, key string, opts Options, fn func(ctx context.Context) (T, error)) (T, bool, error) {
	var zero T
	if key == "" {
		return zero, false, pkgerrors.New(pkgerrors.CodeValidation, "idempotency key required")
	}

	resultKey := c.kv.IdempotencyKey(scope, key)
	cached, err := c.kv.Get(ctx, resultKey)
	if err != nil && !redis.IsNil(err) {
		return zero, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read idempotency cache")
	}
	if err == nil {
		var replayed T
		if err := json.Unmarshal([]byte(cached), &replayed); err != nil {
			return zero, false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode cached response")
		}
		return replayed, true, nil
	}

	lockKey := c.kv.LockKey(scope, key)
	token := uuid.NewString()
	acquired, err := c.kv.SetNX(ctx, lockKey, token, opts.LockTTL)
	if err != nil {
		return zero, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "acquire idempotency lock")
	}
	if !acquired {
		return zero, false, pkgerrors.New(pkgerrors.CodeOperationInProgress, "operation already in progress").
			WithDetails(map[string]any{"scope": scope})
	}
	defer func() {
		logCtx := c.logger.WithField(ctx, "scope", scope)
		released, relErr := c.kv.CompareAndDelete(ctx, lockKey, token)
		if relErr != nil {
			c.logger.Warn(c.logger.WithField(logCtx, "error", relErr.Error()), "idempotency lock release failed")
			return
		}
		if !released {
			// The lock expired while we held it; a concurrent retry may
			// own it now, so deleting would be wrong.
			c.logger.Warn(logCtx, "idempotency lock expired before release")
		}
	}()

	// Re-check under the lock: a racer may have finished between our
	// cache read and the lock acquisition.
	cached, err = c.kv.Get(ctx, resultKey)
	if err != nil && !redis.IsNil(err) {
		return zero, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read idempotency cache")
	}
	if err == nil {
		var replayed T
		if err := json.Unmarshal([]byte(cached), &replayed); err != nil {
			return zero, false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode cached response")
		}
		return replayed, true, nil
	}

	result, err := fn(ctx)
	if err != nil {
		return zero, false, err
	}

	encoded, err := json.Marshal(result)
	if err != nil {
		return zero, false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode response for replay")
	}
	if err := c.kv.Set(ctx, resultKey, string(encoded), opts.ResultTTL); err != nil {
		// The operation committed; losing the cache only costs replay.
		logCtx := c.logger.WithFields(ctx, map[string]any{"scope": scope, "error": err.Error()})
		c.logger.Warn(logCtx, "idempotency cache write failed")
	}
	return result, false, nil
}

// CheckAndMark guards webhook deliveries: the first call for an event id
// wins and returns true, duplicates return false. Callers must Unmark if
// processing fails so the gateway's retry is not swallowed.
func (c *Coordinator) CheckAndMark(ctx context.Context, scope, eventID string, ttl time.Duration) (bool, error) {
	if eventID == "" {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "event id required")
	}
	key := c.kv.IdempotencyKey(scope, eventID)
	first, err := c.kv.SetNX(ctx, key, "processed", ttl)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark event processed")
	}
	return first, nil
}

// Unmark clears a webhook marker after a processing failure.
func (c *Coordinator) Unmark(ctx context.Context, scope, eventID string) error {
	key := c.kv.IdempotencyKey(scope, eventID)
	if err := c.kv.Del(ctx, key); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "unmark event")
	}
	return nil
}
