package remote

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"
)

type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 4,
	BaseDelay:   500 * time.Millisecond,
	MaxDelay:    10 * time.Second,
}

// backoff is full jitter over an exponentially growing window.
func (p RetryPolicy) backoff(attempt int) time.Duration {
	window := p.BaseDelay << (attempt - 1)
	if window <= 0 || window > p.MaxDelay {
		window = p.MaxDelay
	}
	if window <= 0 {
		return 0
	}
	return window/2 + rand.N(window/2+1)
}

type retryService struct {
	svc    Service
	policy RetryPolicy
	log    *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// WithRetry wraps svc so that transient failures are retried with backoff.
// Permanent failures and context cancellation return immediately.
func WithRetry(svc Service, policy RetryPolicy, log *slog.Logger) Service {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &retryService{
		svc:    svc,
		policy: policy,
		log:    log.With("component", "remote"),
		sleep:  sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (r *retryService) do(ctx context.Context, op string, fn func(attempt int) error) error {
	var err error
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		if err = fn(attempt); err == nil || !IsTransient(err) {
			return err
		}
		if attempt == r.policy.MaxAttempts {
			break
		}
		delay := r.policy.backoff(attempt)
		r.log.Warn("retrying", "op", op, "attempt", attempt, "delay", delay, "error", err)
		if serr := r.sleep(ctx, delay); serr != nil {
			return err
		}
	}
	r.log.Error("retries exhausted", "op", op, "attempts", r.policy.MaxAttempts, "error", err)
	return err
}

// CreateObject looks for an object left behind by a failed attempt before
// trying again, so a lost response does not produce a duplicate.
func (r *retryService) CreateObject(ctx context.Context, params *CreateParams) (string, error) {
	var id string
	err := r.do(ctx, "create", func(attempt int) error {
		if attempt > 1 {
			if found, ferr := r.svc.FindObject(ctx, params.Name, params.ParentID); ferr == nil {
				for _, obj := range found {
					if obj.IsFolder == params.IsFolder {
						id = obj.ID
						r.log.Info("adopted object from earlier attempt", "name", params.Name, "id", id)
						return nil
					}
				}
			}
		}
		var err error
		id, err = r.svc.CreateObject(ctx, params)
		return err
	})
	return id, err
}

func (r *retryService) GetObjectName(ctx context.Context, id string) (string, error) {
	var name string
	err := r.do(ctx, "get", func(int) error {
		var err error
		name, err = r.svc.GetObjectName(ctx, id)
		return err
	})
	return name, err
}

func (r *retryService) DeleteObject(ctx context.Context, id string) error {
	return r.do(ctx, "delete", func(int) error {
		return r.svc.DeleteObject(ctx, id)
	})
}

func (r *retryService) UpdateObjectContent(ctx context.Context, id string, content Content) error {
	return r.do(ctx, "update", func(int) error {
		return r.svc.UpdateObjectContent(ctx, id, content)
	})
}

func (r *retryService) FindObject(ctx context.Context, name, parentID string) ([]*Object, error) {
	var objs []*Object
	err := r.do(ctx, "find", func(int) error {
		var err error
		objs, err = r.svc.FindObject(ctx, name, parentID)
		return err
	})
	return objs, err
}

func (r *retryService) ListObjects(ctx context.Context, params *ListParams) ([]*Object, error) {
	var objs []*Object
	err := r.do(ctx, "list", func(int) error {
		var err error
		objs, err = r.svc.ListObjects(ctx, params)
		return err
	})
	return objs, err
}
