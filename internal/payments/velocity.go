package payments

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/medspa-booking-engine/pkg/logging"
)

var paymentsTracer = otel.Tracer("booking-engine/payments")

// VelocityLimit caps payment links per phone per org within a fixed window.
// A zero Max disables the check.
type VelocityLimit struct {
	Max    int
	Window time.Duration
}

// VelocityResult reports the counter after a link request was counted.
type VelocityResult struct {
	Allowed  bool
	Count    int
	Limit    int
	ResetsAt time.Time
	Message  string
}

// VelocityChecker counts link requests in Redis. The window starts at the
// first request and is not sliding.
type VelocityChecker struct {
	rdb    redis.Cmdable
	limit  VelocityLimit
	logger *logging.Logger
	now    func() time.Time
}

func NewVelocityChecker(rdb redis.Cmdable, limit VelocityLimit, logger *logging.Logger) *VelocityChecker {
	if rdb == nil {
		panic("payments: redis client required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if limit.Window <= 0 {
		limit.Window = 24 * time.Hour
	}
	return &VelocityChecker{rdb: rdb, limit: limit, logger: logger, now: time.Now}
}

func velocityKey(orgID, phone string) string {
	return "velocity:payment_link:" + orgID + ":" + phone
}

// CheckLinkVelocity counts one link request for phone. Redis errors fail
// open.
func (v *VelocityChecker) CheckLinkVelocity(ctx context.Context, orgID, phone string) (*VelocityResult, error) {
	ctx, span := paymentsTracer.Start(ctx, "velocity.check_payment_link")
	defer span.End()
	span.SetAttributes(attribute.String("booking.org_id", orgID))

	if v.limit.Max <= 0 || phone == "" {
		return &VelocityResult{Allowed: true}, nil
	}

	key := velocityKey(orgID, phone)
	count, ttl, err := v.count(ctx, key)
	if err != nil {
		v.logger.Error("velocity check failed", "error", err, "org_id", orgID)
		return &VelocityResult{Allowed: true, Message: "velocity check unavailable"}, nil
	}

	res := &VelocityResult{
		Allowed:  count <= v.limit.Max,
		Count:    count,
		Limit:    v.limit.Max,
		ResetsAt: v.now().Add(ttl),
	}
	if !res.Allowed {
		res.Message = fmt.Sprintf("exceeded %d payment links in %s", v.limit.Max, v.limit.Window)
		v.logger.Warn("payment link velocity exceeded", "org_id", orgID, "count", count, "max", v.limit.Max)
		span.SetAttributes(attribute.Bool("velocity.exceeded", true))
	}
	return res, nil
}

// count increments the counter and arms its expiry when it has none, which
// also repairs a key whose first EXPIRE was lost.
func (v *VelocityChecker) count(ctx context.Context, key string) (int, time.Duration, error) {
	var incr *redis.IntCmd
	var ttl *redis.DurationCmd
	if _, err := v.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		ttl = pipe.TTL(ctx, key)
		return nil
	}); err != nil {
		return 0, 0, err
	}
	remaining := ttl.Val()
	if remaining < 0 {
		if err := v.rdb.Expire(ctx, key, v.limit.Window).Err(); err != nil {
			return 0, 0, err
		}
		remaining = v.limit.Window
	}
	return int(incr.Val()), remaining, nil
}

// Reset clears the counter for a phone.
func (v *VelocityChecker) Reset(ctx context.Context, orgID, phone string) error {
	return v.rdb.Del(ctx, velocityKey(orgID, phone)).Err()
}
