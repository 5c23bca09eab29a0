package clinic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const configKeyPrefix = "clinic:config:"

// Store keeps one JSON config document per org in Redis. Orgs without a
// document get DefaultConfig.
type Store struct {
	redis    redis.Cmdable
	defaults Policy
	timezone string
}

type StoreOption func(*Store)

// WithDefaultTimezone sets the zone reported for orgs with no document.
// Unknown zones are ignored.
func WithDefaultTimezone(tz string) StoreOption {
	return func(s *Store) {
		if tz == "" {
			return
		}
		if _, err := time.LoadLocation(tz); err == nil {
			s.timezone = tz
		}
	}
}

// NewStore builds a Store. defaults fills every policy field a clinic
// document leaves unset.
func NewStore(redisClient *redis.Client, defaults Policy, opts ...StoreOption) *Store {
	if redisClient == nil {
		panic("clinic: redis client required")
	}
	if defaults.EmailCollectionMode == "" {
		defaults.EmailCollectionMode = EmailGentle
	}
	if defaults.PaymentLinkTTL <= 0 {
		defaults.PaymentLinkTTL = 30 * time.Minute
	}
	s := &Store{redis: redisClient, defaults: defaults}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Get(ctx context.Context, orgID string) (*Config, error) {
	raw, err := s.redis.Get(ctx, configKeyPrefix+orgID).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		cfg := DefaultConfig(orgID)
		if s.timezone != "" {
			cfg.Timezone = s.timezone
		}
		return cfg, nil
	case err != nil:
		return nil, fmt.Errorf("clinic: get config %s: %w", orgID, err)
	}

	cfg := new(Config)
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("clinic: decode config %s: %w", orgID, err)
	}
	return cfg, nil
}

func (s *Store) Set(ctx context.Context, cfg *Config) error {
	if cfg == nil || cfg.OrgID == "" {
		return errors.New("clinic: config with org id required")
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("clinic: encode config: %w", err)
	}
	if err := s.redis.Set(ctx, configKeyPrefix+cfg.OrgID, raw, 0).Err(); err != nil {
		return fmt.Errorf("clinic: set config %s: %w", cfg.OrgID, err)
	}
	return nil
}

// derive loads the org's config and projects one value out of it.
func derive[T any](ctx context.Context, s *Store, orgID string, fn func(*Config) (T, error)) (T, error) {
	cfg, err := s.Get(ctx, orgID)
	if err != nil {
		var zero T
		return zero, err
	}
	return fn(cfg)
}

func (s *Store) ActiveServices(ctx context.Context, orgID string) ([]Service, error) {
	return derive(ctx, s, orgID, func(c *Config) ([]Service, error) { return c.ActiveServices(), nil })
}

// Service looks up a catalog entry whether or not it is active.
func (s *Store) Service(ctx context.Context, orgID, serviceID string) (Service, error) {
	return derive(ctx, s, orgID, func(c *Config) (Service, error) { return c.ServiceByID(serviceID) })
}

// Policy merges the org's overrides onto the store defaults.
func (s *Store) Policy(ctx context.Context, orgID string) (Policy, error) {
	return derive(ctx, s, orgID, func(c *Config) (Policy, error) { return c.Policy.Apply(s.defaults), nil })
}

func (s *Store) Location(ctx context.Context, orgID string) (*time.Location, error) {
	return derive(ctx, s, orgID, func(c *Config) (*time.Location, error) { return c.Location(), nil })
}

// Recommend describes availability for a single-session service.
func (s *Store) Recommend(ctx context.Context, orgID, serviceID string, now time.Time) (string, error) {
	return derive(ctx, s, orgID, func(c *Config) (string, error) {
		svc, err := c.ServiceByID(serviceID)
		if err != nil {
			return "", err
		}
		return c.AvailabilityHint(svc, now), nil
	})
}

// GetStripeAccountID returns the clinic's connected account, empty when the
// clinic collects into the platform account.
func (s *Store) GetStripeAccountID(ctx context.Context, orgID string) (string, error) {
	acct, err := derive(ctx, s, orgID, func(c *Config) (string, error) { return c.StripeAccountID, nil })
	if err != nil {
		return "", fmt.Errorf("clinic: stripe account: %w", err)
	}
	return acct, nil
}

func (s *Store) GetPaymentProvider(ctx context.Context, orgID string) (string, error) {
	provider, err := derive(ctx, s, orgID, func(c *Config) (string, error) { return c.PaymentProvider, nil })
	if err != nil {
		return "", fmt.Errorf("clinic: payment provider: %w", err)
	}
	return provider, nil
}
