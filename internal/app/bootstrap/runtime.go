package bootstrap

import (
	"context"
	"crypto/tls"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/medspa-booking-engine/internal/clinic"
	appconfig "github.com/wolfman30/medspa-booking-engine/internal/config"
	"github.com/wolfman30/medspa-booking-engine/internal/conversation"
	"github.com/wolfman30/medspa-booking-engine/pkg/logging"
)

// BuildRedisClient connects to REDIS_ADDR. It returns nil when Redis is not
// configured, or when verify is set and the server does not answer PING.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	opts := &redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}
	if cfg.RedisTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(opts)
	if !verify {
		return client
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "addr", cfg.RedisAddr, "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// PolicyFromConfig builds the process-wide booking policy that clinic
// documents override per org.
func PolicyFromConfig(cfg *appconfig.Config) clinic.Policy {
	return clinic.Policy{
		EmailCollectionMode:      clinic.ParseEmailCollectionMode(cfg.EmailCollectionMode),
		StrictPaymentEnforcement: cfg.StrictPaymentEnforcement,
		Cancellation: clinic.CancellationPolicy{
			WindowHours: cfg.CancellationWindowHours,
			FeeCents:    cfg.CancellationFeeCents,
		},
		PaymentLinkTTL: cfg.PaymentLinkTTL,
	}
}

// BuildClinicStore returns the clinic config store when Redis is available.
func BuildClinicStore(redisClient *redis.Client, cfg *appconfig.Config) *clinic.Store {
	if redisClient == nil || cfg == nil {
		return nil
	}
	return clinic.NewStore(redisClient, PolicyFromConfig(cfg), clinic.WithDefaultTimezone(cfg.DefaultTimezone))
}

// BuildContextStore keeps booking contexts in Redis, or in process memory
// when Redis is not configured.
func BuildContextStore(redisClient *redis.Client, cfg *appconfig.Config, logger *logging.Logger) conversation.ContextStore {
	if redisClient == nil {
		logger.Warn("booking contexts kept in memory; they will not survive a restart")
		return conversation.NewMemoryContextStore()
	}
	return conversation.NewRedisContextStore(redisClient, cfg.ContextTTL)
}

// Databases holds the two Postgres handles: pgx for the engine's stores and
// database/sql (lib/pq) for the contact repository.
type Databases struct {
	Pool *pgxpool.Pool
	SQL  *sql.DB
}

// Close releases both handles.
func (d *Databases) Close() {
	if d == nil {
		return
	}
	if d.Pool != nil {
		d.Pool.Close()
	}
	if d.SQL != nil {
		_ = d.SQL.Close()
	}
}

// OpenDatabases connects both handles to DATABASE_URL. No URL means no
// database and no error.
func OpenDatabases(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*Databases, error) {
	if cfg == nil || strings.TrimSpace(cfg.DatabaseURL) == "" {
		return nil, nil
	}
	dbs := &Databases{}
	var err error
	if dbs.Pool, err = pgxpool.New(ctx, cfg.DatabaseURL); err != nil {
		return nil, fmt.Errorf("bootstrap: connect postgres: %w", err)
	}
	if err = dbs.Pool.Ping(ctx); err != nil {
		dbs.Close()
		return nil, fmt.Errorf("bootstrap: ping postgres: %w", err)
	}
	if dbs.SQL, err = sql.Open("postgres", cfg.DatabaseURL); err != nil {
		dbs.Close()
		return nil, fmt.Errorf("bootstrap: open sql db: %w", err)
	}
	logger.Info("connected to postgres")
	return dbs, nil
}
