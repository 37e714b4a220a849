package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = ""

	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Checkout     CheckoutConfig
	Payments     PaymentsConfig
	Sweeper      SweeperConfig
	Outbox       OutboxConfig
	PubSub       PubSubConfig
	GCP          GCPConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env           string `envconfig:"OPENMART_APP_ENV" required:"true"`
	Port          string `envconfig:"OPENMART_APP_PORT" required:"true"`
	PublicBaseURL string `envconfig:"OPENMART_APP_PUBLIC_BASE_URL" default:"http://localhost:8080"`
	LogLevel      string `envconfig:"OPENMART_LOG_LEVEL" default:"info"`
	LogWarnStack  bool   `envconfig:"OPENMART_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"OPENMART_DB_DSN"`
	Driver string `envconfig:"OPENMART_DB_DRIVER" default:"postgres"`

	Host     string `envconfig:"OPENMART_DB_HOST"`
	Port     int    `envconfig:"OPENMART_DB_PORT" default:"5432"`
	User     string `envconfig:"OPENMART_DB_USER"`
	Password string `envconfig:"OPENMART_DB_PASSWORD"`
	Name     string `envconfig:"OPENMART_DB_NAME"`
	SSLMode  string `envconfig:"OPENMART_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"OPENMART_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"OPENMART_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"OPENMART_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"OPENMART_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"OPENMART_REDIS_URL" required:"true"`
	Address      string        `envconfig:"OPENMART_REDIS_ADDR"`
	Password     string        `envconfig:"OPENMART_REDIS_PASSWORD"`
	DB           int           `envconfig:"OPENMART_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"OPENMART_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"OPENMART_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"OPENMART_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"OPENMART_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"OPENMART_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"OPENMART_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"OPENMART_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"OPENMART_JWT_EXPIRATION_MINUTES" default:"60"`
	GuestTTLMinutes   int    `envconfig:"OPENMART_GUEST_SESSION_TTL_MINUTES" default:"10080"`
}

// GuestTTL returns the guest session token lifetime.
func (j JWTConfig) GuestTTL() time.Duration {
	if j.GuestTTLMinutes <= 0 {
		return 0
	}
	return time.Duration(j.GuestTTLMinutes) * time.Minute
}

type CheckoutConfig struct {
	ShippingFeeCents   int64         `envconfig:"OPENMART_CHECKOUT_SHIPPING_FEE_CENTS" default:"3000000"`
	Currency           string        `envconfig:"OPENMART_CHECKOUT_CURRENCY" default:"VND"`
	ReservationTTL     time.Duration `envconfig:"OPENMART_CHECKOUT_RESERVATION_TTL" default:"15m"`
	MaxQtyPerLine      int           `envconfig:"OPENMART_CHECKOUT_MAX_QTY_PER_LINE" default:"99"`
	RestockOnRefund    bool          `envconfig:"OPENMART_CHECKOUT_RESTOCK_ON_REFUND" default:"true"`
	DefaultWarehouseID string        `envconfig:"OPENMART_CHECKOUT_DEFAULT_WAREHOUSE" default:"main"`
}

type PaymentsConfig struct {
	Hosted  HostedGatewayConfig
	Capture CaptureGatewayConfig

	ReturnURL string `envconfig:"OPENMART_PAYMENTS_RETURN_URL" default:"http://localhost:3000/checkout/result"`
	CancelURL string `envconfig:"OPENMART_PAYMENTS_CANCEL_URL" default:"http://localhost:3000/checkout/cancelled"`

	CreateTTL   time.Duration `envconfig:"OPENMART_PAYMENTS_CREATE_IDEMPOTENCY_TTL" default:"24h"`
	CallbackTTL time.Duration `envconfig:"OPENMART_PAYMENTS_CALLBACK_IDEMPOTENCY_TTL" default:"168h"`
	LockTTL     time.Duration `envconfig:"OPENMART_PAYMENTS_LOCK_TTL" default:"30s"`
}

// HostedGatewayConfig drives the HMAC-signed redirect provider.
type HostedGatewayConfig struct {
	BaseURL      string `envconfig:"OPENMART_HOSTED_GATEWAY_BASE_URL"`
	MerchantCode string `envconfig:"OPENMART_HOSTED_GATEWAY_MERCHANT_CODE"`
	Secret       string `envconfig:"OPENMART_HOSTED_GATEWAY_SECRET"`
	NotifyURL    string `envconfig:"OPENMART_HOSTED_GATEWAY_NOTIFY_URL"`
}

// CaptureGatewayConfig drives the two-phase approve/capture provider.
type CaptureGatewayConfig struct {
	BaseURL      string        `envconfig:"OPENMART_CAPTURE_GATEWAY_BASE_URL"`
	ClientID     string        `envconfig:"OPENMART_CAPTURE_GATEWAY_CLIENT_ID"`
	ClientSecret string        `envconfig:"OPENMART_CAPTURE_GATEWAY_CLIENT_SECRET"`
	Timeout      time.Duration `envconfig:"OPENMART_CAPTURE_GATEWAY_TIMEOUT" default:"15s"`
}

type SweeperConfig struct {
	Interval time.Duration `envconfig:"OPENMART_SWEEPER_INTERVAL" default:"1m"`
	LockTTL  time.Duration `envconfig:"OPENMART_SWEEPER_LOCK_TTL" default:"50s"`
	Batch    int           `envconfig:"OPENMART_SWEEPER_BATCH" default:"100"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"OPENMART_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"OPENMART_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"OPENMART_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type PubSubConfig struct {
	OrdersTopic        string `envconfig:"OPENMART_PUBSUB_ORDERS_TOPIC" default:"om-order-events"`
	OrdersSubscription string `envconfig:"OPENMART_PUBSUB_ORDERS_SUBSCRIPTION"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"OPENMART_GCP_PROJECT_ID"`
	ApplicationCredentials string `envconfig:"OPENMART_GOOGLE_APPLICATION_CREDENTIALS"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"OPENMART_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"OPENMART_AUTO_MIGRATE" default:"false"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	values := map[string]string{
		"OPENMART_DB_HOST": db.Host,
		"OPENMART_DB_USER": db.User,
		"OPENMART_DB_NAME": db.Name,
	}
	for _, name := range []string{"OPENMART_DB_HOST", "OPENMART_DB_USER", "OPENMART_DB_NAME"} {
		if values[name] == "" {
			missing = append(missing, name)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either OPENMART_DB_DSN or %s are required", strings.Join(missing, ", "))
	}

	userInfo := url.User(db.User)
	if db.Password != "" {
		userInfo = url.UserPassword(db.User, db.Password)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   db.Name,
	}

	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
