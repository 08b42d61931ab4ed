package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Insecure fallbacks, only acceptable on a developer machine.
const (
	defaultJWTSecret          = "your_jwt_secret_key"
	defaultCallbackToken      = "change-me"
	defaultSecurityCredential = "your_security_credential"
)

// Config is built once at start-up and handed to every component.
type Config struct {
	Env         string
	ServiceName string
	HTTPPort    string
	MetricsPort string

	DB DatabaseConfig

	JWTSecret  string
	TokenTTL   time.Duration
	UploadDir  string
	CORSOrigin string

	RateLimitRPS   float64
	RateLimitBurst int

	RedisAddr      string
	KafkaBrokers   []string
	OutboxInterval time.Duration

	FCMCredentialsFile string

	MPesa    MPesaConfig
	Midtrans MidtransConfig
}

type DatabaseConfig struct {
	Driver   string // mysql, postgres, sqlite
	DSN      string // wins over the discrete fields when set
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type MPesaConfig struct {
	BaseURL            string
	ConsumerKey        string
	ConsumerSecret     string
	ShortCode          string
	PassKey            string
	InitiatorName      string
	SecurityCredential string
	AccountReference   string

	CallbackURL string // STK push result
	ResultURL   string // B2C result
	TimeoutURL  string // B2C queue timeout

	// CallbackToken must be present as ?token= on every inbound callback.
	CallbackToken string
	Timeout       time.Duration

	// MaxAmount is the per-transaction ceiling in whole shillings.
	MaxAmount int64
}

type MidtransConfig struct {
	ServerKey   string
	Environment string // sandbox, production
}

// Load reads .env (if present) and the process environment.
func Load() Config {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setDefaults(v)

	return Config{
		Env:         v.GetString("ENV"),
		ServiceName: v.GetString("SERVICE_NAME"),
		HTTPPort:    v.GetString("PORT"),
		MetricsPort: v.GetString("METRICS_PORT"),

		DB: DatabaseConfig{
			Driver:          strings.ToLower(v.GetString("DB_DRIVER")),
			DSN:             v.GetString("DB_DSN"),
			Host:            v.GetString("DB_HOST"),
			Port:            v.GetInt("DB_PORT"),
			User:            v.GetString("DB_USER"),
			Password:        v.GetString("DB_PASSWORD"),
			Name:            v.GetString("DB_NAME"),
			MaxOpenConns:    v.GetInt("DB_MAX_OPEN_CONNS"),
			MaxIdleConns:    v.GetInt("DB_MAX_IDLE_CONNS"),
			ConnMaxLifetime: v.GetDuration("DB_CONN_MAX_LIFETIME"),
		},

		JWTSecret:  v.GetString("JWT_SECRET"),
		TokenTTL:   v.GetDuration("TOKEN_TTL"),
		UploadDir:  v.GetString("UPLOAD_DIR"),
		CORSOrigin: v.GetString("CORS_ORIGIN"),

		RateLimitRPS:   v.GetFloat64("RATE_LIMIT_RPS"),
		RateLimitBurst: v.GetInt("RATE_LIMIT_BURST"),

		RedisAddr:      v.GetString("REDIS_ADDR"),
		KafkaBrokers:   splitList(v.GetString("KAFKA_BROKERS")),
		OutboxInterval: v.GetDuration("OUTBOX_INTERVAL"),

		FCMCredentialsFile: v.GetString("FCM_CREDENTIALS_FILE"),

		MPesa: MPesaConfig{
			BaseURL:            strings.TrimRight(v.GetString("MPESA_BASE_URL"), "/"),
			ConsumerKey:        v.GetString("MPESA_CONSUMER_KEY"),
			ConsumerSecret:     v.GetString("MPESA_CONSUMER_SECRET"),
			ShortCode:          v.GetString("MPESA_SHORTCODE"),
			PassKey:            v.GetString("MPESA_PASSKEY"),
			InitiatorName:      v.GetString("MPESA_INITIATOR_NAME"),
			SecurityCredential: v.GetString("MPESA_SECURITY_CREDENTIAL"),
			AccountReference:   v.GetString("MPESA_ACCOUNT_REFERENCE"),
			CallbackURL:        v.GetString("MPESA_CALLBACK_URL"),
			ResultURL:          v.GetString("MPESA_RESULT_URL"),
			TimeoutURL:         v.GetString("MPESA_TIMEOUT_URL"),
			CallbackToken:      v.GetString("MPESA_CALLBACK_TOKEN"),
			Timeout:            v.GetDuration("MPESA_TIMEOUT"),
			MaxAmount:          v.GetInt64("MPESA_MAX_AMOUNT"),
		},

		Midtrans: MidtransConfig{
			ServerKey:   v.GetString("MIDTRANS_SERVER_KEY"),
			Environment: strings.ToLower(v.GetString("MIDTRANS_ENV")),
		},
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", "local")
	v.SetDefault("SERVICE_NAME", "jcm-p2p-api")
	v.SetDefault("PORT", "5000")
	v.SetDefault("METRICS_PORT", "9095")

	v.SetDefault("DB_DRIVER", "mysql")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 3306)
	v.SetDefault("DB_USER", "root")
	v.SetDefault("DB_PASSWORD", "")
	v.SetDefault("DB_NAME", "jcm_p2p")
	v.SetDefault("DB_MAX_OPEN_CONNS", 25)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_CONN_MAX_LIFETIME", "30m")

	v.SetDefault("JWT_SECRET", defaultJWTSecret)
	v.SetDefault("TOKEN_TTL", "1h")
	v.SetDefault("UPLOAD_DIR", "uploads")
	v.SetDefault("CORS_ORIGIN", "http://localhost:3000")

	v.SetDefault("RATE_LIMIT_RPS", 5)
	v.SetDefault("RATE_LIMIT_BURST", 10)

	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("OUTBOX_INTERVAL", "2s")

	v.SetDefault("MPESA_BASE_URL", "https://sandbox.safaricom.co.ke")
	v.SetDefault("MPESA_SHORTCODE", "174379")
	v.SetDefault("MPESA_INITIATOR_NAME", "testapi")
	v.SetDefault("MPESA_SECURITY_CREDENTIAL", defaultSecurityCredential)
	v.SetDefault("MPESA_ACCOUNT_REFERENCE", "JCM-P2P")
	v.SetDefault("MPESA_CALLBACK_URL", "https://your-callback-url.com")
	v.SetDefault("MPESA_RESULT_URL", "https://your-result-url.com")
	v.SetDefault("MPESA_TIMEOUT_URL", "https://your-timeout-url.com")
	v.SetDefault("MPESA_CALLBACK_TOKEN", defaultCallbackToken)
	v.SetDefault("MPESA_TIMEOUT", "30s")
	v.SetDefault("MPESA_MAX_AMOUNT", 250000)

	v.SetDefault("MIDTRANS_ENV", "sandbox")
}

// Warnings lists settings still running on insecure fallbacks.
func (c Config) Warnings() []string {
	var w []string
	if c.JWTSecret == defaultJWTSecret {
		w = append(w, "JWT_SECRET not set, using default insecure key")
	}
	if c.DB.DSN == "" && c.DB.Driver != "sqlite" && c.DB.Password == "" {
		w = append(w, "DB_PASSWORD not set, using empty string")
	}
	if c.MPesa.ConsumerKey == "" || c.MPesa.ConsumerSecret == "" {
		w = append(w, "MPESA_CONSUMER_KEY/MPESA_CONSUMER_SECRET not set, M-Pesa calls will be rejected")
	}
	if c.MPesa.PassKey == "" {
		w = append(w, "MPESA_PASSKEY not set, STK push passwords will be invalid")
	}
	if c.MPesa.SecurityCredential == defaultSecurityCredential {
		w = append(w, "MPESA_SECURITY_CREDENTIAL not set, using placeholder")
	}
	if c.MPesa.CallbackToken == defaultCallbackToken {
		w = append(w, "MPESA_CALLBACK_TOKEN not set, callbacks are guarded by a public default")
	}
	if c.Midtrans.ServerKey == "" {
		w = append(w, "MIDTRANS_SERVER_KEY not set, card deposits disabled")
	}
	return w
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
