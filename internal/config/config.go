// Package config предоставялет структуры и функцию для парсинга и загрузки конфига
package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config общая структура для хранения настроек
type Config struct {
	Env                     string `yaml:"env" env-default:"local"`
	StorageConnectionString string `yaml:"storage_connection_string"`
	MigrationsPath          string `yaml:"migrations_path" env-default:"./migrations"`
	RedisConnection         `yaml:"redis_connection"`
	HTTPServer              `yaml:"http_server"`
	JWTToken                `yaml:"jwttoken"`
	KV                      KV                       `yaml:"kv"`
	RateLimits              map[string]RateLimitRule `yaml:"rate_limits"`
	FreeQuota               FreeQuota                `yaml:"free_quota"`
	PaymentGateway          PaymentGateway           `yaml:"payment_gateway"`
	Billing                 Billing                  `yaml:"billing"`
	RabbitMQ                RabbitMQ                 `yaml:"rabbitmq"`
	SendGrid                SendGrid                 `yaml:"sendgrid"`
	Gemini                  Gemini                   `yaml:"gemini"`
	Tracing                 Tracing                  `yaml:"tracing"`
}

// HTTPServer структура для настройки сервера
type HTTPServer struct {
	AddressHTTP string        `yaml:"addresshttp" env-default:":8080"`
	TimeoutHTTP time.Duration `yaml:"timeouthttp" env-default:"30s"`
	IdleTimeout time.Duration `yaml:"idle_timeout" env-default:"60s"`
}

// RedisConnection структура для настройки подключения к redis
type RedisConnection struct {
	AddressRedis string        `yaml:"addressredis"`
	Password     string        `yaml:"password" env:"REDIS_PASSWORD"`
	User         string        `yaml:"user"`
	DB           int           `yaml:"db"`
	MaxRetries   int           `yaml:"max_retries"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	TimeoutRedis time.Duration `yaml:"timeoutredis"`
}

// JWTToken структура для работы с jwt-токеном
type JWTToken struct {
	JWTSecretKey string        `yaml:"jwt_secret_key" env:"JWT_SECRET_KEY"`
	TokenTTL     time.Duration `yaml:"token_ttl" env-default:"24h"`
}

// KV настройки key-value хранилища.
type KV struct {
	// Driver: redis или dynamodb.
	Driver   string   `yaml:"driver" env-default:"redis"`
	Tables   Tables   `yaml:"tables"`
	DynamoDB DynamoDB `yaml:"dynamodb"`
}

// Tables имена логических таблиц.
type Tables struct {
	Users           string `yaml:"users" env-default:"users"`
	RateLimits      string `yaml:"rate_limits" env-default:"rate_limits"`
	ProcessedOrders string `yaml:"processed_orders" env-default:"processed_orders"`
}

// DynamoDB настройки подключения к DynamoDB.
type DynamoDB struct {
	Region       string `yaml:"region" env:"AWS_REGION" env-default:"us-east-1"`
	Endpoint     string `yaml:"endpoint"`
	KeyAttribute string `yaml:"key_attribute" env-default:"id"`
	// Physical сопоставляет логическое имя таблицы с именем в AWS.
	Physical map[string]string `yaml:"physical"`
}

// RateLimitRule лимит для одного эндпоинта.
type RateLimitRule struct {
	MaxRequests int           `yaml:"max_requests"`
	Window      time.Duration `yaml:"window"`
	Prefix      string        `yaml:"prefix"`
	FailClosed  bool          `yaml:"fail_closed"`
}

// FreeQuota настройки бесплатных разовых квот.
type FreeQuota struct {
	Disabled                  bool `yaml:"disabled"`
	PremiumResumeMonthlyLimit int  `yaml:"premium_resume_monthly_limit" env-default:"40"`
}

// Enabled сообщает, выдаются ли бесплатные квоты.
func (f FreeQuota) Enabled() bool {
	return !f.Disabled
}

// PaymentGateway настройки платежного шлюза.
type PaymentGateway struct {
	BaseURL           string        `yaml:"base_url" env-default:"https://api-m.sandbox.paypal.com"`
	ClientID          string        `yaml:"client_id" env:"PAYPAL_CLIENT_ID"`
	ClientSecret      string        `yaml:"client_secret" env:"PAYPAL_CLIENT_SECRET"`
	Timeout           time.Duration `yaml:"timeout" env-default:"10s"`
	CaptureTimeout    time.Duration `yaml:"capture_timeout" env-default:"20s"`
	ReturnURL         string        `yaml:"return_url"`
	CancelURL         string        `yaml:"cancel_url"`
	BrandName         string        `yaml:"brand_name" env-default:"Resume Builder"`
	RequestsPerSecond float64       `yaml:"requests_per_second" env-default:"10"`
	Burst             int           `yaml:"burst" env-default:"20"`
}

// Billing настройки биллинга.
type Billing struct {
	MarkerRetention time.Duration   `yaml:"marker_retention" env-default:"720h"`
	Plans           map[string]Plan `yaml:"plans"`
}

// Plan запись таблицы цен.
type Plan struct {
	Amount         string `yaml:"amount"`
	Currency       string `yaml:"currency"`
	DurationMonths int    `yaml:"duration_months"`
	Description    string `yaml:"description"`
}

// RabbitMQ настройки брокера уведомлений.
type RabbitMQ struct {
	URL        string        `yaml:"url" env:"RABBITMQ_URL"`
	MaxRetries int           `yaml:"max_retries" env-default:"5"`
	RetryDelay time.Duration `yaml:"retry_delay" env-default:"2s"`
}

// SendGrid настройки отправки писем.
type SendGrid struct {
	APIKey    string `yaml:"api_key" env:"SENDGRID_API_KEY"`
	FromEmail string `yaml:"from_email"`
	FromName  string `yaml:"from_name" env-default:"Resume Builder"`
}

// Gemini настройки AI-провайдера.
type Gemini struct {
	APIKey  string        `yaml:"api_key" env:"GEMINI_API_KEY"`
	Model   string        `yaml:"model" env-default:"gemini-2.0-flash"`
	Timeout time.Duration `yaml:"timeout" env-default:"60s"`
}

// Tracing настройки OpenTelemetry.
type Tracing struct {
	Enabled      bool    `yaml:"enabled"`
	Endpoint     string  `yaml:"endpoint" env-default:"localhost:4317"`
	ServiceName  string  `yaml:"service_name" env-default:"resume-entitlement"`
	SamplingRate float64 `yaml:"sampling_rate" env-default:"1"`
}

// DefaultPlans таблица цен, если в конфиге она не задана.
func DefaultPlans() map[string]Plan {
	return map[string]Plan{
		"monthly": {Amount: "10.00", Currency: "USD", DurationMonths: 1, Description: "Premium Monthly Subscription"},
		"yearly":  {Amount: "60.00", Currency: "USD", DurationMonths: 12, Description: "Premium Yearly Subscription"},
	}
}

// DefaultRateLimits лимиты эндпоинтов по умолчанию.
func DefaultRateLimits() map[string]RateLimitRule {
	return map[string]RateLimitRule{
		"billing-order":   {MaxRequests: 5, Window: 5 * time.Minute, Prefix: "paypal-order"},
		"billing-capture": {MaxRequests: 10, Window: time.Minute},
		"download":        {MaxRequests: 20, Window: time.Minute},
		"generate-resume": {MaxRequests: 5, Window: time.Minute},
		"ai-enhance":      {MaxRequests: 5, Window: time.Minute},
	}
}

// MustLoad функция для загрузки конфига, возвращает конфиг, сгенерированный из config/config.go
func MustLoad() *Config {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		log.Fatal("CONFIG_PATH is not set")
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		log.Fatalf("file: %s - does not exist", configPath)
	}
	var cfg Config

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		log.Fatalf("cannot read config: %s", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %s", err)
	}
	return &cfg
}

// Validate проверяет значения, при которых сервис не может работать корректно.
func (c *Config) Validate() error {
	for name, rule := range c.RateLimits {
		if err := rule.Validate(); err != nil {
			return fmt.Errorf("rate_limits.%s: %w", name, err)
		}
	}
	return nil
}

// Validate проверяет правило: хотя бы один запрос в окне не короче секунды.
// Окна хранятся с точностью до секунды.
func (r RateLimitRule) Validate() error {
	if r.MaxRequests < 1 {
		return fmt.Errorf("max_requests must be at least 1, got %d", r.MaxRequests)
	}
	if r.Window < time.Second {
		return fmt.Errorf("window must be at least 1s, got %s", r.Window)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if len(c.Billing.Plans) == 0 {
		c.Billing.Plans = DefaultPlans()
	}
	defaults := DefaultRateLimits()
	if c.RateLimits == nil {
		c.RateLimits = make(map[string]RateLimitRule, len(defaults))
	}
	for name, rule := range defaults {
		if _, ok := c.RateLimits[name]; !ok {
			c.RateLimits[name] = rule
		}
	}
}

func (c *Config) String() string {
	return fmt.Sprintf(
		"Env: %s\n"+
			"KV driver: %s\n"+
			"RedisConnection:\n"+
			"  Addr: %s\n"+
			"  DB: %d\n"+
			"HTTPServer:\n"+
			"  Address: %s\n"+
			"  Timeout: %s\n"+
			"  IdleTimeout: %s\n"+
			"PaymentGateway:\n"+
			"  BaseURL: %s\n"+
			"  Timeout: %s\n"+
			"FreeQuota enabled: %t\n"+
			"Plans: %d\n",
		c.Env,
		c.KV.Driver,
		c.AddressRedis,
		c.DB,
		c.AddressHTTP,
		c.TimeoutHTTP,
		c.IdleTimeout,
		c.PaymentGateway.BaseURL,
		c.PaymentGateway.Timeout,
		c.FreeQuota.Enabled(),
		len(c.Billing.Plans),
	)
}
