package config

import (
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"leverage-core/internal/risk"
	"leverage-core/pkg/errors"
)

// Config holds environment-driven settings for the trading core. Each section reads
// variables under its own prefix (APP_, TRADING_, RISK_, ...); the bare name is accepted
// as a fallback, e.g. LOG_LEVEL for APP_LOG_LEVEL.
type Config struct {
	App       AppConfig       `envconfig:"APP"`
	Trading   TradingConfig   `envconfig:"TRADING"`
	Execution ExecutionConfig `envconfig:"EXECUTION"`
	Risk      risk.RiskLimits `envconfig:"RISK"`
	Exchange  ExchangeConfig  `envconfig:"EXCHANGE"`
	API       APIConfig       `envconfig:"API"`
	DB        DBConfig        `envconfig:"DB"`
	Discord   DiscordConfig   `envconfig:"DISCORD"`
}

type AppConfig struct {
	LogLevel string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
	DataDir  string `envconfig:"DATA_DIR" default:"./data"`
}

type TradingConfig struct {
	Symbol          string        `envconfig:"SYMBOL" default:"BTCUSDT" validate:"required"`
	UpdateInterval  time.Duration `envconfig:"UPDATE_INTERVAL" default:"1s" validate:"gte=10ms"`
	PriceHistoryCap int           `envconfig:"PRICE_HISTORY_CAP" default:"1000" validate:"gtefield=MinHistory"`
	MinHistory      int           `envconfig:"MIN_HISTORY" default:"100" validate:"gt=0"`
	CandleBand      float64       `envconfig:"CANDLE_BAND" default:"0.01" validate:"gt=0,lt=1"`
	InitialBalance  float64       `envconfig:"INITIAL_BALANCE" default:"10000" validate:"gt=0"`
	Strategy        string        `envconfig:"STRATEGY" default:"ma_cross"`
	StrategyFile    string        `envconfig:"STRATEGY_FILE"`
	MaxLeverage     float64       `envconfig:"MAX_LEVERAGE" default:"5" validate:"gte=1,lte=10"`
	DynamicLeverage bool          `envconfig:"DYNAMIC_LEVERAGE" default:"true"`
	PositionSize    float64       `envconfig:"POSITION_SIZE" default:"0.1" validate:"gt=0,lte=1"`
}

type ExecutionConfig struct {
	// Mode is "simulated" (in-process fills) or "exchange" (forward to the venue).
	Mode              string        `envconfig:"MODE" default:"simulated" validate:"oneof=simulated exchange"`
	MaxSlippage       float64       `envconfig:"MAX_SLIPPAGE" default:"0.001" validate:"gte=0,lt=0.1"`
	OrderTimeout      time.Duration `envconfig:"ORDER_TIMEOUT" default:"30s" validate:"gt=0"`
	MinOrderSize      float64       `envconfig:"MIN_ORDER_SIZE" default:"0.0001" validate:"gt=0"`
	PricePrecision    int32         `envconfig:"PRICE_PRECISION" default:"2" validate:"gte=0,lte=8"`
	QuantityPrecision int32         `envconfig:"QUANTITY_PRECISION" default:"4" validate:"gte=0,lte=8"`
	DefaultSellRatio  float64       `envconfig:"DEFAULT_SELL_RATIO" default:"0.3" validate:"gt=0,lte=1"`
	SimSuccessRate    float64       `envconfig:"SIM_SUCCESS_RATE" default:"0.95" validate:"gt=0,lte=1"`
	SimLatency        time.Duration `envconfig:"SIM_LATENCY" default:"100ms"`
	SimFeeRate        float64       `envconfig:"SIM_FEE_RATE" default:"0.0004" validate:"gte=0"`
}

type ExchangeConfig struct {
	Kind              string        `envconfig:"KIND" default:"mock" validate:"oneof=mock binance"`
	Name              string        `envconfig:"NAME" default:"primary"`
	APIKey            string        `envconfig:"API_KEY" validate:"required_if=Kind binance"`
	APISecret         string        `envconfig:"API_SECRET" validate:"required_if=Kind binance"`
	Testnet           bool          `envconfig:"TESTNET" default:"true"`
	BaseURL           string        `envconfig:"BASE_URL" validate:"omitempty,url"`
	RequestsPerSecond float64       `envconfig:"REQUESTS_PER_SECOND" default:"10" validate:"gt=0"`
	Timeout           time.Duration `envconfig:"TIMEOUT" default:"10s" validate:"gt=0"`
	MockSeed          int64         `envconfig:"MOCK_SEED"`
}

type APIConfig struct {
	Enabled   bool    `envconfig:"ENABLED" default:"true"`
	Port      string  `envconfig:"PORT" default:"8080"`
	JWTSecret string  `envconfig:"JWT_SECRET" default:"dev-secret" validate:"required"`
	RateLimit float64 `envconfig:"RATE_LIMIT" default:"20" validate:"gt=0"`
	RateBurst int     `envconfig:"RATE_BURST" default:"40" validate:"gt=0"`
}

type DBConfig struct {
	Enabled       bool          `envconfig:"ENABLED" default:"true"`
	Path          string        `envconfig:"SQLITE_PATH" default:"./data/leverage.db"`
	BatchSize     int           `envconfig:"BATCH_SIZE" default:"100" validate:"gt=0"`
	FlushInterval time.Duration `envconfig:"FLUSH_INTERVAL" default:"1s" validate:"gt=0"`
}

type DiscordConfig struct {
	Enabled    bool   `envconfig:"ENABLED" default:"false"`
	WebhookURL string `envconfig:"WEBHOOK_URL" validate:"omitempty,url"`
	MinLevel   string `envconfig:"MIN_LEVEL" default:"high" validate:"oneof=low medium high critical"`
}

// Load reads environment variables (optionally via .env) into Config and validates it.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidConfiguration, "process environment", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = validator.New()

// Validate checks every section against its validate tags.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid configuration", err)
	}
	if c.Discord.Enabled && c.Discord.WebhookURL == "" {
		return errors.New(errors.ErrCodeInvalidConfiguration, "discord is enabled but DISCORD_WEBHOOK_URL is empty")
	}
	return nil
}

// LoadRiskLimits overlays the YAML file at path on base. Keys missing from the file keep
// their base value. An empty path returns base unchanged.
func LoadRiskLimits(path string, base risk.RiskLimits) (risk.RiskLimits, error) {
	if path == "" {
		return base, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return base, errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "read %s", path)
	}
	limits := base
	if err := yaml.Unmarshal(data, &limits); err != nil {
		return base, errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "decode %s", path)
	}
	if err := ValidateRiskLimits(limits); err != nil {
		return base, errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "limits in %s", path)
	}
	return limits, nil
}

// ValidateRiskLimits checks limits against their validate tags.
func ValidateRiskLimits(limits risk.RiskLimits) error {
	if err := validate.Struct(limits); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidParameter, "invalid risk limits", err)
	}
	return nil
}

// MarshalRiskLimits renders limits as YAML in the same shape LoadRiskLimits reads.
func MarshalRiskLimits(limits risk.RiskLimits) ([]byte, error) {
	return yaml.Marshal(limits)
}
