package risk

import (
	"fmt"
	"time"

	"github.com/moznion/go-optional"
)

// RiskLevel is an ordinal severity.
type RiskLevel string

const (
	LevelLow      RiskLevel = "low"
	LevelMedium   RiskLevel = "medium"
	LevelHigh     RiskLevel = "high"
	LevelCritical RiskLevel = "critical"
)

// Rank orders levels: low 0 through critical 3.
func (l RiskLevel) Rank() int {
	switch l {
	case LevelMedium:
		return 1
	case LevelHigh:
		return 2
	case LevelCritical:
		return 3
	default:
		return 0
	}
}

// AlertType identifies the limit an alert is about.
type AlertType string

const (
	AlertLeverage    AlertType = "leverage_warning"
	AlertDrawdown    AlertType = "drawdown_warning"
	AlertPosition    AlertType = "position_limit"
	AlertMarginCall  AlertType = "margin_call"
	AlertLiquidity   AlertType = "liquidity_risk"
	AlertCorrelation AlertType = "correlation_risk"
	AlertStopLoss    AlertType = "stop_loss"
	AlertTakeProfit  AlertType = "take_profit"
)

// RiskAlert is a detected limit breach. Alerts are keyed by (Type, Symbol) while active.
type RiskAlert struct {
	ID           string                   `json:"id"`
	Type         AlertType                `json:"type"`
	Level        RiskLevel                `json:"level"`
	Message      string                   `json:"message"`
	Symbol       optional.Option[string]  `json:"symbol"`
	CurrentValue optional.Option[float64] `json:"current_value"`
	Threshold    optional.Option[float64] `json:"threshold"`
	Timestamp    time.Time                `json:"timestamp"`
	Resolved     bool                     `json:"resolved"`
}

func (a RiskAlert) String() string {
	return fmt.Sprintf("[%s] %s: %s", a.Level, a.Type, a.Message)
}

func (a RiskAlert) key() string {
	return string(a.Type) + "|" + a.Symbol.TakeOr("")
}

// RiskMetrics is a point-in-time risk snapshot of an account.
type RiskMetrics struct {
	TotalEquity           float64   `json:"total_equity"`
	TotalMargin           float64   `json:"total_margin"`
	LeverageRatio         float64   `json:"leverage_ratio"` // used margin / equity
	MarginRatio           float64   `json:"margin_ratio"`   // available balance / equity
	UnrealizedPnL         float64   `json:"unrealized_pnl"`
	RealizedPnL           float64   `json:"realized_pnl"`
	TotalPnL              float64   `json:"total_pnl"`
	CurrentDrawdown       float64   `json:"current_drawdown"`
	MaxDrawdown           float64   `json:"max_drawdown"`
	PeakEquity            float64   `json:"peak_equity"`
	PositionCount         int       `json:"position_count"`
	LargestPositionRatio  float64   `json:"largest_position_ratio"`
	PositionConcentration float64   `json:"position_concentration"` // Herfindahl index
	LiquidityScore        float64   `json:"liquidity_score"`
	PortfolioCorrelation  float64   `json:"portfolio_correlation"`
	OverallRiskLevel      RiskLevel `json:"overall_risk_level"`
	Timestamp             time.Time `json:"timestamp"`
}

// RiskLimits are the configured thresholds. Ratios are fractions of equity unless noted.
type RiskLimits struct {
	MaxLeverage      float64 `json:"max_leverage" yaml:"max_leverage" envconfig:"MAX_LEVERAGE" default:"10" validate:"gte=1,lte=10"`
	MaxLeverageUsage float64 `json:"max_leverage_usage" yaml:"max_leverage_usage" envconfig:"MAX_LEVERAGE_USAGE" default:"0.8" validate:"gt=0"`
	MaxPositionSize  float64 `json:"max_position_size" yaml:"max_position_size" envconfig:"MAX_POSITION_SIZE" default:"0.3" validate:"gt=0"`
	MaxTotalExposure float64 `json:"max_total_exposure" yaml:"max_total_exposure" envconfig:"MAX_TOTAL_EXPOSURE" default:"0.8" validate:"gt=0"`
	MaxPositionCount int     `json:"max_position_count" yaml:"max_position_count" envconfig:"MAX_POSITION_COUNT" default:"10" validate:"gt=0"`

	MaxDrawdown    float64 `json:"max_drawdown" yaml:"max_drawdown" envconfig:"MAX_DRAWDOWN" default:"0.15" validate:"gt=0,lt=1"`
	DailyLossLimit float64 `json:"daily_loss_limit" yaml:"daily_loss_limit" envconfig:"DAILY_LOSS_LIMIT" default:"0.05" validate:"gt=0,lt=1"`

	MinMarginRatio  float64 `json:"min_margin_ratio" yaml:"min_margin_ratio" envconfig:"MIN_MARGIN_RATIO" default:"0.1" validate:"gte=0,lt=1"`
	MarginCallRatio float64 `json:"margin_call_ratio" yaml:"margin_call_ratio" envconfig:"MARGIN_CALL_RATIO" default:"0.05" validate:"gte=0,lt=1"`

	MinLiquidityScore float64 `json:"min_liquidity_score" yaml:"min_liquidity_score" envconfig:"MIN_LIQUIDITY_SCORE" default:"0.3" validate:"gte=0,lte=1"`
	MaxCorrelation    float64 `json:"max_correlation" yaml:"max_correlation" envconfig:"MAX_CORRELATION" default:"0.8" validate:"gte=0,lte=1"`
	// ReferenceVolume is the average volume that earns a full liquidity score.
	ReferenceVolume float64 `json:"reference_volume" yaml:"reference_volume" envconfig:"REFERENCE_VOLUME" default:"1000000" validate:"gt=0"`

	DefaultStopLoss   float64 `json:"default_stop_loss" yaml:"default_stop_loss" envconfig:"DEFAULT_STOP_LOSS" default:"0.05" validate:"gt=0,lt=1"`
	DefaultTakeProfit float64 `json:"default_take_profit" yaml:"default_take_profit" envconfig:"DEFAULT_TAKE_PROFIT" default:"0.10" validate:"gt=0"`

	MediumRiskThreshold float64 `json:"medium_risk_threshold" yaml:"medium_risk_threshold" envconfig:"MEDIUM_RISK_THRESHOLD" default:"0.5" validate:"gt=0"`
	HighRiskThreshold   float64 `json:"high_risk_threshold" yaml:"high_risk_threshold" envconfig:"HIGH_RISK_THRESHOLD" default:"0.75" validate:"gtfield=MediumRiskThreshold"`
	// CriticalDrawdownMultiple of MaxDrawdown turns a drawdown alert critical and halts trading.
	CriticalDrawdownMultiple float64 `json:"critical_drawdown_multiple" yaml:"critical_drawdown_multiple" envconfig:"CRITICAL_DRAWDOWN_MULTIPLE" default:"1.5" validate:"gte=1"`
}

// DefaultLimits returns the standard limits.
func DefaultLimits() RiskLimits {
	return RiskLimits{
		MaxLeverage:              10,
		MaxLeverageUsage:         0.8,
		MaxPositionSize:          0.3,
		MaxTotalExposure:         0.8,
		MaxPositionCount:         10,
		MaxDrawdown:              0.15,
		DailyLossLimit:           0.05,
		MinMarginRatio:           0.1,
		MarginCallRatio:          0.05,
		MinLiquidityScore:        0.3,
		MaxCorrelation:           0.8,
		ReferenceVolume:          1_000_000,
		DefaultStopLoss:          0.05,
		DefaultTakeProfit:        0.10,
		MediumRiskThreshold:      0.5,
		HighRiskThreshold:        0.75,
		CriticalDrawdownMultiple: 1.5,
	}
}

// Report is a JSON-friendly overview of the manager.
type Report struct {
	CurrentMetrics RiskMetrics  `json:"current_metrics"`
	Limits         ReportLimits `json:"risk_limits"`
	ActiveAlerts   []RiskAlert  `json:"active_alerts"`
	EmergencyMode  bool         `json:"emergency_mode"`
	TradingHalted  bool         `json:"trading_halted"`
}

// ReportLimits is the subset of limits shown in a Report.
type ReportLimits struct {
	MaxLeverage     float64 `json:"max_leverage"`
	MaxPositionSize float64 `json:"max_position_size"`
	MaxDrawdown     float64 `json:"max_drawdown"`
	MinMarginRatio  float64 `json:"min_margin_ratio"`
}

type marketPoint struct {
	price  float64
	volume float64
	at     time.Time
}
