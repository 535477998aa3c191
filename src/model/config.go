package model

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// RatioMode selects how a follower's order quantity is derived from the
// leader's.
type RatioMode string

const (
	// RatioModeExact copies the leader quantity 1:1.
	RatioModeExact RatioMode = "exact"
	// RatioModeEqualSplit divides the leader quantity across all enabled
	// followers.
	RatioModeEqualSplit RatioMode = "equal_split"
	// RatioModeFixed multiplies the leader quantity by a fixed ratio. The
	// ratio is always applied as its absolute value so a follower can never
	// end up hedging the leader.
	RatioModeFixed RatioMode = "fixed_ratio"
	// RatioModeNetLiquidation scales by follower equity / leader equity.
	RatioModeNetLiquidation RatioMode = "net_liquidation"
	// RatioModeAvailableFunds scales by follower buying power / leader buying
	// power.
	RatioModeAvailableFunds RatioMode = "available_funds"
	// RatioModePercentOfPosition sizes off the follower's current position
	// instead of the leader order.
	RatioModePercentOfPosition RatioMode = "percent_of_position"
	// RatioModePreAllocated uses a preset quantity, ignoring the leader order
	// entirely.
	RatioModePreAllocated RatioMode = "pre_allocated"
)

// CopyMode restricts which leader orders are replicated.
type CopyMode string

const (
	CopyModeAllOrders  CopyMode = "all_orders"
	CopyModeMarketOnly CopyMode = "market_only"
)

// FollowerAccountConfig is the per-follower sizing policy.
type FollowerAccountConfig struct {
	AccountName string
	Enabled     bool

	RatioMode    RatioMode
	FixedRatio   float64
	PreAllocated int
	PercentValue float64

	MinQuantity int
	// MaxQuantity caps the computed quantity. Zero means unbounded.
	MaxQuantity int

	// CrossOrderTarget, when set, routes copies into the paired instrument
	// (e.g. leader trades NQ, follower trades MNQ) with quantity rescaling.
	CrossOrderTarget string

	Notes string
}

// EffectiveRatio returns the fixed ratio coerced to a positive value.
// A negative or reversing ratio must never silently flip direction.
func (f FollowerAccountConfig) EffectiveRatio() float64 {
	return math.Max(0.01, math.Abs(f.FixedRatio))
}

// GuardConfig holds the follower-guard thresholds and trigger actions.
type GuardConfig struct {
	EnableConsecutiveLossGuard bool
	ConsecutiveLossCount       int

	EnableDailyLossGuard bool
	DailyLossLimit       decimal.Decimal

	EnableEquityDrawdownGuard bool
	EquityDrawdownPercent     float64

	EnablePositionTimeoutGuard bool
	PositionTimeout            time.Duration

	EnableOrderRejectedGuard bool
	OrderRejectedCount       int

	FlattenOnTrigger bool
	DisableOnTrigger bool
	NotifyOnTrigger  bool
}

// DefaultGuardConfig mirrors the thresholds the add-on shipped with.
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		EnableConsecutiveLossGuard: true,
		ConsecutiveLossCount:       3,
		EnableDailyLossGuard:       true,
		DailyLossLimit:             decimal.NewFromInt(500),
		EnableEquityDrawdownGuard:  true,
		EquityDrawdownPercent:      5.0,
		EnablePositionTimeoutGuard: false,
		PositionTimeout:            time.Hour,
		EnableOrderRejectedGuard:   true,
		OrderRejectedCount:         5,
		FlattenOnTrigger:           true,
		DisableOnTrigger:           true,
		NotifyOnTrigger:            false,
	}
}

// CopyConfiguration is the full engine configuration handed to Start.
type CopyConfiguration struct {
	LeaderAccountName string
	FollowerAccounts  []FollowerAccountConfig

	CopyMode CopyMode

	// SyncOrderCancel propagates leader cancels to follower orders.
	SyncOrderCancel bool
	// SyncOrderModify propagates leader price/quantity changes.
	SyncOrderModify bool
	// CancelOpenOnStop cancels still-working follower orders when the engine
	// shuts down.
	CancelOpenOnStop bool

	// StealthMode leaves copy orders unnamed instead of tagging them with the
	// leader order id. Loop prevention then relies on the tracker's reverse
	// index alone.
	StealthMode bool

	EnableFollowerGuard bool
	Guard               GuardConfig
}

// EnabledFollowerCount returns how many followers will take part in fan-out.
func (c CopyConfiguration) EnabledFollowerCount() int {
	count := 0
	for _, f := range c.FollowerAccounts {
		if f.Enabled {
			count++
		}
	}
	return count
}

// DefaultCopyConfiguration returns a configuration with the sync options the
// original shipped enabled and no accounts attached.
func DefaultCopyConfiguration() CopyConfiguration {
	return CopyConfiguration{
		CopyMode:            CopyModeAllOrders,
		SyncOrderCancel:     true,
		SyncOrderModify:     true,
		EnableFollowerGuard: true,
		Guard:               DefaultGuardConfig(),
	}
}
