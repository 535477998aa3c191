// Package sizing computes follower order quantities from the leader's order
// and the follower's sizing policy.
package sizing

import (
	"math"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"grouptrade/src/broker"
	"grouptrade/src/model"
)

// Calculate maps a leader order quantity to a follower quantity under the
// follower's ratio mode. Account metric lookups that fail, or a leader value
// of zero or less, silently fall back to exact 1:1 sizing; sizing never fails
// a replication.
//
// The result is rounded to the nearest contract, clamped to the policy's
// min/max bounds (max 0 means unbounded) and floored at one.
func Calculate(
	leaderQuantity int,
	policy model.FollowerAccountConfig,
	leaderMetrics broker.AccountMetrics,
	followerMetrics broker.AccountMetrics,
	enabledFollowerCount int,
	currentPosition int,
) int {
	var raw float64

	switch policy.RatioMode {
	case model.RatioModeExact:
		raw = float64(leaderQuantity)

	case model.RatioModeEqualSplit:
		if enabledFollowerCount < 1 {
			enabledFollowerCount = 1
		}
		raw = float64(leaderQuantity) / float64(enabledFollowerCount)

	case model.RatioModeFixed:
		raw = float64(leaderQuantity) * policy.EffectiveRatio()

	case model.RatioModeNetLiquidation:
		raw = scaleByItem(leaderQuantity, broker.ItemNetLiquidation, leaderMetrics, followerMetrics)

	case model.RatioModeAvailableFunds:
		raw = scaleByItem(leaderQuantity, broker.ItemBuyingPower, leaderMetrics, followerMetrics)

	case model.RatioModePercentOfPosition:
		raw = math.Abs(float64(currentPosition) * policy.PercentValue / 100.0)

	case model.RatioModePreAllocated:
		raw = float64(policy.PreAllocated)

	default:
		raw = float64(leaderQuantity)
	}

	quantity := int(math.Round(raw))

	if quantity < policy.MinQuantity {
		quantity = policy.MinQuantity
	}
	if policy.MaxQuantity > 0 && quantity > policy.MaxQuantity {
		quantity = policy.MaxQuantity
	}
	if quantity < 1 {
		quantity = 1
	}

	return quantity
}

// scaleByItem sizes by the ratio of a follower account metric over the same
// leader metric.
func scaleByItem(leaderQuantity int, item broker.AccountItem, leader, follower broker.AccountMetrics) float64 {
	if leader == nil || follower == nil {
		return float64(leaderQuantity)
	}

	leaderValue, err := leader.Item(item)
	if err != nil {
		logger.WithError(err).WithField("item", item).
			Debug("leader metric unavailable, falling back to exact sizing")
		return float64(leaderQuantity)
	}
	followerValue, err := follower.Item(item)
	if err != nil {
		logger.WithError(err).WithField("item", item).
			Debug("follower metric unavailable, falling back to exact sizing")
		return float64(leaderQuantity)
	}

	if leaderValue.LessThanOrEqual(decimal.Zero) {
		return float64(leaderQuantity)
	}

	ratio, _ := followerValue.Div(leaderValue).Float64()
	return float64(leaderQuantity) * ratio
}
