package service

import "github.com/shopspring/decimal"

// Tier is a member's standing by all-time earned points. Tiers never demote
// because earned points are never taken back by conversions.
type Tier struct {
	Name     string          `json:"name"`
	Next     string          `json:"next"`
	Target   decimal.Decimal `json:"target"`
	Progress float64         `json:"progress"` // percent towards Target, 0-100
}

type tierStep struct {
	name      string
	threshold int64
}

// Ascending thresholds in earned points.
var tiers = []tierStep{
	{"Newcomer", 0},
	{"Member", 100},
	{"Regular", 1000},
	{"Veteran", 10000},
	{"Legend", 50000},
}

// Weekly activity thresholds.
const (
	WeeklyOnFire   = 500
	WeeklyTrending = 200
	WeeklyActive   = 50
)

func TierFor(earned decimal.Decimal) Tier {
	i := 0
	for i+1 < len(tiers) && earned.GreaterThanOrEqual(decimal.NewFromInt(tiers[i+1].threshold)) {
		i++
	}

	if i == len(tiers)-1 {
		top := decimal.NewFromInt(tiers[i].threshold)
		return Tier{Name: tiers[i].name, Next: "Max Level", Target: top, Progress: 100}
	}

	target := decimal.NewFromInt(tiers[i+1].threshold)
	progress, _ := earned.Div(target).Mul(decimal.NewFromInt(100)).Round(2).Float64()
	return Tier{Name: tiers[i].name, Next: tiers[i+1].name, Target: target, Progress: progress}
}

// WeeklyLabel names recent activity, or "" for quiet weeks.
func WeeklyLabel(weekly decimal.Decimal) string {
	switch {
	case weekly.GreaterThanOrEqual(decimal.NewFromInt(WeeklyOnFire)):
		return "On Fire"
	case weekly.GreaterThanOrEqual(decimal.NewFromInt(WeeklyTrending)):
		return "Trending"
	case weekly.GreaterThanOrEqual(decimal.NewFromInt(WeeklyActive)):
		return "Active"
	default:
		return ""
	}
}
