package core

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// BarWidth is the horizontal space reserved for one chart bar, in pixels.
const BarWidth = 120

// ChartPoint is the total amount billed to one customer name.
type ChartPoint struct {
	Name   string  `json:"name"`
	Amount float64 `json:"amount"`
}

// Aggregate sums record amounts per exact customer name in a single pass.
// Points keep the order in which each name first appears. Names are not
// normalized, and amounts that do not parse count as zero.
func Aggregate(records []BillingRecord) []ChartPoint {
	points := make([]ChartPoint, 0, len(records))
	index := make(map[string]int, len(records))
	for _, r := range records {
		amount := r.Amount.Float()
		if i, ok := index[r.Name]; ok {
			points[i].Amount += amount
			continue
		}
		index[r.Name] = len(points)
		points = append(points, ChartPoint{Name: r.Name, Amount: amount})
	}
	return points
}

// ChartWidth is the pixel width of a chart with one bar per point.
func ChartWidth(points []ChartPoint) int {
	return len(points) * BarWidth
}

// Bar is a chart point scaled against the largest point.
type Bar struct {
	ChartPoint
	Percent int
}

// Label formats the bar amount with two decimals.
func (b Bar) Label() string {
	return decimal.NewFromFloat(b.Amount).StringFixed(2)
}

// ScaleBars converts points into bar heights in percent of the maximum.
// Non-zero bars are at least 2% so they stay visible.
func ScaleBars(points []ChartPoint) []Bar {
	var max float64
	for _, p := range points {
		if p.Amount > max {
			max = p.Amount
		}
	}
	bars := make([]Bar, len(points))
	for i, p := range points {
		bars[i] = Bar{ChartPoint: p}
		if max <= 0 || p.Amount <= 0 {
			continue
		}
		pct := int(math.Round(p.Amount / max * 100))
		if pct < 2 {
			pct = 2
		}
		if pct > 100 {
			pct = 100
		}
		bars[i].Percent = pct
	}
	return bars
}

// UserStats are the per-user counters shown on the dashboard cards.
type UserStats struct {
	CustomerCount int     `json:"customer_count"`
	BillCount     int     `json:"bill_count"`
	TotalAmount   float64 `json:"total_amount"`
}

// UnmarshalJSON accepts total_amount as a number or a numeric string, which is
// how decimal columns are often serialized.
func (s *UserStats) UnmarshalJSON(data []byte) error {
	var raw struct {
		CustomerCount int    `json:"customer_count"`
		BillCount     int    `json:"bill_count"`
		TotalAmount   Amount `json:"total_amount"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode user stats: %w", err)
	}
	*s = UserStats{
		CustomerCount: raw.CustomerCount,
		BillCount:     raw.BillCount,
		TotalAmount:   raw.TotalAmount.Float(),
	}
	return nil
}

// FormattedTotal renders the total with exactly two decimals.
func (s UserStats) FormattedTotal() string {
	return decimal.NewFromFloat(s.TotalAmount).StringFixed(2)
}

// ComputeStats derives the dashboard counters from a bill list. The total is
// summed in decimal so that many small amounts do not drift.
func ComputeStats(records []BillingRecord) UserStats {
	customers := make(map[string]struct{}, len(records))
	total := decimal.Zero
	for _, r := range records {
		customers[r.Name] = struct{}{}
		total = total.Add(decimal.NewFromFloat(r.Amount.Float()))
	}
	return UserStats{
		CustomerCount: len(customers),
		BillCount:     len(records),
		TotalAmount:   total.InexactFloat64(),
	}
}
