package orders

import (
	"fmt"
	"strings"
	"time"
)

type Range string

const (
	RangeDay   Range = "day"
	RangeWeek  Range = "week"
	RangeMonth Range = "month"
	RangeYear  Range = "year"
)

// ParseRange defaults to a month when s is empty.
func ParseRange(s string) (Range, error) {
	switch r := Range(strings.ToLower(strings.TrimSpace(s))); r {
	case "":
		return RangeMonth, nil
	case RangeDay, RangeWeek, RangeMonth, RangeYear:
		return r, nil
	default:
		return "", fmt.Errorf("%w: unknown range %q", ErrInvalidInput, s)
	}
}

// Since returns the start of the window ending at now.
func (r Range) Since(now time.Time) time.Time {
	switch r {
	case RangeDay:
		return now.AddDate(0, 0, -1)
	case RangeWeek:
		return now.AddDate(0, 0, -7)
	case RangeYear:
		return now.AddDate(-1, 0, 0)
	default:
		return now.AddDate(0, -1, 0)
	}
}

// Summary is the raw rollup read from storage.
type Summary struct {
	RevenueCents int64
	OrderCount   int
	TopProduct   *TopProduct
}

type TopProduct struct {
	ProductID    int64 `json:"product_id"`
	RevenueCents int64 `json:"revenue_cents"`
}

type Metrics struct {
	StoreID      int64       `json:"store_id"`
	Range        Range       `json:"range"`
	Since        time.Time   `json:"since"`
	Until        time.Time   `json:"until"`
	RevenueCents int64       `json:"revenue_cents"`
	OrderCount   int         `json:"order_count"`
	TopProduct   *TopProduct `json:"top_product"`
}
