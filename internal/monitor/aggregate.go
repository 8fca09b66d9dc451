package monitor

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"crypto-price-alerts/internal/storage"
)

// outputPlaces is the price rounding applied to aggregate output.
const outputPlaces = 8

// HourlyAggregate is one per-hour mean price bucket. Derived on read,
// never persisted.
type HourlyAggregate struct {
	HourStart  time.Time
	ETHPrice   decimal.Decimal
	MATICPrice decimal.Decimal
	Count      int
}

// HourlyBuckets folds a sequence of samples into per-hour mean buckets,
// newest hour first. The mean is maintained incrementally,
// newMean = (oldMean*count + value) / (count+1), which is equivalent to the
// plain average for any input order. Prices are rounded to 8 decimal places
// on output. An empty input yields an empty (non-nil) slice.
func HourlyBuckets(samples []storage.PriceSample) []HourlyAggregate {
	buckets := make(map[time.Time]*HourlyAggregate, len(samples)/4+1)

	for _, sample := range samples {
		hour := sample.Timestamp.UTC().Truncate(time.Hour)

		bucket, ok := buckets[hour]
		if !ok {
			buckets[hour] = &HourlyAggregate{
				HourStart:  hour,
				ETHPrice:   sample.ETHPrice,
				MATICPrice: sample.MATICPrice,
				Count:      1,
			}
			continue
		}

		count := decimal.NewFromInt(int64(bucket.Count))
		next := decimal.NewFromInt(int64(bucket.Count + 1))
		bucket.ETHPrice = bucket.ETHPrice.Mul(count).Add(sample.ETHPrice).Div(next)
		bucket.MATICPrice = bucket.MATICPrice.Mul(count).Add(sample.MATICPrice).Div(next)
		bucket.Count++
	}

	out := make([]HourlyAggregate, 0, len(buckets))
	for _, bucket := range buckets {
		bucket.ETHPrice = bucket.ETHPrice.Round(outputPlaces)
		bucket.MATICPrice = bucket.MATICPrice.Round(outputPlaces)
		out = append(out, *bucket)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].HourStart.After(out[j].HourStart)
	})
	return out
}
