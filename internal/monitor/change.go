package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"crypto-price-alerts/internal/alerting"
	"crypto-price-alerts/internal/storage"
)

var dec100 = decimal.NewFromInt(100)

// ChangeDetector flags abnormal hour-over-hour price moves.
type ChangeDetector struct {
	samples   storage.SampleStore
	notifier  alerting.Notifier
	ops       alerting.Notifier
	recipient string
	threshold decimal.Decimal
	lookback  time.Duration
	logger    zerolog.Logger
}

// NewChangeDetector constructs a detector. ops may be nil; it is an extra
// operator channel that receives the same swing notification.
func NewChangeDetector(samples storage.SampleStore, notifier, ops alerting.Notifier, recipient string, thresholdPct float64, lookback time.Duration, logger zerolog.Logger) *ChangeDetector {
	if lookback <= 0 {
		lookback = time.Hour
	}
	return &ChangeDetector{
		samples:   samples,
		notifier:  notifier,
		ops:       ops,
		recipient: recipient,
		threshold: decimal.NewFromFloat(thresholdPct),
		lookback:  lookback,
		logger:    logger.With().Str("component", "change_detector").Logger(),
	}
}

// Check compares the latest sample against the most recent one at least
// lookback old and dispatches one combined notification when either asset
// moved strictly more than the threshold. Missing history is a no-op, not
// an error. Notification failures are logged only.
func (d *ChangeDetector) Check(ctx context.Context, now time.Time) error {
	if d.samples == nil {
		return nil
	}

	current, err := d.samples.LatestSample(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrNoSample) {
			return nil
		}
		return fmt.Errorf("load latest sample: %w", err)
	}

	old, err := d.samples.LatestSampleAtOrBefore(ctx, now.Add(-d.lookback))
	if err != nil {
		if errors.Is(err, storage.ErrNoSample) {
			d.logger.Debug().Msg("insufficient history for change detection")
			return nil
		}
		return fmt.Errorf("load reference sample: %w", err)
	}

	ethChange, ok := pctChange(current.ETHPrice, old.ETHPrice)
	if !ok {
		return nil
	}
	maticChange, ok := pctChange(current.MATICPrice, old.MATICPrice)
	if !ok {
		return nil
	}

	if !ethChange.Abs().GreaterThan(d.threshold) && !maticChange.Abs().GreaterThan(d.threshold) {
		return nil
	}

	d.logger.Info().
		Str("eth_change_pct", ethChange.StringFixed(2)).
		Str("matic_change_pct", maticChange.StringFixed(2)).
		Msg("significant price change detected")

	subject := "Crypto Price Alert - Significant Change Detected"
	body := renderSwingBody(ethChange, maticChange, now)

	if d.notifier != nil && d.recipient != "" {
		if err := d.notifier.Send(ctx, d.recipient, subject, body); err != nil {
			d.logger.Error().Err(err).Msg("failed to dispatch swing email")
		}
	}
	if d.ops != nil {
		if err := d.ops.Send(ctx, "", subject, body); err != nil {
			d.logger.Error().Err(err).Msg("failed to dispatch swing ops message")
		}
	}

	return nil
}

// pctChange returns (current-old)/old*100. ok is false when old is zero.
func pctChange(current, old decimal.Decimal) (decimal.Decimal, bool) {
	if old.IsZero() {
		return decimal.Decimal{}, false
	}
	return current.Sub(old).Div(old).Mul(dec100), true
}

func renderSwingBody(ethChange, maticChange decimal.Decimal, now time.Time) string {
	builder := strings.Builder{}
	builder.WriteString("Significant price change over the last hour:\n\n")
	builder.WriteString(fmt.Sprintf("ETH:   %s %s%%\n", directionArrow(ethChange), ethChange.Abs().StringFixed(2)))
	builder.WriteString(fmt.Sprintf("MATIC: %s %s%%\n", directionArrow(maticChange), maticChange.Abs().StringFixed(2)))
	builder.WriteString(fmt.Sprintf("\nGenerated at: %s\n", now.UTC().Format(time.RFC3339)))
	return builder.String()
}

func directionArrow(d decimal.Decimal) string {
	if d.Sign() < 0 {
		return "down"
	}
	return "up"
}
