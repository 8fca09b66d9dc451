package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"crypto-price-alerts/internal/alerting"
	"crypto-price-alerts/internal/storage"
)

// ErrInvalidPrices marks a malformed upstream feed input.
var ErrInvalidPrices = errors.New("monitor: price inputs must be positive")

// AlertMatcher evaluates pending alerts against the current prices and
// enforces at-most-once delivery per alert.
type AlertMatcher struct {
	alerts    storage.AlertStore
	notifier  alerting.Notifier
	tolerance decimal.Decimal
	logger    zerolog.Logger
}

// NewAlertMatcher constructs a matcher with a relative tolerance in percent.
func NewAlertMatcher(alerts storage.AlertStore, notifier alerting.Notifier, tolerancePct float64, logger zerolog.Logger) *AlertMatcher {
	if tolerancePct <= 0 {
		tolerancePct = 1.0
	}
	return &AlertMatcher{
		alerts:    alerts,
		notifier:  notifier,
		tolerance: decimal.NewFromFloat(tolerancePct),
		logger:    logger.With().Str("component", "alert_matcher").Logger(),
	}
}

// Match re-reads all pending alerts and triggers those within tolerance of
// the current price. The pending→triggered transition is claimed through the
// store's conditional update BEFORE the notification goes out, so two
// concurrent passes over the same alert produce exactly one send. A failed
// send is logged and does not roll the claim back.
func (m *AlertMatcher) Match(ctx context.Context, ethPrice, maticPrice decimal.Decimal) error {
	if ethPrice.Sign() <= 0 || maticPrice.Sign() <= 0 {
		return ErrInvalidPrices
	}
	if m.alerts == nil {
		return nil
	}

	pending, err := m.alerts.ListPendingAlerts(ctx)
	if err != nil {
		return fmt.Errorf("list pending alerts: %w", err)
	}

	for _, alert := range pending {
		var current decimal.Decimal
		switch alert.Chain {
		case storage.ChainETH:
			current = ethPrice
		case storage.ChainMATIC:
			current = maticPrice
		default:
			m.logger.Warn().Int64("alert_id", alert.ID).Str("chain", string(alert.Chain)).Msg("skipping alert with unknown chain")
			continue
		}

		if !withinTolerance(current, alert.TargetPrice, m.tolerance) {
			continue
		}

		claimed, err := m.alerts.MarkAlertTriggered(ctx, alert.ID)
		if err != nil {
			m.logger.Error().Err(err).Int64("alert_id", alert.ID).Msg("failed to claim alert")
			continue
		}
		if !claimed {
			// another matcher pass won the transition
			continue
		}

		m.logger.Info().
			Int64("alert_id", alert.ID).
			Str("chain", string(alert.Chain)).
			Str("target", alert.TargetPrice.String()).
			Str("current", current.String()).
			Msg("price alert triggered")

		subject := fmt.Sprintf("Price Alert: %s has reached %s", strings.ToUpper(string(alert.Chain)), alert.TargetPrice.String())
		body := renderAlertBody(alert, current)
		if m.notifier != nil {
			if err := m.notifier.Send(ctx, alert.Email, subject, body); err != nil {
				m.logger.Error().Err(err).Int64("alert_id", alert.ID).Msg("failed to deliver alert email")
			}
		}
	}

	return nil
}

// withinTolerance applies the relative trigger condition
// abs(current - target) <= target * tolerancePct / 100.
func withinTolerance(current, target, tolerancePct decimal.Decimal) bool {
	allowed := target.Mul(tolerancePct).Div(dec100)
	return current.Sub(target).Abs().LessThanOrEqual(allowed)
}

func renderAlertBody(alert storage.PriceAlert, current decimal.Decimal) string {
	builder := strings.Builder{}
	builder.WriteString("Your price alert has been triggered!\n\n")
	builder.WriteString(fmt.Sprintf("%s has reached $%s\n", strings.ToUpper(string(alert.Chain)), current.String()))
	builder.WriteString(fmt.Sprintf("Target price: $%s\n", alert.TargetPrice.String()))
	return builder.String()
}
