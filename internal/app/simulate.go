package app

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"crypto-price-alerts/internal/monitor"
	"crypto-price-alerts/internal/oracle"
	"crypto-price-alerts/internal/storage"
)

// SimulateAlert 以给定的 ETH/MATIC 价格模拟一次完整的采样周期，
// 包括波动检测和挂单告警匹配。
func (a *App) SimulateAlert(ctx context.Context, ethPrice, maticPrice decimal.Decimal) error {
	email := a.newEmailNotifier()
	ops := a.newOpsNotifier()
	if email == nil && ops == nil {
		return errors.New("未配置任何告警通道")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	var sampleStore storage.SampleStore
	var alertStore storage.AlertStore
	if store != nil {
		sampleStore = store
		alertStore = store
	}

	fetcher := &staticPriceFetcher{prices: map[oracle.Asset]decimal.Decimal{
		oracle.AssetETH:   ethPrice,
		oracle.AssetMATIC: maticPrice,
	}}

	detector := monitor.NewChangeDetector(
		sampleStore, email, ops,
		a.Config.Monitor.SwingRecipient,
		a.Config.Monitor.ChangeThresholdPct,
		a.Config.Monitor.ChangeLookback,
		a.Logger,
	)
	matcher := monitor.NewAlertMatcher(alertStore, email, a.Config.Monitor.AlertTolerancePct, a.Logger)

	svc := monitor.New(nil, fetcher, sampleStore, detector, matcher, a.Config.Scheduler.AdvisoryLockKey, a.Logger)
	return svc.ProcessCycle(ctx, time.Now().UTC())
}

type staticPriceFetcher struct {
	prices map[oracle.Asset]decimal.Decimal
}

func (s *staticPriceFetcher) FetchUSDPrice(ctx context.Context, asset oracle.Asset) (decimal.Decimal, error) {
	price, ok := s.prices[asset]
	if !ok {
		return decimal.Decimal{}, errors.New("no simulated price for asset")
	}
	return price, nil
}

var _ oracle.PriceFetcher = (*staticPriceFetcher)(nil)
