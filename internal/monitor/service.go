package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"crypto-price-alerts/internal/oracle"
	"crypto-price-alerts/internal/scheduler"
	"crypto-price-alerts/internal/storage"
)

// Service orchestrates one monitoring cycle: fetch, persist, detect, match.
type Service struct {
	scheduler *scheduler.Scheduler
	prices    oracle.PriceFetcher
	samples   storage.SampleStore
	detector  *ChangeDetector
	matcher   *AlertMatcher
	logger    zerolog.Logger

	locker  storage.AdvisoryLocker
	lockKey int64
}

// New constructs the monitoring service. samples may carry an advisory
// locker; when it does, the lock key gates each cycle so only one process
// mutates alert state at a time.
func New(sched *scheduler.Scheduler, prices oracle.PriceFetcher, samples storage.SampleStore, detector *ChangeDetector, matcher *AlertMatcher, lockKey int64, logger zerolog.Logger) *Service {
	var locker storage.AdvisoryLocker
	if l, ok := samples.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		scheduler: sched,
		prices:    prices,
		samples:   samples,
		detector:  detector,
		matcher:   matcher,
		logger:    logger.With().Str("component", "monitor").Logger(),
		locker:    locker,
		lockKey:   lockKey,
	}
}

// Run begins the periodic sampling loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.ProcessCycle)
}

// ProcessCycle 执行单个采样周期。
func (s *Service) ProcessCycle(ctx context.Context, tick time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("tick", tick).Msg("skip cycle because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	return s.executeCycle(ctx)
}

func (s *Service) executeCycle(ctx context.Context) error {
	// Both fetches must succeed or the cycle is aborted; a partial sample is
	// never written.
	var ethPrice, maticPrice decimal.Decimal

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		price, err := s.prices.FetchUSDPrice(groupCtx, oracle.AssetETH)
		if err != nil {
			return fmt.Errorf("fetch eth price: %w", err)
		}
		ethPrice = price
		return nil
	})
	group.Go(func() error {
		price, err := s.prices.FetchUSDPrice(groupCtx, oracle.AssetMATIC)
		if err != nil {
			return fmt.Errorf("fetch matic price: %w", err)
		}
		maticPrice = price
		return nil
	})
	if err := group.Wait(); err != nil {
		return err
	}

	now := time.Now().UTC()

	if s.samples != nil {
		sample := storage.PriceSample{
			Timestamp:  now,
			ETHPrice:   ethPrice,
			MATICPrice: maticPrice,
		}
		if _, err := s.samples.InsertSample(ctx, sample); err != nil {
			return fmt.Errorf("persist sample: %w", err)
		}
	}

	s.logger.Info().
		Time("ts", now).
		Str("eth_usd", ethPrice.String()).
		Str("matic_usd", maticPrice.String()).
		Msg("sample recorded")

	// Detector and matcher failures are cycle-scoped: logged, swallowed, and
	// never allowed to stop the next scheduled cycle.
	if s.detector != nil {
		if err := s.detector.Check(ctx, now); err != nil {
			s.logger.Error().Err(err).Msg("change detection failed")
		}
	}
	if s.matcher != nil {
		if err := s.matcher.Match(ctx, ethPrice, maticPrice); err != nil {
			s.logger.Error().Err(err).Msg("alert matching failed")
		}
	}

	return nil
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
