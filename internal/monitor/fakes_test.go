package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"crypto-price-alerts/internal/oracle"
	"crypto-price-alerts/internal/storage"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

type fakeSampleStore struct {
	mu      sync.Mutex
	samples []storage.PriceSample
	nextID  int64
}

func (f *fakeSampleStore) InsertSample(_ context.Context, sample storage.PriceSample) (storage.PriceSample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	sample.ID = f.nextID
	sample.CreatedAt = time.Now().UTC()
	f.samples = append(f.samples, sample)
	return sample, nil
}

func (f *fakeSampleStore) ListSamplesSince(_ context.Context, since time.Time) ([]storage.PriceSample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]storage.PriceSample, 0)
	for i := len(f.samples) - 1; i >= 0; i-- {
		if !f.samples[i].Timestamp.Before(since) {
			out = append(out, f.samples[i])
		}
	}
	return out, nil
}

func (f *fakeSampleStore) ListRecentSamples(_ context.Context, limit int) ([]storage.PriceSample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]storage.PriceSample, 0, limit)
	for i := len(f.samples) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, f.samples[i])
	}
	return out, nil
}

func (f *fakeSampleStore) LatestSample(_ context.Context) (storage.PriceSample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.samples) == 0 {
		return storage.PriceSample{}, storage.ErrNoSample
	}
	best := f.samples[0]
	for _, s := range f.samples[1:] {
		if s.Timestamp.After(best.Timestamp) {
			best = s
		}
	}
	return best, nil
}

func (f *fakeSampleStore) LatestSampleAtOrBefore(_ context.Context, at time.Time) (storage.PriceSample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var best *storage.PriceSample
	for i := range f.samples {
		s := f.samples[i]
		if s.Timestamp.After(at) {
			continue
		}
		if best == nil || s.Timestamp.After(best.Timestamp) {
			best = &s
		}
	}
	if best == nil {
		return storage.PriceSample{}, storage.ErrNoSample
	}
	return *best, nil
}

func (f *fakeSampleStore) CountSamples(_ context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.samples)), nil
}

func (f *fakeSampleStore) DeleteSamplesBefore(_ context.Context, olderThan time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.samples[:0]
	var removed int64
	for _, s := range f.samples {
		if s.Timestamp.Before(olderThan) {
			removed++
			continue
		}
		kept = append(kept, s)
	}
	f.samples = kept
	return removed, nil
}

var _ storage.SampleStore = (*fakeSampleStore)(nil)

type fakeAlertStore struct {
	mu     sync.Mutex
	alerts map[int64]*storage.PriceAlert
	nextID int64
}

func newFakeAlertStore() *fakeAlertStore {
	return &fakeAlertStore{alerts: make(map[int64]*storage.PriceAlert)}
}

func (f *fakeAlertStore) CreateAlert(_ context.Context, alert storage.PriceAlert) (storage.PriceAlert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	alert.ID = f.nextID
	alert.CreatedAt = time.Now().UTC()
	stored := alert
	f.alerts[alert.ID] = &stored
	return alert, nil
}

func (f *fakeAlertStore) ListPendingAlerts(_ context.Context) ([]storage.PriceAlert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]storage.PriceAlert, 0)
	for _, a := range f.alerts {
		if !a.IsTriggered {
			out = append(out, *a)
		}
	}
	return out, nil
}

// MarkAlertTriggered mirrors the conditional UPDATE of the real store: the
// flip happens only when the alert is still pending.
func (f *fakeAlertStore) MarkAlertTriggered(_ context.Context, id int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	alert, ok := f.alerts[id]
	if !ok || alert.IsTriggered {
		return false, nil
	}
	now := time.Now().UTC()
	alert.IsTriggered = true
	alert.TriggeredAt = &now
	return true, nil
}

func (f *fakeAlertStore) DeleteTriggeredAlertsBefore(_ context.Context, olderThan time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var removed int64
	for id, a := range f.alerts {
		if a.IsTriggered && a.CreatedAt.Before(olderThan) {
			delete(f.alerts, id)
			removed++
		}
	}
	return removed, nil
}

func (f *fakeAlertStore) get(id int64) storage.PriceAlert {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.alerts[id]
}

var _ storage.AlertStore = (*fakeAlertStore)(nil)

type sentMessage struct {
	To      string
	Subject string
	Body    string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (r *recordingNotifier) Send(_ context.Context, to, subject, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, sentMessage{To: to, Subject: subject, Body: body})
	return nil
}

func (r *recordingNotifier) messages() []sentMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]sentMessage, len(r.sent))
	copy(out, r.sent)
	return out
}

type staticFetcher struct {
	prices map[oracle.Asset]decimal.Decimal
	err    error
}

func (s *staticFetcher) FetchUSDPrice(_ context.Context, asset oracle.Asset) (decimal.Decimal, error) {
	if s.err != nil {
		return decimal.Decimal{}, s.err
	}
	price, ok := s.prices[asset]
	if !ok {
		return decimal.Decimal{}, storage.ErrNoSample
	}
	return price, nil
}

var _ oracle.PriceFetcher = (*staticFetcher)(nil)
