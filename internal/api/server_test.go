package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"crypto-price-alerts/internal/oracle"
	"crypto-price-alerts/internal/storage"
)

type stubSampleStore struct {
	samples []storage.PriceSample
	err     error
}

func (s *stubSampleStore) InsertSample(_ context.Context, sample storage.PriceSample) (storage.PriceSample, error) {
	s.samples = append(s.samples, sample)
	return sample, nil
}

func (s *stubSampleStore) ListSamplesSince(_ context.Context, _ time.Time) ([]storage.PriceSample, error) {
	return s.samples, s.err
}

func (s *stubSampleStore) ListRecentSamples(_ context.Context, _ int) ([]storage.PriceSample, error) {
	return s.samples, s.err
}

func (s *stubSampleStore) LatestSample(_ context.Context) (storage.PriceSample, error) {
	return storage.PriceSample{}, storage.ErrNoSample
}

func (s *stubSampleStore) LatestSampleAtOrBefore(_ context.Context, _ time.Time) (storage.PriceSample, error) {
	return storage.PriceSample{}, storage.ErrNoSample
}

func (s *stubSampleStore) CountSamples(_ context.Context) (int64, error) {
	return int64(len(s.samples)), nil
}

func (s *stubSampleStore) DeleteSamplesBefore(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

type stubAlertStore struct {
	created []storage.PriceAlert
	err     error
}

func (s *stubAlertStore) CreateAlert(_ context.Context, alert storage.PriceAlert) (storage.PriceAlert, error) {
	if s.err != nil {
		return storage.PriceAlert{}, s.err
	}
	alert.ID = int64(len(s.created) + 1)
	s.created = append(s.created, alert)
	return alert, nil
}

func (s *stubAlertStore) ListPendingAlerts(_ context.Context) ([]storage.PriceAlert, error) {
	return s.created, nil
}

func (s *stubAlertStore) MarkAlertTriggered(_ context.Context, _ int64) (bool, error) {
	return false, nil
}

func (s *stubAlertStore) DeleteTriggeredAlertsBefore(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

type stubFetcher struct {
	prices map[oracle.Asset]decimal.Decimal
	err    error
}

func (s *stubFetcher) FetchUSDPrice(_ context.Context, asset oracle.Asset) (decimal.Decimal, error) {
	if s.err != nil {
		return decimal.Decimal{}, s.err
	}
	return s.prices[asset], nil
}

func newTestServer(samples *stubSampleStore, alerts *stubAlertStore, fetcher *stubFetcher) *Server {
	return NewServer(Options{HourlyWindow: 24 * time.Hour}, samples, alerts, fetcher, zerolog.Nop())
}

func doRequest(t *testing.T, srv *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestGetHourlyEmpty(t *testing.T) {
	srv := newTestServer(&stubSampleStore{}, &stubAlertStore{}, &stubFetcher{})

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/blockchain/get-hourly", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("期望 200, 实际 %d", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Fatalf("空数据应返回空数组, 实际 %s", got)
	}
}

func TestGetHourlyBuckets(t *testing.T) {
	base := time.Date(2024, 10, 30, 18, 0, 0, 0, time.UTC)
	samples := &stubSampleStore{samples: []storage.PriceSample{
		{Timestamp: base.Add(10 * time.Minute), ETHPrice: decimal.NewFromInt(2000), MATICPrice: decimal.NewFromFloat(0.3)},
		{Timestamp: base.Add(30 * time.Minute), ETHPrice: decimal.NewFromInt(2100), MATICPrice: decimal.NewFromFloat(0.4)},
		{Timestamp: base.Add(90 * time.Minute), ETHPrice: decimal.NewFromInt(2500), MATICPrice: decimal.NewFromFloat(0.5)},
	}}
	srv := newTestServer(samples, &stubAlertStore{}, &stubFetcher{})

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/blockchain/get-hourly", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("期望 200, 实际 %d", rec.Code)
	}

	var out []hourlyItem
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("响应解析失败: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("期望 2 个小时桶, 实际 %d", len(out))
	}
	if out[0].Timestamp != "2024-10-30T19:00:00Z" {
		t.Fatalf("最新桶时间不正确: %s", out[0].Timestamp)
	}
	if out[0].Count != 1 || out[1].Count != 2 {
		t.Fatalf("桶计数不正确: %d, %d", out[0].Count, out[1].Count)
	}
	if out[1].ETHPrice != 2050 {
		t.Fatalf("旧桶 ETH 均值期望 2050, 实际 %v", out[1].ETHPrice)
	}
}

func TestGetHourlyStoreError(t *testing.T) {
	samples := &stubSampleStore{err: errors.New("db down")}
	srv := newTestServer(samples, &stubAlertStore{}, &stubFetcher{})

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/blockchain/get-hourly", "")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("存储故障应返回 500, 实际 %d", rec.Code)
	}
}

func TestSwapRateSuccess(t *testing.T) {
	fetcher := &stubFetcher{prices: map[oracle.Asset]decimal.Decimal{
		oracle.AssetETH: decimal.NewFromInt(2000),
		oracle.AssetBTC: decimal.NewFromInt(40000),
	}}
	srv := newTestServer(&stubSampleStore{}, &stubAlertStore{}, fetcher)

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/blockchain/swap-rate?number=1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("期望 200, 实际 %d: %s", rec.Code, rec.Body.String())
	}

	var out swapRateResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("响应解析失败: %v", err)
	}
	if out.BTCAmount != 0.05 {
		t.Fatalf("btcAmount 期望 0.05, 实际 %v", out.BTCAmount)
	}
	if out.Fee.ETH != 0.03 {
		t.Fatalf("fee.eth 期望 0.03, 实际 %v", out.Fee.ETH)
	}
	if out.Fee.USD != 60.0 {
		t.Fatalf("fee.usd 期望 60, 实际 %v", out.Fee.USD)
	}
}

func TestSwapRateRejectsBadNumber(t *testing.T) {
	srv := newTestServer(&stubSampleStore{}, &stubAlertStore{}, &stubFetcher{})

	for _, target := range []string{
		"/api/v1/blockchain/swap-rate",
		"/api/v1/blockchain/swap-rate?number=0",
		"/api/v1/blockchain/swap-rate?number=-3",
		"/api/v1/blockchain/swap-rate?number=abc",
	} {
		rec := doRequest(t, srv, http.MethodGet, target, "")
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s 应返回 400, 实际 %d", target, rec.Code)
		}
	}
}

func TestSwapRateUpstreamFailure(t *testing.T) {
	fetcher := &stubFetcher{err: errors.New("oracle down")}
	srv := newTestServer(&stubSampleStore{}, &stubAlertStore{}, fetcher)

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/blockchain/swap-rate?number=1", "")
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("上游故障应返回 502, 实际 %d", rec.Code)
	}
}

func TestAlertPricingSuccess(t *testing.T) {
	alerts := &stubAlertStore{}
	srv := newTestServer(&stubSampleStore{}, alerts, &stubFetcher{})

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/blockchain/alert-pricing",
		`{"chain":"eth","dollar":1000,"email":"user@example.com"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("期望 200, 实际 %d: %s", rec.Code, rec.Body.String())
	}

	var out statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("响应解析失败: %v", err)
	}
	if out.Code != 200 {
		t.Fatalf("code 期望 200, 实际 %d", out.Code)
	}
	if out.Description != "Successfully setup the alert pricing for user@example.com" {
		t.Fatalf("描述文案不正确: %s", out.Description)
	}

	if len(alerts.created) != 1 {
		t.Fatalf("应持久化一条告警, 实际 %d", len(alerts.created))
	}
	if alerts.created[0].Chain != storage.ChainETH {
		t.Fatalf("chain 不正确: %s", alerts.created[0].Chain)
	}
	if !alerts.created[0].TargetPrice.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("target price 不正确: %s", alerts.created[0].TargetPrice)
	}
}

func TestAlertPricingValidation(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"bad chain", `{"chain":"doge","dollar":1000,"email":"user@example.com"}`},
		{"bad email", `{"chain":"eth","dollar":1000,"email":"not-an-email"}`},
		{"zero dollar", `{"chain":"eth","dollar":0,"email":"user@example.com"}`},
		{"negative dollar", `{"chain":"eth","dollar":-5,"email":"user@example.com"}`},
		{"empty body", `{}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			alerts := &stubAlertStore{}
			srv := newTestServer(&stubSampleStore{}, alerts, &stubFetcher{})

			rec := doRequest(t, srv, http.MethodPost, "/api/v1/blockchain/alert-pricing", tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("应返回 400, 实际 %d", rec.Code)
			}
			if len(alerts.created) != 0 {
				t.Fatal("校验失败时不应持久化告警")
			}
		})
	}
}
