package oracle

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func testTokens() map[Asset]Token {
	return map[Asset]Token{
		AssetETH:   {Address: "0x1", ChainID: "eth"},
		AssetMATIC: {Address: "0x2", ChainID: "polygon"},
		AssetBTC:   {Address: "0x3", ChainID: "eth"},
	}
}

func TestMoralisFetchMissingKey(t *testing.T) {
	m := NewMoralis(MoralisOptions{Tokens: testTokens()}, noopLogger())
	if _, err := m.FetchUSDPrice(context.Background(), AssetETH); err == nil {
		t.Fatal("缺少 API key 时应返回错误")
	}
}

func TestMoralisFetchUnknownAsset(t *testing.T) {
	m := NewMoralis(MoralisOptions{APIKey: "k", Tokens: testTokens()}, noopLogger())
	if _, err := m.FetchUSDPrice(context.Background(), Asset("doge")); err == nil {
		t.Fatal("未配置的资产应返回错误")
	}
}

func TestMoralisFetchHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "invalid key"})
	}))
	defer srv.Close()

	m := NewMoralis(MoralisOptions{
		BaseURL: srv.URL,
		APIKey:  "k",
		Timeout: time.Second,
		Tokens:  testTokens(),
	}, noopLogger())

	if _, err := m.FetchUSDPrice(context.Background(), AssetETH); err == nil {
		t.Fatal("HTTP 401 应返回错误")
	}
}

func TestMoralisFetchSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "/erc20/0x1/price") {
			t.Fatalf("路径不正确: %s", r.URL.Path)
		}
		if r.Header.Get("X-API-Key") != "k" {
			t.Fatal("应携带 X-API-Key")
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"usdPrice":    2677.66,
			"tokenSymbol": "ETH",
		})
	}))
	defer srv.Close()

	m := NewMoralis(MoralisOptions{
		BaseURL: srv.URL,
		APIKey:  "k",
		Timeout: time.Second,
		Tokens:  testTokens(),
	}, noopLogger())

	price, err := m.FetchUSDPrice(context.Background(), AssetETH)
	if err != nil {
		t.Fatalf("成功响应不应报错: %v", err)
	}
	if price.InexactFloat64() != 2677.66 {
		t.Fatalf("期望价格 2677.66, 实际 %s", price.String())
	}
}

func TestMoralisFetchNonPositivePrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"usdPrice": 0.0})
	}))
	defer srv.Close()

	m := NewMoralis(MoralisOptions{
		BaseURL: srv.URL,
		APIKey:  "k",
		Timeout: time.Second,
		Tokens:  testTokens(),
	}, noopLogger())

	if _, err := m.FetchUSDPrice(context.Background(), AssetETH); err == nil {
		t.Fatal("零价格应视为异常上游数据")
	}
}
