package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"crypto-price-alerts/internal/monitor"
	"crypto-price-alerts/internal/oracle"
	"crypto-price-alerts/internal/storage"
	"crypto-price-alerts/internal/swap"
)

type hourlyItem struct {
	Timestamp  string  `json:"timestamp"`
	ETHPrice   float64 `json:"ethPrice"`
	MATICPrice float64 `json:"maticPrice"`
	Count      int     `json:"count"`
}

type swapFee struct {
	ETH float64 `json:"eth"`
	USD float64 `json:"usd"`
}

type swapRateResponse struct {
	BTCAmount float64 `json:"btcAmount"`
	Fee       swapFee `json:"fee"`
}

type alertPricingRequest struct {
	Chain  string  `json:"chain" binding:"required,oneof=eth matic"`
	Dollar float64 `json:"dollar" binding:"required,gt=0"`
	Email  string  `json:"email" binding:"required,email"`
}

type statusResponse struct {
	Code        int    `json:"code"`
	Description string `json:"description"`
}

func (s *Server) handleGetHourly(c *gin.Context) {
	since := time.Now().UTC().Add(-s.opts.HourlyWindow)

	samples, err := s.samples.ListSamplesSince(c.Request.Context(), since)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to load samples for hourly view")
		c.JSON(http.StatusInternalServerError, statusResponse{Code: http.StatusInternalServerError, Description: "failed to load price history"})
		return
	}

	buckets := monitor.HourlyBuckets(samples)

	out := make([]hourlyItem, 0, len(buckets))
	for _, bucket := range buckets {
		out = append(out, hourlyItem{
			Timestamp:  bucket.HourStart.UTC().Format(time.RFC3339),
			ETHPrice:   bucket.ETHPrice.InexactFloat64(),
			MATICPrice: bucket.MATICPrice.InexactFloat64(),
			Count:      bucket.Count,
		})
	}

	c.JSON(http.StatusOK, out)
}

func (s *Server) handleSwapRate(c *gin.Context) {
	raw := c.Query("number")
	ethAmount, err := decimal.NewFromString(raw)
	if err != nil || ethAmount.Sign() <= 0 {
		c.JSON(http.StatusBadRequest, statusResponse{Code: http.StatusBadRequest, Description: "number must be a positive amount of ETH"})
		return
	}

	var ethPrice, btcPrice decimal.Decimal
	group, groupCtx := errgroup.WithContext(c.Request.Context())
	group.Go(func() error {
		price, err := s.prices.FetchUSDPrice(groupCtx, oracle.AssetETH)
		if err != nil {
			return fmt.Errorf("fetch eth price: %w", err)
		}
		ethPrice = price
		return nil
	})
	group.Go(func() error {
		price, err := s.prices.FetchUSDPrice(groupCtx, oracle.AssetBTC)
		if err != nil {
			return fmt.Errorf("fetch btc price: %w", err)
		}
		btcPrice = price
		return nil
	})
	if err := group.Wait(); err != nil {
		s.logger.Error().Err(err).Msg("swap rate price fetch failed")
		c.JSON(http.StatusBadGateway, statusResponse{Code: http.StatusBadGateway, Description: "upstream price feed unavailable"})
		return
	}

	quote, err := swap.Calculate(ethAmount, ethPrice, btcPrice)
	if err != nil {
		c.JSON(http.StatusBadRequest, statusResponse{Code: http.StatusBadRequest, Description: err.Error()})
		return
	}

	c.JSON(http.StatusOK, swapRateResponse{
		BTCAmount: quote.BTCAmount.InexactFloat64(),
		Fee: swapFee{
			ETH: quote.FeeETH.InexactFloat64(),
			USD: quote.FeeUSD.InexactFloat64(),
		},
	})
}

func (s *Server) handleAlertPricing(c *gin.Context) {
	var req alertPricingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, statusResponse{Code: http.StatusBadRequest, Description: "invalid alert request: " + err.Error()})
		return
	}

	alert := storage.PriceAlert{
		Chain:       storage.Chain(req.Chain),
		TargetPrice: decimal.NewFromFloat(req.Dollar),
		Email:       req.Email,
	}

	if _, err := s.alerts.CreateAlert(c.Request.Context(), alert); err != nil {
		s.logger.Error().Err(err).Str("email", req.Email).Msg("failed to persist alert")
		c.JSON(http.StatusInternalServerError, statusResponse{Code: http.StatusInternalServerError, Description: "failed to persist alert"})
		return
	}

	c.JSON(http.StatusOK, statusResponse{
		Code:        http.StatusOK,
		Description: fmt.Sprintf("Successfully setup the alert pricing for %s", req.Email),
	})
}
