// Package upstream is the leaderboard HTTP client described in spec §6:
// four endpoints (performance list, open positions, historical positions,
// trade stats), consumed via go-resty/resty/v2 for its built-in
// retry/backoff rather than a hand-rolled retry loop. resty retries on the
// HTTP layer; a call that still fails once the retries are used up returns
// its error to the refresh loop.
package upstream

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/shadowmirror/copytrader/internal/logger"
)

// Client wraps a resty.Client that retries non-200, network-error and
// malformed-JSON responses up to RetryCount times (default 20). The wait
// between attempts is resty's default jittered exponential backoff,
// starting at RetryWait (default 5s) and capped at RetryWait×RetryCount;
// it is not a fixed linear step.
type Client struct {
	http    *resty.Client
	apiKey  string
	apiHost string
}

// Config is the client's construction parameters, one per the upstream
// leaderboard's API-key+host authentication scheme (spec §6).
type Config struct {
	BaseURL    string
	APIKey     string
	APIHost    string
	RetryCount int
	RetryWait  time.Duration
}

// New builds a Client with spec §7's retry policy already wired in.
func New(cfg Config) *Client {
	if cfg.RetryCount <= 0 {
		cfg.RetryCount = 20
	}
	if cfg.RetryWait <= 0 {
		cfg.RetryWait = 5 * time.Second
	}

	h := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetHeader("X-RapidAPI-Key", cfg.APIKey).
		SetHeader("X-RapidAPI-Host", cfg.APIHost).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(cfg.RetryWait).
		SetRetryMaxWaitTime(cfg.RetryWait * time.Duration(cfg.RetryCount)).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true // network error / timeout
			}
			return r.StatusCode() != http.StatusOK
		})

	return &Client{http: h, apiKey: cfg.APIKey, apiHost: cfg.APIHost}
}

// traderPerformanceResponse is the paged leaderboard list (9/page).
type traderPerformanceResponse struct {
	Data []rawTrader `json:"data"`
}

type rawTrader struct {
	ID                      string  `json:"id"`
	AUM                     float64 `json:"aum"`
	FollowPnl               float64 `json:"followPnl"`
	FollowerLimit           int     `json:"followerLimit"`
	NumberOfFollowers       int     `json:"numberOfFollowers"`
	TotalNumberOfFollowers  int     `json:"totalNumberOfFollowers"`
	InitialDay              int     `json:"initialDay"`
	NickName                string  `json:"nickName"`
	Pnl                     float64 `json:"pnl"`
	Symbol                  string  `json:"symbol"`
	TargetID                int     `json:"targetId"`
	WinRatio                float64 `json:"winRatio"`
	YieldRatio              float64 `json:"yieldRatio"`
}

// FetchPerformanceList returns one page (9 traders) of the leaderboard.
func (c *Client) FetchPerformanceList(ctx context.Context, page int) ([]rawTrader, error) {
	var out traderPerformanceResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("page", fmt.Sprint(page)).
		SetQueryParam("pageSize", "9").
		SetResult(&out).
		Get("/performance/list")
	if err != nil {
		return nil, fmt.Errorf("upstream: fetch performance list: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("upstream: performance list status %d", resp.StatusCode())
	}
	return out.Data, nil
}

type rawOpenPosition struct {
	TradeItemID int64   `json:"tradeItemId"`
	Symbol      string  `json:"symbol"`
	PositionSide string `json:"posSide"`
	Leverage    int     `json:"leverage"`
	OpenAvgPx   float64 `json:"openAvgPx"`
	MarkPx      float64 `json:"markPx"`
	Pnl         float64 `json:"pnl"`
	PnlRatio    float64 `json:"pnlRatio"`
	SubPos      float64 `json:"subPos"`
	OpenTime    int64   `json:"openTime"`
	UTime       int64   `json:"uTime"`
}

type openPositionsResponse struct {
	Data []rawOpenPosition `json:"data"`
}

// FetchOpenPositions returns a trader's currently open leaderboard
// positions.
func (c *Client) FetchOpenPositions(ctx context.Context, traderID string) ([]rawOpenPosition, error) {
	var out openPositionsResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("traderId", traderID).
		SetResult(&out).
		Get("/position/list")
	if err != nil {
		return nil, fmt.Errorf("upstream: fetch open positions for %s: %w", traderID, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("upstream: open positions status %d for %s", resp.StatusCode(), traderID)
	}
	return out.Data, nil
}

type historicalPositionsResponse struct {
	Data []rawOpenPosition `json:"data"`
}

// FetchHistoricalPositions pages by after=<last tradeItemId>, 20/page. A
// full 20-row page is treated as "more pages may exist" (SPEC_FULL open
// question 3, since the source never paginates consistently on a short
// final page).
func (c *Client) FetchHistoricalPositions(ctx context.Context, traderID string) ([]rawOpenPosition, error) {
	const pageSize = 20
	var all []rawOpenPosition
	var after int64

	for {
		var out historicalPositionsResponse
		req := c.http.R().SetContext(ctx).SetQueryParam("traderId", traderID).SetQueryParam("limit", fmt.Sprint(pageSize))
		if after != 0 {
			req = req.SetQueryParam("after", fmt.Sprint(after))
		}
		resp, err := req.SetResult(&out).Get("/position/history")
		if err != nil {
			return nil, fmt.Errorf("upstream: fetch historical positions for %s: %w", traderID, err)
		}
		if resp.IsError() {
			return nil, fmt.Errorf("upstream: historical positions status %d for %s", resp.StatusCode(), traderID)
		}

		all = append(all, out.Data...)
		if len(out.Data) < pageSize {
			break
		}
		after = out.Data[len(out.Data)-1].TradeItemID
	}
	return all, nil
}

type rawTradeStats struct {
	FollowerNum      int     `json:"followerNum"`
	CurrentFollowPnl float64 `json:"currentFollowPnl"`
	AUM              float64 `json:"aum"`
	AvgPositionValue float64 `json:"avgPositionValue"`
	CostVal          float64 `json:"costVal"`
	WinRatio         float64 `json:"winRatio"`
	LossDays         int     `json:"lossDays"`
	ProfitDays       int     `json:"profitDays"`
	YieldRatio       float64 `json:"yieldRatio"`
}

type tradeStatsResponse struct {
	Data rawTradeStats `json:"data"`
}

// FetchTradeStats returns one trader's trade-stats snapshot for a
// dateRange ("7d", "30d", "90d", "total").
func (c *Client) FetchTradeStats(ctx context.Context, traderID, dateRange string) (rawTradeStats, error) {
	var out tradeStatsResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("traderId", traderID).
		SetQueryParam("dateRange", dateRange).
		SetResult(&out).
		Get("/trade/stats")
	if err != nil {
		return rawTradeStats{}, fmt.Errorf("upstream: fetch trade stats for %s/%s: %w", traderID, dateRange, err)
	}
	if resp.IsError() {
		return rawTradeStats{}, fmt.Errorf("upstream: trade stats status %d for %s/%s", resp.StatusCode(), traderID, dateRange)
	}
	return out.Data, nil
}

func init() {
	// A trace-level default: per-call logging is opt-in via logger.SetLevel,
	// matching how the rest of the engine stays quiet unless asked.
	logger.Debugf("upstream client package initialized")
}
