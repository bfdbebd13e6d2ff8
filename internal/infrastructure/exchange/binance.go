// Package exchange 币安现货 REST 接口
package exchange

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"binancedash/internal/config"
	"binancedash/internal/model"

	"github.com/adshao/go-binance"
	"github.com/adshao/go-binance/common"
)

const defaultRequestTimeout = 10 * time.Second

// ErrInvalidCredentials 上游拒绝了这对 key
var ErrInvalidCredentials = errors.New("币安 API 凭证无效")

type Client struct {
	baseURL        string
	requestTimeout time.Duration
}

func NewClient(cfg *config.BinanceConfig) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &Client{
		baseURL:        cfg.BaseURL,
		requestTimeout: timeout,
	}
}

func (c *Client) delegate(apiKey, secretKey string) *binance.Client {
	client := binance.NewClient(apiKey, secretKey)
	if c.baseURL != "" {
		client.BaseURL = c.baseURL
	}
	client.HTTPClient = &http.Client{Timeout: c.requestTimeout}
	return client
}

// VerifyCredentials 用账户接口校验 key 是否可用
func (c *Client) VerifyCredentials(ctx context.Context, apiKey, secretKey string) error {
	requestCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	_, err := c.delegate(apiKey, secretKey).NewGetAccountService().Do(requestCtx)
	if err == nil {
		return nil
	}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%w: %s", ErrInvalidCredentials, apiErr.Message)
	}
	return err
}

// Depth 一次性拉取盘口快照
func (c *Client) Depth(ctx context.Context, apiKey, secretKey, symbol string, limit int) (*model.Depth, error) {
	requestCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	res, err := c.delegate(apiKey, secretKey).NewDepthService().
		Symbol(symbol).
		Limit(limit).
		Do(requestCtx)
	if err != nil {
		return nil, err
	}

	depth := &model.Depth{
		Symbol:       symbol,
		LastUpdateID: res.LastUpdateID,
		Bids:         make([]model.PriceLevel, 0, len(res.Bids)),
		Asks:         make([]model.PriceLevel, 0, len(res.Asks)),
	}
	for _, bid := range res.Bids {
		depth.Bids = append(depth.Bids, model.PriceLevel{Price: bid.Price, Quantity: bid.Quantity})
	}
	for _, ask := range res.Asks {
		depth.Asks = append(depth.Asks, model.PriceLevel{Price: ask.Price, Quantity: ask.Quantity})
	}
	return depth, nil
}
