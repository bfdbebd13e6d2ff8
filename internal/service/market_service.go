package service

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"binancedash/internal/model"

	"github.com/sirupsen/logrus"
)

const (
	DefaultDepthSymbol = "BTCUSDT"
	DefaultDepthLimit  = 10
)

// 币安现货深度接口支持的档位
var allowedDepthLimits = map[int]bool{5: true, 10: true, 20: true, 50: true, 100: true, 500: true, 1000: true}

var symbolPattern = regexp.MustCompile(`^[A-Z0-9]{2,20}$`)

type MarketService struct {
	deps  Deps
	query *AccountQueryService
	log   *logrus.Entry
}

func NewMarketService(d Deps) *MarketService {
	return &MarketService{
		deps:  d,
		query: NewAccountQueryService(d),
		log:   logrus.WithField("component", "market"),
	}
}

// Depth 用当前账户的凭证拉取盘口快照
func (s *MarketService) Depth(ctx context.Context, userID, symbol string, limit int) (*model.Depth, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		symbol = DefaultDepthSymbol
	}
	if !symbolPattern.MatchString(symbol) {
		return nil, invalid("symbol", "交易对格式不正确")
	}
	if limit == 0 {
		limit = DefaultDepthLimit
	}
	if !allowedDepthLimits[limit] {
		return nil, invalid("limit", "limit 只能是 5、10、20、50、100、500、1000 之一")
	}

	account, err := s.query.Current(ctx, userID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, &NotFoundError{Reason: "请先绑定币安账户"}
	}

	apiKey, err := s.deps.Sealer.Open(account.APIKey)
	if err != nil {
		return nil, persistence("解密 API Key 失败", err)
	}
	apiSecret, err := s.deps.Sealer.Open(account.SecretKey)
	if err != nil {
		return nil, persistence("解密 Secret Key 失败", err)
	}

	if s.deps.Market == nil {
		return nil, &UpstreamError{Op: "获取盘口", Err: errors.New("行情服务未配置")}
	}

	start := time.Now()
	depth, err := s.deps.Market.Depth(ctx, apiKey, apiSecret, symbol, limit)
	observeUpstream("depth", start, err)
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"user_id": userID,
			"symbol":  symbol,
		}).WithError(err).Warn("获取盘口失败")
		return nil, &UpstreamError{Op: "获取盘口", Err: err}
	}
	return depth, nil
}
