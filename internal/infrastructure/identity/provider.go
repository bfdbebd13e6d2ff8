// Package identity 通过外部身份服务解析当前登录用户
package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"binancedash/internal/config"

	"github.com/go-redis/redis/v8"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrUnauthenticated token 缺失、无效或已过期
var ErrUnauthenticated = errors.New("用户未登录")

type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type Provider interface {
	CurrentUser(ctx context.Context, token string) (*User, error)
}

// GoTrueProvider 调用 GoTrue 兼容的 GET /auth/v1/user。
// cache 非空时按 token 摘要缓存解析结果。
type GoTrueProvider struct {
	baseURL  string
	apiKey   string
	client   *http.Client
	cache    redis.UniversalClient
	cacheTTL time.Duration
	log      *logrus.Entry
}

func NewGoTrueProvider(cfg *config.IdentityConfig, cache redis.UniversalClient) *GoTrueProvider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &GoTrueProvider{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:   cfg.APIKey,
		client:   &http.Client{Timeout: timeout},
		cache:    cache,
		cacheTTL: cfg.CacheTTL,
		log:      logrus.WithField("component", "identity"),
	}
}

func cacheKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return "identity:token:" + hex.EncodeToString(sum[:])
}

func (p *GoTrueProvider) CurrentUser(ctx context.Context, token string) (*User, error) {
	if token == "" {
		return nil, ErrUnauthenticated
	}

	if user := p.fromCache(ctx, token); user != nil {
		return user, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/auth/v1/user", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if p.apiKey != "" {
		req.Header.Set("apikey", p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("请求身份服务失败: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("读取身份服务响应失败: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, ErrUnauthenticated
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("身份服务返回异常状态: %d", resp.StatusCode)
	}

	var user User
	if err := json.Unmarshal(body, &user); err != nil {
		return nil, fmt.Errorf("解析身份服务响应失败: %w", err)
	}
	if user.ID == "" {
		return nil, ErrUnauthenticated
	}

	p.toCache(ctx, token, &user)
	return &user, nil
}

func (p *GoTrueProvider) fromCache(ctx context.Context, token string) *User {
	if p.cache == nil || p.cacheTTL <= 0 {
		return nil
	}
	raw, err := p.cache.Get(ctx, cacheKey(token)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			p.log.WithError(err).Warn("读取用户缓存失败")
		}
		return nil
	}
	var user User
	if err := json.Unmarshal(raw, &user); err != nil || user.ID == "" {
		return nil
	}
	return &user
}

func (p *GoTrueProvider) toCache(ctx context.Context, token string, user *User) {
	if p.cache == nil || p.cacheTTL <= 0 {
		return
	}
	raw, err := json.Marshal(user)
	if err != nil {
		return
	}
	if err := p.cache.Set(ctx, cacheKey(token), raw, p.cacheTTL).Err(); err != nil {
		p.log.WithError(err).Warn("写入用户缓存失败")
	}
}
