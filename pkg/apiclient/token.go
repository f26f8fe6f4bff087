package apiclient

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// expiryMargin はトークンを期限切れとみなすまでの余裕。
const expiryMargin = 10 * time.Second

// TokenSource はJWTを取得する。トークンが無い場合は空文字を返す。
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// TokenSourceFunc は関数をTokenSourceとして扱うアダプタ。
type TokenSourceFunc func(ctx context.Context) (string, error)

// Token はf(ctx)を呼び出す。
func (f TokenSourceFunc) Token(ctx context.Context) (string, error) {
	return f(ctx)
}

// TokenCache は取得したJWTを有効期限まで保持するTokenSource。
//
// 更新処理は排他しない。同時に期限切れを検知した呼び出しはそれぞれ取得を行い、
// 最後に書き込んだ値が残る。
type TokenCache struct {
	source TokenSource
	cached atomic.Pointer[string]
	now    func() time.Time
}

// NewTokenCache はsourceから取得したトークンをキャッシュするTokenCacheを生成する。
func NewTokenCache(source TokenSource) *TokenCache {
	return &TokenCache{source: source, now: time.Now}
}

// Valid はキャッシュ中のトークンが有効期限の10秒前より手前かどうかを返す。
// 署名は検証しない。
func (c *TokenCache) Valid() bool {
	token := c.cached.Load()
	if token == nil {
		return false
	}
	return tokenValid(*token, c.now())
}

// Token はキャッシュ中のトークンを返す。無効な場合は取得し直してキャッシュを置き換える。
// 取得に失敗した場合やトークンが無い場合はキャッシュを消去して空文字を返す。
func (c *TokenCache) Token(ctx context.Context) (string, error) {
	if token := c.cached.Load(); token != nil && tokenValid(*token, c.now()) {
		return *token, nil
	}

	token, err := c.source.Token(ctx)
	if err != nil || token == "" {
		c.cached.Store(nil)
		return "", err
	}
	c.cached.Store(&token)
	return token, nil
}

// Clear はキャッシュを消去する。
func (c *TokenCache) Clear() {
	c.cached.Store(nil)
}

// tokenValid はexpがnow+expiryMarginより後であればtrueを返す。
func tokenValid(token string, now time.Time) bool {
	if token == "" {
		return false
	}
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	if claims.ExpiresAt == nil {
		return false
	}
	return claims.ExpiresAt.Time.After(now.Add(expiryMargin))
}
