package middleware

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/httprc/v3"
	"github.com/lestrrat-go/jwx/v3/jwk"
)

// Claims は検証済みJWTのクレーム（ペイロード）を表す。
// emailとnameは発行元やスコープによって含まれないことがあるため、ポインタで表す。
type Claims struct {
	jwt.RegisteredClaims
	// Email はユーザーのメールアドレス。
	Email *string `json:"email,omitempty"`
	// Name はユーザーの表示名。
	Name *string `json:"name,omitempty"`
}

// EmailOrEmpty はメールアドレスを返す。含まれない場合は空文字列を返す。
func (c *Claims) EmailOrEmpty() string {
	if c.Email == nil {
		return ""
	}
	return *c.Email
}

// TokenVerifier はBearerトークンの署名とクレームを検証する。
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*Claims, error)
}

// Gin コンテキストのキー。
const (
	contextKeyUserID = "user_id"
	contextKeyEmail  = "email"
	contextKeyClaims = "claims"
)

// JWTAuth はJWTトークンを検証するGinミドルウェアを返す。
// 検証に成功した場合、コンテキストに "user_id"・"email"・"claims" を設定する。
func JWTAuth(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authorizationヘッダーが必要です",
			})
			return
		}

		tokenString, found := strings.CutPrefix(authHeader, "Bearer ")
		if !found {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Bearer トークン形式が不正です",
			})
			return
		}

		claims, err := verifier.Verify(c.Request.Context(), tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "トークンが無効です",
			})
			return
		}

		c.Set(contextKeyUserID, claims.Subject)
		c.Set(contextKeyEmail, claims.EmailOrEmpty())
		c.Set(contextKeyClaims, claims)
		c.Next()
	}
}

// GetUserID はGinコンテキストからユーザーIDを取得する。
// JWTAuthミドルウェアが事前に適用されている必要がある。
func GetUserID(c *gin.Context) string {
	return c.GetString(contextKeyUserID)
}

// GetClaims はGinコンテキストから検証済みクレームを取得する。
func GetClaims(c *gin.Context) (*Claims, bool) {
	v, ok := c.Get(contextKeyClaims)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*Claims)
	return claims, ok
}

// JWKSConfig はJWKSVerifierの設定。
type JWKSConfig struct {
	// URL は公開鍵のJWK Setを返すエンドポイント。
	URL string
	// Issuer は期待するissクレーム。空の場合は検証しない。
	Issuer string
	// Audience は期待するaudクレーム。空の場合は検証しない。
	Audience string
	// HTTPClient はJWKS取得に使うHTTPクライアント。nilの場合は10秒タイムアウトのクライアント。
	HTTPClient *http.Client
}

// JWKSVerifier は認証サービスが公開するJWKSでEdDSA署名のJWTを検証する。
// JWK Setはjwk.Cacheにより定期的に再取得される。
type JWKSVerifier struct {
	url        string
	issuer     string
	audience   string
	ctx        context.Context
	httpClient *http.Client

	// キャッシュは最初の検証時に生成・登録する。失敗した場合はregisterRetryInterval経過後に作り直す。
	registerMu  sync.Mutex
	cache       *jwk.Cache
	lastFailure time.Time
	lastErr     error
	now         func() time.Time
}

// registerRetryInterval はJWKS登録に失敗した後、再試行するまでの間隔。
const registerRetryInterval = 10 * time.Second

// ErrMissingJWKSURL はJWKSのURLが指定されていないことを表す。
var ErrMissingJWKSURL = errors.New("middleware: JWKS URLが指定されていません")

// NewJWKSVerifier は新しいJWKSVerifierを生成する。
// ctxはJWKSの自動更新が動作する期間を決めるため、サーバーの寿命と同じものを渡すこと。
func NewJWKSVerifier(ctx context.Context, cfg JWKSConfig) (*JWKSVerifier, error) {
	if cfg.URL == "" {
		return nil, ErrMissingJWKSURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}

	return &JWKSVerifier{
		url:        cfg.URL,
		issuer:     cfg.Issuer,
		audience:   cfg.Audience,
		ctx:        ctx,
		httpClient: httpClient,
		now:        time.Now,
	}, nil
}

// Verify はトークンの署名・有効期限・iss・audを検証し、クレームを返す。
func (v *JWKSVerifier) Verify(ctx context.Context, tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		return v.keyFor(ctx, token)
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("トークンの検証に失敗: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("トークンが無効です")
	}
	return claims, nil
}

// keyFor はトークンヘッダーのkidに対応する公開鍵をJWKSから取得する。
func (v *JWKSVerifier) keyFor(ctx context.Context, token *jwt.Token) (any, error) {
	cache, err := v.ensureRegistered(ctx)
	if err != nil {
		return nil, err
	}

	kid, ok := token.Header["kid"].(string)
	if !ok {
		return nil, errors.New("トークンヘッダーにkidがありません")
	}

	set, err := cache.Lookup(ctx, v.url)
	if err != nil {
		return nil, fmt.Errorf("JWKSの取得に失敗: %w", err)
	}

	key, found := set.LookupKeyID(kid)
	if !found {
		return nil, fmt.Errorf("kid %s がJWKSに見つかりません", kid)
	}

	var raw ed25519.PublicKey
	if err := jwk.Export(key, &raw); err != nil {
		return nil, fmt.Errorf("公開鍵の取り出しに失敗: %w", err)
	}
	return raw, nil
}

// ensureRegistered はJWKSのURLを登録したキャッシュを返す。
func (v *JWKSVerifier) ensureRegistered(ctx context.Context) (*jwk.Cache, error) {
	v.registerMu.Lock()
	defer v.registerMu.Unlock()

	if v.cache != nil {
		return v.cache, nil
	}
	if v.lastErr != nil && v.now().Sub(v.lastFailure) < registerRetryInterval {
		return nil, v.lastErr
	}

	cache, err := v.register(ctx)
	if err != nil {
		v.lastFailure = v.now()
		v.lastErr = err
		return nil, err
	}
	v.cache = cache
	v.lastErr = nil
	return cache, nil
}

// register はキャッシュを生成してJWKSのURLを登録する。初回の取得が終わるまで最大5秒待つ。
func (v *JWKSVerifier) register(ctx context.Context) (*jwk.Cache, error) {
	cache, err := jwk.NewCache(v.ctx, httprc.NewClient(httprc.WithHTTPClient(v.httpClient)))
	if err != nil {
		return nil, fmt.Errorf("JWKSキャッシュの生成に失敗: %w", err)
	}

	registerCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := cache.Register(registerCtx, v.url); err != nil {
		return nil, fmt.Errorf("JWKS URLの登録に失敗: %w", err)
	}
	return cache, nil
}
