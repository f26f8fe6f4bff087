// Package config は環境変数から各コマンドの設定を読み込む。
//
// 値は全て環境変数で上書きでき、未設定の場合はローカル開発向けのデフォルト値を使う。
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config はgateway・backend・apicheckが参照する設定値。
type Config struct {
	// Port はHTTPサーバーのリッスンポート。
	Port string
	// BackendAPIURL はgatewayが転送するバックエンドのベースURL（サーバー側専用）。
	BackendAPIURL string
	// PublicBackendAPIURL はクライアントラッパーが直接呼び出すバックエンドのベースURL。
	PublicBackendAPIURL string
	// AuthURL は認証サービスのベースURL。JWTのiss/audにも使用する。
	AuthURL string
	// JWKSURL はバックエンドがトークン検証に使う公開鍵エンドポイント。
	JWKSURL string
	// FrontendURL はCORSで許可するフロントエンドのオリジン。
	FrontendURL string
	// DatabasePath はユーザー・セッションを保存するSQLiteファイルのパス。
	DatabasePath string
	// ProxyTimeout はgatewayからバックエンドへのリクエスト全体のタイムアウト。0は無制限。
	ProxyTimeout time.Duration
	// ProxyMaxBodyBytes はgatewayが転送するリクエストボディの上限。0は無制限。
	ProxyMaxBodyBytes int64
	// ClientTimeout はAPIクライアントのリクエストタイムアウト。
	ClientTimeout time.Duration
	// TokenTTL は発行するJWTの有効期間。
	TokenTTL time.Duration
	// SessionTTL はログインセッションの有効期間。
	SessionTTL time.Duration
	// LogLevel はログレベル（debug, info, warn, error）。
	LogLevel string
	// LogDevelopment はコンソール向けの開発用ログ形式を使うかどうか。
	LogDevelopment bool
	// CheckEmail, CheckPassword, CheckName はapicheckがサインインに使う資格情報。
	CheckEmail    string
	CheckPassword string
	CheckName     string
}

// デフォルト値。BACKEND_API_URLとPUBLIC_BACKEND_API_URLは同じローカルアドレスを指す。
const (
	defaultBackendURL = "http://localhost:8080"
	defaultAuthURL    = "http://localhost:3000"
)

// Load は環境変数から設定を読み込む。defaultPortはPORT未設定時のポート。
func Load(defaultPort string) (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("PORT", defaultPort)
	v.SetDefault("BACKEND_API_URL", defaultBackendURL)
	v.SetDefault("PUBLIC_BACKEND_API_URL", defaultBackendURL)
	v.SetDefault("AUTH_URL", defaultAuthURL)
	v.SetDefault("JWKS_URL", "")
	v.SetDefault("FRONTEND_URL", defaultAuthURL)
	v.SetDefault("DATABASE_PATH", "authgate.db")
	v.SetDefault("PROXY_TIMEOUT", time.Duration(0))
	v.SetDefault("PROXY_MAX_BODY_BYTES", int64(0))
	v.SetDefault("CLIENT_TIMEOUT", 30*time.Second)
	v.SetDefault("TOKEN_TTL", 15*time.Minute)
	v.SetDefault("SESSION_TTL", 7*24*time.Hour)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_DEVELOPMENT", false)
	v.SetDefault("APICHECK_EMAIL", "")
	v.SetDefault("APICHECK_PASSWORD", "")
	v.SetDefault("APICHECK_NAME", "API Check")

	cfg := &Config{
		Port:                v.GetString("PORT"),
		BackendAPIURL:       strings.TrimSuffix(v.GetString("BACKEND_API_URL"), "/"),
		PublicBackendAPIURL: strings.TrimSuffix(v.GetString("PUBLIC_BACKEND_API_URL"), "/"),
		AuthURL:             strings.TrimSuffix(v.GetString("AUTH_URL"), "/"),
		JWKSURL:             v.GetString("JWKS_URL"),
		FrontendURL:         v.GetString("FRONTEND_URL"),
		DatabasePath:        v.GetString("DATABASE_PATH"),
		ProxyTimeout:        v.GetDuration("PROXY_TIMEOUT"),
		ProxyMaxBodyBytes:   v.GetInt64("PROXY_MAX_BODY_BYTES"),
		ClientTimeout:       v.GetDuration("CLIENT_TIMEOUT"),
		TokenTTL:            v.GetDuration("TOKEN_TTL"),
		SessionTTL:          v.GetDuration("SESSION_TTL"),
		LogLevel:            v.GetString("LOG_LEVEL"),
		LogDevelopment:      v.GetBool("LOG_DEVELOPMENT"),
		CheckEmail:          v.GetString("APICHECK_EMAIL"),
		CheckPassword:       v.GetString("APICHECK_PASSWORD"),
		CheckName:           v.GetString("APICHECK_NAME"),
	}
	if cfg.JWKSURL == "" {
		cfg.JWKSURL = cfg.AuthURL + "/api/auth/jwks"
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate はURL形式と数値の範囲を検証する。
func (c *Config) validate() error {
	for name, raw := range map[string]string{
		"BACKEND_API_URL":        c.BackendAPIURL,
		"PUBLIC_BACKEND_API_URL": c.PublicBackendAPIURL,
		"AUTH_URL":               c.AuthURL,
		"JWKS_URL":               c.JWKSURL,
	} {
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("%sの形式が不正です: %w", name, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("%sはhttpまたはhttpsのURLである必要があります: %q", name, raw)
		}
		if u.Host == "" {
			return fmt.Errorf("%sにホストが含まれていません: %q", name, raw)
		}
	}
	if c.ProxyTimeout < 0 {
		return fmt.Errorf("PROXY_TIMEOUTは0以上である必要があります: %s", c.ProxyTimeout)
	}
	if c.ProxyMaxBodyBytes < 0 {
		return fmt.Errorf("PROXY_MAX_BODY_BYTESは0以上である必要があります: %d", c.ProxyMaxBodyBytes)
	}
	if c.TokenTTL <= 0 || c.SessionTTL <= 0 {
		return fmt.Errorf("TOKEN_TTLとSESSION_TTLは正の値である必要があります")
	}
	return nil
}
