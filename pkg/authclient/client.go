package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"
)

// basePath は認証サービスのルートパス。
const basePath = "/api/auth"

// ErrUnauthenticated はセッションが無い状態で認証が必要な操作を行った場合のエラー。
var ErrUnauthenticated = errors.New("authclient: not signed in")

// HTTPError は認証サービスが2xx以外を返した場合のエラー。
type HTTPError struct {
	// StatusCode はHTTPステータスコード。
	StatusCode int
	// Message はレスポンスボディのerrorフィールド。無い場合はボディ全体。
	Message string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTPエラー: status=%d, message=%s", e.StatusCode, e.Message)
}

// User は認証サービスが返すユーザー情報。
type User struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	Name          string    `json:"name"`
	EmailVerified bool      `json:"emailVerified"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Session は認証サービスが返すセッション情報。
type Session struct {
	ID        string    `json:"id"`
	Token     string    `json:"token"`
	UserID    string    `json:"userId"`
	ExpiresAt time.Time `json:"expiresAt"`
	IPAddress string    `json:"ipAddress"`
	UserAgent string    `json:"userAgent"`
	CreatedAt time.Time `json:"createdAt"`
}

// SessionInfo はget-sessionのレスポンス。
type SessionInfo struct {
	Session Session `json:"session"`
	User    User    `json:"user"`
}

// SignInResult はサインアップ・サインインのレスポンス。
type SignInResult struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// Client は認証サービスのクライアント。
// セッションクッキーをクッキージャーで保持するため、1ユーザーにつき1インスタンスを使う。
type Client struct {
	// httpClient は内部で使用するHTTPクライアント。
	httpClient *http.Client
	// baseURL は認証サービスのオリジン（例: "http://localhost:3000"）。
	baseURL string
}

// Option はClientの設定を変更する。
type Option func(*Client)

// WithTimeout はHTTPクライアントのタイムアウトを設定する。
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithTransport はHTTPクライアントのTransportを差し替える。
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		c.httpClient.Transport = rt
	}
}

// New は新しい認証サービスクライアントを生成する。
func New(baseURL string, opts ...Option) (*Client, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("クッキージャーの作成に失敗: %w", err)
	}

	c := &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Jar:     jar,
		},
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// HTTPClient はセッションクッキーを共有する内部HTTPクライアントを返す。
// 同じオリジンのゲートウェイを呼び出す場合に使う。
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// SignUpEmail はメールアドレスでユーザーを登録し、セッションを開始する。
func (c *Client) SignUpEmail(ctx context.Context, email, password, name string) (*SignInResult, error) {
	body := map[string]string{"email": email, "password": password, "name": name}
	var result SignInResult
	if err := c.doJSON(ctx, http.MethodPost, "/sign-up/email", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// SignInEmail はメールアドレスとパスワードでセッションを開始する。
func (c *Client) SignInEmail(ctx context.Context, email, password string) (*SignInResult, error) {
	body := map[string]string{"email": email, "password": password}
	var result SignInResult
	if err := c.doJSON(ctx, http.MethodPost, "/sign-in/email", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// SignOut はセッションを破棄する。
func (c *Client) SignOut(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, "/sign-out", nil, nil)
}

// GetSession は現在のセッションを返す。セッションが無い場合はnilを返す。
func (c *Client) GetSession(ctx context.Context) (*SessionInfo, error) {
	var result *SessionInfo
	if err := c.doJSON(ctx, http.MethodGet, "/get-session", nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// Token は現在のセッションに対する短命のJWTを取得する。
// セッションが無い場合はErrUnauthenticatedを返す。
func (c *Client) Token(ctx context.Context) (string, error) {
	var result struct {
		Token string `json:"token"`
	}
	err := c.doJSON(ctx, http.MethodGet, "/token", nil, &result)
	var httpErr *HTTPError
	if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusUnauthorized {
		return "", ErrUnauthenticated
	}
	if err != nil {
		return "", err
	}
	return result.Token, nil
}

// doJSON はJSON形式のHTTPリクエストを実行する共通処理。
func (c *Client) doJSON(ctx context.Context, method, path string, body any, result any) error {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("リクエストボディのシリアライズに失敗: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	url := c.baseURL + basePath + path
	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("HTTPリクエストの作成に失敗: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTPリクエストの送信に失敗: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return &HTTPError{StatusCode: resp.StatusCode, Message: errorMessage(respBody)}
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("レスポンスボディのデシリアライズに失敗: %w", err)
		}
	}
	return nil
}

// errorMessage はエラーレスポンスのerrorフィールドを取り出す。
func errorMessage(body []byte) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	return string(body)
}
