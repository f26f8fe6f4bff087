package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nao1215/authgate/pkg/logging"
)

// defaultTimeout はHTTPクライアントのデフォルトタイムアウト。
const defaultTimeout = 30 * time.Second

// Client はJWTを付与してバックエンドAPIを呼び出すfetch形式のクライアント。
type Client struct {
	// httpClient は内部で使用するHTTPクライアント。
	httpClient *http.Client
	// baseURL はバックエンドのベースURL。
	baseURL string
	// tokens はJWTの取得元。
	tokens TokenSource
	log    *zap.SugaredLogger
}

// Option はClientとInterceptorClientの設定を変更する。
type Option func(*options)

type options struct {
	httpClient *http.Client
	timeout    time.Duration
	log        *zap.SugaredLogger
}

// WithHTTPClient は内部で使用するHTTPクライアントを差し替える。
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.httpClient = c
	}
}

// WithTimeout はHTTPクライアントのタイムアウトを設定する。
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

// WithLogger はログ出力先を設定する。
func WithLogger(log *zap.SugaredLogger) Option {
	return func(o *options) {
		o.log = log
	}
}

func buildOptions(opts []Option) *options {
	o := &options{timeout: defaultTimeout, log: logging.Nop()}
	for _, opt := range opts {
		opt(o)
	}
	if o.httpClient == nil {
		o.httpClient = &http.Client{Timeout: o.timeout}
	}
	return o
}

// New は新しいClientを生成する。tokensには通常TokenCacheを渡す。
func New(baseURL string, tokens TokenSource, opts ...Option) *Client {
	o := buildOptions(opts)
	return &Client{
		httpClient: o.httpClient,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		tokens:     tokens,
		log:        o.log,
	}
}

// RequestOptions はRequestの引数。
type RequestOptions struct {
	// Method はHTTPメソッド。空の場合はGET。
	Method string
	// Header は追加するヘッダー。Content-Typeは上書きできるがAuthorizationは上書きされる。
	Header http.Header
	// Body はリクエストボディ。io.Reader・[]byte・stringはそのまま送信し、それ以外はJSONに変換する。
	Body any
}

// Request はbaseURL+endpointを呼び出し、結果をResponse[T]で返す。
// トークンが取得できない場合はAuthorizationヘッダー無しで送信する。
// 2xxで空ボディの場合は解析せず、Data=nilと実際のステータスを返す。
func Request[T any](ctx context.Context, c *Client, endpoint string, opts RequestOptions) Response[T] {
	body, err := requestBody(opts.Body)
	if err != nil {
		return failure[T](err.Error(), 0)
	}

	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return failure[T](err.Error(), 0)
	}

	req.Header.Set("Content-Type", "application/json")
	for key, values := range opts.Header {
		req.Header.Del(key)
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		c.log.Warnw("トークンの取得に失敗", "error", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return failure[T](err.Error(), 0)
	}
	defer resp.Body.Close()

	return decodeResponse[T](resp)
}

// VerifyAuth は /api/auth/verify でJWTの検証結果を取得する。
func (c *Client) VerifyAuth(ctx context.Context) Response[AuthVerifyResponse] {
	return Request[AuthVerifyResponse](ctx, c, "/api/auth/verify", RequestOptions{Method: http.MethodGet})
}

// requestBody はRequestOptions.Bodyをio.Readerに変換する。
func requestBody(body any) (io.Reader, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case io.Reader:
		return b, nil
	case []byte:
		return bytes.NewReader(b), nil
	case string:
		return strings.NewReader(b), nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("リクエストボディのシリアライズに失敗: %w", err)
		}
		return bytes.NewReader(data), nil
	}
}
