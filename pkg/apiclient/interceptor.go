package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Transport はリクエスト送信前にAuthorizationヘッダーを付与するhttp.RoundTripper。
type Transport struct {
	// Base は実際に送信を行うRoundTripper。nilの場合はhttp.DefaultTransport。
	Base http.RoundTripper
	// Tokens はJWTの取得元。
	Tokens TokenSource
	// OnTokenError はトークン取得に失敗した場合に呼ばれる。nilの場合は無視する。
	OnTokenError func(error)
}

// RoundTrip はトークンが取得できればAuthorizationヘッダーを付けて送信する。
// 元のリクエストは変更しない。
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, err := t.Tokens.Token(req.Context())
	if err != nil && t.OnTokenError != nil {
		t.OnTokenError(err)
	}
	if token != "" {
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return t.base().RoundTrip(req)
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

// InterceptorClient はTransportでJWTを付与するクライアント。
// トークンの付与は送信前のフック、Response[T]への変換は受信後のフックで行う。
type InterceptorClient struct {
	httpClient *http.Client
	baseURL    string
	// header は全リクエストに付与するデフォルトヘッダー。
	header http.Header
}

// NewInterceptorClient は新しいInterceptorClientを生成する。
// 呼び出しごとに認証サービスへ問い合わせる場合はtokensにauthclient.Clientを直接渡す。
func NewInterceptorClient(baseURL string, tokens TokenSource, opts ...Option) *InterceptorClient {
	o := buildOptions(opts)

	httpClient := *o.httpClient
	httpClient.Transport = &Transport{
		Base:   o.httpClient.Transport,
		Tokens: tokens,
		OnTokenError: func(err error) {
			o.log.Warnw("トークンの取得に失敗", "error", err)
		},
	}

	header := make(http.Header)
	header.Set("Content-Type", "application/json")

	return &InterceptorClient{
		httpClient: &httpClient,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		header:     header,
	}
}

// InterceptorOptions はSendの引数。
type InterceptorOptions struct {
	// Method はHTTPメソッド。空の場合はGET。
	Method string
	// Data はJSONに変換して送信するボディ。
	Data any
	// Params はクエリパラメータ。
	Params url.Values
}

// Send はendpointを呼び出し、結果をResponse[T]で返す。
func Send[T any](ctx context.Context, ic *InterceptorClient, endpoint string, opts InterceptorOptions) Response[T] {
	target := ic.baseURL + endpoint
	if len(opts.Params) > 0 {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		target += sep + opts.Params.Encode()
	}

	body, err := requestBody(opts.Data)
	if err != nil {
		return failure[T](err.Error(), 0)
	}

	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return failure[T](err.Error(), 0)
	}
	for key, values := range ic.header {
		req.Header[key] = append([]string(nil), values...)
	}

	resp, err := ic.httpClient.Do(req)
	if err != nil {
		return failure[T](err.Error(), 0)
	}
	defer resp.Body.Close()

	return decodeInterceptorResponse[T](resp)
}

// decodeInterceptorResponse は受信後のフック。2xxはdecodeResponseと同じく扱い、
// それ以外はボディの解析結果に関わらずバックエンドのステータスを返す。
// エラーメッセージはJSONのmessage、無ければ "Request failed with status code N"。
func decodeInterceptorResponse[T any](resp *http.Response) Response[T] {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return decodeResponse[T](resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return failure[T](err.Error(), 0)
	}
	var e errorResponse
	if json.Unmarshal(body, &e) == nil && e.Message != "" {
		return failure[T](e.Message, resp.StatusCode)
	}
	return failure[T](fmt.Sprintf("Request failed with status code %d", resp.StatusCode), resp.StatusCode)
}

// VerifyAuth は /api/auth/verify でJWTの検証結果を取得する。
func (ic *InterceptorClient) VerifyAuth(ctx context.Context) Response[AuthVerifyResponse] {
	return Send[AuthVerifyResponse](ctx, ic, "/api/auth/verify", InterceptorOptions{Method: http.MethodGet})
}
