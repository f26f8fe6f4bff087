package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nao1215/authgate/pkg/logging"
)

// apiPrefix は転送対象のパス接頭辞。バックエンド側にも同じ接頭辞で転送する。
const apiPrefix = "/api"

// copyBufferSize はレスポンスボディを転送する際のバッファサイズ。
const copyBufferSize = 32 * 1024

// errProxyFailed は転送失敗時にクライアントへ返すメッセージ。
const errProxyFailed = "Failed to proxy request"

// strippedResponseHeaders はバックエンドの転送形式を表すため、再送時に取り除くヘッダー。
var strippedResponseHeaders = []string{"Content-Encoding", "Content-Length", "Transfer-Encoding"}

// TokenIssuer はリクエストのセッションに対するJWTを発行する。
type TokenIssuer interface {
	TokenForRequest(ctx context.Context, r *http.Request) (string, error)
}

// ProxyOptions はProxyの設定。
type ProxyOptions struct {
	// Timeout はバックエンド呼び出し全体のタイムアウト。0は無制限。
	Timeout time.Duration
	// MaxBodyBytes は転送するリクエストボディの上限。0は無制限。
	MaxBodyBytes int64
	// Transport はバックエンド呼び出しに使うRoundTripper。nilの場合はhttp.DefaultTransport。
	Transport http.RoundTripper
	// Logger はログ出力先。
	Logger *zap.SugaredLogger
}

// Proxy はJWTを付与してリクエストをバックエンドへ転送するハンドラ。
type Proxy struct {
	// backend はバックエンドのベースURL（クエリと末尾スラッシュ無し）。
	backend string
	// backendQuery はバックエンドURLに含まれていたクエリ。
	backendQuery string
	tokens       TokenIssuer
	client       *http.Client
	maxBodyBytes int64
	log          *zap.SugaredLogger
}

// NewProxy は新しいProxyを生成する。backendURLにパスが含まれる場合はその後ろに /api を付ける。
func NewProxy(backendURL string, tokens TokenIssuer, opts ProxyOptions) (*Proxy, error) {
	u, err := url.Parse(backendURL)
	if err != nil {
		return nil, fmt.Errorf("バックエンドURLの解析に失敗: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("バックエンドURLが不正です: %q", backendURL)
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	query := u.RawQuery
	u.RawQuery = ""
	u.ForceQuery = false
	u.Fragment = ""

	return &Proxy{
		backend:      strings.TrimSuffix(u.String(), "/"),
		backendQuery: query,
		tokens:       tokens,
		client: &http.Client{
			Transport: opts.Transport,
			Timeout:   opts.Timeout,
			// リダイレクトはそのままクライアントへ返す
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		maxBodyBytes: opts.MaxBodyBytes,
		log:          opts.Logger,
	}, nil
}

// Handle はGinのハンドラとしてリクエストを転送する。
func (p *Proxy) Handle(c *gin.Context) {
	p.ServeHTTP(c.Writer, c.Request)
}

// ServeHTTP はリクエストをバックエンドへ転送し、レスポンスをストリームで返す。
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	target, err := p.targetURL(r.URL)
	if err != nil {
		p.fail(w, r, "", err)
		return
	}

	token, err := p.tokens.TokenForRequest(r.Context(), r)
	if err != nil {
		p.fail(w, r, target, fmt.Errorf("トークンの取得に失敗: %w", err))
		return
	}

	out, err := p.outboundRequest(w, r, target, token)
	if err != nil {
		p.fail(w, r, target, err)
		return
	}

	resp, err := p.client.Do(out)
	if err != nil {
		p.fail(w, r, target, err)
		return
	}
	defer resp.Body.Close()

	header := w.Header()
	for key, values := range resp.Header {
		header[key] = values
	}
	for _, key := range strippedResponseHeaders {
		header.Del(key)
	}
	w.WriteHeader(resp.StatusCode)

	if err := streamBody(w, resp.Body); err != nil {
		// ヘッダー送信後のためエラーレスポンスは返せない
		p.log.Warnw("レスポンスの転送を中断", "url", target, "error", err)
		panic(http.ErrAbortHandler)
	}
}

// targetURL はバックエンドのベースURL + /api + 残りのパスに、受信したクエリをそのまま付け足したURLを返す。
func (p *Proxy) targetURL(in *url.URL) (string, error) {
	rest := strings.TrimPrefix(in.EscapedPath(), apiPrefix)
	if rest != "" && !strings.HasPrefix(rest, "/") {
		return "", fmt.Errorf("転送対象外のパスです: %q", in.Path)
	}

	target, err := url.Parse(p.backend + apiPrefix + rest)
	if err != nil {
		return "", fmt.Errorf("転送先URLの構築に失敗: %w", err)
	}
	switch {
	case p.backendQuery == "":
		target.RawQuery = in.RawQuery
	case in.RawQuery == "":
		target.RawQuery = p.backendQuery
	default:
		target.RawQuery = p.backendQuery + "&" + in.RawQuery
	}
	return target.String(), nil
}

// outboundRequest はバックエンドへ送るリクエストを組み立てる。ボディは読み込まずにそのまま渡す。
func (p *Proxy) outboundRequest(w http.ResponseWriter, r *http.Request, target, token string) (*http.Request, error) {
	body := r.Body
	if r.ContentLength == 0 || body == nil {
		body = http.NoBody
	} else if p.maxBodyBytes > 0 {
		body = http.MaxBytesReader(w, body, p.maxBodyBytes)
	}

	out, err := http.NewRequestWithContext(r.Context(), r.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("転送リクエストの作成に失敗: %w", err)
	}
	out.ContentLength = r.ContentLength
	if body == http.NoBody {
		out.ContentLength = 0
	}

	out.Header = r.Header.Clone()
	out.Header.Del("Host")
	// 圧縮はトランスポートに任せ、展開済みのボディを返す
	out.Header.Del("Accept-Encoding")
	out.Header.Set("Authorization", "Bearer "+token)
	return out, nil
}

// fail はエラーを記録して500を返す。
func (p *Proxy) fail(w http.ResponseWriter, r *http.Request, target string, err error) {
	var maxBytesErr *http.MaxBytesError
	p.log.Errorw("プロキシエラー",
		"method", r.Method,
		"path", r.URL.Path,
		"url", target,
		"body_too_large", errors.As(err, &maxBytesErr),
		"error", err,
	)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusInternalServerError)
	_, _ = io.WriteString(w, `{"error":"`+errProxyFailed+`"}`)
}

// streamBody はボディを読み込んだ分だけ書き出し、都度フラッシュする。
func streamBody(w http.ResponseWriter, body io.Reader) error {
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, copyBufferSize)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return err
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if errors.Is(readErr, io.EOF) {
			return nil
		}
		if readErr != nil {
			return readErr
		}
	}
}
