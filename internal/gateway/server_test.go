package gateway

import (
	"compress/gzip"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"

	"github.com/nao1215/authgate/internal/identity"
	"github.com/nao1215/authgate/pkg/logging"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testIssuer はテスト用の認証サービスURL。
const testIssuer = "http://auth.test"

// backendRequest はモックバックエンドが受け取ったリクエスト。
type backendRequest struct {
	Method  string
	Path    string
	Query   string
	Body    []byte
	Headers http.Header
	Host    string
}

// mockBackend は受け取ったリクエストを記録するモックバックエンド。
type mockBackend struct {
	mu       sync.Mutex
	requests []backendRequest
	server   *httptest.Server
}

// newMockBackend はhandlerで応答するモックバックエンドを起動する。handlerがnilの場合は200で {"ok":true} を返す。
func newMockBackend(t *testing.T, handler http.HandlerFunc) *mockBackend {
	t.Helper()

	m := &mockBackend{}
	m.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		m.mu.Lock()
		m.requests = append(m.requests, backendRequest{
			Method:  r.Method,
			Path:    r.URL.EscapedPath(),
			Query:   r.URL.RawQuery,
			Body:    body,
			Headers: r.Header.Clone(),
			Host:    r.Host,
		})
		m.mu.Unlock()

		if handler != nil {
			handler(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"ok":true}`)
	}))
	t.Cleanup(m.server.Close)
	return m
}

// last は最後に受け取ったリクエストを返す。
func (m *mockBackend) last(t *testing.T) backendRequest {
	t.Helper()

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		t.Fatal("バックエンドにリクエストが届いていない")
	}
	return m.requests[len(m.requests)-1]
}

// count は受け取ったリクエスト数を返す。
func (m *mockBackend) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// testGateway はテスト用のゲートウェイと認証サービス。
type testGateway struct {
	server  *Server
	service *identity.Service
}

// newTestGateway は一時SQLiteの認証サービスとbackendURLへ転送するゲートウェイを生成する。
func newTestGateway(t *testing.T, backendURL string) *testGateway {
	t.Helper()

	ctx := context.Background()
	sqlDB, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "gateway.db")+"?_pragma=busy_timeout(5000)")
	if err != nil {
		t.Fatalf("DB接続に失敗: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := identity.Migrate(ctx, sqlDB, logging.Nop()); err != nil {
		t.Fatalf("マイグレーションに失敗: %v", err)
	}
	svc, err := identity.NewService(ctx, sqlDB, identity.Options{
		Issuer:       testIssuer,
		TokenTTL:     15 * time.Minute,
		SessionTTL:   time.Hour,
		PasswordCost: bcrypt.MinCost,
	})
	if err != nil {
		t.Fatalf("NewService()でエラーが発生: %v", err)
	}

	proxy, err := NewProxy(backendURL, svc, ProxyOptions{Logger: logging.Nop()})
	if err != nil {
		t.Fatalf("NewProxy()でエラーが発生: %v", err)
	}
	return &testGateway{server: newServer("0", svc, proxy, logging.Nop()), service: svc}
}

// signUp はユーザーを登録し、セッションクッキーとユーザーIDを返す。
func (g *testGateway) signUp(t *testing.T, email string) (*http.Cookie, string) {
	t.Helper()

	session, user, err := g.service.SignUp(context.Background(), identity.SignUpParams{
		Email:    email,
		Password: "password123",
		Name:     "Gateway User",
	})
	if err != nil {
		t.Fatalf("SignUp()でエラーが発生: %v", err)
	}
	return &http.Cookie{Name: identity.SessionCookieName, Value: session.Token}, user.ID
}

// do はゲートウェイにリクエストを送る。
func (g *testGateway) do(req *http.Request, cookie *http.Cookie) *httptest.ResponseRecorder {
	if cookie != nil {
		req.AddCookie(cookie)
	}
	w := httptest.NewRecorder()
	g.server.Handler().ServeHTTP(w, req)
	return w
}

// bearerSubject はAuthorizationヘッダーのJWTからsubを取り出す。
func bearerSubject(t *testing.T, header string) string {
	t.Helper()

	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		t.Fatalf("Authorization = %q, Bearer形式ではない", header)
	}
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		t.Fatalf("JWTのデコードに失敗: %v", err)
	}
	return claims.Subject
}

// TestGateway_Forward はバックエンドへの転送内容を検証する。
func TestGateway_Forward(t *testing.T) {
	t.Parallel()

	t.Run("パスとクエリを保ちJWTを付けて転送すること", func(t *testing.T) {
		t.Parallel()

		backend := newMockBackend(t, nil)
		gw := newTestGateway(t, backend.server.URL)
		cookie, userID := gw.signUp(t, "forward@example.com")

		w := gw.do(httptest.NewRequest(http.MethodGet, "/api/orders/42?x=9", nil), cookie)

		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d, body = %s", w.Code, http.StatusOK, w.Body.String())
		}
		if w.Body.String() != `{"ok":true}` {
			t.Errorf("body = %q, want %q", w.Body.String(), `{"ok":true}`)
		}
		got := backend.last(t)
		if got.Method != http.MethodGet || got.Path != "/api/orders/42" || got.Query != "x=9" {
			t.Errorf("転送先 = %s %s?%s, want GET /api/orders/42?x=9", got.Method, got.Path, got.Query)
		}
		if sub := bearerSubject(t, got.Headers.Get("Authorization")); sub != userID {
			t.Errorf("sub = %q, want %q", sub, userID)
		}
	})

	t.Run("重複したクエリパラメータが全て転送されること", func(t *testing.T) {
		t.Parallel()

		backend := newMockBackend(t, nil)
		gw := newTestGateway(t, backend.server.URL)
		cookie, _ := gw.signUp(t, "query@example.com")

		gw.do(httptest.NewRequest(http.MethodGet, "/api/search?a=1&a=2&b=3", nil), cookie)

		if got := backend.last(t).Query; got != "a=1&a=2&b=3" {
			t.Errorf("query = %q, want %q", got, "a=1&a=2&b=3")
		}
	})

	t.Run("呼び出し側のAuthorizationとHostは上書きされること", func(t *testing.T) {
		t.Parallel()

		backend := newMockBackend(t, nil)
		gw := newTestGateway(t, backend.server.URL)
		cookie, userID := gw.signUp(t, "override@example.com")

		req := httptest.NewRequest(http.MethodGet, "/api/items", nil)
		req.Host = "frontend.example.com"
		req.Header.Set("Authorization", "Bearer forged")
		req.Header.Set("X-Custom", "kept")
		gw.do(req, cookie)

		got := backend.last(t)
		if sub := bearerSubject(t, got.Headers.Get("Authorization")); sub != userID {
			t.Errorf("sub = %q, want %q", sub, userID)
		}
		if got.Host == "frontend.example.com" {
			t.Errorf("Hostが転送された: %q", got.Host)
		}
		if h := got.Headers.Get("X-Custom"); h != "kept" {
			t.Errorf("X-Custom = %q, want %q", h, "kept")
		}
	})

	t.Run("Authorizationヘッダーのセッショントークンでも転送できること", func(t *testing.T) {
		t.Parallel()

		backend := newMockBackend(t, nil)
		gw := newTestGateway(t, backend.server.URL)
		cookie, userID := gw.signUp(t, "bearer@example.com")

		req := httptest.NewRequest(http.MethodGet, "/api/items", nil)
		req.Header.Set("Authorization", "Bearer "+cookie.Value)
		w := gw.do(req, nil)

		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
		if sub := bearerSubject(t, backend.last(t).Headers.Get("Authorization")); sub != userID {
			t.Errorf("sub = %q, want %q", sub, userID)
		}
	})

	t.Run("リクエストボディがそのまま転送されること", func(t *testing.T) {
		t.Parallel()

		backend := newMockBackend(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusCreated)
		})
		gw := newTestGateway(t, backend.server.URL)
		cookie, _ := gw.signUp(t, "body@example.com")

		req := httptest.NewRequest(http.MethodPost, "/api/items", strings.NewReader(`{"name":"x"}`))
		req.Header.Set("Content-Type", "application/json")
		w := gw.do(req, cookie)

		if w.Code != http.StatusCreated {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusCreated)
		}
		got := backend.last(t)
		if string(got.Body) != `{"name":"x"}` {
			t.Errorf("body = %q, want %q", got.Body, `{"name":"x"}`)
		}
		if h := got.Headers.Get("Content-Type"); h != "application/json" {
			t.Errorf("Content-Type = %q, want %q", h, "application/json")
		}
	})

	t.Run("全てのHTTPメソッドがそのまま転送されること", func(t *testing.T) {
		t.Parallel()

		backend := newMockBackend(t, nil)
		gw := newTestGateway(t, backend.server.URL)
		cookie, _ := gw.signUp(t, "methods@example.com")

		for _, method := range proxyMethods {
			w := gw.do(httptest.NewRequest(method, "/api/resource", nil), cookie)
			if w.Code != http.StatusOK {
				t.Errorf("%s: ステータスコード = %d, want %d", method, w.Code, http.StatusOK)
			}
			if got := backend.last(t).Method; got != method {
				t.Errorf("転送メソッド = %q, want %q", got, method)
			}
		}
	})

	t.Run("ステータスとヘッダーが返され転送形式のヘッダーは除かれること", func(t *testing.T) {
		t.Parallel()

		backend := newMockBackend(t, func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("X-Backend", "yes")
			w.Header().Set("Content-Type", "text/plain")
			w.Header().Set("Content-Length", "9")
			w.WriteHeader(http.StatusAccepted)
			_, _ = io.WriteString(w, "accepted!")
		})
		gw := newTestGateway(t, backend.server.URL)
		cookie, _ := gw.signUp(t, "headers@example.com")

		w := gw.do(httptest.NewRequest(http.MethodGet, "/api/jobs", nil), cookie)

		if w.Code != http.StatusAccepted {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusAccepted)
		}
		if h := w.Header().Get("X-Backend"); h != "yes" {
			t.Errorf("X-Backend = %q, want %q", h, "yes")
		}
		for _, key := range strippedResponseHeaders {
			if v := w.Header().Get(key); v != "" {
				t.Errorf("%sが残っている: %q", key, v)
			}
		}
		if w.Body.String() != "accepted!" {
			t.Errorf("body = %q, want %q", w.Body.String(), "accepted!")
		}
	})

	t.Run("圧縮されたレスポンスは展開して返すこと", func(t *testing.T) {
		t.Parallel()

		backend := newMockBackend(t, func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Accept-Encoding") != "gzip" {
				_, _ = io.WriteString(w, `{"ok":true}`)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Content-Encoding", "gzip")
			zw := gzip.NewWriter(w)
			_, _ = io.WriteString(zw, `{"ok":true}`)
			_ = zw.Close()
		})
		gw := newTestGateway(t, backend.server.URL)
		cookie, _ := gw.signUp(t, "gzip@example.com")

		req := httptest.NewRequest(http.MethodGet, "/api/data", nil)
		req.Header.Set("Accept-Encoding", "gzip, br")
		w := gw.do(req, cookie)

		if w.Body.String() != `{"ok":true}` {
			t.Errorf("body = %q, want %q", w.Body.String(), `{"ok":true}`)
		}
		if h := w.Header().Get("Content-Encoding"); h != "" {
			t.Errorf("Content-Encoding = %q, want empty", h)
		}
	})

	t.Run("バックエンドのリダイレクトは追わずに返すこと", func(t *testing.T) {
		t.Parallel()

		backend := newMockBackend(t, func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Location", "/api/elsewhere")
			w.WriteHeader(http.StatusFound)
		})
		gw := newTestGateway(t, backend.server.URL)
		cookie, _ := gw.signUp(t, "redirect@example.com")

		w := gw.do(httptest.NewRequest(http.MethodGet, "/api/moved", nil), cookie)

		if w.Code != http.StatusFound {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusFound)
		}
		if backend.count() != 1 {
			t.Errorf("バックエンドへのリクエスト数 = %d, want 1", backend.count())
		}
	})
}

// TestGateway_Errors は転送失敗時の応答を検証する。
func TestGateway_Errors(t *testing.T) {
	t.Parallel()

	assertProxyError := func(t *testing.T, w *httptest.ResponseRecorder) {
		t.Helper()

		if w.Code != http.StatusInternalServerError {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusInternalServerError)
		}
		var body map[string]string
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("レスポンスボディのパースに失敗: %v", err)
		}
		if body["error"] != "Failed to proxy request" {
			t.Errorf("error = %q, want %q", body["error"], "Failed to proxy request")
		}
	}

	t.Run("セッションが無い場合は転送せず500を返すこと", func(t *testing.T) {
		t.Parallel()

		backend := newMockBackend(t, nil)
		gw := newTestGateway(t, backend.server.URL)

		w := gw.do(httptest.NewRequest(http.MethodGet, "/api/items", nil), nil)

		assertProxyError(t, w)
		if backend.count() != 0 {
			t.Errorf("バックエンドへのリクエスト数 = %d, want 0", backend.count())
		}
	})

	t.Run("バックエンドに接続できない場合は500を返すこと", func(t *testing.T) {
		t.Parallel()

		backend := httptest.NewServer(http.NotFoundHandler())
		backendURL := backend.URL
		backend.Close()

		gw := newTestGateway(t, backendURL)
		cookie, _ := gw.signUp(t, "down@example.com")

		assertProxyError(t, gw.do(httptest.NewRequest(http.MethodGet, "/api/items", nil), cookie))
	})

	t.Run("バックエンドのエラーステータスはそのまま返すこと", func(t *testing.T) {
		t.Parallel()

		backend := newMockBackend(t, func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"message":"not found"}`)
		})
		gw := newTestGateway(t, backend.server.URL)
		cookie, _ := gw.signUp(t, "notfound@example.com")

		w := gw.do(httptest.NewRequest(http.MethodGet, "/api/missing", nil), cookie)

		if w.Code != http.StatusNotFound {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusNotFound)
		}
		if w.Body.String() != `{"message":"not found"}` {
			t.Errorf("body = %q", w.Body.String())
		}
	})
}

// TestGateway_AuthRoutes は /api/auth 配下が転送されないことを検証する。
func TestGateway_AuthRoutes(t *testing.T) {
	t.Parallel()

	backend := newMockBackend(t, nil)
	gw := newTestGateway(t, backend.server.URL)

	t.Run("サインアップとトークン取得は認証サービスが処理すること", func(t *testing.T) {
		t.Parallel()

		req := httptest.NewRequest(http.MethodPost, "/api/auth/sign-up/email",
			strings.NewReader(`{"email":"route@example.com","password":"password123","name":"Route"}`))
		req.Header.Set("Content-Type", "application/json")
		w := gw.do(req, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("サインアップのステータスコード = %d, body = %s", w.Code, w.Body.String())
		}

		var cookie *http.Cookie
		for _, c := range w.Result().Cookies() {
			if c.Name == identity.SessionCookieName {
				cookie = c
			}
		}
		if cookie == nil {
			t.Fatal("セッションクッキーが設定されていない")
		}

		w = gw.do(httptest.NewRequest(http.MethodGet, "/api/auth/token", nil), cookie)
		if w.Code != http.StatusOK {
			t.Errorf("トークン取得のステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
	})

	t.Run("未知の認証パスは404を返すこと", func(t *testing.T) {
		t.Parallel()

		w := gw.do(httptest.NewRequest(http.MethodGet, "/api/auth/unknown", nil), nil)
		if w.Code != http.StatusNotFound {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusNotFound)
		}
	})

	t.Run("認証パスはバックエンドへ転送されないこと", func(t *testing.T) {
		t.Parallel()

		gw.do(httptest.NewRequest(http.MethodGet, "/api/auth/jwks", nil), nil)
		gw.do(httptest.NewRequest(http.MethodGet, "/api/auth/get-session", nil), nil)
		if backend.count() != 0 {
			t.Errorf("バックエンドへのリクエスト数 = %d, want 0", backend.count())
		}
	})
}

// TestIsAuthPath は認証パスの判定を検証する。
func TestIsAuthPath(t *testing.T) {
	t.Parallel()

	cases := map[string]bool{
		"/api/auth":           true,
		"/api/auth/token":     true,
		"/api/auth/sign-in/x": true,
		"/api/authors":        false,
		"/api/v1/auth/me":     false,
		"/api/orders/auth":    false,
	}
	for path, want := range cases {
		if got := isAuthPath(path); got != want {
			t.Errorf("isAuthPath(%q) = %v, want %v", path, got, want)
		}
	}
}

// TestHealth はヘルスチェックエンドポイントを検証する。
func TestHealth(t *testing.T) {
	t.Parallel()

	gw := newTestGateway(t, "http://localhost:1")
	w := gw.do(httptest.NewRequest(http.MethodGet, "/health", nil), nil)

	if w.Code != http.StatusOK {
		t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("レスポンスボディのパースに失敗: %v", err)
	}
	if body["status"] != "ok" || body["service"] != "gateway" {
		t.Errorf("body = %v", body)
	}
}
