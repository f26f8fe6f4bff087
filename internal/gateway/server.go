package gateway

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/nao1215/authgate/internal/config"
	"github.com/nao1215/authgate/internal/identity"
	"github.com/nao1215/authgate/pkg/middleware"
)

// authPrefix は認証サービスが処理するパス接頭辞。
const authPrefix = apiPrefix + "/auth"

// proxyMethods はゲートウェイが転送するHTTPメソッド。
var proxyMethods = []string{
	http.MethodGet,
	http.MethodPost,
	http.MethodPut,
	http.MethodDelete,
	http.MethodPatch,
	http.MethodHead,
	http.MethodOptions,
}

// Server はWebアプリのHTTPサーバー。認証サービスとバックエンドへの転送を提供する。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// auth は /api/auth 配下を処理するルーター。
	auth *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// db はSQLiteデータベース接続。
	db       *sql.DB
	identity *identity.Service
	proxy    *Proxy
	log      *zap.SugaredLogger
}

// NewServer は新しいServerを生成する。DBのマイグレーションと署名鍵の準備もここで行う。
func NewServer(ctx context.Context, cfg *config.Config, log *zap.SugaredLogger) (*Server, error) {
	sqlDB, err := sql.Open("sqlite", cfg.DatabasePath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}

	if err := identity.Migrate(ctx, sqlDB, log); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("マイグレーションに失敗: %w", err)
	}

	svc, err := identity.NewService(ctx, sqlDB, identity.Options{
		Issuer:     cfg.AuthURL,
		TokenTTL:   cfg.TokenTTL,
		SessionTTL: cfg.SessionTTL,
		Logger:     log,
	})
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("認証サービスの初期化に失敗: %w", err)
	}
	if n, err := svc.PurgeExpiredSessions(ctx); err != nil {
		log.Warnw("期限切れセッションの削除に失敗", "error", err)
	} else if n > 0 {
		log.Infow("期限切れセッションを削除しました", "count", n)
	}

	proxy, err := NewProxy(cfg.BackendAPIURL, svc, ProxyOptions{
		Timeout:      cfg.ProxyTimeout,
		MaxBodyBytes: cfg.ProxyMaxBodyBytes,
		Logger:       log,
	})
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	s := newServer(cfg.Port, svc, proxy, log)
	s.db = sqlDB
	return s, nil
}

// newServer はルーティングを組み立てる。
func newServer(port string, svc *identity.Service, proxy *Proxy, log *zap.SugaredLogger) *Server {
	router := gin.New()
	router.Use(middleware.Recovery(log))
	router.Use(middleware.Logger(log))

	auth := gin.New()
	auth.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "認証エンドポイントが見つかりません"})
	})
	identity.NewHandler(svc, log).Register(auth.Group(authPrefix))

	s := &Server{
		router:   router,
		auth:     auth,
		port:     port,
		identity: svc,
		proxy:    proxy,
		log:      log,
	}
	s.setupRoutes()
	return s
}

// setupRoutes はルーティングを設定する。
func (s *Server) setupRoutes() {
	for _, method := range proxyMethods {
		s.router.Handle(method, apiPrefix+"/*path", s.handleAPI())
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "gateway"})
	})
}

// handleAPI は /api/auth 配下を認証サービスへ、それ以外をバックエンドへ振り分けるハンドラを返す。
func (s *Server) handleAPI() gin.HandlerFunc {
	return func(c *gin.Context) {
		if isAuthPath(c.Request.URL.Path) {
			s.auth.ServeHTTP(c.Writer, c.Request)
			return
		}
		s.proxy.Handle(c)
	}
}

// isAuthPath はpathが /api/auth またはその配下かどうかを返す。
func isAuthPath(path string) bool {
	return path == authPrefix || strings.HasPrefix(path, authPrefix+"/")
}

// Handler はサーバーのhttp.Handlerを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run はHTTPサーバーを起動する。
func (s *Server) Run() error {
	return s.router.Run(fmt.Sprintf(":%s", s.port))
}

// Close はデータベース接続を閉じる。
func (s *Server) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
