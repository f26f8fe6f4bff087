package backend

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nao1215/authgate/internal/config"
	"github.com/nao1215/authgate/pkg/middleware"
)

// Server はサンプルバックエンドのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port     string
	verifier middleware.TokenVerifier
	log      *zap.SugaredLogger
}

// NewServer はJWKS_URLの公開鍵でトークンを検証するServerを生成する。
// ctxはJWKSキャッシュの更新を止めるまで有効である必要がある。
func NewServer(ctx context.Context, cfg *config.Config, log *zap.SugaredLogger) (*Server, error) {
	verifier, err := middleware.NewJWKSVerifier(ctx, middleware.JWKSConfig{
		URL:      cfg.JWKSURL,
		Issuer:   cfg.AuthURL,
		Audience: cfg.AuthURL,
	})
	if err != nil {
		return nil, fmt.Errorf("JWKS検証器の初期化に失敗: %w", err)
	}
	return newServer(cfg.Port, cfg.FrontendURL, verifier, log), nil
}

// newServer はルーティングを組み立てる。
func newServer(port, frontendURL string, verifier middleware.TokenVerifier, log *zap.SugaredLogger) *Server {
	router := gin.New()
	router.Use(middleware.Recovery(log))
	router.Use(middleware.Logger(log))
	router.Use(middleware.CORS([]string{frontendURL}))

	s := &Server{
		router:   router,
		port:     port,
		verifier: verifier,
		log:      log,
	}
	s.setupRoutes()
	return s
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	api := s.router.Group("/api")
	api.Use(middleware.JWTAuth(s.verifier))
	{
		api.GET("/auth/verify", s.handleVerify())
		api.GET("/v1/auth/me", s.handleMe())
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "backend"})
	})
}

// Handler はサーバーのhttp.Handlerを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run はHTTPサーバーを起動する。
func (s *Server) Run() error {
	return s.router.Run(fmt.Sprintf(":%s", s.port))
}
