// サンプルバックエンドのエントリポイント。
// 認証サービスのJWKSでBearerトークンを検証し、ユーザー情報を返す。
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/nao1215/authgate/internal/backend"
	"github.com/nao1215/authgate/internal/config"
	"github.com/nao1215/authgate/pkg/logging"
)

func main() {
	cfg, err := config.Load("8080")
	if err != nil {
		log.Fatalf("設定の読み込みに失敗: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		log.Fatalf("ロガーの初期化に失敗: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server, err := backend.NewServer(ctx, cfg, logger)
	if err != nil {
		logger.Fatalw("バックエンドサーバーの初期化に失敗", "error", err)
	}

	logger.Infow("バックエンドサービスを起動します", "port", cfg.Port, "jwks_url", cfg.JWKSURL)
	if err := server.Run(); err != nil {
		logger.Fatalw("バックエンドサービスの起動に失敗", "error", err)
	}
}
