// Webアプリのエントリポイント。
// /api/auth で認証サービスを提供し、それ以外の /api 配下をJWT付きでバックエンドへ転送する。
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/nao1215/authgate/internal/config"
	"github.com/nao1215/authgate/internal/gateway"
	"github.com/nao1215/authgate/pkg/logging"
)

func main() {
	cfg, err := config.Load("3000")
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

	server, err := gateway.NewServer(ctx, cfg, logger)
	if err != nil {
		logger.Fatalw("Gatewayサーバーの初期化に失敗", "error", err)
	}
	defer server.Close()

	logger.Infow("Gatewayサービスを起動します",
		"port", cfg.Port,
		"backend", cfg.BackendAPIURL,
		"auth_url", cfg.AuthURL,
	)
	if err := server.Run(); err != nil {
		logger.Fatalw("Gatewayサービスの起動に失敗", "error", err)
	}
}
