// APIクライアントの動作確認用CLI。
// 認証サービスにサインイン（未登録ならサインアップ）し、fetch形式とインターセプター形式の
// 両方のクライアントでバックエンドを呼び出し、ゲートウェイ経由の呼び出しも確認する。
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/nao1215/authgate/internal/config"
	"github.com/nao1215/authgate/pkg/apiclient"
	"github.com/nao1215/authgate/pkg/authclient"
	"github.com/nao1215/authgate/pkg/logging"
)

func main() {
	cfg, err := config.Load("0")
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

	if err := run(ctx, cfg, logger); err != nil {
		logger.Errorw("APIチェックに失敗", "error", err)
		_ = logger.Sync()
		os.Exit(1)
	}
}

// run はサインイン後に各クライアントでAPIを呼び出す。
func run(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) error {
	if cfg.CheckEmail == "" || cfg.CheckPassword == "" {
		return errors.New("APICHECK_EMAILとAPICHECK_PASSWORDを設定してください")
	}

	auth, err := authclient.New(cfg.AuthURL, authclient.WithTimeout(cfg.ClientTimeout))
	if err != nil {
		return err
	}
	if err := signIn(ctx, auth, cfg, logger); err != nil {
		return err
	}

	cache := apiclient.NewTokenCache(auth)
	fetchClient := apiclient.New(cfg.PublicBackendAPIURL, cache,
		apiclient.WithTimeout(cfg.ClientTimeout),
		apiclient.WithLogger(logger),
	)
	interceptorClient := apiclient.NewInterceptorClient(cfg.PublicBackendAPIURL, cache,
		apiclient.WithTimeout(cfg.ClientTimeout),
		apiclient.WithLogger(logger),
	)
	// ゲートウェイ経由の呼び出しはセッションクッキーで認証し、JWTはゲートウェイが付与する
	noToken := apiclient.TokenSourceFunc(func(context.Context) (string, error) { return "", nil })
	gatewayClient := apiclient.New(cfg.AuthURL, noToken,
		apiclient.WithHTTPClient(auth.HTTPClient()),
		apiclient.WithLogger(logger),
	)

	var failed int
	report := func(name string, status int, errMsg string, data any) {
		if errMsg != "" {
			failed++
			logger.Errorw(name, "status", status, "error", errMsg)
			return
		}
		logger.Infow(name, "status", status, "data", data)
	}

	verify := fetchClient.VerifyAuth(ctx)
	report("fetch形式: /api/auth/verify", verify.Status, verify.Error, verify.Data)

	verify = interceptorClient.VerifyAuth(ctx)
	report("インターセプター形式: /api/auth/verify", verify.Status, verify.Error, verify.Data)

	me := apiclient.Request[apiclient.MeResponse](ctx, gatewayClient, "/api/v1/auth/me",
		apiclient.RequestOptions{Method: http.MethodGet})
	report("ゲートウェイ経由: /api/v1/auth/me", me.Status, me.Error, me.Data)

	if failed > 0 {
		return fmt.Errorf("%d件の呼び出しが失敗しました", failed)
	}
	return nil
}

// signIn はサインインし、ユーザーが存在しなければサインアップする。
func signIn(ctx context.Context, auth *authclient.Client, cfg *config.Config, logger *zap.SugaredLogger) error {
	result, err := auth.SignInEmail(ctx, cfg.CheckEmail, cfg.CheckPassword)
	var httpErr *authclient.HTTPError
	if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusUnauthorized {
		logger.Infow("ユーザーが存在しないためサインアップします", "email", cfg.CheckEmail)
		result, err = auth.SignUpEmail(ctx, cfg.CheckEmail, cfg.CheckPassword, cfg.CheckName)
	}
	if err != nil {
		return fmt.Errorf("サインインに失敗: %w", err)
	}
	logger.Infow("サインインしました", "user_id", result.User.ID, "email", result.User.Email)
	return nil
}
