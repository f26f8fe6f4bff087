package logging

import (
	"fmt"

	"go.uber.org/zap"
)

// New はログレベルと出力形式を指定してロガーを生成する。
// developmentがtrueの場合は人間が読みやすいコンソール形式で出力する。
func New(level string, development bool) (*zap.SugaredLogger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("ログレベルの解析に失敗: %w", err)
	}

	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = lvl

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("ロガーの構築に失敗: %w", err)
	}
	return logger.Sugar(), nil
}

// Nop は何も出力しないロガーを返す。テストやロガー未指定時に使用する。
func Nop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
