package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

// TestNew はNew関数を検証する。
func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("有効なログレベルでロガーを生成できること", func(t *testing.T) {
		t.Parallel()

		for _, level := range []string{"debug", "info", "warn", "error"} {
			log, err := New(level, false)
			if err != nil {
				t.Fatalf("New(%q)でエラーが発生: %v", level, err)
			}
			if log == nil {
				t.Fatalf("New(%q)がnilを返した", level)
			}
		}
	})

	t.Run("開発モードでロガーを生成できること", func(t *testing.T) {
		t.Parallel()

		log, err := New("debug", true)
		if err != nil {
			t.Fatalf("New()でエラーが発生: %v", err)
		}
		if !log.Desugar().Core().Enabled(zapcore.DebugLevel) {
			t.Error("debugレベルが有効になっていない")
		}
	})

	t.Run("不正なログレベルでエラーが返ること", func(t *testing.T) {
		t.Parallel()

		if _, err := New("verbose", false); err == nil {
			t.Fatal("不正なログレベルでエラーが返るべき")
		}
	})
}
