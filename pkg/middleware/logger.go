package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Logger はリクエストごとにメソッド・パス・ステータス・処理時間を記録するGinミドルウェアを返す。
// クエリ文字列はトークン等を含み得るため記録しない。
func Logger(log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"latency", time.Since(start),
			"client_ip", c.ClientIP(),
		}
		switch {
		case status >= 500:
			log.Errorw("リクエスト", fields...)
		case status >= 400:
			log.Warnw("リクエスト", fields...)
		default:
			log.Infow("リクエスト", fields...)
		}
	}
}
