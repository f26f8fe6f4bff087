package backend

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/authgate/pkg/middleware"
)

// verifyResponse は /api/auth/verify のレスポンス。
type verifyResponse struct {
	Valid  bool   `json:"valid"`
	UserID string `json:"userId"`
	Email  string `json:"email,omitempty"`
}

// User はトークンのクレームから取り出したユーザー情報。
// emailとnameはトークンに含まれない場合がある。
type User struct {
	UserID string  `json:"user_id"`
	Email  *string `json:"email"`
	Name   *string `json:"name"`
}

// userFromClaims はクレームをUserに変換する。
func userFromClaims(claims *middleware.Claims) User {
	return User{
		UserID: claims.Subject,
		Email:  claims.Email,
		Name:   claims.Name,
	}
}

// handleVerify は検証済みトークンの主体を返すハンドラを返す。
func (s *Server) handleVerify() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := middleware.GetClaims(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"valid": false, "message": "トークンが無効です"})
			return
		}
		c.JSON(http.StatusOK, verifyResponse{
			Valid:  true,
			UserID: claims.Subject,
			Email:  claims.EmailOrEmpty(),
		})
	}
}

// handleMe は認証済みユーザーの情報を返すハンドラを返す。
func (s *Server) handleMe() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := middleware.GetClaims(c)
		if !ok || claims.Subject == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"message": "ユーザーIDが取得できません"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"user": userFromClaims(claims)})
	}
}
