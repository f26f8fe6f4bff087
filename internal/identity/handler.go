package identity

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// jwksCacheMaxAge はJWKSレスポンスのCache-Control max-age（秒）。
const jwksCacheMaxAge = 300

// Handler は認証サービスのHTTPハンドラ群。
type Handler struct {
	service *Service
	log     *zap.SugaredLogger
	// secureCookie はクッキーにSecure属性を付けるかどうか。
	secureCookie bool
}

// NewHandler は新しいHandlerを生成する。issuerがhttpsの場合はSecureクッキーを発行する。
func NewHandler(service *Service, log *zap.SugaredLogger) *Handler {
	return &Handler{
		service:      service,
		log:          log,
		secureCookie: strings.HasPrefix(service.issuer, "https://"),
	}
}

// Register は /api/auth 配下のルートを登録する。
func (h *Handler) Register(rg gin.IRoutes) {
	rg.POST("/sign-up/email", h.handleSignUpEmail())
	rg.POST("/sign-in/email", h.handleSignInEmail())
	rg.POST("/sign-out", h.handleSignOut())
	rg.GET("/get-session", h.handleGetSession())
	rg.GET("/token", h.handleToken())
	rg.GET("/jwks", h.handleJWKS())
}

// signUpRequest はサインアップのリクエストボディ。
type signUpRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
	Name     string `json:"name" binding:"required"`
}

// signInRequest はサインインのリクエストボディ。
type signInRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// handleSignUpEmail はメールアドレスでユーザーを登録するハンドラを返す。
func (h *Handler) handleSignUpEmail() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req signUpRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "リクエストボディが不正です"})
			return
		}

		session, user, err := h.service.SignUp(c.Request.Context(), SignUpParams{
			Email:     req.Email,
			Password:  req.Password,
			Name:      req.Name,
			IPAddress: c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
		})
		switch {
		case errors.Is(err, ErrUserExists):
			c.JSON(http.StatusConflict, gin.H{"error": "このメールアドレスは既に登録されています"})
			return
		case errors.Is(err, ErrInvalidInput):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		case err != nil:
			h.log.Errorw("サインアップに失敗", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ユーザー登録に失敗しました"})
			return
		}

		h.setSessionCookie(c, session)
		c.JSON(http.StatusOK, gin.H{"token": session.Token, "user": user})
	}
}

// handleSignInEmail はメールアドレスとパスワードでログインするハンドラを返す。
func (h *Handler) handleSignInEmail() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req signInRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "リクエストボディが不正です"})
			return
		}

		session, user, err := h.service.SignIn(c.Request.Context(), SignInParams{
			Email:     req.Email,
			Password:  req.Password,
			IPAddress: c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
		})
		if errors.Is(err, ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "メールアドレスまたはパスワードが正しくありません"})
			return
		}
		if err != nil {
			h.log.Errorw("サインインに失敗", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ログインに失敗しました"})
			return
		}

		h.setSessionCookie(c, session)
		c.JSON(http.StatusOK, gin.H{"token": session.Token, "user": user})
	}
}

// handleSignOut はセッションを破棄するハンドラを返す。
func (h *Handler) handleSignOut() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := h.service.SignOut(c.Request.Context(), SessionToken(c.Request)); err != nil {
			h.log.Errorw("サインアウトに失敗", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ログアウトに失敗しました"})
			return
		}

		h.clearSessionCookie(c)
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

// handleGetSession は現在のセッションを返すハンドラを返す。
// セッションが無い場合はJSONのnullを返す。
func (h *Handler) handleGetSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		session, user, err := h.service.SessionFromRequest(c.Request.Context(), c.Request)
		if errors.Is(err, ErrNoSession) {
			c.JSON(http.StatusOK, nil)
			return
		}
		if err != nil {
			h.log.Errorw("セッション取得に失敗", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "セッションの取得に失敗しました"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"session": session, "user": user})
	}
}

// handleToken は現在のセッションに対するJWTを発行するハンドラを返す。
func (h *Handler) handleToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := h.service.TokenForRequest(c.Request.Context(), c.Request)
		if errors.Is(err, ErrNoSession) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ログインが必要です"})
			return
		}
		if err != nil {
			h.log.Errorw("トークン発行に失敗", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "トークンの発行に失敗しました"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"token": token})
	}
}

// handleJWKS は公開鍵のJWK Setを返すハンドラを返す。
func (h *Handler) handleJWKS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", fmt.Sprintf("public, max-age=%d", jwksCacheMaxAge))
		c.JSON(http.StatusOK, h.service.JWKS())
	}
}

func (h *Handler) setSessionCookie(c *gin.Context, session *Session) {
	maxAge := int(session.ExpiresAt.Sub(session.CreatedAt).Seconds())
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(SessionCookieName, session.Token, maxAge, "/", "", h.secureCookie, true)
}

func (h *Handler) clearSessionCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(SessionCookieName, "", -1, "/", "", h.secureCookie, true)
}
