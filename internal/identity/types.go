package identity

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nao1215/authgate/internal/identity/db"
)

var (
	// ErrUserExists は同じメールアドレスのユーザーが既に存在することを表す。
	ErrUserExists = errors.New("identity: user already exists")
	// ErrInvalidCredentials はメールアドレスまたはパスワードが一致しないことを表す。
	ErrInvalidCredentials = errors.New("identity: invalid email or password")
	// ErrNoSession は有効なセッションが無いことを表す。
	ErrNoSession = errors.New("identity: no active session")
	// ErrInvalidInput は入力値の検証に失敗したことを表す。
	ErrInvalidInput = errors.New("identity: invalid input")
)

// User はAPIで返却するユーザー情報。パスワードハッシュは含めない。
type User struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	Name          string    `json:"name"`
	EmailVerified bool      `json:"emailVerified"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Session はログインセッション。Tokenはセッションクッキーの値と同じ。
type Session struct {
	ID        string    `json:"id"`
	Token     string    `json:"token"`
	UserID    string    `json:"userId"`
	ExpiresAt time.Time `json:"expiresAt"`
	IPAddress string    `json:"ipAddress"`
	UserAgent string    `json:"userAgent"`
	CreatedAt time.Time `json:"createdAt"`
}

// Claims は発行するJWTのクレーム。
type Claims struct {
	jwt.RegisteredClaims
	// Email はユーザーのメールアドレス。
	Email string `json:"email,omitempty"`
	// Name はユーザーの表示名。
	Name string `json:"name,omitempty"`
}

// SignUpParams はSignUpの引数。
type SignUpParams struct {
	Email     string
	Password  string
	Name      string
	IPAddress string
	UserAgent string
}

// SignInParams はSignInの引数。
type SignInParams struct {
	Email     string
	Password  string
	IPAddress string
	UserAgent string
}

func userFromRow(u db.User) *User {
	return &User{
		ID:            u.ID,
		Email:         u.Email,
		Name:          u.Name,
		EmailVerified: u.EmailVerified,
		CreatedAt:     u.CreatedAt,
		UpdatedAt:     u.UpdatedAt,
	}
}

func sessionFromRow(s db.Session) *Session {
	return &Session{
		ID:        s.ID,
		Token:     s.Token,
		UserID:    s.UserID,
		ExpiresAt: s.ExpiresAt,
		IPAddress: s.IPAddress,
		UserAgent: s.UserAgent,
		CreatedAt: s.CreatedAt,
	}
}
