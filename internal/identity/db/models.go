package db

import "time"

// User はusersテーブルの1行。
type User struct {
	ID            string
	Email         string
	Name          string
	PasswordHash  string
	EmailVerified bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Session はsessionsテーブルの1行。
type Session struct {
	ID        string
	Token     string
	UserID    string
	ExpiresAt time.Time
	IPAddress string
	UserAgent string
	CreatedAt time.Time
}

// SigningKey はjwksテーブルの1行。鍵はbase64エンコードされたEd25519鍵。
type SigningKey struct {
	ID         string
	PublicKey  string
	PrivateKey string
	CreatedAt  time.Time
}
