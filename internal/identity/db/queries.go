package db

import (
	"context"
	"time"
)

const createUser = `
INSERT INTO users (id, email, name, password_hash, email_verified, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
`

// CreateUserParams はCreateUserの引数。
type CreateUserParams struct {
	ID            string
	Email         string
	Name          string
	PasswordHash  string
	EmailVerified bool
	CreatedAt     time.Time
}

// CreateUser はユーザーを作成する。
func (q *Queries) CreateUser(ctx context.Context, arg CreateUserParams) error {
	_, err := q.db.ExecContext(ctx, createUser,
		arg.ID,
		arg.Email,
		arg.Name,
		arg.PasswordHash,
		arg.EmailVerified,
		arg.CreatedAt.UTC(),
		arg.CreatedAt.UTC(),
	)
	return err
}

const getUserByID = `
SELECT id, email, name, password_hash, email_verified, created_at, updated_at
FROM users WHERE id = ?
`

// GetUserByID はIDでユーザーを取得する。
func (q *Queries) GetUserByID(ctx context.Context, id string) (User, error) {
	row := q.db.QueryRowContext(ctx, getUserByID, id)
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.EmailVerified, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

const getUserByEmail = `
SELECT id, email, name, password_hash, email_verified, created_at, updated_at
FROM users WHERE email = ?
`

// GetUserByEmail はメールアドレスでユーザーを取得する。
func (q *Queries) GetUserByEmail(ctx context.Context, email string) (User, error) {
	row := q.db.QueryRowContext(ctx, getUserByEmail, email)
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.EmailVerified, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

const createSession = `
INSERT INTO sessions (id, token, user_id, expires_at, ip_address, user_agent, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
`

// CreateSessionParams はCreateSessionの引数。
type CreateSessionParams struct {
	ID        string
	Token     string
	UserID    string
	ExpiresAt time.Time
	IPAddress string
	UserAgent string
	CreatedAt time.Time
}

// CreateSession はセッションを作成する。
func (q *Queries) CreateSession(ctx context.Context, arg CreateSessionParams) error {
	_, err := q.db.ExecContext(ctx, createSession,
		arg.ID,
		arg.Token,
		arg.UserID,
		arg.ExpiresAt.UTC(),
		arg.IPAddress,
		arg.UserAgent,
		arg.CreatedAt.UTC(),
	)
	return err
}

const getSessionByToken = `
SELECT id, token, user_id, expires_at, ip_address, user_agent, created_at
FROM sessions WHERE token = ?
`

// GetSessionByToken はセッショントークンでセッションを取得する。
func (q *Queries) GetSessionByToken(ctx context.Context, token string) (Session, error) {
	row := q.db.QueryRowContext(ctx, getSessionByToken, token)
	var s Session
	err := row.Scan(&s.ID, &s.Token, &s.UserID, &s.ExpiresAt, &s.IPAddress, &s.UserAgent, &s.CreatedAt)
	return s, err
}

const deleteSessionByToken = `DELETE FROM sessions WHERE token = ?`

// DeleteSessionByToken はセッショントークンに対応するセッションを削除する。
func (q *Queries) DeleteSessionByToken(ctx context.Context, token string) error {
	_, err := q.db.ExecContext(ctx, deleteSessionByToken, token)
	return err
}

const deleteExpiredSessions = `DELETE FROM sessions WHERE expires_at <= ?`

// DeleteExpiredSessions は期限切れのセッションを削除し、削除件数を返す。
func (q *Queries) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx, deleteExpiredSessions, now.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const createSigningKey = `
INSERT INTO jwks (id, public_key, private_key, created_at)
VALUES (?, ?, ?, ?)
`

// CreateSigningKeyParams はCreateSigningKeyの引数。
type CreateSigningKeyParams struct {
	ID         string
	PublicKey  string
	PrivateKey string
	CreatedAt  time.Time
}

// CreateSigningKey は署名鍵を保存する。
func (q *Queries) CreateSigningKey(ctx context.Context, arg CreateSigningKeyParams) error {
	_, err := q.db.ExecContext(ctx, createSigningKey, arg.ID, arg.PublicKey, arg.PrivateKey, arg.CreatedAt.UTC())
	return err
}

const getLatestSigningKey = `
SELECT id, public_key, private_key, created_at
FROM jwks ORDER BY created_at DESC, id DESC LIMIT 1
`

// GetLatestSigningKey は最も新しい署名鍵を取得する。
func (q *Queries) GetLatestSigningKey(ctx context.Context) (SigningKey, error) {
	row := q.db.QueryRowContext(ctx, getLatestSigningKey)
	var k SigningKey
	err := row.Scan(&k.ID, &k.PublicKey, &k.PrivateKey, &k.CreatedAt)
	return k, err
}
