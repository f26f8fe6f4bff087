package identity

import (
	"context"
	"crypto/rand"
	"database/sql"
	"embed"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	sqlite3 "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/nao1215/authgate/internal/identity/db"
	"github.com/nao1215/authgate/pkg/logging"
	"github.com/nao1215/authgate/pkg/migration"
)

//go:embed migrations/*.sql
var migrations embed.FS

// SessionCookieName はセッショントークンを保持するクッキー名。
const SessionCookieName = "authgate.session_token"

const (
	minPasswordLength = 8
	// bcryptは72バイトを超える入力を扱えない。
	maxPasswordLength = 72
)

// Migrate はidentityサービスのスキーマを適用する。
func Migrate(ctx context.Context, sqlDB *sql.DB, log *zap.SugaredLogger) error {
	if err := migration.Run(ctx, sqlDB, migrations, "migrations", log); err != nil {
		return err
	}
	version, err := migration.Version(ctx, sqlDB, migrations, "migrations")
	if err != nil {
		return err
	}
	log.Infow("[Identity] スキーマを確認しました", "version", version)
	return nil
}

// Options はServiceの設定。
type Options struct {
	// Issuer はJWTのiss/audに設定する認証サービスのURL。
	Issuer string
	// TokenTTL はJWTの有効期間。
	TokenTTL time.Duration
	// SessionTTL はセッションの有効期間。
	SessionTTL time.Duration
	// PasswordCost はbcryptのコスト。0の場合はbcrypt.DefaultCost。
	PasswordCost int
	// Logger はログ出力先。nilの場合は出力しない。
	Logger *zap.SugaredLogger
	// Now は現在時刻を返す関数。nilの場合はtime.Now。
	Now func() time.Time
}

// Service はユーザー登録・ログイン・セッション管理・JWT発行を行う。
type Service struct {
	// db はSQLiteデータベース接続。
	db *sql.DB
	// queries はクエリ実行オブジェクト。
	queries *db.Queries
	// key は現在の署名鍵。
	key *signingKey
	// jwks は公開鍵のJWK Set。
	jwks jwk.Set
	// issuer はJWTのiss/aud。
	issuer       string
	tokenTTL     time.Duration
	sessionTTL   time.Duration
	passwordCost int
	log          *zap.SugaredLogger
	now          func() time.Time
}

// NewService は新しいServiceを生成する。スキーマは事前にMigrateで適用しておくこと。
func NewService(ctx context.Context, sqlDB *sql.DB, opts Options) (*Service, error) {
	if opts.Issuer == "" {
		return nil, errors.New("identity: Issuerが指定されていません")
	}
	if opts.TokenTTL <= 0 || opts.SessionTTL <= 0 {
		return nil, errors.New("identity: TokenTTLとSessionTTLは正の値である必要があります")
	}
	if opts.PasswordCost == 0 {
		opts.PasswordCost = bcrypt.DefaultCost
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	queries := db.New(sqlDB)
	key, err := loadOrCreateSigningKey(ctx, queries, opts.Now())
	if err != nil {
		return nil, err
	}
	set, err := key.publicSet()
	if err != nil {
		return nil, err
	}

	return &Service{
		db:           sqlDB,
		queries:      queries,
		key:          key,
		jwks:         set,
		issuer:       opts.Issuer,
		tokenTTL:     opts.TokenTTL,
		sessionTTL:   opts.SessionTTL,
		passwordCost: opts.PasswordCost,
		log:          opts.Logger,
		now:          opts.Now,
	}, nil
}

// SignUp はユーザーを作成し、そのユーザーのセッションを開始する。
func (s *Service) SignUp(ctx context.Context, p SignUpParams) (*Session, *User, error) {
	email, err := normalizeEmail(p.Email)
	if err != nil {
		return nil, nil, err
	}
	name := strings.TrimSpace(p.Name)
	if name == "" {
		return nil, nil, fmt.Errorf("%w: 名前が空です", ErrInvalidInput)
	}
	if len(p.Password) < minPasswordLength || len(p.Password) > maxPasswordLength {
		return nil, nil, fmt.Errorf("%w: パスワードは%d文字以上%dバイト以下である必要があります",
			ErrInvalidInput, minPasswordLength, maxPasswordLength)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(p.Password), s.passwordCost)
	if err != nil {
		return nil, nil, fmt.Errorf("パスワードのハッシュ化に失敗: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer rollback(tx)

	q := s.queries.WithTx(tx)
	now := s.now()
	userID := uuid.New().String()
	if err := q.CreateUser(ctx, db.CreateUserParams{
		ID:           userID,
		Email:        email,
		Name:         name,
		PasswordHash: string(hash),
		CreatedAt:    now,
	}); err != nil {
		if isUniqueViolation(err) {
			return nil, nil, ErrUserExists
		}
		return nil, nil, fmt.Errorf("ユーザー作成に失敗: %w", err)
	}

	session, err := s.createSession(ctx, q, userID, p.IPAddress, p.UserAgent)
	if err != nil {
		return nil, nil, err
	}

	user, err := q.GetUserByID(ctx, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("ユーザー取得に失敗: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("トランザクションのコミットに失敗: %w", err)
	}

	s.log.Infow("ユーザーを登録しました", "user_id", userID)
	return session, userFromRow(user), nil
}

// SignIn はメールアドレスとパスワードを検証し、新しいセッションを開始する。
func (s *Service) SignIn(ctx context.Context, p SignInParams) (*Session, *User, error) {
	email, err := normalizeEmail(p.Email)
	if err != nil {
		return nil, nil, ErrInvalidCredentials
	}

	user, err := s.queries.GetUserByEmail(ctx, email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, nil, fmt.Errorf("ユーザー取得に失敗: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(p.Password)); err != nil {
		return nil, nil, ErrInvalidCredentials
	}

	session, err := s.createSession(ctx, s.queries, user.ID, p.IPAddress, p.UserAgent)
	if err != nil {
		return nil, nil, err
	}
	return session, userFromRow(user), nil
}

// SignOut はセッションを破棄する。存在しないセッションの場合も成功とする。
func (s *Service) SignOut(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := s.queries.DeleteSessionByToken(ctx, token); err != nil {
		return fmt.Errorf("セッション削除に失敗: %w", err)
	}
	return nil
}

// Session はセッショントークンに対応する有効なセッションとユーザーを返す。
// 期限切れのセッションは削除し、ErrNoSessionを返す。
func (s *Service) Session(ctx context.Context, token string) (*Session, *User, error) {
	if token == "" {
		return nil, nil, ErrNoSession
	}

	row, err := s.queries.GetSessionByToken(ctx, token)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrNoSession
	}
	if err != nil {
		return nil, nil, fmt.Errorf("セッション取得に失敗: %w", err)
	}

	if !row.ExpiresAt.After(s.now()) {
		if err := s.queries.DeleteSessionByToken(ctx, token); err != nil {
			s.log.Warnw("期限切れセッションの削除に失敗", "error", err)
		}
		return nil, nil, ErrNoSession
	}

	user, err := s.queries.GetUserByID(ctx, row.UserID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrNoSession
	}
	if err != nil {
		return nil, nil, fmt.Errorf("ユーザー取得に失敗: %w", err)
	}
	return sessionFromRow(row), userFromRow(user), nil
}

// SessionFromRequest はリクエストのクッキーまたはAuthorizationヘッダーから
// セッションを解決する。
func (s *Service) SessionFromRequest(ctx context.Context, r *http.Request) (*Session, *User, error) {
	return s.Session(ctx, SessionToken(r))
}

// IssueToken はユーザーの短命なJWTを発行する。
func (s *Service) IssueToken(user *User) (string, error) {
	now := s.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   user.ID,
			Audience:  jwt.ClaimStrings{s.issuer},
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        uuid.New().String(),
		},
		Email: user.Email,
		Name:  user.Name,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	token.Header["kid"] = s.key.id
	signed, err := token.SignedString(s.key.private)
	if err != nil {
		return "", fmt.Errorf("JWTトークンの署名に失敗: %w", err)
	}
	return signed, nil
}

// TokenForRequest は呼び出し元のセッションに対するJWTを発行する。
// gatewayが転送リクエストにBearerトークンを付与するために呼び出す。
func (s *Service) TokenForRequest(ctx context.Context, r *http.Request) (string, error) {
	_, user, err := s.SessionFromRequest(ctx, r)
	if err != nil {
		return "", err
	}
	return s.IssueToken(user)
}

// JWKS は公開鍵のJWK Setを返す。
func (s *Service) JWKS() jwk.Set {
	return s.jwks
}

// PurgeExpiredSessions は期限切れのセッションを削除する。
func (s *Service) PurgeExpiredSessions(ctx context.Context) (int64, error) {
	n, err := s.queries.DeleteExpiredSessions(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("期限切れセッションの削除に失敗: %w", err)
	}
	return n, nil
}

// SessionToken はリクエストからセッショントークンを取り出す。
// クッキーを優先し、無い場合はAuthorizationヘッダーのBearer値を使う。
func SessionToken(r *http.Request) string {
	if c, err := r.Cookie(SessionCookieName); err == nil && c.Value != "" {
		return c.Value
	}
	if token, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); found {
		return strings.TrimSpace(token)
	}
	return ""
}

// createSession はランダムなセッショントークンを生成して保存する。
func (s *Service) createSession(ctx context.Context, q *db.Queries, userID, ip, userAgent string) (*Session, error) {
	token, err := newSessionToken()
	if err != nil {
		return nil, err
	}

	now := s.now()
	params := db.CreateSessionParams{
		ID:        uuid.New().String(),
		Token:     token,
		UserID:    userID,
		ExpiresAt: now.Add(s.sessionTTL),
		IPAddress: ip,
		UserAgent: userAgent,
		CreatedAt: now,
	}
	if err := q.CreateSession(ctx, params); err != nil {
		return nil, fmt.Errorf("セッション作成に失敗: %w", err)
	}

	return &Session{
		ID:        params.ID,
		Token:     params.Token,
		UserID:    params.UserID,
		ExpiresAt: params.ExpiresAt,
		IPAddress: params.IPAddress,
		UserAgent: params.UserAgent,
		CreatedAt: params.CreatedAt,
	}, nil
}

// newSessionToken は32バイトのランダムなトークンを生成する。
func newSessionToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("セッショントークンの生成に失敗: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// normalizeEmail はメールアドレスを検証し、小文字に正規化する。
func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("%w: メールアドレスの形式が不正です", ErrInvalidInput)
	}
	return email, nil
}

// isUniqueViolation はSQLiteのUNIQUE制約違反かどうかを判定する。
func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code() == sqlite3lib.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}

// rollback はトランザクションをロールバックする。コミット済みの場合のエラーは無視する。
func rollback(tx *sql.Tx) { _ = tx.Rollback() }
