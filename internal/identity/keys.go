package identity

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v3/jwk"

	"github.com/nao1215/authgate/internal/identity/db"
)

// signingKey はJWT署名に使うEd25519鍵ペア。
type signingKey struct {
	id      string
	private ed25519.PrivateKey
	public  ed25519.PublicKey
}

// loadOrCreateSigningKey は保存済みの最新の署名鍵を読み込む。
// 鍵が1つも無い場合は新しく生成して保存する。
func loadOrCreateSigningKey(ctx context.Context, q *db.Queries, now time.Time) (*signingKey, error) {
	row, err := q.GetLatestSigningKey(ctx)
	if err == nil {
		return decodeSigningKey(row)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("署名鍵の取得に失敗: %w", err)
	}

	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("署名鍵の生成に失敗: %w", err)
	}
	key := &signingKey{id: uuid.New().String(), private: private, public: public}

	if err := q.CreateSigningKey(ctx, db.CreateSigningKeyParams{
		ID:         key.id,
		PublicKey:  base64.StdEncoding.EncodeToString(public),
		PrivateKey: base64.StdEncoding.EncodeToString(private.Seed()),
		CreatedAt:  now,
	}); err != nil {
		return nil, fmt.Errorf("署名鍵の保存に失敗: %w", err)
	}
	return key, nil
}

// decodeSigningKey はDBに保存された鍵を復元する。
func decodeSigningKey(row db.SigningKey) (*signingKey, error) {
	seed, err := base64.StdEncoding.DecodeString(row.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("秘密鍵のデコードに失敗: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("秘密鍵の長さが不正です: %d", len(seed))
	}
	private := ed25519.NewKeyFromSeed(seed)
	public, ok := private.Public().(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("公開鍵の導出に失敗")
	}
	return &signingKey{id: row.ID, private: private, public: public}, nil
}

// publicSet は公開鍵のみを含むJWK Setを生成する。
func (k *signingKey) publicSet() (jwk.Set, error) {
	key, err := jwk.Import(k.public)
	if err != nil {
		return nil, fmt.Errorf("公開鍵のJWK変換に失敗: %w", err)
	}
	if err := key.Set(jwk.KeyIDKey, k.id); err != nil {
		return nil, fmt.Errorf("kidの設定に失敗: %w", err)
	}
	if err := key.Set(jwk.AlgorithmKey, "EdDSA"); err != nil {
		return nil, fmt.Errorf("algの設定に失敗: %w", err)
	}
	if err := key.Set(jwk.KeyUsageKey, "sig"); err != nil {
		return nil, fmt.Errorf("useの設定に失敗: %w", err)
	}

	set := jwk.NewSet()
	if err := set.AddKey(key); err != nil {
		return nil, fmt.Errorf("JWK Setへの追加に失敗: %w", err)
	}
	return set, nil
}
