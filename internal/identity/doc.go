// Package identity はメールアドレスとパスワードによるサインアップ・サインインと、
// セッションに紐づく短命なJWTの発行を担う認証サービスを提供する。
//
// ユーザー・セッション・署名鍵はSQLiteに保存する。JWTはEd25519で署名し、
// 公開鍵は /api/auth/jwks でJWK Setとして公開する。バックエンドはこの公開鍵で
// トークンを検証するため、共有シークレットは不要となる。
package identity
