// Package backend はゲートウェイの転送先となるサンプルのバックエンドAPIを提供する。
//
// 認証サービスが公開するJWKSでBearerトークンの署名を検証し、
// クレームから取り出したユーザー情報を返す。
package backend
