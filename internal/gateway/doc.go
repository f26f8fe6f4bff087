// Package gateway はWebアプリのHTTPサーバーとバックエンドへの転送処理を提供する。
//
// /api/auth 配下は認証サービスが処理し、それ以外の /api 配下のリクエストは
// セッションから発行したJWTをAuthorizationヘッダーに設定してバックエンドへ転送する。
// リクエストボディとレスポンスボディはメモリに溜めずにストリームで転送する。
package gateway
