// Package middleware はGinベースのHTTP APIで使用する共通ミドルウェアを提供する。
//
// JWKSによるJWT認証トークンの検証、リクエストログ、パニックリカバリ、
// CORS設定など、gatewayとbackendで共通して使用するミドルウェアを含む。
package middleware
