// Package authclient は認証サービス（/api/auth）のクライアントSDKを提供する。
//
// クッキージャーでセッションクッキーを保持し、サインアップ・サインイン・
// サインアウト・セッション取得・JWT取得を行う。Tokenメソッドは
// apiclient.TokenSourceとして利用できる。
package authclient
