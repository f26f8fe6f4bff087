// Package apiclient はバックエンドAPIを呼び出すクライアントを提供する。
//
// 認証サービスから取得したJWTをTokenCacheで保持し、有効期限の10秒前まで再利用する。
// fetch形式のRequestと、http.RoundTripperでヘッダーを付与するInterceptorClientの
// 2種類があり、どちらも結果をResponse[T]の形で返す。
package apiclient
