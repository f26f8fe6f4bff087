package apiclient

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Response はAPI呼び出しの結果。成功時はData、失敗時はErrorが設定される。
// Statusはトランスポートエラーやレスポンスの解析失敗時に0になる。
type Response[T any] struct {
	Data   *T     `json:"data,omitempty"`
	Error  string `json:"error,omitempty"`
	Status int    `json:"status"`
}

// AuthVerifyResponse は /api/auth/verify のレスポンス。
type AuthVerifyResponse struct {
	Valid  bool   `json:"valid"`
	UserID string `json:"userId,omitempty"`
	Email  string `json:"email,omitempty"`
}

// UserProfile は /api/v1/auth/me が返すユーザー情報。
type UserProfile struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
}

// MeResponse は /api/v1/auth/me のレスポンス。
type MeResponse struct {
	User UserProfile `json:"user"`
}

// errorResponse はバックエンドのエラーレスポンス。
type errorResponse struct {
	Message string `json:"message"`
}

// statusText は "404 Not Found" の形式のステータス表記を返す。
func statusText(code int) string {
	return fmt.Sprintf("%d %s", code, http.StatusText(code))
}

// failure はエラーのResponseを生成する。
func failure[T any](message string, status int) Response[T] {
	return Response[T]{Error: message, Status: status}
}

// decodeResponse はレスポンスをResponse[T]に変換する。
// ボディはステータスに関わらずJSONとして解析し、解析できない場合はStatus 0のエラーとする。
// 2xxで空ボディの場合はDataをnilのまま返す。
func decodeResponse[T any](resp *http.Response) Response[T] {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return failure[T](err.Error(), 0)
	}
	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	if ok && len(body) == 0 {
		return Response[T]{Status: resp.StatusCode}
	}

	if !ok {
		var e errorResponse
		if err := json.Unmarshal(body, &e); err != nil {
			return failure[T](statusText(resp.StatusCode), 0)
		}
		if e.Message != "" {
			return failure[T](e.Message, resp.StatusCode)
		}
		return failure[T]("API Error: "+statusText(resp.StatusCode), resp.StatusCode)
	}

	var data T
	if err := json.Unmarshal(body, &data); err != nil {
		return failure[T](statusText(resp.StatusCode), 0)
	}
	return Response[T]{Data: &data, Status: resp.StatusCode}
}
