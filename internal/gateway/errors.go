package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/hashaatefac/Recipe-Sharing/internal/model"
)

// Scope はエラーが発生したゲートウェイAPIの種別を表す。
type Scope string

// ゲートウェイAPIの種別
const (
	ScopeAuth    Scope = "auth"
	ScopeREST    Scope = "rest"
	ScopeStorage Scope = "storage"
)

// ErrSessionExpired はリフレッシュトークンが無効になりセッションを継続できないことを表す。
var ErrSessionExpired = errors.New("gateway: session expired")

// Error はゲートウェイが返したHTTPエラー応答を表す。
type Error struct {
	Scope   Scope
	Status  int
	Code    string
	Message string
	Details string
	Hint    string
}

// Error はerrorインターフェースを実装する。
func (e *Error) Error() string {
	return fmt.Sprintf("gateway %s error: status=%d code=%s message=%s", e.Scope, e.Status, e.Code, e.Message)
}

// APIError はゲートウェイエラーを利用者向けのエラーに変換する。
// 行レベルセキュリティによる拒否は詳細を伏せた汎用メッセージになる。
func (e *Error) APIError() *model.APIError {
	switch {
	case e.Status == http.StatusRequestTimeout || e.Status == http.StatusGatewayTimeout:
		return model.NewTimedOutError()
	case e.Status == http.StatusTooManyRequests || e.Status >= 500:
		return model.NewNetworkError("サーバーが一時的に利用できません。")
	case e.Scope == ScopeAuth:
		return authAPIError(e)
	case e.Status == http.StatusNotFound || e.Code == "PGRST116":
		return model.NewNotFoundError()
	case e.Scope == ScopeStorage:
		return model.NewUploadFailedError()
	default:
		return model.NewPermissionDeniedError()
	}
}

func authAPIError(e *Error) *model.APIError {
	switch e.Code {
	case "email_not_confirmed":
		return model.NewEmailNotConfirmedError()
	case "invalid_credentials", "invalid_grant":
		return model.NewAuthFailedError("")
	case "user_already_exists", "email_exists":
		return model.NewAuthFailedError("このメールアドレスは既に登録されています。")
	case "weak_password":
		return model.NewValidationError("password", "パスワードが短すぎるか、推測されやすい文字列です。")
	case "email_address_invalid", "validation_failed":
		return model.NewValidationError("email", "有効なメールアドレスを入力してください。")
	}
	if e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden {
		return model.NewNotSignedInError()
	}
	return model.NewAuthFailedError("")
}

// NetworkError はゲートウェイへのリクエストが応答を得られずに失敗したことを表す。
type NetworkError struct {
	Op  string
	Err error
}

// Error はerrorインターフェースを実装する。
func (e *NetworkError) Error() string {
	return fmt.Sprintf("gateway %s: %v", e.Op, e.Err)
}

// Unwrap は原因のエラーを返す。
func (e *NetworkError) Unwrap() error {
	return e.Err
}

// APIError は通信エラーを利用者向けのエラーに変換する。
func (e *NetworkError) APIError() *model.APIError {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return model.NewTimedOutError()
	}
	return model.NewNetworkError("")
}

// IsTransient は再試行で回復しうる一時的なエラーかどうかを返す。
// 呼び出し元のコンテキスト終了による失敗は一時的とみなさない。
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return true
	}
	var gwErr *Error
	if errors.As(err, &gwErr) {
		switch gwErr.Status {
		case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
			http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
	}
	return false
}

// IsNotFound は対象が存在しないことを示すエラーかどうかを返す。
func IsNotFound(err error) bool {
	var gwErr *Error
	if !errors.As(err, &gwErr) {
		return false
	}
	return gwErr.Status == http.StatusNotFound || gwErr.Code == "PGRST116"
}

// errorBody はAuth / PostgREST / Storage のエラー応答の和集合。
type errorBody struct {
	Code             json.RawMessage `json:"code"`
	ErrorCode        string          `json:"error_code"`
	Error            string          `json:"error"`
	ErrorDescription string          `json:"error_description"`
	Msg              string          `json:"msg"`
	Message          string          `json:"message"`
	Details          json.RawMessage `json:"details"`
	Hint             string          `json:"hint"`
}

// decodeError はエラー応答のボディから Error を組み立てる。
// ボディがJSONでない場合はHTTPステータス文言を使う。
func decodeError(scope Scope, status int, body []byte) *Error {
	e := &Error{Scope: scope, Status: status}
	var b errorBody
	if err := json.Unmarshal(body, &b); err != nil {
		e.Message = strings.TrimSpace(string(body))
		if e.Message == "" {
			e.Message = http.StatusText(status)
		}
		return e
	}

	var code string
	if len(b.Code) > 0 && b.Code[0] == '"' {
		_ = json.Unmarshal(b.Code, &code)
	}
	e.Code = firstNonEmpty(b.ErrorCode, code, b.Error)
	e.Message = firstNonEmpty(b.Message, b.Msg, b.ErrorDescription, b.Error, http.StatusText(status))
	e.Hint = b.Hint
	if len(b.Details) > 0 && b.Details[0] == '"' {
		_ = json.Unmarshal(b.Details, &e.Details)
	}
	return e
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
