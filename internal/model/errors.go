package model

import (
	"context"
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, authorization, network, not_found, upload, validation, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// エラーカテゴリ
const (
	CategoryAuth          = "auth"
	CategoryAuthorization = "authorization"
	CategoryNetwork       = "network"
	CategoryNotFound      = "not_found"
	CategoryUpload        = "upload"
	CategoryValidation    = "validation"
	CategorySystem        = "system"
)

// 定義済みエラーコード
const (
	ErrCodeAuthFailed        = "AUTH_FAILED"
	ErrCodeEmailNotConfirmed = "EMAIL_NOT_CONFIRMED"
	ErrCodeNotSignedIn       = "NOT_SIGNED_IN"
	ErrCodePermissionDenied  = "PERMISSION_DENIED"
	ErrCodeTimedOut          = "TIMED_OUT"
	ErrCodeNetwork           = "NETWORK_ERROR"
	ErrCodeRecipeNotFound    = "RECIPE_NOT_FOUND"
	ErrCodeProfileNotFound   = "PROFILE_NOT_FOUND"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeUploadFailed      = "UPLOAD_FAILED"
	ErrCodeInvalidInput      = "INVALID_INPUT"
	ErrCodeImageURLRequired  = "IMAGE_URL_REQUIRED"
	ErrCodeImageFetchFailed  = "IMAGE_FETCH_FAILED"
	ErrCodeRateLimited       = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal          = "INTERNAL_ERROR"
)

// APIErrorer は自身を統一エラーフォーマットに変換できるエラーを表す。
// ゲートウェイやオーケストレータのエラー型が実装する。
type APIErrorer interface {
	APIError() *APIError
}

// ToAPIError は任意のエラーを利用者向けの APIError に変換する。
// 表示層に生のゲートウェイエラーを渡さないための唯一の変換点。
func ToAPIError(err error) *APIError {
	if err == nil {
		return nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	var conv APIErrorer
	if errors.As(err, &conv) {
		if converted := conv.APIError(); converted != nil {
			return converted
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewTimedOutError()
	}
	if errors.Is(err, context.Canceled) {
		return NewNetworkError("操作がキャンセルされました。")
	}
	return NewInternalError()
}

// NewAuthFailedError は認証失敗エラーを生成する。
func NewAuthFailedError(reason string) *APIError {
	msg := "メールアドレスまたはパスワードが正しくありません。"
	if reason != "" {
		msg = reason
	}
	return &APIError{
		Code:     ErrCodeAuthFailed,
		Message:  msg,
		Category: CategoryAuth,
		Action:   "入力内容を確認して、もう一度お試しください。",
	}
}

// NewEmailNotConfirmedError はメールアドレス未確認エラーを生成する。
func NewEmailNotConfirmedError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailNotConfirmed,
		Message:  "メールアドレスの確認が完了していません。",
		Category: CategoryAuth,
		Action:   "受信した確認メールのリンクを開いてから、再度ログインしてください。",
	}
}

// NewNotSignedInError は未ログインエラーを生成する。
func NewNotSignedInError() *APIError {
	return &APIError{
		Code:     ErrCodeNotSignedIn,
		Message:  "ログインが必要です。",
		Category: CategoryAuth,
		Action:   "ログインしてから、もう一度お試しください。",
	}
}

// NewPermissionDeniedError は権限エラーを生成する。
// 行レベルセキュリティによる拒否の詳細は利用者に示さない。
func NewPermissionDeniedError() *APIError {
	return &APIError{
		Code:     ErrCodePermissionDenied,
		Message:  "操作を完了できませんでした。",
		Category: CategoryAuthorization,
		Action:   "ログイン状態と対象のレシピを確認してください。",
	}
}

// NewTimedOutError はタイムアウトエラーを生成する。操作の結果は不明として扱う。
func NewTimedOutError() *APIError {
	return &APIError{
		Code:     ErrCodeTimedOut,
		Message:  "リクエストがタイムアウトしました。",
		Category: CategoryNetwork,
		Action:   "もう一度お試しください。操作が反映されたかどうかは再読み込みで確認できます。",
	}
}

// NewNetworkError は通信エラーを生成する。
func NewNetworkError(reason string) *APIError {
	msg := "サーバーとの通信に失敗しました。"
	if reason != "" {
		msg = reason
	}
	return &APIError{
		Code:     ErrCodeNetwork,
		Message:  msg,
		Category: CategoryNetwork,
		Action:   "ネットワーク接続を確認して、もう一度お試しください。",
	}
}

// NewRecipeNotFoundError はレシピ未検出エラーを生成する。
func NewRecipeNotFoundError(recipeID string) *APIError {
	return &APIError{
		Code:     ErrCodeRecipeNotFound,
		Message:  fmt.Sprintf("レシピが見つからないか、操作する権限がありません: %s", recipeID),
		Category: CategoryNotFound,
		Action:   "レシピ一覧から対象のレシピを確認してください。",
	}
}

// NewProfileNotFoundError はプロフィール未検出エラーを生成する。
func NewProfileNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeProfileNotFound,
		Message:  "プロフィールが見つかりません。",
		Category: CategoryNotFound,
		Action:   "プロフィールを作成してください。",
	}
}

// NewNotFoundError は対象未検出エラーを生成する。
func NewNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeNotFound,
		Message:  "対象が見つかりません。",
		Category: CategoryNotFound,
		Action:   "一覧を再読み込みしてください。",
	}
}

// NewUploadFailedError は画像アップロード失敗エラーを生成する。
func NewUploadFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeUploadFailed,
		Message:  "画像のアップロードに失敗しました。",
		Category: CategoryUpload,
		Action:   "レシピはプレースホルダー画像で保存されました。編集画面から画像を再度アップロードしてください。",
	}
}

// NewValidationError は入力検証エラーを生成する。
func NewValidationError(field, reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidInput,
		Message:  fmt.Sprintf("入力内容に誤りがあります (%s): %s", field, reason),
		Category: CategoryValidation,
		Action:   reason,
	}
}

// NewImageURLRequiredError は画像URL未指定エラーを生成する。
func NewImageURLRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodeImageURLRequired,
		Message:  "Image URL is required",
		Category: CategoryValidation,
		Action:   "url クエリパラメータに画像の絶対URLを指定してください。",
	}
}

// NewImageFetchFailedError は画像取得失敗エラーを生成する。
func NewImageFetchFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeImageFetchFailed,
		Message:  "Failed to fetch image",
		Category: CategoryNetwork,
		Action:   "画像URLが正しいか確認し、しばらく待ってから再度お試しください。",
	}
}

// NewRateLimitedError はレート制限超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエスト数が上限を超えました。",
		Category: CategorySystem,
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewInternalError は内部エラーを生成する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: CategorySystem,
		Action:   "しばらく待ってから再度お試しください。",
	}
}
