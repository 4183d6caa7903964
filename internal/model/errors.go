// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// Webhook配送元のプロバイダーに返す原因カテゴリと、運用者向けの対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, sync, system
	Action   string // 運用者向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeConfiguration         = "CONFIGURATION_ERROR"
	ErrCodeMissingWebhookHeaders = "MISSING_WEBHOOK_HEADERS"
	ErrCodeSignatureMismatch     = "SIGNATURE_MISMATCH"
	ErrCodeMalformedEvent        = "MALFORMED_EVENT"
	ErrCodeUserNotFound          = "USER_NOT_FOUND"
	ErrCodeConnectionFailed      = "CONNECTION_FAILED"
)

// NewConfigurationError は設定不備エラーを生成する。
// 起動時または接続先未設定時の致命的エラーに使用する。
func NewConfigurationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeConfiguration,
		Message:  fmt.Sprintf("設定が不足しています: %s", reason),
		Category: "system",
		Action:   "環境変数の設定を確認してください。",
	}
}

// NewMissingWebhookHeadersError は署名検証に必要なヘッダーが欠落している場合のエラーを生成する。
func NewMissingWebhookHeadersError(provider string) *APIError {
	return &APIError{
		Code:     ErrCodeMissingWebhookHeaders,
		Message:  fmt.Sprintf("%s の署名検証ヘッダーが不足しています。", provider),
		Category: "auth",
		Action:   "プロバイダーのWebhook設定と配送元を確認してください。",
	}
}

// NewSignatureMismatchError は署名検証に失敗した場合のエラーを生成する。
// 認証失敗であり、内部でのリトライ対象にはしない。
func NewSignatureMismatchError(provider string) *APIError {
	return &APIError{
		Code:     ErrCodeSignatureMismatch,
		Message:  fmt.Sprintf("%s のWebhook署名検証に失敗しました。", provider),
		Category: "auth",
		Action:   "署名シークレットがプロバイダーのダッシュボードと一致しているか確認してください。",
	}
}

// NewMalformedEventError は検証済みペイロードに必須フィールドが欠けている場合のエラーを生成する。
func NewMalformedEventError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeMalformedEvent,
		Message:  fmt.Sprintf("イベントペイロードが不正です: %s", reason),
		Category: "validation",
		Action:   "プロバイダーのイベントペイロード仕様を確認してください。",
	}
}

// NewUserNotFoundError は対象ユーザーが存在しない場合のエラーを生成する。
// 非2xxで応答することでプロバイダー側の再配送に委ねる。
func NewUserNotFoundError(identityID string) *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  fmt.Sprintf("指定されたユーザーが見つかりません: %s", identityID),
		Category: "sync",
		Action:   "user.createdイベントが先に処理されているか確認してください。",
	}
}

// NewConnectionFailedError はドキュメントストアへの接続に失敗した場合のエラーを生成する。
func NewConnectionFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeConnectionFailed,
		Message:  fmt.Sprintf("データベースへの接続に失敗しました: %s", reason),
		Category: "system",
		Action:   "MongoDBの稼働状況と接続URLを確認してください。",
	}
}
