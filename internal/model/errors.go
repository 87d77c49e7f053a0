package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, provider, session, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeConfiguration         = "CONFIGURATION_ERROR"
	ErrCodeCSRFValidation        = "CSRF_VALIDATION_FAILED"
	ErrCodeProviderCommunication = "PROVIDER_COMMUNICATION_FAILED"
	ErrCodeSessionEstablishment  = "SESSION_ESTABLISHMENT_FAILED"
	ErrCodePendingRequestLookup  = "PENDING_REQUEST_LOOKUP_FAILED"
	ErrCodeInternal              = "INTERNAL_ERROR"
	ErrCodeUnauthorized          = "UNAUTHORIZED"
	ErrCodeNotFound              = "NOT_FOUND"
	ErrCodeMethodNotAllowed      = "METHOD_NOT_ALLOWED"
	ErrCodeRateLimitExceeded     = "RATE_LIMIT_EXCEEDED"
)

// ErrorKind はハンドシェイク失敗の分類を表す。
type ErrorKind int

const (
	// KindConfiguration は必須設定の欠落。構築時に即座に返る。
	KindConfiguration ErrorKind = iota + 1
	// KindCSRFValidation はstateパラメータとCookieの不一致。
	KindCSRFValidation
	// KindProviderCommunication はIdPへのリクエストの失敗。
	KindProviderCommunication
	// KindSessionEstablishment はローカルセッションの確立またはユーザー保存の失敗。
	KindSessionEstablishment
	// KindPendingRequestLookup はPendingRequestが存在しない（消費済み・期限切れ）場合の失敗。
	KindPendingRequestLookup
)

// String はErrorKindの名前を返す。
func (k ErrorKind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindCSRFValidation:
		return "csrf_validation"
	case KindProviderCommunication:
		return "provider_communication"
	case KindSessionEstablishment:
		return "session_establishment"
	case KindPendingRequestLookup:
		return "pending_request_lookup"
	default:
		return "unknown"
	}
}

// HandshakeError はログインハンドシェイクの単一の型付き失敗結果。
// Stepには失敗したパイプラインのステップ名が入る。
type HandshakeError struct {
	Kind ErrorKind
	Step string
	Err  error
}

// NewHandshakeError はHandshakeErrorを生成する。
func NewHandshakeError(kind ErrorKind, step string, err error) *HandshakeError {
	return &HandshakeError{Kind: kind, Step: step, Err: err}
}

// Error はerrorインターフェースを実装する。
func (e *HandshakeError) Error() string {
	if e.Step == "" {
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s error at %s: %v", e.Kind, e.Step, e.Err)
}

// Unwrap は原因となったエラーを返す。
func (e *HandshakeError) Unwrap() error {
	return e.Err
}

// KindOf はエラーチェーンからHandshakeErrorの分類を取り出す。
func KindOf(err error) (ErrorKind, bool) {
	var hsErr *HandshakeError
	if errors.As(err, &hsErr) {
		return hsErr.Kind, true
	}
	return 0, false
}

// IsKind はエラーチェーンが指定の分類のHandshakeErrorを含むかを返す。
func IsKind(err error, kind ErrorKind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// APIError はクライアントに返すエラー表現を生成する。
// 原因の詳細はログにのみ記録し、レスポンスには含めない。
func (e *HandshakeError) APIError() *APIError {
	switch e.Kind {
	case KindCSRFValidation:
		return NewCSRFValidationError()
	case KindProviderCommunication:
		return NewProviderCommunicationError()
	case KindSessionEstablishment:
		return NewSessionEstablishmentError()
	case KindPendingRequestLookup:
		return NewPendingRequestLookupError()
	default:
		return NewInternalError()
	}
}

// NewCSRFValidationError はCSRF検証失敗エラーを生成する。
func NewCSRFValidationError() *APIError {
	return &APIError{
		Code:     ErrCodeCSRFValidation,
		Message:  "ログインリクエストの検証に失敗しました。",
		Category: "auth",
		Action:   "同じブラウザで最初からログインし直してください。",
	}
}

// NewProviderCommunicationError はIdPとの通信失敗エラーを生成する。
func NewProviderCommunicationError() *APIError {
	return &APIError{
		Code:     ErrCodeProviderCommunication,
		Message:  "認証プロバイダーとの通信に失敗しました。",
		Category: "provider",
		Action:   "しばらく待ってから再度ログインしてください。",
	}
}

// NewSessionEstablishmentError はセッション確立失敗エラーを生成する。
func NewSessionEstablishmentError() *APIError {
	return &APIError{
		Code:     ErrCodeSessionEstablishment,
		Message:  "ログインセッションの作成に失敗しました。",
		Category: "session",
		Action:   "しばらく待ってから再度ログインしてください。",
	}
}

// NewPendingRequestLookupError はログインリクエストが見つからない場合のエラーを生成する。
// 再送（リプレイ）または期限切れを示す。
func NewPendingRequestLookupError() *APIError {
	return &APIError{
		Code:     ErrCodePendingRequestLookup,
		Message:  "ログインリクエストが見つからないか、既に使用されています。",
		Category: "auth",
		Action:   "最初からログインし直してください。",
	}
}

// NewInternalError は内部エラーを生成する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "ログインが必要です。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewNotFoundError はパス未検出エラーを生成する。
func NewNotFoundError(path string) *APIError {
	return &APIError{
		Code:     ErrCodeNotFound,
		Message:  fmt.Sprintf("指定されたパスが見つかりません: %s", path),
		Category: "system",
		Action:   "URLを確認してください。",
	}
}

// NewMethodNotAllowedError はメソッド不一致エラーを生成する。
func NewMethodNotAllowedError(method string) *APIError {
	return &APIError{
		Code:     ErrCodeMethodNotAllowed,
		Message:  fmt.Sprintf("このパスでは%sメソッドを使用できません。", method),
		Category: "system",
		Action:   "リクエストのメソッドを確認してください。",
	}
}

// NewRateLimitError はレート制限超過エラーを生成する。
func NewRateLimitError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimitExceeded,
		Message:  "ログインの試行回数が多すぎます。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
