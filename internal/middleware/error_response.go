package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/hitoshi/oauthgate/internal/model"
)

// jsonContentType はこのサービスが返すJSONのContent-Type。
const jsonContentType = "application/json; charset=utf-8"

// ErrorResponseBody はエラーレスポンスのJSON表現。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

func newErrorResponseBody(apiErr *model.APIError) ErrorResponseBody {
	if apiErr == nil {
		apiErr = model.NewInternalError()
	}
	return ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	}
}

// WriteErrorResponse はAPIErrorをJSONで書き込む。apiErrがnilの場合は内部エラーとして扱う。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	WriteJSON(w, statusCode, newErrorResponseBody(apiErr))
}

// WriteInternalServerError は詳細を含まない500レスポンスを書き込む。原因は呼び出し側でログに残すこと。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, model.NewInternalError())
}

// WriteJSON は値をJSONで書き込む。
// レスポンスはいずれもセッションまたはログイン試行に紐づくため、キャッシュさせない。
func WriteJSON(w http.ResponseWriter, statusCode int, v any) {
	h := w.Header()
	h.Set("Content-Type", jsonContentType)
	h.Set("Cache-Control", "no-store")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}
