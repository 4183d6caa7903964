// Package handler はWebhook受信のHTTPハンドラーとルーティングを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/imagisync/internal/clerksync"
	"github.com/hitoshi/imagisync/internal/metrics"
	"github.com/hitoshi/imagisync/internal/model"
	"github.com/hitoshi/imagisync/internal/verifier"
)

// Clerkイベント種別。これ以外は無視して200を返す。
const (
	clerkEventUserCreated = "user.created"
	clerkEventUserUpdated = "user.updated"
	clerkEventUserDeleted = "user.deleted"
)

// ClerkVerifierInterface はClerk Webhookの署名検証インターフェース。
type ClerkVerifierInterface interface {
	// Verify は署名を検証し、検証済みのイベントを返す。
	Verify(rawBody []byte, headers http.Header) (*verifier.ClerkEvent, error)
}

// ClerkSyncServiceInterface はClerkハンドラーが必要とするサービスインターフェース。
type ClerkSyncServiceInterface interface {
	HandleUserCreated(ctx context.Context, data clerksync.UserEventData) (*clerksync.CreateResult, error)
	HandleUserUpdated(ctx context.Context, data clerksync.UserEventData) (*model.User, error)
	HandleUserDeleted(ctx context.Context, data clerksync.UserEventData) (*model.User, error)
}

// ClerkWebhookHandler はClerkユーザーライフサイクルWebhookのHTTPハンドラー。
type ClerkWebhookHandler struct {
	verifier  ClerkVerifierInterface
	service   ClerkSyncServiceInterface
	collector metrics.MetricsCollector
	logger    *slog.Logger
	bodyLimit int64
}

// NewClerkWebhookHandler はClerkWebhookHandlerを生成する。
func NewClerkWebhookHandler(v ClerkVerifierInterface, service ClerkSyncServiceInterface, collector metrics.MetricsCollector, logger *slog.Logger, bodyLimit int64) *ClerkWebhookHandler {
	return &ClerkWebhookHandler{
		verifier:  v,
		service:   service,
		collector: collector,
		logger:    logger,
		bodyLimit: bodyLimit,
	}
}

// clerkWebhookResponse はClerk Webhook処理成功時のレスポンス。
type clerkWebhookResponse struct {
	Message        string        `json:"message"`
	User           *userResponse `json:"user,omitempty"`
	MetadataSynced *bool         `json:"metadataSynced,omitempty"`
}

// userResponse はユーザー情報のAPIレスポンス。
type userResponse struct {
	ID            string `json:"id"`
	IdentityID    string `json:"identityId"`
	Email         string `json:"email"`
	Username      string `json:"username"`
	FirstName     string `json:"firstName"`
	LastName      string `json:"lastName"`
	PhotoURL      string `json:"photoUrl"`
	CreditBalance int    `json:"creditBalance"`
}

// HandleWebhook はClerk Webhookを処理する。
// POST /api/webhooks/clerk
func (h *ClerkWebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	h.collector.RecordWebhookReceived("clerk")
	defer func() {
		h.collector.RecordHandlerLatency("clerk", time.Since(start))
	}()

	rawBody, err := readWebhookBody(w, r, h.bodyLimit)
	if err != nil {
		h.collector.RecordVerifyFailure("clerk", model.ErrCodeMalformedEvent)
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewMalformedEventError("リクエストボディの読み取りに失敗しました"))
		return
	}

	event, err := h.verifier.Verify(rawBody, r.Header)
	if err != nil {
		h.writeVerifyFailure(w, err)
		return
	}

	// dataの解釈はイベント種別の確定後に行う。未知の種別のdataは
	// どんな形であっても触らずに受理する（デコード失敗で配送を
	// 失敗させると、プロバイダーが再配送を繰り返すため）。
	switch event.Type {
	case clerkEventUserCreated:
		data, ok := h.decodeUserEvent(w, event.Data)
		if !ok {
			return
		}
		result, err := h.service.HandleUserCreated(r.Context(), data)
		if err != nil {
			h.writeHandlerFailure(w, event.Type, err)
			return
		}
		if !result.MetadataSynced {
			h.collector.RecordMetadataSyncFailure()
		}
		h.collector.RecordEventHandled("clerk", event.Type)
		writeJSONResponse(w, http.StatusOK, clerkWebhookResponse{
			Message:        "OK",
			User:           toUserResponse(result.User),
			MetadataSynced: &result.MetadataSynced,
		})

	case clerkEventUserUpdated:
		data, ok := h.decodeUserEvent(w, event.Data)
		if !ok {
			return
		}
		user, err := h.service.HandleUserUpdated(r.Context(), data)
		if err != nil {
			h.writeHandlerFailure(w, event.Type, err)
			return
		}
		h.collector.RecordEventHandled("clerk", event.Type)
		writeJSONResponse(w, http.StatusOK, clerkWebhookResponse{
			Message: "OK",
			User:    toUserResponse(user),
		})

	case clerkEventUserDeleted:
		data, ok := h.decodeUserEvent(w, event.Data)
		if !ok {
			return
		}
		user, err := h.service.HandleUserDeleted(r.Context(), data)
		if err != nil {
			h.writeHandlerFailure(w, event.Type, err)
			return
		}
		h.collector.RecordEventHandled("clerk", event.Type)
		writeJSONResponse(w, http.StatusOK, clerkWebhookResponse{
			Message: "OK",
			User:    toUserResponse(user),
		})

	default:
		// 未知のイベント種別は副作用なしで受理する
		h.collector.RecordEventIgnored("clerk", event.Type)
		w.WriteHeader(http.StatusOK)
	}
}

// decodeUserEvent は処理対象と確定したイベントのdataを解釈する。
// 失敗時は400を書き込んでfalseを返す。
func (h *ClerkWebhookHandler) decodeUserEvent(w http.ResponseWriter, raw json.RawMessage) (clerksync.UserEventData, bool) {
	var data clerksync.UserEventData
	if err := json.Unmarshal(raw, &data); err != nil {
		h.collector.RecordVerifyFailure("clerk", model.ErrCodeMalformedEvent)
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewMalformedEventError("イベントデータの解析に失敗しました"))
		return clerksync.UserEventData{}, false
	}
	return data, true
}

// writeVerifyFailure は署名検証エラーを400レスポンスに変換する。
// 署名の詳細は漏らさず、統一エラーフォーマットで返す。
func (h *ClerkWebhookHandler) writeVerifyFailure(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		h.collector.RecordVerifyFailure("clerk", apiErr.Code)
		h.logger.Warn("clerk webhook verification failed",
			slog.String("code", apiErr.Code),
		)
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}
	h.collector.RecordVerifyFailure("clerk", model.ErrCodeSignatureMismatch)
	writeAPIErrorResponse(w, http.StatusBadRequest, model.NewSignatureMismatchError("clerk"))
}

// writeHandlerFailure はイベント処理エラーを500レスポンスに変換する。
// プロバイダーは5xxを受け取ると再配送するため、処理失敗は常に5xxで返す。
func (h *ClerkWebhookHandler) writeHandlerFailure(w http.ResponseWriter, eventType string, err error) {
	h.logger.Error("clerk webhook handling failed",
		slog.String("event_type", eventType),
		slog.String("error", err.Error()),
	)
	writeJSONResponse(w, http.StatusInternalServerError, webhookErrorResponse{
		Message: "イベントの処理に失敗しました。",
		Error:   err.Error(),
	})
}

// toUserResponse はmodel.UserからAPIレスポンスに変換する。
func toUserResponse(user *model.User) *userResponse {
	if user == nil {
		return nil
	}
	return &userResponse{
		ID:            user.ID,
		IdentityID:    user.IdentityID,
		Email:         user.Email,
		Username:      user.Username,
		FirstName:     user.FirstName,
		LastName:      user.LastName,
		PhotoURL:      user.PhotoURL,
		CreditBalance: user.CreditBalance,
	}
}

// --- 共有ヘルパー ---

// webhookErrorResponse はイベント処理失敗時のレスポンス。
type webhookErrorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

// apiErrorResponse は統一エラーフォーマットのレスポンス。
type apiErrorResponse struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// readWebhookBody はリクエストボディを上限付きで読み取る。
// 署名検証には受信したバイト列をそのまま使う必要があるため、ここで一度だけ読む。
func readWebhookBody(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	writeJSONResponse(w, statusCode, apiErrorResponse{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// writeJSONResponse はJSONレスポンスを書き込む。
func writeJSONResponse(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}
