package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/stripe/stripe-go/v82"

	"github.com/hitoshi/imagisync/internal/metrics"
	"github.com/hitoshi/imagisync/internal/model"
	"github.com/hitoshi/imagisync/internal/stripesync"
)

// Stripeイベント種別。これ以外は無視して200を返す。
const stripeEventCheckoutCompleted = "checkout.session.completed"

// StripeVerifierInterface はStripe Webhookの署名検証インターフェース。
type StripeVerifierInterface interface {
	// Verify は署名を検証し、検証済みのイベントを返す。
	Verify(rawBody []byte, headers http.Header) (*stripe.Event, error)
}

// StripeSyncServiceInterface はStripeハンドラーが必要とするサービスインターフェース。
type StripeSyncServiceInterface interface {
	HandleCheckoutCompleted(ctx context.Context, input stripesync.CheckoutCompleted) (*stripesync.Result, error)
}

// StripeWebhookHandler はStripe決済WebhookのHTTPハンドラー。
type StripeWebhookHandler struct {
	verifier  StripeVerifierInterface
	service   StripeSyncServiceInterface
	collector metrics.MetricsCollector
	logger    *slog.Logger
	bodyLimit int64
}

// NewStripeWebhookHandler はStripeWebhookHandlerを生成する。
func NewStripeWebhookHandler(v StripeVerifierInterface, service StripeSyncServiceInterface, collector metrics.MetricsCollector, logger *slog.Logger, bodyLimit int64) *StripeWebhookHandler {
	return &StripeWebhookHandler{
		verifier:  v,
		service:   service,
		collector: collector,
		logger:    logger,
		bodyLimit: bodyLimit,
	}
}

// stripeWebhookResponse はStripe Webhook処理成功時のレスポンス。
type stripeWebhookResponse struct {
	Message        string               `json:"message"`
	Transaction    *transactionResponse `json:"transaction,omitempty"`
	CreditsApplied bool                 `json:"creditsApplied"`
	Duplicate      bool                 `json:"duplicate"`
}

// transactionResponse は取引記録のAPIレスポンス。
type transactionResponse struct {
	ID                    string  `json:"id"`
	ProviderTransactionID string  `json:"providerTransactionId"`
	Amount                float64 `json:"amount"`
	Plan                  string  `json:"plan"`
	CreditsGranted        int     `json:"creditsGranted"`
	BuyerIdentityID       string  `json:"buyerIdentityId"`
}

// HandleWebhook はStripe Webhookを処理する。
// POST /api/webhooks/stripe
func (h *StripeWebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	h.collector.RecordWebhookReceived("stripe")
	defer func() {
		h.collector.RecordHandlerLatency("stripe", time.Since(start))
	}()

	rawBody, err := readWebhookBody(w, r, h.bodyLimit)
	if err != nil {
		h.collector.RecordVerifyFailure("stripe", model.ErrCodeMalformedEvent)
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewMalformedEventError("リクエストボディの読み取りに失敗しました"))
		return
	}

	event, err := h.verifier.Verify(rawBody, r.Header)
	if err != nil {
		h.writeVerifyFailure(w, err)
		return
	}

	if string(event.Type) != stripeEventCheckoutCompleted {
		// 未知のイベント種別は副作用なしで受理する
		h.collector.RecordEventIgnored("stripe", string(event.Type))
		w.WriteHeader(http.StatusOK)
		return
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		h.collector.RecordVerifyFailure("stripe", model.ErrCodeMalformedEvent)
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewMalformedEventError("チェックアウトセッションの解析に失敗しました"))
		return
	}

	result, err := h.service.HandleCheckoutCompleted(r.Context(), toCheckoutCompleted(&session))
	if err != nil {
		h.logger.Error("stripe webhook handling failed",
			slog.String("event_type", string(event.Type)),
			slog.String("error", err.Error()),
		)
		writeJSONResponse(w, http.StatusInternalServerError, webhookErrorResponse{
			Message: "イベントの処理に失敗しました。",
			Error:   err.Error(),
		})
		return
	}

	if result.Duplicate {
		h.collector.RecordDuplicatePayment()
	} else if result.CreditsApplied && result.Transaction != nil {
		h.collector.RecordCreditsGranted(result.Transaction.CreditsGranted)
	}
	h.collector.RecordEventHandled("stripe", string(event.Type))

	writeJSONResponse(w, http.StatusOK, stripeWebhookResponse{
		Message:        "OK",
		Transaction:    toTransactionResponse(result.Transaction),
		CreditsApplied: result.CreditsApplied,
		Duplicate:      result.Duplicate,
	})
}

// writeVerifyFailure は署名検証エラーを400レスポンスに変換する。
func (h *StripeWebhookHandler) writeVerifyFailure(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		h.collector.RecordVerifyFailure("stripe", apiErr.Code)
		h.logger.Warn("stripe webhook verification failed",
			slog.String("code", apiErr.Code),
		)
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}
	h.collector.RecordVerifyFailure("stripe", model.ErrCodeSignatureMismatch)
	writeAPIErrorResponse(w, http.StatusBadRequest, model.NewSignatureMismatchError("stripe"))
}

// toCheckoutCompleted は検証済みセッションからサービス入力に変換する。
// メタデータのplan/credits/buyerIdはチェックアウト作成時に任意で付与される
// ため、欠落はゼロ値として扱う。
func toCheckoutCompleted(session *stripe.CheckoutSession) stripesync.CheckoutCompleted {
	credits := 0
	if raw, ok := session.Metadata["credits"]; ok {
		if parsed, err := strconv.Atoi(raw); err == nil {
			credits = parsed
		}
	}
	return stripesync.CheckoutCompleted{
		ProviderTransactionID: session.ID,
		AmountMinor:           session.AmountTotal,
		Plan:                  session.Metadata["plan"],
		Credits:               credits,
		BuyerIdentityID:       session.Metadata["buyerId"],
	}
}

// toTransactionResponse はmodel.TransactionからAPIレスポンスに変換する。
func toTransactionResponse(txn *model.Transaction) *transactionResponse {
	if txn == nil {
		return nil
	}
	return &transactionResponse{
		ID:                    txn.ID,
		ProviderTransactionID: txn.ProviderTransactionID,
		Amount:                txn.Amount,
		Plan:                  txn.Plan,
		CreditsGranted:        txn.CreditsGranted,
		BuyerIdentityID:       txn.BuyerIdentityID,
	}
}
