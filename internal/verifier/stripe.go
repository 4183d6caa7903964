package verifier

import (
	"net/http"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/hitoshi/imagisync/internal/model"
)

// stripeSignatureHeader はStripeの署名ヘッダー。
const stripeSignatureHeader = "Stripe-Signature"

// StripeVerifier はStripe Webhookの署名検証を行う。
// 検証本体はstripe-goのwebhookパッケージに委譲し、エラーを
// 統一エラーフォーマットにマッピングする。
type StripeVerifier struct {
	secret string
}

// NewStripeVerifier はStripeVerifierを生成する。
// secretはStripeダッシュボードのWebhookエンドポイントシークレット。
func NewStripeVerifier(secret string) *StripeVerifier {
	return &StripeVerifier{secret: secret}
}

// Verify は生のリクエストボディとヘッダーから署名を検証し、
// 成功した場合のみStripeイベントとして解釈して返す。
func (v *StripeVerifier) Verify(rawBody []byte, headers http.Header) (*stripe.Event, error) {
	sig := headers.Get(stripeSignatureHeader)
	if sig == "" {
		return nil, model.NewMissingWebhookHeadersError("Stripe")
	}

	event, err := webhook.ConstructEventWithOptions(rawBody, sig, v.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, model.NewSignatureMismatchError("Stripe")
	}

	return &event, nil
}
