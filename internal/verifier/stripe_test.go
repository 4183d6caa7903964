package verifier

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/hitoshi/imagisync/internal/model"
)

const testStripeSecret = "whsec_test_stripe_secret"

// signStripePayload はStripeの署名スキーム（t=<ts>,v1=<hex hmac of "<ts>.<body>">）で
// テスト用の署名ヘッダーを生成する。
func signStripePayload(t *testing.T, secret string, ts time.Time, body []byte) http.Header {
	t.Helper()

	timestamp := strconv.FormatInt(ts.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%s.%s", timestamp, body)
	sig := hex.EncodeToString(mac.Sum(nil))

	headers := http.Header{}
	headers.Set("Stripe-Signature", fmt.Sprintf("t=%s,v1=%s", timestamp, sig))
	return headers
}

// 正しく署名されたペイロードが検証を通過することを検証
func TestStripeVerify_ValidSignature_ReturnsEvent(t *testing.T) {
	body := []byte(`{"id":"evt_001","type":"checkout.session.completed","data":{"object":{"id":"cs_test_123"}}}`)
	headers := signStripePayload(t, testStripeSecret, time.Now(), body)

	v := NewStripeVerifier(testStripeSecret)
	event, err := v.Verify(body, headers)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}

	if string(event.Type) != "checkout.session.completed" {
		t.Errorf("Type = %q, want %q", event.Type, "checkout.session.completed")
	}
}

// 署名計算後にボディを1バイト改ざんすると検証が失敗することを検証
func TestStripeVerify_TamperedBody_SignatureMismatch(t *testing.T) {
	body := []byte(`{"id":"evt_001","type":"checkout.session.completed","data":{"object":{"id":"cs_test_123"}}}`)
	headers := signStripePayload(t, testStripeSecret, time.Now(), body)

	tampered := make([]byte, len(body))
	copy(tampered, body)
	tampered[len(tampered)-3] ^= 0x01

	v := NewStripeVerifier(testStripeSecret)
	_, err := v.Verify(tampered, headers)
	assertAPIErrorCode(t, err, model.ErrCodeSignatureMismatch)
}

// 署名ヘッダーの欠落が検証失敗になることを検証
func TestStripeVerify_MissingHeader_Rejected(t *testing.T) {
	body := []byte(`{"id":"evt_001","type":"checkout.session.completed"}`)

	v := NewStripeVerifier(testStripeSecret)
	_, err := v.Verify(body, http.Header{})
	assertAPIErrorCode(t, err, model.ErrCodeMissingWebhookHeaders)
}

// 別のシークレットで署名されたペイロードが拒否されることを検証
func TestStripeVerify_WrongSecret_SignatureMismatch(t *testing.T) {
	body := []byte(`{"id":"evt_001","type":"checkout.session.completed"}`)
	headers := signStripePayload(t, "whsec_other_secret", time.Now(), body)

	v := NewStripeVerifier(testStripeSecret)
	_, err := v.Verify(body, headers)
	assertAPIErrorCode(t, err, model.ErrCodeSignatureMismatch)
}

// 許容範囲を超えた古いタイムスタンプが拒否されることを検証
func TestStripeVerify_StaleTimestamp_Rejected(t *testing.T) {
	body := []byte(`{"id":"evt_001","type":"checkout.session.completed"}`)
	headers := signStripePayload(t, testStripeSecret, time.Now().Add(-time.Hour), body)

	v := NewStripeVerifier(testStripeSecret)
	_, err := v.Verify(body, headers)
	assertAPIErrorCode(t, err, model.ErrCodeSignatureMismatch)
}
