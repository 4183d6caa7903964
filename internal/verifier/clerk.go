// Package verifier はWebhookペイロードの署名検証を提供する。
// 検証が成功するまでボディをJSONとして解釈してはならない。
package verifier

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/imagisync/internal/model"
)

// Clerk（svix）の署名ヘッダー
const (
	svixIDHeader        = "svix-id"
	svixTimestampHeader = "svix-timestamp"
	svixSignatureHeader = "svix-signature"
)

// clerkSecretPrefix はClerkダッシュボードが発行するシークレットの接頭辞。
// 接頭辞の後ろがbase64エンコードされたHMAC鍵。
const clerkSecretPrefix = "whsec_"

// clerkTimestampTolerance はタイムスタンプの許容ずれ。
// これを超えた配送はリプレイとみなして拒否する。
const clerkTimestampTolerance = 5 * time.Minute

// ClerkEvent は署名検証済みのClerkイベント。
// Dataは宛先ハンドラーが型を確定するまで未解釈のまま持ち回る。
type ClerkEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// ClerkVerifier はClerk Webhookの署名検証を行う。
// svix方式: HMAC-SHA256("{id}.{timestamp}.{body}")をbase64エンコードした値を、
// svix-signatureヘッダー内のスペース区切りの"v1,<sig>"候補と定数時間比較する。
type ClerkVerifier struct {
	secret string

	// now はテストで差し替え可能な現在時刻関数。
	now func() time.Time
}

// NewClerkVerifier はClerkVerifierを生成する。
// secretはClerkダッシュボードのWebhook署名シークレット（whsec_接頭辞付き）。
func NewClerkVerifier(secret string) *ClerkVerifier {
	return &ClerkVerifier{
		secret: secret,
		now:    time.Now,
	}
}

// Verify は生のリクエストボディとヘッダーから署名を検証し、
// 成功した場合のみボディをイベントとして解釈して返す。
// ヘッダー欠落はMISSING_WEBHOOK_HEADERS、署名不一致・タイムスタンプ逸脱は
// SIGNATURE_MISMATCHを返す。いずれも再試行せず400で応答すべき認証失敗。
func (v *ClerkVerifier) Verify(rawBody []byte, headers http.Header) (*ClerkEvent, error) {
	msgID := headers.Get(svixIDHeader)
	timestamp := headers.Get(svixTimestampHeader)
	signature := headers.Get(svixSignatureHeader)

	if msgID == "" || timestamp == "" || signature == "" {
		return nil, model.NewMissingWebhookHeadersError("Clerk")
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return nil, model.NewSignatureMismatchError("Clerk")
	}
	sent := time.Unix(ts, 0)
	if diff := v.now().Sub(sent); diff > clerkTimestampTolerance || diff < -clerkTimestampTolerance {
		return nil, model.NewSignatureMismatchError("Clerk")
	}

	key, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(v.secret, clerkSecretPrefix))
	if err != nil {
		return nil, model.NewConfigurationError("CLERK_WEBHOOK_SECRET")
	}

	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(msgID))
	mac.Write([]byte("."))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(rawBody)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	// ヘッダーには鍵ローテーション中の複数署名がスペース区切りで入る
	if !matchSvixSignature(signature, expected) {
		return nil, model.NewSignatureMismatchError("Clerk")
	}

	var event ClerkEvent
	if err := json.Unmarshal(rawBody, &event); err != nil {
		return nil, model.NewMalformedEventError("JSONとして解析できません")
	}

	return &event, nil
}

// matchSvixSignature はヘッダー中の"v1,<sig>"候補のいずれかがexpectedと
// 一致するかを定数時間比較で判定する。
func matchSvixSignature(header, expected string) bool {
	for _, candidate := range strings.Fields(header) {
		version, sig, found := strings.Cut(candidate, ",")
		if !found || version != "v1" {
			continue
		}
		if hmac.Equal([]byte(sig), []byte(expected)) {
			return true
		}
	}
	return false
}
