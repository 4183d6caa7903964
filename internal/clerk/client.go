// Package clerk はClerk Backend APIのクライアントを提供する。
// このサービスが使うのはユーザーメタデータの書き戻しのみ。
package clerk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

// defaultEndpoint はClerk Backend APIのベースURL。
const defaultEndpoint = "https://api.clerk.com/v1"

// Client はClerk Backend APIのクライアント。
type Client struct {
	httpClient *http.Client
	secretKey  string
	logger     *slog.Logger
	endpoint   string // テスト用にエンドポイントを差し替え可能
}

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(httpClient *http.Client, secretKey string, logger *slog.Logger) *Client {
	return &Client{
		httpClient: httpClient,
		secretKey:  secretKey,
		logger:     logger,
		endpoint:   defaultEndpoint,
	}
}

// metadataRequest はメタデータ更新リクエストのボディ。
// publicMetadata.userIdにローカルのユーザーIDを持たせ、
// プロダクト側がClerkセッションからローカルレコードを引けるようにする。
type metadataRequest struct {
	PublicMetadata struct {
		UserID string `json:"userId"`
	} `json:"public_metadata"`
}

// UpdateUserMetadata はClerk側ユーザーのpublicMetadataにローカルユーザーIDを書き込む。
// User作成直後の帯域外の書き戻しであり、失敗してもローカルのUser作成は取り消さない
// （呼び出し元が部分成功として扱う）。
func (c *Client) UpdateUserMetadata(ctx context.Context, identityID, localUserID string) error {
	var reqBody metadataRequest
	reqBody.PublicMetadata.UserID = localUserID

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("メタデータリクエストのエンコードに失敗しました: %w", err)
	}

	url := fmt.Sprintf("%s/users/%s/metadata", c.endpoint, identityID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("Clerk APIの呼び出しに失敗しました",
			slog.String("identity_id", identityID),
			slog.String("error", err.Error()),
		)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// 診断用にボディ先頭のみ読む
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Error("Clerk APIがエラーステータスを返しました",
			slog.String("identity_id", identityID),
			slog.Int("http_status", resp.StatusCode),
			slog.String("body", string(body)),
		)
		return fmt.Errorf("Clerk APIがステータス %d を返しました", resp.StatusCode)
	}

	return nil
}
