// Package clerksync はClerkのユーザーライフサイクルイベントを
// ローカルのUserレコードへ反映する同期処理を提供する。
// 各イベントは過去のイベントと独立に、冪等に処理する。
package clerksync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/imagisync/internal/model"
	"github.com/hitoshi/imagisync/internal/repository"
)

// UserEventData はClerkのuser.*イベントのdataペイロード。
// 省略されうるフィールドはパース境界でデフォルト値に畳み込む（Serviceが行う）。
type UserEventData struct {
	ID             string         `json:"id"`
	EmailAddresses []EmailAddress `json:"email_addresses"`
	Username       string         `json:"username"`
	FirstName      string         `json:"first_name"`
	LastName       string         `json:"last_name"`
	ImageURL       string         `json:"image_url"`
}

// EmailAddress はClerkイベント内のメールアドレスエントリ。
type EmailAddress struct {
	EmailAddress string `json:"email_address"`
}

// MetadataPusher はローカルユーザーIDをIDプロバイダー側に書き戻すインターフェース。
type MetadataPusher interface {
	// UpdateUserMetadata はClerk側ユーザーのpublicMetadataにローカルユーザーIDを書き込む。
	UpdateUserMetadata(ctx context.Context, identityID, localUserID string) error
}

// CreateResult はuser.createdイベント処理の結果。
// MetadataSyncedがfalseの場合、ローカルのUserは存在するがClerk側への
// 書き戻しが完了していない（部分成功）。ロールバックはせず、観測可能な形で返す。
type CreateResult struct {
	User           *model.User
	AlreadyExisted bool
	MetadataSynced bool
}

// Service はClerkイベントの同期ロジックを提供する。
type Service struct {
	userRepo repository.UserRepository
	metadata MetadataPusher
	logger   *slog.Logger
}

// NewService はServiceを生成する。
func NewService(userRepo repository.UserRepository, metadata MetadataPusher, logger *slog.Logger) *Service {
	return &Service{
		userRepo: userRepo,
		metadata: metadata,
		logger:   logger,
	}
}

// HandleUserCreated はuser.createdイベントを処理する。
// 同一identity IDのUserが既に存在する場合は既存レコードをそのまま返す（再配送の冪等処理）。
// 新規作成に成功した場合はローカルIDをClerkのpublicMetadataに書き戻す。
// 書き戻しの失敗はUser作成を取り消さず、結果のMetadataSyncedで観測可能にする。
func (s *Service) HandleUserCreated(ctx context.Context, data UserEventData) (*CreateResult, error) {
	if data.ID == "" {
		return nil, model.NewMalformedEventError("idがありません")
	}
	if len(data.EmailAddresses) == 0 || data.EmailAddresses[0].EmailAddress == "" {
		return nil, model.NewMalformedEventError("email_addressesが空です")
	}

	existing, err := s.userRepo.FindByIdentityID(ctx, data.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if existing != nil {
		s.logger.Info("user already exists, skipping creation",
			slog.String("identity_id", data.ID),
			slog.String("user_id", existing.ID),
		)
		return &CreateResult{User: existing, AlreadyExisted: true, MetadataSynced: true}, nil
	}

	// プロバイダーがusernameを省略した場合はidentity IDで代用する
	username := data.Username
	if username == "" {
		username = data.ID
	}

	now := time.Now()
	user := &model.User{
		IdentityID:    data.ID,
		Email:         data.EmailAddresses[0].EmailAddress,
		Username:      username,
		FirstName:     data.FirstName,
		LastName:      data.LastName,
		PhotoURL:      data.ImageURL,
		CreditBalance: model.DefaultCreditBalance,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.logger.Info("user created",
		slog.String("identity_id", user.IdentityID),
		slog.String("user_id", user.ID),
		slog.Int("credit_balance", user.CreditBalance),
	)

	// ローカルIDの書き戻し。失敗してもUser作成は確定済み（部分成功）。
	if err := s.metadata.UpdateUserMetadata(ctx, user.IdentityID, user.ID); err != nil {
		s.logger.Warn("failed to push local user id to identity provider",
			slog.String("identity_id", user.IdentityID),
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		return &CreateResult{User: user, MetadataSynced: false}, nil
	}

	return &CreateResult{User: user, MetadataSynced: true}, nil
}

// HandleUserUpdated はuser.updatedイベントを処理する。
// 可変フィールド（username、firstName、lastName、photoUrl）のみ上書きする。
// 対象が存在しない場合はUSER_NOT_FOUNDを返し、呼び出し元が非2xxで応答する
// ことでプロバイダー側の再配送に委ねる。
func (s *Service) HandleUserUpdated(ctx context.Context, data UserEventData) (*model.User, error) {
	if data.ID == "" {
		return nil, model.NewMalformedEventError("idがありません")
	}

	update := model.UserProfileUpdate{
		Username:  data.Username,
		FirstName: data.FirstName,
		LastName:  data.LastName,
		PhotoURL:  data.ImageURL,
	}

	user, err := s.userRepo.UpdateProfile(ctx, data.ID, update)
	if err != nil {
		return nil, fmt.Errorf("failed to update user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError(data.ID)
	}

	s.logger.Info("user updated",
		slog.String("identity_id", user.IdentityID),
		slog.String("user_id", user.ID),
	)
	return user, nil
}

// HandleUserDeleted はuser.deletedイベントを処理する。
// 対象が存在しない場合はUSER_NOT_FOUNDを返す。
func (s *Service) HandleUserDeleted(ctx context.Context, data UserEventData) (*model.User, error) {
	if data.ID == "" {
		return nil, model.NewMalformedEventError("idがありません")
	}

	user, err := s.userRepo.DeleteByIdentityID(ctx, data.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to delete user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError(data.ID)
	}

	s.logger.Info("user deleted",
		slog.String("identity_id", user.IdentityID),
		slog.String("user_id", user.ID),
	)
	return user, nil
}
