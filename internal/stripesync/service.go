// Package stripesync はStripeの決済完了イベントを取引台帳と
// クレジット残高へ反映する同期処理を提供する。
package stripesync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/imagisync/internal/model"
	"github.com/hitoshi/imagisync/internal/repository"
)

// CheckoutCompleted はcheckout.session.completedイベントから抽出した入力。
// metadata由来のフィールドはプロバイダー任せのベストエフォートであり、
// 欠落はゼロ値として受理する（拒否しない）。
type CheckoutCompleted struct {
	ProviderTransactionID string
	AmountMinor           int64 // 最小通貨単位（セント）
	Plan                  string
	Credits               int
	BuyerIdentityID       string
}

// Result は決済イベント処理の結果。
// Duplicateは再配送されたイベントを冪等に無視したことを示す。
// CreditsAppliedがfalseの場合、取引は記録されたが残高への加算は行われていない
// （購入者が未同期、またはbuyerId欠落）。
type Result struct {
	Transaction    *model.Transaction
	Duplicate      bool
	CreditsApplied bool
	User           *model.User
}

// Service はStripeイベントの同期ロジックを提供する。
type Service struct {
	txnRepo  repository.TransactionRepository
	userRepo repository.UserRepository
	logger   *slog.Logger
}

// NewService はServiceを生成する。
func NewService(txnRepo repository.TransactionRepository, userRepo repository.UserRepository, logger *slog.Logger) *Service {
	return &Service{
		txnRepo:  txnRepo,
		userRepo: userRepo,
		logger:   logger,
	}
}

// HandleCheckoutCompleted は決済完了イベントを処理する。
// 取引記録の挿入と、購入者のクレジット残高へのストア上の原子的な加算を行う。
// 同一取引IDの再配送はユニークインデックスで検出し、既存の記録を返して
// 加算なしで成功扱いにする（2xxで応答しプロバイダーの再配送を止める）。
func (s *Service) HandleCheckoutCompleted(ctx context.Context, input CheckoutCompleted) (*Result, error) {
	if input.ProviderTransactionID == "" {
		return nil, model.NewMalformedEventError("チェックアウトセッションIDがありません")
	}

	txn := &model.Transaction{
		ProviderTransactionID: input.ProviderTransactionID,
		Amount:                float64(input.AmountMinor) / 100,
		Plan:                  input.Plan,
		CreditsGranted:        input.Credits,
		BuyerIdentityID:       input.BuyerIdentityID,
		CreatedAt:             time.Now(),
	}

	if err := s.txnRepo.Create(ctx, txn); err != nil {
		if errors.Is(err, repository.ErrDuplicateTransaction) {
			existing, findErr := s.txnRepo.FindByProviderTransactionID(ctx, input.ProviderTransactionID)
			if findErr != nil {
				return nil, fmt.Errorf("failed to load duplicate transaction: %w", findErr)
			}
			s.logger.Info("duplicate payment event ignored",
				slog.String("provider_transaction_id", input.ProviderTransactionID),
			)
			return &Result{Transaction: existing, Duplicate: true}, nil
		}
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}

	s.logger.Info("transaction recorded",
		slog.String("provider_transaction_id", txn.ProviderTransactionID),
		slog.String("buyer_identity_id", txn.BuyerIdentityID),
		slog.Float64("amount", txn.Amount),
		slog.Int("credits", txn.CreditsGranted),
	)

	if input.BuyerIdentityID == "" {
		s.logger.Warn("checkout session has no buyerId, credits not applied",
			slog.String("provider_transaction_id", txn.ProviderTransactionID),
		)
		return &Result{Transaction: txn, CreditsApplied: false}, nil
	}

	user, err := s.userRepo.IncrementCreditBalance(ctx, input.BuyerIdentityID, input.Credits)
	if err != nil {
		return nil, fmt.Errorf("failed to increment credit balance: %w", err)
	}
	if user == nil {
		// 購入者のUserが未同期。取引は記録済みのため成功扱いにするが、
		// 無言で済ませず観測可能な結果として返す。
		s.logger.Warn("buyer not found, credits not applied",
			slog.String("provider_transaction_id", txn.ProviderTransactionID),
			slog.String("buyer_identity_id", input.BuyerIdentityID),
		)
		return &Result{Transaction: txn, CreditsApplied: false}, nil
	}

	s.logger.Info("credits granted",
		slog.String("buyer_identity_id", user.IdentityID),
		slog.Int("credits", input.Credits),
		slog.Int("credit_balance", user.CreditBalance),
	)
	return &Result{Transaction: txn, CreditsApplied: true, User: user}, nil
}
