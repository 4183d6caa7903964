// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"

	"github.com/hitoshi/imagisync/internal/model"
)

// ErrDuplicateTransaction は同一provider_transaction_idのTransactionが
// 既に存在する場合にCreateが返す。再配送されたイベントの冪等な無視に使う。
var ErrDuplicateTransaction = errors.New("transaction already recorded")

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByIdentityID は指定identity IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByIdentityID(ctx context.Context, identityID string) (*model.User, error)

	// Create はユーザーを作成し、採番されたIDをuser.IDに設定する。
	Create(ctx context.Context, user *model.User) error

	// UpdateProfile は可変プロフィールフィールドを上書きし、更新後のユーザーを返す。
	// 対象が存在しない場合はnilを返す。
	UpdateProfile(ctx context.Context, identityID string, update model.UserProfileUpdate) (*model.User, error)

	// DeleteByIdentityID は指定identity IDのユーザーを削除し、削除したレコードを返す。
	// 対象が存在しない場合はnilを返す。
	DeleteByIdentityID(ctx context.Context, identityID string) (*model.User, error)

	// IncrementCreditBalance はクレジット残高をストア上の単一の原子的操作で加算し、
	// 加算後のユーザーを返す。対象が存在しない場合はnilを返す（加算は発生しない）。
	IncrementCreditBalance(ctx context.Context, identityID string, credits int) (*model.User, error)
}

// TransactionRepository は取引台帳の永続化インターフェース。挿入専用。
type TransactionRepository interface {
	// Create は取引記録を作成し、採番されたIDをtxn.IDに設定する。
	// provider_transaction_idが重複する場合はErrDuplicateTransactionを返す。
	Create(ctx context.Context, txn *model.Transaction) error

	// FindByProviderTransactionID はプロバイダー取引IDで取引を取得する。
	// 見つからない場合はnilを返す。
	FindByProviderTransactionID(ctx context.Context, providerTxnID string) (*model.Transaction, error)
}
