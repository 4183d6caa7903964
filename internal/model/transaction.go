// Package model はドメインモデルを定義する。
package model

import "time"

// Transaction は完了した決済1件の不変な記録を表す。
// ProviderTransactionIDは決済プロバイダー（Stripe）のチェックアウトセッションIDで、
// 冪等性キーとしてユニーク制約を持つ。再配送されたイベントで重複付与は発生しない。
type Transaction struct {
	ID                    string    `bson:"_id,omitempty" json:"id"`
	ProviderTransactionID string    `bson:"provider_transaction_id" json:"providerTransactionId"`
	Amount                float64   `bson:"amount" json:"amount"`
	Plan                  string    `bson:"plan" json:"plan"`
	CreditsGranted        int       `bson:"credits_granted" json:"creditsGranted"`
	BuyerIdentityID       string    `bson:"buyer_identity_id" json:"buyerIdentityId"`
	CreatedAt             time.Time `bson:"created_at" json:"createdAt"`
}
