// Package model はドメインモデルを定義する。
package model

import "time"

// DefaultCreditBalance は新規ユーザー作成時に付与するクレジット残高の初期値。
const DefaultCreditBalance = 10

// User はプロダクトのアカウントを表す。
// IdentityIDはIDプロバイダー（Clerk）側のユーザーIDで、作成後は不変。
// CreditBalanceは決済イベントによる加算とプロダクト側の消費でのみ変動する。
type User struct {
	ID            string    `bson:"_id,omitempty" json:"id"`
	IdentityID    string    `bson:"identity_id" json:"identityId"`
	Email         string    `bson:"email" json:"email"`
	Username      string    `bson:"username" json:"username"`
	FirstName     string    `bson:"first_name" json:"firstName"`
	LastName      string    `bson:"last_name" json:"lastName"`
	PhotoURL      string    `bson:"photo_url" json:"photoUrl"`
	CreditBalance int       `bson:"credit_balance" json:"creditBalance"`
	CreatedAt     time.Time `bson:"created_at" json:"createdAt"`
	UpdatedAt     time.Time `bson:"updated_at" json:"updatedAt"`
}

// UserProfileUpdate はuser.updatedイベントで上書きされる可変フィールドの集合。
// IdentityID、Email、CreditBalanceはこの経路では変更しない。
type UserProfileUpdate struct {
	Username  string
	FirstName string
	LastName  string
	PhotoURL  string
}
