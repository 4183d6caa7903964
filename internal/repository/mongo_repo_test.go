package repository

import (
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/hitoshi/imagisync/internal/model"
)

// MongoUserRepoはUserRepositoryインターフェースを満たすことを検証
func TestMongoUserRepo_ImplementsInterface(t *testing.T) {
	var _ UserRepository = (*MongoUserRepo)(nil)
}

// MongoTransactionRepoはTransactionRepositoryインターフェースを満たすことを検証
func TestMongoTransactionRepo_ImplementsInterface(t *testing.T) {
	var _ TransactionRepository = (*MongoTransactionRepo)(nil)
}

// NewMongoUserRepoが正しく初期化されることを検証
func TestNewMongoUserRepo_Initializes(t *testing.T) {
	repo := NewMongoUserRepo(nil, "imaginify")
	if repo == nil {
		t.Fatal("expected non-nil repo")
	}
}

// NewMongoTransactionRepoが正しく初期化されることを検証
func TestNewMongoTransactionRepo_Initializes(t *testing.T) {
	repo := NewMongoTransactionRepo(nil, "imaginify")
	if repo == nil {
		t.Fatal("expected non-nil repo")
	}
}

// userDocumentとドメインモデルの変換が全フィールドを保持することを検証
func TestUserDocument_ToModel_MapsAllFields(t *testing.T) {
	oid := primitive.NewObjectID()
	now := time.Now()
	doc := &userDocument{
		ID:            oid,
		IdentityID:    "user_abc123",
		Email:         "buyer@example.com",
		Username:      "buyer",
		FirstName:     "Taro",
		LastName:      "Yamada",
		PhotoURL:      "https://img.clerk.com/taro.png",
		CreditBalance: 10,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	user := doc.toModel()

	if user.ID != oid.Hex() {
		t.Errorf("ID = %q, want %q", user.ID, oid.Hex())
	}
	if user.IdentityID != "user_abc123" {
		t.Errorf("IdentityID = %q, want %q", user.IdentityID, "user_abc123")
	}
	if user.Email != "buyer@example.com" {
		t.Errorf("Email = %q, want %q", user.Email, "buyer@example.com")
	}
	if user.CreditBalance != 10 {
		t.Errorf("CreditBalance = %d, want %d", user.CreditBalance, 10)
	}
}

// transactionDocumentとドメインモデルの変換が全フィールドを保持することを検証
func TestTransactionDocument_ToModel_MapsAllFields(t *testing.T) {
	oid := primitive.NewObjectID()
	now := time.Now()
	doc := &transactionDocument{
		ID:                    oid,
		ProviderTransactionID: "cs_test_123",
		Amount:                19.99,
		Plan:                  "Pro Package",
		CreditsGranted:        120,
		BuyerIdentityID:       "user_abc123",
		CreatedAt:             now,
	}

	txn := doc.toModel()

	if txn.ID != oid.Hex() {
		t.Errorf("ID = %q, want %q", txn.ID, oid.Hex())
	}
	if txn.ProviderTransactionID != "cs_test_123" {
		t.Errorf("ProviderTransactionID = %q, want %q", txn.ProviderTransactionID, "cs_test_123")
	}
	if txn.Amount != 19.99 {
		t.Errorf("Amount = %v, want %v", txn.Amount, 19.99)
	}
	if txn.CreditsGranted != 120 {
		t.Errorf("CreditsGranted = %d, want %d", txn.CreditsGranted, 120)
	}
	if txn.BuyerIdentityID != "user_abc123" {
		t.Errorf("BuyerIdentityID = %q, want %q", txn.BuyerIdentityID, "user_abc123")
	}
}

// モデルの初期クレジット残高定数の検証
func TestDefaultCreditBalance(t *testing.T) {
	if model.DefaultCreditBalance != 10 {
		t.Errorf("DefaultCreditBalance = %d, want %d", model.DefaultCreditBalance, 10)
	}
}
