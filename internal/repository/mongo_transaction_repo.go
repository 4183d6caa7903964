package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/hitoshi/imagisync/internal/database"
	"github.com/hitoshi/imagisync/internal/model"
)

// transactionDocument はtransactionsコレクションのドキュメント表現。
type transactionDocument struct {
	ID                    primitive.ObjectID `bson:"_id,omitempty"`
	ProviderTransactionID string             `bson:"provider_transaction_id"`
	Amount                float64            `bson:"amount"`
	Plan                  string             `bson:"plan"`
	CreditsGranted        int                `bson:"credits_granted"`
	BuyerIdentityID       string             `bson:"buyer_identity_id"`
	CreatedAt             time.Time          `bson:"created_at"`
}

// toModel はドキュメントをドメインモデルに変換する。
func (d *transactionDocument) toModel() *model.Transaction {
	return &model.Transaction{
		ID:                    d.ID.Hex(),
		ProviderTransactionID: d.ProviderTransactionID,
		Amount:                d.Amount,
		Plan:                  d.Plan,
		CreditsGranted:        d.CreditsGranted,
		BuyerIdentityID:       d.BuyerIdentityID,
		CreatedAt:             d.CreatedAt,
	}
}

// MongoTransactionRepo はTransactionRepositoryのMongoDB実装。
type MongoTransactionRepo struct {
	cache  *database.Cache
	dbName string
}

// NewMongoTransactionRepo はMongoTransactionRepoを生成する。
func NewMongoTransactionRepo(cache *database.Cache, dbName string) *MongoTransactionRepo {
	return &MongoTransactionRepo{
		cache:  cache,
		dbName: dbName,
	}
}

// collection はtransactionsコレクションのハンドルを返す。
func (r *MongoTransactionRepo) collection(ctx context.Context) (*mongo.Collection, error) {
	client, err := r.cache.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return client.Database(r.dbName).Collection(database.TransactionsCollection), nil
}

// Create は取引記録を作成する。provider_transaction_idのユニークインデックスに
// 衝突した場合はErrDuplicateTransactionを返す。
func (r *MongoTransactionRepo) Create(ctx context.Context, txn *model.Transaction) error {
	col, err := r.collection(ctx)
	if err != nil {
		return err
	}

	doc := transactionDocument{
		ProviderTransactionID: txn.ProviderTransactionID,
		Amount:                txn.Amount,
		Plan:                  txn.Plan,
		CreditsGranted:        txn.CreditsGranted,
		BuyerIdentityID:       txn.BuyerIdentityID,
		CreatedAt:             txn.CreatedAt,
	}

	result, err := col.InsertOne(ctx, doc)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateTransaction
		}
		return fmt.Errorf("failed to create transaction: %w", err)
	}

	if oid, ok := result.InsertedID.(primitive.ObjectID); ok {
		txn.ID = oid.Hex()
	}
	return nil
}

// FindByProviderTransactionID はプロバイダー取引IDで取引を取得する。
// 見つからない場合はnilを返す。
func (r *MongoTransactionRepo) FindByProviderTransactionID(ctx context.Context, providerTxnID string) (*model.Transaction, error) {
	col, err := r.collection(ctx)
	if err != nil {
		return nil, err
	}

	var doc transactionDocument
	err = col.FindOne(ctx, bson.M{"provider_transaction_id": providerTxnID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find transaction: %w", err)
	}

	return doc.toModel(), nil
}
