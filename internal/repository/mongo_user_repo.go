package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/hitoshi/imagisync/internal/database"
	"github.com/hitoshi/imagisync/internal/model"
)

// userDocument はusersコレクションのドキュメント表現。
// _idはObjectIDで採番し、ドメインモデルとの間でhex文字列に変換する。
type userDocument struct {
	ID            primitive.ObjectID `bson:"_id,omitempty"`
	IdentityID    string             `bson:"identity_id"`
	Email         string             `bson:"email"`
	Username      string             `bson:"username"`
	FirstName     string             `bson:"first_name"`
	LastName      string             `bson:"last_name"`
	PhotoURL      string             `bson:"photo_url"`
	CreditBalance int                `bson:"credit_balance"`
	CreatedAt     time.Time          `bson:"created_at"`
	UpdatedAt     time.Time          `bson:"updated_at"`
}

// toModel はドキュメントをドメインモデルに変換する。
func (d *userDocument) toModel() *model.User {
	return &model.User{
		ID:            d.ID.Hex(),
		IdentityID:    d.IdentityID,
		Email:         d.Email,
		Username:      d.Username,
		FirstName:     d.FirstName,
		LastName:      d.LastName,
		PhotoURL:      d.PhotoURL,
		CreditBalance: d.CreditBalance,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
}

// MongoUserRepo はUserRepositoryのMongoDB実装。
// 接続は共有キャッシュからリクエストごとに取得する。
type MongoUserRepo struct {
	cache  *database.Cache
	dbName string
}

// NewMongoUserRepo はMongoUserRepoを生成する。
func NewMongoUserRepo(cache *database.Cache, dbName string) *MongoUserRepo {
	return &MongoUserRepo{
		cache:  cache,
		dbName: dbName,
	}
}

// collection はusersコレクションのハンドルを返す。
func (r *MongoUserRepo) collection(ctx context.Context) (*mongo.Collection, error) {
	client, err := r.cache.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return client.Database(r.dbName).Collection(database.UsersCollection), nil
}

// FindByIdentityID は指定identity IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *MongoUserRepo) FindByIdentityID(ctx context.Context, identityID string) (*model.User, error) {
	col, err := r.collection(ctx)
	if err != nil {
		return nil, err
	}

	var doc userDocument
	err = col.FindOne(ctx, bson.M{"identity_id": identityID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	return doc.toModel(), nil
}

// Create はユーザーを作成し、採番されたIDをuser.IDに設定する。
func (r *MongoUserRepo) Create(ctx context.Context, user *model.User) error {
	col, err := r.collection(ctx)
	if err != nil {
		return err
	}

	doc := userDocument{
		IdentityID:    user.IdentityID,
		Email:         user.Email,
		Username:      user.Username,
		FirstName:     user.FirstName,
		LastName:      user.LastName,
		PhotoURL:      user.PhotoURL,
		CreditBalance: user.CreditBalance,
		CreatedAt:     user.CreatedAt,
		UpdatedAt:     user.UpdatedAt,
	}

	result, err := col.InsertOne(ctx, doc)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	if oid, ok := result.InsertedID.(primitive.ObjectID); ok {
		user.ID = oid.Hex()
	}
	return nil
}

// UpdateProfile は可変プロフィールフィールドを1回のfindOneAndUpdateで上書きする。
// 対象が存在しない場合はnilを返す。
func (r *MongoUserRepo) UpdateProfile(ctx context.Context, identityID string, update model.UserProfileUpdate) (*model.User, error) {
	col, err := r.collection(ctx)
	if err != nil {
		return nil, err
	}

	set := bson.M{
		"username":   update.Username,
		"first_name": update.FirstName,
		"last_name":  update.LastName,
		"photo_url":  update.PhotoURL,
		"updated_at": time.Now(),
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc userDocument
	err = col.FindOneAndUpdate(ctx, bson.M{"identity_id": identityID}, bson.M{"$set": set}, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to update user: %w", err)
	}

	return doc.toModel(), nil
}

// DeleteByIdentityID は指定identity IDのユーザーを削除し、削除したレコードを返す。
// 対象が存在しない場合はnilを返す。
func (r *MongoUserRepo) DeleteByIdentityID(ctx context.Context, identityID string) (*model.User, error) {
	col, err := r.collection(ctx)
	if err != nil {
		return nil, err
	}

	var doc userDocument
	err = col.FindOneAndDelete(ctx, bson.M{"identity_id": identityID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to delete user: %w", err)
	}

	return doc.toModel(), nil
}

// IncrementCreditBalance はクレジット残高を$incによる単一の原子的
// read-modify-writeで加算する。2つの決済イベントが同一ユーザーに並行して
// 到着しても更新は失われない。対象が存在しない場合はnilを返す。
func (r *MongoUserRepo) IncrementCreditBalance(ctx context.Context, identityID string, credits int) (*model.User, error) {
	col, err := r.collection(ctx)
	if err != nil {
		return nil, err
	}

	update := bson.M{
		"$inc": bson.M{"credit_balance": credits},
		"$set": bson.M{"updated_at": time.Now()},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc userDocument
	err = col.FindOneAndUpdate(ctx, bson.M{"identity_id": identityID}, update, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to increment credit balance: %w", err)
	}

	return doc.toModel(), nil
}
