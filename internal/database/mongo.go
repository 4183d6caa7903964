// Package database はMongoDBへの共有接続キャッシュを提供する。
// プロセス全体で1つの接続ハンドルを遅延確立し、全リクエストで再利用する。
package database

import (
	"context"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/hitoshi/imagisync/internal/model"
)

// コレクション名
const (
	UsersCollection        = "users"
	TransactionsCollection = "transactions"
)

// connectTimeout は接続確立（Connect + Ping + インデックス作成）の上限時間。
const connectTimeout = 10 * time.Second

// attempt は進行中の接続確立試行を表す。
// doneがcloseされた時点でclient/errが確定する。
type attempt struct {
	done   chan struct{}
	client *mongo.Client
	err    error
}

// Cache はMongoDBクライアントのプロセス共有キャッシュ。
// 状態は3値: 未確立（client==nil, inflight==nil）、確立中（inflight!=nil）、
// 確立済み（client!=nil）。最初の利用者が接続を確立し、同時に到着した
// 利用者は同じ試行を待つ。バースト配送時の接続集中を防ぐ。
// 失敗した試行はキャッシュせず、次の呼び出しで再試行する。
type Cache struct {
	uri    string
	dbName string

	mu       sync.Mutex
	client   *mongo.Client
	inflight *attempt

	// connectFn はテストで差し替え可能な接続関数。
	connectFn func(ctx context.Context) (*mongo.Client, error)
}

// NewCache はCacheを生成する。この時点では接続しない。
func NewCache(uri, dbName string) *Cache {
	c := &Cache{
		uri:    uri,
		dbName: dbName,
	}
	c.connectFn = c.connect
	return c
}

// Acquire は共有のMongoDBクライアントを返す。
// 確立済みならそれを即座に返す。確立中なら同じ試行の完了を待つ。
// 未確立なら呼び出し元のゴルーチンで接続を確立し、結果を全待機者に共有する。
func (c *Cache) Acquire(ctx context.Context) (*mongo.Client, error) {
	if c.uri == "" {
		return nil, model.NewConfigurationError("MONGODB_URL")
	}

	c.mu.Lock()
	if c.client != nil {
		client := c.client
		c.mu.Unlock()
		return client, nil
	}

	if c.inflight != nil {
		att := c.inflight
		c.mu.Unlock()
		select {
		case <-att.done:
			return att.client, att.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	att := &attempt{done: make(chan struct{})}
	c.inflight = att
	c.mu.Unlock()

	client, err := c.connectFn(ctx)

	c.mu.Lock()
	if err == nil {
		c.client = client
	}
	c.inflight = nil
	c.mu.Unlock()

	att.client = client
	att.err = err
	close(att.done)

	return client, err
}

// connect はMongoDBへ接続し、疎通確認とユニークインデックスの作成を行う。
func (c *Cache) connect(ctx context.Context) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(c.uri))
	if err != nil {
		return nil, model.NewConnectionFailedError(err.Error())
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, model.NewConnectionFailedError(err.Error())
	}

	if err := c.ensureIndexes(ctx, client); err != nil {
		_ = client.Disconnect(ctx)
		return nil, model.NewConnectionFailedError(err.Error())
	}

	return client, nil
}

// ensureIndexes は冪等性を支えるユニークインデックスを作成する。
// users.identity_id: identity 1つにつきUserレコードは1件。
// transactions.provider_transaction_id: 再配送された決済イベントの重複挿入を防ぐ。
func (c *Cache) ensureIndexes(ctx context.Context, client *mongo.Client) error {
	db := client.Database(c.dbName)

	_, err := db.Collection(UsersCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "identity_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return err
	}

	_, err = db.Collection(TransactionsCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "provider_transaction_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}

// Ping は接続を確立（または再利用）して疎通確認を行う。ヘルスチェック用。
func (c *Cache) Ping(ctx context.Context) error {
	client, err := c.Acquire(ctx)
	if err != nil {
		return err
	}
	return client.Ping(ctx, nil)
}

// Close は確立済みの接続を切断する。未確立の場合は何もしない。
func (c *Cache) Close(ctx context.Context) error {
	c.mu.Lock()
	client := c.client
	c.client = nil
	c.mu.Unlock()

	if client == nil {
		return nil
	}
	return client.Disconnect(ctx)
}
