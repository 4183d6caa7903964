package database

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"go.mongodb.org/mongo-driver/mongo"

	"github.com/hitoshi/imagisync/internal/model"
)

// 接続URLが未設定の場合はCONFIGURATION_ERRORを返すことを検証
func TestAcquire_EmptyURI_ReturnsConfigurationError(t *testing.T) {
	cache := NewCache("", "imaginify")

	_, err := cache.Acquire(context.Background())
	if err == nil {
		t.Fatal("expected error for empty URI")
	}

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *model.APIError, got %T", err)
	}
	if apiErr.Code != model.ErrCodeConfiguration {
		t.Errorf("code = %q, want %q", apiErr.Code, model.ErrCodeConfiguration)
	}
}

// 同時に初回Acquireした場合、接続試行は1回だけ実行され、
// 全呼び出し元が同じクライアントを受け取ることを検証
func TestAcquire_ConcurrentFirstCall_SingleConnectAttempt(t *testing.T) {
	cache := NewCache("mongodb://localhost:27017", "imaginify")

	var attempts atomic.Int32
	sentinel := &mongo.Client{}
	release := make(chan struct{})
	cache.connectFn = func(ctx context.Context) (*mongo.Client, error) {
		attempts.Add(1)
		<-release
		return sentinel, nil
	}

	const callers = 16
	results := make([]*mongo.Client, callers)
	errs := make([]error, callers)

	var started sync.WaitGroup
	var done sync.WaitGroup
	for i := 0; i < callers; i++ {
		started.Add(1)
		done.Add(1)
		go func(i int) {
			started.Done()
			defer done.Done()
			results[i], errs[i] = cache.Acquire(context.Background())
		}(i)
	}

	// 全ゴルーチンが出揃ってから接続を完了させる
	started.Wait()
	close(release)
	done.Wait()

	if got := attempts.Load(); got != 1 {
		t.Errorf("connect attempts = %d, want 1", got)
	}
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: unexpected error %v", i, errs[i])
		}
		if results[i] != sentinel {
			t.Errorf("caller %d: got a different client handle", i)
		}
	}
}

// 確立済みの接続は再利用され、追加の接続試行が発生しないことを検証
func TestAcquire_CachedClient_NoAdditionalAttempt(t *testing.T) {
	cache := NewCache("mongodb://localhost:27017", "imaginify")

	var attempts atomic.Int32
	sentinel := &mongo.Client{}
	cache.connectFn = func(ctx context.Context) (*mongo.Client, error) {
		attempts.Add(1)
		return sentinel, nil
	}

	for i := 0; i < 5; i++ {
		client, err := cache.Acquire(context.Background())
		if err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
		if client != sentinel {
			t.Fatal("expected the cached client handle")
		}
	}

	if got := attempts.Load(); got != 1 {
		t.Errorf("connect attempts = %d, want 1", got)
	}
}

// 接続失敗は待機中の全呼び出し元に伝播し、かつキャッシュされず、
// 次のAcquireで再試行されることを検証
func TestAcquire_FailedAttempt_PropagatesAndRetries(t *testing.T) {
	cache := NewCache("mongodb://localhost:27017", "imaginify")

	connErr := model.NewConnectionFailedError("connection refused")
	var attempts atomic.Int32
	sentinel := &mongo.Client{}
	cache.connectFn = func(ctx context.Context) (*mongo.Client, error) {
		if attempts.Add(1) == 1 {
			return nil, connErr
		}
		return sentinel, nil
	}

	if _, err := cache.Acquire(context.Background()); !errors.Is(err, connErr) {
		t.Fatalf("first Acquire() error = %v, want %v", err, connErr)
	}

	client, err := cache.Acquire(context.Background())
	if err != nil {
		t.Fatalf("second Acquire() error = %v", err)
	}
	if client != sentinel {
		t.Error("expected the client from the retried attempt")
	}
	if got := attempts.Load(); got != 2 {
		t.Errorf("connect attempts = %d, want 2", got)
	}
}

// 未接続状態でのCloseが何もせず成功することを検証
func TestClose_WithoutConnection_NoOp(t *testing.T) {
	cache := NewCache("mongodb://localhost:27017", "imaginify")

	if err := cache.Close(context.Background()); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
