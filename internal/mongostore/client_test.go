package mongostore

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
)

// newLazyClient は実サーバーに接続しないClientを生成する。
// mongo.Connectはサーバーへのダイヤルを遅延させるため、pingだけ差し替えれば
// ネットワークなしで接続キャッシュの挙動を検証できる。
func newLazyClient(t *testing.T, pingErr *error) (*Client, *int) {
	t.Helper()

	c := NewClient("mongodb://127.0.0.1:1", "notemodules_test")
	connects := 0
	base := c.connect
	c.connect = func(ctx context.Context, uri string) (*mongo.Client, error) {
		connects++
		return base(ctx, uri)
	}
	c.ping = func(ctx context.Context, _ *mongo.Client) error {
		return *pingErr
	}
	return c, &connects
}

func TestClient_Connect_CachesDatabase(t *testing.T) {
	var pingErr error
	c, connects := newLazyClient(t, &pingErr)
	defer c.Close(context.Background())

	first, err := c.Connect(context.Background())
	require.NoError(t, err)
	second, err := c.Connect(context.Background())
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, *connects)
	assert.Equal(t, "notemodules_test", first.Name())
}

func TestClient_Connect_FailureIsNotCached(t *testing.T) {
	pingErr := errors.New("server selection timeout")
	c, connects := newLazyClient(t, &pingErr)

	_, err := c.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to ping mongodb")

	pingErr = nil
	db, err := c.Connect(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, db)
	assert.Equal(t, 2, *connects)

	require.NoError(t, c.Close(context.Background()))
}

func TestClient_Collection(t *testing.T) {
	var pingErr error
	c, _ := newLazyClient(t, &pingErr)
	defer c.Close(context.Background())

	coll, err := c.Collection(context.Background(), ModulesCollection)
	require.NoError(t, err)
	assert.Equal(t, "modules", coll.Name())
}

func TestClient_Close_WithoutConnect(t *testing.T) {
	c := NewClient("mongodb://127.0.0.1:1", "x")
	assert.NoError(t, c.Close(context.Background()))
}

// TestClient_EnsureIndexes_Integration は実MongoDBに対してインデックス作成を検証する。
// TEST_MONGODB_URI が未設定の場合はスキップする。
func TestClient_EnsureIndexes_Integration(t *testing.T) {
	uri := os.Getenv("TEST_MONGODB_URI")
	if uri == "" {
		t.Skip("TEST_MONGODB_URI is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c := NewClient(uri, "notemodules_test")
	defer c.Close(ctx)

	require.NoError(t, c.EnsureIndexes(ctx))
	// 2回目も成功する（冪等）
	require.NoError(t, c.EnsureIndexes(ctx))
}
