// Package mongostore はMongoDBをドキュメントストアとして使うためのクライアントを提供する。
// database.Clientと同じく、起動時に1度だけ生成して注入し、接続は遅延確立してキャッシュする。
package mongostore

import (
	"context"
	"fmt"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// コレクション名
const (
	UsersCollection   = "users"
	ModulesCollection = "modules"
)

// Client はMongoDBへの接続をキャッシュするクライアント。
type Client struct {
	uri    string
	dbName string

	connect func(ctx context.Context, uri string) (*mongo.Client, error)
	ping    func(ctx context.Context, c *mongo.Client) error

	mu     sync.Mutex
	client *mongo.Client
	db     *mongo.Database
}

// NewClient はClientを生成する。この時点では接続を試行しない。
func NewClient(uri, dbName string) *Client {
	return &Client{
		uri:    uri,
		dbName: dbName,
		connect: func(ctx context.Context, uri string) (*mongo.Client, error) {
			return mongo.Connect(ctx, options.Client().ApplyURI(uri))
		},
		ping: func(ctx context.Context, c *mongo.Client) error {
			return c.Ping(ctx, readpref.Primary())
		},
	}
}

// Connect はキャッシュ済みのデータベースハンドルを返す。
// 未接続の場合は接続してPingで疎通を確認してからキャッシュする。
// 失敗した場合はキャッシュせず、エラーをそのまま返す。
func (c *Client) Connect(ctx context.Context) (*mongo.Database, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.db != nil {
		return c.db, nil
	}

	client, err := c.connect(ctx, c.uri)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	if err := c.ping(ctx, client); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	c.client = client
	c.db = client.Database(c.dbName)
	return c.db, nil
}

// Collection は指定コレクションのハンドルを返す。
func (c *Client) Collection(ctx context.Context, name string) (*mongo.Collection, error) {
	db, err := c.Connect(ctx)
	if err != nil {
		return nil, err
	}
	return db.Collection(name), nil
}

// Ping はMongoDBへの疎通を確認する。
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.Connect(ctx); err != nil {
		return err
	}
	return c.ping(ctx, c.client)
}

// EnsureIndexes はusersの一意インデックスとmodulesの一覧用インデックスを作成する。
// usersの一意インデックスがユーザー名・メールアドレス重複の最終判定となる。
func (c *Client) EnsureIndexes(ctx context.Context) error {
	db, err := c.Connect(ctx)
	if err != nil {
		return err
	}

	_, err = db.Collection(UsersCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "username", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
	})
	if err != nil {
		return fmt.Errorf("failed to create users indexes: %w", err)
	}

	_, err = db.Collection(ModulesCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "ownerId", Value: 1}, {Key: "updatedAt", Value: -1}}},
		{Keys: bson.D{{Key: "collaborators", Value: 1}}},
		{Keys: bson.D{{Key: "isPublic", Value: 1}, {Key: "updatedAt", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create modules indexes: %w", err)
	}

	return nil
}

// Close は接続を切断する。未接続の場合は何もしない。
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return nil
	}
	err := c.client.Disconnect(ctx)
	c.client = nil
	c.db = nil
	return err
}
