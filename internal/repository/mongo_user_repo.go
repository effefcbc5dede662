package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/hitoshi/notemodules/internal/model"
)

// CollectionProvider は名前からMongoDBのコレクションを取得する。
// mongostore.Clientが満たし、接続は最初の取得時に確立される。
type CollectionProvider interface {
	Collection(ctx context.Context, name string) (*mongo.Collection, error)
}

const (
	usersCollection   = "users"
	modulesCollection = "modules"
)

// mongoUser はusersコレクションのドキュメント。
type mongoUser struct {
	ID        primitive.ObjectID `bson:"_id"`
	Username  string             `bson:"username"`
	Email     string             `bson:"email"`
	Password  string             `bson:"password"`
	CreatedAt time.Time          `bson:"createdAt"`
	UpdatedAt time.Time          `bson:"updatedAt"`
}

func (d *mongoUser) toModel() *model.User {
	return &model.User{
		ID:           d.ID.Hex(),
		Username:     d.Username,
		Email:        d.Email,
		PasswordHash: d.Password,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

// MongoUserRepo はMongoDBを使用したユーザーリポジトリ。
type MongoUserRepo struct {
	store CollectionProvider
}

// NewMongoUserRepo はMongoUserRepoを生成する。
func NewMongoUserRepo(store CollectionProvider) *MongoUserRepo {
	return &MongoUserRepo{store: store}
}

// FindByID は指定IDのユーザーを取得する。IDの形式が不正な場合もnilを返す。
func (r *MongoUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, nil
	}
	return r.findOne(ctx, bson.M{"_id": oid})
}

// FindByUsername はユーザー名でユーザーを検索する。
func (r *MongoUserRepo) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	return r.findOne(ctx, bson.M{"username": username})
}

// FindByEmail はメールアドレスでユーザーを検索する。
func (r *MongoUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.findOne(ctx, bson.M{"email": email})
}

func (r *MongoUserRepo) findOne(ctx context.Context, filter bson.M) (*model.User, error) {
	coll, err := r.store.Collection(ctx, usersCollection)
	if err != nil {
		return nil, err
	}

	var doc mongoUser
	err = coll.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	return doc.toModel(), nil
}

// Create はユーザーを作成し、ObjectIDを採番してuser.IDに設定する。
func (r *MongoUserRepo) Create(ctx context.Context, user *model.User) error {
	coll, err := r.store.Collection(ctx, usersCollection)
	if err != nil {
		return err
	}

	doc := mongoUser{
		ID:        primitive.NewObjectID(),
		Username:  user.Username,
		Email:     user.Email,
		Password:  user.PasswordHash,
		CreatedAt: user.CreatedAt,
		UpdatedAt: user.UpdatedAt,
	}
	if _, err := coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return &DuplicateKeyError{Field: duplicateFieldFromMessage(err.Error()), Err: err}
		}
		return fmt.Errorf("ユーザーの作成に失敗しました: %w", err)
	}

	user.ID = doc.ID.Hex()
	return nil
}

// duplicateFieldFromMessage はE11000エラーのメッセージから違反したキーを推定する。
func duplicateFieldFromMessage(msg string) string {
	switch {
	case strings.Contains(msg, "username"):
		return "username"
	case strings.Contains(msg, "email"):
		return "email"
	default:
		return ""
	}
}

// compile-time interface check
var _ UserRepository = (*MongoUserRepo)(nil)
