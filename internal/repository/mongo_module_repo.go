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

	"github.com/hitoshi/notemodules/internal/model"
)

// mongoNote はmodules.notesに埋め込むノートのサブドキュメント。
type mongoNote struct {
	ID        primitive.ObjectID `bson:"_id"`
	Type      string             `bson:"type"`
	FileName  string             `bson:"fileName"`
	Content   string             `bson:"content,omitempty"`
	FileURL   string             `bson:"fileUrl,omitempty"`
	CreatedAt time.Time          `bson:"createdAt"`
}

// mongoModule はmodulesコレクションのドキュメント。
type mongoModule struct {
	ID            primitive.ObjectID `bson:"_id"`
	Title         string             `bson:"title"`
	Description   string             `bson:"description"`
	OwnerID       string             `bson:"ownerId"`
	Collaborators []string           `bson:"collaborators"`
	IsPublic      bool               `bson:"isPublic"`
	Tags          []string           `bson:"tags"`
	Notes         []mongoNote        `bson:"notes"`
	CreatedAt     time.Time          `bson:"createdAt"`
	UpdatedAt     time.Time          `bson:"updatedAt"`
}

func (d *mongoModule) toModel() *model.Module {
	m := &model.Module{
		ID:            d.ID.Hex(),
		Title:         d.Title,
		Description:   d.Description,
		OwnerID:       d.OwnerID,
		Collaborators: nonNil(d.Collaborators),
		IsPublic:      d.IsPublic,
		Tags:          nonNil(d.Tags),
		Notes:         make([]model.Note, 0, len(d.Notes)),
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
	for _, n := range d.Notes {
		m.Notes = append(m.Notes, model.Note{
			ID:        n.ID.Hex(),
			Type:      model.NoteType(n.Type),
			FileName:  n.FileName,
			Content:   n.Content,
			FileURL:   n.FileURL,
			CreatedAt: n.CreatedAt,
		})
	}
	return m
}

// MongoModuleRepo はMongoDBを使用したモジュールリポジトリ。
// ノートの追加・削除は$push/$pullと$setを1回のupdateOneで行う。
type MongoModuleRepo struct {
	store CollectionProvider
}

// NewMongoModuleRepo はMongoModuleRepoを生成する。
func NewMongoModuleRepo(store CollectionProvider) *MongoModuleRepo {
	return &MongoModuleRepo{store: store}
}

func (r *MongoModuleRepo) collection(ctx context.Context) (*mongo.Collection, error) {
	return r.store.Collection(ctx, modulesCollection)
}

// Create はノートが空のモジュールを作成し、採番したIDを返す。
func (r *MongoModuleRepo) Create(ctx context.Context, m *model.Module) (string, error) {
	coll, err := r.collection(ctx)
	if err != nil {
		return "", err
	}

	now := m.CreatedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}
	updatedAt := m.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = now
	}

	doc := mongoModule{
		ID:            primitive.NewObjectID(),
		Title:         m.Title,
		Description:   m.Description,
		OwnerID:       m.OwnerID,
		Collaborators: nonNil(m.Collaborators),
		IsPublic:      m.IsPublic,
		Tags:          nonNil(m.Tags),
		Notes:         []mongoNote{},
		CreatedAt:     now,
		UpdatedAt:     updatedAt,
	}
	if _, err := coll.InsertOne(ctx, doc); err != nil {
		return "", fmt.Errorf("モジュールの作成に失敗しました: %w", err)
	}

	m.ID = doc.ID.Hex()
	m.CreatedAt = now
	m.UpdatedAt = updatedAt
	m.Notes = []model.Note{}
	return m.ID, nil
}

// FindByID は指定IDのモジュールを取得する。見つからない場合はnilを返す。
func (r *MongoModuleRepo) FindByID(ctx context.Context, id string) (*model.Module, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, nil
	}

	coll, err := r.collection(ctx)
	if err != nil {
		return nil, err
	}

	var doc mongoModule
	err = coll.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("モジュールの取得に失敗しました: %w", err)
	}
	return doc.toModel(), nil
}

// List は条件に一致するモジュールをupdatedAt降順で返す。
func (r *MongoModuleRepo) List(ctx context.Context, filter ModuleFilter) ([]*model.Module, error) {
	coll, err := r.collection(ctx)
	if err != nil {
		return nil, err
	}

	opts := options.Find().SetSort(bson.D{{Key: "updatedAt", Value: -1}, {Key: "_id", Value: 1}})
	cursor, err := coll.Find(ctx, buildMongoListFilter(filter), opts)
	if err != nil {
		return nil, fmt.Errorf("モジュール一覧の取得に失敗しました: %w", err)
	}

	var docs []mongoModule
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("モジュール一覧の読み取りに失敗しました: %w", err)
	}

	modules := make([]*model.Module, 0, len(docs))
	for i := range docs {
		modules = append(modules, docs[i].toModel())
	}
	return modules, nil
}

// buildMongoListFilter は絞り込み条件をクエリドキュメントに変換する。
func buildMongoListFilter(filter ModuleFilter) bson.M {
	var or bson.A
	if filter.OwnerID != "" {
		or = append(or, bson.M{"ownerId": filter.OwnerID})
	}
	if filter.CollaboratorID != "" {
		or = append(or, bson.M{"collaborators": filter.CollaboratorID})
	}
	if filter.PublicOnly {
		or = append(or, bson.M{"isPublic": true})
	}

	switch len(or) {
	case 0:
		return bson.M{}
	case 1:
		return or[0].(bson.M)
	default:
		return bson.M{"$or": or}
	}
}

// Update はメタデータを$setで部分更新する。_idは更新対象に含めない。
func (r *MongoModuleRepo) Update(ctx context.Context, id string, patch ModuleUpdate) (bool, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return false, nil
	}

	coll, err := r.collection(ctx)
	if err != nil {
		return false, err
	}

	result, err := coll.UpdateOne(ctx, bson.M{"_id": oid}, bson.M{"$set": buildMongoSet(patch)})
	if err != nil {
		return false, fmt.Errorf("モジュールの更新に失敗しました: %w", err)
	}
	return result.MatchedCount > 0, nil
}

func buildMongoSet(patch ModuleUpdate) bson.M {
	updatedAt := patch.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	set := bson.M{"updatedAt": updatedAt}
	if patch.Title != nil {
		set["title"] = *patch.Title
	}
	if patch.Description != nil {
		set["description"] = *patch.Description
	}
	if patch.IsPublic != nil {
		set["isPublic"] = *patch.IsPublic
	}
	if patch.Tags != nil {
		set["tags"] = patch.Tags
	}
	if patch.Collaborators != nil {
		set["collaborators"] = patch.Collaborators
	}
	return set
}

// Delete はモジュールを削除する。
func (r *MongoModuleRepo) Delete(ctx context.Context, id string) (bool, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return false, nil
	}

	coll, err := r.collection(ctx)
	if err != nil {
		return false, err
	}

	result, err := coll.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return false, fmt.Errorf("モジュールの削除に失敗しました: %w", err)
	}
	return result.DeletedCount > 0, nil
}

// AddNote はノートを$pushで追加し、同じ更新でupdatedAtを設定する。
func (r *MongoModuleRepo) AddNote(ctx context.Context, moduleID string, note *model.Note) (string, error) {
	oid, err := primitive.ObjectIDFromHex(moduleID)
	if err != nil {
		return "", model.NewModuleNotFoundError(moduleID)
	}

	coll, err := r.collection(ctx)
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	if note.CreatedAt.IsZero() {
		note.CreatedAt = now
	}
	doc := mongoNote{
		ID:        primitive.NewObjectID(),
		Type:      string(note.Type),
		FileName:  note.FileName,
		Content:   note.Content,
		FileURL:   note.FileURL,
		CreatedAt: note.CreatedAt,
	}

	result, err := coll.UpdateOne(ctx,
		bson.M{"_id": oid},
		bson.M{
			"$push": bson.M{"notes": doc},
			"$set":  bson.M{"updatedAt": now},
		},
	)
	if err != nil {
		return "", fmt.Errorf("ノートの追加に失敗しました: %w", err)
	}
	if result.MatchedCount == 0 {
		return "", model.NewModuleNotFoundError(moduleID)
	}

	note.ID = doc.ID.Hex()
	return note.ID, nil
}

// RemoveNote はノートを$pullで取り除き、同じ更新でupdatedAtを設定する。
func (r *MongoModuleRepo) RemoveNote(ctx context.Context, moduleID, noteID string) (bool, error) {
	oid, err := primitive.ObjectIDFromHex(moduleID)
	if err != nil {
		return false, nil
	}
	noteOID, err := primitive.ObjectIDFromHex(noteID)
	if err != nil {
		return false, nil
	}

	coll, err := r.collection(ctx)
	if err != nil {
		return false, err
	}

	result, err := coll.UpdateOne(ctx,
		bson.M{"_id": oid, "notes._id": noteOID},
		bson.M{
			"$pull": bson.M{"notes": bson.M{"_id": noteOID}},
			"$set":  bson.M{"updatedAt": time.Now().UTC()},
		},
	)
	if err != nil {
		return false, fmt.Errorf("ノートの削除に失敗しました: %w", err)
	}
	return result.ModifiedCount > 0, nil
}

// ListFileURLs はfreeformノートが参照するfileUrlを全て返す。
func (r *MongoModuleRepo) ListFileURLs(ctx context.Context) ([]string, error) {
	coll, err := r.collection(ctx)
	if err != nil {
		return nil, err
	}

	cursor, err := coll.Find(ctx,
		bson.M{"notes.type": string(model.NoteTypeFreeform)},
		options.Find().SetProjection(bson.M{"notes": 1}),
	)
	if err != nil {
		return nil, fmt.Errorf("ファイルURL一覧の取得に失敗しました: %w", err)
	}

	var docs []mongoModule
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("ファイルURL一覧の読み取りに失敗しました: %w", err)
	}

	var urls []string
	for _, d := range docs {
		for _, n := range d.Notes {
			if n.Type == string(model.NoteTypeFreeform) && n.FileURL != "" {
				urls = append(urls, n.FileURL)
			}
		}
	}
	return urls, nil
}

// compile-time interface check
var _ ModuleRepository = (*MongoModuleRepo)(nil)
