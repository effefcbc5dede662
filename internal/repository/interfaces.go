// Package repository はデータ永続化のインターフェースを定義する。
// PostgreSQLとMongoDBの2種類の実装を持ち、起動時にDATABASE_URLのスキームで選択する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/notemodules/internal/model"
)

// ErrDuplicateKey は一意制約違反を表す。
// 呼び出し側はerrors.Isで判定し、DuplicateKeyErrorで違反したフィールドを取得できる。
var ErrDuplicateKey = errors.New("duplicate key")

// DuplicateKeyError は一意制約に違反したフィールドを保持するエラー。
type DuplicateKeyError struct {
	// Field は違反したフィールド名（"username" / "email"）。判別できない場合は空文字。
	Field string
	Err   error
}

func (e *DuplicateKeyError) Error() string {
	if e.Field == "" {
		return "duplicate key"
	}
	return "duplicate key: " + e.Field
}

// Is はErrDuplicateKeyとの比較を可能にする。
func (e *DuplicateKeyError) Is(target error) bool {
	return target == ErrDuplicateKey
}

func (e *DuplicateKeyError) Unwrap() error {
	return e.Err
}

// UserRepository はユーザーデータの永続化インターフェース。
// ユーザーは作成のみで、更新・削除は行わない。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByUsername はユーザー名でユーザーを検索する。見つからない場合はnilを返す。
	FindByUsername(ctx context.Context, username string) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Create はユーザーを作成し、user.IDに採番したIDを設定する。
	// ユーザー名・メールアドレスの重複時はDuplicateKeyErrorを返す。
	Create(ctx context.Context, user *model.User) error
}

// ModuleFilter はモジュール一覧の絞り込み条件。
// 全フィールドがゼロ値の場合は全モジュールを返す。
// 複数指定した場合はOR条件で結合する。
type ModuleFilter struct {
	OwnerID        string
	CollaboratorID string
	PublicOnly     bool
}

// IsEmpty は絞り込み条件が指定されていないかを返す。
func (f ModuleFilter) IsEmpty() bool {
	return f.OwnerID == "" && f.CollaboratorID == "" && !f.PublicOnly
}

// ModuleUpdate はモジュールのメタデータ更新内容。
// nilのフィールドは変更しない。IDや所有者を書き換える手段は持たない。
type ModuleUpdate struct {
	Title         *string
	Description   *string
	IsPublic      *bool
	Tags          []string
	Collaborators []string
	UpdatedAt     time.Time
}

// ModuleRepository はモジュールとノートの永続化インターフェース。
// 認可は行わない。呼び出し側で所有者・共同編集者の確認を済ませること。
type ModuleRepository interface {
	// Create はノートが空のモジュールを作成し、採番したIDを返す。
	Create(ctx context.Context, m *model.Module) (string, error)

	// FindByID は指定IDのモジュールを取得する。
	// 見つからない場合、およびIDの形式が不正な場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Module, error)

	// List は条件に一致するモジュールをupdatedAt降順で返す。
	List(ctx context.Context, filter ModuleFilter) ([]*model.Module, error)

	// Update はメタデータを部分更新し、updatedAtを必ず更新する。
	// 対象が存在した場合にtrueを返す。
	Update(ctx context.Context, id string, patch ModuleUpdate) (bool, error)

	// Delete はモジュールを埋め込みノートごと削除する。削除した場合にtrueを返す。
	Delete(ctx context.Context, id string) (bool, error)

	// AddNote はノートにIDと作成日時を採番して末尾に追加し、updatedAtを更新する。
	// 1回の更新で行う。モジュールが存在しない場合はmodel.ErrCodeModuleNotFoundのAPIErrorを返す。
	AddNote(ctx context.Context, moduleID string, note *model.Note) (string, error)

	// RemoveNote はIDが一致するノートを取り除き、updatedAtを更新する。
	// ノートを取り除いた場合にtrueを返す。
	RemoveNote(ctx context.Context, moduleID, noteID string) (bool, error)

	// ListFileURLs は全モジュールのfreeformノートが参照するfileUrlを返す。
	ListFileURLs(ctx context.Context) ([]string, error)
}
