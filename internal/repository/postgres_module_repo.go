package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/hitoshi/notemodules/internal/model"
)

// PostgresModuleRepo はPostgreSQLを使用したモジュールリポジトリ。
// ノートはmodules.notesのJSONB配列に埋め込んで保持し、
// ノートの追加・削除とupdated_atの更新を1つのUPDATE文で行う。
type PostgresModuleRepo struct {
	db *sql.DB
}

// NewPostgresModuleRepo はPostgresModuleRepoを生成する。
func NewPostgresModuleRepo(db *sql.DB) *PostgresModuleRepo {
	return &PostgresModuleRepo{db: db}
}

// noteDocument はJSONB配列に格納するノートの表現。
type noteDocument struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	FileName  string    `json:"fileName"`
	Content   string    `json:"content,omitempty"`
	FileURL   string    `json:"fileUrl,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func toNoteDocument(n *model.Note) noteDocument {
	return noteDocument{
		ID:        n.ID,
		Type:      string(n.Type),
		FileName:  n.FileName,
		Content:   n.Content,
		FileURL:   n.FileURL,
		CreatedAt: n.CreatedAt,
	}
}

func (d noteDocument) toModel() model.Note {
	return model.Note{
		ID:        d.ID,
		Type:      model.NoteType(d.Type),
		FileName:  d.FileName,
		Content:   d.Content,
		FileURL:   d.FileURL,
		CreatedAt: d.CreatedAt,
	}
}

const moduleColumns = `id, title, description, owner_id, collaborators, is_public, tags, notes, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanModule(row rowScanner) (*model.Module, error) {
	m := &model.Module{}
	var notesJSON []byte
	var collaborators, tags pq.StringArray

	if err := row.Scan(
		&m.ID, &m.Title, &m.Description, &m.OwnerID,
		&collaborators, &m.IsPublic, &tags, &notesJSON,
		&m.CreatedAt, &m.UpdatedAt,
	); err != nil {
		return nil, err
	}

	var docs []noteDocument
	if len(notesJSON) > 0 {
		if err := json.Unmarshal(notesJSON, &docs); err != nil {
			return nil, fmt.Errorf("ノートのデコードに失敗しました: %w", err)
		}
	}

	m.Collaborators = append([]string{}, collaborators...)
	m.Tags = append([]string{}, tags...)
	m.Notes = make([]model.Note, 0, len(docs))
	for _, d := range docs {
		m.Notes = append(m.Notes, d.toModel())
	}
	return m, nil
}

// Create はノートが空のモジュールを作成し、採番したIDを返す。
func (r *PostgresModuleRepo) Create(ctx context.Context, m *model.Module) (string, error) {
	id := uuid.NewString()
	now := m.CreatedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}
	updatedAt := m.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = now
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO modules (id, title, description, owner_id, collaborators, is_public, tags, notes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, '[]'::jsonb, $8, $9)`,
		id, m.Title, m.Description, m.OwnerID,
		pq.Array(nonNil(m.Collaborators)), m.IsPublic, pq.Array(nonNil(m.Tags)),
		now, updatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("モジュールの作成に失敗しました: %w", err)
	}

	m.ID = id
	m.CreatedAt = now
	m.UpdatedAt = updatedAt
	m.Notes = []model.Note{}
	return id, nil
}

// FindByID は指定IDのモジュールを取得する。見つからない場合はnilを返す。
func (r *PostgresModuleRepo) FindByID(ctx context.Context, id string) (*model.Module, error) {
	if !isCanonicalUUID(id) {
		return nil, nil
	}

	m, err := scanModule(r.db.QueryRowContext(ctx,
		`SELECT `+moduleColumns+` FROM modules WHERE id = $1`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("モジュールの取得に失敗しました: %w", err)
	}
	return m, nil
}

// List は条件に一致するモジュールをupdated_at降順で返す。
func (r *PostgresModuleRepo) List(ctx context.Context, filter ModuleFilter) ([]*model.Module, error) {
	query, args := buildListQuery(filter)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("モジュール一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	modules := make([]*model.Module, 0)
	for rows.Next() {
		m, err := scanModule(rows)
		if err != nil {
			return nil, fmt.Errorf("モジュールの読み取りに失敗しました: %w", err)
		}
		modules = append(modules, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("モジュール一覧の走査に失敗しました: %w", err)
	}
	return modules, nil
}

// buildListQuery は絞り込み条件からSELECT文とパラメータを組み立てる。
func buildListQuery(filter ModuleFilter) (string, []any) {
	var conds []string
	var args []any

	if filter.OwnerID != "" {
		if isCanonicalUUID(filter.OwnerID) {
			args = append(args, filter.OwnerID)
			conds = append(conds, fmt.Sprintf("owner_id = $%d", len(args)))
		} else {
			conds = append(conds, "false")
		}
	}
	if filter.CollaboratorID != "" {
		args = append(args, filter.CollaboratorID)
		conds = append(conds, fmt.Sprintf("$%d = ANY(collaborators)", len(args)))
	}
	if filter.PublicOnly {
		conds = append(conds, "is_public")
	}

	query := `SELECT ` + moduleColumns + ` FROM modules`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " OR ")
	}
	query += ` ORDER BY updated_at DESC, id`
	return query, args
}

// Update はメタデータを部分更新する。updated_atは常に更新する。
func (r *PostgresModuleRepo) Update(ctx context.Context, id string, patch ModuleUpdate) (bool, error) {
	if !isCanonicalUUID(id) {
		return false, nil
	}

	updatedAt := patch.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	args := []any{id, updatedAt}
	sets := []string{"updated_at = $2"}
	add := func(column string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if patch.Title != nil {
		add("title", *patch.Title)
	}
	if patch.Description != nil {
		add("description", *patch.Description)
	}
	if patch.IsPublic != nil {
		add("is_public", *patch.IsPublic)
	}
	if patch.Tags != nil {
		add("tags", pq.Array(patch.Tags))
	}
	if patch.Collaborators != nil {
		add("collaborators", pq.Array(patch.Collaborators))
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE modules SET `+strings.Join(sets, ", ")+` WHERE id = $1`,
		args...,
	)
	if err != nil {
		return false, fmt.Errorf("モジュールの更新に失敗しました: %w", err)
	}
	return affected(result)
}

// Delete はモジュールを削除する。埋め込みノートも同時に消える。
func (r *PostgresModuleRepo) Delete(ctx context.Context, id string) (bool, error) {
	if !isCanonicalUUID(id) {
		return false, nil
	}

	result, err := r.db.ExecContext(ctx, `DELETE FROM modules WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("モジュールの削除に失敗しました: %w", err)
	}
	return affected(result)
}

// AddNote はノートを末尾に追加し、updated_atを同じUPDATE文で更新する。
func (r *PostgresModuleRepo) AddNote(ctx context.Context, moduleID string, note *model.Note) (string, error) {
	if !isCanonicalUUID(moduleID) {
		return "", model.NewModuleNotFoundError(moduleID)
	}

	now := time.Now().UTC()
	note.ID = uuid.NewString()
	if note.CreatedAt.IsZero() {
		note.CreatedAt = now
	}

	doc, err := json.Marshal(toNoteDocument(note))
	if err != nil {
		return "", fmt.Errorf("ノートのエンコードに失敗しました: %w", err)
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE modules
		 SET notes = notes || jsonb_build_array($2::jsonb), updated_at = $3
		 WHERE id = $1`,
		moduleID, string(doc), now,
	)
	if err != nil {
		return "", fmt.Errorf("ノートの追加に失敗しました: %w", err)
	}
	ok, err := affected(result)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", model.NewModuleNotFoundError(moduleID)
	}
	return note.ID, nil
}

// RemoveNote はIDが一致するノートを取り除く。
// 対象ノートを含む行だけを更新するため、ノートが無い場合はupdated_atも変わらない。
func (r *PostgresModuleRepo) RemoveNote(ctx context.Context, moduleID, noteID string) (bool, error) {
	if !isCanonicalUUID(moduleID) {
		return false, nil
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE modules
		 SET notes = COALESCE(
		         (SELECT jsonb_agg(n ORDER BY i)
		          FROM jsonb_array_elements(notes) WITH ORDINALITY AS t(n, i)
		          WHERE n->>'id' <> $2::text),
		         '[]'::jsonb),
		     updated_at = $3
		 WHERE id = $1 AND notes @> jsonb_build_array(jsonb_build_object('id', $2::text))`,
		moduleID, noteID, time.Now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("ノートの削除に失敗しました: %w", err)
	}
	return affected(result)
}

// ListFileURLs はfreeformノートが参照するfileUrlを全て返す。
func (r *PostgresModuleRepo) ListFileURLs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT n->>'fileUrl'
		 FROM modules, jsonb_array_elements(notes) AS n
		 WHERE n->>'type' = 'freeform' AND COALESCE(n->>'fileUrl', '') <> ''`,
	)
	if err != nil {
		return nil, fmt.Errorf("ファイルURL一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var urls []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("ファイルURLの読み取りに失敗しました: %w", err)
		}
		urls = append(urls, u)
	}
	return urls, rows.Err()
}

func affected(result sql.Result) (bool, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// isCanonicalUUID はIDが8-4-4-4-12形式のUUIDかを返す。
// uuid.Parseはurn:uuid:や波括弧付きの表記も受け付けるが、それらはPostgresのUUID型で扱えないため一致なしとする。
func isCanonicalUUID(id string) bool {
	if len(id) != 36 {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}

// compile-time interface check
var _ ModuleRepository = (*PostgresModuleRepo)(nil)
