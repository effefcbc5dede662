// Package module はモジュールとノートのドメインロジックを提供する。
// 権限判定はAuthorizeに集約し、各操作はモジュールを取得してから判定する。
package module

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hitoshi/notemodules/internal/metrics"
	"github.com/hitoshi/notemodules/internal/model"
	"github.com/hitoshi/notemodules/internal/repository"
)

// MaxTitleLength はモジュールタイトルの最大文字数。
const MaxTitleLength = 255

// Scope はモジュール一覧の取得範囲。
type Scope string

const (
	// ScopeMine は自分が所有するモジュール。
	ScopeMine Scope = "mine"
	// ScopeShared は共同編集者として登録されているモジュール。
	ScopeShared Scope = "shared"
	// ScopePublic は公開モジュール。
	ScopePublic Scope = "public"
	// ScopeAll は閲覧可能な全モジュール（所有・共同編集・公開）。
	ScopeAll Scope = "all"
)

// ParseScope はクエリ文字列の値をScopeに変換する。空文字列はScopeMineとして扱う。
func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case "":
		return ScopeMine, nil
	case ScopeMine, ScopeShared, ScopePublic, ScopeAll:
		return Scope(s), nil
	default:
		return "", model.NewValidationError("scopeはmine、shared、public、allのいずれかを指定してください")
	}
}

// NoteRenderer はMarkdownをHTMLに変換する。
type NoteRenderer interface {
	Render(source string) (string, error)
}

// FileStore はアップロードファイルの保存先。
type FileStore interface {
	Save(ctx context.Context, fileName string, r io.Reader) (string, error)
	Remove(ctx context.Context, fileURL string) error
}

// CreateInput はモジュール作成の入力。
type CreateInput struct {
	Title       string
	Description string
}

// UpdateInput はメタデータ更新の入力。Title以外のnilフィールドは変更しない。
type UpdateInput struct {
	Title         string
	Description   *string
	IsPublic      *bool
	Tags          []string
	Collaborators []string
}

// NoteInput はノート追加の入力。
type NoteInput struct {
	Type     model.NoteType
	FileName string
	Content  string
	FileURL  string
}

// Service はモジュールとノートの操作を提供する。
type Service struct {
	repo     repository.ModuleRepository
	renderer NoteRenderer
	files    FileStore
	metrics  metrics.MetricsCollector
	now      func() time.Time
}

// NewService はServiceを生成する。
func NewService(repo repository.ModuleRepository, renderer NoteRenderer, files FileStore, collector metrics.MetricsCollector) *Service {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Service{
		repo:     repo,
		renderer: renderer,
		files:    files,
		metrics:  collector,
		now:      time.Now,
	}
}

// loadAuthorized はモジュールを取得し、roleの権限を確認する。
func (s *Service) loadAuthorized(ctx context.Context, userID, moduleID string, role Role) (*model.Module, error) {
	if moduleID == "" {
		return nil, model.NewValidationError("モジュールIDは必須です")
	}

	m, err := s.repo.FindByID(ctx, moduleID)
	if err != nil {
		return nil, fmt.Errorf("モジュールの取得に失敗しました: %w", err)
	}
	if m == nil {
		return nil, model.NewModuleNotFoundError(moduleID)
	}
	if err := Authorize(m, userID, role); err != nil {
		slog.Warn("module access denied",
			slog.String("user_id", userID),
			slog.String("module_id", moduleID),
			slog.String("role", role.String()),
		)
		return nil, err
	}
	return m, nil
}

// Create はユーザーを所有者とするモジュールを作成し、IDを返す。
func (s *Service) Create(ctx context.Context, userID string, in CreateInput) (string, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return "", model.NewValidationError("タイトルは必須です")
	}
	if err := validateTitle(title); err != nil {
		return "", err
	}
	if err := validateText("説明", in.Description); err != nil {
		return "", err
	}

	now := s.now().UTC()
	id, err := s.repo.Create(ctx, &model.Module{
		Title:         title,
		Description:   in.Description,
		OwnerID:       userID,
		Collaborators: []string{},
		Tags:          []string{},
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	if err != nil {
		return "", fmt.Errorf("モジュールの作成に失敗しました: %w", err)
	}

	s.metrics.RecordModuleOperation("create")
	slog.Info("module created", slog.String("module_id", id), slog.String("user_id", userID))
	return id, nil
}

// Get は閲覧権限のあるモジュールを返す。
func (s *Service) Get(ctx context.Context, userID, moduleID string) (*model.Module, error) {
	return s.loadAuthorized(ctx, userID, moduleID, RoleViewer)
}

// List はscopeに応じたモジュール一覧をupdatedAt降順で返す。
func (s *Service) List(ctx context.Context, userID string, scope Scope) ([]*model.Module, error) {
	var filter repository.ModuleFilter
	switch scope {
	case ScopeMine, "":
		filter.OwnerID = userID
	case ScopeShared:
		filter.CollaboratorID = userID
	case ScopePublic:
		filter.PublicOnly = true
	case ScopeAll:
		filter = repository.ModuleFilter{OwnerID: userID, CollaboratorID: userID, PublicOnly: true}
	default:
		return nil, model.NewValidationError("不正なscopeです")
	}

	modules, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("モジュール一覧の取得に失敗しました: %w", err)
	}
	return modules, nil
}

// UpdateMetadata は所有者としてメタデータを更新する。タイトルは必須。
func (s *Service) UpdateMetadata(ctx context.Context, userID, moduleID string, in UpdateInput) error {
	title := strings.TrimSpace(in.Title)
	if moduleID == "" || title == "" {
		return model.NewValidationError("モジュールIDとタイトルは必須です")
	}
	if err := validateUpdate(title, in); err != nil {
		return err
	}

	m, err := s.loadAuthorized(ctx, userID, moduleID, RoleOwner)
	if err != nil {
		return err
	}

	patch := repository.ModuleUpdate{
		Title:       &title,
		Description: in.Description,
		IsPublic:    in.IsPublic,
		UpdatedAt:   s.nextUpdatedAt(m),
	}
	if in.Tags != nil {
		patch.Tags = normalizeList(in.Tags, "")
	}
	if in.Collaborators != nil {
		patch.Collaborators = normalizeList(in.Collaborators, m.OwnerID)
	}

	ok, err := s.repo.Update(ctx, moduleID, patch)
	if err != nil {
		return fmt.Errorf("モジュールの更新に失敗しました: %w", err)
	}
	if !ok {
		return model.NewModuleNotFoundError(moduleID)
	}

	s.metrics.RecordModuleOperation("update")
	return nil
}

// Delete は所有者としてモジュールを削除する。埋め込まれたノートも消える。
func (s *Service) Delete(ctx context.Context, userID, moduleID string) error {
	if _, err := s.loadAuthorized(ctx, userID, moduleID, RoleOwner); err != nil {
		return err
	}

	ok, err := s.repo.Delete(ctx, moduleID)
	if err != nil {
		return fmt.Errorf("モジュールの削除に失敗しました: %w", err)
	}
	if !ok {
		return model.NewModuleNotFoundError(moduleID)
	}

	s.metrics.RecordModuleOperation("delete")
	slog.Info("module deleted", slog.String("module_id", moduleID), slog.String("user_id", userID))
	return nil
}

// AddNote は編集権限を確認してノートを追加し、ノートIDを返す。
// markdownはContentのみ、freeformはFileURLのみを持つ。
func (s *Service) AddNote(ctx context.Context, userID, moduleID string, in NoteInput) (string, error) {
	note, err := buildNote(in)
	if err != nil {
		return "", err
	}
	if _, err := s.loadAuthorized(ctx, userID, moduleID, RoleEditor); err != nil {
		return "", err
	}
	return s.appendNote(ctx, moduleID, note)
}

func (s *Service) appendNote(ctx context.Context, moduleID string, note *model.Note) (string, error) {
	note.CreatedAt = s.now().UTC()
	noteID, err := s.repo.AddNote(ctx, moduleID, note)
	if err != nil {
		return "", fmt.Errorf("ノートの追加に失敗しました: %w", err)
	}
	s.metrics.RecordNoteOperation("add")
	return noteID, nil
}

func buildNote(in NoteInput) (*model.Note, error) {
	if !in.Type.Valid() {
		return nil, model.NewValidationError("ノートの種別はmarkdownまたはfreeformを指定してください")
	}
	fileName := strings.TrimSpace(in.FileName)
	if fileName == "" {
		return nil, model.NewValidationError("ファイル名は必須です")
	}
	if err := validateText("ファイル名", fileName); err != nil {
		return nil, err
	}
	if err := validateText("本文", in.Content); err != nil {
		return nil, err
	}
	if err := validateText("fileUrl", in.FileURL); err != nil {
		return nil, err
	}

	note := &model.Note{Type: in.Type, FileName: fileName}
	switch in.Type {
	case model.NoteTypeMarkdown:
		if in.FileURL != "" {
			return nil, model.NewValidationError("markdownノートにfileUrlは指定できません")
		}
		note.Content = in.Content
	case model.NoteTypeFreeform:
		if in.Content != "" {
			return nil, model.NewValidationError("freeformノートにcontentは指定できません")
		}
		if in.FileURL == "" {
			return nil, model.NewValidationError("freeformノートにはfileUrlが必要です")
		}
		note.FileURL = in.FileURL
	}
	return note, nil
}

// UploadNote はアップロードされたファイルをノートとして追加する。
// 拡張子が.mdのファイルは本文を読み込んでmarkdownノートにし、
// それ以外はFileStoreに保存してfreeformノートにする。
// ノートの追加に失敗した場合は保存したファイルを削除する。
func (s *Service) UploadNote(ctx context.Context, userID, moduleID, fileName string, body io.Reader) (string, error) {
	base := filepath.Base(strings.ReplaceAll(fileName, "\\", "/"))
	if base == "" || base == "." || base == "/" {
		return "", model.NewValidationError("ファイルが指定されていません")
	}
	if err := validateText("ファイル名", base); err != nil {
		return "", err
	}
	if _, err := s.loadAuthorized(ctx, userID, moduleID, RoleEditor); err != nil {
		return "", err
	}

	if IsMarkdownFile(base) {
		content, err := io.ReadAll(body)
		if err != nil {
			return "", fmt.Errorf("ファイルの読み込みに失敗しました: %w", err)
		}
		text := strings.ToValidUTF8(string(content), "\uFFFD")
		if err := validateText("本文", text); err != nil {
			return "", err
		}
		noteID, err := s.appendNote(ctx, moduleID, &model.Note{
			Type:     model.NoteTypeMarkdown,
			FileName: base,
			Content:  text,
		})
		if err != nil {
			return "", err
		}
		s.metrics.RecordUpload(string(model.NoteTypeMarkdown), int64(len(content)))
		return noteID, nil
	}

	if s.files == nil {
		return "", fmt.Errorf("file store is not configured")
	}
	counted := &countingReader{r: body}
	fileURL, err := s.files.Save(ctx, base, counted)
	if err != nil {
		return "", fmt.Errorf("ファイルの保存に失敗しました: %w", err)
	}

	noteID, err := s.appendNote(ctx, moduleID, &model.Note{
		Type:     model.NoteTypeFreeform,
		FileName: base,
		FileURL:  fileURL,
	})
	if err != nil {
		if rmErr := s.files.Remove(ctx, fileURL); rmErr != nil {
			slog.Warn("failed to remove uploaded file after note failure",
				slog.String("file_url", fileURL),
				slog.String("error", rmErr.Error()),
			)
		}
		return "", err
	}
	s.metrics.RecordUpload(string(model.NoteTypeFreeform), counted.n)
	return noteID, nil
}

// IsMarkdownFile は拡張子が.md（大文字小文字を区別しない）かどうかを返す。
func IsMarkdownFile(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".md")
}

// RemoveNote は編集権限を確認してノートを削除する。
func (s *Service) RemoveNote(ctx context.Context, userID, moduleID, noteID string) error {
	if moduleID == "" || noteID == "" {
		return model.NewValidationError("モジュールIDとノートIDは必須です")
	}

	m, err := s.loadAuthorized(ctx, userID, moduleID, RoleEditor)
	if err != nil {
		return err
	}
	if m.FindNote(noteID) == nil {
		return model.NewNoteNotFoundError(noteID)
	}

	ok, err := s.repo.RemoveNote(ctx, moduleID, noteID)
	if err != nil {
		return fmt.Errorf("ノートの削除に失敗しました: %w", err)
	}
	if !ok {
		return model.NewNoteNotFoundError(noteID)
	}

	s.metrics.RecordNoteOperation("remove")
	return nil
}

// RenderNote は閲覧権限を確認し、markdownノートをサニタイズ済みHTMLに変換する。
func (s *Service) RenderNote(ctx context.Context, userID, moduleID, noteID string) (string, error) {
	m, err := s.loadAuthorized(ctx, userID, moduleID, RoleViewer)
	if err != nil {
		return "", err
	}

	note := m.FindNote(noteID)
	if note == nil {
		return "", model.NewNoteNotFoundError(noteID)
	}
	if note.Type != model.NoteTypeMarkdown {
		return "", model.NewValidationError("HTML変換できるのはmarkdownノートのみです")
	}

	html, err := s.renderer.Render(note.Content)
	if err != nil {
		return "", fmt.Errorf("ノートの変換に失敗しました: %w", err)
	}
	s.metrics.RecordNoteOperation("render")
	return html, nil
}

// nextUpdatedAt は現在時刻を返す。時計が巻き戻ってもupdatedAtが減らないようにする。
func (s *Service) nextUpdatedAt(m *model.Module) time.Time {
	now := s.now().UTC()
	if !now.After(m.UpdatedAt) {
		return m.UpdatedAt.Add(time.Millisecond)
	}
	return now
}

// validateText はストレージに保存できない文字列（NUL文字、不正なUTF-8）を拒否する。
func validateText(field, v string) error {
	if strings.IndexByte(v, 0) >= 0 || !utf8.ValidString(v) {
		return model.NewValidationError(field + "に使用できない文字が含まれています")
	}
	return nil
}

func validateTitle(title string) error {
	if utf8.RuneCountInString(title) > MaxTitleLength {
		return model.NewValidationError(fmt.Sprintf("タイトルは%d文字以内で入力してください", MaxTitleLength))
	}
	return validateText("タイトル", title)
}

func validateUpdate(title string, in UpdateInput) error {
	if err := validateTitle(title); err != nil {
		return err
	}
	if in.Description != nil {
		if err := validateText("説明", *in.Description); err != nil {
			return err
		}
	}
	for _, v := range in.Tags {
		if err := validateText("タグ", v); err != nil {
			return err
		}
	}
	for _, v := range in.Collaborators {
		if err := validateText("共同編集者", v); err != nil {
			return err
		}
	}
	return nil
}

// normalizeList は前後の空白を除き、空要素と重複、excludeと一致する要素を取り除く。
func normalizeList(values []string, exclude string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || (exclude != "" && v == exclude) {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
