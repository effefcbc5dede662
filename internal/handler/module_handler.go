package handler

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/notemodules/internal/middleware"
	"github.com/hitoshi/notemodules/internal/model"
	"github.com/hitoshi/notemodules/internal/module"
)

// ModuleServiceInterface はモジュール・ノートハンドラーが必要とするサービスインターフェース。
// module.Serviceが満たす。
type ModuleServiceInterface interface {
	Create(ctx context.Context, userID string, in module.CreateInput) (string, error)
	Get(ctx context.Context, userID, moduleID string) (*model.Module, error)
	List(ctx context.Context, userID string, scope module.Scope) ([]*model.Module, error)
	UpdateMetadata(ctx context.Context, userID, moduleID string, in module.UpdateInput) error
	Delete(ctx context.Context, userID, moduleID string) error
	AddNote(ctx context.Context, userID, moduleID string, in module.NoteInput) (string, error)
	UploadNote(ctx context.Context, userID, moduleID, fileName string, body io.Reader) (string, error)
	RemoveNote(ctx context.Context, userID, moduleID, noteID string) error
	RenderNote(ctx context.Context, userID, moduleID, noteID string) (string, error)
}

var _ ModuleServiceInterface = (*module.Service)(nil)

// ModuleHandler はモジュール管理のHTTPハンドラー。
type ModuleHandler struct {
	service ModuleServiceInterface
}

// NewModuleHandler はModuleHandlerを生成する。
func NewModuleHandler(service ModuleServiceInterface) *ModuleHandler {
	return &ModuleHandler{service: service}
}

type createModuleRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// updateModuleRequest はメタデータ更新リクエストのボディ。
// 省略されたフィールドは変更しない。
type updateModuleRequest struct {
	ModuleID      string    `json:"moduleId"`
	Title         string    `json:"title"`
	Description   *string   `json:"description"`
	IsPublic      *bool     `json:"isPublic"`
	Tags          *[]string `json:"tags"`
	Collaborators *[]string `json:"collaborators"`
}

// moduleResponse はモジュールのAPIレスポンス。
type moduleResponse struct {
	ID            string         `json:"_id"`
	Title         string         `json:"title"`
	Description   string         `json:"description"`
	OwnerID       string         `json:"ownerId"`
	Collaborators []string       `json:"collaborators"`
	IsPublic      bool           `json:"isPublic"`
	Tags          []string       `json:"tags"`
	Notes         []noteResponse `json:"notes"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

// noteResponse はノートのAPIレスポンス。種別に応じてcontentかfileUrlのどちらかのみ出力する。
type noteResponse struct {
	ID        string    `json:"_id"`
	Type      string    `json:"type"`
	FileName  string    `json:"fileName"`
	Content   *string   `json:"content,omitempty"`
	FileURL   string    `json:"fileUrl,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// ListModules はスコープに応じたモジュール一覧を返す。
// GET /api/modules?scope=mine|shared|public|all
func (h *ModuleHandler) ListModules(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	scope, err := module.ParseScope(r.URL.Query().Get("scope"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	modules, err := h.service.List(r.Context(), userID, scope)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := make([]moduleResponse, len(modules))
	for i, m := range modules {
		resp[i] = toModuleResponse(m)
	}
	writeJSON(w, http.StatusOK, map[string]any{"modules": resp})
}

// GetModule はモジュール詳細を返す。
// GET /api/modules/{id}
func (h *ModuleHandler) GetModule(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	m, err := h.service.Get(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toModuleResponse(m))
}

// CreateModule はモジュールを作成する。
// POST /api/modules
func (h *ModuleHandler) CreateModule(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req createModuleRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	id, err := h.service.Create(r.Context(), userID, module.CreateInput{
		Title:       req.Title,
		Description: req.Description,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "moduleId": id})
}

// UpdateModule はモジュールのメタデータを更新する。
// PUT /api/modules
func (h *ModuleHandler) UpdateModule(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req updateModuleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ModuleID == "" || req.Title == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError("モジュールIDとタイトルは必須です"))
		return
	}

	in := module.UpdateInput{
		Title:       req.Title,
		Description: req.Description,
		IsPublic:    req.IsPublic,
	}
	// 省略またはnullはnilのまま（変更なし）、空配列はクリアを意味する
	if req.Tags != nil {
		in.Tags = nonNilStrings(*req.Tags)
	}
	if req.Collaborators != nil {
		in.Collaborators = nonNilStrings(*req.Collaborators)
	}

	if err := h.service.UpdateMetadata(r.Context(), userID, req.ModuleID, in); err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// DeleteModule はモジュールをノートごと削除する。
// DELETE /api/modules?id=
func (h *ModuleHandler) DeleteModule(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	moduleID := r.URL.Query().Get("id")
	if moduleID == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError("モジュールIDは必須です"))
		return
	}

	if err := h.service.Delete(r.Context(), userID, moduleID); err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// RenderNote はmarkdownノートをサニタイズ済みHTMLに変換して返す。
// GET /api/modules/{id}/notes/{noteId}/html
func (h *ModuleHandler) RenderNote(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	html, err := h.service.RenderNote(r.Context(), userID, chi.URLParam(r, "id"), chi.URLParam(r, "noteId"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"html": html})
}

// nonNilStrings はnilを空スライスに置き換える。JSONでnullではなく[]を出力するために使う。
func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func toModuleResponse(m *model.Module) moduleResponse {
	notes := make([]noteResponse, len(m.Notes))
	for i := range m.Notes {
		notes[i] = toNoteResponse(&m.Notes[i])
	}
	return moduleResponse{
		ID:            m.ID,
		Title:         m.Title,
		Description:   m.Description,
		OwnerID:       m.OwnerID,
		Collaborators: nonNilStrings(m.Collaborators),
		IsPublic:      m.IsPublic,
		Tags:          nonNilStrings(m.Tags),
		Notes:         notes,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func toNoteResponse(n *model.Note) noteResponse {
	resp := noteResponse{
		ID:        n.ID,
		Type:      string(n.Type),
		FileName:  n.FileName,
		CreatedAt: n.CreatedAt,
	}
	if n.Type == model.NoteTypeMarkdown {
		content := n.Content
		resp.Content = &content
	} else {
		resp.FileURL = n.FileURL
	}
	return resp
}
