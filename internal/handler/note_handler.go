package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/notemodules/internal/middleware"
	"github.com/hitoshi/notemodules/internal/model"
	"github.com/hitoshi/notemodules/internal/module"
)

// multipartMemory はマルチパート解析時にメモリへ保持する上限。超えた分は一時ファイルに書き出される。
const multipartMemory = 8 << 20

// NoteHandler はノートの追加・削除とファイルアップロードのHTTPハンドラー。
type NoteHandler struct {
	service        ModuleServiceInterface
	uploadMaxBytes int64
}

// NewNoteHandler はNoteHandlerを生成する。uploadMaxBytesはアップロード1件あたりのリクエストサイズ上限。
func NewNoteHandler(service ModuleServiceInterface, uploadMaxBytes int64) *NoteHandler {
	return &NoteHandler{
		service:        service,
		uploadMaxBytes: uploadMaxBytes,
	}
}

type addNoteRequest struct {
	ModuleID string `json:"moduleId"`
	Type     string `json:"type"`
	FileName string `json:"fileName"`
	Content  string `json:"content"`
	FileURL  string `json:"fileUrl"`
}

// AddNote はモジュールにノートを追加する。
// POST /api/notes
func (h *NoteHandler) AddNote(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req addNoteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ModuleID == "" || req.Type == "" || req.FileName == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError("モジュールID、種別、ファイル名は必須です"))
		return
	}

	noteID, err := h.service.AddNote(r.Context(), userID, req.ModuleID, module.NoteInput{
		Type:     model.NoteType(req.Type),
		FileName: req.FileName,
		Content:  req.Content,
		FileURL:  req.FileURL,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "noteId": noteID})
}

// RemoveNote はモジュールからノートを削除する。
// DELETE /api/notes?moduleId=&noteId=
func (h *NoteHandler) RemoveNote(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	moduleID, noteID := q.Get("moduleId"), q.Get("noteId")
	if moduleID == "" || noteID == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError("モジュールIDとノートIDは必須です"))
		return
	}

	if err := h.service.RemoveNote(r.Context(), userID, moduleID, noteID); err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// Upload はマルチパートのファイルをノートとして追加する。
// .mdファイルはmarkdownノート、それ以外は保存してfreeformノートになる。
// POST /api/uploads (multipart: file, moduleId)
func (h *NoteHandler) Upload(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if h.uploadMaxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.uploadMaxBytes)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			slog.Warn("upload too large",
				slog.String("user_id", userID),
				slog.Int64("limit", maxErr.Limit),
			)
			middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError("ファイルサイズが上限を超えています"))
			return
		}
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError("マルチパート形式のリクエストを送信してください"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	moduleID := r.FormValue("moduleId")
	file, header, err := r.FormFile("file")
	if err != nil || moduleID == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError("ファイルとモジュールIDは必須です"))
		return
	}
	defer file.Close()

	noteID, err := h.service.UploadNote(r.Context(), userID, moduleID, header.Filename, file)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "noteId": noteID})
}
