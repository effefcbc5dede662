package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/notemodules/internal/auth"
	"github.com/hitoshi/notemodules/internal/middleware"
	"github.com/hitoshi/notemodules/internal/model"
	"github.com/hitoshi/notemodules/internal/module"
)

// --- モック定義 ---

// mockAuthService はAuthServiceInterfaceのモック実装。
type mockAuthService struct {
	registerFn     func(ctx context.Context, username, email, password string) (*model.User, error)
	authenticateFn func(ctx context.Context, username, password string) (auth.AuthResult, error)
	currentUserFn  func(ctx context.Context, userID string) (*model.Identity, error)
	issueTokenFn   func(userID string) (string, time.Time, error)
}

func (m *mockAuthService) Register(ctx context.Context, username, email, password string) (*model.User, error) {
	if m.registerFn != nil {
		return m.registerFn(ctx, username, email, password)
	}
	return &model.User{ID: "user-new", Username: username, Email: email}, nil
}

func (m *mockAuthService) Authenticate(ctx context.Context, username, password string) (auth.AuthResult, error) {
	if m.authenticateFn != nil {
		return m.authenticateFn(ctx, username, password)
	}
	return auth.AuthResult{Status: auth.AuthUserNotFound}, nil
}

func (m *mockAuthService) CurrentUser(ctx context.Context, userID string) (*model.Identity, error) {
	if m.currentUserFn != nil {
		return m.currentUserFn(ctx, userID)
	}
	return nil, model.NewUserNotFoundError()
}

func (m *mockAuthService) IssueToken(userID string) (string, time.Time, error) {
	if m.issueTokenFn != nil {
		return m.issueTokenFn(userID)
	}
	return "token-" + userID, time.Now().Add(time.Hour), nil
}

// mockModuleService はModuleServiceInterfaceのモック実装。
type mockModuleService struct {
	createFn         func(ctx context.Context, userID string, in module.CreateInput) (string, error)
	getFn            func(ctx context.Context, userID, moduleID string) (*model.Module, error)
	listFn           func(ctx context.Context, userID string, scope module.Scope) ([]*model.Module, error)
	updateMetadataFn func(ctx context.Context, userID, moduleID string, in module.UpdateInput) error
	deleteFn         func(ctx context.Context, userID, moduleID string) error
	addNoteFn        func(ctx context.Context, userID, moduleID string, in module.NoteInput) (string, error)
	uploadNoteFn     func(ctx context.Context, userID, moduleID, fileName string, body io.Reader) (string, error)
	removeNoteFn     func(ctx context.Context, userID, moduleID, noteID string) error
	renderNoteFn     func(ctx context.Context, userID, moduleID, noteID string) (string, error)
}

func (m *mockModuleService) Create(ctx context.Context, userID string, in module.CreateInput) (string, error) {
	if m.createFn != nil {
		return m.createFn(ctx, userID, in)
	}
	return "module-new", nil
}

func (m *mockModuleService) Get(ctx context.Context, userID, moduleID string) (*model.Module, error) {
	if m.getFn != nil {
		return m.getFn(ctx, userID, moduleID)
	}
	return nil, model.NewModuleNotFoundError(moduleID)
}

func (m *mockModuleService) List(ctx context.Context, userID string, scope module.Scope) ([]*model.Module, error) {
	if m.listFn != nil {
		return m.listFn(ctx, userID, scope)
	}
	return nil, nil
}

func (m *mockModuleService) UpdateMetadata(ctx context.Context, userID, moduleID string, in module.UpdateInput) error {
	if m.updateMetadataFn != nil {
		return m.updateMetadataFn(ctx, userID, moduleID, in)
	}
	return nil
}

func (m *mockModuleService) Delete(ctx context.Context, userID, moduleID string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, userID, moduleID)
	}
	return nil
}

func (m *mockModuleService) AddNote(ctx context.Context, userID, moduleID string, in module.NoteInput) (string, error) {
	if m.addNoteFn != nil {
		return m.addNoteFn(ctx, userID, moduleID, in)
	}
	return "note-new", nil
}

func (m *mockModuleService) UploadNote(ctx context.Context, userID, moduleID, fileName string, body io.Reader) (string, error) {
	if m.uploadNoteFn != nil {
		return m.uploadNoteFn(ctx, userID, moduleID, fileName, body)
	}
	return "note-uploaded", nil
}

func (m *mockModuleService) RemoveNote(ctx context.Context, userID, moduleID, noteID string) error {
	if m.removeNoteFn != nil {
		return m.removeNoteFn(ctx, userID, moduleID, noteID)
	}
	return nil
}

func (m *mockModuleService) RenderNote(ctx context.Context, userID, moduleID, noteID string) (string, error) {
	if m.renderNoteFn != nil {
		return m.renderNoteFn(ctx, userID, moduleID, noteID)
	}
	return "", nil
}

// mockPinger はPingerのモック実装。
type mockPinger struct {
	err error
}

func (m *mockPinger) Ping(context.Context) error { return m.err }

// --- テストヘルパー ---

// withUserID はテスト用にリクエストコンテキストにユーザーIDを注入するヘルパー。
func withUserID(r *http.Request, userID string) *http.Request {
	return r.WithContext(middleware.ContextWithUserID(r.Context(), userID))
}

// withChiURLParams はテスト用にchiのURLパラメータを注入するヘルパー。引数はkey, valueの組。
func withChiURLParams(r *http.Request, kv ...string) *http.Request {
	rctx := chi.NewRouteContext()
	for i := 0; i+1 < len(kv); i += 2 {
		rctx.URLParams.Add(kv[i], kv[i+1])
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// parseAPIErrorResponse はレスポンスボディからエラーレスポンスをパースするヘルパー。
func parseAPIErrorResponse(t *testing.T, w *httptest.ResponseRecorder) middleware.ErrorResponseBody {
	t.Helper()
	var body middleware.ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return body
}

// assertErrorCode はステータスコードとエラーコードを検証するヘルパー。
func assertErrorCode(t *testing.T, w *httptest.ResponseRecorder, wantStatus int, wantCode string) {
	t.Helper()
	if w.Code != wantStatus {
		t.Fatalf("status = %d, want %d (body: %s)", w.Code, wantStatus, w.Body.String())
	}
	if got := parseAPIErrorResponse(t, w).Code; got != wantCode {
		t.Errorf("code = %q, want %q", got, wantCode)
	}
}
