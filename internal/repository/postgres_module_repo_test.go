package repository

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/notemodules/internal/model"
)

func TestPostgresModuleRepo_ImplementsInterface(t *testing.T) {
	var _ ModuleRepository = (*PostgresModuleRepo)(nil)
}

func TestBuildListQuery(t *testing.T) {
	const ownerID = "6f1c2b1e-7a43-4c55-9a55-2f9b1d0e4a11"

	tests := []struct {
		name      string
		filter    ModuleFilter
		wantWhere string
		wantArgs  int
	}{
		{name: "条件なしは全件", filter: ModuleFilter{}, wantWhere: "", wantArgs: 0},
		{name: "所有者で絞り込み", filter: ModuleFilter{OwnerID: ownerID}, wantWhere: "WHERE owner_id = $1", wantArgs: 1},
		{
			name:      "所有者と共同編集者と公開",
			filter:    ModuleFilter{OwnerID: ownerID, CollaboratorID: ownerID, PublicOnly: true},
			wantWhere: "WHERE owner_id = $1 OR $2 = ANY(collaborators) OR is_public",
			wantArgs:  2,
		},
		{name: "公開のみ", filter: ModuleFilter{PublicOnly: true}, wantWhere: "WHERE is_public", wantArgs: 0},
		{name: "不正な所有者IDは一致なし", filter: ModuleFilter{OwnerID: "bogus"}, wantWhere: "WHERE false", wantArgs: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, args := buildListQuery(tt.filter)
			if len(args) != tt.wantArgs {
				t.Errorf("len(args) = %d, want %d", len(args), tt.wantArgs)
			}
			if tt.wantWhere == "" && strings.Contains(query, "WHERE") {
				t.Errorf("query should not have WHERE: %s", query)
			}
			if tt.wantWhere != "" && !strings.Contains(query, tt.wantWhere) {
				t.Errorf("query = %q, want to contain %q", query, tt.wantWhere)
			}
			if !strings.HasSuffix(query, "ORDER BY updated_at DESC, id") {
				t.Errorf("query must be ordered by updated_at desc: %s", query)
			}
		})
	}
}

func TestIsCanonicalUUID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"6f1c2b1e-7a43-4c55-9a55-2f9b1d0e4a11", true},
		{"6F1C2B1E-7A43-4C55-9A55-2F9B1D0E4A11", true},
		{"urn:uuid:6f1c2b1e-7a43-4c55-9a55-2f9b1d0e4a11", false},
		{"{6f1c2b1e-7a43-4c55-9a55-2f9b1d0e4a11}", false},
		{"6f1c2b1e7a434c559a552f9b1d0e4a11", false},
		{"6f1c2b1e-7a43-4c55-9a55-2f9b1d0e4a1z", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := isCanonicalUUID(tt.id); got != tt.want {
			t.Errorf("isCanonicalUUID(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

// URN形式などPostgresが受け付けないIDはDBに問い合わせず見つからない扱いになることを検証
func TestPostgresModuleRepo_NonCanonicalID(t *testing.T) {
	const urnID = "urn:uuid:6f1c2b1e-7a43-4c55-9a55-2f9b1d0e4a11"
	repo := NewPostgresModuleRepo(nil)
	ctx := context.Background()

	m, err := repo.FindByID(ctx, urnID)
	if err != nil || m != nil {
		t.Errorf("FindByID = (%v, %v), want (nil, nil)", m, err)
	}
	if ok, err := repo.Update(ctx, urnID, ModuleUpdate{}); ok || err != nil {
		t.Errorf("Update = (%v, %v), want (false, nil)", ok, err)
	}
	if ok, err := repo.Delete(ctx, urnID); ok || err != nil {
		t.Errorf("Delete = (%v, %v), want (false, nil)", ok, err)
	}
	if ok, err := repo.RemoveNote(ctx, urnID, "n1"); ok || err != nil {
		t.Errorf("RemoveNote = (%v, %v), want (false, nil)", ok, err)
	}

	_, err = repo.AddNote(ctx, urnID, &model.Note{Type: model.NoteTypeMarkdown, FileName: "a.md"})
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeModuleNotFound {
		t.Errorf("AddNote error = %v, want module not found", err)
	}

	query, args := buildListQuery(ModuleFilter{OwnerID: urnID})
	if !strings.Contains(query, "WHERE false") || len(args) != 0 {
		t.Errorf("buildListQuery = %q %v, want no match", query, args)
	}
}

// JSONBに格納する表現でtypeに応じたフィールドだけが出力されることを検証
func TestNoteDocument_OmitsUnusedField(t *testing.T) {
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	md, err := json.Marshal(toNoteDocument(&model.Note{
		ID: "n1", Type: model.NoteTypeMarkdown, FileName: "a.md", Content: "# A", CreatedAt: created,
	}))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(md), "fileUrl") {
		t.Errorf("markdown note should not carry fileUrl: %s", md)
	}

	ff, err := json.Marshal(toNoteDocument(&model.Note{
		ID: "n2", Type: model.NoteTypeFreeform, FileName: "a.png", FileURL: "/uploads/x-a.png", CreatedAt: created,
	}))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(ff), "content") {
		t.Errorf("freeform note should not carry content: %s", ff)
	}

	var back noteDocument
	if err := json.Unmarshal(ff, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	n := back.toModel()
	if n.Type != model.NoteTypeFreeform || n.FileURL != "/uploads/x-a.png" || !n.CreatedAt.Equal(created) {
		t.Errorf("unexpected note: %+v", n)
	}
}

func TestNonNil(t *testing.T) {
	if got := nonNil(nil); got == nil || len(got) != 0 {
		t.Errorf("nonNil(nil) = %#v", got)
	}
	in := []string{"a"}
	if got := nonNil(in); len(got) != 1 || got[0] != "a" {
		t.Errorf("nonNil(in) = %#v", got)
	}
}
