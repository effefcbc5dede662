package model

import "time"

// NoteType はノートの種別を表す。
type NoteType string

const (
	// NoteTypeMarkdown はContentにMarkdown本文を保持するノート。
	NoteTypeMarkdown NoteType = "markdown"
	// NoteTypeFreeform はFileURLにアップロード済みファイルの参照を保持するノート。
	NoteTypeFreeform NoteType = "freeform"
)

// Valid は既知のノート種別かどうかを返す。
func (t NoteType) Valid() bool {
	return t == NoteTypeMarkdown || t == NoteTypeFreeform
}

// Module はユーザーが所有するノートのフォルダを表す。
// ノートはモジュールに埋め込まれ、モジュール削除時に一緒に削除される。
type Module struct {
	ID            string
	Title         string
	Description   string
	OwnerID       string
	Collaborators []string
	IsPublic      bool
	Tags          []string
	Notes         []Note
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Note はモジュール内の1件のノートを表す。
// Typeに応じてContentかFileURLのどちらか一方だけが設定される。
type Note struct {
	ID        string
	Type      NoteType
	FileName  string
	Content   string
	FileURL   string
	CreatedAt time.Time
}

// IsCollaborator は指定ユーザーが共同編集者として登録されているかを返す。
func (m *Module) IsCollaborator(userID string) bool {
	for _, c := range m.Collaborators {
		if c == userID {
			return true
		}
	}
	return false
}

// FindNote は指定IDのノートを返す。見つからない場合はnilを返す。
func (m *Module) FindNote(noteID string) *Note {
	for i := range m.Notes {
		if m.Notes[i].ID == noteID {
			return &m.Notes[i]
		}
	}
	return nil
}
