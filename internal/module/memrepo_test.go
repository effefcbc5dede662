package module

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hitoshi/notemodules/internal/model"
	"github.com/hitoshi/notemodules/internal/repository"
)

// memRepo はテスト用のインメモリModuleRepository。
type memRepo struct {
	mu      sync.Mutex
	seq     int
	modules map[string]*model.Module
	clock   func() time.Time

	addNoteErr error
}

func newMemRepo() *memRepo {
	return &memRepo{modules: make(map[string]*model.Module), clock: time.Now}
}

func (r *memRepo) nextID(prefix string) string {
	r.seq++
	return fmt.Sprintf("%s-%d", prefix, r.seq)
}

func cloneModule(m *model.Module) *model.Module {
	c := *m
	c.Collaborators = append([]string{}, m.Collaborators...)
	c.Tags = append([]string{}, m.Tags...)
	c.Notes = append([]model.Note{}, m.Notes...)
	return &c
}

func (r *memRepo) Create(_ context.Context, m *model.Module) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := cloneModule(m)
	c.ID = r.nextID("mod")
	r.modules[c.ID] = c
	return c.ID, nil
}

func (r *memRepo) FindByID(_ context.Context, id string) (*model.Module, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.modules[id]
	if !ok {
		return nil, nil
	}
	return cloneModule(m), nil
}

func (r *memRepo) List(_ context.Context, f repository.ModuleFilter) ([]*model.Module, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []*model.Module{}
	for _, m := range r.modules {
		match := f.IsEmpty() ||
			(f.OwnerID != "" && m.OwnerID == f.OwnerID) ||
			(f.CollaboratorID != "" && m.IsCollaborator(f.CollaboratorID)) ||
			(f.PublicOnly && m.IsPublic)
		if match {
			out = append(out, cloneModule(m))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (r *memRepo) Update(_ context.Context, id string, p repository.ModuleUpdate) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.modules[id]
	if !ok {
		return false, nil
	}
	if p.Title != nil {
		m.Title = *p.Title
	}
	if p.Description != nil {
		m.Description = *p.Description
	}
	if p.IsPublic != nil {
		m.IsPublic = *p.IsPublic
	}
	if p.Tags != nil {
		m.Tags = p.Tags
	}
	if p.Collaborators != nil {
		m.Collaborators = p.Collaborators
	}
	m.UpdatedAt = p.UpdatedAt
	return true, nil
}

func (r *memRepo) Delete(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.modules[id]; !ok {
		return false, nil
	}
	delete(r.modules, id)
	return true, nil
}

func (r *memRepo) AddNote(_ context.Context, moduleID string, note *model.Note) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.addNoteErr != nil {
		return "", r.addNoteErr
	}
	m, ok := r.modules[moduleID]
	if !ok {
		return "", model.NewModuleNotFoundError(moduleID)
	}
	note.ID = r.nextID("note")
	m.Notes = append(m.Notes, *note)
	m.UpdatedAt = r.advance(m.UpdatedAt)
	return note.ID, nil
}

func (r *memRepo) RemoveNote(_ context.Context, moduleID, noteID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.modules[moduleID]
	if !ok {
		return false, nil
	}
	for i := range m.Notes {
		if m.Notes[i].ID == noteID {
			m.Notes = append(m.Notes[:i], m.Notes[i+1:]...)
			m.UpdatedAt = r.advance(m.UpdatedAt)
			return true, nil
		}
	}
	return false, nil
}

func (r *memRepo) ListFileURLs(_ context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var urls []string
	for _, m := range r.modules {
		for _, n := range m.Notes {
			if n.FileURL != "" {
				urls = append(urls, n.FileURL)
			}
		}
	}
	return urls, nil
}

func (r *memRepo) advance(prev time.Time) time.Time {
	now := r.clock().UTC()
	if !now.After(prev) {
		return prev.Add(time.Millisecond)
	}
	return now
}

var _ repository.ModuleRepository = (*memRepo)(nil)
