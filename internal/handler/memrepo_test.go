package handler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hitoshi/notemodules/internal/model"
	"github.com/hitoshi/notemodules/internal/repository"
)

// memUserRepo は実サービスを通すルーターテスト用のインメモリUserRepository。
type memUserRepo struct {
	mu    sync.Mutex
	users []*model.User
}

func (r *memUserRepo) find(match func(*model.User) bool) *model.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if match(u) {
			c := *u
			return &c
		}
	}
	return nil
}

func (r *memUserRepo) FindByID(_ context.Context, id string) (*model.User, error) {
	return r.find(func(u *model.User) bool { return u.ID == id }), nil
}

func (r *memUserRepo) FindByUsername(_ context.Context, username string) (*model.User, error) {
	return r.find(func(u *model.User) bool { return u.Username == username }), nil
}

func (r *memUserRepo) FindByEmail(_ context.Context, email string) (*model.User, error) {
	return r.find(func(u *model.User) bool { return u.Email == email }), nil
}

func (r *memUserRepo) Create(_ context.Context, user *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Username == user.Username {
			return &repository.DuplicateKeyError{Field: "username"}
		}
		if u.Email == user.Email {
			return &repository.DuplicateKeyError{Field: "email"}
		}
	}
	user.ID = fmt.Sprintf("user-%d", len(r.users)+1)
	c := *user
	r.users = append(r.users, &c)
	return nil
}

// memModuleRepo はルーターテスト用のインメモリModuleRepository。
type memModuleRepo struct {
	mu      sync.Mutex
	seq     int
	modules map[string]*model.Module
}

func newMemModuleRepo() *memModuleRepo {
	return &memModuleRepo{modules: make(map[string]*model.Module)}
}

func copyModule(m *model.Module) *model.Module {
	c := *m
	c.Collaborators = append([]string{}, m.Collaborators...)
	c.Tags = append([]string{}, m.Tags...)
	c.Notes = append([]model.Note{}, m.Notes...)
	return &c
}

func (r *memModuleRepo) Create(_ context.Context, m *model.Module) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	c := copyModule(m)
	c.ID = fmt.Sprintf("mod-%d", r.seq)
	r.modules[c.ID] = c
	return c.ID, nil
}

func (r *memModuleRepo) FindByID(_ context.Context, id string) (*model.Module, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.modules[id]
	if !ok {
		return nil, nil
	}
	return copyModule(m), nil
}

func (r *memModuleRepo) List(_ context.Context, f repository.ModuleFilter) ([]*model.Module, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []*model.Module{}
	for _, m := range r.modules {
		if f.IsEmpty() ||
			(f.OwnerID != "" && m.OwnerID == f.OwnerID) ||
			(f.CollaboratorID != "" && m.IsCollaborator(f.CollaboratorID)) ||
			(f.PublicOnly && m.IsPublic) {
			out = append(out, copyModule(m))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (r *memModuleRepo) Update(_ context.Context, id string, p repository.ModuleUpdate) (bool, error) {
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

func (r *memModuleRepo) Delete(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.modules[id]; !ok {
		return false, nil
	}
	delete(r.modules, id)
	return true, nil
}

func (r *memModuleRepo) AddNote(_ context.Context, moduleID string, note *model.Note) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.modules[moduleID]
	if !ok {
		return "", model.NewModuleNotFoundError(moduleID)
	}
	r.seq++
	note.ID = fmt.Sprintf("note-%d", r.seq)
	m.Notes = append(m.Notes, *note)
	m.UpdatedAt = time.Now().UTC()
	return note.ID, nil
}

func (r *memModuleRepo) RemoveNote(_ context.Context, moduleID, noteID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.modules[moduleID]
	if !ok {
		return false, nil
	}
	for i := range m.Notes {
		if m.Notes[i].ID == noteID {
			m.Notes = append(m.Notes[:i], m.Notes[i+1:]...)
			m.UpdatedAt = time.Now().UTC()
			return true, nil
		}
	}
	return false, nil
}

func (r *memModuleRepo) ListFileURLs(_ context.Context) ([]string, error) {
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

var (
	_ repository.UserRepository   = (*memUserRepo)(nil)
	_ repository.ModuleRepository = (*memModuleRepo)(nil)
)
