package user

import (
	"context"
	"testing"
)

// mapStore is a trivial Store for service tests.
type mapStore struct {
	users map[string]User
}

func (m *mapStore) InsertUser(_ context.Context, u User) (User, error) {
	u.CreatedTime = "2026-01-01T00:00:00Z"
	m.users[u.Username] = u
	return u, nil
}

func (m *mapStore) GetUser(_ context.Context, username string) (User, error) {
	return m.users[username], nil
}

func (m *mapStore) UpdateUserPassword(_ context.Context, username, hash string) (User, error) {
	u := m.users[username]
	u.Password = hash
	m.users[username] = u
	return u, nil
}

func TestAnonymous(t *testing.T) {
	if !(User{}).Anonymous() {
		t.Error("zero User should be anonymous")
	}
	if (User{Username: "alice"}).Anonymous() {
		t.Error("named User should not be anonymous")
	}
}

func TestSaveAssignsDefaultRole(t *testing.T) {
	store := &mapStore{users: make(map[string]User)}
	svc := NewService(store)

	saved, err := svc.Save(context.Background(), "alice", "hash")
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if saved.Role != RoleUser {
		t.Errorf("Role = %q, want %q", saved.Role, RoleUser)
	}
	if saved.Password != "hash" {
		t.Errorf("Password = %q, want stored hash", saved.Password)
	}
	if saved.CreatedTime == "" {
		t.Error("CreatedTime not filled by the store")
	}
}

func TestUpdatePassword(t *testing.T) {
	store := &mapStore{users: make(map[string]User)}
	svc := NewService(store)

	if _, err := svc.Save(context.Background(), "alice", "old"); err != nil {
		t.Fatal(err)
	}
	updated, err := svc.UpdatePassword(context.Background(), "alice", "new")
	if err != nil {
		t.Fatalf("UpdatePassword() error = %v", err)
	}
	if updated.Password != "new" {
		t.Errorf("Password = %q, want %q", updated.Password, "new")
	}
}
