package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aloks98/deskauth"
	"github.com/aloks98/deskauth/store"
)

func TestNew(t *testing.T) {
	s := New()
	if s == nil {
		t.Fatal("New() returned nil")
	}
	defer s.Close()
}

func TestStore_PingAndClose(t *testing.T) {
	s := New()

	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := s.Ping(context.Background()); !errors.Is(err, deskauth.ErrStoreUnavailable) {
		t.Errorf("Ping() after Close error = %v, want %v", err, deskauth.ErrStoreUnavailable)
	}
}

func TestStore_User(t *testing.T) {
	s := New()
	defer s.Close()
	ctx := context.Background()

	user := &store.User{
		ID:           "user-1",
		Email:        "Alice@Example.com",
		PasswordHash: "hash",
		Role:         deskauth.RoleMember,
		CreatedAt:    time.Now(),
	}

	if err := s.CreateUser(ctx, user); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}

	// Lookup is case-insensitive
	got, err := s.GetUserByEmail(ctx, "alice@EXAMPLE.com")
	if err != nil {
		t.Fatalf("GetUserByEmail() error = %v", err)
	}
	if got == nil {
		t.Fatal("GetUserByEmail() returned nil")
	}
	if got.ID != "user-1" {
		t.Errorf("ID = %q, want %q", got.ID, "user-1")
	}
	if got.Email != "alice@example.com" {
		t.Errorf("Email = %q, want normalized %q", got.Email, "alice@example.com")
	}

	got, _ = s.GetUserByID(ctx, "user-1")
	if got == nil || got.PasswordHash != "hash" {
		t.Errorf("GetUserByID() = %+v", got)
	}

	// Duplicate email with different case
	dup := &store.User{ID: "user-2", Email: "ALICE@example.com"}
	if err := s.CreateUser(ctx, dup); !errors.Is(err, deskauth.ErrAlreadyExists) {
		t.Errorf("CreateUser() duplicate error = %v, want %v", err, deskauth.ErrAlreadyExists)
	}

	// Missing
	got, err = s.GetUserByEmail(ctx, "nobody@example.com")
	if err != nil || got != nil {
		t.Errorf("GetUserByEmail() missing = %v, %v; want nil, nil", got, err)
	}
	got, err = s.GetUserByID(ctx, "missing")
	if err != nil || got != nil {
		t.Errorf("GetUserByID() missing = %v, %v; want nil, nil", got, err)
	}
}

func TestStore_ReturnsCopies(t *testing.T) {
	s := New()
	defer s.Close()
	ctx := context.Background()

	_ = s.CreateUser(ctx, &store.User{ID: "u1", Email: "a@x.com", Role: deskauth.RoleMember})

	got, _ := s.GetUserByID(ctx, "u1")
	got.Role = deskauth.RoleAdmin

	again, _ := s.GetUserByID(ctx, "u1")
	if again.Role != deskauth.RoleMember {
		t.Errorf("Role = %q, mutation of returned user leaked into store", again.Role)
	}
}

func TestStore_SetUserRole(t *testing.T) {
	s := New()
	defer s.Close()
	ctx := context.Background()

	_ = s.CreateUser(ctx, &store.User{ID: "u1", Email: "a@x.com", Role: deskauth.RoleMember})

	if err := s.SetUserRole(ctx, "u1", deskauth.RoleAdmin); err != nil {
		t.Fatalf("SetUserRole() error = %v", err)
	}
	got, _ := s.GetUserByID(ctx, "u1")
	if got.Role != deskauth.RoleAdmin {
		t.Errorf("Role = %q, want %q", got.Role, deskauth.RoleAdmin)
	}

	if err := s.SetUserRole(ctx, "missing", deskauth.RoleAdmin); !errors.Is(err, deskauth.ErrNotFound) {
		t.Errorf("SetUserRole() missing error = %v, want %v", err, deskauth.ErrNotFound)
	}
}

func TestStore_ConcurrentCreateSameEmail(t *testing.T) {
	s := New()
	defer s.Close()
	ctx := context.Background()

	const workers = 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	successes, conflicts := 0, 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := s.CreateUser(ctx, &store.User{
				ID:    fmt.Sprintf("user-%d", i),
				Email: "race@example.com",
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, deskauth.ErrAlreadyExists):
				conflicts++
			default:
				t.Errorf("CreateUser() unexpected error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	if successes != 1 {
		t.Errorf("successes = %d, want 1", successes)
	}
	if conflicts != workers-1 {
		t.Errorf("conflicts = %d, want %d", conflicts, workers-1)
	}
}

func TestStore_Token(t *testing.T) {
	s := New()
	defer s.Close()
	ctx := context.Background()
	now := time.Now()

	token := &store.Token{
		Value:     "raw",
		Hash:      "hash-1",
		UserID:    "user-1",
		Scope:     store.ScopeSession,
		IssuedAt:  now,
		ExpiresAt: now.Add(time.Hour),
	}

	if err := s.SaveToken(ctx, token); err != nil {
		t.Fatalf("SaveToken() error = %v", err)
	}

	got, err := s.GetToken(ctx, "hash-1")
	if err != nil {
		t.Fatalf("GetToken() error = %v", err)
	}
	if got == nil {
		t.Fatal("GetToken() returned nil")
	}
	if got.UserID != "user-1" {
		t.Errorf("UserID = %q, want %q", got.UserID, "user-1")
	}
	if got.Value != "" {
		t.Errorf("Value = %q, raw token should not be stored", got.Value)
	}

	if err := s.DeleteToken(ctx, "hash-1"); err != nil {
		t.Fatalf("DeleteToken() error = %v", err)
	}
	got, _ = s.GetToken(ctx, "hash-1")
	if got != nil {
		t.Error("GetToken() after delete should return nil")
	}
}

func TestStore_ConsumeToken(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	newStore := func() *Store {
		s := New()
		_ = s.SaveToken(ctx, &store.Token{
			Hash:      "exchange",
			UserID:    "user-1",
			Scope:     store.ScopeExchange,
			IssuedAt:  now,
			ExpiresAt: now.Add(time.Minute),
		})
		_ = s.SaveToken(ctx, &store.Token{
			Hash:      "session",
			UserID:    "user-1",
			Scope:     store.ScopeSession,
			IssuedAt:  now,
			ExpiresAt: now.Add(time.Hour),
		})
		return s
	}

	t.Run("single use", func(t *testing.T) {
		s := newStore()
		got, err := s.ConsumeToken(ctx, "exchange", now)
		if err != nil {
			t.Fatalf("ConsumeToken() error = %v", err)
		}
		if got.ConsumedAt == nil {
			t.Error("ConsumedAt should be set")
		}

		_, err = s.ConsumeToken(ctx, "exchange", now)
		if !errors.Is(err, deskauth.ErrTokenConsumed) {
			t.Errorf("second ConsumeToken() error = %v, want %v", err, deskauth.ErrTokenConsumed)
		}
	})

	t.Run("expired", func(t *testing.T) {
		s := newStore()
		_, err := s.ConsumeToken(ctx, "exchange", now.Add(2*time.Minute))
		if !errors.Is(err, deskauth.ErrTokenExpired) {
			t.Errorf("ConsumeToken() error = %v, want %v", err, deskauth.ErrTokenExpired)
		}
	})

	t.Run("consumed then expired", func(t *testing.T) {
		s := newStore()
		if _, err := s.ConsumeToken(ctx, "exchange", now); err != nil {
			t.Fatalf("ConsumeToken() error = %v", err)
		}
		_, err := s.ConsumeToken(ctx, "exchange", now.Add(2*time.Minute))
		if !errors.Is(err, deskauth.ErrTokenExpired) {
			t.Errorf("ConsumeToken() error = %v, want %v", err, deskauth.ErrTokenExpired)
		}
	})

	t.Run("unknown", func(t *testing.T) {
		s := newStore()
		_, err := s.ConsumeToken(ctx, "missing", now)
		if !errors.Is(err, deskauth.ErrTokenInvalid) {
			t.Errorf("ConsumeToken() error = %v, want %v", err, deskauth.ErrTokenInvalid)
		}
	})

	t.Run("session scope cannot be consumed", func(t *testing.T) {
		s := newStore()
		_, err := s.ConsumeToken(ctx, "session", now)
		if !errors.Is(err, deskauth.ErrTokenInvalid) {
			t.Errorf("ConsumeToken() error = %v, want %v", err, deskauth.ErrTokenInvalid)
		}
	})
}

func TestStore_ConcurrentConsume(t *testing.T) {
	s := New()
	defer s.Close()
	ctx := context.Background()
	now := time.Now()

	_ = s.SaveToken(ctx, &store.Token{
		Hash:      "exchange",
		UserID:    "user-1",
		Scope:     store.ScopeExchange,
		ExpiresAt: now.Add(time.Minute),
	})

	const workers = 32
	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.ConsumeToken(ctx, "exchange", now)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	successes := 0
	for err := range results {
		switch {
		case err == nil:
			successes++
		case !errors.Is(err, deskauth.ErrTokenConsumed):
			t.Errorf("ConsumeToken() unexpected error = %v", err)
		}
	}
	if successes != 1 {
		t.Errorf("successes = %d, want 1", successes)
	}
}

func TestStore_DeleteExpiredTokens(t *testing.T) {
	s := New()
	defer s.Close()
	ctx := context.Background()
	now := time.Now()

	_ = s.SaveToken(ctx, &store.Token{Hash: "old", ExpiresAt: now.Add(-time.Hour)})
	_ = s.SaveToken(ctx, &store.Token{Hash: "recent", ExpiresAt: now.Add(-time.Second)})
	_ = s.SaveToken(ctx, &store.Token{Hash: "live", ExpiresAt: now.Add(time.Hour)})

	count, err := s.DeleteExpiredTokens(ctx, now.Add(-time.Minute))
	if err != nil {
		t.Fatalf("DeleteExpiredTokens() error = %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}

	if got, _ := s.GetToken(ctx, "recent"); got == nil {
		t.Error("token inside retention window should be kept")
	}
	if got, _ := s.GetToken(ctx, "live"); got == nil {
		t.Error("live token should be kept")
	}
}

var _ store.Store = (*Store)(nil)
