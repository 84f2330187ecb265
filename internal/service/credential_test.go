package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/credvault/credvault/internal/auth"
	"github.com/credvault/credvault/internal/metrics"
	"github.com/credvault/credvault/internal/model"
	"github.com/credvault/credvault/internal/repository"
	"github.com/credvault/credvault/internal/storage"
)

// memStore mimics the users table: unique email and, optionally, unique username.
type memStore struct {
	mu              sync.Mutex
	nextID          int64
	byEmail         map[string]*model.User
	uniqueUsernames bool
	err             error
	existsCalls     int32
}

func newMemStore() *memStore {
	return &memStore{byEmail: make(map[string]*model.User), uniqueUsernames: true}
}

func (m *memStore) InsertUser(_ context.Context, u model.NewUser) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	if _, ok := m.byEmail[u.Email]; ok {
		return 0, repository.ErrDuplicateUser
	}
	if m.uniqueUsernames {
		for _, existing := range m.byEmail {
			if existing.Username == u.Username {
				return 0, repository.ErrDuplicateUser
			}
		}
	}
	m.nextID++
	m.byEmail[u.Email] = &model.User{
		ID:           m.nextID,
		Username:     u.Username,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		ProfileImage: u.ProfileImage,
	}
	return m.nextID, nil
}

func (m *memStore) FindByEmail(_ context.Context, email string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	u, ok := m.byEmail[email]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memStore) ExistsByEmail(_ context.Context, email string) (bool, error) {
	atomic.AddInt32(&m.existsCalls, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	_, ok := m.byEmail[email]
	return ok, nil
}

func (m *memStore) UpdatePassword(_ context.Context, email, hash string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	u, ok := m.byEmail[email]
	if !ok {
		return 0, nil
	}
	u.PasswordHash = hash
	return 1, nil
}

type memCache struct {
	mu     sync.Mutex
	known  map[string]bool
	getErr error
}

func newMemCache() *memCache {
	return &memCache{known: make(map[string]bool)}
}

func (c *memCache) EmailKnown(_ context.Context, email string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return false, c.getErr
	}
	return c.known[email], nil
}

func (c *memCache) MarkEmail(_ context.Context, email string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.known[email] = true
	return nil
}

type memImages struct {
	saved   []string
	removed []string
}

func (i *memImages) Save(_ context.Context, filename string, r io.Reader, _ int64) (string, error) {
	if !strings.HasSuffix(filename, ".png") {
		return "", storage.ErrUnsupportedImage
	}
	if _, err := io.Copy(io.Discard, r); err != nil {
		return "", err
	}
	ref := fmt.Sprintf("/uploads/%d.png", len(i.saved)+1)
	i.saved = append(i.saved, ref)
	return ref, nil
}

func (i *memImages) Remove(_ context.Context, ref string) error {
	i.removed = append(i.removed, ref)
	return nil
}

func newTestService(store UserStore, opts Options) *CredentialService {
	if opts.Hasher == nil {
		opts.Hasher = auth.NewBcryptHasher(bcrypt.MinCost)
	}
	return NewCredentialService(store, opts)
}

func signupInput(username, email, password string) SignupInput {
	return SignupInput{Username: username, Email: email, Password: password, ConfirmPassword: password}
}

func TestSignupLoginResetFlow(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	svc := newTestService(store, Options{RequireConfirmation: true})

	res, err := svc.Signup(ctx, signupInput("alice", "a@x.com", "p1"))
	if err != nil {
		t.Fatalf("signup: %v", err)
	}
	if res.UserID <= 0 {
		t.Fatalf("expected positive id, got %d", res.UserID)
	}
	if stored := store.byEmail["a@x.com"].PasswordHash; stored == "p1" || stored == "" {
		t.Fatalf("password stored in plaintext or missing: %q", stored)
	}

	user, err := svc.Login(ctx, "a@x.com", "p1")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if user.ID != res.UserID || user.PasswordHash != "" {
		t.Fatalf("unexpected login user: %+v", user)
	}

	if _, err := svc.Login(ctx, "a@x.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}

	if err := svc.ResetPassword(ctx, ResetInput{Email: "a@x.com", NewPassword: "p2", ConfirmNewPassword: "p2"}); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if _, err := svc.Login(ctx, "a@x.com", "p1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password still accepted: %v", err)
	}
	if _, err := svc.Login(ctx, "a@x.com", "p2"); err != nil {
		t.Fatalf("new password rejected: %v", err)
	}

	exists, err := svc.CheckEmail(ctx, "a@x.com")
	if err != nil || !exists {
		t.Fatalf("expected email to exist, got %v %v", exists, err)
	}
	exists, err = svc.CheckEmail(ctx, "b@x.com")
	if err != nil || exists {
		t.Fatalf("expected email to be free, got %v %v", exists, err)
	}
}

func TestSignupValidation(t *testing.T) {
	svc := newTestService(newMemStore(), Options{RequireConfirmation: true})

	tests := []struct {
		name    string
		input   SignupInput
		wantErr error
	}{
		{"missing_username", signupInput("", "a@x.com", "p"), ErrMissingFields},
		{"blank_username", signupInput("   ", "a@x.com", "p"), ErrMissingFields},
		{"missing_email", signupInput("alice", "", "p"), ErrMissingFields},
		{"missing_password", signupInput("alice", "a@x.com", ""), ErrMissingFields},
		{"missing_confirmation", SignupInput{Username: "alice", Email: "a@x.com", Password: "p"}, ErrMissingFields},
		{"mismatch", SignupInput{Username: "alice", Email: "a@x.com", Password: "p", ConfirmPassword: "q"}, ErrPasswordMismatch},
		{"long_username", signupInput(strings.Repeat("u", model.MaxUsernameLength+1), "a@x.com", "p"), ErrFieldTooLong},
		{"long_email", signupInput("alice", strings.Repeat("e", model.MaxEmailLength-5)+"@x.com", "p"), ErrFieldTooLong},
		{"long_password", signupInput("alice", "a@x.com", strings.Repeat("p", 73)), ErrPasswordTooLong},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := svc.Signup(context.Background(), test.input)
			if !errors.Is(err, test.wantErr) {
				t.Fatalf("expected %v, got %v", test.wantErr, err)
			}
			if !IsValidation(err) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestSignupConfirmationOptional(t *testing.T) {
	svc := newTestService(newMemStore(), Options{RequireConfirmation: false})

	if _, err := svc.Signup(context.Background(), SignupInput{Username: "alice", Email: "a@x.com", Password: "p"}); err != nil {
		t.Fatalf("expected signup without confirmation to succeed, got %v", err)
	}
	_, err := svc.Signup(context.Background(), SignupInput{Username: "bob", Email: "b@x.com", Password: "p", ConfirmPassword: "q"})
	if !errors.Is(err, ErrPasswordMismatch) {
		t.Fatalf("expected mismatch when confirmation given, got %v", err)
	}
}

func TestSignupMultibyteUsernameWithinLimit(t *testing.T) {
	svc := newTestService(newMemStore(), Options{})

	name := strings.Repeat("é", model.MaxUsernameLength)
	if _, err := svc.Signup(context.Background(), signupInput(name, "a@x.com", "p")); err != nil {
		t.Fatalf("expected %d-character username to be accepted, got %v", model.MaxUsernameLength, err)
	}
}

func TestSignupConflicts(t *testing.T) {
	ctx := context.Background()
	rec := metrics.NewInMemory()
	svc := newTestService(newMemStore(), Options{Metrics: rec})

	if _, err := svc.Signup(ctx, signupInput("alice", "a@x.com", "p")); err != nil {
		t.Fatalf("signup: %v", err)
	}
	if _, err := svc.Signup(ctx, signupInput("bob", "a@x.com", "p")); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected email conflict, got %v", err)
	}
	if _, err := svc.Signup(ctx, signupInput("alice", "other@x.com", "p")); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected username conflict, got %v", err)
	}

	snap := rec.Snapshot()
	if snap.Signups[metrics.OutcomeSuccess] != 1 || snap.Signups[metrics.OutcomeConflict] != 2 {
		t.Fatalf("unexpected signup counters: %v", snap.Signups)
	}
}

func TestSignupSharedUsernameWhenNotUnique(t *testing.T) {
	store := newMemStore()
	store.uniqueUsernames = false
	svc := newTestService(store, Options{})

	if _, err := svc.Signup(context.Background(), signupInput("alice", "a@x.com", "p")); err != nil {
		t.Fatalf("signup: %v", err)
	}
	if _, err := svc.Signup(context.Background(), signupInput("alice", "b@x.com", "p")); err != nil {
		t.Fatalf("expected shared username to be allowed, got %v", err)
	}
}

func TestSignupConcurrentSameEmail(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, Options{})

	const workers = 8
	var wg sync.WaitGroup
	var wins, conflicts int32
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Signup(context.Background(), signupInput(fmt.Sprintf("user%d", i), "same@x.com", "p"))
			switch {
			case err == nil:
				atomic.AddInt32(&wins, 1)
			case errors.Is(err, ErrConflict):
				atomic.AddInt32(&conflicts, 1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if wins != 1 || conflicts != workers-1 {
		t.Fatalf("expected 1 win and %d conflicts, got %d and %d", workers-1, wins, conflicts)
	}
}

func TestSignupProfileImage(t *testing.T) {
	ctx := context.Background()
	images := &memImages{}
	svc := newTestService(newMemStore(), Options{Images: images})

	in := signupInput("alice", "a@x.com", "p")
	in.ProfileImage = &ImageUpload{Filename: "me.png", Size: 3, Content: bytes.NewReader([]byte("png"))}
	res, err := svc.Signup(ctx, in)
	if err != nil {
		t.Fatalf("signup: %v", err)
	}
	if res.ProfileImage == nil || *res.ProfileImage != "/uploads/1.png" {
		t.Fatalf("unexpected profile image: %v", res.ProfileImage)
	}

	bad := signupInput("bob", "b@x.com", "p")
	bad.ProfileImage = &ImageUpload{Filename: "me.exe", Size: 3, Content: bytes.NewReader([]byte("exe"))}
	if _, err := svc.Signup(ctx, bad); !errors.Is(err, ErrInvalidImage) {
		t.Fatalf("expected invalid image, got %v", err)
	}

	dup := signupInput("carol", "a@x.com", "p")
	dup.ProfileImage = &ImageUpload{Filename: "c.png", Size: 3, Content: bytes.NewReader([]byte("png"))}
	if _, err := svc.Signup(ctx, dup); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if len(images.removed) != 1 || images.removed[0] != "/uploads/2.png" {
		t.Fatalf("expected orphaned image to be removed, got %v", images.removed)
	}
}

func TestLoginUnknownEmail(t *testing.T) {
	rec := metrics.NewInMemory()
	svc := newTestService(newMemStore(), Options{Metrics: rec})

	_, err := svc.Login(context.Background(), "nobody@x.com", "p")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if rec.Snapshot().HashDurationCount == 0 {
		t.Fatal("expected a password comparison for unknown email")
	}
}

func TestLoginMissingFields(t *testing.T) {
	svc := newTestService(newMemStore(), Options{})

	if _, err := svc.Login(context.Background(), "", "p"); !errors.Is(err, ErrMissingFields) {
		t.Fatalf("expected missing fields, got %v", err)
	}
	if _, err := svc.Login(context.Background(), "a@x.com", ""); !errors.Is(err, ErrMissingFields) {
		t.Fatalf("expected missing fields, got %v", err)
	}
}

func TestLoginCorruptHash(t *testing.T) {
	store := newMemStore()
	store.byEmail["a@x.com"] = &model.User{ID: 1, Username: "alice", Email: "a@x.com", PasswordHash: "not-a-hash"}
	svc := newTestService(store, Options{})

	_, err := svc.Login(context.Background(), "a@x.com", "p")
	if err == nil || errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected internal error, got %v", err)
	}
}

func TestLoginEmailIsTrimmedNotFolded(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(newMemStore(), Options{})

	if _, err := svc.Signup(ctx, signupInput("alice", "  a@x.com ", "p")); err != nil {
		t.Fatalf("signup: %v", err)
	}
	if _, err := svc.Login(ctx, "a@x.com", "p"); err != nil {
		t.Fatalf("expected trimmed email to log in, got %v", err)
	}
	if _, err := svc.Login(ctx, "A@X.com", "p"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected case-sensitive match, got %v", err)
	}
}

func TestCheckEmailUsesCache(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	cache := newMemCache()
	rec := metrics.NewInMemory()
	svc := newTestService(store, Options{Cache: cache, Metrics: rec})

	if _, err := svc.Signup(ctx, signupInput("alice", "a@x.com", "p")); err != nil {
		t.Fatalf("signup: %v", err)
	}
	if !cache.known["a@x.com"] {
		t.Fatal("expected signup to mark the email in cache")
	}

	exists, err := svc.CheckEmail(ctx, "a@x.com")
	if err != nil || !exists {
		t.Fatalf("expected cached hit, got %v %v", exists, err)
	}
	if atomic.LoadInt32(&store.existsCalls) != 0 {
		t.Fatal("expected cache hit to skip the store")
	}

	exists, err = svc.CheckEmail(ctx, "b@x.com")
	if err != nil || exists {
		t.Fatalf("expected miss, got %v %v", exists, err)
	}
	if cache.known["b@x.com"] {
		t.Fatal("negative results must not be cached")
	}

	snap := rec.Snapshot()
	if snap.EmailCacheHits != 1 || snap.EmailCacheMisses != 1 {
		t.Fatalf("unexpected cache counters: hits=%d misses=%d", snap.EmailCacheHits, snap.EmailCacheMisses)
	}
}

func TestCheckEmailCacheFailureFallsBack(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	cache := newMemCache()
	svc := newTestService(store, Options{Cache: cache})

	if _, err := svc.Signup(ctx, signupInput("alice", "a@x.com", "p")); err != nil {
		t.Fatalf("signup: %v", err)
	}
	cache.getErr = errors.New("redis down")

	exists, err := svc.CheckEmail(ctx, "a@x.com")
	if err != nil || !exists {
		t.Fatalf("expected store fallback, got %v %v", exists, err)
	}
}

func TestCheckEmailMissing(t *testing.T) {
	svc := newTestService(newMemStore(), Options{})
	if _, err := svc.CheckEmail(context.Background(), " "); !errors.Is(err, ErrMissingFields) {
		t.Fatalf("expected missing fields, got %v", err)
	}
}

func TestResetPasswordErrors(t *testing.T) {
	svc := newTestService(newMemStore(), Options{RequireConfirmation: true})

	tests := []struct {
		name    string
		input   ResetInput
		wantErr error
	}{
		{"missing_email", ResetInput{NewPassword: "p", ConfirmNewPassword: "p"}, ErrMissingFields},
		{"missing_password", ResetInput{Email: "a@x.com"}, ErrMissingFields},
		{"missing_confirmation", ResetInput{Email: "a@x.com", NewPassword: "p"}, ErrMissingFields},
		{"mismatch", ResetInput{Email: "a@x.com", NewPassword: "p", ConfirmNewPassword: "q"}, ErrPasswordMismatch},
		{"unknown_email", ResetInput{Email: "a@x.com", NewPassword: "p", ConfirmNewPassword: "p"}, ErrEmailNotFound},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := svc.ResetPassword(context.Background(), test.input)
			if !errors.Is(err, test.wantErr) {
				t.Fatalf("expected %v, got %v", test.wantErr, err)
			}
		})
	}
}

func TestStoreErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		storeErr error
		wantErr  error
	}{
		{"unavailable", fmt.Errorf("%w: connection refused", repository.ErrUnavailable), ErrUnavailable},
		{"deadline", fmt.Errorf("find user: %w", context.DeadlineExceeded), ErrUnavailable},
		{"schema_missing", repository.ErrSchemaMissing, ErrSchemaMissing},
		{"database", fmt.Errorf("%w: boom", repository.ErrDatabase), repository.ErrDatabase},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			store := newMemStore()
			store.err = test.storeErr
			svc := newTestService(store, Options{})

			if _, err := svc.Signup(context.Background(), signupInput("alice", "a@x.com", "p")); !errors.Is(err, test.wantErr) {
				t.Fatalf("signup: expected %v, got %v", test.wantErr, err)
			}
			if _, err := svc.Login(context.Background(), "a@x.com", "p"); !errors.Is(err, test.wantErr) {
				t.Fatalf("login: expected %v, got %v", test.wantErr, err)
			}
			if _, err := svc.CheckEmail(context.Background(), "a@x.com"); !errors.Is(err, test.wantErr) {
				t.Fatalf("check: expected %v, got %v", test.wantErr, err)
			}
			err := svc.ResetPassword(context.Background(), ResetInput{Email: "a@x.com", NewPassword: "p", ConfirmNewPassword: "p"})
			if !errors.Is(err, test.wantErr) {
				t.Fatalf("reset: expected %v, got %v", test.wantErr, err)
			}
		})
	}
}

// deadlineStore wraps memStore and records how long each call was allowed.
type deadlineStore struct {
	*memStore
	mu      sync.Mutex
	budgets []time.Duration
}

func (s *deadlineStore) record(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deadline, ok := ctx.Deadline()
	if !ok {
		s.budgets = append(s.budgets, -1)
		return
	}
	s.budgets = append(s.budgets, time.Until(deadline))
}

func (s *deadlineStore) InsertUser(ctx context.Context, u model.NewUser) (int64, error) {
	s.record(ctx)
	return s.memStore.InsertUser(ctx, u)
}

func (s *deadlineStore) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	s.record(ctx)
	return s.memStore.FindByEmail(ctx, email)
}

func (s *deadlineStore) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	s.record(ctx)
	return s.memStore.ExistsByEmail(ctx, email)
}

func (s *deadlineStore) UpdatePassword(ctx context.Context, email, hash string) (int64, error) {
	s.record(ctx)
	return s.memStore.UpdatePassword(ctx, email, hash)
}

func TestStoreCallsAreBounded(t *testing.T) {
	ctx := context.Background()
	store := &deadlineStore{memStore: newMemStore()}
	svc := newTestService(store, Options{StoreTimeout: 2 * time.Second})

	if _, err := svc.Signup(ctx, signupInput("alice", "a@x.com", "p1")); err != nil {
		t.Fatalf("signup: %v", err)
	}
	if _, err := svc.Login(ctx, "a@x.com", "p1"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := svc.CheckEmail(ctx, "a@x.com"); err != nil {
		t.Fatalf("check: %v", err)
	}
	if err := svc.ResetPassword(ctx, ResetInput{Email: "a@x.com", NewPassword: "p2", ConfirmNewPassword: "p2"}); err != nil {
		t.Fatalf("reset: %v", err)
	}

	if len(store.budgets) != 4 {
		t.Fatalf("store calls = %d, want 4", len(store.budgets))
	}
	for i, budget := range store.budgets {
		if budget <= 0 || budget > 2*time.Second {
			t.Errorf("call %d: deadline budget %s, want within (0, 2s]", i, budget)
		}
	}
}

func TestDefaultStoreTimeout(t *testing.T) {
	store := &deadlineStore{memStore: newMemStore()}
	svc := newTestService(store, Options{})

	if _, err := svc.CheckEmail(context.Background(), "a@x.com"); err != nil {
		t.Fatalf("check: %v", err)
	}
	if budget := store.budgets[0]; budget <= 0 || budget > DefaultStoreTimeout {
		t.Errorf("deadline budget %s, want within (0, %s]", budget, DefaultStoreTimeout)
	}
}
