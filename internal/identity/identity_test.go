package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"

	"github.com/echomood/echomood/internal/auth"
	"github.com/echomood/echomood/internal/db"
	"github.com/echomood/echomood/internal/spotify"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestService(store db.Store) *Service {
	return New(store,
		WithBcryptCost(bcrypt.MinCost),
		WithClock(func() time.Time { return testNow }),
	)
}

func testToken(access string) *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  access,
		RefreshToken: "refresh-" + access,
		Expiry:       testNow.Add(time.Hour),
	}
}

func signupLocal(t *testing.T, svc *Service, email string) *db.User {
	t.Helper()
	user, err := svc.SignupLocal(context.Background(), Signup{
		FirstName: "Ada",
		LastName:  "Lovelace",
		Email:     email,
		Password:  "correct horse",
	})
	if err != nil {
		t.Fatalf("SignupLocal() error = %v", err)
	}
	return user
}

func TestSplitName(t *testing.T) {
	tests := []struct {
		in, first, last string
	}{
		{"Ada Lovelace", "Ada", "Lovelace"},
		{"Cher", "Cher", ""},
		{"  Grace  Brewster Hopper ", "Grace", "Brewster Hopper"},
		{"", "", ""},
	}
	for _, tt := range tests {
		first, last := splitName(tt.in)
		if first != tt.first || last != tt.last {
			t.Errorf("splitName(%q) = %q, %q; want %q, %q", tt.in, first, last, tt.first, tt.last)
		}
	}
}

func TestResolve_CreatesIdentity(t *testing.T) {
	store := db.NewMemory()
	svc := newTestService(store)

	res, err := svc.Resolve(context.Background(),
		spotify.Profile{ID: "sp123", Email: "Ada@X.com", DisplayName: "Ada Lovelace"},
		testToken("a1"))
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if res.Action != ActionCreated {
		t.Errorf("Action = %s, want %s", res.Action, ActionCreated)
	}

	user, err := store.Users().Get(context.Background(), "sp123")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if user.Email != "ada@x.com" {
		t.Errorf("Email = %q, want ada@x.com", user.Email)
	}
	if user.FirstName != "Ada" || user.LastName != "Lovelace" {
		t.Errorf("name = %q %q, want Ada Lovelace", user.FirstName, user.LastName)
	}
	if user.RegistrationMethod != db.RegistrationSpotify {
		t.Errorf("RegistrationMethod = %s, want spotify", user.RegistrationMethod)
	}
	if user.SpotifyID == nil || *user.SpotifyID != "sp123" {
		t.Errorf("SpotifyID = %v, want sp123", user.SpotifyID)
	}
	if user.AccessToken != "a1" || user.RefreshToken != "refresh-a1" {
		t.Errorf("tokens = %q/%q", user.AccessToken, user.RefreshToken)
	}
}

func TestResolve_UpdatesKnownIdentity(t *testing.T) {
	store := db.NewMemory()
	svc := newTestService(store)
	ctx := context.Background()
	profile := spotify.Profile{ID: "sp123", Email: "ada@x.com"}

	if _, err := svc.Resolve(ctx, profile, testToken("a1")); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	// Provider omitted the refresh token and the lifetime.
	res, err := svc.Resolve(ctx, profile, &oauth2.Token{AccessToken: "a2"})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if res.Action != ActionUpdated {
		t.Errorf("Action = %s, want %s", res.Action, ActionUpdated)
	}

	user, _ := store.Users().Get(ctx, "sp123")
	if user.AccessToken != "a2" {
		t.Errorf("AccessToken = %q, want a2", user.AccessToken)
	}
	if user.RefreshToken != "refresh-a1" {
		t.Errorf("RefreshToken = %q, want refresh-a1", user.RefreshToken)
	}
	if want := testNow.Add(auth.DefaultTokenLifetime); !user.TokenExpiry.Equal(want) {
		t.Errorf("TokenExpiry = %v, want %v", user.TokenExpiry, want)
	}
}

func TestResolve_MergesLocalIdentity(t *testing.T) {
	store := db.NewMemory()
	svc := newTestService(store)
	ctx := context.Background()

	local := signupLocal(t, svc, "a@x.com")
	friend := signupLocal(t, svc, "b@x.com")

	if err := store.Tracks().Upsert(ctx, &db.Track{ID: "t1", UserID: local.ID, TimeRange: db.ShortTerm, Rank: 1}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if err := store.Friends().Create(ctx, &db.FriendEdge{RequesterID: friend.ID, TargetID: local.ID, Status: db.FriendAccepted}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := store.Sessions().Create(ctx, &db.Session{ID: "sess", UserID: local.ID, ExpiresAt: time.Now().Add(time.Hour)}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	profile := spotify.Profile{ID: "sp123", Email: "a@x.com", DisplayName: "ada"}
	for i, want := range []Action{ActionMerged, ActionUpdated} {
		res, err := svc.Resolve(ctx, profile, testToken("a1"))
		if err != nil {
			t.Fatalf("Resolve() #%d error = %v", i+1, err)
		}
		if res.Action != want {
			t.Errorf("Resolve() #%d Action = %s, want %s", i+1, res.Action, want)
		}
		if res.User.ID != "sp123" {
			t.Errorf("Resolve() #%d id = %s, want sp123", i+1, res.User.ID)
		}

		if _, err := store.Users().Get(ctx, local.ID); !errors.Is(err, db.ErrNotFound) {
			t.Errorf("local identity still present: err = %v", err)
		}
		merged, err := store.Users().Get(ctx, "sp123")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if merged.Email != "a@x.com" {
			t.Errorf("Email = %q, want a@x.com", merged.Email)
		}
		if !merged.HasPassword() {
			t.Error("merged identity lost its password")
		}
		if merged.DisplayName != "Ada Lovelace" {
			t.Errorf("DisplayName = %q, want Ada Lovelace", merged.DisplayName)
		}

		if _, err := store.Tracks().Get(ctx, db.TrackKey{ID: "t1", UserID: "sp123", TimeRange: db.ShortTerm}); err != nil {
			t.Errorf("track not reassigned: %v", err)
		}
		edge, err := store.Friends().Between(ctx, friend.ID, "sp123")
		if err != nil {
			t.Errorf("friend edge not reassigned: %v", err)
		} else if edge.Status != db.FriendAccepted {
			t.Errorf("edge status = %s, want accepted", edge.Status)
		}
		sess, err := store.Sessions().Get(ctx, "sess")
		if err != nil || sess.UserID != "sp123" {
			t.Errorf("session = %+v, %v; want owner sp123", sess, err)
		}
	}

	byEmail, err := store.Users().GetByEmail(ctx, "a@x.com")
	if err != nil || byEmail.ID != "sp123" {
		t.Errorf("GetByEmail() = %+v, %v; want sp123", byEmail, err)
	}
}

// failingStore fails friend reassignment inside transactions.
type failingStore struct {
	db.Store
}

func (s failingStore) WithTx(ctx context.Context, fn func(tx db.Store) error) error {
	return s.Store.WithTx(ctx, func(tx db.Store) error {
		return fn(failingStore{tx})
	})
}

func (s failingStore) Friends() db.FriendStore {
	return failingFriends{s.Store.Friends()}
}

type failingFriends struct {
	db.FriendStore
}

func (failingFriends) ReassignUser(context.Context, string, string) error {
	return errors.New("connection reset")
}

func TestResolve_MergeRollsBack(t *testing.T) {
	store := db.NewMemory()
	ctx := context.Background()
	local := signupLocal(t, newTestService(store), "a@x.com")
	if err := store.Tracks().Upsert(ctx, &db.Track{ID: "t1", UserID: local.ID, TimeRange: db.ShortTerm, Rank: 1}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	svc := newTestService(failingStore{store})
	_, err := svc.Resolve(ctx, spotify.Profile{ID: "sp123", Email: "a@x.com"}, testToken("a1"))
	if err == nil {
		t.Fatal("Resolve() error = nil, want merge failure")
	}

	if _, err := store.Users().Get(ctx, local.ID); err != nil {
		t.Errorf("local identity missing after rollback: %v", err)
	}
	if _, err := store.Users().Get(ctx, "sp123"); !errors.Is(err, db.ErrNotFound) {
		t.Errorf("Get(sp123) error = %v, want ErrNotFound", err)
	}
	if _, err := store.Tracks().Get(ctx, db.TrackKey{ID: "t1", UserID: local.ID, TimeRange: db.ShortTerm}); err != nil {
		t.Errorf("track moved despite rollback: %v", err)
	}
}

func TestResolve_AttachesToNonLocalIdentity(t *testing.T) {
	store := db.NewMemory()
	svc := newTestService(store)
	ctx := context.Background()

	if _, err := svc.Resolve(ctx, spotify.Profile{ID: "sp1", Email: "a@x.com"}, testToken("a1")); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	res, err := svc.Resolve(ctx, spotify.Profile{ID: "sp2", Email: "a@x.com"}, testToken("a2"))
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if res.Action != ActionAttached {
		t.Errorf("Action = %s, want %s", res.Action, ActionAttached)
	}
	if res.User.ID != "sp1" {
		t.Errorf("id = %s, want sp1", res.User.ID)
	}
	user, _ := store.Users().Get(ctx, "sp1")
	if user.AccessToken != "a2" {
		t.Errorf("AccessToken = %q, want a2", user.AccessToken)
	}
	if _, err := store.Users().Get(ctx, "sp2"); !errors.Is(err, db.ErrNotFound) {
		t.Errorf("Get(sp2) error = %v, want ErrNotFound", err)
	}

	again, err := svc.Resolve(ctx, spotify.Profile{ID: "sp2"}, testToken("a3"))
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if again.Action != ActionUpdated || again.User.ID != "sp1" {
		t.Errorf("Resolve(sp2) = %s %v, want updated sp1", again.Action, again.User)
	}
}

func TestResolve_PendingWithoutEmail(t *testing.T) {
	store := db.NewMemory()
	svc := newTestService(store)
	ctx := context.Background()

	res, err := svc.Resolve(ctx, spotify.Profile{ID: "sp123", DisplayName: "Ada"}, testToken("a1"))
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if res.Action != ActionPending || res.User != nil || res.Pending == nil {
		t.Fatalf("Resolve() = %+v, want pending", res)
	}
	if _, err := store.Users().Get(ctx, "sp123"); !errors.Is(err, db.ErrNotFound) {
		t.Errorf("identity created before completion: err = %v", err)
	}

	stored, err := store.Pending().Get(ctx, res.Pending.ID)
	if err != nil {
		t.Fatalf("Pending().Get() error = %v", err)
	}
	if stored.SpotifyID != "sp123" || stored.AccessToken != "a1" || stored.RefreshToken != "refresh-a1" {
		t.Errorf("stored pending = %+v", stored)
	}

	user, err := svc.CompletePending(ctx, res.Pending.ID, "ada@x.com")
	if err != nil {
		t.Fatalf("CompletePending() error = %v", err)
	}
	if user.ID != "sp123" || user.Email != "ada@x.com" || user.FirstName != "Ada" {
		t.Errorf("user = %+v", user)
	}
	if user.AccessToken != "a1" || user.RefreshToken != "refresh-a1" {
		t.Errorf("tokens = %q/%q, want a1/refresh-a1", user.AccessToken, user.RefreshToken)
	}

	if _, err := store.Pending().Get(ctx, res.Pending.ID); !errors.Is(err, db.ErrNotFound) {
		t.Errorf("pending row kept after completion: err = %v", err)
	}
	if _, err := svc.CompletePending(ctx, res.Pending.ID, "ada@x.com"); !errors.Is(err, ErrPendingExpired) {
		t.Errorf("second CompletePending() error = %v, want ErrPendingExpired", err)
	}
}

func TestResolve_MissingProfile(t *testing.T) {
	svc := newTestService(db.NewMemory())
	if _, err := svc.Resolve(context.Background(), spotify.Profile{}, testToken("a1")); !errors.Is(err, ErrNoProfile) {
		t.Errorf("Resolve() error = %v, want ErrNoProfile", err)
	}
}

func TestCompletePending_Errors(t *testing.T) {
	store := db.NewMemory()
	svc := newTestService(store)
	ctx := context.Background()
	signupLocal(t, svc, "taken@x.com")

	res, err := svc.Resolve(ctx, spotify.Profile{ID: "sp123"}, testToken("a1"))
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	tests := []struct {
		name      string
		pendingID string
		email     string
		want      error
	}{
		{"taken", res.Pending.ID, "Taken@x.com", ErrEmailTaken},
		{"invalid", res.Pending.ID, "not-an-email", ErrInvalidInput},
		{"empty", res.Pending.ID, "", ErrInvalidInput},
		{"unknown id", "missing", "new@x.com", ErrPendingExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CompletePending(ctx, tt.pendingID, tt.email)
			if !errors.Is(err, tt.want) {
				t.Errorf("CompletePending() error = %v, want %v", err, tt.want)
			}
		})
	}
	if _, err := store.Users().Get(ctx, "sp123"); !errors.Is(err, db.ErrNotFound) {
		t.Errorf("Get(sp123) error = %v, want ErrNotFound", err)
	}
	if _, err := store.Pending().Get(ctx, res.Pending.ID); err != nil {
		t.Errorf("pending row consumed by a failed completion: %v", err)
	}
}

func TestCompletePending_Expired(t *testing.T) {
	store := db.NewMemory()
	ctx := context.Background()

	res, err := newTestService(store).Resolve(ctx, spotify.Profile{ID: "sp123"}, testToken("a1"))
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	later := New(store, WithClock(func() time.Time { return testNow.Add(auth.PendingTTL + time.Minute) }))
	if _, err := later.CompletePending(ctx, res.Pending.ID, "ada@x.com"); !errors.Is(err, ErrPendingExpired) {
		t.Errorf("CompletePending() error = %v, want ErrPendingExpired", err)
	}
	if _, err := store.Users().Get(ctx, "sp123"); !errors.Is(err, db.ErrNotFound) {
		t.Errorf("identity created from an expired signup: err = %v", err)
	}
}

func TestEmailUniqueness(t *testing.T) {
	store := db.NewMemory()
	svc := newTestService(store)
	ctx := context.Background()

	signupLocal(t, svc, "a@x.com")
	if _, err := svc.SignupLocal(ctx, Signup{FirstName: "A", Email: " A@X.COM ", Password: "long enough"}); !errors.Is(err, ErrEmailTaken) {
		t.Errorf("SignupLocal() error = %v, want ErrEmailTaken", err)
	}
	if _, err := svc.Resolve(ctx, spotify.Profile{ID: "sp1", Email: "a@x.com"}, testToken("a1")); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if _, err := svc.Resolve(ctx, spotify.Profile{ID: "sp2", Email: "A@x.com"}, testToken("a2")); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	users, err := store.Users().Search(ctx, "a@x.com", "", 0)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(users) != 1 {
		t.Errorf("identities with email a@x.com = %d, want 1", len(users))
	}
}

func TestSignupLocal(t *testing.T) {
	svc := newTestService(db.NewMemory())
	user := signupLocal(t, svc, "a@x.com")

	if !user.IsLocal() {
		t.Errorf("id %q lacks local prefix", user.ID)
	}
	if user.DisplayName != "Ada Lovelace" {
		t.Errorf("DisplayName = %q, want Ada Lovelace", user.DisplayName)
	}
	if user.RegistrationMethod != db.RegistrationLocal {
		t.Errorf("RegistrationMethod = %s, want local", user.RegistrationMethod)
	}

	invalid := []Signup{
		{FirstName: "", Email: "b@x.com", Password: "long enough"},
		{FirstName: "B", Email: "b", Password: "long enough"},
		{FirstName: "B", Email: "b@x.com", Password: "short"},
	}
	for _, in := range invalid {
		if _, err := svc.SignupLocal(context.Background(), in); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("SignupLocal(%+v) error = %v, want ErrInvalidInput", in, err)
		}
	}
}

func TestLogin(t *testing.T) {
	store := db.NewMemory()
	svc := newTestService(store)
	ctx := context.Background()
	created := signupLocal(t, svc, "a@x.com")

	user, err := svc.Login(ctx, "A@x.com", "correct horse")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if user.ID != created.ID {
		t.Errorf("id = %s, want %s", user.ID, created.ID)
	}

	for _, tc := range []struct{ email, password string }{
		{"a@x.com", "wrong password"},
		{"nobody@x.com", "correct horse"},
	} {
		if _, err := svc.Login(ctx, tc.email, tc.password); !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("Login(%q) error = %v, want ErrInvalidCredentials", tc.email, err)
		}
	}

	// Spotify-only identities have no password.
	if _, err := svc.Resolve(ctx, spotify.Profile{ID: "sp1", Email: "s@x.com"}, testToken("a1")); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if _, err := svc.Login(ctx, "s@x.com", ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("Login() error = %v, want ErrInvalidCredentials", err)
	}
}

func TestLink_RefusesSecondSpotifyAccount(t *testing.T) {
	store := db.NewMemory()
	svc := newTestService(store)
	ctx := context.Background()

	if _, err := svc.Resolve(ctx, spotify.Profile{ID: "sp1", Email: "a@x.com"}, testToken("a1")); err != nil {
		t.Fatalf("Resolve(sp1) error = %v", err)
	}

	if _, err := svc.Link(ctx, "sp1", spotify.Profile{ID: "sp2", Email: "b@x.com"}, testToken("b2")); !errors.Is(err, ErrAlreadyLinked) {
		t.Fatalf("Link(sp2) error = %v, want ErrAlreadyLinked", err)
	}
	user, _ := store.Users().Get(ctx, "sp1")
	if user.AccessToken != "a1" || user.SpotifyID == nil || *user.SpotifyID != "sp1" {
		t.Errorf("sp1 changed by refused link: access=%q spotify_id=%v", user.AccessToken, user.SpotifyID)
	}

	relinked, err := svc.Link(ctx, "sp1", spotify.Profile{ID: "sp1"}, testToken("a3"))
	if err != nil {
		t.Fatalf("Link(sp1) error = %v", err)
	}
	if relinked.AccessToken != "a3" {
		t.Errorf("AccessToken = %q, want a3", relinked.AccessToken)
	}

	res, err := svc.Resolve(ctx, spotify.Profile{ID: "sp2", Email: "b@x.com"}, testToken("b2"))
	if err != nil {
		t.Fatalf("Resolve(sp2) error = %v", err)
	}
	if res.Action != ActionCreated || res.User.ID != "sp2" {
		t.Errorf("Resolve(sp2) = %s %s, want created sp2", res.Action, res.User.ID)
	}
}

func TestLinkAndUnlink(t *testing.T) {
	store := db.NewMemory()
	svc := newTestService(store)
	ctx := context.Background()

	local := signupLocal(t, svc, "a@x.com")
	if _, err := svc.Resolve(ctx, spotify.Profile{ID: "taken", Email: "other@x.com"}, testToken("t")); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	if _, err := svc.Link(ctx, local.ID, spotify.Profile{ID: "taken"}, testToken("a1")); !errors.Is(err, ErrAlreadyLinked) {
		t.Errorf("Link() error = %v, want ErrAlreadyLinked", err)
	}

	linked, err := svc.Link(ctx, local.ID, spotify.Profile{ID: "sp123"}, testToken("a1"))
	if err != nil {
		t.Fatalf("Link() error = %v", err)
	}
	if linked.ID != "sp123" || !linked.HasSpotify() {
		t.Errorf("linked = %+v", linked)
	}

	unlinked, err := svc.Unlink(ctx, "sp123")
	if err != nil {
		t.Fatalf("Unlink() error = %v", err)
	}
	if unlinked.HasSpotify() || unlinked.SpotifyID != nil {
		t.Errorf("unlinked still has spotify: %+v", unlinked)
	}
	if _, err := svc.Unlink(ctx, "sp123"); !errors.Is(err, ErrNotLinked) {
		t.Errorf("second Unlink() error = %v, want ErrNotLinked", err)
	}
	if _, err := svc.Unlink(ctx, "taken"); !errors.Is(err, ErrNoPassword) {
		t.Errorf("Unlink() without password error = %v, want ErrNoPassword", err)
	}

	if err := svc.SetPassword(ctx, "taken", "brand new password"); err != nil {
		t.Fatalf("SetPassword() error = %v", err)
	}
	if _, err := svc.Login(ctx, "other@x.com", "brand new password"); err != nil {
		t.Errorf("Login() after SetPassword error = %v", err)
	}
	if _, err := svc.Unlink(ctx, "taken"); err != nil {
		t.Errorf("Unlink() after SetPassword error = %v", err)
	}
}
