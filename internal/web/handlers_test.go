package web

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"

	"github.com/echomood/echomood/internal/auth"
	"github.com/echomood/echomood/internal/db"
	"github.com/echomood/echomood/internal/friends"
	"github.com/echomood/echomood/internal/identity"
	"github.com/echomood/echomood/internal/ingest"
	"github.com/echomood/echomood/internal/insights"
	"github.com/echomood/echomood/internal/spotify"
)

type fakeOAuth struct {
	err error
}

func (f *fakeOAuth) AuthURL(state string) string {
	return "https://accounts.example.com/authorize?state=" + state
}

func (f *fakeOAuth) Exchange(_ context.Context, code string) (*oauth2.Token, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &oauth2.Token{
		AccessToken:  "access-" + code,
		RefreshToken: "refresh-" + code,
		Expiry:       time.Now().Add(time.Hour),
	}, nil
}

type fakeIngester struct {
	calls []string
	err   error
}

func (f *fakeIngester) Ingest(_ context.Context, userID string) (*ingest.Result, error) {
	f.calls = append(f.calls, userID)
	if f.err != nil {
		return nil, f.err
	}
	return &ingest.Result{
		MoodCounts: map[string]int{"Happy": 2},
		Windows:    []ingest.WindowResult{{TimeRange: db.ShortTerm, Tracks: 2, Classified: 2}},
	}, nil
}

type testEnv struct {
	store    *db.Memory
	handler  http.Handler
	oauth    *fakeOAuth
	ingester *fakeIngester
	profile  *spotify.Profile
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		store:    db.NewMemory(),
		oauth:    &fakeOAuth{},
		ingester: &fakeIngester{},
		profile:  &spotify.Profile{ID: "sp1", Email: "dj@example.com", DisplayName: "DJ Test"},
	}

	logger := zerolog.Nop()
	server, err := NewServer(ServerConfig{
		Store: env.store,
		OAuth: env.oauth,
		Profiles: func(context.Context, string) (*spotify.Profile, error) {
			if env.profile == nil {
				return nil, errors.New("profile unavailable")
			}
			return env.profile, nil
		},
		Pending:  auth.NewPendingSigner([]byte("test-secret")),
		Identity: identity.New(env.store, identity.WithBcryptCost(bcrypt.MinCost)),
		Ingest:   env.ingester,
		Friends:  friends.New(env.store, logger),
		Insights: insights.New(env.store),
		Logger:   logger,
	})
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	env.handler = server.Handler()
	return env
}

// do sends a request carrying cookies and, for non-nil form, a form body.
func (e *testEnv) do(method, path string, form url.Values, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, path, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func cookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decoding %q: %v", rec.Body.String(), err)
	}
	return v
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[errorBody](t, rec).Error.Code
}

// signup creates a local account and returns its session cookie.
func (e *testEnv) signup(t *testing.T, first, email string) (*http.Cookie, userView) {
	t.Helper()
	rec := e.do(http.MethodPost, "/signup", url.Values{
		"first_name": {first},
		"last_name":  {"Tester"},
		"email":      {email},
		"password":   {"password123"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("POST /signup = %d %s", rec.Code, rec.Body.String())
	}
	c := cookie(rec, sessionCookieName)
	if c == nil {
		t.Fatal("no session cookie after signup")
	}
	return c, decode[userView](t, rec)
}

// spotifyLogin runs the OAuth round trip and returns the callback response.
func (e *testEnv) spotifyLogin(t *testing.T, start string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	rec := e.do(http.MethodGet, start, nil, cookies...)
	if rec.Code != http.StatusTemporaryRedirect {
		t.Fatalf("GET %s = %d %s", start, rec.Code, rec.Body.String())
	}
	state := cookie(rec, stateCookieName)
	if state == nil {
		t.Fatal("no state cookie")
	}
	loc, err := url.Parse(rec.Header().Get("Location"))
	if err != nil {
		t.Fatalf("parsing redirect: %v", err)
	}

	path := "/callback?code=abc&state=" + loc.Query().Get("state")
	return e.do(http.MethodGet, path, nil, append(cookies, state)...)
}

func TestHome_Anonymous(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET / = %d", rec.Code)
	}
	v := decode[homeView](t, rec)
	if v.Authenticated || v.User != nil || v.Flash != nil {
		t.Errorf("home = %+v", v)
	}
}

func TestLoginSpotify_SetsState(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/login/spotify", nil)
	if rec.Code != http.StatusTemporaryRedirect {
		t.Fatalf("status = %d", rec.Code)
	}
	c := cookie(rec, stateCookieName)
	if c == nil || !strings.HasPrefix(c.Value, modeLogin+":") {
		t.Fatalf("state cookie = %+v", c)
	}
	if c.MaxAge != int(stateTTL.Seconds()) || !c.HttpOnly {
		t.Errorf("state cookie attributes = %+v", c)
	}
	state := strings.TrimPrefix(c.Value, modeLogin+":")
	if len(state) != 32 {
		t.Errorf("state = %q, want 32 hex chars", state)
	}
	if !strings.HasSuffix(rec.Header().Get("Location"), "state="+state) {
		t.Errorf("Location = %q", rec.Header().Get("Location"))
	}
}

func TestCallback_CreatesIdentityAndIngests(t *testing.T) {
	env := newTestEnv(t)

	rec := env.spotifyLogin(t, "/login/spotify")
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/visualise" {
		t.Fatalf("callback = %d %s", rec.Code, rec.Header().Get("Location"))
	}
	session := cookie(rec, sessionCookieName)
	if session == nil {
		t.Fatal("no session cookie")
	}
	if len(env.ingester.calls) != 1 || env.ingester.calls[0] != "sp1" {
		t.Errorf("ingest calls = %v, want [sp1]", env.ingester.calls)
	}

	user, err := env.store.Users().Get(context.Background(), "sp1")
	if err != nil {
		t.Fatalf("Get(sp1) error = %v", err)
	}
	if user.AccessToken != "access-abc" || user.Email != "dj@example.com" {
		t.Errorf("stored user = %+v", user)
	}

	// No password yet: the user is nudged to complete the account.
	v := decode[homeView](t, env.do(http.MethodGet, "/", nil, session, cookie(rec, flashCookieName)))
	if !v.Authenticated || v.User.ID != "sp1" || !v.User.SpotifyLinked {
		t.Errorf("home = %+v", v)
	}
	if v.Flash == nil || v.Flash.Level != flashInfo {
		t.Errorf("flash = %+v", v.Flash)
	}
}

func TestCallback_Failures(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*testEnv)
		query string
		state bool
	}{
		{name: "missing state cookie", query: "code=abc&state=x"},
		{name: "state mismatch", query: "code=abc&state=other", state: true},
		{name: "denied", query: "error=access_denied&state=s1", state: true},
		{name: "exchange fails", query: "code=abc&state=s1", state: true, setup: func(e *testEnv) {
			e.oauth.err = errors.New("bad code")
		}},
		{name: "profile fails", query: "code=abc&state=s1", state: true, setup: func(e *testEnv) {
			e.profile = nil
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			if tt.setup != nil {
				tt.setup(env)
			}
			var cookies []*http.Cookie
			if tt.state {
				cookies = append(cookies, &http.Cookie{Name: stateCookieName, Value: modeLogin + ":s1"})
			}

			rec := env.do(http.MethodGet, "/callback?"+tt.query, nil, cookies...)
			if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/" {
				t.Errorf("callback = %d %s, want redirect to /", rec.Code, rec.Header().Get("Location"))
			}
			if cookie(rec, sessionCookieName) != nil {
				t.Error("session created on failure")
			}
			if cookie(rec, flashCookieName) == nil {
				t.Error("no flash message")
			}
			if len(env.ingester.calls) != 0 {
				t.Errorf("ingest calls = %v", env.ingester.calls)
			}
		})
	}
}

func TestCallback_PendingSignup(t *testing.T) {
	env := newTestEnv(t)
	env.profile = &spotify.Profile{ID: "sp2", DisplayName: "No Mail"}

	rec := env.spotifyLogin(t, "/login/spotify")
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/" {
		t.Fatalf("callback = %d %s", rec.Code, rec.Header().Get("Location"))
	}
	if cookie(rec, sessionCookieName) != nil {
		t.Error("session created for pending signup")
	}
	pending := cookie(rec, pendingCookieName)
	if pending == nil {
		t.Fatal("no pending_signup cookie")
	}
	if _, err := env.store.Users().Get(context.Background(), "sp2"); !errors.Is(err, db.ErrNotFound) {
		t.Errorf("identity stored before completion: err = %v", err)
	}

	parts := strings.Split(pending.Value, ".")
	if len(parts) != 3 {
		t.Fatalf("pending cookie is not a JWT: %q", pending.Value)
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		t.Fatalf("decoding pending payload: %v", err)
	}
	if strings.Contains(string(payload), "access-abc") || strings.Contains(string(payload), "refresh-abc") {
		t.Errorf("pending cookie carries provider tokens: %s", payload)
	}

	if v := decode[homeView](t, env.do(http.MethodGet, "/", nil, pending)); !v.PendingSignup {
		t.Error("home does not report the pending signup")
	}

	rec = env.do(http.MethodPost, "/signup/complete", url.Values{"email": {"not-an-email"}}, pending)
	if rec.Code != http.StatusBadRequest || errorCode(t, rec) != "invalid_input" {
		t.Errorf("invalid email = %d %s", rec.Code, rec.Body.String())
	}

	rec = env.do(http.MethodPost, "/signup/complete", url.Values{"email": {"new@example.com"}}, pending)
	if rec.Code != http.StatusCreated {
		t.Fatalf("complete = %d %s", rec.Code, rec.Body.String())
	}
	if cookie(rec, sessionCookieName) == nil {
		t.Error("no session after completion")
	}
	if c := cookie(rec, pendingCookieName); c == nil || c.MaxAge >= 0 {
		t.Errorf("pending cookie not cleared: %+v", c)
	}
	if u := decode[userView](t, rec); u.ID != "sp2" || u.Email != "new@example.com" {
		t.Errorf("user = %+v", u)
	}
	if len(env.ingester.calls) != 1 {
		t.Errorf("ingest calls = %v", env.ingester.calls)
	}
	user, err := env.store.Users().Get(context.Background(), "sp2")
	if err != nil {
		t.Fatalf("Get(sp2) error = %v", err)
	}
	if user.AccessToken != "access-abc" || user.RefreshToken != "refresh-abc" {
		t.Errorf("tokens = %q/%q", user.AccessToken, user.RefreshToken)
	}

	rec = env.do(http.MethodPost, "/signup/complete", url.Values{"email": {"again@example.com"}}, pending)
	if rec.Code != http.StatusBadRequest || errorCode(t, rec) != "no_pending_signup" {
		t.Errorf("reused pending signup = %d %s", rec.Code, rec.Body.String())
	}
}

func TestCompleteSignup_WithoutPending(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/signup/complete", url.Values{"email": {"a@b.com"}})
	if rec.Code != http.StatusBadRequest || errorCode(t, rec) != "no_pending_signup" {
		t.Errorf("no cookie = %d %s", rec.Code, rec.Body.String())
	}

	bogus := &http.Cookie{Name: pendingCookieName, Value: "not-a-token"}
	rec = env.do(http.MethodPost, "/signup/complete", url.Values{"email": {"a@b.com"}}, bogus)
	if rec.Code != http.StatusBadRequest || errorCode(t, rec) != "no_pending_signup" {
		t.Errorf("bad cookie = %d %s", rec.Code, rec.Body.String())
	}
}

func TestSignupLoginLogout(t *testing.T) {
	env := newTestEnv(t)

	session, user := env.signup(t, "Ada", "ada@example.com")
	if !strings.HasPrefix(user.ID, db.LocalIDPrefix) || !user.HasPassword || user.SpotifyLinked {
		t.Errorf("user = %+v", user)
	}

	rec := env.do(http.MethodPost, "/signup", url.Values{
		"first_name": {"Other"},
		"email":      {"ADA@example.com"},
		"password":   {"password123"},
	})
	if rec.Code != http.StatusConflict || errorCode(t, rec) != "email_taken" {
		t.Errorf("duplicate signup = %d %s", rec.Code, rec.Body.String())
	}

	rec = env.do(http.MethodPost, "/login", url.Values{"email": {"ada@example.com"}, "password": {"wrong-pass"}})
	if rec.Code != http.StatusUnauthorized || errorCode(t, rec) != "invalid_credentials" {
		t.Errorf("bad login = %d %s", rec.Code, rec.Body.String())
	}
	rec = env.do(http.MethodPost, "/login", url.Values{"email": {"ada@example.com"}, "password": {"password123"}})
	if rec.Code != http.StatusOK || cookie(rec, sessionCookieName) == nil {
		t.Errorf("login = %d %s", rec.Code, rec.Body.String())
	}

	rec = env.do(http.MethodPost, "/logout", nil, session)
	if rec.Code != http.StatusSeeOther {
		t.Errorf("logout = %d", rec.Code)
	}
	if rec := env.do(http.MethodGet, "/friends", nil, session); rec.Code != http.StatusUnauthorized {
		t.Errorf("GET /friends after logout = %d, want 401", rec.Code)
	}
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	env := newTestEnv(t)

	routes := []struct{ method, path string }{
		{http.MethodGet, "/link/spotify"},
		{http.MethodPost, "/account/password"},
		{http.MethodPost, "/account/unlink"},
		{http.MethodPost, "/ingest"},
		{http.MethodGet, "/visualise"},
		{http.MethodGet, "/api/mood-data"},
		{http.MethodGet, "/friends"},
		{http.MethodGet, "/friends/search?query=a"},
		{http.MethodPost, "/friends/add"},
		{http.MethodPost, "/friends/accept"},
		{http.MethodPost, "/friends/reject"},
		{http.MethodPost, "/friends/toggle-share"},
		{http.MethodGet, "/friends/x/visualise"},
	}
	for _, rt := range routes {
		rec := env.do(rt.method, rt.path, nil)
		if rec.Code != http.StatusUnauthorized || errorCode(t, rec) != "not_authenticated" {
			t.Errorf("%s %s = %d %s", rt.method, rt.path, rec.Code, rec.Body.String())
		}
	}

	expired := &http.Cookie{Name: sessionCookieName, Value: "stale"}
	if rec := env.do(http.MethodGet, "/visualise", nil, expired); rec.Code != http.StatusUnauthorized {
		t.Errorf("unknown session = %d", rec.Code)
	}
}

func TestLinkSpotify_MergesLocalIdentity(t *testing.T) {
	env := newTestEnv(t)
	session, user := env.signup(t, "Ada", "ada@example.com")

	rec := env.spotifyLogin(t, "/link/spotify", session)
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/visualise" {
		t.Fatalf("link callback = %d %s", rec.Code, rec.Header().Get("Location"))
	}

	// The local identity was re-keyed to the Spotify id; the new session follows it.
	if _, err := env.store.Users().Get(context.Background(), user.ID); !errors.Is(err, db.ErrNotFound) {
		t.Errorf("local identity still present: err = %v", err)
	}
	var sessionCookies []*http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == sessionCookieName {
			sessionCookies = append(sessionCookies, c)
		}
	}
	if len(sessionCookies) != 1 {
		t.Fatalf("session cookies = %d, want 1", len(sessionCookies))
	}
	newSession := sessionCookies[0]
	if newSession.Value == "" || newSession.Value == session.Value || newSession.MaxAge <= 0 {
		t.Fatalf("replacement session = %+v", newSession)
	}
	if _, err := env.store.Sessions().Get(context.Background(), session.Value); !errors.Is(err, db.ErrNotFound) {
		t.Errorf("old session still valid: err = %v", err)
	}
	v := decode[homeView](t, env.do(http.MethodGet, "/", nil, newSession))
	if v.User == nil || v.User.ID != "sp1" || !v.User.HasPassword {
		t.Errorf("home user = %+v", v.User)
	}

	rec = env.do(http.MethodPost, "/account/unlink", nil, newSession)
	if rec.Code != http.StatusOK || decode[userView](t, rec).SpotifyLinked {
		t.Errorf("unlink = %d %s", rec.Code, rec.Body.String())
	}
	rec = env.do(http.MethodPost, "/account/unlink", nil, newSession)
	if rec.Code != http.StatusConflict || errorCode(t, rec) != "not_linked" {
		t.Errorf("second unlink = %d %s", rec.Code, rec.Body.String())
	}
}

func TestLinkSpotify_AlreadyLinked(t *testing.T) {
	env := newTestEnv(t)
	env.spotifyLogin(t, "/login/spotify")

	session, _ := env.signup(t, "Bob", "bob@example.com")
	rec := env.spotifyLogin(t, "/link/spotify", session)
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/" {
		t.Errorf("link callback = %d %s", rec.Code, rec.Header().Get("Location"))
	}
	v := decode[homeView](t, env.do(http.MethodGet, "/", nil, session, cookie(rec, flashCookieName)))
	if v.Flash == nil || v.Flash.Level != flashDanger {
		t.Errorf("flash = %+v", v.Flash)
	}
}

func TestSetPasswordAndUnlink(t *testing.T) {
	env := newTestEnv(t)
	session := cookie(env.spotifyLogin(t, "/login/spotify"), sessionCookieName)

	rec := env.do(http.MethodPost, "/account/unlink", nil, session)
	if rec.Code != http.StatusConflict || errorCode(t, rec) != "password_required" {
		t.Errorf("unlink without password = %d %s", rec.Code, rec.Body.String())
	}

	rec = env.do(http.MethodPost, "/account/password", url.Values{"password": {"short"}}, session)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("short password = %d", rec.Code)
	}
	rec = env.do(http.MethodPost, "/account/password", url.Values{"password": {"long-enough"}}, session)
	if rec.Code != http.StatusOK || !decode[userView](t, rec).HasPassword {
		t.Errorf("set password = %d %s", rec.Code, rec.Body.String())
	}

	rec = env.do(http.MethodPost, "/account/unlink", nil, session)
	if rec.Code != http.StatusOK {
		t.Errorf("unlink = %d %s", rec.Code, rec.Body.String())
	}
}

func TestIngestEndpoint(t *testing.T) {
	env := newTestEnv(t)
	session := cookie(env.spotifyLogin(t, "/login/spotify"), sessionCookieName)

	rec := env.do(http.MethodPost, "/ingest", nil, session)
	if rec.Code != http.StatusOK {
		t.Fatalf("ingest = %d %s", rec.Code, rec.Body.String())
	}
	v := decode[ingestView](t, rec)
	if v.MoodCounts["Happy"] != 2 || len(v.Windows) != 1 || v.Windows[0].TimeRange != db.ShortTerm {
		t.Errorf("ingest view = %+v", v)
	}

	env.ingester.err = ingest.ErrUnauthenticated
	rec = env.do(http.MethodPost, "/ingest", nil, session)
	if rec.Code != http.StatusUnauthorized || errorCode(t, rec) != "spotify_unauthenticated" {
		t.Errorf("refresh failure = %d %s", rec.Code, rec.Body.String())
	}

	env.ingester.err = errors.New("boom")
	rec = env.do(http.MethodPost, "/ingest", nil, session)
	if rec.Code != http.StatusInternalServerError || errorCode(t, rec) != "internal" {
		t.Errorf("internal failure = %d %s", rec.Code, rec.Body.String())
	}
}

func TestVisualiseAndMoodData(t *testing.T) {
	env := newTestEnv(t)
	session, user := env.signup(t, "Ada", "ada@example.com")
	ctx := context.Background()

	happy, sad := "Happy", "Sad"
	for i, tr := range []db.Track{
		{ID: "t1", TimeRange: db.MediumTerm, Name: "One", Artist: "A", Mood: &happy},
		{ID: "t2", TimeRange: db.MediumTerm, Name: "Two", Artist: "B", Mood: &happy},
		{ID: "t3", TimeRange: db.MediumTerm, Name: "Three", Artist: "C", Mood: &sad},
		{ID: "t4", TimeRange: db.ShortTerm, Name: "Four", Artist: "D", Mood: &sad},
	} {
		mood := tr.Mood
		tr.UserID = user.ID
		tr.Rank = i + 1
		if err := env.store.Tracks().Upsert(ctx, &tr); err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}
		if err := env.store.Tracks().SetLabels(ctx, tr.Key(), nil, mood); err != nil {
			t.Fatalf("SetLabels() error = %v", err)
		}
	}

	rec := env.do(http.MethodGet, "/api/mood-data", nil, session)
	if rec.Code != http.StatusOK {
		t.Fatalf("mood data = %d %s", rec.Code, rec.Body.String())
	}
	md := decode[moodDataView](t, rec)
	if md.TimeRange != string(db.MediumTerm) || len(md.Moods) != 2 {
		t.Fatalf("mood data = %+v", md)
	}
	if md.Moods[0].Mood != "Happy" || md.Moods[0].Percentage != 67 || md.Moods[1].Percentage != 33 {
		t.Errorf("moods = %+v", md.Moods)
	}

	md = decode[moodDataView](t, env.do(http.MethodGet, "/api/mood-data?time_range=all", nil, session))
	if md.TimeRange != "all" || md.Moods[0].Count != 2 || md.Moods[1].Count != 2 {
		t.Errorf("all windows = %+v", md)
	}

	rec = env.do(http.MethodGet, "/api/mood-data?time_range=forever", nil, session)
	if rec.Code != http.StatusBadRequest || errorCode(t, rec) != "invalid_time_range" {
		t.Errorf("bad time range = %d %s", rec.Code, rec.Body.String())
	}

	rec = env.do(http.MethodGet, "/visualise?time_range=short_term", nil, session)
	if rec.Code != http.StatusOK {
		t.Fatalf("visualise = %d %s", rec.Code, rec.Body.String())
	}
	p := decode[insights.Profile](t, rec)
	if p.TimeRange != db.ShortTerm || len(p.Moods) != 1 || p.TopTracks["Sad"].ID != "t4" {
		t.Errorf("profile = %+v", p)
	}
	if p.Personality == nil || p.Personality.Type != insights.FallbackPersonality {
		t.Errorf("personality = %+v", p.Personality)
	}
}

func TestFriendsFlow(t *testing.T) {
	env := newTestEnv(t)
	alice, a := env.signup(t, "Alice", "alice@example.com")
	bob, b := env.signup(t, "Bob", "bob@example.com")

	rec := env.do(http.MethodGet, "/friends/search?query=bob", nil, alice)
	if rec.Code != http.StatusOK {
		t.Fatalf("search = %d", rec.Code)
	}
	search := decode[struct {
		Results []friends.Candidate `json:"results"`
	}](t, rec)
	if len(search.Results) != 1 || search.Results[0].ID != b.ID || search.Results[0].Status != friends.StatusNone {
		t.Errorf("search = %+v", search)
	}

	if rec := env.do(http.MethodPost, "/friends/add", url.Values{"friend_id": {a.ID}}, alice); rec.Code != http.StatusBadRequest {
		t.Errorf("self request = %d", rec.Code)
	}
	if rec := env.do(http.MethodPost, "/friends/add", url.Values{"friend_id": {"nobody"}}, alice); rec.Code != http.StatusNotFound {
		t.Errorf("unknown target = %d", rec.Code)
	}
	if rec := env.do(http.MethodPost, "/friends/add", url.Values{"friend_id": {b.ID}}, alice); rec.Code != http.StatusOK {
		t.Fatalf("add = %d %s", rec.Code, rec.Body.String())
	}
	if rec := env.do(http.MethodPost, "/friends/add", url.Values{"friend_id": {b.ID}}, alice); rec.Code != http.StatusConflict {
		t.Errorf("duplicate add = %d", rec.Code)
	}

	fv := decode[friendsView](t, env.do(http.MethodGet, "/friends", nil, bob))
	if len(fv.Incoming) != 1 || fv.Incoming[0].RequesterID != a.ID || len(fv.Friends) != 0 {
		t.Errorf("bob's friends = %+v", fv)
	}

	if rec := env.do(http.MethodPost, "/friends/accept", url.Values{"requester_id": {a.ID}}, bob); rec.Code != http.StatusOK {
		t.Fatalf("accept = %d %s", rec.Code, rec.Body.String())
	}
	if rec := env.do(http.MethodPost, "/friends/reject", url.Values{"requester_id": {a.ID}}, bob); rec.Code != http.StatusNotFound {
		t.Errorf("reject after accept = %d", rec.Code)
	}

	path := "/friends/" + b.ID + "/visualise"
	if rec := env.do(http.MethodGet, path, nil, alice); rec.Code != http.StatusForbidden {
		t.Errorf("view before sharing = %d, want 403", rec.Code)
	}

	rec = env.do(http.MethodPost, "/friends/toggle-share", url.Values{"friend_id": {a.ID}}, bob)
	if rec.Code != http.StatusOK {
		t.Fatalf("toggle-share = %d %s", rec.Code, rec.Body.String())
	}
	if v := decode[map[string]any](t, rec); v["sharing"] != true {
		t.Errorf("toggle-share = %v", v)
	}

	rec = env.do(http.MethodGet, path, nil, alice)
	if rec.Code != http.StatusOK {
		t.Fatalf("view after sharing = %d %s", rec.Code, rec.Body.String())
	}
	if v := decode[friendProfileView](t, rec); v.Friend.ID != b.ID || v.Profile.UserID != b.ID {
		t.Errorf("friend profile = %+v", v)
	}

	if rec := env.do(http.MethodPost, "/friends/toggle-share", url.Values{"friend_id": {"nobody"}}, bob); rec.Code != http.StatusNotFound {
		t.Errorf("toggle-share without edge = %d", rec.Code)
	}
}

func TestNewServer_WriteTimeout(t *testing.T) {
	base := ServerConfig{
		Store:    db.NewMemory(),
		OAuth:    &fakeOAuth{},
		Profiles: func(context.Context, string) (*spotify.Profile, error) { return nil, nil },
		Pending:  auth.NewPendingSigner([]byte("k")),
		Identity: identity.New(db.NewMemory()),
		Ingest:   &fakeIngester{},
		Friends:  friends.New(db.NewMemory(), zerolog.Nop()),
		Insights: insights.New(db.NewMemory()),
	}

	tests := []struct {
		name string
		in   time.Duration
		want time.Duration
	}{
		{"default", 0, defaultWriteTimeout},
		{"configured", 5 * time.Minute, 5 * time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			cfg.WriteTimeout = tt.in
			s, err := NewServer(cfg)
			if err != nil {
				t.Fatalf("NewServer() error = %v", err)
			}
			if s.server.WriteTimeout != tt.want {
				t.Errorf("WriteTimeout = %v, want %v", s.server.WriteTimeout, tt.want)
			}
		})
	}
}

func TestNewServer_RequiresDependencies(t *testing.T) {
	if _, err := NewServer(ServerConfig{}); err == nil {
		t.Error("NewServer() error = nil without a store")
	}
	if _, err := NewServer(ServerConfig{Store: db.NewMemory()}); err == nil {
		t.Error("NewServer() error = nil without oauth")
	}
}
