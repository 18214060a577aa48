package db

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"
)

// Memory is an in-memory Store for development and tests. Transactions
// operate on a private copy that replaces the parent state on commit; the
// parent is locked while a transaction is open.
type Memory struct {
	mu   *sync.Mutex
	data *memData
}

var _ Store = (*Memory)(nil)

type memData struct {
	users    map[string]User
	tracks   map[TrackKey]Track
	features map[string]AudioFeatures
	edges    map[int64]FriendEdge
	sessions map[string]Session
	insights map[string]Insight
	pending  map[string]PendingSignup
	nextEdge int64
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		mu: &sync.Mutex{},
		data: &memData{
			users:    make(map[string]User),
			tracks:   make(map[TrackKey]Track),
			features: make(map[string]AudioFeatures),
			edges:    make(map[int64]FriendEdge),
			sessions: make(map[string]Session),
			insights: make(map[string]Insight),
			pending:  make(map[string]PendingSignup),
		},
	}
}

func (d *memData) clone() *memData {
	return &memData{
		users:    maps.Clone(d.users),
		tracks:   maps.Clone(d.tracks),
		features: maps.Clone(d.features),
		edges:    maps.Clone(d.edges),
		sessions: maps.Clone(d.sessions),
		insights: maps.Clone(d.insights),
		pending:  maps.Clone(d.pending),
		nextEdge: d.nextEdge,
	}
}

// WithTx runs fn against a copy of the data and keeps the copy only when fn succeeds.
func (m *Memory) WithTx(ctx context.Context, fn func(tx Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &Memory{mu: &sync.Mutex{}, data: m.data.clone()}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.data = tx.data
	return nil
}

func (m *Memory) Users() UserStore                 { return memUsers{m} }
func (m *Memory) Tracks() TrackStore               { return memTracks{m} }
func (m *Memory) AudioFeatures() AudioFeatureStore { return memFeatures{m} }
func (m *Memory) Friends() FriendStore             { return memFriends{m} }
func (m *Memory) Sessions() SessionStore           { return memSessions{m} }
func (m *Memory) Insights() InsightStore           { return memInsights{m} }
func (m *Memory) Pending() PendingStore            { return memPending{m} }

type memUsers struct{ m *Memory }

func (s memUsers) Create(_ context.Context, user *User) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	if _, ok := s.m.data.users[user.ID]; ok {
		return fmt.Errorf("inserting user: %w: users_pkey", ErrConflict)
	}
	if err := s.checkUnique(user); err != nil {
		return fmt.Errorf("inserting user: %w", err)
	}
	now := time.Now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	if user.LastLoginAt.IsZero() {
		user.LastLoginAt = now
	}
	s.m.data.users[user.ID] = cloneUser(*user)
	return nil
}

func (s memUsers) checkUnique(user *User) error {
	for id, other := range s.m.data.users {
		if id == user.ID {
			continue
		}
		if user.Email != "" && strings.EqualFold(other.Email, user.Email) {
			return fmt.Errorf("%w: users_email_key", ErrConflict)
		}
		if user.SpotifyID != nil && other.SpotifyID != nil && *other.SpotifyID == *user.SpotifyID {
			return fmt.Errorf("%w: users_spotify_id_key", ErrConflict)
		}
	}
	return nil
}

func (s memUsers) Get(_ context.Context, id string) (*User, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	user, ok := s.m.data.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	u := cloneUser(user)
	return &u, nil
}

func (s memUsers) GetBySpotifyID(ctx context.Context, spotifyID string) (*User, error) {
	if user, err := s.Get(ctx, spotifyID); err == nil {
		return user, nil
	}
	return s.find(func(u User) bool { return u.SpotifyID != nil && *u.SpotifyID == spotifyID })
}

func (s memUsers) GetByEmail(_ context.Context, email string) (*User, error) {
	if email == "" {
		return nil, ErrNotFound
	}
	return s.find(func(u User) bool { return strings.EqualFold(u.Email, email) })
}

func (s memUsers) find(match func(User) bool) (*User, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	for _, user := range s.m.data.users {
		if match(user) {
			u := cloneUser(user)
			return &u, nil
		}
	}
	return nil, ErrNotFound
}

func (s memUsers) Update(_ context.Context, user *User) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	existing, ok := s.m.data.users[user.ID]
	if !ok {
		return ErrNotFound
	}
	if err := s.checkUnique(user); err != nil {
		return fmt.Errorf("updating user: %w", err)
	}
	updated := cloneUser(*user)
	updated.CreatedAt = existing.CreatedAt
	s.m.data.users[user.ID] = updated
	return nil
}

func (s memUsers) UpdateTokens(_ context.Context, id, accessToken, refreshToken string, expiry time.Time) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	user, ok := s.m.data.users[id]
	if !ok {
		return ErrNotFound
	}
	user.AccessToken = accessToken
	user.RefreshToken = refreshToken
	user.TokenExpiry = &expiry
	s.m.data.users[id] = user
	return nil
}

func (s memUsers) Touch(_ context.Context, id string, at time.Time) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	user, ok := s.m.data.users[id]
	if !ok {
		return ErrNotFound
	}
	user.LastLoginAt = at
	s.m.data.users[id] = user
	return nil
}

// Delete removes the user and cascades like the SQL foreign keys do.
func (s memUsers) Delete(_ context.Context, id string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	d := s.m.data
	if _, ok := d.users[id]; !ok {
		return ErrNotFound
	}
	delete(d.users, id)
	delete(d.insights, id)
	for key := range d.tracks {
		if key.UserID == id {
			delete(d.tracks, key)
		}
	}
	for key, edge := range d.edges {
		if edge.RequesterID == id || edge.TargetID == id {
			delete(d.edges, key)
		}
	}
	for key, sess := range d.sessions {
		if sess.UserID == id {
			delete(d.sessions, key)
		}
	}
	return nil
}

func (s memUsers) Search(_ context.Context, query, excludeID string, limit int) ([]User, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	q := strings.ToLower(query)
	var users []User
	for _, u := range s.m.data.users {
		if u.ID == excludeID {
			continue
		}
		for _, field := range []string{u.DisplayName, u.FirstName, u.LastName, u.Email} {
			if strings.Contains(strings.ToLower(field), q) {
				users = append(users, cloneUser(u))
				break
			}
		}
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].DisplayName != users[j].DisplayName {
			return users[i].DisplayName < users[j].DisplayName
		}
		return users[i].ID < users[j].ID
	})
	if limit > 0 && len(users) > limit {
		users = users[:limit]
	}
	return users, nil
}

func cloneUser(u User) User {
	if u.SpotifyID != nil {
		id := *u.SpotifyID
		u.SpotifyID = &id
	}
	if u.PasswordHash != nil {
		h := *u.PasswordHash
		u.PasswordHash = &h
	}
	if u.TokenExpiry != nil {
		t := *u.TokenExpiry
		u.TokenExpiry = &t
	}
	return u
}

type memTracks struct{ m *Memory }

func (s memTracks) Upsert(_ context.Context, track *Track) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	if _, ok := s.m.data.users[track.UserID]; !ok {
		return fmt.Errorf("upserting track: user %s: %w", track.UserID, ErrNotFound)
	}
	if track.RefreshedAt.IsZero() {
		track.RefreshedAt = time.Now()
	}
	row := *track
	row.Genre, row.Mood = nil, nil
	if existing, ok := s.m.data.tracks[track.Key()]; ok {
		row.Genre, row.Mood = existing.Genre, existing.Mood
	}
	s.m.data.tracks[track.Key()] = row
	track.Genre, track.Mood = cloneString(row.Genre), cloneString(row.Mood)
	return nil
}

func (s memTracks) SetLabels(_ context.Context, key TrackKey, genre, mood *string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	track, ok := s.m.data.tracks[key]
	if !ok {
		return ErrNotFound
	}
	track.Genre, track.Mood = cloneString(genre), cloneString(mood)
	s.m.data.tracks[key] = track
	return nil
}

func (s memTracks) Get(_ context.Context, key TrackKey) (*Track, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	track, ok := s.m.data.tracks[key]
	if !ok {
		return nil, ErrNotFound
	}
	return &track, nil
}

func (s memTracks) ListForUser(_ context.Context, userID string, timeRange TimeRange) ([]Track, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	var tracks []Track
	for key, track := range s.m.data.tracks {
		if key.UserID == userID && (timeRange == "" || key.TimeRange == timeRange) {
			tracks = append(tracks, track)
		}
	}
	sort.Slice(tracks, func(i, j int) bool {
		if tracks[i].TimeRange != tracks[j].TimeRange {
			return tracks[i].TimeRange < tracks[j].TimeRange
		}
		return tracks[i].Rank < tracks[j].Rank
	})
	return tracks, nil
}

func (s memTracks) MoodCounts(ctx context.Context, userID string, timeRange TimeRange) (map[string]int, error) {
	tracks, err := s.ListForUser(ctx, userID, timeRange)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	for _, t := range tracks {
		if IsPlaceholder(t.Mood) {
			continue
		}
		counts[*t.Mood]++
	}
	return counts, nil
}

func (s memTracks) ReassignUser(_ context.Context, fromID, toID string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	for key, track := range s.m.data.tracks {
		if key.UserID != fromID {
			continue
		}
		track.UserID = toID
		newKey := track.Key()
		if _, ok := s.m.data.tracks[newKey]; ok {
			return fmt.Errorf("reassigning tracks: %w: tracks_pkey", ErrConflict)
		}
		delete(s.m.data.tracks, key)
		s.m.data.tracks[newKey] = track
	}
	return nil
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

type memFeatures struct{ m *Memory }

func (s memFeatures) UpsertBatch(_ context.Context, features []AudioFeatures) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	for _, f := range features {
		s.m.data.features[f.TrackID] = f
	}
	return nil
}

func (s memFeatures) GetForTracks(_ context.Context, trackIDs []string) (map[string]AudioFeatures, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	result := make(map[string]AudioFeatures)
	for _, id := range trackIDs {
		if f, ok := s.m.data.features[id]; ok {
			result[id] = f
		}
	}
	return result, nil
}

type memFriends struct{ m *Memory }

func (s memFriends) Get(_ context.Context, requesterID, targetID string) (*FriendEdge, error) {
	return s.find(func(e FriendEdge) bool {
		return e.RequesterID == requesterID && e.TargetID == targetID
	})
}

func (s memFriends) Between(_ context.Context, a, b string) (*FriendEdge, error) {
	return s.find(func(e FriendEdge) bool {
		return (e.RequesterID == a && e.TargetID == b) || (e.RequesterID == b && e.TargetID == a)
	})
}

func (s memFriends) find(match func(FriendEdge) bool) (*FriendEdge, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	for _, edge := range s.m.data.edges {
		if match(edge) {
			e := edge
			return &e, nil
		}
	}
	return nil, ErrNotFound
}

func (s memFriends) Create(_ context.Context, edge *FriendEdge) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	d := s.m.data
	if edge.RequesterID == edge.TargetID {
		return fmt.Errorf("inserting friend edge: self edge %s", edge.RequesterID)
	}
	for _, id := range []string{edge.RequesterID, edge.TargetID} {
		if _, ok := d.users[id]; !ok {
			return fmt.Errorf("inserting friend edge: user %s: %w", id, ErrNotFound)
		}
	}
	for _, e := range d.edges {
		if samePair(e, edge.RequesterID, edge.TargetID) {
			return fmt.Errorf("inserting friend edge: %w: friend_edges_pair_key", ErrConflict)
		}
	}
	d.nextEdge++
	edge.ID = d.nextEdge
	edge.CreatedAt = time.Now()
	d.edges[edge.ID] = *edge
	return nil
}

func samePair(e FriendEdge, a, b string) bool {
	return (e.RequesterID == a && e.TargetID == b) || (e.RequesterID == b && e.TargetID == a)
}

func (s memFriends) SetStatus(_ context.Context, id int64, status FriendStatus) error {
	return s.update(id, func(e *FriendEdge) { e.Status = status })
}

func (s memFriends) SetShare(_ context.Context, id int64, share bool) error {
	return s.update(id, func(e *FriendEdge) { e.ShareData = share })
}

func (s memFriends) update(id int64, fn func(*FriendEdge)) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	edge, ok := s.m.data.edges[id]
	if !ok {
		return ErrNotFound
	}
	fn(&edge)
	s.m.data.edges[id] = edge
	return nil
}

func (s memFriends) ListAccepted(_ context.Context, userID string) ([]FriendEdge, error) {
	return s.list(func(e FriendEdge) bool {
		return e.Status == FriendAccepted && (e.RequesterID == userID || e.TargetID == userID)
	}), nil
}

func (s memFriends) ListIncoming(_ context.Context, userID string) ([]FriendEdge, error) {
	return s.list(func(e FriendEdge) bool {
		return e.Status == FriendPending && e.TargetID == userID
	}), nil
}

func (s memFriends) list(match func(FriendEdge) bool) []FriendEdge {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	var edges []FriendEdge
	for _, e := range s.m.data.edges {
		if match(e) {
			edges = append(edges, e)
		}
	}
	sort.Slice(edges, func(i, j int) bool { return edges[i].ID < edges[j].ID })
	return edges
}

func (s memFriends) ReassignUser(_ context.Context, fromID, toID string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	for id, e := range s.m.data.edges {
		if e.RequesterID == fromID {
			e.RequesterID = toID
		}
		if e.TargetID == fromID {
			e.TargetID = toID
		}
		if e.RequesterID == e.TargetID {
			return fmt.Errorf("reassigning friend edges: self edge %s", toID)
		}
		s.m.data.edges[id] = e
	}

	seen := make(map[[2]string]bool)
	for _, e := range s.m.data.edges {
		pair := [2]string{min(e.RequesterID, e.TargetID), max(e.RequesterID, e.TargetID)}
		if seen[pair] {
			return fmt.Errorf("reassigning friend edges: %w: friend_edges_pair_key", ErrConflict)
		}
		seen[pair] = true
	}
	return nil
}

type memSessions struct{ m *Memory }

func (s memSessions) Create(_ context.Context, session *Session) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	if _, ok := s.m.data.users[session.UserID]; !ok {
		return fmt.Errorf("inserting session: user %s: %w", session.UserID, ErrNotFound)
	}
	s.m.data.sessions[session.ID] = *session
	return nil
}

func (s memSessions) Get(_ context.Context, id string) (*Session, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	session, ok := s.m.data.sessions[id]
	if !ok || !session.ExpiresAt.After(time.Now()) {
		return nil, ErrNotFound
	}
	return &session, nil
}

func (s memSessions) Delete(_ context.Context, id string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	delete(s.m.data.sessions, id)
	return nil
}

func (s memSessions) DeleteExpired(_ context.Context) (int64, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	var n int64
	now := time.Now()
	for id, session := range s.m.data.sessions {
		if !session.ExpiresAt.After(now) {
			delete(s.m.data.sessions, id)
			n++
		}
	}
	return n, nil
}

func (s memSessions) ReassignUser(_ context.Context, fromID, toID string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	for id, session := range s.m.data.sessions {
		if session.UserID == fromID {
			session.UserID = toID
			s.m.data.sessions[id] = session
		}
	}
	return nil
}

type memInsights struct{ m *Memory }

func (s memInsights) Get(_ context.Context, userID string) (*Insight, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	in, ok := s.m.data.insights[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return &in, nil
}

func (s memInsights) Put(_ context.Context, in *Insight) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	s.m.data.insights[in.UserID] = *in
	return nil
}

func (s memInsights) Delete(_ context.Context, userID string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	delete(s.m.data.insights, userID)
	return nil
}

type memPending struct{ m *Memory }

func (s memPending) Create(_ context.Context, p *PendingSignup) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	if _, ok := s.m.data.pending[p.ID]; ok {
		return fmt.Errorf("inserting pending signup: %w: pending_signups_pkey", ErrConflict)
	}
	s.m.data.pending[p.ID] = *p
	return nil
}

func (s memPending) Get(_ context.Context, id string) (*PendingSignup, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	p, ok := s.m.data.pending[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (s memPending) Delete(_ context.Context, id string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	delete(s.m.data.pending, id)
	return nil
}

func (s memPending) DeleteExpired(_ context.Context) (int64, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	var n int64
	now := time.Now()
	for id, p := range s.m.data.pending {
		if !p.ExpiresAt.After(now) {
			delete(s.m.data.pending, id)
			n++
		}
	}
	return n, nil
}
