// Package ingest pulls a user's top tracks from Spotify, stores them and
// classifies them.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/echomood/echomood/internal/classify"
	"github.com/echomood/echomood/internal/db"
	"github.com/echomood/echomood/internal/spotify"
)

// Common errors.
var (
	// ErrNotLinked is returned when the identity has no Spotify tokens.
	ErrNotLinked = errors.New("spotify account not linked")

	// ErrUnauthenticated is returned when the access token could not be refreshed.
	ErrUnauthenticated = errors.New("spotify token could not be refreshed")
)

// DefaultLimit is the number of top tracks fetched per window.
const DefaultLimit = spotify.MaxTopTracks

// Source is the per-user view of the Spotify API.
type Source interface {
	TopTracks(ctx context.Context, timeRange db.TimeRange, limit int) ([]spotify.TopTrack, error)
	AudioFeatures(ctx context.Context, trackIDs []string) (map[string]db.AudioFeatures, error)
	ArtistGenres(ctx context.Context, artistIDs []string) (map[string][]string, error)
}

// SourceFunc returns a Source authenticated with accessToken.
type SourceFunc func(ctx context.Context, accessToken string) Source

// TokenValidator refreshes expired access tokens.
type TokenValidator interface {
	EnsureValid(ctx context.Context, user *db.User) bool
}

// Service runs ingestion passes.
type Service struct {
	store      db.Store
	tokens     TokenValidator
	source     SourceFunc
	classifier classify.Classifier
	limit      int
	logger     zerolog.Logger
	now        func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLimit sets the number of tracks fetched per window.
func WithLimit(n int) Option {
	return func(s *Service) {
		s.limit = n
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithClock overrides the time source used for refresh timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// New creates an ingestion service.
func New(store db.Store, tokens TokenValidator, source SourceFunc, classifier classify.Classifier, opts ...Option) *Service {
	s := &Service{
		store:      store,
		tokens:     tokens,
		source:     source,
		classifier: classifier,
		limit:      DefaultLimit,
		logger:     zerolog.Nop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WindowResult reports the outcome of one window.
type WindowResult struct {
	TimeRange  db.TimeRange
	Tracks     int
	Classified int
	Err        error
}

// Result contains the outcome of an ingestion pass.
type Result struct {
	MoodCounts map[string]int
	Windows    []WindowResult
}

// Failed reports whether any window failed.
func (r *Result) Failed() bool {
	for _, w := range r.Windows {
		if w.Err != nil {
			return true
		}
	}
	return false
}

// Ingest fetches, stores and classifies the user's top tracks for every
// window. Each window commits on its own; a failed window is recorded in the
// result and does not undo earlier ones. The mood counts are read back from
// the store after all windows ran.
func (s *Service) Ingest(ctx context.Context, userID string) (*Result, error) {
	user, err := s.store.Users().Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("getting user: %w", err)
	}
	if !user.HasSpotify() {
		return nil, ErrNotLinked
	}
	if !s.tokens.EnsureValid(ctx, user) {
		return &Result{MoodCounts: map[string]int{}}, ErrUnauthenticated
	}

	known, err := s.knownLabels(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	src := s.source(ctx, user.AccessToken)
	res := &Result{}
	for _, tr := range db.TimeRanges {
		w := s.ingestWindow(ctx, src, user.ID, tr, known)
		if w.Err != nil {
			s.logger.Warn().Err(w.Err).Str("user_id", user.ID).Str("time_range", string(tr)).Msg("window ingestion failed")
		}
		res.Windows = append(res.Windows, w)
	}

	if err := s.store.Insights().Delete(ctx, user.ID); err != nil {
		s.logger.Warn().Err(err).Str("user_id", user.ID).Msg("dropping cached insights")
	}

	counts, err := s.store.Tracks().MoodCounts(ctx, user.ID, "")
	if err != nil {
		return nil, fmt.Errorf("counting moods: %w", err)
	}
	res.MoodCounts = counts

	s.logger.Info().
		Str("user_id", user.ID).
		Int("moods", len(counts)).
		Bool("partial", res.Failed()).
		Msg("ingestion finished")
	return res, nil
}

// labels are the final genre/mood known for a track id.
type labels struct {
	genre *string
	mood  *string
}

// knownLabels collects the non-placeholder labels already stored for the user
// so a track is classified once even when it appears in several windows.
func (s *Service) knownLabels(ctx context.Context, userID string) (map[string]labels, error) {
	tracks, err := s.store.Tracks().ListForUser(ctx, userID, "")
	if err != nil {
		return nil, fmt.Errorf("listing stored tracks: %w", err)
	}
	known := make(map[string]labels, len(tracks))
	for _, t := range tracks {
		l := known[t.ID]
		if l.genre == nil && !db.IsPlaceholder(t.Genre) {
			l.genre = t.Genre
		}
		if l.mood == nil && !db.IsPlaceholder(t.Mood) {
			l.mood = t.Mood
		}
		known[t.ID] = l
	}
	return known, nil
}

// enrichment is the per-window data fetched before the transaction opens.
type enrichment struct {
	features map[string]db.AudioFeatures
	genres   map[string][]string
}

func (s *Service) enrich(ctx context.Context, src Source, items []spotify.TopTrack) enrichment {
	trackIDs := make([]string, 0, len(items))
	artistIDs := make([]string, 0, len(items))
	for _, item := range items {
		trackIDs = append(trackIDs, item.ID)
		if item.ArtistID != "" {
			artistIDs = append(artistIDs, item.ArtistID)
		}
	}

	var e enrichment
	features, err := src.AudioFeatures(ctx, trackIDs)
	switch {
	case errors.Is(err, spotify.ErrFeaturesUnavailable):
		s.logger.Debug().Msg("audio features unavailable for this application")
	case err != nil:
		s.logger.Warn().Err(err).Msg("fetching audio features")
	}
	e.features = features

	genres, err := src.ArtistGenres(ctx, artistIDs)
	if err != nil {
		s.logger.Warn().Err(err).Msg("fetching artist genres")
	}
	e.genres = genres
	return e
}

func (s *Service) ingestWindow(ctx context.Context, src Source, userID string, tr db.TimeRange, known map[string]labels) WindowResult {
	w := WindowResult{TimeRange: tr}

	items, err := src.TopTracks(ctx, tr, s.limit)
	if err != nil {
		w.Err = fmt.Errorf("fetching top tracks: %w", err)
		return w
	}
	if len(items) == 0 {
		return w
	}

	e := s.enrich(ctx, src, items)
	now := s.now()
	learned := make(map[string]labels)

	err = s.store.WithTx(ctx, func(tx db.Store) error {
		if len(e.features) > 0 {
			batch := make([]db.AudioFeatures, 0, len(e.features))
			for _, f := range e.features {
				batch = append(batch, f)
			}
			if err := tx.AudioFeatures().UpsertBatch(ctx, batch); err != nil {
				return err
			}
		}

		classified := 0
		for i, item := range items {
			track := db.Track{
				ID:            item.ID,
				UserID:        userID,
				TimeRange:     tr,
				Name:          item.Name,
				Artist:        item.Artist,
				ArtistID:      item.ArtistID,
				Album:         item.Album,
				AlbumImageURL: item.AlbumImageURL,
				Popularity:    item.Popularity,
				Rank:          i + 1,
				RefreshedAt:   now,
			}
			if err := tx.Tracks().Upsert(ctx, &track); err != nil {
				return err
			}

			changed, err := s.label(ctx, tx, &track, e, known, learned)
			if err != nil {
				return err
			}
			if changed {
				classified++
			}
		}
		w.Classified = classified
		return nil
	})
	if err != nil {
		w.Err = fmt.Errorf("storing %s tracks: %w", tr, err)
		w.Classified = 0
		return w
	}

	for id, l := range learned {
		known[id] = l
	}
	w.Tracks = len(items)
	return w
}

// label fills placeholder labels of track, reusing known labels before
// calling the classifier. It reports whether anything was written.
func (s *Service) label(ctx context.Context, tx db.Store, track *db.Track, e enrichment, known, learned map[string]labels) (bool, error) {
	needGenre := db.IsPlaceholder(track.Genre)
	needMood := db.IsPlaceholder(track.Mood)
	if !needGenre && !needMood {
		return false, nil
	}

	genre, mood := track.Genre, track.Mood
	prior := known[track.ID]
	if l := learned[track.ID]; l.genre != nil || l.mood != nil {
		if l.genre != nil {
			prior.genre = l.genre
		}
		if l.mood != nil {
			prior.mood = l.mood
		}
	}
	if needGenre && prior.genre != nil {
		genre, needGenre = prior.genre, false
	}
	if needMood && prior.mood != nil {
		mood, needMood = prior.mood, false
	}

	if needGenre || needMood {
		in := classify.Input{
			Name:         track.Name,
			Artist:       track.Artist,
			Album:        track.Album,
			ArtistGenres: e.genres[track.ArtistID],
			SkipGenre:    !needGenre,
			SkipMood:     !needMood,
		}
		if f, ok := e.features[track.ID]; ok {
			in.Features = &f
		}

		res, err := s.classifier.Classify(ctx, in)
		if err != nil {
			s.logger.Warn().Err(err).Str("track_id", track.ID).Msg("classification incomplete")
		}
		if needGenre {
			genre = &res.Genre
		}
		if needMood {
			mood = &res.Mood
		}
	}

	if equalLabel(genre, track.Genre) && equalLabel(mood, track.Mood) {
		return false, nil
	}
	if err := tx.Tracks().SetLabels(ctx, track.Key(), genre, mood); err != nil {
		return false, err
	}
	track.Genre, track.Mood = genre, mood

	l := learned[track.ID]
	if !db.IsPlaceholder(genre) {
		l.genre = genre
	}
	if !db.IsPlaceholder(mood) {
		l.mood = mood
	}
	learned[track.ID] = l
	return true, nil
}

func equalLabel(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
