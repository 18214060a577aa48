package insights

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/echomood/echomood/internal/db"
	"github.com/echomood/echomood/internal/llm"
)

// Fallbacks used when generation is unavailable or fails.
const (
	FallbackPersonality = "INTJ"
	FallbackSummary     = "Calm and introspective listener"
)

const (
	personalityTemperature = 0.7
	summaryTemperature     = 0.6
	maxSummaryWords        = 5
	maxPromptTracks        = 50
)

var mbtiPattern = regexp.MustCompile(`\b[EI][NS][TF][JP]\b`)

// Generator is the part of the generation client the profile needs.
type Generator interface {
	Chat(ctx context.Context, messages []llm.Message, temperature float64) (string, error)
	Image(ctx context.Context, prompt string) (string, error)
}

// Service builds listening profiles.
type Service struct {
	store  db.Store
	gen    Generator
	vibes  VibeConfig
	logger zerolog.Logger
	now    func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithGenerator enables generated personalities. Without it the fallbacks are used.
func WithGenerator(gen Generator) Option {
	return func(s *Service) {
		s.gen = gen
	}
}

// WithVibeConfig overrides the clustering parameters.
func WithVibeConfig(cfg VibeConfig) Option {
	return func(s *Service) {
		s.vibes = cfg
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// New creates a profile service.
func New(store db.Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		vibes:  DefaultVibeConfig(),
		logger: zerolog.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TrackSummary is a compact track reference.
type TrackSummary struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Artist        string  `json:"artist"`
	AlbumImageURL *string `json:"album_image_url"`
}

// Personality is the generated part of a profile.
type Personality struct {
	Type     string  `json:"type"`
	Summary  string  `json:"summary"`
	ImageURL *string `json:"image_url"`
}

// Profile is everything the presentation layer shows for one identity.
type Profile struct {
	UserID      string                  `json:"user_id"`
	TimeRange   db.TimeRange            `json:"time_range,omitempty"`
	Moods       []MoodShare             `json:"moods"`
	TopTracks   map[string]TrackSummary `json:"top_tracks"`
	Vibes       []Vibe                  `json:"vibes"`
	Personality *Personality            `json:"personality,omitempty"`
}

// Profile builds the profile of userID for one window, or all windows when
// timeRange is empty. The personality covers all windows and is cached until
// the next ingestion.
func (s *Service) Profile(ctx context.Context, userID string, timeRange db.TimeRange) (*Profile, error) {
	tracks, err := s.store.Tracks().ListForUser(ctx, userID, timeRange)
	if err != nil {
		return nil, fmt.Errorf("loading tracks: %w", err)
	}
	counts, err := s.store.Tracks().MoodCounts(ctx, userID, timeRange)
	if err != nil {
		return nil, fmt.Errorf("counting moods: %w", err)
	}

	p := &Profile{
		UserID:    userID,
		TimeRange: timeRange,
		Moods:     Breakdown(counts),
		TopTracks: topTrackPerMood(tracks),
	}

	p.Vibes, err = s.vibesFor(ctx, tracks)
	if err != nil {
		s.logger.Warn().Err(err).Str("user_id", userID).Msg("clustering vibes")
	}
	if p.Vibes == nil {
		p.Vibes = []Vibe{}
	}

	p.Personality, err = s.personality(ctx, userID)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// MoodCounts returns the raw counts for one window or all windows.
func (s *Service) MoodCounts(ctx context.Context, userID string, timeRange db.TimeRange) (map[string]int, error) {
	counts, err := s.store.Tracks().MoodCounts(ctx, userID, timeRange)
	if err != nil {
		return nil, fmt.Errorf("counting moods: %w", err)
	}
	return counts, nil
}

func (s *Service) vibesFor(ctx context.Context, tracks []db.Track) ([]Vibe, error) {
	ids := uniqueTrackIDs(tracks)
	if len(ids) == 0 {
		return nil, nil
	}
	features, err := s.store.AudioFeatures().GetForTracks(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("loading audio features: %w", err)
	}

	list := make([]db.AudioFeatures, 0, len(features))
	for _, id := range ids {
		if f, ok := features[id]; ok {
			list = append(list, f)
		}
	}
	return Vibes(list, s.vibes)
}

// personality returns the cached personality or generates and stores a new
// one. Identities without tracks get none.
func (s *Service) personality(ctx context.Context, userID string) (*Personality, error) {
	cached, err := s.store.Insights().Get(ctx, userID)
	if err == nil {
		return &Personality{Type: cached.Personality, Summary: cached.Summary, ImageURL: cached.ImageURL}, nil
	}
	if !errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("loading cached insights: %w", err)
	}

	tracks, err := s.store.Tracks().ListForUser(ctx, userID, "")
	if err != nil {
		return nil, fmt.Errorf("loading tracks: %w", err)
	}
	if len(tracks) == 0 {
		return nil, nil
	}
	counts, err := s.store.Tracks().MoodCounts(ctx, userID, "")
	if err != nil {
		return nil, fmt.Errorf("counting moods: %w", err)
	}

	p := s.generate(ctx, tracks, Dominant(counts))
	insight := &db.Insight{
		UserID:      userID,
		Personality: p.Type,
		Summary:     p.Summary,
		ImageURL:    p.ImageURL,
		GeneratedAt: s.now(),
	}
	if err := s.store.Insights().Put(ctx, insight); err != nil {
		s.logger.Warn().Err(err).Str("user_id", userID).Msg("caching insights")
	}
	return p, nil
}

func (s *Service) generate(ctx context.Context, tracks []db.Track, mood string) *Personality {
	p := &Personality{Type: FallbackPersonality, Summary: FallbackSummary}
	if s.gen == nil {
		return p
	}
	listing := describeTracks(tracks)

	reply, err := s.gen.Chat(ctx, []llm.Message{
		llm.System("You are a music personality analyst. Based on a list of songs with artist, genre, and mood, " +
			"infer only the MBTI personality type of the user. Do not explain or provide anything else."),
		llm.User("Here is the user's listening data:\n" + listing + "\n\nWhat is their MBTI type?"),
	}, personalityTemperature)
	if err != nil {
		s.logger.Warn().Err(err).Msg("inferring personality type")
	} else if t := parsePersonality(reply); t != "" {
		p.Type = t
	}

	reply, err = s.gen.Chat(ctx, []llm.Message{
		llm.System("You are a music psychologist. Given a list of songs with metadata, " +
			"summarize the user's musical personality in a maximum of 5 words only. " +
			"Avoid punctuation or extra explanation. Respond only with the summary."),
		llm.User("Here is the user's music data:\n" + listing +
			"\n\nPlease give a 5-word (or fewer) summary of their music personality."),
	}, summaryTemperature)
	if err != nil {
		s.logger.Warn().Err(err).Msg("summarizing personality")
	} else if sum := parseSummary(reply); sum != "" {
		p.Summary = sum
	}

	if mood == "" {
		mood = "Mixed"
	}
	url, err := s.gen.Image(ctx, fmt.Sprintf(
		"A digital fantasy portrait of a person with MBTI type %s, "+
			"visually inspired by the emotional tone of '%s' mood. "+
			"Portrait style, soft lighting, centered composition, aesthetic symbolism.", p.Type, mood))
	if err != nil {
		s.logger.Warn().Err(err).Msg("generating portrait")
	} else {
		p.ImageURL = &url
	}
	return p
}

// describeTracks renders one line per distinct track for the prompts.
func describeTracks(tracks []db.Track) string {
	var sb strings.Builder
	seen := make(map[string]bool)
	for _, t := range tracks {
		if seen[t.ID] || len(seen) == maxPromptTracks {
			continue
		}
		seen[t.ID] = true
		fmt.Fprintf(&sb, "- %s by %s (genre: %s, mood: %s)\n", t.Name, t.Artist, labelOr(t.Genre), labelOr(t.Mood))
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

func labelOr(label *string) string {
	if db.IsPlaceholder(label) {
		return db.LabelUnknown
	}
	return *label
}

func parsePersonality(reply string) string {
	return mbtiPattern.FindString(strings.ToUpper(reply))
}

func parseSummary(reply string) string {
	words := strings.Fields(strings.Trim(reply, " \t\n\"'.!"))
	if len(words) > maxSummaryWords {
		words = words[:maxSummaryWords]
	}
	return strings.Join(words, " ")
}

// topTrackPerMood picks the best-ranked track for every mood.
func topTrackPerMood(tracks []db.Track) map[string]TrackSummary {
	top := make(map[string]TrackSummary)
	best := make(map[string]int)
	for _, t := range tracks {
		if db.IsPlaceholder(t.Mood) {
			continue
		}
		mood := *t.Mood
		if r, ok := best[mood]; ok && r <= t.Rank {
			continue
		}
		best[mood] = t.Rank
		top[mood] = TrackSummary{ID: t.ID, Name: t.Name, Artist: t.Artist, AlbumImageURL: t.AlbumImageURL}
	}
	return top
}

func uniqueTrackIDs(tracks []db.Track) []string {
	seen := make(map[string]bool, len(tracks))
	ids := make([]string, 0, len(tracks))
	for _, t := range tracks {
		if !seen[t.ID] {
			seen[t.ID] = true
			ids = append(ids, t.ID)
		}
	}
	return ids
}
