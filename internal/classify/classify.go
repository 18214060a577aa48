// Package classify assigns genre and mood labels to tracks.
package classify

import (
	"context"
	"errors"
	"fmt"

	"github.com/echomood/echomood/internal/db"
	"github.com/echomood/echomood/internal/llm"
)

// Mood labels.
const (
	MoodHappy   = "Happy"
	MoodSad     = "Sad"
	MoodChill   = "Chill"
	MoodAngry   = "Angry"
	MoodFocused = "Focused"
	MoodMixed   = "Mixed"
)

// Strategy names accepted by New.
const (
	StrategyAuto      = "auto"
	StrategyHeuristic = "heuristic"
	StrategyLLM       = "llm"
)

// ErrUnknownStrategy is returned by New for an unrecognised strategy name.
var ErrUnknownStrategy = errors.New("unknown classifier strategy")

// Input is what a classifier knows about a track.
type Input struct {
	Name         string
	Artist       string
	Album        string
	ArtistGenres []string
	Features     *db.AudioFeatures // nil when unavailable

	// Skip flags are set when the stored label is already final.
	SkipGenre bool
	SkipMood  bool
}

// Result holds the assigned labels. Fields that could not be determined hold
// placeholder labels.
type Result struct {
	Genre string
	Mood  string
}

// Classifier assigns a genre and mood to a track. A non-nil error reports a
// soft failure; the Result is still usable and carries placeholders for the
// labels that failed.
type Classifier interface {
	Classify(ctx context.Context, in Input) (Result, error)
}

// Chatter is the part of the generation client the delegated classifier needs.
type Chatter interface {
	Chat(ctx context.Context, messages []llm.Message, temperature float64) (string, error)
}

// New returns the classifier for strategy. With StrategyAuto the delegated
// classifier is used when chat is non-nil.
func New(strategy string, chat Chatter) (Classifier, error) {
	switch strategy {
	case StrategyAuto, "":
		if chat != nil {
			return NewDelegated(chat), nil
		}
		return Heuristic{}, nil
	case StrategyHeuristic:
		return Heuristic{}, nil
	case StrategyLLM:
		if chat == nil {
			return nil, fmt.Errorf("llm classifier: %w", llm.ErrMissingAPIKey)
		}
		return NewDelegated(chat), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, strategy)
	}
}
