package classify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/echomood/echomood/internal/db"
	"github.com/echomood/echomood/internal/llm"
)

// ErrMalformedReply is returned when the model does not answer with a single label.
var ErrMalformedReply = errors.New("malformed classifier reply")

const (
	genreTemperature = 0.3
	moodTemperature  = 0.7
	maxGenreLength   = 40
)

var moodLabels = []string{MoodHappy, MoodSad, MoodAngry, MoodChill, MoodFocused}

// Delegated asks a chat model for each label.
type Delegated struct {
	chat Chatter
}

var _ Classifier = (*Delegated)(nil)

// NewDelegated creates a delegated classifier.
func NewDelegated(chat Chatter) *Delegated {
	return &Delegated{chat: chat}
}

// Classify requests the genre and the mood separately. Failures leave the
// affected label at its placeholder and are joined into the returned error.
func (d *Delegated) Classify(ctx context.Context, in Input) (Result, error) {
	res := Result{Genre: db.LabelUnknown, Mood: db.LabelUnavailable}
	var errs []error

	if !in.SkipGenre {
		genre, err := d.genre(ctx, in)
		if err != nil {
			errs = append(errs, fmt.Errorf("classifying genre: %w", err))
		} else {
			res.Genre = genre
		}
	}

	if !in.SkipMood {
		mood, err := d.mood(ctx, in)
		if err != nil {
			errs = append(errs, fmt.Errorf("classifying mood: %w", err))
		} else {
			res.Mood = mood
		}
	}

	return res, errors.Join(errs...)
}

func (d *Delegated) genre(ctx context.Context, in Input) (string, error) {
	prompt := fmt.Sprintf("What is the genre of the song %q by %s", in.Name, in.Artist)
	if in.Album != "" {
		prompt += fmt.Sprintf(" from the album %q", in.Album)
	}
	prompt += "?"

	reply, err := d.chat.Chat(ctx, []llm.Message{
		llm.System("You are a music expert. Reply with only one genre name."),
		llm.User(prompt),
	}, genreTemperature)
	if err != nil {
		return "", err
	}
	return parseGenre(reply)
}

func (d *Delegated) mood(ctx context.Context, in Input) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Song: %q by %s.", in.Name, in.Artist)
	if in.Album != "" {
		fmt.Fprintf(&b, " Album: %q.", in.Album)
	}
	if f := in.Features; f != nil {
		fmt.Fprintf(&b, " Audio features: valence %.2f, energy %.2f, danceability %.2f, acousticness %.2f, instrumentalness %.2f, speechiness %.2f, tempo %.0f.",
			f.Valence, f.Energy, f.Danceability, f.Acousticness, f.Instrumentalness, f.Speechiness, f.Tempo)
	}

	reply, err := d.chat.Chat(ctx, []llm.Message{
		llm.System("You are a music mood classifier. Return only one mood label: Happy, Sad, Angry, Chill, or Focused."),
		llm.User(b.String()),
	}, moodTemperature)
	if err != nil {
		return "", err
	}
	return parseMood(reply)
}

// cleanLabel strips quotes, trailing punctuation and surrounding space.
func cleanLabel(s string) string {
	return strings.Trim(strings.TrimSpace(s), "\"'`.!* \t")
}

func parseGenre(reply string) (string, error) {
	genre := cleanLabel(reply)
	if genre == "" || strings.ContainsAny(genre, "\n:") || len(genre) > maxGenreLength {
		return "", fmt.Errorf("%w: %q", ErrMalformedReply, reply)
	}
	return genre, nil
}

func parseMood(reply string) (string, error) {
	label := cleanLabel(reply)
	for _, mood := range moodLabels {
		if strings.EqualFold(label, mood) {
			return mood, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrMalformedReply, reply)
}
