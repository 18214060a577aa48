package db

import (
	"strings"
	"time"
)

// RegistrationMethod records how an identity was first created.
type RegistrationMethod string

const (
	RegistrationLocal   RegistrationMethod = "local"
	RegistrationSpotify RegistrationMethod = "spotify"
)

// LocalIDPrefix marks identities created through local signup.
const LocalIDPrefix = "local_"

// User is an EchoMood identity, either local or Spotify-linked.
type User struct {
	ID                 string
	SpotifyID          *string
	Email              string
	DisplayName        string
	FirstName          string
	LastName           string
	PasswordHash       *string
	AccessToken        string
	RefreshToken       string
	TokenExpiry        *time.Time
	RegistrationMethod RegistrationMethod
	CreatedAt          time.Time
	LastLoginAt        time.Time
}

// IsLocal reports whether the identity id was generated locally.
func (u *User) IsLocal() bool {
	return strings.HasPrefix(u.ID, LocalIDPrefix)
}

// HasSpotify reports whether a token pair is attached.
func (u *User) HasSpotify() bool {
	return u.AccessToken != "" || u.RefreshToken != ""
}

// HasPassword reports whether the identity can log in locally.
func (u *User) HasPassword() bool {
	return u.PasswordHash != nil && *u.PasswordHash != ""
}

// TimeRange is one of the three top-tracks lookback windows.
type TimeRange string

const (
	ShortTerm  TimeRange = "short_term"
	MediumTerm TimeRange = "medium_term"
	LongTerm   TimeRange = "long_term"
)

// TimeRanges lists the windows in ingestion order.
var TimeRanges = []TimeRange{ShortTerm, MediumTerm, LongTerm}

// Valid reports whether r is a known window.
func (r TimeRange) Valid() bool {
	switch r {
	case ShortTerm, MediumTerm, LongTerm:
		return true
	}
	return false
}

// Placeholder labels.
const (
	LabelUnknown     = "Unknown"
	LabelUnavailable = "Unavailable"
)

// IsPlaceholder reports whether a genre or mood label still needs classification.
func IsPlaceholder(label *string) bool {
	if label == nil {
		return true
	}
	switch *label {
	case "", LabelUnknown, LabelUnavailable:
		return true
	}
	return false
}

// TrackKey identifies a track row.
type TrackKey struct {
	ID        string
	UserID    string
	TimeRange TimeRange
}

// Track is one entry of a user's top tracks in a window.
type Track struct {
	ID            string
	UserID        string
	TimeRange     TimeRange
	Name          string
	Artist        string
	ArtistID      string
	Album         string
	AlbumImageURL *string
	Popularity    int
	Rank          int
	Genre         *string
	Mood          *string
	RefreshedAt   time.Time
}

// Key returns the composite key of the track.
func (t *Track) Key() TrackKey {
	return TrackKey{ID: t.ID, UserID: t.UserID, TimeRange: t.TimeRange}
}

// AudioFeatures holds provider audio analysis for a track.
type AudioFeatures struct {
	TrackID          string
	Danceability     float32
	Energy           float32
	Valence          float32
	Acousticness     float32
	Instrumentalness float32
	Speechiness      float32
	Liveness         float32
	Loudness         float32
	Tempo            float32
	Key              int
	Mode             int
}

// FriendStatus is the state of a friend edge.
type FriendStatus string

const (
	FriendPending  FriendStatus = "pending"
	FriendAccepted FriendStatus = "accepted"
	FriendRejected FriendStatus = "rejected"
)

// FriendEdge is a directed friend request between two identities.
type FriendEdge struct {
	ID          int64
	RequesterID string
	TargetID    string
	Status      FriendStatus
	ShareData   bool
	CreatedAt   time.Time
}

// Other returns the endpoint that is not userID.
func (e *FriendEdge) Other(userID string) string {
	if e.RequesterID == userID {
		return e.TargetID
	}
	return e.RequesterID
}

// Session is a browser login bound to an identity.
type Session struct {
	ID        string
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// PendingSignup is a Spotify login that still needs an email address.
type PendingSignup struct {
	ID           string
	SpotifyID    string
	DisplayName  string
	AccessToken  string
	RefreshToken string
	TokenExpiry  time.Time
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

// Insight holds cached personality results for an identity.
type Insight struct {
	UserID      string
	Personality string
	Summary     string
	ImageURL    *string
	GeneratedAt time.Time
}
