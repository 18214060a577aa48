package spotify

// Profile is the subset of the Spotify user profile EchoMood uses.
type Profile struct {
	ID          string
	Email       string
	DisplayName string
}

// TopTrack is one item of a user's top tracks.
type TopTrack struct {
	ID            string
	Name          string
	Artist        string // First listed artist
	ArtistID      string
	Album         string
	AlbumImageURL *string // First album image, nil when the album has none
	Popularity    int
}
