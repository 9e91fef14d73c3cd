package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/starford/tubestack/internal/models"
)

// UploadsPlaylistID is the uploads playlist ID served by FakeSource.
const UploadsPlaylistID = "UUfake"

// VideoID returns a valid 11-character video ID for n.
func VideoID(n int) string {
	return fmt.Sprintf("vid%08d", n)
}

// Video returns a video with ID VideoID(n) and the given title.
func Video(n int, title string) models.Video {
	return models.Video{
		ID:           VideoID(n),
		Title:        title,
		Description:  "about " + title,
		PublishedAt:  "2024-03-01T10:00:00Z",
		ChannelTitle: "Test Channel",
	}
}

// FakeSource is an in-memory video platform.
type FakeSource struct {
	mu        sync.Mutex
	Uploads   []models.Video
	Lists     []models.Playlist
	NoUploads bool
	calls     int
}

// UploadsPlaylistID implements reconcile.Source.
func (f *FakeSource) UploadsPlaylistID(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.NoUploads {
		return "", errors.New("fake: channel has no uploads playlist")
	}
	return UploadsPlaylistID, ctx.Err()
}

// Playlists implements reconcile.Source. Videos are left empty, as the
// real listing does.
func (f *FakeSource) Playlists(ctx context.Context) ([]models.Playlist, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	out := make([]models.Playlist, 0, len(f.Lists))
	for _, p := range f.Lists {
		if p.Title == "" {
			continue
		}
		out = append(out, models.Playlist{ID: p.ID, Title: p.Title})
	}
	return out, ctx.Err()
}

// PlaylistVideos implements reconcile.Source.
func (f *FakeSource) PlaylistVideos(ctx context.Context, playlistID string) ([]models.Video, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if playlistID == UploadsPlaylistID {
		return append([]models.Video(nil), f.Uploads...), ctx.Err()
	}
	for _, p := range f.Lists {
		if p.ID == playlistID {
			return append([]models.Video(nil), p.Videos...), ctx.Err()
		}
	}
	return nil, fmt.Errorf("fake: playlist %s not found", playlistID)
}

// Calls returns how many source calls were made.
func (f *FakeSource) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
