// Package youtube reads a channel's uploads and playlists from the
// YouTube Data API v3.
package youtube

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	yt "google.golang.org/api/youtube/v3"

	"github.com/starford/tubestack/internal/models"
)

// MaxPageSize is the largest page (and ID batch) the Data API accepts.
const MaxPageSize = 50

// ErrNoUploadsPlaylist is returned when the channel has no uploads feed.
var ErrNoUploadsPlaylist = errors.New("youtube: channel has no uploads playlist")

// Client is a read-only view of one channel.
type Client struct {
	svc       *yt.Service
	channelID string
	timeout   time.Duration
	logger    *slog.Logger
}

// NewClient wraps an initialized Data API service. timeout bounds each
// individual API call; zero means no per-call timeout.
func NewClient(svc *yt.Service, channelID string, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{svc: svc, channelID: channelID, timeout: timeout, logger: logger}
}

func (c *Client) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

// UploadsPlaylistID returns the implicit playlist holding every upload of
// the channel.
func (c *Client) UploadsPlaylistID(ctx context.Context) (string, error) {
	cctx, cancel := c.callCtx(ctx)
	defer cancel()

	resp, err := c.svc.Channels.List([]string{"contentDetails"}).
		Id(c.channelID).
		MaxResults(1).
		Context(cctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("youtube: list channel %s: %w", c.channelID, err)
	}
	if len(resp.Items) == 0 || resp.Items[0].ContentDetails == nil ||
		resp.Items[0].ContentDetails.RelatedPlaylists == nil ||
		resp.Items[0].ContentDetails.RelatedPlaylists.Uploads == "" {
		return "", ErrNoUploadsPlaylist
	}
	return resp.Items[0].ContentDetails.RelatedPlaylists.Uploads, nil
}

// Playlists returns the channel's user playlists without their videos.
// Playlists with an empty title are skipped. On a paging error the
// playlists collected so far are returned with the error.
func (c *Client) Playlists(ctx context.Context) ([]models.Playlist, error) {
	var out []models.Playlist
	token := ""
	for {
		cctx, cancel := c.callCtx(ctx)
		resp, err := c.svc.Playlists.List([]string{"snippet", "contentDetails"}).
			ChannelId(c.channelID).
			MaxResults(MaxPageSize).
			PageToken(token).
			Context(cctx).
			Do()
		cancel()
		if err != nil {
			return out, fmt.Errorf("youtube: list playlists: %w", err)
		}
		for _, p := range resp.Items {
			if p.Snippet == nil || p.Snippet.Title == "" {
				continue
			}
			out = append(out, models.Playlist{ID: p.Id, Title: p.Snippet.Title})
		}
		if resp.NextPageToken == "" {
			return out, nil
		}
		token = resp.NextPageToken
	}
}

// PlaylistVideoIDs pages through a playlist and returns its video IDs in
// playlist order.
func (c *Client) PlaylistVideoIDs(ctx context.Context, playlistID string) ([]string, error) {
	var ids []string
	token := ""
	for {
		cctx, cancel := c.callCtx(ctx)
		resp, err := c.svc.PlaylistItems.List([]string{"contentDetails"}).
			PlaylistId(playlistID).
			MaxResults(MaxPageSize).
			PageToken(token).
			Context(cctx).
			Do()
		cancel()
		if err != nil {
			return ids, fmt.Errorf("youtube: list items of %s: %w", playlistID, err)
		}
		for _, item := range resp.Items {
			if item.ContentDetails == nil || item.ContentDetails.VideoId == "" {
				continue
			}
			ids = append(ids, item.ContentDetails.VideoId)
		}
		if resp.NextPageToken == "" {
			return ids, nil
		}
		token = resp.NextPageToken
	}
}

// Videos fetches full details for ids in batches of MaxPageSize. A failed
// batch is logged and skipped; the error of the last failed batch is
// returned alongside the videos that were fetched.
func (c *Client) Videos(ctx context.Context, ids []string) ([]models.Video, error) {
	var (
		out     []models.Video
		lastErr error
	)
	for _, chunk := range Chunk(ids, MaxPageSize) {
		cctx, cancel := c.callCtx(ctx)
		resp, err := c.svc.Videos.List([]string{"snippet", "contentDetails"}).
			Id(chunk...).
			Context(cctx).
			Do()
		cancel()
		if err != nil {
			c.logger.Warn("youtube: video batch failed",
				slog.Int("batch_size", len(chunk)),
				slog.String("error", err.Error()))
			lastErr = fmt.Errorf("youtube: list videos: %w", err)
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			continue
		}
		for _, v := range resp.Items {
			out = append(out, toVideo(v))
		}
	}
	return out, lastErr
}

// PlaylistVideos returns the full details of every video in a playlist.
func (c *Client) PlaylistVideos(ctx context.Context, playlistID string) ([]models.Video, error) {
	ids, listErr := c.PlaylistVideoIDs(ctx, playlistID)
	if len(ids) == 0 {
		return nil, listErr
	}
	videos, err := c.Videos(ctx, ids)
	if listErr != nil {
		return videos, listErr
	}
	return videos, err
}

func toVideo(v *yt.Video) models.Video {
	out := models.Video{ID: v.Id}
	if s := v.Snippet; s != nil {
		out.Title = s.Title
		out.Description = s.Description
		out.PublishedAt = s.PublishedAt
		out.ChannelTitle = s.ChannelTitle
		out.Tags = s.Tags
	}
	return out
}

// Chunk splits ids into consecutive slices of at most size elements.
func Chunk(ids []string, size int) [][]string {
	if size <= 0 {
		size = MaxPageSize
	}
	var out [][]string
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		out = append(out, ids[start:end])
	}
	return out
}
