package reconcile

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/starford/tubestack/internal/models"
)

// Source is the read-only video platform.
type Source interface {
	UploadsPlaylistID(ctx context.Context) (string, error)
	Playlists(ctx context.Context) ([]models.Playlist, error)
	PlaylistVideos(ctx context.Context, playlistID string) ([]models.Video, error)
}

// Inventory is everything the channel has to offer in one run.
type Inventory struct {
	Playlists     []models.Playlist `json:"playlists"`
	Uploads       []models.Video    `json:"uploads"`
	Uncategorized []models.Video    `json:"uncategorized"`
}

// Empty reports whether there is nothing to materialize.
func (inv *Inventory) Empty() bool {
	return len(inv.Playlists) == 0 && len(inv.Uncategorized) == 0
}

// Uncategorized returns the uploads that belong to none of the playlists,
// in upload order.
func Uncategorized(uploads []models.Video, playlists []models.Playlist) []models.Video {
	member := make(map[string]struct{})
	for _, p := range playlists {
		for _, id := range p.VideoIDs() {
			member[id] = struct{}{}
		}
	}
	var out []models.Video
	for _, v := range uploads {
		if v.ID == "" {
			continue
		}
		if _, ok := member[v.ID]; ok {
			continue
		}
		out = append(out, v)
	}
	return out
}

// FetchInventory reads uploads and playlists from src. Paging failures keep
// whatever was fetched before them. Only a missing uploads feed, or a
// cancelled context, is returned as an error.
func FetchInventory(ctx context.Context, src Source, logger *slog.Logger) (*Inventory, error) {
	uploadsID, err := src.UploadsPlaylistID(ctx)
	if err != nil {
		return &Inventory{}, fmt.Errorf("reconcile: resolve uploads playlist: %w", err)
	}
	logger.Info("inventory: uploads playlist resolved", slog.String("playlist_id", uploadsID))

	uploads, err := src.PlaylistVideos(ctx, uploadsID)
	if err != nil {
		logger.Warn("inventory: uploads fetch incomplete",
			slog.Int("fetched", len(uploads)),
			slog.String("error", err.Error()))
	}
	if ctx.Err() != nil {
		return &Inventory{}, ctx.Err()
	}

	playlists, err := src.Playlists(ctx)
	if err != nil {
		logger.Warn("inventory: playlist listing incomplete",
			slog.Int("fetched", len(playlists)),
			slog.String("error", err.Error()))
	}
	logger.Info("inventory: playlists found", slog.Int("count", len(playlists)))

	for i := range playlists {
		if ctx.Err() != nil {
			return &Inventory{}, ctx.Err()
		}
		videos, err := src.PlaylistVideos(ctx, playlists[i].ID)
		if err != nil {
			logger.Warn("inventory: playlist fetch incomplete",
				slog.String("playlist", playlists[i].Title),
				slog.Int("fetched", len(videos)),
				slog.String("error", err.Error()))
		}
		playlists[i].Videos = videos
		logger.Debug("inventory: playlist videos",
			slog.String("playlist", playlists[i].Title),
			slog.Int("count", len(videos)))
	}

	inv := &Inventory{
		Playlists:     playlists,
		Uploads:       uploads,
		Uncategorized: Uncategorized(uploads, playlists),
	}
	logger.Info("inventory: compiled",
		slog.Int("uploads", len(inv.Uploads)),
		slog.Int("playlists", len(inv.Playlists)),
		slog.Int("uncategorized", len(inv.Uncategorized)))
	return inv, nil
}
