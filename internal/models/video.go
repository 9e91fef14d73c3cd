// Package models defines the domain types shared by the source and wiki clients.
package models

import "time"

// Video is a single upload on the source channel.
type Video struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	PublishedAt  string   `json:"published_at"`
	ChannelTitle string   `json:"channel_title"`
	Tags         []string `json:"tags,omitempty"`
}

// PublishedTime parses PublishedAt. The zero time is returned when the
// value is missing or malformed.
func (v Video) PublishedTime() time.Time {
	t, err := time.Parse(time.RFC3339, v.PublishedAt)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Playlist is a user-created playlist with its member videos in order.
type Playlist struct {
	ID     string  `json:"id"`
	Title  string  `json:"title"`
	Videos []Video `json:"videos"`
}

// VideoIDs returns the IDs of the playlist's videos in order.
func (p Playlist) VideoIDs() []string {
	ids := make([]string, 0, len(p.Videos))
	for _, v := range p.Videos {
		ids = append(ids, v.ID)
	}
	return ids
}
