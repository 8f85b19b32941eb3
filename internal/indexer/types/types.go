// Package types contains shared type definitions for indexer packages.
package types

import (
	"strings"
	"time"
)

// Protocol represents the download protocol.
type Protocol string

const (
	ProtocolTorrent Protocol = "torrent"
	ProtocolUsenet  Protocol = "usenet"
)

// Privacy represents indexer privacy level.
type Privacy string

const (
	PrivacyPublic      Privacy = "public"
	PrivacySemiPrivate Privacy = "semi-private"
	PrivacyPrivate     Privacy = "private"
)

// Implementation names the adapter kind that drives an indexer.
type Implementation string

const (
	ImplementationCardigann Implementation = "cardigann"
	ImplementationNewznab   Implementation = "newznab"
	ImplementationTorznab   Implementation = "torznab"
	ImplementationRSS       Implementation = "rss"
)

// IndexerDefinition represents a configured indexer.
// It is immutable for the duration of a single search.
type IndexerDefinition struct {
	ID             int64             `json:"id" mapstructure:"id"`
	Name           string            `json:"name" mapstructure:"name"`
	Implementation Implementation    `json:"implementation" mapstructure:"implementation"`
	DefinitionID   string            `json:"definitionId,omitempty" mapstructure:"definition"` // Cardigann definition ID
	BaseURLs       []string          `json:"baseUrls,omitempty" mapstructure:"base_urls"`
	Protocol       Protocol          `json:"protocol" mapstructure:"protocol"`
	Privacy        Privacy           `json:"privacy" mapstructure:"privacy"`
	Enabled        bool              `json:"enabled" mapstructure:"enabled"`
	Priority       int               `json:"priority" mapstructure:"priority"`
	Tags           []string          `json:"tags,omitempty" mapstructure:"tags"`
	Settings       map[string]string `json:"settings,omitempty" mapstructure:"settings"`
}

// BaseURL returns the first configured base URL, or fallback when none is set.
func (d *IndexerDefinition) BaseURL(fallback string) string {
	for _, u := range d.BaseURLs {
		if u = strings.TrimSpace(u); u != "" {
			return strings.TrimSuffix(u, "/")
		}
	}
	return strings.TrimSuffix(fallback, "/")
}

// HasTag reports whether the indexer carries the given tag.
func (d *IndexerDefinition) HasTag(tag string) bool {
	for _, t := range d.Tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

// IndexerFlag marks protocol-specific release properties.
type IndexerFlag string

const (
	FlagFreeleech    IndexerFlag = "freeleech"
	FlagHalfleech    IndexerFlag = "halfleech"
	FlagDoubleUpload IndexerFlag = "double_upload"
	FlagInternal     IndexerFlag = "internal"
	FlagScene        IndexerFlag = "scene"
	FlagExclusive    IndexerFlag = "exclusive"
	FlagNuked        IndexerFlag = "nuked"
)

// Release is implemented by every release variant produced by a parser.
type Release interface {
	Info() *ReleaseInfo
}

// ReleaseInfo represents a search result from an indexer.
type ReleaseInfo struct {
	GUID        string        `json:"guid"`
	Title       string        `json:"title"`
	Description string        `json:"description,omitempty"`
	DownloadURL string        `json:"downloadUrl,omitempty"`
	InfoURL     string        `json:"infoUrl,omitempty"`
	CommentsURL string        `json:"commentsUrl,omitempty"`
	Size        int64         `json:"size"`
	PublishDate time.Time     `json:"publishDate"`
	Categories  []int         `json:"categories"`
	Flags       []IndexerFlag `json:"flags,omitempty"`
	Grabs       int           `json:"grabs,omitempty"`
	Files       int           `json:"files,omitempty"`

	// Indexer info
	IndexerID       int64    `json:"indexerId"`
	IndexerName     string   `json:"indexer"`
	IndexerPriority int      `json:"indexerPriority"`
	Protocol        Protocol `json:"protocol"`

	// External IDs
	ImdbID   int `json:"imdbId,omitempty"`
	TmdbID   int `json:"tmdbId,omitempty"`
	TvdbID   int `json:"tvdbId,omitempty"`
	TvMazeID int `json:"tvMazeId,omitempty"`
}

// Info implements Release.
func (r *ReleaseInfo) Info() *ReleaseInfo { return r }

// HasFlag reports whether the release carries flag.
func (r *ReleaseInfo) HasFlag(flag IndexerFlag) bool {
	for _, f := range r.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// AddFlag adds flag once.
func (r *ReleaseInfo) AddFlag(flag IndexerFlag) {
	if !r.HasFlag(flag) {
		r.Flags = append(r.Flags, flag)
	}
}

// TorrentInfo extends ReleaseInfo with torrent-specific fields.
type TorrentInfo struct {
	ReleaseInfo
	Seeders              int     `json:"seeders"`
	Peers                int     `json:"peers"`
	InfoHash             string  `json:"infoHash,omitempty"`
	MagnetURL            string  `json:"magnetUrl,omitempty"`
	MinimumRatio         float64 `json:"minimumRatio,omitempty"`
	MinimumSeedTime      int64   `json:"minimumSeedTime,omitempty"` // seconds
	DownloadVolumeFactor float64 `json:"downloadVolumeFactor"`      // 0 = freeleech
	UploadVolumeFactor   float64 `json:"uploadVolumeFactor"`        // 2 = double upload
}

// Info implements Release.
func (t *TorrentInfo) Info() *ReleaseInfo { return &t.ReleaseInfo }

// NewTorrentInfo returns a torrent release with neutral volume factors.
func NewTorrentInfo() *TorrentInfo {
	return &TorrentInfo{
		ReleaseInfo:          ReleaseInfo{Protocol: ProtocolTorrent},
		DownloadVolumeFactor: 1,
		UploadVolumeFactor:   1,
	}
}

// ApplyVolumeFlags derives freeleech/halfleech/double-upload flags from the volume factors.
func (t *TorrentInfo) ApplyVolumeFlags() {
	switch {
	case t.DownloadVolumeFactor == 0:
		t.AddFlag(FlagFreeleech)
	case t.DownloadVolumeFactor == 0.5:
		t.AddFlag(FlagHalfleech)
	}
	if t.UploadVolumeFactor == 2 {
		t.AddFlag(FlagDoubleUpload)
	}
}

// IndexerStatus is the persisted failure/backoff state of one indexer.
type IndexerStatus struct {
	IndexerID         int64      `json:"indexerId"`
	InitialFailure    *time.Time `json:"initialFailure,omitempty"`
	MostRecentFailure *time.Time `json:"mostRecentFailure,omitempty"`
	EscalationLevel   int        `json:"escalationLevel"`
	DisabledTill      *time.Time `json:"disabledTill,omitempty"`
	Cookies           string     `json:"-"`
	CookiesExpiry     *time.Time `json:"-"`
}

// IsDisabled reports whether the indexer is disabled at now.
func (s *IndexerStatus) IsDisabled(now time.Time) bool {
	return s.DisabledTill != nil && now.Before(*s.DisabledTill)
}
