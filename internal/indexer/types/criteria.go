package types

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SearchMode selects the search variant.
type SearchMode string

const (
	ModeBasic SearchMode = "search"
	ModeTV    SearchMode = "tv-search"
	ModeMovie SearchMode = "movie-search"
	ModeMusic SearchMode = "music-search"
	ModeBook  SearchMode = "book-search"
)

// SearchCriteria describes one search intent. Mode tags which of the
// variant-specific fields are meaningful.
type SearchCriteria struct {
	Mode       SearchMode `json:"mode"`
	Term       string     `json:"term,omitempty"`
	Categories []int      `json:"categories,omitempty"`
	Offset     int        `json:"offset,omitempty"`
	Limit      int        `json:"limit,omitempty"`

	// Result bounds; zero means unbounded.
	MinAge  time.Duration `json:"minAge,omitempty"`
	MaxAge  time.Duration `json:"maxAge,omitempty"`
	MinSize int64         `json:"minSize,omitempty"`
	MaxSize int64         `json:"maxSize,omitempty"`

	// External IDs
	ImdbID   string `json:"imdbId,omitempty"`
	TmdbID   int    `json:"tmdbId,omitempty"`
	TvdbID   int    `json:"tvdbId,omitempty"`
	TvMazeID int    `json:"tvMazeId,omitempty"`
	TraktID  int    `json:"traktId,omitempty"`
	RID      int    `json:"rId,omitempty"`
	DoubanID int    `json:"doubanId,omitempty"`

	// TV
	Season  int       `json:"season,omitempty"`
	Episode string    `json:"episode,omitempty"`
	AirDate time.Time `json:"airDate,omitzero"`

	// Music
	Artist string `json:"artist,omitempty"`
	Album  string `json:"album,omitempty"`
	Label  string `json:"label,omitempty"`
	Track  string `json:"track,omitempty"`

	// Book
	Author    string `json:"author,omitempty"`
	Title     string `json:"title,omitempty"`
	Publisher string `json:"publisher,omitempty"`

	Year  int    `json:"year,omitempty"`
	Genre string `json:"genre,omitempty"`
}

// HasExternalID reports whether any external record id is set.
func (c *SearchCriteria) HasExternalID() bool {
	return c.ImdbID != "" || c.TmdbID > 0 || c.TvdbID > 0 || c.TvMazeID > 0 ||
		c.TraktID > 0 || c.RID > 0 || c.DoubanID > 0
}

// IsIdSearch holds iff at least one identifying field is set.
func (c *SearchCriteria) IsIdSearch() bool {
	if c.HasExternalID() {
		return true
	}
	switch c.Mode {
	case ModeTV:
		return c.Season > 0 || c.Episode != "" || !c.AirDate.IsZero()
	case ModeMusic:
		return c.Artist != "" || c.Album != "" || c.Label != "" || c.Track != ""
	case ModeBook:
		return c.Author != "" || c.Title != "" || c.Publisher != ""
	}
	return false
}

// IsRssSearch holds iff no free-text term and no identifying field is set.
func (c *SearchCriteria) IsRssSearch() bool {
	return strings.TrimSpace(c.Term) == "" && !c.IsIdSearch()
}

// IsDaily reports whether the episode is addressed by air date.
func (c *SearchCriteria) IsDaily() bool {
	return c.Mode == ModeTV && !c.AirDate.IsZero()
}

// EpisodeToken renders the episode identifier as free text: SxxEyy, Sxx,
// or yyyy.mm.dd for date-based schedules. Empty when nothing is set.
func (c *SearchCriteria) EpisodeToken() string {
	if c.IsDaily() {
		return c.AirDate.Format("2006.01.02")
	}
	if c.Season <= 0 {
		return ""
	}
	if c.Episode == "" {
		return fmt.Sprintf("S%02d", c.Season)
	}
	if ep, err := strconv.Atoi(c.Episode); err == nil {
		return fmt.Sprintf("S%02dE%02d", c.Season, ep)
	}
	return fmt.Sprintf("S%02dE%s", c.Season, c.Episode)
}

// NormalizedImdbID returns the IMDb id with its "tt" prefix and 7+ digits.
func (c *SearchCriteria) NormalizedImdbID() string {
	id := strings.TrimSpace(c.ImdbID)
	if id == "" {
		return ""
	}
	id = strings.TrimPrefix(strings.ToLower(id), "tt")
	for len(id) < 7 {
		id = "0" + id
	}
	return "tt" + id
}

// InBounds reports whether a release satisfies the criteria's age and size bounds.
func (c *SearchCriteria) InBounds(r *ReleaseInfo, now time.Time) bool {
	if c.MinSize > 0 && r.Size > 0 && r.Size < c.MinSize {
		return false
	}
	if c.MaxSize > 0 && r.Size > c.MaxSize {
		return false
	}
	if !r.PublishDate.IsZero() {
		age := now.Sub(r.PublishDate)
		if c.MinAge > 0 && age < c.MinAge {
			return false
		}
		if c.MaxAge > 0 && age > c.MaxAge {
			return false
		}
	}
	return true
}
