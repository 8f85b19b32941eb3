package parser

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/slipstream/searchd/internal/indexer/category"
	"github.com/slipstream/searchd/internal/indexer/types"
)

type nzFeed struct {
	XMLName xml.Name
	Code    string    `xml:"code,attr"`
	Desc    string    `xml:"description,attr"`
	Channel nzChannel `xml:"channel"`
}

type nzChannel struct {
	Items []nzItem `xml:"item"`
}

type nzItem struct {
	Title       string       `xml:"title"`
	GUID        string       `xml:"guid"`
	Link        string       `xml:"link"`
	Comments    string       `xml:"comments"`
	PubDate     string       `xml:"pubDate"`
	Size        string       `xml:"size"`
	Description string       `xml:"description"`
	Categories  []string     `xml:"category"`
	Enclosure   rssEnclosure `xml:"enclosure"`
	Attrs       []nzAttr     `xml:"attr"`
}

type nzAttr struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

func (it *nzItem) attr(name string) string {
	for _, a := range it.Attrs {
		if strings.EqualFold(a.Name, name) {
			return a.Value
		}
	}
	return ""
}

func (it *nzItem) attrs(name string) []string {
	var out []string
	for _, a := range it.Attrs {
		if strings.EqualFold(a.Name, name) && a.Value != "" {
			out = append(out, a.Value)
		}
	}
	return out
}

// NewznabParser parses Newznab and Torznab search results.
type NewznabParser struct {
	IndexerID       int64
	IndexerName     string
	IndexerPriority int
	Protocol        types.Protocol
	Categories      *category.Mapper
	SizePolicy      SizePolicy
	DayFirst        bool
	Logger          zerolog.Logger
}

var _ Parser = (*NewznabParser)(nil)

// Parse implements Parser.
func (p *NewznabParser) Parse(resp *IndexerResponse) ([]types.Release, error) {
	if err := CheckStatus(resp); err != nil {
		return nil, err
	}

	var feed nzFeed
	if err := xml.NewDecoder(bytes.NewReader(resp.Body)).Decode(&feed); err != nil {
		return nil, types.NewParseError("invalid newznab response", err)
	}
	if feed.XMLName.Local == "error" {
		return nil, newznabError(feed.Code, feed.Desc)
	}
	if feed.XMLName.Local != "rss" {
		return nil, types.NewParseError(fmt.Sprintf("unexpected root element <%s>", feed.XMLName.Local), nil)
	}

	releases := make([]types.Release, 0, len(feed.Channel.Items))
	for i := range feed.Channel.Items {
		item := &feed.Channel.Items[i]
		r, err := p.parseItem(item)
		if err != nil {
			p.Logger.Debug().Err(err).Str("title", item.Title).Msg("Skipping newznab item")
			continue
		}
		if !p.SizePolicy.Apply(r.Info()) {
			p.Logger.Debug().Str("title", item.Title).Msg("Dropping item without size")
			continue
		}
		releases = append(releases, r)
	}
	return releases, nil
}

func (p *NewznabParser) parseItem(item *nzItem) (types.Release, error) {
	title := strings.TrimSpace(item.Title)
	if title == "" {
		return nil, fmt.Errorf("missing title")
	}

	info := types.ReleaseInfo{
		Title:           title,
		Description:     item.Description,
		InfoURL:         firstNonEmpty(item.Comments, item.attr("infourl")),
		CommentsURL:     item.Comments,
		IndexerID:       p.IndexerID,
		IndexerName:     p.IndexerName,
		IndexerPriority: p.IndexerPriority,
		Protocol:        p.Protocol,
	}
	info.DownloadURL = firstNonEmpty(item.Enclosure.URL, item.Link)
	info.GUID = firstNonEmpty(item.GUID, info.DownloadURL, info.InfoURL)

	info.Size = ParseSizeOr(item.Size, 0)
	if info.Size == 0 {
		info.Size = ParseSizeOr(item.attr("size"), 0)
	}
	if info.Size == 0 && item.Enclosure.Length > 0 {
		info.Size = item.Enclosure.Length
	}

	dateOpts := DateOptions{DayFirst: p.DayFirst}
	for _, candidate := range []string{item.attr("usenetdate"), item.PubDate} {
		if candidate == "" {
			continue
		}
		if t, err := ParseDate(candidate, dateOpts); err == nil {
			info.PublishDate = t
			break
		}
	}

	native := append(item.attrs("category"), item.Categories...)
	info.Categories = p.mapCategories(native)

	info.Grabs, _ = strconv.Atoi(item.attr("grabs"))
	info.Files, _ = strconv.Atoi(item.attr("files"))
	info.ImdbID = parseImdb(firstNonEmpty(item.attr("imdbid"), item.attr("imdb")))
	info.TvdbID, _ = strconv.Atoi(item.attr("tvdbid"))
	info.TmdbID, _ = strconv.Atoi(item.attr("tmdbid"))
	info.TvMazeID, _ = strconv.Atoi(item.attr("tvmazeid"))
	for _, tag := range item.attrs("tag") {
		switch strings.ToLower(tag) {
		case "freeleech":
			info.AddFlag(types.FlagFreeleech)
		case "internal":
			info.AddFlag(types.FlagInternal)
		case "scene":
			info.AddFlag(types.FlagScene)
		case "nuked":
			info.AddFlag(types.FlagNuked)
		}
	}

	if p.Protocol != types.ProtocolTorrent {
		if info.DownloadURL == "" {
			return nil, fmt.Errorf("missing download url")
		}
		return &info, nil
	}

	t := types.NewTorrentInfo()
	t.ReleaseInfo = info
	t.Protocol = types.ProtocolTorrent
	t.Seeders, _ = strconv.Atoi(item.attr("seeders"))
	if peers, err := strconv.Atoi(item.attr("peers")); err == nil {
		t.Peers = peers
	} else if leechers, err := strconv.Atoi(item.attr("leechers")); err == nil {
		t.Peers = t.Seeders + leechers
	}
	t.InfoHash = strings.ToLower(item.attr("infohash"))
	t.MagnetURL = item.attr("magneturl")
	if v, err := strconv.ParseFloat(item.attr("downloadvolumefactor"), 64); err == nil {
		t.DownloadVolumeFactor = v
	}
	if v, err := strconv.ParseFloat(item.attr("uploadvolumefactor"), 64); err == nil {
		t.UploadVolumeFactor = v
	}
	if v, err := strconv.ParseFloat(item.attr("minimumratio"), 64); err == nil {
		t.MinimumRatio = v
	}
	if v, err := strconv.ParseInt(item.attr("minimumseedtime"), 10, 64); err == nil {
		t.MinimumSeedTime = v
	}
	t.ApplyVolumeFlags()

	if t.DownloadURL == "" {
		t.DownloadURL = t.MagnetURL
	}
	if t.DownloadURL == "" {
		return nil, fmt.Errorf("missing download url")
	}
	if t.GUID == "" {
		t.GUID = t.DownloadURL
	}
	return t, nil
}

func (p *NewznabParser) mapCategories(native []string) []int {
	var out []int
	add := func(ids ...int) {
		for _, id := range ids {
			if !slices.Contains(out, id) {
				out = append(out, id)
			}
		}
	}
	for _, n := range native {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if p.Categories != nil && p.Categories.Len() > 0 {
			add(p.Categories.ToCanonical(n)...)
			continue
		}
		if id, err := strconv.Atoi(n); err == nil {
			if _, ok := category.Find(id); ok {
				add(id)
				continue
			}
		}
		add(category.Other)
	}
	if len(out) == 0 {
		out = []int{category.Other}
	}
	return out
}

func newznabError(code, desc string) error {
	n, _ := strconv.Atoi(code)
	msg := fmt.Sprintf("newznab error %s: %s", code, desc)
	switch {
	case n >= 100 && n < 200:
		return types.NewAuthError(msg, nil)
	case n >= 200 && n < 300:
		return types.NewConfigError("%s", msg)
	case n == 429 || n == 500 || n == 501:
		err := types.NewRateLimitError(0)
		err.Message = msg
		return err
	case n >= 900:
		return types.NewTransientError(msg, nil)
	default:
		err := types.NewUnexpectedStatusError(n)
		err.Message = msg
		return err
	}
}

func parseImdb(s string) int {
	s = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "tt")
	n, _ := strconv.Atoi(s)
	return n
}

// parseFeedDate returns the zero time for unrecognized dates.
func parseFeedDate(s string, dayFirst bool) time.Time {
	t, err := ParseDate(s, DateOptions{DayFirst: dayFirst})
	if err != nil {
		return time.Time{}
	}
	return t
}
