package parser

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/slipstream/searchd/internal/indexer/category"
	"github.com/slipstream/searchd/internal/indexer/types"
)

// FeedParser auto-detects RSS 2.0, Atom, torrent-namespace RSS and
// TorrentPotato JSON feeds.
type FeedParser struct {
	IndexerID       int64
	IndexerName     string
	IndexerPriority int
	Categories      *category.Mapper
	SizePolicy      SizePolicy
	DayFirst        bool
	Logger          zerolog.Logger
}

var _ Parser = (*FeedParser)(nil)

// Parse implements Parser.
func (p *FeedParser) Parse(resp *IndexerResponse) ([]types.Release, error) {
	if err := CheckStatus(resp); err != nil {
		return nil, err
	}

	body := bytes.TrimSpace(resp.Body)
	if len(body) == 0 {
		return nil, nil
	}

	var releases []types.Release
	var err error
	if body[0] == '{' {
		releases, err = p.parseTorrentPotato(body)
	} else {
		releases, err = p.parseXML(body)
	}
	if err != nil {
		return nil, err
	}

	out := releases[:0]
	for _, r := range releases {
		info := r.Info()
		if !p.SizePolicy.Apply(info) {
			p.Logger.Debug().Str("title", info.Title).Msg("Dropping feed item without size")
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// RSS structures, including the torrent namespace extensions

type rssFeed struct {
	XMLName xml.Name   `xml:"rss"`
	Channel rssChannel `xml:"channel"`
}

type rssChannel struct {
	Title string    `xml:"title"`
	Items []rssItem `xml:"item"`
}

type rssItem struct {
	Title       string       `xml:"title"`
	Link        string       `xml:"link"`
	GUID        string       `xml:"guid"`
	PubDate     string       `xml:"pubDate"`
	Size        string       `xml:"size"`
	Description string       `xml:"description"`
	Categories  []string     `xml:"category"`
	Enclosure   rssEnclosure `xml:"enclosure"`
	Comments    string       `xml:"comments"`
	Torrent     ezrssTorrent `xml:"torrent"`

	// Flattened namespace elements (torrent:infoHash, nyaa:seeders, ...)
	InfoHash  string `xml:"infoHash"`
	MagnetURI string `xml:"magnetURI"`
	Seeders   string `xml:"seeders"`
	Leechers  string `xml:"leechers"`
}

type rssEnclosure struct {
	URL    string `xml:"url,attr"`
	Length int64  `xml:"length,attr"`
	Type   string `xml:"type,attr"`
}

type ezrssTorrent struct {
	FileName      string `xml:"fileName"`
	InfoHash      string `xml:"infoHash"`
	MagnetURI     string `xml:"magnetURI"`
	Seeds         int    `xml:"seeds"`
	Peers         int    `xml:"peers"`
	ContentLength int64  `xml:"contentLength"`
}

// Atom structures

type atomFeed struct {
	XMLName xml.Name    `xml:"feed"`
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	ID         string         `xml:"id"`
	Title      string         `xml:"title"`
	Updated    string         `xml:"updated"`
	Published  string         `xml:"published"`
	Summary    string         `xml:"summary"`
	Content    string         `xml:"content"`
	Links      []atomLink     `xml:"link"`
	Categories []atomCategory `xml:"category"`
}

type atomLink struct {
	Href   string `xml:"href,attr"`
	Rel    string `xml:"rel,attr"`
	Type   string `xml:"type,attr"`
	Length int64  `xml:"length,attr"`
}

type atomCategory struct {
	Term string `xml:"term,attr"`
}

func (p *FeedParser) parseXML(body []byte) ([]types.Release, error) {
	var root struct {
		XMLName xml.Name
	}
	if err := xml.Unmarshal(body, &root); err != nil {
		return nil, types.NewParseError("unable to parse feed", err)
	}

	switch root.XMLName.Local {
	case "rss":
		var feed rssFeed
		if err := xml.Unmarshal(body, &feed); err != nil {
			return nil, types.NewParseError("invalid rss feed", err)
		}
		return p.parseRSS(&feed), nil
	case "feed":
		var feed atomFeed
		if err := xml.Unmarshal(body, &feed); err != nil {
			return nil, types.NewParseError("invalid atom feed", err)
		}
		return p.parseAtom(&feed), nil
	default:
		return nil, types.NewParseError(fmt.Sprintf("unrecognized feed root <%s>", root.XMLName.Local), nil)
	}
}

func (p *FeedParser) parseRSS(feed *rssFeed) []types.Release {
	var results []types.Release
	for _, item := range feed.Channel.Items {
		infoHash := strings.ToLower(firstNonEmpty(item.Torrent.InfoHash, item.InfoHash))
		magnet := firstNonEmpty(item.Torrent.MagnetURI, item.MagnetURI)

		downloadURL := firstNonEmpty(item.Enclosure.URL, item.Link, magnet)
		if downloadURL == "" || strings.TrimSpace(item.Title) == "" {
			p.Logger.Debug().Str("title", item.Title).Msg("Skipping feed item without title or link")
			continue
		}

		size := ParseSizeOr(item.Size, 0)
		if size == 0 {
			size = item.Torrent.ContentLength
		}
		if size == 0 {
			size = item.Enclosure.Length
		}
		if size == 0 {
			size = sizeFromDescription(item.Description)
		}

		info := types.ReleaseInfo{
			GUID:            firstNonEmpty(item.GUID, downloadURL),
			Title:           strings.TrimSpace(item.Title),
			Description:     item.Description,
			DownloadURL:     downloadURL,
			InfoURL:         item.Comments,
			CommentsURL:     item.Comments,
			Size:            size,
			PublishDate:     parseFeedDate(item.PubDate, p.DayFirst),
			Categories:      p.mapCategories(item.Categories),
			IndexerID:       p.IndexerID,
			IndexerName:     p.IndexerName,
			IndexerPriority: p.IndexerPriority,
			Protocol:        inferProtocol(downloadURL, item.Enclosure.Type, infoHash != "" || magnet != ""),
		}

		if info.Protocol != types.ProtocolTorrent {
			results = append(results, &info)
			continue
		}

		t := types.NewTorrentInfo()
		t.ReleaseInfo = info
		t.InfoHash = infoHash
		t.MagnetURL = magnet
		t.Seeders = item.Torrent.Seeds
		if n, err := strconv.Atoi(item.Seeders); err == nil {
			t.Seeders = n
		}
		t.Peers = item.Torrent.Peers
		if n, err := strconv.Atoi(item.Leechers); err == nil {
			t.Peers = t.Seeders + n
		}
		results = append(results, t)
	}
	return results
}

func (p *FeedParser) parseAtom(feed *atomFeed) []types.Release {
	var results []types.Release
	for _, entry := range feed.Entries {
		var downloadURL, infoURL, linkType string
		var length int64
		for _, l := range entry.Links {
			switch l.Rel {
			case "enclosure":
				downloadURL, linkType, length = l.Href, l.Type, l.Length
			case "", "alternate":
				if infoURL == "" {
					infoURL = l.Href
				}
			}
		}
		if downloadURL == "" {
			downloadURL = infoURL
		}
		if downloadURL == "" || strings.TrimSpace(entry.Title) == "" {
			continue
		}

		cats := make([]string, 0, len(entry.Categories))
		for _, c := range entry.Categories {
			cats = append(cats, c.Term)
		}

		size := length
		if size == 0 {
			size = sizeFromDescription(firstNonEmpty(entry.Summary, entry.Content))
		}

		info := &types.ReleaseInfo{
			GUID:            firstNonEmpty(entry.ID, downloadURL),
			Title:           strings.TrimSpace(entry.Title),
			Description:     firstNonEmpty(entry.Summary, entry.Content),
			DownloadURL:     downloadURL,
			InfoURL:         infoURL,
			Size:            size,
			PublishDate:     parseFeedDate(firstNonEmpty(entry.Published, entry.Updated), p.DayFirst),
			Categories:      p.mapCategories(cats),
			IndexerID:       p.IndexerID,
			IndexerName:     p.IndexerName,
			IndexerPriority: p.IndexerPriority,
			Protocol:        inferProtocol(downloadURL, linkType, false),
		}
		if info.Protocol == types.ProtocolTorrent {
			t := types.NewTorrentInfo()
			t.ReleaseInfo = *info
			results = append(results, t)
			continue
		}
		results = append(results, info)
	}
	return results
}

// TorrentPotato (JSON)

type torrentPotatoResponse struct {
	Results []torrentPotatoItem `json:"results"`
}

type torrentPotatoItem struct {
	ReleaseName string  `json:"release_name"`
	TorrentID   string  `json:"torrent_id"`
	DetailsURL  string  `json:"details_url"`
	DownloadURL string  `json:"download_url"`
	ImdbID      string  `json:"imdb_id"`
	Freeleech   bool    `json:"freeleech"`
	Type        string  `json:"type"`
	Size        float64 `json:"size"` // megabytes
	Leechers    int     `json:"leechers"`
	Seeders     int     `json:"seeders"`
	PublishDate string  `json:"publish_date"`
}

func (p *FeedParser) parseTorrentPotato(body []byte) ([]types.Release, error) {
	var resp torrentPotatoResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, types.NewParseError("invalid torrentpotato response", err)
	}

	results := make([]types.Release, 0, len(resp.Results))
	for _, item := range resp.Results {
		if item.DownloadURL == "" || item.ReleaseName == "" {
			continue
		}

		t := types.NewTorrentInfo()
		t.GUID = firstNonEmpty(item.DetailsURL, item.TorrentID, item.DownloadURL)
		t.Title = item.ReleaseName
		t.DownloadURL = item.DownloadURL
		t.InfoURL = item.DetailsURL
		t.Size = int64(item.Size * 1024 * 1024)
		t.PublishDate = parseFeedDate(item.PublishDate, p.DayFirst)
		t.Categories = p.mapCategories([]string{item.Type})
		t.IndexerID = p.IndexerID
		t.IndexerName = p.IndexerName
		t.IndexerPriority = p.IndexerPriority
		t.ImdbID = parseImdb(item.ImdbID)
		t.Seeders = item.Seeders
		t.Peers = item.Seeders + item.Leechers
		if item.Freeleech {
			t.DownloadVolumeFactor = 0
		}
		t.ApplyVolumeFlags()
		results = append(results, t)
	}
	return results, nil
}

// Helpers

var descriptionSizeRegex = regexp.MustCompile(`(?i)size:?\s*(?:</?\w+>\s*)*([\d.,\s]+\s*[KMGT]i?B)`)

func sizeFromDescription(desc string) int64 {
	m := descriptionSizeRegex.FindStringSubmatch(desc)
	if m == nil {
		return 0
	}
	return ParseSizeOr(m[1], 0)
}

func (p *FeedParser) mapCategories(native []string) []int {
	np := NewznabParser{Categories: p.Categories}
	return np.mapCategories(native)
}

func inferProtocol(url, enclosureType string, torrentHints bool) types.Protocol {
	if !torrentHints && (enclosureType == "application/x-nzb" || strings.Contains(url, ".nzb")) {
		return types.ProtocolUsenet
	}
	return types.ProtocolTorrent
}
