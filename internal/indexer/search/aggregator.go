package search

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/slipstream/searchd/internal/indexer/category"
	"github.com/slipstream/searchd/internal/indexer/types"
)

// SortKey names the field results are ordered by.
type SortKey string

const (
	SortPublishDate SortKey = "publish_date"
	SortSize        SortKey = "size"
	SortSeeders     SortKey = "seeders"
	SortTitle       SortKey = "title"
)

// Sort selects the result order. Descending is the natural direction for
// every key except title.
type Sort struct {
	Key       SortKey `json:"key"`
	Ascending bool    `json:"ascending"`
}

// DefaultSort orders newest first.
var DefaultSort = Sort{Key: SortPublishDate}

// ParseSort reads "key" or "key:asc|desc".
func ParseSort(s string) (Sort, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return DefaultSort, nil
	}
	key, dir, _ := strings.Cut(s, ":")
	out := Sort{Key: SortKey(key), Ascending: SortKey(key) == SortTitle}
	switch out.Key {
	case SortPublishDate, SortSize, SortSeeders, SortTitle:
	default:
		return Sort{}, fmt.Errorf("unknown sort key %q", key)
	}
	switch dir {
	case "":
	case "asc":
		out.Ascending = true
	case "desc":
		out.Ascending = false
	default:
		return Sort{}, fmt.Errorf("unknown sort direction %q", dir)
	}
	return out, nil
}

// String renders the sort as accepted by ParseSort.
func (s Sort) String() string {
	dir := "desc"
	if s.Ascending {
		dir = "asc"
	}
	return string(s.Key) + ":" + dir
}

// filterReleases drops releases outside the requested categories or the
// criteria's age and size bounds. A parent category in the filter admits
// its subcategories; releases without categories are kept.
func filterReleases(releases []types.Release, criteria *types.SearchCriteria, now time.Time) []types.Release {
	allowed := category.Expand(criteria.Categories)
	out := releases[:0]
	for _, r := range releases {
		info := r.Info()
		if len(allowed) > 0 && len(info.Categories) > 0 && !matchesAny(allowed, info.Categories) {
			continue
		}
		if !criteria.InBounds(info, now) {
			continue
		}
		out = append(out, r)
	}
	return out
}

func matchesAny(allowed, cats []int) bool {
	for _, c := range cats {
		if slices.Contains(allowed, c) {
			return true
		}
	}
	return false
}

// deduplicate removes releases whose GUID was already seen. Input order is
// candidate order, so the first occurrence comes from the preferred indexer.
// Releases without a GUID fall back to their download URL.
func deduplicate(releases []types.Release) []types.Release {
	if len(releases) == 0 {
		return releases
	}

	seen := make(map[string]struct{}, len(releases))
	result := make([]types.Release, 0, len(releases))
	for _, r := range releases {
		key := dedupKey(r.Info())
		if key != "" {
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
		}
		result = append(result, r)
	}
	return result
}

func dedupKey(info *types.ReleaseInfo) string {
	if guid := normalizeGUID(info.GUID); guid != "" {
		return "guid:" + guid
	}
	if u := strings.TrimSpace(info.DownloadURL); u != "" {
		return "url:" + u
	}
	return ""
}

// normalizeGUID normalizes a GUID for comparison.
func normalizeGUID(guid string) string {
	return strings.ToLower(strings.TrimSpace(guid))
}

// sortReleases orders releases in place. Ties keep their merge order.
func sortReleases(releases []types.Release, s Sort) {
	if s.Key == "" {
		s = DefaultSort
	}
	slices.SortStableFunc(releases, func(a, b types.Release) int {
		c := compareBy(s.Key, a, b)
		if !s.Ascending {
			c = -c
		}
		return c
	})
}

func compareBy(key SortKey, a, b types.Release) int {
	ai, bi := a.Info(), b.Info()
	switch key {
	case SortSize:
		return cmp.Compare(ai.Size, bi.Size)
	case SortSeeders:
		return cmp.Compare(seeders(a), seeders(b))
	case SortTitle:
		return cmp.Compare(strings.ToLower(ai.Title), strings.ToLower(bi.Title))
	default:
		return ai.PublishDate.Compare(bi.PublishDate)
	}
}

// seeders returns -1 for usenet releases so they sort after any torrent.
func seeders(r types.Release) int {
	if t, ok := r.(*types.TorrentInfo); ok {
		return t.Seeders
	}
	return -1
}
