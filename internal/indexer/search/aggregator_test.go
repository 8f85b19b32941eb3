package search

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slipstream/searchd/internal/indexer/types"
)

func TestParseSort(t *testing.T) {
	tests := []struct {
		in      string
		want    Sort
		wantErr bool
	}{
		{in: "", want: DefaultSort},
		{in: "publish_date", want: Sort{Key: SortPublishDate}},
		{in: "size:asc", want: Sort{Key: SortSize, Ascending: true}},
		{in: "SEEDERS:desc", want: Sort{Key: SortSeeders}},
		{in: "title", want: Sort{Key: SortTitle, Ascending: true}},
		{in: "title:desc", want: Sort{Key: SortTitle}},
		{in: "grabs", wantErr: true},
		{in: "size:sideways", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSort(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSortReleases(t *testing.T) {
	build := func() []types.Release {
		big := release("big", 1, day.Add(-48*time.Hour), 3000)
		newest := release("newest", 1, day, 10)
		seeded := torrent("seeded", 1, 50)
		seeded.PublishDate = day.Add(-time.Hour)
		seeded.Size = 200
		return []types.Release{big, newest, seeded}
	}

	tests := []struct {
		sort Sort
		want []string
	}{
		{sort: Sort{}, want: []string{"newest", "seeded", "big"}},
		{sort: Sort{Key: SortPublishDate, Ascending: true}, want: []string{"big", "seeded", "newest"}},
		{sort: Sort{Key: SortSize}, want: []string{"big", "seeded", "newest"}},
		{sort: Sort{Key: SortSeeders}, want: []string{"seeded", "big", "newest"}},
		{sort: Sort{Key: SortTitle, Ascending: true}, want: []string{"big", "newest", "seeded"}},
	}
	for _, tt := range tests {
		t.Run(tt.sort.String(), func(t *testing.T) {
			releases := build()
			sortReleases(releases, tt.sort)
			assert.Equal(t, tt.want, guids(releases))
		})
	}
}

func TestDeduplicate(t *testing.T) {
	noGUID := release("", 2, day, 1)
	noGUID.DownloadURL = "https://dl.test/same"
	noGUIDDup := release("", 3, day, 1)
	noGUIDDup.DownloadURL = "https://dl.test/same"
	anonymous := release("", 4, day, 1)
	anonymous.DownloadURL = ""
	anonymous2 := release("", 5, day, 1)
	anonymous2.DownloadURL = ""

	in := []types.Release{
		release("abc", 1, day, 1),
		release("ABC", 2, day, 1),
		noGUID, noGUIDDup,
		anonymous, anonymous2,
	}
	out := deduplicate(in)

	var ids []int64
	for _, r := range out {
		ids = append(ids, r.Info().IndexerID)
	}
	assert.Equal(t, []int64{1, 2, 4, 5}, ids)
}

func TestFilterReleases(t *testing.T) {
	now := day
	old := release("old", 1, now.Add(-30*24*time.Hour), 1)
	fresh := release("fresh", 1, now.Add(-time.Hour), 1)
	huge := release("huge", 1, now, 10<<30)
	undated := release("undated", 1, time.Time{}, 1)

	criteria := &types.SearchCriteria{MaxAge: 7 * 24 * time.Hour, MaxSize: 1 << 30}
	out := filterReleases([]types.Release{old, fresh, huge, undated}, criteria, now)
	assert.Equal(t, []string{"fresh", "undated"}, guids(out))
}
