// Package category implements the canonical Newznab category tree and the
// per-indexer mapping between native and canonical categories.
package category

import (
	"slices"
	"strings"
)

// Standard Newznab Categories
// https://newznab.readthedocs.io/en/latest/misc/api/#predefined-categories
const (
	// Main categories
	Console = 1000
	Movies  = 2000
	Audio   = 3000
	PC      = 4000
	TV      = 5000
	XXX     = 6000
	Books   = 7000
	Other   = 8000

	// Console subcategories
	ConsoleNDS        = 1010
	ConsolePSP        = 1020
	ConsoleWii        = 1030
	ConsoleXBox       = 1040
	ConsoleXBox360    = 1050
	ConsoleWiiware    = 1060
	ConsoleXBox360DLC = 1070
	ConsolePS3        = 1080
	ConsoleOther      = 1090
	Console3DS        = 1110
	ConsolePSVita     = 1120
	ConsoleWiiU       = 1130
	ConsoleXBoxOne    = 1140
	ConsolePS4        = 1180

	// Movies subcategories
	MoviesForeign = 2010
	MoviesOther   = 2020
	MoviesSD      = 2030
	MoviesHD      = 2040
	MoviesUHD     = 2045
	MoviesBluRay  = 2050
	Movies3D      = 2060
	MoviesDVD     = 2070
	MoviesWebDL   = 2080
	MoviesX265    = 2090

	// Audio subcategories
	AudioMP3       = 3010
	AudioVideo     = 3020
	AudioAudiobook = 3030
	AudioLossless  = 3040
	AudioOther     = 3050
	AudioForeign   = 3060

	// PC subcategories
	PC0day          = 4010
	PCISO           = 4020
	PCMac           = 4030
	PCMobileOther   = 4040
	PCGames         = 4050
	PCMobileIOS     = 4060
	PCMobileAndroid = 4070

	// TV subcategories
	TVWebDL   = 5010
	TVForeign = 5020
	TVSD      = 5030
	TVHD      = 5040
	TVUHD     = 5045
	TVOther   = 5050
	TVSport   = 5060
	TVAnime   = 5070
	TVDoc     = 5080
	TVX265    = 5090

	// XXX subcategories
	XXXDVD      = 6010
	XXXWMV      = 6020
	XXXXviD     = 6030
	XXXx264     = 6040
	XXXUHD      = 6045
	XXXPack     = 6050
	XXXImageSet = 6060
	XXXOther    = 6070
	XXXSD       = 6080
	XXXWEBDL    = 6090

	// Books subcategories
	BooksMags      = 7010
	BooksEBook     = 7020
	BooksComics    = 7030
	BooksTechnical = 7040
	BooksOther     = 7050
	BooksForeign   = 7060

	// Other subcategories
	OtherMisc   = 8010
	OtherHashed = 8020
)

// Category is one node of the canonical tree.
type Category struct {
	ID            int        `json:"id"`
	Name          string     `json:"name"`
	SubCategories []Category `json:"subCategories,omitempty"`
}

// IsParent reports whether the category is a top-level node.
func (c Category) IsParent() bool {
	return c.ID%1000 == 0
}

// Contains reports whether id is this category or one of its subcategories.
func (c Category) Contains(id int) bool {
	if c.ID == id {
		return true
	}
	for _, sub := range c.SubCategories {
		if sub.ID == id {
			return true
		}
	}
	return false
}

func parent(id int, name string, subs ...Category) Category {
	for i := range subs {
		subs[i].Name = name + "/" + subs[i].Name
	}
	return Category{ID: id, Name: name, SubCategories: subs}
}

func sub(id int, name string) Category {
	return Category{ID: id, Name: name}
}

// Tree is the canonical two-level category taxonomy.
var Tree = []Category{
	parent(Console, "Console",
		sub(ConsoleNDS, "NDS"), sub(ConsolePSP, "PSP"), sub(ConsoleWii, "Wii"),
		sub(ConsoleXBox, "XBox"), sub(ConsoleXBox360, "XBox 360"), sub(ConsoleWiiware, "Wiiware"),
		sub(ConsoleXBox360DLC, "XBox 360 DLC"), sub(ConsolePS3, "PS3"), sub(ConsoleOther, "Other"),
		sub(Console3DS, "3DS"), sub(ConsolePSVita, "PS Vita"), sub(ConsoleWiiU, "WiiU"),
		sub(ConsoleXBoxOne, "XBox One"), sub(ConsolePS4, "PS4")),
	parent(Movies, "Movies",
		sub(MoviesForeign, "Foreign"), sub(MoviesOther, "Other"), sub(MoviesSD, "SD"),
		sub(MoviesHD, "HD"), sub(MoviesUHD, "UHD"), sub(MoviesBluRay, "BluRay"),
		sub(Movies3D, "3D"), sub(MoviesDVD, "DVD"), sub(MoviesWebDL, "WEB-DL"),
		sub(MoviesX265, "x265")),
	parent(Audio, "Audio",
		sub(AudioMP3, "MP3"), sub(AudioVideo, "Video"), sub(AudioAudiobook, "Audiobook"),
		sub(AudioLossless, "Lossless"), sub(AudioOther, "Other"), sub(AudioForeign, "Foreign")),
	parent(PC, "PC",
		sub(PC0day, "0day"), sub(PCISO, "ISO"), sub(PCMac, "Mac"),
		sub(PCMobileOther, "Mobile-Other"), sub(PCGames, "Games"), sub(PCMobileIOS, "Mobile-iOS"),
		sub(PCMobileAndroid, "Mobile-Android")),
	parent(TV, "TV",
		sub(TVWebDL, "WEB-DL"), sub(TVForeign, "Foreign"), sub(TVSD, "SD"),
		sub(TVHD, "HD"), sub(TVUHD, "UHD"), sub(TVOther, "Other"),
		sub(TVSport, "Sport"), sub(TVAnime, "Anime"), sub(TVDoc, "Documentary"),
		sub(TVX265, "x265")),
	parent(XXX, "XXX",
		sub(XXXDVD, "DVD"), sub(XXXWMV, "WMV"), sub(XXXXviD, "XviD"),
		sub(XXXx264, "x264"), sub(XXXUHD, "UHD"), sub(XXXPack, "Pack"),
		sub(XXXImageSet, "ImageSet"), sub(XXXOther, "Other"), sub(XXXSD, "SD"),
		sub(XXXWEBDL, "WEB-DL")),
	parent(Books, "Books",
		sub(BooksMags, "Mags"), sub(BooksEBook, "EBook"), sub(BooksComics, "Comics"),
		sub(BooksTechnical, "Technical"), sub(BooksOther, "Other"), sub(BooksForeign, "Foreign")),
	parent(Other, "Other",
		sub(OtherMisc, "Misc"), sub(OtherHashed, "Hashed")),
}

var (
	byID   = map[int]Category{}
	byName = map[string]Category{}
)

func init() {
	for _, p := range Tree {
		byID[p.ID] = p
		byName[strings.ToLower(p.Name)] = p
		for _, s := range p.SubCategories {
			byID[s.ID] = s
			byName[strings.ToLower(s.Name)] = s
		}
	}
}

// Find returns the canonical category with the given id.
func Find(id int) (Category, bool) {
	c, ok := byID[id]
	return c, ok
}

// FindByName looks up a category by its full name, e.g. "Movies/HD".
func FindByName(name string) (Category, bool) {
	c, ok := byName[strings.ToLower(strings.TrimSpace(name))]
	return c, ok
}

// Name returns a human-readable name for a category.
func Name(id int) string {
	if c, ok := byID[id]; ok {
		return c.Name
	}
	return "Unknown"
}

// Parent returns the top-level category id for id.
func Parent(id int) int {
	return id - id%1000
}

// Expand returns ids plus every subcategory of each parent in ids, without duplicates.
func Expand(ids []int) []int {
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		if !slices.Contains(out, id) {
			out = append(out, id)
		}
		c, ok := byID[id]
		if !ok || !c.IsParent() {
			continue
		}
		for _, s := range c.SubCategories {
			if !slices.Contains(out, s.ID) {
				out = append(out, s.ID)
			}
		}
	}
	return out
}

// IsMovie returns true if the category is a movie category.
func IsMovie(id int) bool {
	return id >= Movies && id < Audio
}

// IsTV returns true if the category is a TV category.
func IsTV(id int) bool {
	return id >= TV && id < XXX
}
