package search

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/slipstream/searchd/internal/indexer/types"
)

// Handlers provides HTTP handlers for search operations.
type Handlers struct {
	service Searcher
}

// NewHandlers creates new search handlers.
func NewHandlers(service Searcher) *Handlers {
	return &Handlers{service: service}
}

// RegisterRoutes registers the search routes.
func (h *Handlers) RegisterRoutes(g *echo.Group) {
	g.GET("", h.Search)
}

// SearchRequest represents a search request.
type SearchRequest struct {
	Query      string `query:"query"`
	Type       string `query:"type"`       // search, tv-search, movie-search, music-search, book-search
	Categories string `query:"categories"` // comma-separated category IDs
	Indexers   string `query:"indexerIds"` // comma-separated indexer IDs
	Sort       string `query:"sort"`       // key[:asc|desc]
	ImdbID     string `query:"imdbId"`
	TmdbID     int    `query:"tmdbId"`
	TvdbID     int    `query:"tvdbId"`
	Season     int    `query:"season"`
	Episode    string `query:"episode"`
	AirDate    string `query:"airDate"` // 2006-01-02
	Year       int    `query:"year"`
	Artist     string `query:"artist"`
	Album      string `query:"album"`
	Author     string `query:"author"`
	Title      string `query:"title"`
	Limit      int    `query:"limit"`
	Offset     int    `query:"offset"`
}

// Search handles search requests.
// GET /api/v1/search?query=...&type=...&categories=...&indexerIds=...
func (h *Handlers) Search(c echo.Context) error {
	var req SearchRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "Invalid request parameters",
		})
	}

	searchReq, err := req.toRequest()
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
	}

	result, err := h.service.Search(c.Request().Context(), searchReq)
	if err != nil {
		var failure *types.SearchFailure
		if errors.As(err, &failure) {
			return c.JSON(http.StatusBadGateway, map[string]any{
				"error":       err.Error(),
				"diagnostics": failure.Diagnostics,
			})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": err.Error(),
		})
	}

	return c.JSON(http.StatusOK, result)
}

func (r SearchRequest) toRequest() (Request, error) {
	criteria := types.SearchCriteria{
		Mode:    types.SearchMode(r.Type),
		Term:    r.Query,
		ImdbID:  r.ImdbID,
		TmdbID:  r.TmdbID,
		TvdbID:  r.TvdbID,
		Season:  r.Season,
		Episode: r.Episode,
		Year:    r.Year,
		Artist:  r.Artist,
		Album:   r.Album,
		Author:  r.Author,
		Title:   r.Title,
		Limit:   r.Limit,
		Offset:  r.Offset,
	}
	switch criteria.Mode {
	case "":
		criteria.Mode = types.ModeBasic
	case types.ModeBasic, types.ModeTV, types.ModeMovie, types.ModeMusic, types.ModeBook:
	default:
		return Request{}, errors.New("unknown search type " + strconv.Quote(r.Type))
	}

	if r.AirDate != "" {
		d, err := time.Parse(time.DateOnly, r.AirDate)
		if err != nil {
			return Request{}, errors.New("airDate must be YYYY-MM-DD")
		}
		criteria.AirDate = d
	}

	cats, err := parseIDs(r.Categories, strconv.Atoi)
	if err != nil {
		return Request{}, errors.New("categories must be comma-separated integers")
	}
	criteria.Categories = cats

	ids, err := parseIDs(r.Indexers, func(s string) (int64, error) { return strconv.ParseInt(s, 10, 64) })
	if err != nil {
		return Request{}, errors.New("indexerIds must be comma-separated integers")
	}

	var sort Sort
	if r.Sort != "" {
		if sort, err = ParseSort(r.Sort); err != nil {
			return Request{}, err
		}
	}

	return Request{Criteria: criteria, IndexerIDs: ids, Sort: sort}, nil
}

func parseIDs[T any](s string, parse func(string) (T, error)) ([]T, error) {
	var out []T
	for part := range strings.SplitSeq(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := parse(part)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
