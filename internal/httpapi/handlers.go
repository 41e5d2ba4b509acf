package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"horse.fit/newsfeed/internal/apperr"
	"horse.fit/newsfeed/internal/globaltime"
	"horse.fit/newsfeed/internal/search"
)

// firstPage is accepted as page=current by older clients.
const firstPage = "current"

func (s *Server) handleHealth(c echo.Context) error {
	if s.deps.Health != nil {
		if err := s.deps.Health.Ping(c.Request().Context()); err != nil {
			s.logger.Error().Err(err).Msg("health check failed")
			return errorWithStatus(c, http.StatusServiceUnavailable, "Storage unavailable")
		}
	}
	return success(c, map[string]any{
		"service": "newsfeed",
		"time":    globaltime.UTC(),
	})
}

func (s *Server) handleCategories(c echo.Context) error {
	categories, err := s.deps.Categories.Get(c.Request().Context())
	if err != nil {
		return s.writeError(c, err, "Failed to load categories")
	}
	maxAge := int(s.deps.Categories.TTL().Seconds())
	c.Response().Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", maxAge))
	return success(c, map[string]any{
		"categories": categories,
	})
}

func (s *Server) handleSearch(c echo.Context) error {
	limit, err := parseLimit(c.QueryParam("limit"))
	if err != nil {
		return failValidation(c, map[string]string{"limit": err.Error()})
	}
	query := c.QueryParam("q")
	if strings.TrimSpace(query) == "" {
		query = c.QueryParam("keywords")
	}

	result, err := s.deps.Search.Search(c.Request().Context(), search.Request{
		Username: principal(c),
		Query:    query,
		Cursor:   parseCursor(c.QueryParam("page")),
		Limit:    limit,
	})
	if err != nil {
		return s.writeError(c, err, "Failed to search articles")
	}
	return success(c, result)
}

func (s *Server) handleFeed(c echo.Context) error {
	limit, err := parseLimit(c.QueryParam("limit"))
	if err != nil {
		return failValidation(c, map[string]string{"limit": err.Error()})
	}
	page, err := s.deps.Feed.GetFeed(c.Request().Context(), principal(c), parseCursor(c.QueryParam("page")), limit)
	if err != nil {
		return s.writeError(c, err, "Failed to load recommendations")
	}
	return success(c, page)
}

func (s *Server) handleLike(c echo.Context) error {
	like, err := s.deps.Likes.Like(c.Request().Context(), principal(c), c.Param("article_uuid"))
	if err != nil {
		return s.writeError(c, err, "Failed to like article")
	}
	return successWithStatus(c, http.StatusCreated, like)
}

func (s *Server) handleUnlike(c echo.Context) error {
	if err := s.deps.Likes.Unlike(c.Request().Context(), principal(c), c.Param("article_uuid")); err != nil {
		return s.writeError(c, err, "Failed to unlike article")
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleRecompute(c echo.Context) error {
	result, err := s.deps.Recompute.Trigger(c.Request().Context())
	if err != nil {
		return s.writeError(c, err, "Failed to trigger recompute")
	}
	return successWithStatus(c, http.StatusAccepted, result)
}

// writeError maps domain errors to jsend failures and hides everything else
// behind a 500.
func (s *Server) writeError(c echo.Context, err error, message string) error {
	if kind := apperr.KindOf(err); kind != "" {
		return fail(c, apperr.HTTPStatus(kind), err.Error(), nil)
	}
	s.logger.Error().Err(err).Str("path", c.Path()).Msg(message)
	return internalError(c, message)
}

func parseLimit(raw string) (int, error) {
	return parsePositiveInt(raw, search.DefaultLimit, 1, search.MaxLimit)
}

func parseCursor(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if strings.EqualFold(trimmed, firstPage) {
		return ""
	}
	return trimmed
}

func parsePositiveInt(raw string, defaultValue, minValue, maxValue int) (int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return defaultValue, nil
	}

	value, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, fmt.Errorf("must be an integer")
	}
	if value < minValue || value > maxValue {
		return 0, fmt.Errorf("must be between %d and %d", minValue, maxValue)
	}
	return value, nil
}
