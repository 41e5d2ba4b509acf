package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/newsfeed/internal/apperr"
	"horse.fit/newsfeed/internal/feed"
	"horse.fit/newsfeed/internal/news"
	"horse.fit/newsfeed/internal/recompute"
	"horse.fit/newsfeed/internal/search"
)

type stubSearcher struct {
	got    search.Request
	result search.Result
	err    error
}

func (s *stubSearcher) Search(_ context.Context, req search.Request) (search.Result, error) {
	s.got = req
	return s.result, s.err
}

type stubFeed struct {
	username string
	cursor   string
	limit    int
	page     feed.Page
}

func (s *stubFeed) GetFeed(_ context.Context, username, cursor string, limit int) (feed.Page, error) {
	s.username, s.cursor, s.limit = username, cursor, limit
	return s.page, nil
}

type stubCategories struct{ values []string }

func (s stubCategories) Get(context.Context) ([]string, error) { return s.values, nil }
func (s stubCategories) TTL() time.Duration                    { return time.Hour }

type stubLikes struct {
	likeErr   error
	unlikeErr error
}

func (s stubLikes) Like(_ context.Context, username, articleUUID string) (news.Like, error) {
	return news.Like{Username: username, ArticleUUID: articleUUID}, s.likeErr
}

func (s stubLikes) Unlike(context.Context, string, string) error { return s.unlikeErr }

type stubTrigger struct{ result recompute.TriggerResult }

func (s stubTrigger) Trigger(context.Context) (recompute.TriggerResult, error) { return s.result, nil }

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

func newTestServer(deps Deps) http.Handler {
	return NewServer(deps, zerolog.Nop(), Options{}).Handler()
}

func doRequest(t *testing.T, h http.Handler, method, target, username string) (*httptest.ResponseRecorder, jsendResponse) {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	if username != "" {
		req.Header.Set(usernameHeader, username)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var body jsendResponse
	if rec.Body.Len() > 0 && strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode response: %v (%s)", err, rec.Body.String())
		}
	}
	return rec, body
}

func TestHealth(t *testing.T) {
	t.Parallel()

	rec, body := doRequest(t, newTestServer(Deps{Health: stubPinger{}}), http.MethodGet, "/api/v1/health", "")
	if rec.Code != http.StatusOK || body.Status != "success" {
		t.Fatalf("unexpected health response: %d %+v", rec.Code, body)
	}

	rec, body = doRequest(t, newTestServer(Deps{Health: stubPinger{err: errors.New("down")}}), http.MethodGet, "/api/v1/health", "")
	if rec.Code != http.StatusServiceUnavailable || body.Status != "error" {
		t.Fatalf("unexpected unhealthy response: %d %+v", rec.Code, body)
	}
}

func TestSearchPassesQueryAndCursor(t *testing.T) {
	t.Parallel()

	searcher := &stubSearcher{result: search.Result{Terms: []string{"dog"}, NextCursor: "A"}}
	h := newTestServer(Deps{Search: searcher})

	rec, body := doRequest(t, h, http.MethodGet, "/api/v1/news/articles?q=dogs&page=Z&limit=5", "ann")
	if rec.Code != http.StatusOK || body.Status != "success" {
		t.Fatalf("unexpected response: %d %+v", rec.Code, body)
	}
	if searcher.got != (search.Request{Username: "ann", Query: "dogs", Cursor: "Z", Limit: 5}) {
		t.Fatalf("unexpected search request: %+v", searcher.got)
	}

	doRequest(t, h, http.MethodGet, "/api/v1/news/articles?q=dogs&page=current", "ann")
	if searcher.got.Cursor != "" || searcher.got.Limit != search.DefaultLimit {
		t.Fatalf("page=current must mean the first page: %+v", searcher.got)
	}
}

func TestSearchMapsDomainErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err  error
		code int
	}{
		{err: apperr.BadRequest("invalid keywords: $$$"), code: http.StatusBadRequest},
		{err: apperr.UnprocessableEntity("query has no searchable keywords"), code: http.StatusUnprocessableEntity},
		{err: errors.New("connection refused"), code: http.StatusInternalServerError},
	}
	for _, tc := range cases {
		h := newTestServer(Deps{Search: &stubSearcher{err: tc.err}})
		rec, body := doRequest(t, h, http.MethodGet, "/api/v1/news/articles?q=x", "ann")
		if rec.Code != tc.code {
			t.Fatalf("expected %d for %v, got %d", tc.code, tc.err, rec.Code)
		}
		if tc.code == http.StatusInternalServerError && strings.Contains(body.Message, "connection refused") {
			t.Fatalf("internal errors must not leak: %+v", body)
		}
	}
}

func TestSearchRejectsBadLimit(t *testing.T) {
	t.Parallel()

	rec, body := doRequest(t, newTestServer(Deps{Search: &stubSearcher{}}), http.MethodGet, "/api/v1/news/articles?q=x&limit=0", "ann")
	if rec.Code != http.StatusBadRequest || body.Status != "fail" {
		t.Fatalf("unexpected response: %d %+v", rec.Code, body)
	}
}

func TestRoutesRequireUser(t *testing.T) {
	t.Parallel()

	rec, _ := doRequest(t, newTestServer(Deps{Search: &stubSearcher{}}), http.MethodGet, "/api/v1/news/articles?q=x", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a username, got %d", rec.Code)
	}
}

func TestUserRoutesRejectOtherUsers(t *testing.T) {
	t.Parallel()

	rec, _ := doRequest(t, newTestServer(Deps{Feed: &stubFeed{}}), http.MethodGet, "/api/v1/users/bob/recommended-articles", "ann")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for another user's feed, got %d", rec.Code)
	}
}

func TestFeed(t *testing.T) {
	t.Parallel()

	stub := &stubFeed{page: feed.Page{NextCursor: "r2"}}
	rec, body := doRequest(t, newTestServer(Deps{Feed: stub}), http.MethodGet, "/api/v1/users/ann/recommended-articles?page=r9&limit=3", "ann")
	if rec.Code != http.StatusOK || body.Status != "success" {
		t.Fatalf("unexpected response: %d %+v", rec.Code, body)
	}
	if stub.username != "ann" || stub.cursor != "r9" || stub.limit != 3 {
		t.Fatalf("unexpected feed call: %+v", stub)
	}
}

func TestCategoriesAreCacheable(t *testing.T) {
	t.Parallel()

	rec, body := doRequest(t, newTestServer(Deps{Categories: stubCategories{values: []string{"arts"}}}), http.MethodGet, "/api/v1/news/categories", "ann")
	if rec.Code != http.StatusOK || body.Status != "success" {
		t.Fatalf("unexpected response: %d %+v", rec.Code, body)
	}
	if got := rec.Header().Get("Cache-Control"); got != "public, max-age=3600" {
		t.Fatalf("unexpected cache header: %q", got)
	}
}

func TestLikeAndUnlike(t *testing.T) {
	t.Parallel()

	h := newTestServer(Deps{Likes: stubLikes{}})
	rec, body := doRequest(t, h, http.MethodPost, "/api/v1/users/ann/liked-articles/a1", "ann")
	if rec.Code != http.StatusCreated || body.Status != "success" {
		t.Fatalf("unexpected like response: %d %+v", rec.Code, body)
	}
	rec, _ = doRequest(t, h, http.MethodDelete, "/api/v1/users/ann/liked-articles/a1", "ann")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("unexpected unlike response: %d", rec.Code)
	}

	conflict := newTestServer(Deps{Likes: stubLikes{likeErr: apperr.Conflict("already liked"), unlikeErr: apperr.Conflict("not liked")}})
	if rec, _ := doRequest(t, conflict, http.MethodPost, "/api/v1/users/ann/liked-articles/a1", "ann"); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 on duplicate like, got %d", rec.Code)
	}
	if rec, _ := doRequest(t, conflict, http.MethodDelete, "/api/v1/users/ann/liked-articles/a1", "ann"); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 on duplicate unlike, got %d", rec.Code)
	}

	missing := newTestServer(Deps{Likes: stubLikes{likeErr: apperr.NotFound("article a1 not found")}})
	if rec, _ := doRequest(t, missing, http.MethodPost, "/api/v1/users/ann/liked-articles/a1", "ann"); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing article, got %d", rec.Code)
	}
}

func TestRecomputeIsAccepted(t *testing.T) {
	t.Parallel()

	h := newTestServer(Deps{Recompute: stubTrigger{result: recompute.TriggerResult{Coalesced: true}}})
	rec, body := doRequest(t, h, http.MethodPost, "/api/v1/jobs/recompute", "ann")
	if rec.Code != http.StatusAccepted || body.Status != "success" {
		t.Fatalf("unexpected response: %d %+v", rec.Code, body)
	}
	data, _ := body.Data.(map[string]any)
	if data["coalesced"] != true || data["started"] != false {
		t.Fatalf("unexpected payload: %+v", body.Data)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	rec, _ := doRequest(t, newTestServer(Deps{}), http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Fatalf("unexpected metrics response: %d", rec.Code)
	}
}

func TestUnknownRouteIsJSendFailure(t *testing.T) {
	t.Parallel()

	h := newTestServer(Deps{})
	rec, body := doRequest(t, h, http.MethodGet, "/api/v1/nope", "ann")
	if rec.Code != http.StatusNotFound || body.Status != "fail" {
		t.Fatalf("unexpected response: %d %+v", rec.Code, body)
	}

	rec, _ = doRequest(t, h, http.MethodGet, "/api/v1/nope", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unknown api routes still require a user, got %d", rec.Code)
	}
}
