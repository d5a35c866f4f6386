package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/faceads/internal/api/handlers"
	"github.com/your-org/faceads/internal/api/ws"
	"github.com/your-org/faceads/internal/config"
	"github.com/your-org/faceads/internal/display"
	"github.com/your-org/faceads/internal/models"
	"github.com/your-org/faceads/pkg/dto"
)

type fakeReader struct {
	members []models.Member // most recent first
}

func (f *fakeReader) GetLatestMember(_ context.Context) (*models.Member, error) {
	if len(f.members) == 0 {
		return nil, nil
	}
	m := f.members[0]
	return &m, nil
}

func (f *fakeReader) GetMember(_ context.Context, id string) (*models.Member, error) {
	for _, m := range f.members {
		if m.ID == id {
			return &m, nil
		}
	}
	return nil, nil
}

func (f *fakeReader) ListRecentMembers(_ context.Context, limit int) ([]models.Member, error) {
	if limit > len(f.members) {
		limit = len(f.members)
	}
	return f.members[:limit], nil
}

func testMember(id string) models.Member {
	now := time.Now().UTC()
	return models.Member{
		ID:          id,
		FirstSeenAt: now.Add(-time.Hour),
		LastSeenAt:  now,
		Purchases: []models.Purchase{
			{MemberID: id, Item: "coffee beans", Amount: 2, Timestamp: now.Add(-3 * time.Hour)},
			{MemberID: id, Item: "bread", Amount: 1, Timestamp: now.Add(-26 * time.Hour)},
		},
	}
}

func newTestRouter(t *testing.T, reader handlers.MemberReader, apiKey string, checks ...handlers.Check) http.Handler {
	t.Helper()
	renderer, err := display.NewRenderer(config.DisplayConfig{
		PollInterval:   1500 * time.Millisecond,
		TemplateSource: "file",
		TemplateTTL:    time.Minute,
	}, nil)
	require.NoError(t, err)

	return NewRouter(RouterConfig{
		APIKey:   apiKey,
		Offer:    "10% off",
		Store:    reader,
		Renderer: renderer,
		Hub:      ws.NewHub(nil),
		Checks:   checks,
	})
}

func do(h http.Handler, method, target string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestLatest_Empty(t *testing.T) {
	r := newTestRouter(t, &fakeReader{}, "")

	rec := do(r, http.MethodGet, "/latest", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"member_id":null}`, rec.Body.String())
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}

func TestLatest_ReturnsMostRecent(t *testing.T) {
	r := newTestRouter(t, &fakeReader{members: []models.Member{testMember("bbbb"), testMember("aaaa")}}, "")

	rec := do(r, http.MethodGet, "/latest", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp dto.LatestResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.MemberID)
	assert.Equal(t, "bbbb", *resp.MemberID)
	require.NotNil(t, resp.Member)
	assert.Len(t, resp.Member.Purchases, 2)
}

func TestAd(t *testing.T) {
	id := strings.Repeat("ab", 32)
	r := newTestRouter(t, &fakeReader{members: []models.Member{testMember(id)}}, "")

	t.Run("missing member_id", func(t *testing.T) {
		rec := do(r, http.MethodGet, "/ad", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown member", func(t *testing.T) {
		rec := do(r, http.MethodGet, "/ad?member_id=nobody", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		body := rec.Body.String()
		assert.Contains(t, body, "Member nobody, welcome back!")
		assert.NotContains(t, body, "bought")
	})

	t.Run("full page", func(t *testing.T) {
		rec := do(r, http.MethodGet, "/ad?member_id="+id, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		body := rec.Body.String()
		assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
		assert.Contains(t, body, "<html>")
		assert.Contains(t, body, "Member abababab, welcome back!")
		assert.Contains(t, body, "coffee beans x2")
		assert.Contains(t, body, "10% off")
	})

	t.Run("partial", func(t *testing.T) {
		rec := do(r, http.MethodGet, "/ad?partial=1&member_id="+id, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		body := rec.Body.String()
		assert.NotContains(t, body, "<html>")
		assert.Contains(t, body, `class="card"`)
		assert.Contains(t, body, "bread x1")
	})
}

func TestIndex(t *testing.T) {
	r := newTestRouter(t, &fakeReader{}, "")

	rec := do(r, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/latest")
}

func TestAdminAPI_RequiresKey(t *testing.T) {
	r := newTestRouter(t, &fakeReader{members: []models.Member{testMember("aaaa")}}, "secret")

	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/v1/members", nil).Code)
	assert.Equal(t, http.StatusForbidden, do(r, http.MethodGet, "/v1/members", map[string]string{"X-API-Key": "bad"}).Code)

	rec := do(r, http.MethodGet, "/v1/members", map[string]string{"X-API-Key": "secret"})
	require.Equal(t, http.StatusOK, rec.Code)
	var list dto.MemberListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Total)
	assert.Equal(t, "aaaa", list.Members[0].ID)

	// Signage routes stay open.
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/latest", nil).Code)
}

func TestAdminAPI_Members(t *testing.T) {
	r := newTestRouter(t, &fakeReader{members: []models.Member{testMember("aaaa")}}, "")

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/v1/members?limit=0", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/v1/members?limit=x", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/v1/members/zzzz", nil).Code)

	rec := do(r, http.MethodGet, "/v1/members/aaaa", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var m dto.MemberResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	assert.Equal(t, "aaaa", m.ID)
	_, err := time.Parse(time.RFC3339, m.LastSeen)
	assert.NoError(t, err)
}

func TestHealthAndReadiness(t *testing.T) {
	ok := handlers.Check{Name: "store", Ping: func(context.Context) error { return nil }}
	bad := handlers.Check{Name: "nats", Ping: func(context.Context) error { return errors.New("down") }}

	r := newTestRouter(t, &fakeReader{}, "", ok)
	rec := do(r, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/readyz", nil).Code)

	r = newTestRouter(t, &fakeReader{}, "", ok, bad)
	rec = do(r, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "down")
}

func TestCORS_ReflectsOrigin(t *testing.T) {
	r := newTestRouter(t, &fakeReader{}, "")

	rec := do(r, http.MethodGet, "/latest", map[string]string{"Origin": "http://kiosk.local"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "http://kiosk.local", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSConfig_AllowList(t *testing.T) {
	cfg := corsConfig([]string{"http://a.example"})
	assert.Equal(t, []string{"http://a.example"}, cfg.AllowOrigins)
	assert.Nil(t, cfg.AllowOriginFunc)
	assert.True(t, cfg.AllowCredentials)
}
