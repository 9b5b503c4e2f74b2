package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"playforge/internal/middleware"
	"playforge/internal/models"
	"playforge/internal/testutil"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// setupMockDB returns a postgres-dialect gorm DB over sqlmock. Pings are
// monitored and the one gorm issues on open is already expected.
func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	mock.ExpectPing()
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: db}), &gorm.Config{})
	require.NoError(t, err)
	return gormDB, mock
}

// serve runs one request against a single-route app.
func serve(t *testing.T, route string, h fiber.Handler, method, target, body string) (*http.Response, []byte) {
	t.Helper()
	app := fiber.New()
	app.Add(method, route, h)

	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp, readBody(t, resp)
}

func TestHumanizeParam(t *testing.T) {
	for param, want := range map[string]string{
		"id":          "ID",
		"gameId":      "game ID",
		"commentId":   "comment ID",
		"matchRoomId": "match room ID",
		"ref":         "ref",
	} {
		assert.Equal(t, want, humanizeParam(param), param)
	}
}

func TestParsePagination(t *testing.T) {
	tests := []struct {
		query      string
		wantLimit  int
		wantOffset int
	}{
		{"", 25, 0},
		{"?limit=10&offset=30", 10, 30},
		{"?limit=0&offset=-4", 25, 0},
		{"?limit=5000", maxPaginationLimit, 0},
		{"?limit=abc", 25, 0},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			var got Pagination
			serve(t, "/items", func(c *fiber.Ctx) error {
				got = parsePagination(c, 25)
				return nil
			}, http.MethodGet, "/items"+tt.query, "")
			assert.Equal(t, Pagination{Limit: tt.wantLimit, Offset: tt.wantOffset}, got)
		})
	}
}

func TestParseID(t *testing.T) {
	s := &Server{}
	tests := []struct {
		param, value string
		wantStatus   int
		wantErr      string
	}{
		{"id", "42", http.StatusOK, ""},
		{"id", "abc", http.StatusBadRequest, "Invalid ID"},
		{"id", "0", http.StatusBadRequest, "Invalid ID"},
		{"id", "-3", http.StatusBadRequest, "Invalid ID"},
		{"commentId", "x", http.StatusBadRequest, "Invalid comment ID"},
	}
	for _, tt := range tests {
		t.Run(tt.param+"="+tt.value, func(t *testing.T) {
			resp, body := serve(t, "/items/:"+tt.param, func(c *fiber.Ctx) error {
				id, err := s.parseID(c, tt.param)
				if err != nil {
					return nil
				}
				return c.JSON(fiber.Map{"id": id})
			}, http.MethodGet, "/items/"+tt.value, "")

			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			if tt.wantErr != "" {
				e := decode[models.ErrorResponse](t, body)
				assert.Equal(t, tt.wantErr, e.Error)
				assert.Equal(t, models.CodeValidation, e.Code)
			}
		})
	}
}

func TestParseBody(t *testing.T) {
	s := &Server{}
	type payload struct {
		Title string `json:"title" validate:"required,max=5"`
	}
	h := func(c *fiber.Ctx) error {
		var p payload
		if err := s.parseBody(c, &p); err != nil {
			return nil
		}
		return c.JSON(p)
	}

	resp, _ := serve(t, "/p", h, http.MethodPost, "/p", `{"title":"ok"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := serve(t, "/p", h, http.MethodPost, "/p", `{"title":`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Invalid request body", decode[models.ErrorResponse](t, body).Error)

	resp, _ = serve(t, "/p", h, http.MethodPost, "/p", `{"title":"far too long"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCurrentUserID(t *testing.T) {
	var anon, authed uint
	serve(t, "/u", func(c *fiber.Ctx) error {
		anon = currentUserID(c)
		c.Locals("userID", uint(12))
		authed = currentUserID(c)
		return nil
	}, http.MethodGet, "/u", "")
	assert.Zero(t, anon)
	assert.Equal(t, uint(12), authed)
}

func TestBanMarker(t *testing.T) {
	ctx := context.Background()
	mr, rdb := testutil.NewRedis(t)
	s := &Server{redis: rdb}

	s.markBanned(ctx, 7, true)
	assert.True(t, s.isBanned(ctx, 7))
	assert.False(t, s.isBanned(ctx, 8))
	assert.Equal(t, middleware.AccessTokenTTL, mr.TTL(bannedKeyPrefix+"7"))

	s.markBanned(ctx, 7, false)
	assert.False(t, s.isBanned(ctx, 7))

	noRedis := &Server{}
	noRedis.markBanned(ctx, 7, true)
	assert.False(t, noRedis.isBanned(ctx, 7))
}
