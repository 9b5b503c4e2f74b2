package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"playforge/internal/config"
	"playforge/internal/featureflags"
	"playforge/internal/models"
	"playforge/internal/testutil"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type testServer struct {
	srv *Server
	app *fiber.App
	db  *gorm.DB
	mr  *miniredis.Miniredis
	rdb *redis.Client
}

func newTestServer(t *testing.T, mutate ...func(*config.Config)) *testServer {
	t.Helper()
	db := testutil.NewTestDB(t)
	mr, rdb := testutil.NewRedis(t)

	cfg := &config.Config{
		Env:                  "test",
		JWTSecret:            "test-secret-test-secret-test-secret",
		MediaBucketURL:       "mem://",
		ImageMaxUploadSizeMB: 5,
		SignupBonusCoins:     50,
		PaymentWebhookSecret: "hook-secret",
		PublicAppURL:         "https://playforge.test",
	}
	for _, m := range mutate {
		m(cfg)
	}

	srv, err := NewServerWithDeps(cfg, db, rdb)
	require.NoError(t, err)
	t.Cleanup(func() {
		if srv.shutdownFn != nil {
			srv.shutdownFn()
		}
	})
	return &testServer{srv: srv, app: srv.App(), db: db, mr: mr, rdb: rdb}
}

func (ts *testServer) token(t *testing.T, userID uint) string {
	t.Helper()
	tok, _, err := ts.srv.tokens.IssueAccessToken(userID)
	require.NoError(t, err)
	return tok
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any, headers ...string) (*http.Response, []byte) {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := ts.app.Test(req, -1)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, out
}

func decode[T any](t *testing.T, raw []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v), string(raw))
	return v
}

func TestReadinessCheck(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		ts := newTestServer(t)
		resp, _ := ts.do(t, http.MethodGet, "/health/ready", "", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("redis down", func(t *testing.T) {
		ts := newTestServer(t)
		ts.mr.Close()
		resp, body := ts.do(t, http.MethodGet, "/health/ready", "", nil)
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		assert.Contains(t, string(body), `"redis":"unhealthy"`)
	})

	t.Run("database down", func(t *testing.T) {
		gormDB, mock := setupMockDB(t)
		mock.ExpectPing().WillReturnError(errors.New("connection refused"))
		_, rdb := testutil.NewRedis(t)

		s := &Server{config: &config.Config{}, db: gormDB, redis: rdb}
		app := fiber.New()
		app.Get("/health/ready", s.ReadinessCheck)

		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/health/ready", nil))
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestLivenessCheck(t *testing.T) {
	ts := newTestServer(t)
	resp, _ := ts.do(t, http.MethodGet, "/health/live", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuth_SignupLoginLogout(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, http.MethodPost, "/api/auth/signup", "", map[string]string{
		"username": "pixelpat",
		"email":    "pat@example.com",
		"password": "hunter22hunter",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	signup := decode[AuthResponse](t, body)
	assert.NotEmpty(t, signup.Token)
	assert.NotEmpty(t, signup.RefreshToken)
	assert.Equal(t, int64(50), signup.User.Coins)

	resp, body = ts.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"login":    "pat@example.com",
		"password": "hunter22hunter",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	login := decode[AuthResponse](t, body)

	resp, _ = ts.do(t, http.MethodGet, "/api/users/me", login.Token, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodPost, "/api/auth/logout", login.Token, map[string]string{
		"refresh_token": login.RefreshToken,
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = ts.do(t, http.MethodGet, "/api/users/me", login.Token, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, string(body), "revoked")

	resp, _ = ts.do(t, http.MethodPost, "/api/auth/refresh", "", map[string]string{
		"refresh_token": login.RefreshToken,
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// The signup session is unaffected.
	resp, _ = ts.do(t, http.MethodGet, "/api/users/me", signup.Token, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuth_LoginWrongPassword(t *testing.T) {
	ts := newTestServer(t)
	resp, _ := ts.do(t, http.MethodPost, "/api/auth/signup", "", map[string]string{
		"username": "wrongpw", "email": "wrong@example.com", "password": "correct1horse",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := ts.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"login": "wrongpw", "password": "incorrect1horse",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, models.CodeUnauthorized, decode[models.ErrorResponse](t, body).Code)
}

func TestAuth_RefreshRotates(t *testing.T) {
	ts := newTestServer(t)
	user := testutil.CreateUser(t, ts.db, "rotator", 0)
	refresh, _, err := ts.srv.tokens.IssueRefreshToken(user.ID)
	require.NoError(t, err)

	resp, body := ts.do(t, http.MethodPost, "/api/auth/refresh", "", map[string]string{"refresh_token": refresh})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	next := decode[AuthResponse](t, body)
	assert.NotEqual(t, refresh, next.RefreshToken)

	resp, _ = ts.do(t, http.MethodPost, "/api/auth/refresh", "", map[string]string{"refresh_token": refresh})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// An access token is not a refresh token.
	resp, _ = ts.do(t, http.MethodPost, "/api/auth/refresh", "", map[string]string{"refresh_token": next.Token})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAuthRequired_MissingToken(t *testing.T) {
	ts := newTestServer(t)
	resp, body := ts.do(t, http.MethodGet, "/api/users/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Authorization required", decode[models.ErrorResponse](t, body).Error)
}

func TestWSTicket_SingleUse(t *testing.T) {
	ts := newTestServer(t)
	user := testutil.CreateUser(t, ts.db, "socketeer", 0)

	resp, body := ts.do(t, http.MethodPost, "/api/ws/ticket", ts.token(t, user.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	ticket := decode[map[string]any](t, body)["ticket"].(string)
	assert.True(t, ts.mr.Exists(wsTicketKeyPrefix+ticket))

	// Authenticates, then fails the upgrade because this is plain HTTP.
	resp, _ = ts.do(t, http.MethodGet, "/api/ws?ticket="+ticket, "", nil)
	assert.Equal(t, fiber.StatusUpgradeRequired, resp.StatusCode)
	assert.False(t, ts.mr.Exists(wsTicketKeyPrefix+ticket))

	resp, _ = ts.do(t, http.MethodGet, "/api/ws?ticket="+ticket, "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestGames_DraftVisibility(t *testing.T) {
	ts := newTestServer(t)
	owner := testutil.CreateUser(t, ts.db, "owner", 0)
	other := testutil.CreateUser(t, ts.db, "other", 0)
	draft := testutil.CreateGame(t, ts.db, owner.ID, "Secret Draft", models.GameStatusDraft)
	path := "/api/games/" + uintStr(draft.ID)

	resp, _ := ts.do(t, http.MethodGet, path, "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodGet, path, ts.token(t, other.ID), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body := ts.do(t, http.MethodGet, path, ts.token(t, owner.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Equal(t, "Secret Draft", decode[models.Game](t, body).Title)

	resp, _ = ts.do(t, http.MethodPost, path+"/publish", ts.token(t, other.ID), nil)
	assert.Contains(t, []int{http.StatusForbidden, http.StatusNotFound}, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodPost, path+"/publish", ts.token(t, owner.ID), nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodGet, path, "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestGames_CreateRejectsBadID(t *testing.T) {
	ts := newTestServer(t)
	resp, body := ts.do(t, http.MethodGet, "/api/games/abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Invalid ID", decode[models.ErrorResponse](t, body).Error)
}

func TestGeneration_FeatureFlagGate(t *testing.T) {
	ts := newTestServer(t)
	user := testutil.CreateUser(t, ts.db, "maker", 100)

	resp, body := ts.do(t, http.MethodPost, "/api/generate/game", ts.token(t, user.ID), map[string]string{
		"prompt": "a snake game",
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, models.CodeFeatureDisabled, decode[models.ErrorResponse](t, body).Code)

	// Flag on, but no LLM provider configured.
	ts = newTestServer(t, func(c *config.Config) { c.FeatureFlags = featureflags.AIGeneration + "=true" })
	user = testutil.CreateUser(t, ts.db, "maker", 100)
	resp, body = ts.do(t, http.MethodPost, "/api/generate/game", ts.token(t, user.ID), map[string]string{
		"prompt": "a snake game",
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, models.CodeFeatureDisabled, decode[models.ErrorResponse](t, body).Code)
}

func TestFeatureFlags_Mine(t *testing.T) {
	ts := newTestServer(t, func(c *config.Config) { c.FeatureFlags = "voice_chat=true,ai_generation=false" })
	user := testutil.CreateUser(t, ts.db, "flagged", 0)

	resp, body := ts.do(t, http.MethodGet, "/api/feature-flags", ts.token(t, user.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	flags := decode[map[string]bool](t, body)
	assert.True(t, flags[featureflags.VoiceChat])
	assert.False(t, flags[featureflags.AIGeneration])

	resp, _ = ts.do(t, http.MethodGet, "/api/admin/feature-flags", ts.token(t, user.ID), nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestFeatureFlags_AdminOverride(t *testing.T) {
	ts := newTestServer(t)
	admin := testutil.CreateUser(t, ts.db, "flagadmin", 0)
	require.NoError(t, ts.db.Model(admin).Update("is_admin", true).Error)
	player := testutil.CreateUser(t, ts.db, "flagplayer", 0)
	adminToken := ts.token(t, admin.ID)

	resp, _ := ts.do(t, http.MethodPut, "/api/admin/feature-flags/"+featureflags.VoiceChat, adminToken,
		map[string]string{"value": "sometimes"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodPut, "/api/admin/feature-flags/"+featureflags.VoiceChat, ts.token(t, player.ID),
		map[string]string{"value": "on"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodPut, "/api/admin/feature-flags/"+featureflags.VoiceChat, adminToken,
		map[string]string{"value": "on"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := ts.do(t, http.MethodGet, "/api/feature-flags", ts.token(t, player.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decode[map[string]bool](t, body)[featureflags.VoiceChat])
}

func TestCoins_PurchaseCompletion(t *testing.T) {
	ts := newTestServer(t)
	buyer := testutil.CreateUser(t, ts.db, "buyer", 0)
	tok := ts.token(t, buyer.ID)

	resp, body := ts.do(t, http.MethodPost, "/api/coins/purchases", tok, map[string]string{"package_code": "starter"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	purchase := decode[models.CoinPurchase](t, body)
	completePath := "/api/coins/purchases/" + purchase.ProviderRef + "/complete"

	resp, _ = ts.do(t, http.MethodPost, completePath, tok, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode, "buyers cannot complete their own purchase")

	resp, _ = ts.do(t, http.MethodPost, completePath, "", nil, webhookSecretHeader, "wrong")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body = ts.do(t, http.MethodPost, completePath, "", nil, webhookSecretHeader, "hook-secret")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Equal(t, true, decode[map[string]any](t, body)["credited"])

	resp, body = ts.do(t, http.MethodPost, completePath, "", nil, webhookSecretHeader, "hook-secret")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, decode[map[string]any](t, body)["credited"])

	resp, body = ts.do(t, http.MethodGet, "/api/coins/balance", tok, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(100), decode[map[string]any](t, body)["balance"])
}

func TestAdmin_BanInvalidatesLiveTokens(t *testing.T) {
	ts := newTestServer(t)
	admin := testutil.CreateUser(t, ts.db, "admin", 0)
	require.NoError(t, ts.db.Model(admin).Update("is_admin", true).Error)
	target := testutil.CreateUser(t, ts.db, "target", 0)
	targetTok := ts.token(t, target.ID)

	resp, _ := ts.do(t, http.MethodGet, "/api/users/me", targetTok, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodPost, "/api/admin/users/"+uintStr(admin.ID)+"/ban", ts.token(t, admin.ID), nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := ts.do(t, http.MethodPost, "/api/admin/users/"+uintStr(target.ID)+"/ban", ts.token(t, admin.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.True(t, decode[models.User](t, body).IsBanned)

	for _, path := range []string{"/api/users/me", "/api/coins/balance", "/api/notifications", "/api/feature-flags"} {
		resp, body = ts.do(t, http.MethodGet, path, targetTok, nil)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode, path)
		assert.Equal(t, "Account is banned", decode[models.ErrorResponse](t, body).Error, path)
	}

	// Public reads still work but no longer see the banned account.
	resp, _ = ts.do(t, http.MethodGet, "/api/games", targetTok, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodPost, "/api/admin/users/"+uintStr(target.ID)+"/unban", ts.token(t, admin.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodGet, "/api/users/me", targetTok, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMatchmaking_QueueLifecycle(t *testing.T) {
	ts := newTestServer(t)
	owner := testutil.CreateUser(t, ts.db, "designer", 0)
	game := testutil.CreateGame(t, ts.db, owner.ID, "Duel", models.GameStatusPublished)
	p1 := testutil.CreateUser(t, ts.db, "p1", 0)
	tok := ts.token(t, p1.ID)

	resp, _ := ts.do(t, http.MethodGet, "/api/matchmaking/queue", tok, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body := ts.do(t, http.MethodPost, "/api/matchmaking/queue", tok, map[string]uint{"game_id": game.ID})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	resp, _ = ts.do(t, http.MethodGet, "/api/matchmaking/queue", tok, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = ts.do(t, http.MethodDelete, "/api/matchmaking/queue", tok, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, decode[map[string]any](t, body)["cancelled"])

	resp, _ = ts.do(t, http.MethodGet, "/api/matchmaking/queue", tok, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestVoice_RequiresFlagAndParticipant(t *testing.T) {
	ts := newTestServer(t)
	user := testutil.CreateUser(t, ts.db, "talker", 0)

	resp, _ := ts.do(t, http.MethodGet, "/api/ws/voice?room=abc", ts.token(t, user.ID), nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	ts = newTestServer(t, func(c *config.Config) { c.FeatureFlags = featureflags.VoiceChat + "=true" })
	user = testutil.CreateUser(t, ts.db, "talker", 0)

	resp, _ = ts.do(t, http.MethodGet, "/api/ws/voice", ts.token(t, user.ID), nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := ts.do(t, http.MethodGet, "/api/ws/voice?room=not-a-room", ts.token(t, user.ID), nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "Not a player in this match", decode[models.ErrorResponse](t, body).Error)
}

func TestErrorHandler_UnknownRoute(t *testing.T) {
	ts := newTestServer(t)
	resp, body := ts.do(t, http.MethodGet, "/does-not-exist", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.NotEmpty(t, decode[models.ErrorResponse](t, body).Error)
}

func uintStr(id uint) string {
	b, _ := json.Marshal(id)
	return string(b)
}
