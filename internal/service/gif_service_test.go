package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"playforge/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tenorBody = `{
  "results": [
    {
      "id": "1",
      "content_description": "cat typing",
      "media_formats": {
        "gif": {"url": "https://media.example.com/1.gif", "dims": [498, 280]},
        "tinygif": {"url": "https://media.example.com/1-tiny.gif", "dims": [220, 124]}
      }
    },
    {
      "id": "2",
      "content_description": "insecure",
      "media_formats": {"gif": {"url": "http://media.example.com/2.gif"}}
    },
    {
      "id": "3",
      "content_description": "no tiny",
      "media_formats": {"gif": {"url": "https://media.example.com/3.gif"}}
    }
  ]
}`

func newTenorServer(t *testing.T, hits *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		if r.URL.Query().Get("key") != "tenor-key" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		switch r.URL.Path {
		case "/search":
			if r.URL.Query().Get("q") == "" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
		case "/featured":
		default:
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(tenorBody))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGIFService_Search(t *testing.T) {
	var hits int32
	srv := newTenorServer(t, &hits)
	svc := NewGIFService(srv.URL+"/", "tenor-key")

	gifs, err := svc.Search(context.Background(), "cats", 5)
	require.NoError(t, err)
	require.Len(t, gifs, 2, "non-https results are dropped")

	assert.Equal(t, GIF{
		ID:         "1",
		Title:      "cat typing",
		URL:        "https://media.example.com/1.gif",
		PreviewURL: "https://media.example.com/1-tiny.gif",
		Width:      498,
		Height:     280,
	}, gifs[0])
	assert.Equal(t, gifs[1].URL, gifs[1].PreviewURL)

	trending, err := svc.Trending(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, trending, 2)
}

func TestGIFService_Validation(t *testing.T) {
	svc := NewGIFService("https://tenor.invalid", "key")

	_, err := svc.Search(context.Background(), "  ", 10)
	assertValidationError(t, err)

	long := make([]byte, maxGIFQueryLen+1)
	for i := range long {
		long[i] = 'q'
	}
	_, err = svc.Search(context.Background(), string(long), 10)
	assertValidationError(t, err)

	assert.Equal(t, defaultGIFLimit, clampGIFLimit(0))
	assert.Equal(t, maxGIFLimit, clampGIFLimit(500))
	assert.Equal(t, 7, clampGIFLimit(7))
}

func TestGIFService_Disabled(t *testing.T) {
	svc := NewGIFService("", "")
	assert.False(t, svc.Enabled())

	_, err := svc.Search(context.Background(), "cats", 10)
	assertCode(t, err, models.CodeFeatureDisabled)
	_, err = svc.Trending(context.Background(), 10)
	assertCode(t, err, models.CodeFeatureDisabled)
}

func TestGIFService_UpstreamError(t *testing.T) {
	var hits int32
	srv := newTenorServer(t, &hits)
	svc := NewGIFService(srv.URL, "wrong-key")

	_, err := svc.Search(context.Background(), "cats", 10)
	assertCode(t, err, models.CodeUpstream)
	assert.Contains(t, err.Error(), "403")
}

func TestGIFService_CachesResults(t *testing.T) {
	useRedis(t)
	var hits int32
	srv := newTenorServer(t, &hits)
	svc := NewGIFService(srv.URL, "tenor-key")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		gifs, err := svc.Search(ctx, "Cats", 10)
		require.NoError(t, err)
		require.Len(t, gifs, 2)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))

	_, err := svc.Search(ctx, "cats ", 10)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits), "queries are normalized before keying")

	_, err = svc.Search(ctx, "dogs", 10)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}
