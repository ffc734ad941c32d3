package nasapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTokens hands out current and rotates to next on Refresh.
type fakeTokens struct {
	mu        sync.Mutex
	current   string
	next      string
	refreshes int
}

func (f *fakeTokens) Token() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.current, nil
}

func (f *fakeTokens) Refresh(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.refreshes++
	f.current = f.next

	return nil
}

func bearerOf(r *http.Request) string {
	return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
}

func TestClient_RefreshesAndReplaysOnUnauthorized(t *testing.T) {
	t.Parallel()

	var requests int

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++

		if bearerOf(r) != "fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		w.Write([]byte(`{"files":[{"path":"a.txt","name":"a.txt","size":1,"hash":"h","mtime_ns":5}]}`))
	}))
	defer srv.Close()

	tokens := &fakeTokens{current: "stale", next: "fresh"}
	client := NewClient(srv.URL, tokens, srv.Client(), nil)

	files, err := client.ListFiles(context.Background(), "/")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "a.txt", files[0].Path)

	assert.Equal(t, 1, tokens.refreshes)
	assert.Equal(t, 2, requests)
}

func TestClient_SecondUnauthorizedPropagates(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	tokens := &fakeTokens{current: "stale", next: "still-bad"}
	client := NewClient(srv.URL, tokens, srv.Client(), nil)

	_, err := client.ListFiles(context.Background(), "/")
	require.ErrorIs(t, err, ErrUnauthorized)

	// Exactly one refresh attempt, never a loop.
	assert.Equal(t, 1, tokens.refreshes)
}

func TestClient_ErrorResponseCarriesDetails(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("X-Request-Id", "req-42")
		w.WriteHeader(http.StatusInsufficientStorage)
		w.Write([]byte("volume full"))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, StaticToken("tok"), srv.Client(), nil)

	err := client.DeleteFile(context.Background(), "big.iso")
	require.ErrorIs(t, err, ErrQuotaExceeded)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "req-42", apiErr.RequestID)
	assert.Contains(t, apiErr.Message, "volume full")
}

func TestClient_TransportFailureWrapsNetwork(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // connection refused from here on

	client := NewClient(srv.URL, StaticToken("tok"), nil, nil)

	_, err := client.ListFiles(context.Background(), "/")
	assert.ErrorIs(t, err, ErrNetwork)
}

func TestUploadChunk_SendsHashHeader(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/api/v1/uploads/u1/chunks/3", r.URL.Path)
		assert.Equal(t, "abc123", r.Header.Get("X-Chunk-Hash"))

		w.Write([]byte(`{"received":true,"completed":false}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, StaticToken("tok"), srv.Client(), nil)

	receipt, err := client.UploadChunk(context.Background(),
		"u1", 3, "abc123", strings.NewReader("data"), 4)
	require.NoError(t, err)
	assert.True(t, receipt.Received)
	assert.False(t, receipt.Completed)
}

func TestUploadChunk_IntegrityRejection(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, StaticToken("tok"), srv.Client(), nil)

	_, err := client.UploadChunk(context.Background(),
		"u1", 0, "wrong", strings.NewReader("data"), 4)
	assert.ErrorIs(t, err, ErrChunkIntegrity)
}

func TestUploadChunk_TransportFailureKeepsCause(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // connection refused from here on

	client := NewClient(srv.URL, StaticToken("tok"), nil, nil)

	_, err := client.UploadChunk(context.Background(),
		"u1", 0, "h", strings.NewReader("data"), 4)
	require.ErrorIs(t, err, ErrNetwork)

	// The underlying transport error stays visible alongside the sentinel.
	assert.Contains(t, err.Error(), "refused")
}

func TestUploadChunk_NoRefreshReplay(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	tokens := &fakeTokens{current: "stale", next: "fresh"}
	client := NewClient(srv.URL, tokens, srv.Client(), nil)

	_, err := client.UploadChunk(context.Background(),
		"u1", 0, "h", strings.NewReader("data"), 4)
	require.ErrorIs(t, err, ErrUnauthorized)

	// The chunk body cannot be replayed, so no refresh is attempted.
	assert.Zero(t, tokens.refreshes)
}

func TestHealth(t *testing.T) {
	t.Parallel()

	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/health", r.URL.Path)
		w.Write([]byte("ok"))
	}))
	defer healthy.Close()

	client := NewClient(healthy.URL, StaticToken("tok"), healthy.Client(), nil)
	assert.NoError(t, client.Health(context.Background()))

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer broken.Close()

	client = NewClient(broken.URL, StaticToken("tok"), broken.Client(), nil)
	assert.ErrorIs(t, client.Health(context.Background()), ErrServerError)
}

func TestStaticToken_RefuseRefresh(t *testing.T) {
	t.Parallel()

	tok, err := StaticToken("abc").Token()
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)

	assert.ErrorIs(t, StaticToken("abc").Refresh(context.Background()), ErrUnauthorized)
}
