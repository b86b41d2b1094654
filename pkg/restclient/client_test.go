package restclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDo_DecodesAndMapsErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/ok":
			assert.Equal(t, "5", r.URL.Query().Get("limit"))
			_ = json.NewEncoder(w).Encode(map[string]string{"message": "hi"})
		case "/missing":
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"bot not found"}`))
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", Options{})

	var out struct {
		Message string `json:"message"`
	}
	require.NoError(t, c.Do(context.Background(), http.MethodGet, "/ok", &RequestOptions{Params: map[string]any{"limit": 5}}, &out))
	assert.Equal(t, "hi", out.Message)

	err := c.Do(context.Background(), http.MethodGet, "/missing", nil, nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, StatusOf(err))
	assert.Contains(t, err.Error(), "bot not found")

	err = c.Do(context.Background(), http.MethodGet, "/boom", nil, nil)
	assert.Equal(t, http.StatusBadGateway, StatusOf(err))

	_, err = c.DoRequest(context.Background(), "PATCH", "/ok", nil, nil)
	assert.Error(t, err)
}
