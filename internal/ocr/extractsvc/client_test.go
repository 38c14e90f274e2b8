package extractsvc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtract(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/extract-text", r.URL.Path)
		var in map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		require.Equal(t, "https://img.example/a.jpg", in["url"])
		_, _ = w.Write([]byte(`{"text":"  from service \n"}`))
	}))
	defer srv.Close()

	text, err := New(srv.URL+"/", 0, srv.Client()).Extract(context.Background(), "https://img.example/a.jpg")
	require.NoError(t, err)
	require.Equal(t, "from service", text)
}

func TestExtractStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := New(srv.URL+"/extract-text", 0, nil).Extract(context.Background(), "https://img.example/a.jpg")
	require.ErrorContains(t, err, "status 502")
}
