package ocrspace

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/listing-enricher/internal/ocr"
)

func TestGetEncodesQuery(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		q := r.URL.Query()
		require.Equal(t, "k1", q.Get("apikey"))
		require.Equal(t, "https://img.example/a.jpg", q.Get("url"))
		require.Equal(t, "eng", q.Get("language"))
		require.Equal(t, "2", q.Get("OCREngine"))
		require.Equal(t, "true", q.Get("scale"))
		require.Equal(t, "false", q.Get("isTable"))
		require.Equal(t, "true", q.Get("detectOrientation"))
		_, _ = w.Write([]byte(`{"ParsedResults":[{"ParsedText":" Hello \r\n"},{"ParsedText":"World"}],"OCRExitCode":1,"IsErroredOnProcessing":false}`))
	}))
	defer srv.Close()

	c := New(Config{GetEndpoint: srv.URL, PostEndpoint: srv.URL})
	text, err := c.Get(context.Background(), ocr.Request{
		ImageURL: "https://img.example/a.jpg",
		APIKey:   "k1",
		Params:   ocr.Params{Name: "orientation", DetectOrientation: true},
	})
	require.NoError(t, err)
	require.Equal(t, "Hello\nWorld", text)
}

func TestPostUsesFormAndHeader(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "k2", r.Header.Get("apikey"))
		require.NoError(t, r.ParseForm())
		require.Equal(t, "https://img.example/a.jpg", r.PostForm.Get("url"))
		require.Equal(t, "1", r.PostForm.Get("OCREngine"))
		require.Empty(t, r.URL.Query().Get("apikey"))
		_, _ = w.Write([]byte(`{"ParsedResults":[{"ParsedText":"posted"}],"IsErroredOnProcessing":false}`))
	}))
	defer srv.Close()

	c := New(Config{GetEndpoint: srv.URL, PostEndpoint: srv.URL})
	text, err := c.Post(context.Background(), ocr.Request{ImageURL: "https://img.example/a.jpg", APIKey: "k2", Params: ocr.Params{Engine: 1}})
	require.NoError(t, err)
	require.Equal(t, "posted", text)
}

func TestProcessingErrorAndStatus(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"errored string", http.StatusOK, `{"IsErroredOnProcessing":true,"ErrorMessage":"bad image"}`, "bad image"},
		{"errored list", http.StatusOK, `{"IsErroredOnProcessing":true,"ErrorMessage":["a","b"]}`, "a; b"},
		{"server error", http.StatusForbidden, `{}`, "status 403"},
		{"not json", http.StatusOK, `<html>`, "decode response"},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			c := New(Config{GetEndpoint: srv.URL})
			_, err := c.Get(context.Background(), ocr.Request{ImageURL: "https://img.example/a.jpg", APIKey: "secret"})
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.want)
			require.NotContains(t, err.Error(), "secret")
		})
	}
}

func TestGetTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := New(Config{GetEndpoint: srv.URL, GetTimeout: 20 * time.Millisecond})
	start := time.Now()
	_, err := c.Get(context.Background(), ocr.Request{ImageURL: "https://img.example/a.jpg"})
	require.Error(t, err)
	require.Less(t, time.Since(start), 2*time.Second)
}

type countingLimiter struct{ calls int }

func (l *countingLimiter) Wait(_ context.Context, rawURL string) error {
	if strings.HasPrefix(rawURL, "http") {
		l.calls++
	}
	return nil
}

func TestLimiterConsulted(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"ParsedResults":[]}`))
	}))
	defer srv.Close()

	lim := &countingLimiter{}
	c := New(Config{GetEndpoint: srv.URL, PostEndpoint: srv.URL, Limiter: lim})
	text, err := c.Get(context.Background(), ocr.Request{ImageURL: "https://img.example/a.jpg"})
	require.NoError(t, err)
	require.Empty(t, text)
	_, _ = c.Post(context.Background(), ocr.Request{ImageURL: "https://img.example/a.jpg"})
	require.Equal(t, 2, lim.calls)
}
