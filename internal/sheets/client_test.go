package sheets

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/listing-enricher/internal/retry"
)

func TestFetchPending(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		mode Mode
		want string
	}{
		{"new only", ModeNew, "get_new_asins"},
		{"whole queue", ModeAll, "get_asins"},
		{"default", "", "get_new_asins"},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				require.Equal(t, http.MethodGet, r.Method)
				require.Equal(t, tc.want, r.URL.Query().Get("mode"))
				require.Equal(t, "abc", r.URL.Query().Get("deployment"))
				_, _ = w.Write([]byte(`{"asins":["B0EXAMPLE1","https://amazon.com/dp/B0EXAMPLE2?x=1",12345]}`))
			}))
			defer srv.Close()

			c := NewClient(srv.Client(), time.Second, nil)
			got, err := c.FetchPending(context.Background(), srv.URL+"/exec?deployment=abc", tc.mode)
			require.NoError(t, err)
			require.Equal(t, []string{"B0EXAMPLE1", "https://amazon.com/dp/B0EXAMPLE2?x=1", "12345"}, got)
		})
	}
}

func TestFetchPendingErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/broken" {
			_, _ = w.Write([]byte(`<html>`))
			return
		}
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	c := NewClient(srv.Client(), time.Second, nil)

	_, err := c.FetchPending(context.Background(), srv.URL, ModeNew)
	require.ErrorIs(t, err, ErrStatus)

	_, err = c.FetchPending(context.Background(), srv.URL+"/broken", ModeNew)
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrStatus))

	_, err = c.FetchPending(context.Background(), "not a url", ModeNew)
	require.Error(t, err)
}

func TestWriteRow(t *testing.T) {
	t.Parallel()

	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "write_row", r.URL.Query().Get("mode"))
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), time.Second, nil)
	err := c.WriteRow(context.Background(), srv.URL, Row{
		ASIN:         "B0EXAMPLE1",
		Title:        "Widget",
		Bullets:      JoinBullets([]string{"one", "two"}),
		Brand:        "Acme story",
		BrandInfo:    "Acme story",
		Manufacturer: "",
	})
	require.NoError(t, err)
	require.Equal(t, "B0EXAMPLE1", got["asin"])
	require.Equal(t, "one\ntwo", got["bullets"])
	require.Equal(t, "Acme story", got["brandInfo"])
	require.Contains(t, got, "ocrText")
	require.Contains(t, got, "manufacturerInfo")
}

func TestWriteRowStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), time.Second, nil)
	err := c.WriteRow(context.Background(), srv.URL, Row{ASIN: "B0EXAMPLE1"})
	require.ErrorIs(t, err, ErrStatus)
	require.Contains(t, err.Error(), "B0EXAMPLE1")
}

func TestWriteRowRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		statuses []int
		wantErr  bool
		wantHits int32
	}{
		{"recovers after 5xx", []int{http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusOK}, false, 3},
		{"gives up after attempts", []int{http.StatusInternalServerError, http.StatusInternalServerError, http.StatusInternalServerError, http.StatusOK}, true, 3},
		{"4xx is not retried", []int{http.StatusBadRequest, http.StatusOK}, true, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var hits atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				n := hits.Add(1)
				w.WriteHeader(tt.statuses[n-1])
			}))
			defer srv.Close()

			c := NewClient(srv.Client(), time.Second, nil).
				WithWriteRetry(retry.NewExponential(3, time.Millisecond, 5*time.Millisecond))
			err := c.WriteRow(context.Background(), srv.URL, Row{ASIN: "B0EXAMPLE1"})
			if tt.wantErr {
				require.ErrorIs(t, err, ErrStatus)
			} else {
				require.NoError(t, err)
			}
			require.Equal(t, tt.wantHits, hits.Load())
		})
	}
}

func TestWriteRowRetriesTransportErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	target := srv.URL
	srv.Close()

	c := NewClient(nil, time.Second, nil).
		WithWriteRetry(retry.NewExponential(2, time.Millisecond, time.Millisecond))
	err := c.WriteRow(context.Background(), target, Row{ASIN: "B0EXAMPLE1"})
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrStatus))
	require.Contains(t, err.Error(), "write row B0EXAMPLE1")
}

func TestWriteRowStopsOnCancel(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	c := NewClient(srv.Client(), time.Second, nil).
		WithWriteRetry(retry.NewExponential(5, time.Hour, time.Hour))
	go func() {
		for hits.Load() == 0 {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()
	err := c.WriteRow(ctx, srv.URL, Row{ASIN: "B0EXAMPLE1"})
	require.ErrorIs(t, err, ErrStatus)
	require.Equal(t, int32(1), hits.Load())
}
