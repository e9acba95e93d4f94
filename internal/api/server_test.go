package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/craftwatch/internal/config"
	"github.com/JakeFAU/craftwatch/internal/crawler"
	"github.com/JakeFAU/craftwatch/internal/inventory"
	"github.com/JakeFAU/craftwatch/internal/results"
	"github.com/JakeFAU/craftwatch/internal/storage/memory"
)

func sampleInventory(asOf string) inventory.Inventory {
	return inventory.Inventory{
		Metadata:   inventory.Metadata{RunID: "run-" + asOf, AsOf: asOf, CapturedAt: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)},
		Categories: []string{"IPA", "Stout"},
		Breweries: []inventory.Brewery{
			{ShortName: "Alpha", Name: "Alpha Brewing"},
			{ShortName: "Beta", Name: "Beta Beer Co", New: true},
		},
		Items: []inventory.Item{
			{BreweryID: "alpha", Name: "IPA", Available: true, Categories: []string{"IPA"}, URL: "https://alpha.example.com/ipa"},
			{BreweryID: "alpha", Name: "Porter", Available: false, URL: "https://alpha.example.com/porter"},
			{BreweryID: "beta", Name: "Stout", Available: true, New: true, Categories: []string{"Stout"}, URL: "https://beta.example.com/stout"},
		},
	}
}

func newTestServer(t *testing.T, cfg config.Config) (*Server, *memory.RunStore) {
	t.Helper()
	ctx := context.Background()
	manager, err := results.New(memory.NewBlobStore(), results.Config{Prefix: "inventory"})
	require.NoError(t, err)
	_, err = manager.Write(ctx, sampleInventory("2024-05-01"), nil)
	require.NoError(t, err)
	_, err = manager.Write(ctx, sampleInventory("2024-05-02"), nil)
	require.NoError(t, err)

	runs := memory.NewRunStore()
	return NewServer(manager, runs, cfg, zap.NewNop()), runs
}

func get(t *testing.T, s *Server, target string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealthAndReady(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, config.Config{})
	assert.Equal(t, http.StatusOK, get(t, s, "/healthz").Code)
	assert.Equal(t, http.StatusOK, get(t, s, "/readyz").Code)
}

func TestReadyWithoutInventory(t *testing.T) {
	t.Parallel()

	manager, err := results.New(memory.NewBlobStore(), results.Config{})
	require.NoError(t, err)
	s := NewServer(manager, nil, config.Config{}, nil)

	assert.Equal(t, http.StatusOK, get(t, s, "/readyz").Code)
	assert.Equal(t, http.StatusNotFound, get(t, s, "/v1/inventory").Code)
}

type brokenReader struct{}

func (brokenReader) Latest(context.Context) (inventory.Inventory, error) {
	return inventory.Inventory{}, errors.New("bucket gone")
}

func (brokenReader) ForDate(context.Context, string) (inventory.Inventory, error) {
	return inventory.Inventory{}, errors.New("bucket gone")
}

func TestReadyFailsWhenStoreBroken(t *testing.T) {
	t.Parallel()

	s := NewServer(brokenReader{}, nil, config.Config{}, nil)
	assert.Equal(t, http.StatusServiceUnavailable, get(t, s, "/readyz").Code)
	assert.Equal(t, http.StatusInternalServerError, get(t, s, "/v1/inventory").Code)
}

func TestGetInventory(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, config.Config{})

	rec := get(t, s, "/v1/inventory")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2024-05-02", decode[inventory.Inventory](t, rec).Metadata.AsOf)

	rec = get(t, s, "/v1/inventory?date=2024-05-01")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "run-2024-05-01", decode[inventory.Inventory](t, rec).Metadata.RunID)

	assert.Equal(t, http.StatusNotFound, get(t, s, "/v1/inventory?date=2023-01-01").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, s, "/v1/inventory?date=yesterday").Code)
}

func TestListItemsFilters(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, config.Config{})

	tests := []struct {
		query string
		want  []string
	}{
		{"", []string{"IPA", "Porter", "Stout"}},
		{"?brewery=alpha", []string{"IPA", "Porter"}},
		{"?category=Stout", []string{"Stout"}},
		{"?available=false", []string{"Porter"}},
		{"?new=true", []string{"Stout"}},
		{"?brewery=alpha&available=true", []string{"IPA"}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rec := get(t, s, "/v1/items"+tt.query)
			require.Equal(t, http.StatusOK, rec.Code)
			resp := decode[itemsResponse](t, rec)
			names := make([]string, 0, len(resp.Items))
			for _, item := range resp.Items {
				names = append(names, item.Name)
			}
			assert.Equal(t, tt.want, names)
			assert.Equal(t, len(tt.want), resp.Count)
		})
	}

	assert.Equal(t, http.StatusBadRequest, get(t, s, "/v1/items?available=maybe").Code)
}

func TestBreweries(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, config.Config{})

	rec := get(t, s, "/v1/breweries")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[struct {
		Breweries []breweryView `json:"breweries"`
	}](t, rec)
	require.Len(t, resp.Breweries, 2)
	assert.Equal(t, "alpha", resp.Breweries[0].ID)
	assert.Equal(t, 2, resp.Breweries[0].Items)
	assert.True(t, resp.Breweries[1].New)

	rec = get(t, s, "/v1/breweries/beta")
	require.Equal(t, http.StatusOK, rec.Code)
	detail := decode[struct {
		Brewery breweryView      `json:"brewery"`
		Items   []inventory.Item `json:"items"`
	}](t, rec)
	assert.Equal(t, "Beta Beer Co", detail.Brewery.Name)
	require.Len(t, detail.Items, 1)
	assert.Equal(t, "Stout", detail.Items[0].Name)

	assert.Equal(t, http.StatusNotFound, get(t, s, "/v1/breweries/gamma").Code)
}

func TestLatestRun(t *testing.T) {
	t.Parallel()

	s, runs := newTestServer(t, config.Config{})
	assert.Equal(t, http.StatusNotFound, get(t, s, "/v1/runs/latest").Code)

	require.NoError(t, runs.RecordRun(context.Background(), crawler.RunRecord{
		RunID: "run-9", AsOf: "2024-05-02", CapturedAt: time.Now().UTC(), Items: 3, Breweries: 2,
	}))
	rec := get(t, s, "/v1/runs/latest")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "run-9", decode[crawler.RunRecord](t, rec).RunID)

	noRuns := NewServer(brokenReader{}, nil, config.Config{}, nil)
	assert.Equal(t, http.StatusNotFound, get(t, noRuns, "/v1/runs/latest").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, config.Config{})
	get(t, s, "/healthz")
	rec := get(t, s, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestAPIKeyMiddleware(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, config.Config{Auth: config.AuthConfig{Enabled: true, APIKey: "secret"}})

	assert.Equal(t, http.StatusOK, get(t, s, "/healthz").Code, "health checks stay open")
	assert.Equal(t, http.StatusForbidden, get(t, s, "/v1/inventory").Code)
	assert.Equal(t, http.StatusOK, get(t, s, "/v1/inventory", "X-API-Key", "secret").Code)
	assert.Equal(t, http.StatusOK, get(t, s, "/v1/inventory?api_key=secret").Code)
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, config.Config{})
	assert.NotEmpty(t, get(t, s, "/healthz").Header().Get("X-Request-ID"))
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	_, _, err := rw.Hijack()
	require.EqualError(t, err, "hijacker not supported")

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	require.NoError(t, err)
	require.NotNil(t, buf)
	require.NoError(t, conn.Close())
	require.NoError(t, h.CloseClient())
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client != nil {
		if err := h.client.Close(); err != nil {
			return fmt.Errorf("close hijacker client: %w", err)
		}
	}
	return nil
}
