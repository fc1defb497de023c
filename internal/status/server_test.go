package status

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/oxidems/server/internal/config"
	"github.com/oxidems/server/internal/world"
)

type fakeDB struct{ err error }

func (f fakeDB) Ping(context.Context) error { return f.err }

type fakeSessions int

func (f fakeSessions) SessionCount() int { return int(f) }

func newTestServer(t *testing.T, db Pinger) (*Server, *world.Table) {
	t.Helper()
	worlds := world.NewTable([]config.WorldConfig{
		{ID: 0, Name: "Scania", Channels: 2, ChannelCapacity: 2},
		{ID: 1, Name: "Bera", Channels: 1, ChannelCapacity: 10},
	})
	s := NewServer(Options{ServerName: "test", StartTime: time.Now().Add(-time.Minute)},
		db, fakeSessions(4), worlds, zap.NewNop())
	return s, worlds
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, fakeDB{})
	rec := get(t, s, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	s, _ = newTestServer(t, fakeDB{err: errors.New("db down")})
	rec = get(t, s, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "db down")
}

func TestStatusReport(t *testing.T) {
	s, worlds := newTestServer(t, fakeDB{})
	require.True(t, worlds.Join(0, 0))
	require.True(t, worlds.Join(0, 0))
	require.True(t, worlds.Join(0, 1))

	rec := get(t, s, "/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var r Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &r))
	assert.Equal(t, "test", r.Name)
	assert.GreaterOrEqual(t, r.UptimeSeconds, int64(59))
	assert.Equal(t, 4, r.Sessions)
	require.Len(t, r.Worlds, 2)

	assert.Equal(t, "Scania", r.Worlds[0].Name)
	assert.Equal(t, 3, r.Worlds[0].Population)
	assert.Equal(t, 4, r.Worlds[0].Capacity)
	assert.Equal(t, "highly_populated", r.Worlds[0].Status)
	assert.Equal(t, []int{2, 1}, r.Worlds[0].Channels)

	assert.Equal(t, "normal", r.Worlds[1].Status)
	assert.Equal(t, []int{0}, r.Worlds[1].Channels)
}

func TestServeShutsDownOnCancel(t *testing.T) {
	worlds := world.NewTable(nil)
	s := NewServer(Options{BindAddress: "127.0.0.1:0"}, fakeDB{}, fakeSessions(0), worlds, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
}
