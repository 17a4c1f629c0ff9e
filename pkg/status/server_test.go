package status

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/VetheonGames/meshtun/pkg/bridge"
	"github.com/VetheonGames/meshtun/pkg/mesh"
	"github.com/multiformats/go-multiaddr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticReporter bridge.Status

func (r staticReporter) Status() bridge.Status { return bridge.Status(r) }

type staticPaths []mesh.PathEntry

func (p staticPaths) Paths() []mesh.PathEntry { return p }

func newTestServer(t *testing.T) *Server {
	t.Helper()

	reg := prometheus.NewRegistry()
	bridge.NewMetrics(reg, "server")

	reporter := staticReporter{
		Role:        "server",
		Fingerprint: "aabb",
		CurrentLink: "0a",
		ActiveLinks: 1,
		Counters:    bridge.Counters{PacketsFromTUN: 3},
	}
	paths := staticPaths{{
		Fingerprint: mesh.Fingerprint{0xcc},
		Name:        mesh.NewDestinationName("meshtun", "client"),
		Peer:        "peer",
		Addrs:       []multiaddr.Multiaddr{multiaddr.StringCast("/ip4/192.0.2.1/tcp/4242")},
		LastSeen:    time.Unix(1700000000, 0).UTC(),
	}}
	return NewServer(reporter, paths, reg)
}

func TestPing(t *testing.T) {
	s := newTestServer(t)

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/ping", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestStatus(t *testing.T) {
	s := newTestServer(t)

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/status", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var got bridge.Status
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, "server", got.Role)
	assert.Equal(t, "0a", got.CurrentLink)
	assert.Equal(t, uint64(3), got.Counters.PacketsFromTUN)
}

func TestPaths(t *testing.T) {
	s := newTestServer(t)

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/paths", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var got []pathResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "meshtun.client", got[0].Name)
	assert.Equal(t, []string{"/ip4/192.0.2.1/tcp/4242"}, got[0].Addrs)
}

func TestPathsWithoutSource(t *testing.T) {
	s := NewServer(staticReporter{}, nil, prometheus.NewRegistry())

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/paths", nil))
	assert.JSONEq(t, `[]`, rr.Body.String())
}

func TestMetrics(t *testing.T) {
	s := newTestServer(t)

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "meshtun_bridge_tun_read_packets_total")
}

func TestMethodNotAllowed(t *testing.T) {
	s := newTestServer(t)

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest("POST", "/status", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}
