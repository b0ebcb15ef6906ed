package netcheck

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testChecker() *Checker {
	return NewChecker(nil,
		WithDNSHosts(),
		WithTCPAddrs(),
		WithHTTPURLs(),
		WithProbeTimeout(100*time.Millisecond))
}

func resolvingLookup(ctx context.Context, host string) ([]string, error) {
	return []string{"93.184.216.34"}, nil
}

func failingLookup(ctx context.Context, host string) ([]string, error) {
	return nil, errors.New("no such host")
}

// localListener returns an address that accepts TCP connections for the
// duration of the test.
func localListener(t *testing.T) string {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { listener.Close() })
	return listener.Addr().String()
}

func okServer(t *testing.T) string {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		w.WriteHeader(http.StatusForbidden) // reachable even when rejected
	}))
	t.Cleanup(server.Close)
	return server.URL
}

func TestCheckInternetAllStagesPass(t *testing.T) {
	c := testChecker()
	c.dnsHosts = []string{"example.com"}
	c.lookupHost = resolvingLookup
	c.tcpAddrs = []string{localListener(t)}
	c.httpURLs = []string{okServer(t)}

	assert.True(t, c.CheckInternet(context.Background()))
}

func TestCheckInternetDNSFailureClosesGate(t *testing.T) {
	// TCP and HTTP are healthy; the DNS stage alone must close the gate.
	c := testChecker()
	c.dnsHosts = []string{"example.com"}
	c.lookupHost = failingLookup
	c.tcpAddrs = []string{localListener(t)}
	c.httpURLs = []string{okServer(t)}

	assert.False(t, c.CheckInternet(context.Background()))
}

func TestCheckInternetTCPFailureClosesGate(t *testing.T) {
	c := testChecker()
	c.dnsHosts = []string{"example.com"}
	c.lookupHost = resolvingLookup
	c.tcpAddrs = []string{"192.0.2.1:53"}
	c.dial = func(ctx context.Context, network, addr string) (net.Conn, error) {
		return nil, errors.New("network unreachable")
	}
	c.httpURLs = []string{okServer(t)}

	assert.False(t, c.CheckInternet(context.Background()))
}

func TestCheckInternetHTTPFailureClosesGate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	c := testChecker()
	c.dnsHosts = []string{"example.com"}
	c.lookupHost = resolvingLookup
	c.tcpAddrs = []string{localListener(t)}
	c.httpURLs = []string{server.URL}

	assert.False(t, c.CheckInternet(context.Background()))
}

func TestCheckInternetOneTargetPerStageSuffices(t *testing.T) {
	// Within a stage, one healthy target among failing ones is enough.
	c := testChecker()
	c.dnsHosts = []string{"example.com"}
	c.lookupHost = resolvingLookup
	c.tcpAddrs = []string{"192.0.2.1:53", localListener(t)}
	badServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer badServer.Close()
	c.httpURLs = []string{badServer.URL, okServer(t)}

	assert.True(t, c.CheckInternet(context.Background()))
}

func TestCheckAPIRequiresBothProbes(t *testing.T) {
	c := testChecker()

	// Healthy endpoint: TCP connects and HEAD answers.
	assert.True(t, c.CheckAPI(context.Background(), okServer(t)))

	// Reachable socket but failing HTTP layer.
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer failing.Close()
	assert.False(t, c.CheckAPI(context.Background(), failing.URL))

	// Dead socket.
	closed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	deadURL := closed.URL
	closed.Close()
	assert.False(t, c.CheckAPI(context.Background(), deadURL))

	assert.False(t, c.CheckAPI(context.Background(), "not a url"))
}

func TestWaitForConnectivityImmediate(t *testing.T) {
	c := testChecker()
	c.dnsHosts = []string{"example.com"}
	c.lookupHost = resolvingLookup

	err := c.WaitForConnectivity(context.Background(), 3, time.Millisecond)
	assert.NoError(t, err)
}

func TestWaitForConnectivityRecovers(t *testing.T) {
	attempts := 0
	c := testChecker()
	c.dnsHosts = []string{"example.com"}
	c.lookupHost = func(ctx context.Context, host string) ([]string, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("no such host")
		}
		return []string{"93.184.216.34"}, nil
	}

	err := c.WaitForConnectivity(context.Background(), 5, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestWaitForConnectivityExhausted(t *testing.T) {
	c := testChecker()
	c.dnsHosts = []string{"example.com"}
	c.lookupHost = failingLookup

	err := c.WaitForConnectivity(context.Background(), 3, time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "3 attempts")
}

func TestWaitForConnectivityCancelled(t *testing.T) {
	c := testChecker()
	c.dnsHosts = []string{"example.com"}
	c.lookupHost = failingLookup

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.WaitForConnectivity(ctx, 10, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
}
