package bootstrap

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"superservice/metrics"
	sstesting "superservice/util/testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTestHost(t *testing.T, startup Startup, url string) *Host {
	t.Helper()
	builder := newTestBuilder(t, &recordingLoader{cfg: testConfig(t)}, startup)
	if url != "" {
		builder.ConfigureWebHost(func(web *WebHostBuilder) { web.UseURL(url) })
	}
	host, err := builder.Build()
	require.NoError(t, err)
	return host
}

// trustingClient returns a client that trusts only the host's certificate
func trustingClient(t *testing.T, host *Host) *http.Client {
	t.Helper()
	require.NotNil(t, host.server.TLSConfig)
	pool := x509.NewCertPool()
	pool.AddCert(host.server.TLSConfig.Certificates[0].Leaf)

	transport := &http.Transport{TLSClientConfig: &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}}
	t.Cleanup(transport.CloseIdleConnections)
	return &http.Client{Transport: transport, Timeout: 5 * time.Second}
}

// listeningSockets returns the local addresses of TCP sockets in LISTEN
// state, in the hex "ADDR:PORT" form used by /proc/net/tcp.
func listeningSockets(t *testing.T) map[string]bool {
	t.Helper()
	sockets := make(map[string]bool)
	read := false
	for _, name := range []string{"/proc/self/net/tcp", "/proc/self/net/tcp6"} {
		data, err := os.ReadFile(name)
		if err != nil {
			continue
		}
		read = true
		lines := strings.Split(strings.TrimSpace(string(data)), "\n")
		for _, line := range lines[1:] {
			fields := strings.Fields(line)
			if len(fields) > 3 && fields[3] == "0A" {
				sockets[fields[1]] = true
			}
		}
	}
	if !read {
		t.Skip("/proc/net is not readable")
	}
	return sockets
}

func TestHostStartServesTLS(t *testing.T) {
	startup := &fakeStartup{}
	host := buildTestHost(t, startup, "")

	assert.Nil(t, host.Addr(), "no listener before Start")
	require.NoError(t, host.Start(context.Background()))

	addr, ok := host.Addr().(*net.TCPAddr)
	require.True(t, ok)
	assert.NotZero(t, addr.Port, "port 0 resolves to a kernel-assigned port")
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.HostUp))

	client := trustingClient(t, host)
	resp, err := client.Get(fmt.Sprintf("https://127.0.0.1:%d/ping", addr.Port))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "pong", string(body))
	require.NotNil(t, resp.TLS)
	assert.GreaterOrEqual(t, resp.TLS.Version, uint16(tls.VersionTLS12))

	assert.ErrorIs(t, host.Start(context.Background()), ErrHostStarted)

	require.NoError(t, host.Shutdown(context.Background()))
	assert.True(t, startup.stopped.Load())
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.HostUp))

	_, err = net.DialTimeout("tcp", addr.String(), time.Second)
	assert.Error(t, err, "listener must be closed after shutdown")
}

func TestHostStartOpensOneListener(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("listener table is read from /proc/net")
	}
	host := buildTestHost(t, &fakeStartup{}, "")
	before := listeningSockets(t)

	require.NoError(t, host.Start(context.Background()))
	defer host.Shutdown(context.Background())

	var opened []string
	for addr := range listeningSockets(t) {
		if !before[addr] {
			opened = append(opened, addr)
		}
	}
	require.Len(t, opened, 1, "Start must open exactly one listening socket")

	_, hexPort, found := strings.Cut(opened[0], ":")
	require.True(t, found)
	port, err := strconv.ParseUint(hexPort, 16, 16)
	require.NoError(t, err)
	assert.Equal(t, host.Addr().(*net.TCPAddr).Port, int(port))
}

func TestHostRejectsPlainHTTPOnTLSListener(t *testing.T) {
	host := buildTestHost(t, &fakeStartup{}, "")
	require.NoError(t, host.Start(context.Background()))
	defer host.Shutdown(context.Background())

	resp, err := http.Get(fmt.Sprintf("http://%s/ping", host.Addr()))
	if err == nil {
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	}
}

func TestHostStartPlainHTTP(t *testing.T) {
	host := buildTestHost(t, &fakeStartup{}, "http://127.0.0.1:0")
	require.NoError(t, host.Start(context.Background()))
	defer host.Shutdown(context.Background())

	resp, err := http.Get(fmt.Sprintf("http://%s/ping", host.Addr()))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHostStartPortInUse(t *testing.T) {
	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer occupied.Close()

	host := buildTestHost(t, &fakeStartup{}, "http://"+occupied.Addr().String())
	err = host.Start(context.Background())
	require.Error(t, err)

	var lerr *ListenError
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, occupied.Addr().String(), lerr.Address)
	assert.ErrorIs(t, err, syscall.EADDRINUSE)
	assert.Contains(t, ClassifyListenError(lerr.Err, lerr.Address), "already in use")

	assert.Nil(t, host.Addr(), "failed start must not leave a listener behind")
	require.NoError(t, host.Shutdown(context.Background()))
}

func TestHostRunStopsOnContextCancel(t *testing.T) {
	// os/signal starts its process-wide watcher on first use
	primed := make(chan os.Signal, 1)
	signal.Notify(primed, os.Interrupt)
	signal.Stop(primed)

	defer sstesting.CheckGoroutineCleanup(t)()

	startup := &fakeStartup{}
	host := buildTestHost(t, startup, "")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- host.Run(ctx) }()

	require.Eventually(t, func() bool { return host.Addr() != nil }, 5*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	assert.True(t, startup.stopped.Load())
}

func TestHostRunReturnsStartError(t *testing.T) {
	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer occupied.Close()

	startup := &fakeStartup{}
	host := buildTestHost(t, startup, "https://"+occupied.Addr().String())

	err = host.Run(context.Background())
	var lerr *ListenError
	assert.ErrorAs(t, err, &lerr)
	assert.True(t, startup.stopped.Load(), "startup handler is released after a failed start")
}

func TestHostRunWithoutSignals(t *testing.T) {
	host, err := newTestBuilder(t, &recordingLoader{cfg: testConfig(t)}, &fakeStartup{}).
		UseShutdownSignals().
		Build()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	assert.NoError(t, host.Run(ctx))
}

func TestHostShutdown(t *testing.T) {
	t.Run("before start", func(t *testing.T) {
		startup := &fakeStartup{}
		host := buildTestHost(t, startup, "")
		assert.NoError(t, host.Shutdown(context.Background()))
		assert.True(t, startup.stopped.Load())
	})

	t.Run("idempotent", func(t *testing.T) {
		host := buildTestHost(t, &fakeStartup{}, "")
		require.NoError(t, host.Start(context.Background()))
		require.NoError(t, host.Shutdown(context.Background()))
		assert.NoError(t, host.Shutdown(context.Background()))
	})

	t.Run("aggregates startup stop error", func(t *testing.T) {
		want := errors.New("flush failed")
		host := buildTestHost(t, &fakeStartup{stopErr: want}, "")
		require.NoError(t, host.Start(context.Background()))
		addr := host.Addr().String()

		err := host.Shutdown(context.Background())
		assert.ErrorIs(t, err, want)

		_, dialErr := net.DialTimeout("tcp", addr, time.Second)
		assert.Error(t, dialErr, "server must still have stopped")
	})
}

func TestHostShutdownDrainDelay(t *testing.T) {
	startup := &fakeStartup{}
	loader := &recordingLoader{cfg: testConfig(t, "--server.drain_delay=500ms")}
	host, err := newTestBuilder(t, loader, startup).Build()
	require.NoError(t, err)
	require.NoError(t, host.Start(context.Background()))

	url := fmt.Sprintf("https://%s/ping", host.Addr())
	client := trustingClient(t, host)

	done := make(chan error, 1)
	go func() { done <- host.Shutdown(context.Background()) }()

	require.Eventually(t, startup.stopped.Load, time.Second, 10*time.Millisecond)
	resp, err := client.Get(url)
	require.NoError(t, err, "listener stays open during the drain delay")
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown did not finish")
	}
}
