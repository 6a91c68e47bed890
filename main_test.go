package main

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"superservice/bootstrap"
	"superservice/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var devArgs = []string{"--server.url=https://127.0.0.1:0", "--environment=Development"}

func testBuilderArgs(t *testing.T, args []string) *bootstrap.HostBuilder {
	t.Helper()
	return newHostBuilder(args).
		UseConfigLoader(&config.Loader{SearchPaths: []string{t.TempDir()}}).
		UseLogger(zaptest.NewLogger(t))
}

// writeCertificate writes a loopback certificate and returns a pool trusting it
func writeCertificate(t *testing.T) (certFile, keyFile string, pool *x509.CertPool) {
	t.Helper()
	cert, err := bootstrap.GenerateDevCertificate([]string{"127.0.0.1"}, time.Hour)
	require.NoError(t, err)
	keyDER, err := x509.MarshalPKCS8PrivateKey(cert.PrivateKey)
	require.NoError(t, err)

	dir := t.TempDir()
	certFile = filepath.Join(dir, "server.crt")
	keyFile = filepath.Join(dir, "server.key")
	require.NoError(t, os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Certificate[0]}), 0o600))
	require.NoError(t, os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER}), 0o600))

	pool = x509.NewCertPool()
	pool.AddCert(cert.Leaf)
	return certFile, keyFile, pool
}

func TestDefaultHostServesTLS(t *testing.T) {
	certFile, keyFile, pool := writeCertificate(t)
	args := []string{
		"--server.url=https://127.0.0.1:0",
		"--server.cert_file=" + certFile,
		"--server.key_file=" + keyFile,
	}

	host, err := testBuilderArgs(t, args).Build()
	require.NoError(t, err)
	require.NoError(t, host.Start(context.Background()))
	defer host.Shutdown(context.Background())

	addr := host.Addr().String()

	conn, err := tls.Dial("tcp", addr, &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12})
	require.NoError(t, err)
	state := conn.ConnectionState()
	conn.Close()
	assert.GreaterOrEqual(t, state.Version, uint16(tls.VersionTLS12))

	transport := &http.Transport{TLSClientConfig: &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}}
	defer transport.CloseIdleConnections()
	client := &http.Client{Transport: transport, Timeout: 5 * time.Second}

	resp, err := client.Get(fmt.Sprintf("https://%s/health", addr))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
	assert.NotEmpty(t, resp.Header.Get("Strict-Transport-Security"))
}

func TestShutdownServesDrainingHealth(t *testing.T) {
	certFile, keyFile, pool := writeCertificate(t)
	args := []string{
		"--server.url=https://127.0.0.1:0",
		"--server.cert_file=" + certFile,
		"--server.key_file=" + keyFile,
		"--server.drain_delay=2s",
		"--server.shutdown_timeout=5s",
	}

	host, err := testBuilderArgs(t, args).Build()
	require.NoError(t, err)
	require.NoError(t, host.Start(context.Background()))
	url := fmt.Sprintf("https://%s/health", host.Addr())

	transport := &http.Transport{
		TLSClientConfig:   &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12},
		DisableKeepAlives: true,
	}
	client := &http.Client{Transport: transport, Timeout: time.Second}

	done := make(chan error, 1)
	go func() { done <- host.Shutdown(context.Background()) }()

	assert.Eventually(t, func() bool {
		resp, err := client.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusServiceUnavailable
	}, 2*time.Second, 20*time.Millisecond, "health must report draining while the listener is open")

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(6 * time.Second):
		t.Fatal("shutdown did not finish")
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	assert.NoError(t, run(ctx, testBuilderArgs(t, devArgs)))
}

func TestRunPortInUse(t *testing.T) {
	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer occupied.Close()

	args := []string{"--server.url=https://" + occupied.Addr().String(), "--environment=Development"}
	err = run(context.Background(), testBuilderArgs(t, args))
	require.Error(t, err)

	var out bytes.Buffer
	printError(&out, err)
	assert.Contains(t, out.String(), "Error: host stopped with error")
	assert.Contains(t, out.String(), "already in use")
}

func TestRunBuildFailure(t *testing.T) {
	err := run(context.Background(), testBuilderArgs(t, []string{"--server.url=ftp://127.0.0.1:21"}))
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrInvalidListenerURL)

	var out bytes.Buffer
	printError(&out, err)
	assert.Contains(t, out.String(), "Error: failed to build host")
	assert.NotContains(t, out.String(), "Remediation")
}
