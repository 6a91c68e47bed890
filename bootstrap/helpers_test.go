package bootstrap

import (
	"errors"
	"net"
	"os"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyListenError(t *testing.T) {
	opErr := func(errno error) error {
		return &net.OpError{Op: "listen", Net: "tcp", Err: os.NewSyscallError("bind", errno)}
	}

	tests := []struct {
		name     string
		err      error
		contains string
	}{
		{"address in use", opErr(syscall.EADDRINUSE), "already in use"},
		{"permission denied", opErr(syscall.EACCES), "Permission denied"},
		{"address not available", opErr(syscall.EADDRNOTAVAIL), "not available on this machine"},
		{"unresolvable host", &net.DNSError{Err: "no such host", Name: "nowhere.invalid"}, "Cannot resolve hostname"},
		{"unknown failure", errors.New("something odd"), "Failed to listen on"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := ClassifyListenError(tt.err, "0.0.0.0:8443")
			assert.Contains(t, msg, tt.contains)
			assert.Contains(t, msg, "Remediation")
		})
	}

	assert.Empty(t, ClassifyListenError(nil, "0.0.0.0:8443"))
}

func TestClassifyListenErrorNamesPort(t *testing.T) {
	msg := ClassifyListenError(syscall.EADDRINUSE, "127.0.0.1:9443")
	assert.Contains(t, msg, "grep 9443")
}

func TestListenErrorUnwrap(t *testing.T) {
	err := &ListenError{Address: "127.0.0.1:80", Err: syscall.EACCES}
	assert.ErrorIs(t, err, syscall.EACCES)
	assert.Contains(t, err.Error(), "127.0.0.1:80")
}
