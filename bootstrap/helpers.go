package bootstrap

import (
	"errors"
	"fmt"
	"strings"
	"syscall"
)

// ListenError reports a failure to bind the host listener.
type ListenError struct {
	Address string
	Err     error
}

func (e *ListenError) Error() string {
	return fmt.Sprintf("failed to listen on %s: %v", e.Address, e.Err)
}

func (e *ListenError) Unwrap() error {
	return e.Err
}

// ClassifyListenError provides specific error messages based on the type of bind failure.
func ClassifyListenError(err error, addr string) string {
	if err == nil {
		return ""
	}

	errStr := strings.ToLower(err.Error())

	if errors.Is(err, syscall.EADDRINUSE) || strings.Contains(errStr, "address already in use") {
		return fmt.Sprintf("Address %s is already in use.\n"+
			"  Another process (or another superservice instance) holds the port.\n"+
			"  Remediation:\n"+
			"  - Find the owner: ss -ltnp | grep %s\n"+
			"  - Stop the other process or choose another port\n"+
			"  - Override the bind URL: --server.url=https://0.0.0.0:<port>", addr, portOf(addr))
	}

	if errors.Is(err, syscall.EACCES) || strings.Contains(errStr, "permission denied") {
		return fmt.Sprintf("Permission denied binding %s.\n"+
			"  Ports below 1024 require elevated privileges.\n"+
			"  Remediation:\n"+
			"  - Use a port above 1024 (default: 8443)\n"+
			"  - Grant the capability: setcap 'cap_net_bind_service=+ep' ./superservice\n"+
			"  - For Docker: map a high container port to the privileged host port", addr)
	}

	if errors.Is(err, syscall.EADDRNOTAVAIL) || strings.Contains(errStr, "cannot assign requested address") {
		return fmt.Sprintf("Address %s is not available on this machine.\n"+
			"  The host part of the bind URL does not belong to a local interface.\n"+
			"  Remediation:\n"+
			"  - List local addresses: ip addr\n"+
			"  - Bind all interfaces with https://*:<port> or https://0.0.0.0:<port>", addr)
	}

	if strings.Contains(errStr, "no such host") || strings.Contains(errStr, "lookup") {
		return fmt.Sprintf("Cannot resolve hostname in bind address %s.\n"+
			"  Remediation:\n"+
			"  - Verify the hostname is correct\n"+
			"  - Check DNS configuration\n"+
			"  - Try using an IP address (127.0.0.1 or 0.0.0.0) instead of a hostname", addr)
	}

	return fmt.Sprintf("Failed to listen on %s: %v\n"+
		"  Remediation:\n"+
		"  - Check the server.url setting (SUPERSERVICE_SERVER_URL)\n"+
		"  - Verify no firewall or sandbox blocks binding", addr, err)
}

func portOf(addr string) string {
	if i := strings.LastIndex(addr, ":"); i >= 0 {
		return addr[i+1:]
	}
	return addr
}
