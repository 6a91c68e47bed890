package bootstrap

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"math/big"
	"net"
	"time"

	"superservice/config"

	"go.uber.org/zap"
	"golang.org/x/crypto/acme/autocert"
)

// DevCertificateLifetime bounds the in-memory development certificate.
const DevCertificateLifetime = 24 * time.Hour

// ErrNoCertificate is returned when an https listener has neither certificate
// files nor a development certificate allowed.
var ErrNoCertificate = errors.New("no TLS certificate configured")

// LoadTLSConfig returns the server TLS configuration for an https listener.
// Sources in order: certificate files, ACME hosts, then a self-signed
// development certificate when the server section allows it.
func LoadTLSConfig(server config.ServerConfig, listener config.ListenerURL, sugar *zap.SugaredLogger) (*tls.Config, error) {
	var (
		cert tls.Certificate
		err  error
	)

	switch {
	case server.CertFile != "":
		cert, err = tls.LoadX509KeyPair(server.CertFile, server.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS certificate %s: %w", server.CertFile, err)
		}
		sugar.Infow("TLS certificate loaded", "cert_file", server.CertFile)
	case len(server.ACMEHosts) > 0:
		sugar.Infow("Using ACME certificates", "hosts", server.ACMEHosts, "cache_dir", server.ACMECacheDir)
		return acmeTLSConfig(server), nil
	case server.DevCertificate:
		cert, err = GenerateDevCertificate([]string{listener.Host(), "localhost"}, DevCertificateLifetime)
		if err != nil {
			return nil, fmt.Errorf("failed to generate development certificate: %w", err)
		}
		sugar.Warnw("Using self-signed development certificate", "host", listener.Host(), "valid_for", DevCertificateLifetime)
	default:
		return nil, fmt.Errorf("%w for %s", ErrNoCertificate, listener)
	}

	return &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
	}, nil
}

// acmeTLSConfig answers tls-alpn-01 challenges on the listener itself, so the
// CA must be able to reach it on port 443.
func acmeTLSConfig(server config.ServerConfig) *tls.Config {
	manager := &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(server.ACMEHosts...),
		Cache:      autocert.DirCache(server.ACMECacheDir),
	}
	tlsConfig := manager.TLSConfig()
	tlsConfig.MinVersion = tls.VersionTLS12
	return tlsConfig
}

// GenerateDevCertificate creates a self-signed ECDSA P-256 server certificate
// for the given hosts. IP hosts go into the IP SANs, names into the DNS SANs.
func GenerateDevCertificate(hosts []string, validFor time.Duration) (tls.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to generate key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to generate serial number: %w", err)
	}

	now := time.Now()
	template := x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"superservice development"},
			CommonName:   "localhost",
		},
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.Add(validFor),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}

	seen := make(map[string]bool)
	for _, h := range hosts {
		if h == "" || seen[h] {
			continue
		}
		seen[h] = true
		if ip := net.ParseIP(h); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, h)
		}
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to create certificate: %w", err)
	}

	leaf, err := x509.ParseCertificate(certDER)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to parse certificate: %w", err)
	}

	return tls.Certificate{
		Certificate: [][]byte{certDER},
		PrivateKey:  key,
		Leaf:        leaf,
	}, nil
}
