package config

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/url"
)

// Postgres TLS, nil when no CA is configured
func (c *Config) CreatePostgresTLSConfig() (*tls.Config, error) {
	if c.DBCACert == "" {
		return nil, nil
	}

	rootCertPool := x509.NewCertPool()
	if ok := rootCertPool.AppendCertsFromPEM([]byte(c.DBCACert)); !ok {
		return nil, errors.New("failed to parse Postgres CA certificate")
	}

	serverName := c.DBHost
	if serverName == "" {
		if u, err := url.Parse(c.DBURL); err == nil {
			serverName = u.Hostname()
		}
	}

	return &tls.Config{
		RootCAs:    rootCertPool,
		ServerName: serverName,
		MinVersion: tls.VersionTLS12,
	}, nil
}

// Kafka TLS, nil when no CA is configured
func (c *Config) CreateKafkaTLSConfig() (*tls.Config, error) {
	if c.KafkaCACert == "" {
		return nil, nil
	}

	// Load CA certificate
	rootCertPool := x509.NewCertPool()
	if ok := rootCertPool.AppendCertsFromPEM([]byte(c.KafkaCACert)); !ok {
		return nil, errors.New("failed to parse Kafka CA certificate")
	}

	tlsCfg := &tls.Config{
		RootCAs:    rootCertPool,
		ServerName: kafkaServerName(c.KafkaBrokers), // must match SAN in certificate
		MinVersion: tls.VersionTLS12,
	}

	if c.KafkaCert != "" && c.KafkaKey != "" {
		cert, err := tls.X509KeyPair([]byte(c.KafkaCert), []byte(c.KafkaKey))
		if err != nil {
			return nil, fmt.Errorf("failed to load Kafka client certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}

	return tlsCfg, nil
}

// Extract host without port for TLS ServerName
func kafkaServerName(brokers []string) string {
	if len(brokers) == 0 {
		return ""
	}
	host, _, err := net.SplitHostPort(brokers[0])
	if err != nil {
		// no port, use the whole string as host
		return brokers[0]
	}
	return host
}
