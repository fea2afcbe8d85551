// Package network downloads artwork archives over HTTP.
package network

import (
	"net/http"
	"time"
)

// UserAgent is sent with every request
const UserAgent = "tracksync/1.0"

// ClientConfig holds configuration for HTTP client
type ClientConfig struct {
	Timeout               time.Duration
	MaxIdleConns          int
	MaxIdleConnsPerHost   int
	IdleConnTimeout       time.Duration
	TLSHandshakeTimeout   time.Duration
	ResponseHeaderTimeout time.Duration
}

// DefaultClientConfig returns the default client configuration
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		Timeout:               30 * time.Second,
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   2,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
	}
}

// NewClient creates a new HTTP client
func NewClient(config *ClientConfig) *http.Client {
	if config == nil {
		config = DefaultClientConfig()
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          config.MaxIdleConns,
		MaxIdleConnsPerHost:   config.MaxIdleConnsPerHost,
		IdleConnTimeout:       config.IdleConnTimeout,
		TLSHandshakeTimeout:   config.TLSHandshakeTimeout,
		ResponseHeaderTimeout: config.ResponseHeaderTimeout,
	}

	return &http.Client{
		Timeout:   config.Timeout,
		Transport: transport,
	}
}

// GetDownloadClient returns an HTTP client for archive downloads. Only the
// response headers are bounded; the body may take as long as timeout.
func GetDownloadClient(timeout time.Duration) *http.Client {
	config := DefaultClientConfig()
	config.Timeout = timeout
	config.ResponseHeaderTimeout = 60 * time.Second
	return NewClient(config)
}
