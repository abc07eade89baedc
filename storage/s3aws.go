// Package storage provides the S3-compatible object store used to hold
// crawled source documents and their converted PDFs.
package storage

import (
	"net/http"
	"time"
)

// sharedHTTPClient is reused by every Store so concurrent uploads and
// downloads share one connection pool instead of dialing fresh each time.
var sharedHTTPClient = &http.Client{
	Timeout: 60 * time.Second,
	Transport: &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     90 * time.Second,
	},
}
