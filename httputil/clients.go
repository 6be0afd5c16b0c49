package httputil

import (
	"crypto/tls"
	"net/http"
	"net/url"
	"time"

	"njuskalo_tracker/config"
)

type Clients struct {
	Scraping *http.Client // optionally proxied, for the target site
	API      *http.Client // direct, for S3 and other APIs
}

func NewClients(proxyCfg *config.ProxyConfig) *Clients {
	transport := &http.Transport{
		ForceAttemptHTTP2: false,
		TLSNextProto:      make(map[string]func(string, *tls.Conn) http.RoundTripper),
	}
	if proxyCfg.URL != "" {
		if proxyURL, err := url.Parse(proxyCfg.URL); err == nil {
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}

	scraping := &http.Client{
		Timeout:   20 * time.Second,
		Transport: transport,
	}

	return &Clients{
		Scraping: scraping,
		API:      &http.Client{Timeout: 30 * time.Second},
	}
}
