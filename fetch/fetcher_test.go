package fetch

import (
	"bytes"
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func gzipped(t *testing.T, content string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(content)); err != nil {
		t.Fatalf("gzip write failed: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("gzip close failed: %v", err)
	}
	return buf.Bytes()
}

func TestDecompress(t *testing.T) {
	content := "<urlset><url><loc>https://www.njuskalo.hr/trgovina/x</loc></url></urlset>"

	out, err := Decompress(gzipped(t, content))
	if err != nil {
		t.Fatalf("Decompress failed: %v", err)
	}
	if out != content {
		t.Errorf("round trip mismatch: %q", out)
	}

	// Plain content passes through unchanged.
	out, err = Decompress([]byte(content))
	if err != nil {
		t.Fatalf("Decompress of plain content failed: %v", err)
	}
	if out != content {
		t.Errorf("plain content altered: %q", out)
	}
}

func TestDecompressCorrupt(t *testing.T) {
	if _, err := Decompress([]byte{0x1f, 0x8b, 0x00}); err == nil {
		t.Fatal("expected an error for truncated gzip data")
	}
}

func TestHTTPFetcherFetch(t *testing.T) {
	var gotUA, gotLang string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotLang = r.Header.Get("Accept-Language")
		w.Write([]byte("<html>ok</html>"))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.Client(), 0)
	body, err := f.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if body != "<html>ok</html>" {
		t.Errorf("unexpected body: %q", body)
	}
	if !strings.Contains(gotUA, "Mozilla") {
		t.Errorf("browser user agent not sent: %q", gotUA)
	}
	if !strings.HasPrefix(gotLang, "hr-HR") {
		t.Errorf("croatian accept-language not sent: %q", gotLang)
	}
}

func TestHTTPFetcherErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.Client(), 0)
	if _, err := f.Fetch(context.Background(), srv.URL); err == nil {
		t.Fatal("expected an error for a 404 response")
	}
}

func TestHTTPFetcherFetchGzip(t *testing.T) {
	content := "<urlset></urlset>"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(gzipped(t, content))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.Client(), 0)
	out, err := f.FetchGzip(context.Background(), srv.URL+"/sitemap.xml.gz")
	if err != nil {
		t.Fatalf("FetchGzip failed: %v", err)
	}
	if out != content {
		t.Errorf("unexpected decompressed content: %q", out)
	}
}

func TestPaceHonorsCancellation(t *testing.T) {
	f := NewHTTPFetcher(http.DefaultClient, time.Hour)
	f.lastCall = time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := f.pace(ctx); err == nil {
		t.Fatal("expected pace to give up when the context expires")
	}
}
