package remote

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newStubServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/ordenes":
			if !strings.HasPrefix(r.Header.Get("User-Agent"), "gcodesync/") {
				http.Error(w, "bad agent", http.StatusBadRequest)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`[{"id":1,"archivo_nombre":"a.gcode","maquina":"cnc1"}]`))
		case "/api/orden/archivo/1":
			_, _ = w.Write([]byte("G0 X0 Y0\n"))
		case "/api/orden/archivo/with space":
			_, _ = w.Write([]byte("G1\n"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, serverURL string) *Client {
	t.Helper()
	c, err := NewClient(Options{ServerURL: serverURL, ListTimeout: 2 * time.Second, DownloadTimeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestFetchOrdersSuccessKeepsRawBody(t *testing.T) {
	srv := newStubServer(t)
	c := newTestClient(t, srv.URL)

	listing, err := c.FetchOrders(context.Background())
	if err != nil {
		t.Fatalf("FetchOrders: %v", err)
	}
	if len(listing.Orders) != 1 || listing.Orders[0].ID != "1" {
		t.Fatalf("orders = %+v", listing.Orders)
	}
	if string(listing.Raw) != `[{"id":1,"archivo_nombre":"a.gcode","maquina":"cnc1"}]` {
		t.Fatalf("raw body not preserved: %q", listing.Raw)
	}
}

func TestFetchOrdersClassifiesFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/broken/api/ordenes":
			_, _ = w.Write([]byte("{not-json"))
		default:
			http.Error(w, "boom", http.StatusInternalServerError)
		}
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(t, srv.URL)
	_, err := c.FetchOrders(context.Background())
	if !errors.Is(err, ErrServer) || StatusCode(err) != http.StatusInternalServerError {
		t.Fatalf("expected server error with 500, got %v", err)
	}
	if Kind(err) != "server" {
		t.Fatalf("Kind = %q, want server", Kind(err))
	}

	parseClient, err := NewClient(Options{ServerURL: srv.URL, ListPath: "/broken/api/ordenes"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	_, err = parseClient.FetchOrders(context.Background())
	if !errors.Is(err, ErrParse) || Kind(err) != "parse" {
		t.Fatalf("expected parse error, got %v", err)
	}

	// nothing listens on a closed server
	closed := httptest.NewServer(http.NotFoundHandler())
	closedURL := closed.URL
	closed.Close()
	_, err = newTestClient(t, closedURL).FetchOrders(context.Background())
	if !errors.Is(err, ErrConnection) || Kind(err) != "connection" {
		t.Fatalf("expected connection error, got %v", err)
	}
}

func TestFetchOrdersTimeoutIsConnectionError(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	c, err := NewClient(Options{ServerURL: srv.URL, ListTimeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	_, err = c.FetchOrders(context.Background())
	if !errors.Is(err, ErrConnection) {
		t.Fatalf("expected connection error on timeout, got %v", err)
	}
}

func TestDownloadWritesFileAndEscapesID(t *testing.T) {
	srv := newStubServer(t)
	c := newTestClient(t, srv.URL)
	dir := t.TempDir()

	dest := filepath.Join(dir, "a.gcode")
	if err := c.Download(context.Background(), "1", dest); err != nil {
		t.Fatalf("Download: %v", err)
	}
	got, err := os.ReadFile(dest)
	if err != nil || string(got) != "G0 X0 Y0\n" {
		t.Fatalf("downloaded content = %q, %v", got, err)
	}

	if err := c.Download(context.Background(), "with space", filepath.Join(dir, "b.gcode")); err != nil {
		t.Fatalf("Download with escaped id: %v", err)
	}
}

func TestDownloadNon200LeavesNoFile(t *testing.T) {
	srv := newStubServer(t)
	c := newTestClient(t, srv.URL)
	dest := filepath.Join(t.TempDir(), "missing.gcode")

	err := c.Download(context.Background(), "404", dest)
	if !errors.Is(err, ErrDownload) || StatusCode(err) != http.StatusNotFound {
		t.Fatalf("expected download error with 404, got %v", err)
	}
	if _, statErr := os.Stat(dest); !os.IsNotExist(statErr) {
		t.Fatalf("destination should not exist, stat err = %v", statErr)
	}
}

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(Options{}); err == nil {
		t.Fatalf("expected error for empty server url")
	}
	if _, err := NewClient(Options{ServerURL: "ftp://host"}); err == nil {
		t.Fatalf("expected error for ftp scheme")
	}
	if _, err := NewClient(Options{ServerURL: "host:80", DownloadPath: "/api/download"}); err == nil {
		t.Fatalf("expected error for download path without placeholder")
	}

	c, err := NewClient(Options{ServerURL: "18.223.169.118:80/ignored?x=1", DownloadPath: "/api/download/{id}"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if got := c.ListURL(); got != "http://18.223.169.118:80/api/ordenes" {
		t.Fatalf("ListURL = %q", got)
	}
	if got := c.DownloadURL("42"); got != "http://18.223.169.118:80/api/download/42" {
		t.Fatalf("DownloadURL = %q", got)
	}
}
