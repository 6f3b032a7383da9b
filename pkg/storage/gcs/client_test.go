package gcs

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	pkgerrors "github.com/angelmondragon/studioflow-backend/pkg/errors"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &Client{
		httpClient:    srv.Client(),
		defaultBucket: "footage",
		baseURL:       srv.URL,
		tokenSource: &tokenSource{fetch: func(context.Context) (string, time.Time, error) {
			return "test-token", time.Now().Add(time.Hour), nil
		}},
	}
}

func TestUploadFileSendsMediaUpload(t *testing.T) {
	var gotName, gotType, gotBody, gotAuth string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/upload/storage/v1/b/footage/o" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotName = r.URL.Query().Get("name")
		gotType = r.Header.Get("Content-Type")
		gotAuth = r.Header.Get("Authorization")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"name":"x"}`))
	}))

	url, err := client.UploadFile(context.Background(), strings.NewReader("mp4-bytes"), "processed/org/media/raw.mp4", "video/mp4")
	if err != nil {
		t.Fatalf("UploadFile returned error: %v", err)
	}
	if gotName != "processed/org/media/raw.mp4" || gotType != "video/mp4" || gotBody != "mp4-bytes" {
		t.Fatalf("unexpected upload name=%q type=%q body=%q", gotName, gotType, gotBody)
	}
	if gotAuth != "Bearer test-token" {
		t.Fatalf("unexpected auth header %q", gotAuth)
	}
	if !strings.HasSuffix(url, "/footage/processed/org/media/raw.mp4") {
		t.Fatalf("unexpected url %q", url)
	}
}

func TestCDNURLPrefersConfiguredBase(t *testing.T) {
	client := &Client{defaultBucket: "footage", baseURL: defaultBaseURL, cdnBaseURL: "https://cdn.example.com"}
	if got := client.CDNURL("/a/b.mp4"); got != "https://cdn.example.com/a/b.mp4" {
		t.Fatalf("unexpected cdn url %q", got)
	}
	client.cdnBaseURL = ""
	if got := client.CDNURL("a/b.mp4"); got != "https://storage.googleapis.com/footage/a/b.mp4" {
		t.Fatalf("unexpected fallback url %q", got)
	}
}

func TestDownloadFileToPath(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("alt") != "media" {
			t.Errorf("expected alt=media")
		}
		if strings.HasSuffix(r.URL.EscapedPath(), "missing.mp4") {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("clip"))
	}))

	dest := filepath.Join(t.TempDir(), "nested", "clip.mp4")
	ok, err := client.DownloadFileToPath(context.Background(), "acme/raw/clip.mp4", dest)
	if err != nil || !ok {
		t.Fatalf("expected download success, ok=%v err=%v", ok, err)
	}
	data, err := os.ReadFile(dest)
	if err != nil || string(data) != "clip" {
		t.Fatalf("unexpected file contents %q (%v)", data, err)
	}

	ok, err = client.DownloadFileToPath(context.Background(), "acme/raw/missing.mp4", dest+".2")
	if err != nil {
		t.Fatalf("missing object should not error: %v", err)
	}
	if ok {
		t.Fatal("expected false for missing object")
	}
}

func TestGetObjectClassifiesErrors(t *testing.T) {
	status := http.StatusNotFound
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))

	_, err := client.GetObject(context.Background(), "nope")
	if !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	status = http.StatusServiceUnavailable
	_, err = client.GetObject(context.Background(), "busy")
	if !pkgerrors.IsRetryable(err) || !pkgerrors.IsCode(err, pkgerrors.CodeTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestListObjectsFollowsPages(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("prefix") != "acme/demo/raw/" {
			t.Errorf("unexpected prefix %q", r.URL.Query().Get("prefix"))
		}
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("pageToken") == "" {
			_, _ = w.Write([]byte(`{"items":[{"name":"acme/demo/raw/001.mp4"}],"nextPageToken":"p2"}`))
			return
		}
		_, _ = w.Write([]byte(`{"items":[{"name":"acme/demo/raw/002.mp4"}]}`))
	}))

	names, err := client.ListObjects(context.Background(), "acme/demo/raw/")
	if err != nil {
		t.Fatalf("ListObjects returned error: %v", err)
	}
	if len(names) != 2 || names[1] != "acme/demo/raw/002.mp4" {
		t.Fatalf("unexpected names %v", names)
	}
}

func TestSignAssertionIsVerifiable(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}
	signed, err := signAssertion("signer@example.com", key, tokenEndpoint, time.Now())
	if err != nil {
		t.Fatalf("signAssertion returned error: %v", err)
	}

	parsed, err := jwt.Parse(signed, func(tok *jwt.Token) (any, error) {
		return &key.PublicKey, nil
	}, jwt.WithValidMethods([]string{"RS256"}))
	if err != nil || !parsed.Valid {
		t.Fatalf("assertion did not verify: %v", err)
	}
	claims := parsed.Claims.(jwt.MapClaims)
	if claims["iss"] != "signer@example.com" || claims["scope"] != scope {
		t.Fatalf("unexpected claims %v", claims)
	}
}
