package objectstore_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"stitch/internal/objectstore"
	"stitch/internal/services"
	"stitch/internal/testsupport"
)

// redirectingDoer sends every request to the test server while preserving the
// virtual-hosted path the client built.
type redirectingDoer struct {
	serverURL string
}

func (d *redirectingDoer) Do(req *http.Request) (*http.Response, error) {
	base, err := url.Parse(d.serverURL)
	if err != nil {
		return nil, err
	}
	req.URL.Scheme = base.Scheme
	req.URL.Host = base.Host
	return http.DefaultClient.Do(req)
}

func newTestClient(serverURL string) *objectstore.Client {
	return &objectstore.Client{
		Bucket: "virtual-dressing-room",
		Host:   "s3.ap-south-1.amazonaws.com",
		Scheme: "https",
		HTTP:   &redirectingDoer{serverURL: serverURL},
	}
}

func TestPutUploadsFile(t *testing.T) {
	var (
		mu       sync.Mutex
		gotPath  string
		gotBody  []byte
		gotCType string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("expected PUT, got %s", r.Method)
		}
		data, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read body: %v", err)
		}
		mu.Lock()
		gotPath = r.URL.Path
		gotBody = data
		gotCType = r.Header.Get("Content-Type")
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	local := filepath.Join(t.TempDir(), "mask.png")
	testsupport.WriteImage(t, local)
	client := newTestClient(server.URL)

	ref, err := client.Put(context.Background(), local, "datasets/cloth-mask/cloth_3.jpg")
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if ref != "https://virtual-dressing-room.s3.ap-south-1.amazonaws.com/datasets/cloth-mask/cloth_3.jpg" {
		t.Fatalf("unexpected object URL: %q", ref)
	}

	mu.Lock()
	defer mu.Unlock()
	if gotPath != "/datasets/cloth-mask/cloth_3.jpg" {
		t.Fatalf("unexpected upload path: %q", gotPath)
	}
	if len(gotBody) == 0 {
		t.Fatal("expected uploaded body")
	}
	if gotCType != "image/jpeg" {
		t.Fatalf("unexpected content type: %q", gotCType)
	}
}

func TestPutRejectedUpload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "denied", http.StatusForbidden)
	}))
	defer server.Close()

	local := filepath.Join(t.TempDir(), "result.jpg")
	testsupport.WriteImage(t, local)
	client := newTestClient(server.URL)

	_, err := client.Put(context.Background(), local, objectstore.ResultKey(9))
	if !errors.Is(err, services.ErrUploadFailure) {
		t.Fatalf("expected ErrUploadFailure, got %v", err)
	}
}

func TestDownloadWritesFile(t *testing.T) {
	payload := []byte("image-bytes")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/datasets/image/person_5.jpg" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(payload)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	dest := filepath.Join(t.TempDir(), "inputs", "person.jpg")

	err := client.Download(
		context.Background(),
		"https://virtual-dressing-room.s3.ap-south-1.amazonaws.com/datasets/image/person_5.jpg",
		dest,
	)
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read downloaded file: %v", err)
	}
	if string(data) != string(payload) {
		t.Fatalf("unexpected contents: %q", data)
	}
}

func TestGetReturnsBytes(t *testing.T) {
	payload := []byte("keypoints-json")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/datasets/openpose-json/person_7_keypoints.json" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(payload)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	data, err := client.Get(context.Background(), "store://virtual-dressing-room/datasets/openpose-json/person_7_keypoints.json")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(data) != string(payload) {
		t.Fatalf("unexpected contents: %q", data)
	}

	if _, err := client.Get(context.Background(), "store://virtual-dressing-room/datasets/openpose-json/person_8_keypoints.json"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDownloadMissingObject(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	client := newTestClient(server.URL)
	dest := filepath.Join(t.TempDir(), "missing.jpg")

	err := client.Download(context.Background(), "store://virtual-dressing-room/datasets/image/person_404.jpg", dest)
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, statErr := os.Stat(dest); !errors.Is(statErr, os.ErrNotExist) {
		t.Fatal("expected no file written for missing object")
	}
}

func TestDownloadInvalidReference(t *testing.T) {
	client := newTestClient("http://127.0.0.1:0")
	err := client.Download(context.Background(), "not a url", filepath.Join(t.TempDir(), "x.jpg"))
	if !errors.Is(err, services.ErrInvalidLocator) {
		t.Fatalf("expected ErrInvalidLocator, got %v", err)
	}
}
