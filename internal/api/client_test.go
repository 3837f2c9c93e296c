package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestNew(t *testing.T) {
	c := New("http://localhost:8080", "secret123")

	if c == nil {
		t.Fatal("New returned nil")
	}
	if c.baseURL != "http://localhost:8080" {
		t.Errorf("expected baseURL=http://localhost:8080, got %s", c.baseURL)
	}
	if c.apiKey != "secret123" {
		t.Errorf("expected apiKey=secret123, got %s", c.apiKey)
	}
	if c.httpClient == nil {
		t.Error("httpClient is nil")
	}
}

func TestNew_TrimsTrailingSlash(t *testing.T) {
	c := New("http://localhost:8080/", "secret")
	if c.baseURL != "http://localhost:8080" {
		t.Errorf("expected trailing slash trimmed, got %s", c.baseURL)
	}
}

func TestHealthcheck_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/healthcheck" {
			t.Errorf("expected path /healthcheck, got %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	if err := New(server.URL, "").Healthcheck(context.Background()); err != nil {
		t.Errorf("Healthcheck failed: %v", err)
	}
}

func TestHealthcheck_ServerDown(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	if err := New(url, "").Healthcheck(context.Background()); err == nil {
		t.Error("expected error for unreachable server")
	}
}

func TestHealthcheck_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	if err := New(server.URL, "").Healthcheck(context.Background()); err == nil {
		t.Error("expected error for 500 response")
	}
}

func TestUpload_Success(t *testing.T) {
	var fields map[string]string
	var receivedFileContent []byte

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != DatasetsPath {
			t.Errorf("expected path %s, got %s", DatasetsPath, r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			t.Errorf("failed to parse multipart form: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		fields = map[string]string{}
		for _, k := range []string{"secret", "filename", "runId", "mode", "seed", "records"} {
			fields[k] = r.FormValue(k)
		}

		file, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("failed to get file: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer file.Close()
		receivedFileContent, _ = io.ReadAll(file)

		_ = json.NewEncoder(w).Encode(UploadResult{Stored: 2, TotalCount: 10})
	}))
	defer server.Close()

	testFile := filepath.Join(t.TempDir(), "run.json")
	if err := os.WriteFile(testFile, []byte(`[{"id":"1"},{"id":"2"}]`), 0644); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}

	c := New(server.URL, "mysecret")
	res, err := c.Upload(context.Background(), testFile, UploadMetadata{
		RunID:   "abc",
		Mode:    "duration",
		Seed:    7,
		Records: 2,
	})
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	want := map[string]string{
		"secret":   "mysecret",
		"filename": "run.json",
		"runId":    "abc",
		"mode":     "duration",
		"seed":     "7",
		"records":  "2",
	}
	for k, v := range want {
		if fields[k] != v {
			t.Errorf("expected %s=%s, got %s", k, v, fields[k])
		}
	}
	if string(receivedFileContent) != `[{"id":"1"},{"id":"2"}]` {
		t.Errorf("unexpected file content %q", receivedFileContent)
	}
	if res.Stored != 2 || res.TotalCount != 10 {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestUpload_FileNotFound(t *testing.T) {
	c := New("http://localhost:8080", "secret")
	if _, err := c.Upload(context.Background(), "/nonexistent/file.json.gz", UploadMetadata{}); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestUpload_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		http.Error(w, "bad secret", http.StatusForbidden)
	}))
	defer server.Close()

	testFile := filepath.Join(t.TempDir(), "test.json")
	if err := os.WriteFile(testFile, []byte("[]"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := New(server.URL, "wrong-secret").Upload(context.Background(), testFile, UploadMetadata{})
	if err == nil {
		t.Fatal("expected error for 403 response")
	}
}
