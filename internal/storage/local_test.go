package storage

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func writeFile(t *testing.T, path string, content []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("failed to create dir: %v", err)
	}
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}
}

func TestLocalStorage_UploadDownload(t *testing.T) {
	baseDir := t.TempDir()
	storage, err := NewLocalStorage(baseDir)
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}

	srcDir := t.TempDir()
	srcPath := filepath.Join(srcDir, "run_001.root")
	content := []byte("hello world")
	writeFile(t, srcPath, content)

	ctx := context.Background()

	// Test Upload
	objectPath := "merged/output_0.root"
	if err := storage.Upload(ctx, srcPath, objectPath); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	// Test Exists
	exists, err := storage.Exists(ctx, objectPath)
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if !exists {
		t.Error("expected object to exist")
	}

	// Test Stat
	info, err := storage.Stat(ctx, objectPath)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info.SizeBytes != int64(len(content)) || info.Key != objectPath {
		t.Errorf("unexpected info: %+v", info)
	}

	// Test Download
	dstPath := filepath.Join(srcDir, "nested", "downloaded.root")
	if err := storage.Download(ctx, objectPath, dstPath); err != nil {
		t.Fatalf("Download failed: %v", err)
	}

	downloaded, err := os.ReadFile(dstPath)
	if err != nil {
		t.Fatalf("failed to read downloaded file: %v", err)
	}
	if string(downloaded) != string(content) {
		t.Errorf("content mismatch: got %q, want %q", downloaded, content)
	}

	// Test Delete
	if err := storage.Delete(ctx, objectPath); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	exists, err = storage.Exists(ctx, objectPath)
	if err != nil {
		t.Fatalf("Exists after delete failed: %v", err)
	}
	if exists {
		t.Error("expected object to not exist after delete")
	}

	// Deleting again is not an error
	if err := storage.Delete(ctx, objectPath); err != nil {
		t.Errorf("second Delete failed: %v", err)
	}
}

func TestLocalStorage_UploadMultipart(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}

	srcPath := filepath.Join(t.TempDir(), "test.root")
	writeFile(t, srcPath, []byte("multipart test content"))

	etag, err := storage.UploadMultipart(context.Background(), srcPath, "multipart/object.root")
	if err != nil {
		t.Fatalf("UploadMultipart failed: %v", err)
	}
	// md5("multipart test content")
	if len(etag) != 32 {
		t.Errorf("expected hex MD5 ETag, got %q", etag)
	}
}

func TestLocalStorage_DownloadNotFound(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}

	ctx := context.Background()
	dstPath := filepath.Join(t.TempDir(), "downloaded.root")

	if err := storage.Download(ctx, "nonexistent/object.root", dstPath); err != ErrObjectNotFound {
		t.Errorf("expected ErrObjectNotFound, got %v", err)
	}
	if _, err := storage.Stat(ctx, "nonexistent/object.root"); err != ErrObjectNotFound {
		t.Errorf("expected ErrObjectNotFound from Stat, got %v", err)
	}
}

func TestLocalStorage_ListObjects(t *testing.T) {
	baseDir := t.TempDir()
	storage, err := NewLocalStorage(baseDir)
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}

	writeFile(t, filepath.Join(baseDir, "runs", "b.root"), []byte("bb"))
	writeFile(t, filepath.Join(baseDir, "runs", "a.root"), []byte("a"))
	writeFile(t, filepath.Join(baseDir, "runs", "sub", "c.root"), []byte("ccc"))
	writeFile(t, filepath.Join(baseDir, "other", "d.root"), []byte("d"))

	ctx := context.Background()
	got, err := storage.ListObjects(ctx, "runs/")
	if err != nil {
		t.Fatalf("ListObjects failed: %v", err)
	}
	want := []ObjectInfo{
		{Key: "runs/a.root", SizeBytes: 1},
		{Key: "runs/b.root", SizeBytes: 2},
		{Key: "runs/sub/c.root", SizeBytes: 3},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ListObjects = %+v, want %+v", got, want)
	}

	got, err = storage.ListObjects(ctx, "missing/")
	if err != nil {
		t.Fatalf("ListObjects on missing prefix failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty list, got %v", got)
	}

	got, err = storage.ListObjects(ctx, "runs/a")
	if err != nil {
		t.Fatalf("ListObjects failed: %v", err)
	}
	if len(got) != 1 || got[0].Key != "runs/a.root" {
		t.Errorf("partial prefix listing = %+v", got)
	}
}

func TestLocalStorage_CancelledContext(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := storage.Upload(ctx, "unused", "obj"); err != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if _, err := storage.ListObjects(ctx, ""); err != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
