package logstore_test

import (
	"context"
	"path/filepath"
	"testing"

	"forgequeue/pkg/logstore"
)

func TestLocalLogStoreRoundTrip(t *testing.T) {
	ls, err := logstore.NewLocalLogStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalLogStore: %v", err)
	}

	ref, err := ls.Store(context.Background(), "job-1", []byte("hello\nworld\n"))
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if filepath.Base(ref) != "job-1.log" {
		t.Fatalf("unexpected reference %q", ref)
	}

	data, err := ls.Retrieve(context.Background(), ref)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if string(data) != "hello\nworld\n" {
		t.Fatalf("got %q", data)
	}
}
