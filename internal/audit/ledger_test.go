package audit

import (
	"path/filepath"
	"testing"
	"time"
)

func TestRecordCompletionAndAll(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	l, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	now := time.Now()
	if err := l.RecordCompletion(0, 1002, now); err != nil {
		t.Fatal(err)
	}
	if err := l.RecordCompletion(1, 1003, now); err != nil {
		t.Fatal(err)
	}

	entries, err := l.All()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Index != 0 || entries[0].SourcePeerID != 1002 {
		t.Fatalf("wrong first entry: %+v", entries[0])
	}
	if entries[1].Index != 1 || entries[1].SourcePeerID != 1003 {
		t.Fatalf("wrong second entry: %+v", entries[1])
	}
}

func TestReopenPreservesData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	l, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := l.RecordCompletion(5, 1, time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}

	l2, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer l2.Close()
	entries, err := l2.All()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Index != 5 {
		t.Fatalf("data not preserved across reopen: %+v", entries)
	}
}
