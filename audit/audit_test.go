package audit

import (
	"context"
	"testing"

	"github.com/hazyhaar/radar/dbopen"
	_ "modernc.org/sqlite"
)

func newTestLogger(t *testing.T) *SQLiteLogger {
	t.Helper()
	db := dbopen.OpenMemory(t)
	l := NewSQLiteLogger(db)
	if err := l.Init(); err != nil {
		t.Fatalf("init: %v", err)
	}
	return l
}

func TestLogAsync_PersistsAfterClose(t *testing.T) {
	l := newTestLogger(t)

	l.LogAsync(&Entry{Action: "update_compliance", ShopID: "shop_1", Parameters: `{"allowed":2}`})
	l.LogAsync(&Entry{Action: "stream_request", ShopID: "shop_1"})

	// Close drains the channel, so entries are visible afterwards.
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	entries, err := l.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
}

func TestLogAsync_FullBufferDoesNotBlock(t *testing.T) {
	db := dbopen.OpenMemory(t)
	l := NewSQLiteLogger(db, WithBufferSize(1))
	if err := l.Init(); err != nil {
		t.Fatalf("init: %v", err)
	}

	// Flooding more entries than the buffer holds must not block the caller.
	for i := 0; i < 100; i++ {
		l.LogAsync(&Entry{Action: "flood"})
	}
	l.Close()
}
