package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"futures-hedge-bot/config"
	"futures-hedge-bot/internal/position"
)

func testEntries(pair, role, credential string) []Entry {
	return []Entry{
		{
			ID:            strings.ToLower(pair) + "-1",
			Pair:          pair,
			Side:          "LONG",
			Size:          0.20,
			Leverage:      10,
			EntryPrice:    50000,
			Role:          role,
			Status:        "OPEN",
			Credential:    credential,
			ClientOrderID: "anc-25aug-00001-e",
		},
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "snapshot.json")
	store := NewFileStore(path)
	ctx := context.Background()

	if err := store.Write(ctx, "primary", testEntries("BTCUSDT", "ANCHOR", "primary")); err != nil {
		t.Fatalf("write primary: %v", err)
	}
	if err := store.Write(ctx, "hedge", testEntries("BTCUSDT", "ANCHOR_HEDGE", "hedge")); err != nil {
		t.Fatalf("write hedge: %v", err)
	}

	docs, err := store.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("documents = %d, want 2", len(docs))
	}

	primary, ok := docs["primary"]
	if !ok {
		t.Fatal("primary document missing")
	}
	if primary.Credential != "primary" || len(primary.Positions) != 1 {
		t.Fatalf("unexpected primary document: %+v", primary)
	}
	if primary.Positions[0].Pair != "BTCUSDT" || primary.Positions[0].Role != "ANCHOR" {
		t.Fatalf("unexpected entry: %+v", primary.Positions[0])
	}
	if primary.WrittenAt.IsZero() {
		t.Fatal("written_at not stamped")
	}
}

func TestFileStoreLastWriterWins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.json")
	store := NewFileStore(path)
	ctx := context.Background()

	if err := store.Write(ctx, "primary", testEntries("BTCUSDT", "ANCHOR", "primary")); err != nil {
		t.Fatalf("first write: %v", err)
	}
	first, _ := store.Read(ctx)

	time.Sleep(5 * time.Millisecond)
	if err := store.Write(ctx, "primary", testEntries("ETHUSDT", "OPPORTUNITY", "primary")); err != nil {
		t.Fatalf("second write: %v", err)
	}

	docs, err := store.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	doc := docs["primary"]
	if len(doc.Positions) != 1 || doc.Positions[0].Pair != "ETHUSDT" {
		t.Fatalf("second write did not replace the first: %+v", doc.Positions)
	}
	if !doc.WrittenAt.After(first["primary"].WrittenAt) {
		t.Fatal("written_at did not advance on overwrite")
	}
}

func TestFileStoreMissingFileIsEmpty(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "never-written.json"))

	docs, err := store.Read(context.Background())
	if err != nil {
		t.Fatalf("read on missing file: %v", err)
	}
	if len(docs) != 0 {
		t.Fatalf("documents = %d, want 0", len(docs))
	}
}

func TestFileStoreLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(filepath.Join(dir, "snapshot.json"))

	for i := 0; i < 3; i++ {
		if err := store.Write(context.Background(), "primary", testEntries("BTCUSDT", "ANCHOR", "primary")); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}

	names, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	for _, e := range names {
		if strings.Contains(e.Name(), ".tmp") {
			t.Fatalf("temp file left behind: %s", e.Name())
		}
	}
	if len(names) != 1 {
		t.Fatalf("files in dir = %d, want only the snapshot", len(names))
	}
}

func TestFileStoreRejectsEmptyCredential(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "snapshot.json"))
	if err := store.Write(context.Background(), "", nil); err == nil {
		t.Fatal("empty credential accepted")
	}
}

func TestEntryPositionRoundTrip(t *testing.T) {
	p := &position.Position{
		ID:            "btcusdt-7",
		Pair:          "BTCUSDT",
		Side:          position.SideShort,
		Role:          position.RoleAnchorHedge,
		Status:        position.StatusOpen,
		Size:          0.30,
		Leverage:      20,
		EntryPrice:    50500,
		Credential:    "hedge",
		ClientOrderID: "anh-25aug-00002-e",
	}

	entry := FromPosition(p)
	back := entry.ToPosition()

	if back.ID != p.ID || back.Pair != p.Pair || back.Side != p.Side {
		t.Fatalf("identity fields lost: %+v", back)
	}
	if back.Role != p.Role || back.Status != p.Status || back.Credential != p.Credential {
		t.Fatalf("lifecycle fields lost: %+v", back)
	}
	if back.Size != p.Size || back.Leverage != p.Leverage || back.EntryPrice != p.EntryPrice {
		t.Fatalf("sizing fields lost: %+v", back)
	}
	if back.ClientOrderID != p.ClientOrderID {
		t.Fatalf("client order id lost: %q", back.ClientOrderID)
	}
}

func TestNewSelectsBackend(t *testing.T) {
	store, err := New(config.SnapshotConfig{Backend: "file", FilePath: filepath.Join(t.TempDir(), "s.json")}, nil)
	if err != nil {
		t.Fatalf("file backend: %v", err)
	}
	if _, ok := store.(*FileStore); !ok {
		t.Fatalf("backend type = %T, want *FileStore", store)
	}

	if _, err := New(config.SnapshotConfig{Backend: "redis"}, nil); err == nil {
		t.Fatal("redis backend without client accepted")
	}
	if _, err := New(config.SnapshotConfig{Backend: "s3"}, nil); err == nil {
		t.Fatal("unknown backend accepted")
	}
}
