package registry

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestJSONL_RoundTrip(t *testing.T) {
	src := openTestDB(t)
	srcItems := NewItemStore(src, testLogger())
	ctx := context.Background()

	seed := []Mapping{
		{ItemType: ItemCase, APIID: 101, WordPressID: 900, APIToken: "tok-a", ProcedureAPIID: 5, SyncHash: "abc", SessionID: "session-1"},
		{ItemType: ItemProcedure, APIID: 5, WordPressID: 40, WordPressType: WPTerm, APIToken: "tok-a", SessionID: "session-1"},
		{ItemType: ItemDoctor, APIID: 9, WordPressID: 300, APIToken: "tok-b", SessionID: "session-2"},
	}
	for i, m := range seed {
		if err := srcItems.Upsert(m); err != nil {
			t.Fatalf("Upsert() %d failed: %v", i, err)
		}
	}
	// Age one row so the export provably carries created_at through
	origCreated := "2024-02-10T09:30:00Z"
	if _, err := src.conn.Exec(
		`UPDATE sync_registry SET created_at = ? WHERE api_id = 101`, origCreated); err != nil {
		t.Fatalf("failed to age created_at: %v", err)
	}

	var buf bytes.Buffer
	n, err := srcItems.ExportJSONL(ctx, &buf)
	if err != nil {
		t.Fatalf("ExportJSONL() failed: %v", err)
	}
	if n != 3 {
		t.Fatalf("ExportJSONL() wrote %d rows, want 3", n)
	}

	dst := openTestDB(t)
	dstItems := NewItemStore(dst, testLogger())

	result, err := dstItems.ImportJSONL(ctx, &buf)
	if err != nil {
		t.Fatalf("ImportJSONL() failed: %v", err)
	}
	if result.Imported != 3 || result.Skipped != 0 {
		t.Fatalf("import result = %d/%d, want 3 imported, 0 skipped", result.Imported, result.Skipped)
	}

	item, err := dstItems.Get(ItemCase, 101, "tok-a", 5)
	if err != nil {
		t.Fatalf("Get() after import failed: %v", err)
	}
	if item.LastSyncSession != "session-1" {
		t.Errorf("LastSyncSession = %q, want session-1", item.LastSyncSession)
	}
	if item.SyncHash != "abc" {
		t.Errorf("SyncHash = %q, want abc", item.SyncHash)
	}
	if got := formatTime(item.CreatedAt); got != origCreated {
		t.Errorf("CreatedAt = %q, want %q carried through export", got, origCreated)
	}

	if _, err := dstItems.Get(ItemProcedure, 5, "tok-a", 0); err != nil {
		t.Errorf("Get(procedure) after import failed: %v", err)
	}
	if _, err := dstItems.Get(ItemDoctor, 9, "tok-b", 0); err != nil {
		t.Errorf("Get(doctor) after import failed: %v", err)
	}
}

func TestImportJSONL_SkipsInvalidRows(t *testing.T) {
	db := openTestDB(t)
	items := NewItemStore(db, testLogger())

	input := strings.Join([]string{
		`{"item_type":"case","api_id":1,"wordpress_id":10,"api_token":"T","last_sync_session":"s1"}`,
		`{"item_type":"case","api_id":0,"wordpress_id":11,"api_token":"T","last_sync_session":"s1"}`,
		`{"item_type":"doctor","api_id":2,"wordpress_id":12,"api_token":"T","last_sync_session":"s1"}`,
	}, "\n")

	result, err := items.ImportJSONL(context.Background(), strings.NewReader(input))
	if err != nil {
		t.Fatalf("ImportJSONL() failed: %v", err)
	}
	if result.Imported != 2 {
		t.Errorf("Imported = %d, want 2", result.Imported)
	}
	if result.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", result.Skipped)
	}
	if len(result.Errors) != 1 {
		t.Fatalf("Errors = %v, want one entry", result.Errors)
	}
	if !strings.Contains(result.Errors[0], "record 2") {
		t.Errorf("error %q does not name record 2", result.Errors[0])
	}
}

func TestImportJSONL_MalformedJSON(t *testing.T) {
	db := openTestDB(t)
	items := NewItemStore(db, testLogger())

	input := `{"item_type":"case","api_id":1,"wordpress_id":10,"api_token":"T"}` + "\nnot json at all\n"
	result, err := items.ImportJSONL(context.Background(), strings.NewReader(input))
	if err == nil {
		t.Fatal("ImportJSONL() succeeded on malformed input")
	}
	if result.Imported != 1 {
		t.Errorf("Imported before failure = %d, want 1", result.Imported)
	}
}

func TestImportJSONL_OverwritesButKeepsCreatedAt(t *testing.T) {
	db := openTestDB(t)
	items := NewItemStore(db, testLogger())
	ctx := context.Background()

	if err := items.Upsert(Mapping{
		ItemType: ItemCase, APIID: 101, WordPressID: 900,
		APIToken: "T", SessionID: "live-session",
	}); err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}
	origCreated := "2023-06-01T00:00:00Z"
	if _, err := db.conn.Exec(
		`UPDATE sync_registry SET created_at = ? WHERE api_id = 101`, origCreated); err != nil {
		t.Fatalf("failed to age created_at: %v", err)
	}

	input := `{"item_type":"case","api_id":101,"wordpress_id":955,"api_token":"T","last_sync_session":"restored","created_at":"2025-01-01T00:00:00Z"}` + "\n"
	result, err := items.ImportJSONL(ctx, strings.NewReader(input))
	if err != nil {
		t.Fatalf("ImportJSONL() failed: %v", err)
	}
	if result.Imported != 1 {
		t.Fatalf("Imported = %d, want 1", result.Imported)
	}

	item, err := items.Get(ItemCase, 101, "T", 0)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if item.WordPressID != 955 {
		t.Errorf("WordPressID = %d, want 955", item.WordPressID)
	}
	if item.LastSyncSession != "restored" {
		t.Errorf("LastSyncSession = %q, want restored", item.LastSyncSession)
	}
	if got := formatTime(item.CreatedAt); got != origCreated {
		t.Errorf("CreatedAt = %q, want %q kept for the existing row", got, origCreated)
	}
}

func TestImportJSONL_DefaultsTimestamps(t *testing.T) {
	db := openTestDB(t)
	items := NewItemStore(db, testLogger())

	input := `{"item_type":"case","api_id":1,"wordpress_id":10,"api_token":"T","last_sync_session":"s"}` + "\n"
	result, err := items.ImportJSONL(context.Background(), strings.NewReader(input))
	if err != nil {
		t.Fatalf("ImportJSONL() failed: %v", err)
	}
	if result.Imported != 1 {
		t.Fatalf("Imported = %d, want 1", result.Imported)
	}

	item, err := items.Get(ItemCase, 1, "T", 0)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if item.LastSynced.IsZero() || item.CreatedAt.IsZero() {
		t.Error("imported row has zero timestamps, want defaults applied")
	}
}
