package registry

import (
	"errors"
	"strings"
	"testing"
)

func testMapping() Mapping {
	return Mapping{
		ItemType:       ItemCase,
		APIID:          101,
		WordPressID:    900,
		WordPressType:  WPPost,
		APIToken:       "tok-a",
		PropertyID:     7,
		ProcedureAPIID: 12,
		SyncHash:       "aabbccddeeff00112233445566778899",
		SessionID:      "session-1",
	}
}

func TestUpsert_InsertAndGet(t *testing.T) {
	db := openTestDB(t)
	items := NewItemStore(db, testLogger())

	m := testMapping()
	if err := items.Upsert(m); err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}

	item, err := items.Get(m.ItemType, m.APIID, m.APIToken, m.ProcedureAPIID)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if item.ID <= 0 {
		t.Errorf("ID = %d, want > 0", item.ID)
	}
	if item.WordPressID != m.WordPressID {
		t.Errorf("WordPressID = %d, want %d", item.WordPressID, m.WordPressID)
	}
	if item.WordPressType != m.WordPressType {
		t.Errorf("WordPressType = %q, want %q", item.WordPressType, m.WordPressType)
	}
	if item.PropertyID != m.PropertyID {
		t.Errorf("PropertyID = %d, want %d", item.PropertyID, m.PropertyID)
	}
	if item.SyncHash != m.SyncHash {
		t.Errorf("SyncHash = %q, want %q", item.SyncHash, m.SyncHash)
	}
	if item.LastSyncSession != m.SessionID {
		t.Errorf("LastSyncSession = %q, want %q", item.LastSyncSession, m.SessionID)
	}
	if item.LastSynced.IsZero() || item.CreatedAt.IsZero() {
		t.Error("timestamps not set on insert")
	}
}

func TestUpsert_IdempotentPreservesCreatedAt(t *testing.T) {
	db := openTestDB(t)
	items := NewItemStore(db, testLogger())

	m := testMapping()
	if err := items.Upsert(m); err != nil {
		t.Fatalf("first Upsert() failed: %v", err)
	}

	// Age the row so a second upsert overwriting created_at would show
	origCreated := "2024-01-15T08:00:00Z"
	_, err := db.conn.Exec(
		`UPDATE sync_registry SET created_at = ? WHERE api_id = ?`, origCreated, m.APIID)
	if err != nil {
		t.Fatalf("failed to age created_at: %v", err)
	}

	m.WordPressID = 901
	m.SyncHash = "00112233445566778899aabbccddeeff"
	m.SessionID = "session-2"
	if err := items.Upsert(m); err != nil {
		t.Fatalf("second Upsert() failed: %v", err)
	}

	var count int
	if err := db.conn.QueryRow(`SELECT COUNT(*) FROM sync_registry`).Scan(&count); err != nil {
		t.Fatalf("failed to count rows: %v", err)
	}
	if count != 1 {
		t.Fatalf("row count after re-upsert = %d, want 1", count)
	}

	item, err := items.Get(m.ItemType, m.APIID, m.APIToken, m.ProcedureAPIID)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if item.WordPressID != 901 {
		t.Errorf("WordPressID = %d, want 901", item.WordPressID)
	}
	if item.SyncHash != m.SyncHash {
		t.Errorf("SyncHash = %q, want %q", item.SyncHash, m.SyncHash)
	}
	if item.LastSyncSession != "session-2" {
		t.Errorf("LastSyncSession = %q, want session-2", item.LastSyncSession)
	}
	if got := formatTime(item.CreatedAt); got != origCreated {
		t.Errorf("CreatedAt = %q after re-upsert, want %q preserved", got, origCreated)
	}
}

func TestUpsert_DistinctIdentities(t *testing.T) {
	db := openTestDB(t)
	items := NewItemStore(db, testLogger())

	base := testMapping()
	variants := []Mapping{base, base, base, base}
	variants[1].APIToken = "tok-b"
	variants[2].ProcedureAPIID = 99
	variants[3].ItemType = ItemDoctor

	for i, m := range variants {
		if err := items.Upsert(m); err != nil {
			t.Fatalf("Upsert() %d failed: %v", i, err)
		}
	}

	var count int
	if err := db.conn.QueryRow(`SELECT COUNT(*) FROM sync_registry`).Scan(&count); err != nil {
		t.Fatalf("failed to count rows: %v", err)
	}
	if count != 4 {
		t.Errorf("row count = %d, want 4 distinct identities", count)
	}
}

func TestUpsert_Validation(t *testing.T) {
	db := openTestDB(t)
	items := NewItemStore(db, testLogger())

	cases := []struct {
		name   string
		mutate func(*Mapping)
	}{
		{"empty token", func(m *Mapping) { m.APIToken = "" }},
		{"zero api id", func(m *Mapping) { m.APIID = 0 }},
		{"negative api id", func(m *Mapping) { m.APIID = -4 }},
		{"zero wordpress id", func(m *Mapping) { m.WordPressID = 0 }},
		{"bad item type", func(m *Mapping) { m.ItemType = "gallery" }},
		{"bad wordpress type", func(m *Mapping) { m.WordPressType = "page" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := testMapping()
			tc.mutate(&m)
			if err := items.Upsert(m); !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("Upsert() error = %v, want ErrInvalidInput", err)
			}
		})
	}

	var count int
	if err := db.conn.QueryRow(`SELECT COUNT(*) FROM sync_registry`).Scan(&count); err != nil {
		t.Fatalf("failed to count rows: %v", err)
	}
	if count != 0 {
		t.Errorf("rejected upserts left %d rows, want 0", count)
	}
}

func TestUpsert_TruncatesHash(t *testing.T) {
	db := openTestDB(t)
	items := NewItemStore(db, testLogger())

	m := testMapping()
	m.SyncHash = strings.Repeat("a", 40)
	if err := items.Upsert(m); err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}

	item, err := items.Get(m.ItemType, m.APIID, m.APIToken, m.ProcedureAPIID)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if len(item.SyncHash) != MaxSyncHashLen {
		t.Errorf("stored hash length = %d, want %d", len(item.SyncHash), MaxSyncHashLen)
	}
}

func TestUpsert_DefaultsWordPressType(t *testing.T) {
	db := openTestDB(t)
	items := NewItemStore(db, testLogger())

	m := testMapping()
	m.WordPressType = ""
	if err := items.Upsert(m); err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}

	item, err := items.Get(m.ItemType, m.APIID, m.APIToken, m.ProcedureAPIID)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if item.WordPressType != WPPost {
		t.Errorf("WordPressType = %q, want default %q", item.WordPressType, WPPost)
	}
}

func TestGet_NegativeProcedureID(t *testing.T) {
	db := openTestDB(t)
	items := NewItemStore(db, testLogger())

	m := testMapping()
	m.ProcedureAPIID = 0
	if err := items.Upsert(m); err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}

	// Negative means "no procedure context", same as zero
	item, err := items.Get(m.ItemType, m.APIID, m.APIToken, -3)
	if err != nil {
		t.Fatalf("Get(-3) failed: %v", err)
	}
	if item.ProcedureAPIID != 0 {
		t.Errorf("ProcedureAPIID = %d, want 0", item.ProcedureAPIID)
	}
}

func TestGet_NotFound(t *testing.T) {
	db := openTestDB(t)
	items := NewItemStore(db, testLogger())

	if _, err := items.Get(ItemCase, 12345, "tok-a", 0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestGet_Validation(t *testing.T) {
	db := openTestDB(t)
	items := NewItemStore(db, testLogger())

	if _, err := items.Get("gallery", 1, "tok", 0); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Get(bad type) error = %v, want ErrInvalidInput", err)
	}
	if _, err := items.Get(ItemCase, 0, "tok", 0); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Get(id=0) error = %v, want ErrInvalidInput", err)
	}
	if _, err := items.Get(ItemCase, 1, "", 0); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Get(empty token) error = %v, want ErrInvalidInput", err)
	}
}

func TestFindOrphans(t *testing.T) {
	db := openTestDB(t)
	items := NewItemStore(db, testLogger())

	// Two entities re-seen by session-2, one left behind on session-1,
	// plus a different tenant that must stay invisible.
	seed := []Mapping{
		{ItemType: ItemCase, APIID: 101, WordPressID: 900, APIToken: "tok-a", SessionID: "session-2"},
		{ItemType: ItemCase, APIID: 102, WordPressID: 901, APIToken: "tok-a", SessionID: "session-2"},
		{ItemType: ItemCase, APIID: 103, WordPressID: 902, APIToken: "tok-a", SessionID: "session-1"},
		{ItemType: ItemProcedure, APIID: 7, WordPressID: 50, WordPressType: WPTerm, APIToken: "tok-a", SessionID: "session-1"},
		{ItemType: ItemCase, APIID: 103, WordPressID: 777, APIToken: "tok-b", SessionID: "session-1"},
	}
	for i, m := range seed {
		if err := items.Upsert(m); err != nil {
			t.Fatalf("Upsert() %d failed: %v", i, err)
		}
	}

	orphans, err := items.FindOrphans("session-2", "tok-a", "")
	if err != nil {
		t.Fatalf("FindOrphans() failed: %v", err)
	}
	if len(orphans) != 2 {
		t.Fatalf("FindOrphans() returned %d rows, want 2", len(orphans))
	}
	if orphans[0].ItemType != ItemCase || orphans[0].APIID != 103 {
		t.Errorf("orphans[0] = %s/%d, want case/103", orphans[0].ItemType, orphans[0].APIID)
	}
	if orphans[1].ItemType != ItemProcedure || orphans[1].APIID != 7 {
		t.Errorf("orphans[1] = %s/%d, want procedure/7", orphans[1].ItemType, orphans[1].APIID)
	}

	// Scoped to one type
	orphans, err = items.FindOrphans("session-2", "tok-a", ItemCase)
	if err != nil {
		t.Fatalf("FindOrphans(case) failed: %v", err)
	}
	if len(orphans) != 1 || orphans[0].APIID != 103 {
		t.Errorf("FindOrphans(case) = %+v, want only case 103", orphans)
	}

	// Everything from the first pass looks orphaned to a fresh session
	orphans, err = items.FindOrphans("session-3", "tok-a", "")
	if err != nil {
		t.Fatalf("FindOrphans(session-3) failed: %v", err)
	}
	if len(orphans) != 4 {
		t.Errorf("FindOrphans(session-3) returned %d rows, want 4", len(orphans))
	}
}

func TestFindOrphans_Validation(t *testing.T) {
	db := openTestDB(t)
	items := NewItemStore(db, testLogger())

	if _, err := items.FindOrphans("", "tok-a", ""); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("FindOrphans(empty session) error = %v, want ErrInvalidInput", err)
	}
	if _, err := items.FindOrphans("s", "", ""); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("FindOrphans(empty token) error = %v, want ErrInvalidInput", err)
	}
	if _, err := items.FindOrphans("s", "tok-a", "gallery"); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("FindOrphans(bad type) error = %v, want ErrInvalidInput", err)
	}
}

func TestLatestSession(t *testing.T) {
	db := openTestDB(t)
	items := NewItemStore(db, testLogger())

	if _, err := items.LatestSession(""); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("LatestSession(empty token) error = %v, want ErrInvalidInput", err)
	}
	if _, err := items.LatestSession("tok-a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("LatestSession(empty registry) error = %v, want ErrNotFound", err)
	}

	seed := []Mapping{
		{ItemType: ItemCase, APIID: 101, WordPressID: 900, APIToken: "tok-a", SessionID: "session-a"},
		{ItemType: ItemCase, APIID: 102, WordPressID: 901, APIToken: "tok-a", SessionID: "session-b"},
		{ItemType: ItemDoctor, APIID: 9, WordPressID: 777, APIToken: "tok-b", SessionID: "session-x"},
	}
	for i, m := range seed {
		if err := items.Upsert(m); err != nil {
			t.Fatalf("Upsert() %d failed: %v", i, err)
		}
	}

	got, err := items.LatestSession("tok-a")
	if err != nil {
		t.Fatalf("LatestSession() failed: %v", err)
	}
	if got != "session-b" {
		t.Errorf("LatestSession(tok-a) = %q, want session-b", got)
	}

	// Tenants do not see each other's sessions.
	got, err = items.LatestSession("tok-b")
	if err != nil {
		t.Fatalf("LatestSession(tok-b) failed: %v", err)
	}
	if got != "session-x" {
		t.Errorf("LatestSession(tok-b) = %q, want session-x", got)
	}
}

func TestDeleteByIDs(t *testing.T) {
	db := openTestDB(t)
	items := NewItemStore(db, testLogger())

	var ids []int64
	for i := int64(1); i <= 3; i++ {
		m := testMapping()
		m.APIID = 100 + i
		if err := items.Upsert(m); err != nil {
			t.Fatalf("Upsert() failed: %v", err)
		}
		item, err := items.Get(m.ItemType, m.APIID, m.APIToken, m.ProcedureAPIID)
		if err != nil {
			t.Fatalf("Get() failed: %v", err)
		}
		ids = append(ids, item.ID)
	}

	// Duplicates, junk ids and an unknown id all get filtered or ignored
	deleted, err := items.DeleteByIDs([]int64{ids[0], ids[0], -1, 0, ids[1], 99999})
	if err != nil {
		t.Fatalf("DeleteByIDs() failed: %v", err)
	}
	if deleted != 2 {
		t.Errorf("deleted = %d, want 2", deleted)
	}

	var count int
	if err := db.conn.QueryRow(`SELECT COUNT(*) FROM sync_registry`).Scan(&count); err != nil {
		t.Fatalf("failed to count rows: %v", err)
	}
	if count != 1 {
		t.Errorf("remaining rows = %d, want 1", count)
	}
}

func TestDeleteByIDs_EmptyInput(t *testing.T) {
	db := openTestDB(t)
	items := NewItemStore(db, testLogger())

	deleted, err := items.DeleteByIDs(nil)
	if err != nil {
		t.Fatalf("DeleteByIDs(nil) failed: %v", err)
	}
	if deleted != 0 {
		t.Errorf("deleted = %d, want 0", deleted)
	}

	deleted, err = items.DeleteByIDs([]int64{0, -5})
	if err != nil {
		t.Fatalf("DeleteByIDs(junk) failed: %v", err)
	}
	if deleted != 0 {
		t.Errorf("deleted = %d, want 0", deleted)
	}
}

func TestDeleteByWordPressObject(t *testing.T) {
	db := openTestDB(t)
	items := NewItemStore(db, testLogger())

	m := testMapping()
	if err := items.Upsert(m); err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}

	ok, err := items.DeleteByWordPressObject(m.WordPressID, WPPost)
	if err != nil {
		t.Fatalf("DeleteByWordPressObject() failed: %v", err)
	}
	if !ok {
		t.Error("DeleteByWordPressObject() = false, want true")
	}

	ok, err = items.DeleteByWordPressObject(m.WordPressID, WPPost)
	if err != nil {
		t.Fatalf("second DeleteByWordPressObject() failed: %v", err)
	}
	if ok {
		t.Error("DeleteByWordPressObject() on absent object = true, want false")
	}

	if _, err := items.DeleteByWordPressObject(0, WPPost); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("DeleteByWordPressObject(0) error = %v, want ErrInvalidInput", err)
	}
	if _, err := items.DeleteByWordPressObject(1, "page"); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("DeleteByWordPressObject(page) error = %v, want ErrInvalidInput", err)
	}
}

func TestStatsByType(t *testing.T) {
	db := openTestDB(t)
	items := NewItemStore(db, testLogger())

	seed := []Mapping{
		{ItemType: ItemCase, APIID: 1, WordPressID: 10, APIToken: "T", SessionID: "s"},
		{ItemType: ItemCase, APIID: 2, WordPressID: 11, APIToken: "T", SessionID: "s"},
		{ItemType: ItemProcedure, APIID: 3, WordPressID: 12, WordPressType: WPTerm, APIToken: "T", SessionID: "s"},
	}
	for i, m := range seed {
		if err := items.Upsert(m); err != nil {
			t.Fatalf("Upsert() %d failed: %v", i, err)
		}
	}

	stats, err := items.StatsByType()
	if err != nil {
		t.Fatalf("StatsByType() failed: %v", err)
	}
	if stats.Total != 3 {
		t.Errorf("Total = %d, want 3", stats.Total)
	}
	if stats.ByType[ItemCase] != 2 {
		t.Errorf("ByType[case] = %d, want 2", stats.ByType[ItemCase])
	}
	if stats.ByType[ItemProcedure] != 1 {
		t.Errorf("ByType[procedure] = %d, want 1", stats.ByType[ItemProcedure])
	}
	if stats.ByType[ItemDoctor] != 0 {
		t.Errorf("ByType[doctor] = %d, want 0", stats.ByType[ItemDoctor])
	}
}

// TestFullPassReconciliation walks the whole cycle: a first pass maps three
// cases, the next pass only sees two, and the orphan sweep removes the one
// that disappeared upstream.
func TestFullPassReconciliation(t *testing.T) {
	db := openTestDB(t)
	items := NewItemStore(db, testLogger())

	upsertCase := func(apiID int64, session string) {
		t.Helper()
		err := items.Upsert(Mapping{
			ItemType:    ItemCase,
			APIID:       apiID,
			WordPressID: 800 + apiID,
			APIToken:    "tok-a",
			SessionID:   session,
		})
		if err != nil {
			t.Fatalf("Upsert(%d, %s) failed: %v", apiID, session, err)
		}
	}

	for _, id := range []int64{101, 102, 103} {
		upsertCase(id, "session-1")
	}
	for _, id := range []int64{101, 102} {
		upsertCase(id, "session-2")
	}

	orphans, err := items.FindOrphans("session-2", "tok-a", "")
	if err != nil {
		t.Fatalf("FindOrphans() failed: %v", err)
	}
	if len(orphans) != 1 || orphans[0].APIID != 103 {
		t.Fatalf("orphans = %+v, want exactly case 103", orphans)
	}

	deleted, err := items.DeleteByIDs([]int64{orphans[0].ID})
	if err != nil {
		t.Fatalf("DeleteByIDs() failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}

	remaining, err := items.FindOrphans("session-3", "tok-a", "")
	if err != nil {
		t.Fatalf("FindOrphans() failed: %v", err)
	}
	if len(remaining) != 2 {
		t.Fatalf("remaining rows = %d, want 2", len(remaining))
	}
	for _, item := range remaining {
		if item.LastSyncSession != "session-2" {
			t.Errorf("case %d session = %q, want session-2", item.APIID, item.LastSyncSession)
		}
	}
}

func BenchmarkUpsert(b *testing.B) {
	path := b.TempDir() + "/bench.db"
	db, err := Open(path)
	if err != nil {
		b.Fatalf("Open() failed: %v", err)
	}
	defer db.Close()
	if err := db.InitSchema(); err != nil {
		b.Fatalf("InitSchema() failed: %v", err)
	}
	items := NewItemStore(db, testLogger())

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		err := items.Upsert(Mapping{
			ItemType:    ItemCase,
			APIID:       int64(i%500) + 1,
			WordPressID: int64(i) + 1,
			APIToken:    "bench",
			SessionID:   "bench-session",
		})
		if err != nil {
			b.Fatalf("Upsert() failed: %v", err)
		}
	}
}

func BenchmarkFindOrphans(b *testing.B) {
	path := b.TempDir() + "/bench.db"
	db, err := Open(path)
	if err != nil {
		b.Fatalf("Open() failed: %v", err)
	}
	defer db.Close()
	if err := db.InitSchema(); err != nil {
		b.Fatalf("InitSchema() failed: %v", err)
	}
	items := NewItemStore(db, testLogger())

	for i := int64(1); i <= 1000; i++ {
		session := "current"
		if i%10 == 0 {
			session = "stale"
		}
		err := items.Upsert(Mapping{
			ItemType:    ItemCase,
			APIID:       i,
			WordPressID: i,
			APIToken:    "bench",
			SessionID:   session,
		})
		if err != nil {
			b.Fatalf("Upsert() failed: %v", err)
		}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		orphans, err := items.FindOrphans("current", "bench", "")
		if err != nil {
			b.Fatalf("FindOrphans() failed: %v", err)
		}
		if len(orphans) != 100 {
			b.Fatalf("orphans = %d, want 100", len(orphans))
		}
	}
}
