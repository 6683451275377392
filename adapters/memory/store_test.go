package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/artpar/docmap/adapters/memory"
	"github.com/artpar/docmap/pkg/doctree"
	"github.com/artpar/docmap/ports"
)

func doc(id string, extra map[string]any) map[string]any {
	d := map[string]any{"_id": id, "_type": "note", "_version": int64(0)}
	for k, v := range extra {
		d[k] = v
	}
	return d
}

func TestInsertAndFindOne(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()

	id, err := store.InsertOne(ctx, "notes", doc("a1", map[string]any{"title": "first"}))
	if err != nil {
		t.Fatalf("InsertOne failed: %v", err)
	}
	if id != "a1" {
		t.Errorf("expected id a1, got %s", id)
	}

	got, err := store.FindOne(ctx, "notes", ports.Filter{"_id": "a1"})
	if err != nil {
		t.Fatalf("FindOne failed: %v", err)
	}
	if got["title"] != "first" {
		t.Errorf("expected title first, got %v", got["title"])
	}
}

func TestInsertRejectsMissingID(t *testing.T) {
	store := memory.NewStore()

	_, err := store.InsertOne(context.Background(), "notes", map[string]any{"title": "no id"})
	if err == nil {
		t.Fatal("expected error for document without _id")
	}
}

func TestInsertRejectsDuplicateID(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()

	store.InsertOne(ctx, "notes", doc("a1", nil))
	_, err := store.InsertOne(ctx, "notes", doc("a1", nil))
	if err == nil {
		t.Fatal("expected error for duplicate id")
	}
}

func TestFindOneNotFound(t *testing.T) {
	store := memory.NewStore()

	_, err := store.FindOne(context.Background(), "notes", ports.Filter{"_id": "missing"})
	if !errors.Is(err, ports.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestFindOneIsolatesResult(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()

	store.InsertOne(ctx, "notes", doc("a1", map[string]any{"title": "first"}))

	got, _ := store.FindOne(ctx, "notes", ports.Filter{"_id": "a1"})
	got["title"] = "mutated"

	again, _ := store.FindOne(ctx, "notes", ports.Filter{"_id": "a1"})
	if again["title"] != "first" {
		t.Errorf("stored document changed through a returned clone: %v", again["title"])
	}
}

func TestInsertIsolatesInput(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()

	in := doc("a1", map[string]any{"title": "first"})
	store.InsertOne(ctx, "notes", in)
	in["title"] = "mutated"

	got, _ := store.FindOne(ctx, "notes", ports.Filter{"_id": "a1"})
	if got["title"] != "first" {
		t.Errorf("stored document changed through the inserted map: %v", got["title"])
	}
}

func TestFindFiltersByEquality(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()

	store.InsertOne(ctx, "notes", doc("a1", map[string]any{"owner_id": "u1"}))
	store.InsertOne(ctx, "notes", doc("a2", map[string]any{"owner_id": "u2"}))
	store.InsertOne(ctx, "notes", doc("a3", map[string]any{"owner_id": "u1"}))

	got, err := store.Find(ctx, "notes", ports.Filter{"owner_id": "u1"}, ports.FindOptions{})
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("expected 2 documents, got %d", len(got))
	}
}

func TestFindNestedPath(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()

	store.InsertOne(ctx, "notes", doc("a1", map[string]any{
		"meta": map[string]any{"lang": "en"},
	}))
	store.InsertOne(ctx, "notes", doc("a2", map[string]any{
		"meta": map[string]any{"lang": "de"},
	}))

	got, err := store.Find(ctx, "notes", ports.Filter{"meta.lang": "de"}, ports.FindOptions{})
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if len(got) != 1 || got[0]["_id"] != "a2" {
		t.Errorf("expected a2, got %v", got)
	}
}

func TestFindInClause(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()

	store.InsertOne(ctx, "notes", doc("a1", map[string]any{"owner_id": "u1"}))
	store.InsertOne(ctx, "notes", doc("a2", map[string]any{"owner_id": "u2"}))
	store.InsertOne(ctx, "notes", doc("a3", map[string]any{"owner_id": "u3"}))

	got, err := store.Find(ctx, "notes", ports.Filter{"owner_id": ports.In{"u1", "u3"}}, ports.FindOptions{})
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("expected 2 documents, got %d", len(got))
	}
}

func TestFindNumericCrossType(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()

	store.InsertOne(ctx, "notes", doc("a1", map[string]any{"score": float64(3)}))

	got, err := store.Find(ctx, "notes", ports.Filter{"score": 3}, ports.FindOptions{})
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("expected int filter to match float value, got %d documents", len(got))
	}
}

func TestFindSortSkipLimit(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()

	store.InsertOne(ctx, "notes", doc("a1", map[string]any{"rank": int64(3)}))
	store.InsertOne(ctx, "notes", doc("a2", map[string]any{"rank": int64(1)}))
	store.InsertOne(ctx, "notes", doc("a3", map[string]any{"rank": int64(2)}))
	store.InsertOne(ctx, "notes", doc("a4", map[string]any{"rank": int64(4)}))

	got, err := store.Find(ctx, "notes", nil, ports.FindOptions{
		Sort:  []ports.SortField{{Field: "rank"}},
		Skip:  1,
		Limit: 2,
	})
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(got))
	}
	if got[0]["_id"] != "a3" || got[1]["_id"] != "a1" {
		t.Errorf("expected a3,a1 after skip 1 limit 2, got %v,%v", got[0]["_id"], got[1]["_id"])
	}
}

func TestFindSortDescending(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()

	store.InsertOne(ctx, "notes", doc("a1", map[string]any{"rank": int64(1)}))
	store.InsertOne(ctx, "notes", doc("a2", map[string]any{"rank": int64(2)}))

	got, _ := store.Find(ctx, "notes", nil, ports.FindOptions{
		Sort: []ports.SortField{{Field: "rank", Desc: true}},
	})
	if got[0]["_id"] != "a2" {
		t.Errorf("expected a2 first, got %v", got[0]["_id"])
	}
}

func TestFindPreservesInsertionOrder(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()

	store.InsertOne(ctx, "notes", doc("a1", nil))
	store.InsertOne(ctx, "notes", doc("a2", nil))
	store.InsertOne(ctx, "notes", doc("a3", nil))

	got, _ := store.Find(ctx, "notes", nil, ports.FindOptions{})
	for i, want := range []string{"a1", "a2", "a3"} {
		if got[i]["_id"] != want {
			t.Errorf("position %d: expected %s, got %v", i, want, got[i]["_id"])
		}
	}
}

func TestCount(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()

	store.InsertOne(ctx, "notes", doc("a1", map[string]any{"owner_id": "u1"}))
	store.InsertOne(ctx, "notes", doc("a2", map[string]any{"owner_id": "u1"}))
	store.InsertOne(ctx, "notes", doc("a3", map[string]any{"owner_id": "u2"}))

	n, err := store.Count(ctx, "notes", ports.Filter{"owner_id": "u1"})
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2, got %d", n)
	}
}

func TestInsertMany(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()

	err := store.InsertMany(ctx, "notes", []map[string]any{
		doc("a1", nil), doc("a2", nil), doc("a3", nil),
	})
	if err != nil {
		t.Fatalf("InsertMany failed: %v", err)
	}

	n, _ := store.Count(ctx, "notes", nil)
	if n != 3 {
		t.Errorf("expected 3 documents, got %d", n)
	}
}

func TestReplaceOne(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()

	store.InsertOne(ctx, "notes", doc("a1", map[string]any{"title": "old"}))

	matched, err := store.ReplaceOne(ctx, "notes", ports.Filter{"_id": "a1"},
		doc("a1", map[string]any{"title": "new"}))
	if err != nil {
		t.Fatalf("ReplaceOne failed: %v", err)
	}
	if matched != 1 {
		t.Errorf("expected 1 match, got %d", matched)
	}

	got, _ := store.FindOne(ctx, "notes", ports.Filter{"_id": "a1"})
	if got["title"] != "new" {
		t.Errorf("expected title new, got %v", got["title"])
	}
}

func TestReplaceOneNoMatch(t *testing.T) {
	store := memory.NewStore()

	matched, err := store.ReplaceOne(context.Background(), "notes",
		ports.Filter{"_id": "missing"}, doc("missing", nil))
	if err != nil {
		t.Fatalf("ReplaceOne failed: %v", err)
	}
	if matched != 0 {
		t.Errorf("expected 0 matches, got %d", matched)
	}
}

func TestUpdateOneSetAndInc(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()

	store.InsertOne(ctx, "notes", doc("a1", map[string]any{"title": "old"}))

	post, err := store.UpdateOne(ctx, "notes", ports.Filter{"_id": "a1"}, ports.Update{
		Set: map[string]any{"title": "new", "_last_modified": 1700000000.5},
		Inc: map[string]int64{"_version": 1},
	})
	if err != nil {
		t.Fatalf("UpdateOne failed: %v", err)
	}
	if post["title"] != "new" {
		t.Errorf("expected title new, got %v", post["title"])
	}
	if post["_version"] != int64(1) {
		t.Errorf("expected version 1, got %v", post["_version"])
	}
	if post["_last_modified"] != 1700000000.5 {
		t.Errorf("expected stamp in post-update doc, got %v", post["_last_modified"])
	}
}

func TestUpdateOneNestedSet(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()

	store.InsertOne(ctx, "notes", doc("a1", map[string]any{
		"meta": map[string]any{"lang": "en"},
	}))

	post, err := store.UpdateOne(ctx, "notes", ports.Filter{"_id": "a1"}, ports.Update{
		Set: map[string]any{"meta.lang": "de"},
	})
	if err != nil {
		t.Fatalf("UpdateOne failed: %v", err)
	}
	v, _ := doctree.Get(post, "meta.lang")
	if v != "de" {
		t.Errorf("expected de, got %v", v)
	}
}

func TestUpdateOneVersionedMatch(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()

	store.InsertOne(ctx, "notes", doc("a1", nil))

	_, err := store.UpdateOne(ctx, "notes", ports.Filter{"_id": "a1", "_version": int64(7)}, ports.Update{
		Inc: map[string]int64{"_version": 1},
	})
	if !errors.Is(err, ports.ErrNotFound) {
		t.Errorf("expected ErrNotFound for stale version, got %v", err)
	}
}

func TestUpdateOneNotFound(t *testing.T) {
	store := memory.NewStore()

	_, err := store.UpdateOne(context.Background(), "notes", ports.Filter{"_id": "missing"}, ports.Update{
		Set: map[string]any{"title": "x"},
	})
	if !errors.Is(err, ports.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteOne(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()

	store.InsertOne(ctx, "notes", doc("a1", nil))
	store.InsertOne(ctx, "notes", doc("a2", nil))

	removed, err := store.DeleteOne(ctx, "notes", ports.Filter{"_id": "a1"})
	if err != nil {
		t.Fatalf("DeleteOne failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("expected 1 removed, got %d", removed)
	}

	n, _ := store.Count(ctx, "notes", nil)
	if n != 1 {
		t.Errorf("expected 1 remaining, got %d", n)
	}
}

func TestDeleteMany(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()

	store.InsertOne(ctx, "notes", doc("a1", map[string]any{"owner_id": "u1"}))
	store.InsertOne(ctx, "notes", doc("a2", map[string]any{"owner_id": "u1"}))
	store.InsertOne(ctx, "notes", doc("a3", map[string]any{"owner_id": "u2"}))

	removed, err := store.DeleteMany(ctx, "notes", ports.Filter{"owner_id": "u1"})
	if err != nil {
		t.Fatalf("DeleteMany failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("expected 2 removed, got %d", removed)
	}

	n, _ := store.Count(ctx, "notes", nil)
	if n != 1 {
		t.Errorf("expected 1 remaining, got %d", n)
	}
}

func TestCollectionsAreIndependent(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()

	store.InsertOne(ctx, "notes", doc("a1", nil))
	store.InsertOne(ctx, "drafts", doc("a1", nil))

	store.DeleteMany(ctx, "notes", nil)

	n, _ := store.Count(ctx, "drafts", nil)
	if n != 1 {
		t.Errorf("expected drafts untouched, got %d", n)
	}
}

func TestTimeEquality(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store.InsertOne(ctx, "notes", doc("a1", map[string]any{"at": at}))

	got, err := store.Find(ctx, "notes", ports.Filter{"at": at.In(time.FixedZone("X", 3600))}, ports.FindOptions{})
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("expected instant equality across zones, got %d documents", len(got))
	}
}

func TestAggregateMatchSortLimit(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()

	store.InsertOne(ctx, "notes", doc("a1", map[string]any{"owner_id": "u1", "rank": int64(2)}))
	store.InsertOne(ctx, "notes", doc("a2", map[string]any{"owner_id": "u1", "rank": int64(1)}))
	store.InsertOne(ctx, "notes", doc("a3", map[string]any{"owner_id": "u2", "rank": int64(3)}))

	got, err := store.Aggregate(ctx, "notes", []map[string]any{
		{"$match": map[string]any{"owner_id": "u1"}},
		{"$sort": map[string]any{"rank": -1}},
		{"$limit": 1},
	})
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	if len(got) != 1 || got[0]["_id"] != "a1" {
		t.Errorf("expected a1, got %v", got)
	}
}

func TestAggregateCount(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()

	store.InsertOne(ctx, "notes", doc("a1", map[string]any{"owner_id": "u1"}))
	store.InsertOne(ctx, "notes", doc("a2", map[string]any{"owner_id": "u1"}))

	got, err := store.Aggregate(ctx, "notes", []map[string]any{
		{"$match": map[string]any{"owner_id": "u1"}},
		{"$count": "total"},
	})
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	if len(got) != 1 || got[0]["total"] != int64(2) {
		t.Errorf("expected total 2, got %v", got)
	}
}

func TestAggregateSkip(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()

	store.InsertOne(ctx, "notes", doc("a1", nil))
	store.InsertOne(ctx, "notes", doc("a2", nil))
	store.InsertOne(ctx, "notes", doc("a3", nil))

	got, err := store.Aggregate(ctx, "notes", []map[string]any{
		{"$skip": 2},
	})
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	if len(got) != 1 || got[0]["_id"] != "a3" {
		t.Errorf("expected a3, got %v", got)
	}
}

func TestAggregateUnknownStage(t *testing.T) {
	store := memory.NewStore()

	_, err := store.Aggregate(context.Background(), "notes", []map[string]any{
		{"$group": map[string]any{}},
	})
	if err == nil {
		t.Fatal("expected error for unsupported stage")
	}
}

func TestConcurrentWrites(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()

	store.InsertOne(ctx, "notes", doc("a1", map[string]any{"n": int64(0)}))

	done := make(chan struct{})
	for i := 0; i < 10; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 100; j++ {
				store.UpdateOne(ctx, "notes", ports.Filter{"_id": "a1"}, ports.Update{
					Inc: map[string]int64{"n": 1},
				})
			}
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}

	got, _ := store.FindOne(ctx, "notes", ports.Filter{"_id": "a1"})
	if got["n"] != int64(1000) {
		t.Errorf("expected 1000 after concurrent increments, got %v", got["n"])
	}
}
