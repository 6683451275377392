package document_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/artpar/docmap/adapters/clock"
	"github.com/artpar/docmap/adapters/idgen"
	"github.com/artpar/docmap/adapters/memory"
	"github.com/artpar/docmap/adapters/metrics"
	"github.com/artpar/docmap/core/fieldpath"
	"github.com/artpar/docmap/core/registry"
	"github.com/artpar/docmap/core/schema"
	"github.com/artpar/docmap/document"
	"github.com/artpar/docmap/domain/docid"
	"github.com/artpar/docmap/pkg/doctree"
	"github.com/artpar/docmap/ports"
)

var (
	alice = docid.ID("0000000000000000000a11ce")
	bob   = docid.ID("00000000000000000000b0b0")
)

type noteStatus string

type attachment struct {
	Name string `docmap:"name,update"`
	Size int64  `docmap:"size,update"`
}

type coordinate struct {
	X float64 `docmap:"x"`
	Y float64 `docmap:"y"`
}

type note struct {
	document.Meta
	document.OwnedBy
	Title       string         `docmap:"title,update"`
	Body        string         `docmap:"body,update"`
	Status      noteStatus     `docmap:"status,default draft,update"`
	Pinned      bool           `docmap:"pinned,update"`
	Tags        []string       `docmap:"tags,update"`
	Attachments []attachment   `docmap:"attachments,update"`
	Where       coordinate     `docmap:"where"`
	Extra       map[string]any `docmap:",extra"`
}

type journal struct {
	document.Meta
	document.OwnedBy
	Name   string `docmap:"name,update"`
	Locked bool   `docmap:"locked,update"`
	Saves  int64  `docmap:"saves"`
	Method string `docmap:"method"`
}

func (j *journal) BeforeSave(m document.UpdateMethod) error {
	j.Saves++
	j.Method = m.String()
	return nil
}

func (j *journal) BeforeDelete(ctx context.Context) error {
	if j.Locked {
		return errors.New("journal is locked")
	}
	return nil
}

type memo struct {
	document.Meta
	document.OwnedBy
	Subject string `docmap:"subject,update"`
	Flagged bool   `docmap:"flagged,update"`
}

func (m *memo) Validate() error {
	if strings.TrimSpace(m.Subject) == "" {
		return schema.Invalidf("subject must not be blank")
	}
	return nil
}

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	b := registry.NewBuilder()
	steps := []struct {
		name string
		err  error
	}{
		{"status", b.Pseudo("note_status", noteStatus(""),
			schema.WithValues(noteStatus("draft"), noteStatus("final")))},
		{"attachment", b.Record("attachment", attachment{})},
		{"coordinate", b.Record("coordinate", coordinate{}, schema.Frozen())},
		{"note", b.Document("note", note{}, "notes",
			schema.WithUpdateValidate("title", func(ref schema.UpdateRef, v any) error {
				if s, ok := v.(string); ok && s == "" {
					return errors.New("title must not be empty")
				}
				return nil
			}),
			schema.WithInsertValidate("body", func(v any) error {
				if s, ok := v.(string); ok && strings.ContainsRune(s, 0) {
					return errors.New("body contains a NUL byte")
				}
				return nil
			}))},
		{"journal", b.Document("journal", journal{}, "journals")},
		{"memo", b.Document("memo", memo{}, "memos")},
	}
	for _, s := range steps {
		if s.err != nil {
			t.Fatalf("register %s: %v", s.name, s.err)
		}
	}
	reg, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return reg
}

func newTestService(t *testing.T) (*document.Service, *memory.Store, *clock.Fake) {
	t.Helper()
	store := memory.NewStore()
	fake := clock.NewFake(time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC))
	svc, err := document.NewService(newTestRegistry(t), document.Deps{
		Store:  store,
		Clock:  fake,
		IDGen:  idgen.NewSequential(""),
		Logger: zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, store, fake
}

func notes(t *testing.T, svc *document.Service) *document.Collection[note] {
	t.Helper()
	coll, err := document.CollectionOf[note](svc)
	if err != nil {
		t.Fatalf("CollectionOf: %v", err)
	}
	return coll
}

func journals(t *testing.T, svc *document.Service) *document.Collection[journal] {
	t.Helper()
	coll, err := document.CollectionOf[journal](svc)
	if err != nil {
		t.Fatalf("CollectionOf: %v", err)
	}
	return coll
}

func newNote(owner docid.ID, title string) *note {
	return &note{
		OwnedBy: document.OwnedBy{OwnerID: owner},
		Title:   title,
		Body:    "hello",
		Status:  "draft",
	}
}

func TestNewServiceRequiresOwnedDocuments(t *testing.T) {
	type bare struct {
		document.Meta
		Label string `docmap:"label"`
	}
	b := registry.NewBuilder()
	if err := b.Document("bare", bare{}, "bares"); err != nil {
		t.Fatalf("Document: %v", err)
	}
	reg, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	_, err = document.NewService(reg, document.Deps{Store: memory.NewStore(), Logger: zerolog.Nop()})
	if err == nil || !strings.Contains(err.Error(), "document.Owned") {
		t.Fatalf("expected Owned violation, got %v", err)
	}
}

func TestNewServiceRequiresEmbeddedMeta(t *testing.T) {
	type unmetered struct {
		document.OwnedBy
		Label string `docmap:"label"`
	}
	b := registry.NewBuilder()
	if err := b.Document("unmetered", unmetered{}, "unmetered"); err != nil {
		t.Fatalf("Document: %v", err)
	}
	reg, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	_, err = document.NewService(reg, document.Deps{Store: memory.NewStore(), Logger: zerolog.Nop()})
	if err == nil || !strings.Contains(err.Error(), "document.Meta") {
		t.Fatalf("expected Meta violation, got %v", err)
	}
}

func TestMutationsRequirePointerInstances(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	// Mutations write assigned metadata back through the instance, so a
	// by-value document is refused up front instead of panicking later.
	_, err := svc.Insert(ctx, *newNote(alice, "by value"))
	if err == nil || !strings.Contains(err.Error(), "non-nil pointer") {
		t.Fatalf("Insert by value: expected pointer refusal, got %v", err)
	}
	if err := svc.InsertMany(ctx, newNote(alice, "first"), *newNote(alice, "second")); err == nil ||
		!strings.Contains(err.Error(), "non-nil pointer") {
		t.Fatalf("InsertMany with a value: expected pointer refusal, got %v", err)
	}
	if n, _ := store.Count(ctx, "notes", nil); n != 0 {
		t.Errorf("refused batch must store nothing, count = %d", n)
	}
	if err := svc.Replace(ctx, *newNote(alice, "replaced")); err == nil ||
		!strings.Contains(err.Error(), "non-nil pointer") {
		t.Fatalf("Replace by value: expected pointer refusal, got %v", err)
	}
	if err := svc.UpdateField(ctx, *newNote(alice, "updated"), "note.title", "x"); err == nil ||
		!strings.Contains(err.Error(), "non-nil pointer") {
		t.Fatalf("UpdateField by value: expected pointer refusal, got %v", err)
	}
	if err := svc.Delete(ctx, *newNote(alice, "deleted")); err == nil ||
		!strings.Contains(err.Error(), "non-nil pointer") {
		t.Fatalf("Delete by value: expected pointer refusal, got %v", err)
	}

	var absent *note
	if _, err := svc.Insert(ctx, absent); err == nil || !strings.Contains(err.Error(), "non-nil pointer") {
		t.Fatalf("Insert nil pointer: expected refusal, got %v", err)
	}
}

func TestInsertAssignsIdentityAndVersion(t *testing.T) {
	svc, _, fake := newTestService(t)
	ctx := context.Background()
	coll := notes(t, svc)

	in := newNote(alice, "first")
	got, err := coll.Insert(ctx, in)
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if !docid.Valid(got.ID) || got.ID.Sentinel() {
		t.Errorf("expected a generated id, got %q", got.ID)
	}
	if in.ID != got.ID {
		t.Errorf("passed instance id %q differs from stored %q", in.ID, got.ID)
	}
	if got.Version != 0 {
		t.Errorf("expected version 0 on first insert, got %d", got.Version)
	}
	if got.LastModified == nil {
		t.Fatal("expected a modification stamp")
	}
	at, ok := got.Modified()
	if !ok {
		t.Fatal("Modified reported no stamp")
	}
	if d := at.Sub(fake.Now()); d > time.Millisecond || d < -time.Millisecond {
		t.Errorf("stamp %v differs from clock %v", at, fake.Now())
	}
	if got.Title != "first" || got.Owner() != alice {
		t.Errorf("stored state mismatch: %+v", got)
	}
}

func TestInsertStoresWireForm(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	coll := notes(t, svc)

	n, err := coll.Insert(ctx, newNote(alice, "first"))
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	raw, err := store.FindOne(ctx, "notes", ports.Filter{"_id": string(n.ID)})
	if err != nil {
		t.Fatalf("FindOne failed: %v", err)
	}
	if raw["_type"] != "note" {
		t.Errorf("_type = %v", raw["_type"])
	}
	if raw["_version"] != int64(0) {
		t.Errorf("_version = %v (%T)", raw["_version"], raw["_version"])
	}
	if _, ok := raw["_last_modified"].(float64); !ok {
		t.Errorf("_last_modified = %v (%T)", raw["_last_modified"], raw["_last_modified"])
	}
	if raw["owner_id"] != string(alice) {
		t.Errorf("owner_id = %v", raw["owner_id"])
	}
	if raw["status"] != "draft" {
		t.Errorf("status = %v", raw["status"])
	}
}

func TestInsertKeepsProvidedIdentity(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	coll := notes(t, svc)

	in := newNote(alice, "pinned id")
	in.ID = "00000000000000000000feed"
	got, err := coll.Insert(ctx, in)
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if got.ID != "00000000000000000000feed" {
		t.Errorf("expected provided id kept, got %q", got.ID)
	}
}

func TestInsertRejectsBadGeneratedID(t *testing.T) {
	store := memory.NewStore()
	svc, err := document.NewService(newTestRegistry(t), document.Deps{
		Store:  store,
		IDGen:  badIDGen{},
		Logger: zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	_, err = svc.Insert(context.Background(), newNote(alice, "x"))
	if err == nil || !strings.Contains(err.Error(), "not a valid document id") {
		t.Fatalf("expected id rejection, got %v", err)
	}
	n, _ := store.Count(context.Background(), "notes", nil)
	if n != 0 {
		t.Errorf("expected nothing stored, got %d", n)
	}
}

type badIDGen struct{}

func (badIDGen) New() string { return "NOT-HEX" }

func TestInsertValidationFailureStoresNothing(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	bad := newNote(alice, "x")
	bad.Status = "destroyed"
	_, err := svc.Insert(ctx, bad)
	var ve *schema.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected a validation error, got %v", err)
	}
	n, _ := store.Count(ctx, "notes", nil)
	if n != 0 {
		t.Errorf("expected nothing stored, got %d", n)
	}
}

func TestInsertFieldHookRuns(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	bad := newNote(alice, "x")
	bad.Body = "a\x00b"
	_, err := svc.Insert(ctx, bad)
	if err == nil || !strings.Contains(err.Error(), "NUL byte") {
		t.Fatalf("expected insert hook refusal, got %v", err)
	}
}

func TestInsertRejectsNonDocument(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Insert(context.Background(), &attachment{Name: "a", Size: 1})
	if err == nil || !strings.Contains(err.Error(), "not a document type") {
		t.Fatalf("expected non-document rejection, got %v", err)
	}
}

func TestInsertMany(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	coll := notes(t, svc)

	a, b, c := newNote(alice, "a"), newNote(alice, "b"), newNote(bob, "c")
	if err := coll.InsertMany(ctx, a, b, c); err != nil {
		t.Fatalf("InsertMany failed: %v", err)
	}
	if a.ID == docid.Nil || b.ID == docid.Nil || c.ID == docid.Nil {
		t.Error("expected every instance to receive an id")
	}
	if a.ID == b.ID || b.ID == c.ID {
		t.Error("expected distinct ids")
	}
	n, _ := store.Count(ctx, "notes", nil)
	if n != 3 {
		t.Errorf("expected 3 stored, got %d", n)
	}
}

func TestInsertManyRejectsMixedTypes(t *testing.T) {
	svc, _, _ := newTestService(t)

	err := svc.InsertMany(context.Background(),
		newNote(alice, "a"),
		&journal{OwnedBy: document.OwnedBy{OwnerID: alice}, Name: "log"},
	)
	if err == nil || !strings.Contains(err.Error(), "mixes") {
		t.Fatalf("expected mixed batch rejection, got %v", err)
	}
}

func TestRequireAndGet(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	coll := notes(t, svc)

	n, err := coll.Insert(ctx, newNote(alice, "findme"))
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	got, err := coll.Require(ctx, n.ID)
	if err != nil {
		t.Fatalf("Require failed: %v", err)
	}
	if got.Title != "findme" {
		t.Errorf("title = %q", got.Title)
	}

	_, err = coll.Require(ctx, "00000000000000000000dead")
	if !errors.Is(err, document.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	_, ok, err := coll.Get(ctx, "00000000000000000000dead")
	if err != nil || ok {
		t.Errorf("expected ok=false without error, got ok=%v err=%v", ok, err)
	}
}

func TestFindAndCount(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	coll := notes(t, svc)

	coll.Insert(ctx, newNote(alice, "banana"))
	coll.Insert(ctx, newNote(alice, "apple"))
	coll.Insert(ctx, newNote(bob, "cherry"))

	mine, err := coll.Find(ctx, ports.Filter{"owner_id": string(alice)}, ports.FindOptions{
		Sort: []ports.SortField{{Field: "title"}},
	})
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if len(mine) != 2 || mine[0].Title != "apple" || mine[1].Title != "banana" {
		t.Errorf("unexpected result: %+v", mine)
	}

	n, err := coll.Count(ctx, ports.Filter{"owner_id": string(bob)})
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1, got %d", n)
	}
}

func TestFindOne(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	coll := notes(t, svc)

	coll.Insert(ctx, newNote(alice, "only"))

	got, err := coll.FindOne(ctx, ports.Filter{"title": "only"}, ports.FindOptions{})
	if err != nil {
		t.Fatalf("FindOne failed: %v", err)
	}
	if got.Title != "only" {
		t.Errorf("title = %q", got.Title)
	}

	_, err = coll.FindOne(ctx, ports.Filter{"title": "absent"}, ports.FindOptions{})
	if !errors.Is(err, document.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestReplacePersistsInstanceState(t *testing.T) {
	svc, _, fake := newTestService(t)
	ctx := context.Background()
	coll := notes(t, svc)

	n, err := coll.Insert(ctx, newNote(alice, "before"))
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	before := *n.LastModified

	fake.Advance(time.Minute)
	n.Title = "after"
	n.Status = "final"
	if err := coll.Replace(ctx, n); err != nil {
		t.Fatalf("Replace failed: %v", err)
	}

	got, err := coll.Require(ctx, n.ID)
	if err != nil {
		t.Fatalf("Require failed: %v", err)
	}
	if got.Title != "after" || got.Status != "final" {
		t.Errorf("replacement not stored: %+v", got)
	}
	if *got.LastModified <= before {
		t.Errorf("expected stamp to advance: %v -> %v", before, *got.LastModified)
	}
}

func TestReplaceMissingDocument(t *testing.T) {
	svc, _, _ := newTestService(t)
	coll := notes(t, svc)

	ghost := newNote(alice, "ghost")
	ghost.ID = "00000000000000000000dead"
	err := coll.Replace(context.Background(), ghost)
	if !errors.Is(err, document.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestReplaceRequiresIdentity(t *testing.T) {
	svc, _, _ := newTestService(t)
	coll := notes(t, svc)

	err := coll.Replace(context.Background(), newNote(alice, "unsaved"))
	if err == nil || !strings.Contains(err.Error(), "no id") {
		t.Fatalf("expected missing id refusal, got %v", err)
	}
}

func TestUpdateFieldBumpsVersionOnce(t *testing.T) {
	svc, store, fake := newTestService(t)
	ctx := context.Background()
	coll := notes(t, svc)

	n, err := coll.Insert(ctx, newNote(alice, "draft title"))
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	before := *n.LastModified

	fake.Advance(90 * time.Second)
	if err := coll.UpdateField(ctx, n, "note.title", "final title"); err != nil {
		t.Fatalf("UpdateField failed: %v", err)
	}
	if n.Title != "final title" {
		t.Errorf("instance not refreshed: %q", n.Title)
	}
	if n.Version != 1 {
		t.Errorf("expected version 1, got %d", n.Version)
	}
	if *n.LastModified <= before {
		t.Errorf("expected stamp to advance: %v -> %v", before, *n.LastModified)
	}

	raw, _ := store.FindOne(ctx, "notes", ports.Filter{"_id": string(n.ID)})
	if raw["title"] != "final title" || raw["_version"] != int64(1) {
		t.Errorf("stored state mismatch: title=%v version=%v", raw["title"], raw["_version"])
	}
}

func TestUpdateFieldStaleVersionConflicts(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	coll := notes(t, svc)

	n, err := coll.Insert(ctx, newNote(alice, "contested"))
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	stale, err := coll.Require(ctx, n.ID)
	if err != nil {
		t.Fatalf("Require failed: %v", err)
	}

	if err := coll.UpdateField(ctx, n, "note.title", "win"); err != nil {
		t.Fatalf("first update failed: %v", err)
	}
	err = coll.UpdateField(ctx, stale, "note.title", "lose")
	if !errors.Is(err, document.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if stale.Title != "contested" {
		t.Errorf("losing instance must stay untouched, got %q", stale.Title)
	}

	got, _ := coll.Require(ctx, n.ID)
	if got.Title != "win" || got.Version != 1 {
		t.Errorf("stored state mismatch: %+v", got)
	}
}

func TestUpdateFieldNestedElement(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	coll := notes(t, svc)

	in := newNote(alice, "attached")
	in.Attachments = []attachment{{Name: "scan.pdf", Size: 100}}
	n, err := coll.Insert(ctx, in)
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	if err := coll.UpdateField(ctx, n, "note.attachments[0].size", int64(2048)); err != nil {
		t.Fatalf("UpdateField failed: %v", err)
	}
	if n.Attachments[0].Size != 2048 {
		t.Errorf("instance not refreshed: %d", n.Attachments[0].Size)
	}

	raw, _ := store.FindOne(ctx, "notes", ports.Filter{"_id": string(n.ID)})
	v, ok := doctree.Get(raw, "attachments.0.size")
	if !ok || v != int64(2048) {
		t.Errorf("stored element = %v", v)
	}
}

func TestUpdateFieldRefusesNonUpdatable(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	coll := journals(t, svc)

	j, err := coll.Insert(ctx, &journal{OwnedBy: document.OwnedBy{OwnerID: alice}, Name: "log"})
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	err = coll.UpdateField(ctx, j, "journal.saves", int64(99))
	if err == nil || !strings.Contains(err.Error(), "independent updates") {
		t.Fatalf("expected refusal, got %v", err)
	}
}

func TestUpdateFieldRefusesFrozenRecord(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	coll := notes(t, svc)

	in := newNote(alice, "placed")
	in.Where = coordinate{X: 1, Y: 2}
	n, err := coll.Insert(ctx, in)
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	err = coll.UpdateField(ctx, n, "note.where.x", 3.5)
	if err == nil || !strings.Contains(err.Error(), "frozen") {
		t.Fatalf("expected frozen refusal, got %v", err)
	}
}

func TestUpdateFieldChecksValueType(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	coll := notes(t, svc)

	n, err := coll.Insert(ctx, newNote(alice, "typed"))
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := coll.UpdateField(ctx, n, "note.title", int64(7)); err == nil {
		t.Fatal("expected type mismatch rejection")
	}

	raw, _ := store.FindOne(ctx, "notes", ports.Filter{"_id": string(n.ID)})
	if raw["_version"] != int64(0) {
		t.Errorf("failed update must not bump version, got %v", raw["_version"])
	}
}

func TestUpdateFieldHookRefusal(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	coll := notes(t, svc)

	n, err := coll.Insert(ctx, newNote(alice, "guarded"))
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	err = coll.UpdateField(ctx, n, "note.title", "")
	var ve *schema.ValidationError
	if !errors.As(err, &ve) || !strings.Contains(err.Error(), "must not be empty") {
		t.Fatalf("expected hook refusal, got %v", err)
	}
}

func TestUpdateFieldByID(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	coll := notes(t, svc)

	n, err := coll.Insert(ctx, newNote(alice, "by id"))
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	out, err := svc.UpdateFieldByID(ctx, n.ID, "note.pinned", true)
	if err != nil {
		t.Fatalf("UpdateFieldByID failed: %v", err)
	}
	got := out.(*note)
	if !got.Pinned || got.Version != 1 {
		t.Errorf("post-update state mismatch: %+v", got)
	}

	_, err = svc.UpdateFieldByID(ctx, "00000000000000000000dead", "note.pinned", true)
	if !errors.Is(err, document.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	coll := notes(t, svc)

	n, err := coll.Insert(ctx, newNote(alice, "doomed"))
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := coll.Delete(ctx, n); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	_, ok, _ := coll.Get(ctx, n.ID)
	if ok {
		t.Error("expected document gone")
	}
	err = coll.Delete(ctx, n)
	if !errors.Is(err, document.ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestDeleteVetoKeepsDocument(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	coll := journals(t, svc)

	j, err := coll.Insert(ctx, &journal{OwnedBy: document.OwnedBy{OwnerID: alice}, Name: "ledger", Locked: true})
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	err = coll.Delete(ctx, j)
	if !errors.Is(err, document.ErrReferenced) {
		t.Fatalf("expected ErrReferenced, got %v", err)
	}
	if _, ok, _ := coll.Get(ctx, j.ID); !ok {
		t.Fatal("vetoed delete must keep the document")
	}

	if err := coll.UpdateField(ctx, j, "journal.locked", false); err != nil {
		t.Fatalf("unlock failed: %v", err)
	}
	if err := coll.Delete(ctx, j); err != nil {
		t.Fatalf("Delete after unlock failed: %v", err)
	}
}

func TestBeforeSaveSeesMethod(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	coll := journals(t, svc)

	j, err := coll.Insert(ctx, &journal{OwnedBy: document.OwnedBy{OwnerID: alice}, Name: "daybook"})
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if j.Saves != 1 || j.Method != "insert" {
		t.Errorf("after insert: saves=%d method=%q", j.Saves, j.Method)
	}

	if err := coll.Replace(ctx, j); err != nil {
		t.Fatalf("Replace failed: %v", err)
	}
	got, _ := coll.Require(ctx, j.ID)
	if got.Saves != 2 || got.Method != "update" {
		t.Errorf("after replace: saves=%d method=%q", got.Saves, got.Method)
	}
}

func TestClassValidationGateOnInsert(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Insert(context.Background(), &memo{
		OwnedBy: document.OwnedBy{OwnerID: alice},
		Subject: "   ",
	})
	if err == nil || !strings.Contains(err.Error(), "blank") {
		t.Fatalf("expected class validation refusal, got %v", err)
	}
}

func TestClassValidationGateOnLoad(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	store.InsertOne(ctx, "memos", map[string]any{
		"_type": "memo", "_id": "00000000000000000000aaaa",
		"_version": int64(0), "_last_modified": nil,
		"owner_id": string(alice),
		"subject":  "  ", "flagged": false,
	})
	_, err := svc.Require(ctx, "memo", "00000000000000000000aaaa")
	if err == nil || !strings.Contains(err.Error(), "blank") {
		t.Fatalf("expected class validation refusal on load, got %v", err)
	}
}

func TestClassValidationGateOnFieldUpdate(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	coll, err := document.CollectionOf[memo](svc)
	if err != nil {
		t.Fatalf("CollectionOf: %v", err)
	}
	m, err := coll.Insert(ctx, &memo{OwnedBy: document.OwnedBy{OwnerID: alice}, Subject: "standup"})
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	// An instance that drifted into an invalid state cannot push even an
	// unrelated field.
	m.Subject = "  "
	err = coll.UpdateField(ctx, m, "memo.flagged", true)
	if err == nil || !strings.Contains(err.Error(), "blank") {
		t.Fatalf("expected class validation refusal, got %v", err)
	}

	stored, err := store.FindOne(ctx, "memos", ports.Filter{"_id": string(m.ID)})
	if err != nil {
		t.Fatalf("FindOne failed: %v", err)
	}
	if stored["flagged"] != false || stored["_version"] != int64(0) {
		t.Errorf("refused update must write nothing: %v", stored)
	}
}

func TestLegacyFieldReadThroughService(t *testing.T) {
	reg := prometheus.NewRegistry()
	col := metrics.NewWithRegistry(reg)
	store := memory.NewStore()
	svc, err := document.NewService(newTestRegistry(t), document.Deps{
		Store:   store,
		IDGen:   idgen.NewSequential(""),
		Metrics: col,
		Logger:  zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	ctx := context.Background()
	coll := notes(t, svc)

	n, err := coll.Insert(ctx, newNote(alice, "modern name"))
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	raw, _ := store.FindOne(ctx, "notes", ports.Filter{"_id": string(n.ID)})
	aged := doctree.CloneDoc(raw)
	aged["_id"] = "00000000000000000000fade"
	aged["title__legacy__"] = aged["title"]
	delete(aged, "title")
	store.InsertOne(ctx, "notes", aged)

	got, err := coll.Require(ctx, "00000000000000000000fade")
	if err != nil {
		t.Fatalf("Require failed: %v", err)
	}
	if got.Title != "modern name" {
		t.Errorf("legacy field not read: %q", got.Title)
	}
	if v := counterValue(t, reg, "docmap_legacy_field_fallbacks_total", map[string]string{"type": "note", "field": "title"}); v != 1 {
		t.Errorf("expected fallback counter 1, got %v", v)
	}
}

func TestStoreOperationMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	col := metrics.NewWithRegistry(reg)
	svc, err := document.NewService(newTestRegistry(t), document.Deps{
		Store:   memory.NewStore(),
		IDGen:   idgen.NewSequential(""),
		Metrics: col,
		Logger:  zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	ctx := context.Background()
	coll := notes(t, svc)

	if _, err := coll.Insert(ctx, newNote(alice, "measured")); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	coll.Require(ctx, "00000000000000000000dead")

	if v := counterValue(t, reg, "docmap_store_operations_total", map[string]string{
		"op": "insert", "collection": "notes", "outcome": "ok",
	}); v != 1 {
		t.Errorf("insert ok counter = %v", v)
	}
	if v := counterValue(t, reg, "docmap_store_operations_total", map[string]string{
		"op": "find_one", "collection": "notes", "outcome": "not_found",
	}); v != 1 {
		t.Errorf("find_one not_found counter = %v", v)
	}
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
	metric:
		for _, m := range fam.GetMetric() {
			seen := map[string]string{}
			for _, lp := range m.GetLabel() {
				seen[lp.GetName()] = lp.GetValue()
			}
			for k, v := range labels {
				if seen[k] != v {
					continue metric
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func TestDeleteForOwner(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	coll := notes(t, svc)

	coll.Insert(ctx, newNote(alice, "a"))
	coll.Insert(ctx, newNote(alice, "b"))
	coll.Insert(ctx, newNote(bob, "c"))

	n, err := svc.DeleteForOwner(ctx, "note", alice)
	if err != nil {
		t.Fatalf("DeleteForOwner failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 removed, got %d", n)
	}
	left, _ := coll.Count(ctx, nil)
	if left != 1 {
		t.Errorf("expected 1 remaining, got %d", left)
	}
}

func TestPurgeOwnerSpansDocumentTypes(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	nc := notes(t, svc)
	jc := journals(t, svc)

	nc.Insert(ctx, newNote(alice, "a"))
	nc.Insert(ctx, newNote(alice, "b"))
	jc.Insert(ctx, &journal{OwnedBy: document.OwnedBy{OwnerID: alice}, Name: "log"})
	nc.Insert(ctx, newNote(bob, "keep"))

	total, err := svc.PurgeOwner(ctx, alice)
	if err != nil {
		t.Fatalf("PurgeOwner failed: %v", err)
	}
	if total != 3 {
		t.Errorf("expected 3 purged, got %d", total)
	}
	left, _ := nc.Count(ctx, nil)
	if left != 1 {
		t.Errorf("expected bob's note to survive, got %d notes", left)
	}
}

func TestPurgeOwnerRefusesSentinels(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	for _, owner := range []docid.ID{docid.Nil, docid.Admin, docid.Public} {
		if _, err := svc.PurgeOwner(ctx, owner); err == nil {
			t.Errorf("expected refusal for owner %q", owner)
		}
	}
}

func TestAggregateScopedToType(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	coll := notes(t, svc)

	coll.Insert(ctx, newNote(alice, "a"))
	coll.Insert(ctx, newNote(alice, "b"))

	out, err := svc.Aggregate(ctx, "note", []map[string]any{
		{"$count": "total"},
	})
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	if len(out) != 1 || out[0]["total"] != int64(2) {
		t.Errorf("expected total 2, got %v", out)
	}
}

func TestCollectionPathBuilder(t *testing.T) {
	svc, _, _ := newTestService(t)
	coll := notes(t, svc)

	p, err := coll.Path(fieldpath.Field("attachments"), fieldpath.Index(0), fieldpath.Field("size"))
	if err != nil {
		t.Fatalf("Path failed: %v", err)
	}
	if string(p) != "note.attachments[0].size" {
		t.Errorf("path = %q", p)
	}

	_, err = coll.Path(fieldpath.Field("nosuch"))
	if err == nil {
		t.Fatal("expected unknown field rejection")
	}
}

func TestCollectionOfRejectsNonDocument(t *testing.T) {
	svc, _, _ := newTestService(t)

	if _, err := document.CollectionOf[attachment](svc); err == nil {
		t.Fatal("expected rejection for a plain record type")
	}
	if _, err := document.CollectionOf[coordinate](svc); err == nil {
		t.Fatal("expected rejection for a plain record type")
	}
}

func TestExtraKeysSurviveServiceRoundTrip(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	coll := notes(t, svc)

	in := newNote(alice, "annotated")
	in.Extra = map[string]any{"migrated_from": "v1"}
	n, err := coll.Insert(ctx, in)
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if n.Extra["migrated_from"] != "v1" {
		t.Errorf("extra keys lost on re-read: %v", n.Extra)
	}
	raw, _ := store.FindOne(ctx, "notes", ports.Filter{"_id": string(n.ID)})
	if raw["migrated_from"] != "v1" {
		t.Errorf("extra key not flattened into the tree: %v", raw)
	}
}
