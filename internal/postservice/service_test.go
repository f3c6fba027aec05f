package postservice

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/jmtorr3/blog/internal/apperr"
	"github.com/jmtorr3/blog/internal/mediapath"
	"github.com/jmtorr3/blog/internal/mediaservice"
	"github.com/jmtorr3/blog/internal/models"
	"github.com/jmtorr3/blog/internal/storage"
	"github.com/jmtorr3/blog/internal/store"
	"github.com/jmtorr3/blog/internal/testutil"
)

type env struct {
	posts *Service
	media *mediaservice.Service
	db    *store.DB
	files *storage.FS
	alice *models.Account
	bob   *models.Account
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db := testutil.TestDB(t)
	files := testutil.TestStorage(t)
	media := mediaservice.New(db, files, testutil.Layout, mediaservice.WithLogger(testutil.Logger()))
	return &env{
		posts: New(db, files, media, WithLogger(testutil.Logger())),
		media: media,
		db:    db,
		files: files,
		alice: testutil.Account(t, db, "alice"),
		bob:   testutil.Account(t, db, "bob"),
	}
}

func ptr[T any](v T) *T { return &v }

func blocksJSON(t *testing.T, src string) *models.Blocks {
	t.Helper()
	var bs models.Blocks
	if err := json.Unmarshal([]byte(src), &bs); err != nil {
		t.Fatalf("blocks: %v", err)
	}
	return &bs
}

func (e *env) create(t *testing.T, author *models.Account, title string) *models.Post {
	t.Helper()
	p, _, err := e.posts.Create(context.Background(), author, Input{Title: &title})
	if err != nil {
		t.Fatalf("Create(%q): %v", title, err)
	}
	return p
}

func (e *env) upload(t *testing.T, owner *models.Account, name, content string) *models.Media {
	t.Helper()
	m, _, err := e.media.Upload(context.Background(), owner, mediaservice.UploadInput{Filename: name, Body: strings.NewReader(content)})
	if err != nil {
		t.Fatalf("Upload(%s): %v", name, err)
	}
	return m
}

func TestSlugAssignedOnceInSaveOrder(t *testing.T) {
	e := newEnv(t)
	first := e.create(t, e.alice, "Hello World")
	second := e.create(t, e.alice, "Hello World")
	third := e.create(t, e.bob, "Hello, World!")

	got := []string{first.Slug, second.Slug, third.Slug}
	want := []string{"hello-world", "hello-world-1", "hello-world-2"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("post %d slug = %q, want %q", i, got[i], want[i])
		}
	}

	p, _, err := e.posts.Update(context.Background(), e.alice, "hello-world", Input{Title: ptr("Completely different")})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if p.Slug != "hello-world" {
		t.Errorf("slug changed on title edit: %q", p.Slug)
	}
}

func TestEmptyTitleRejected(t *testing.T) {
	e := newEnv(t)
	_, _, err := e.posts.Create(context.Background(), e.alice, Input{Title: ptr("")})
	if !apperr.IsValidation(err) {
		t.Errorf("err = %v, want validation error", err)
	}
}

func TestSymbolOnlyTitleFallsBack(t *testing.T) {
	e := newEnv(t)
	if p := e.create(t, e.alice, "!!!"); p.Slug != "untitled" {
		t.Errorf("slug = %q", p.Slug)
	}
}

// The end-to-end walkthrough: upload, reference, save, relocate.
func TestSaveRelocatesReferencedUpload(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	post := e.create(t, e.alice, "Hello World")
	if post.Slug != "hello-world" {
		t.Fatalf("slug = %q", post.Slug)
	}
	m := e.upload(t, e.alice, "cat.png", "meow")
	if m.StoredPath != "alice/uploads/cat.png" {
		t.Fatalf("upload stored at %q", m.StoredPath)
	}

	p, report, err := e.posts.Update(ctx, e.alice, "hello-world", Input{
		Blocks: blocksJSON(t, `[{"id":"b1","type":"image","src":"/media/alice/uploads/cat.png","caption":"Cat"}]`),
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if report.Rewritten() != 1 {
		t.Fatalf("report = %+v", report)
	}
	if p.Blocks[0].Src != "/media/alice/posts/hello-world/cat.png" {
		t.Errorf("in-memory src = %q", p.Blocks[0].Src)
	}

	stored, _ := e.db.PostBySlug(ctx, "hello-world")
	if stored.Blocks[0].Src != "/media/alice/posts/hello-world/cat.png" {
		t.Errorf("persisted src = %q", stored.Blocks[0].Src)
	}
	if string(stored.Blocks[0].Extra["caption"]) != `"Cat"` {
		t.Errorf("caption lost: %v", stored.Blocks[0].Extra)
	}
	if got := testutil.ReadFile(t, e.files, "alice/posts/hello-world/cat.png"); got != "meow" {
		t.Errorf("content = %q", got)
	}
	if testutil.Exists(t, e.files, "alice/uploads/cat.png") {
		t.Error("file still in uploads")
	}
	rec, _ := e.db.MediaByID(ctx, m.ID)
	if rec.PostID == nil || *rec.PostID != post.ID || rec.StoredPath != "alice/posts/hello-world/cat.png" {
		t.Errorf("media record = %+v", rec)
	}
}

// Both controllers must agree on where a file belongs.
func TestControllersAgreeOnCanonicalPath(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	post := e.create(t, e.alice, "Trip")

	viaBlocks := e.upload(t, e.alice, "a.png", "a")
	viaRecord := e.upload(t, e.alice, "b.png", "b")

	if _, _, err := e.posts.Update(ctx, e.alice, post.Slug, Input{
		Blocks: blocksJSON(t, `[{"id":"x","type":"image","src":"/media/alice/uploads/a.png"}]`),
	}); err != nil {
		t.Fatal(err)
	}
	viaRecord.PostID = &post.ID
	if _, err := e.media.Save(ctx, viaRecord); err != nil {
		t.Fatal(err)
	}

	for _, id := range []*models.Media{viaBlocks, viaRecord} {
		rec, _ := e.db.MediaByID(ctx, id.ID)
		want, err := e.media.Canonical(ctx, rec)
		if err != nil {
			t.Fatal(err)
		}
		if rec.StoredPath != want {
			t.Errorf("%s stored at %q, canonical %q", rec.Filename, rec.StoredPath, want)
		}
		if want != mediapath.Resolve("alice", "trip", rec.Filename) {
			t.Errorf("canonical %q differs from resolver", want)
		}
	}
}

func TestSitePrefixFormPreserved(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	post := e.create(t, e.alice, "Gallery")
	e.upload(t, e.alice, "one.png", "1")
	e.upload(t, e.alice, "two.png", "2")

	p, _, err := e.posts.Update(ctx, e.alice, post.Slug, Input{Blocks: blocksJSON(t, `[
		{"id":"r","type":"image-row","images":[
			{"src":"/blog/media/alice/uploads/one.png"},
			{"src":"http://localhost:8000/media/alice/uploads/two.png"}
		]}
	]`)})
	if err != nil {
		t.Fatal(err)
	}
	if got := p.Blocks[0].Images[0].Src; got != "/blog/media/alice/posts/gallery/one.png" {
		t.Errorf("site form rewritten to %q", got)
	}
	if got := p.Blocks[0].Images[1].Src; got != "http://localhost:8000/media/alice/posts/gallery/two.png" {
		t.Errorf("origin form rewritten to %q", got)
	}
}

func TestDuplicateReferencesAllRewritten(t *testing.T) {
	e := newEnv(t)
	post := e.create(t, e.alice, "Dup")
	e.upload(t, e.alice, "cat.png", "meow")
	p, report, err := e.posts.Update(context.Background(), e.alice, post.Slug, Input{Blocks: blocksJSON(t, `[
		{"id":"a","type":"image","src":"/media/alice/uploads/cat.png"},
		{"id":"b","type":"image","src":"/blog/media/alice/uploads/cat.png"}
	]`)})
	if err != nil {
		t.Fatal(err)
	}
	if report.Rewritten() != 2 || len(report.Warnings()) != 0 {
		t.Errorf("report = %+v", report)
	}
	if p.Blocks[1].Src != "/blog/media/alice/posts/dup/cat.png" {
		t.Errorf("second reference = %q", p.Blocks[1].Src)
	}
}

func TestDestinationExistsLeavesReference(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	post := e.create(t, e.alice, "Hello World")
	testutil.PutFile(t, e.files, "alice/posts/hello-world/cat.png", "someone else")
	e.upload(t, e.alice, "cat.png", "meow")

	p, report, err := e.posts.Update(ctx, e.alice, post.Slug, Input{
		Title:  ptr("Hello again"),
		Blocks: blocksJSON(t, `[{"id":"b1","type":"image","src":"/media/alice/uploads/cat.png"}]`),
	})
	if err != nil {
		t.Fatalf("save must succeed: %v", err)
	}
	w := report.Warnings()
	if len(w) != 1 || w[0].Outcome != "destination exists" {
		t.Fatalf("warnings = %+v", w)
	}
	if p.Blocks[0].Src != "/media/alice/uploads/cat.png" {
		t.Errorf("reference rewritten despite skip: %q", p.Blocks[0].Src)
	}
	stored, _ := e.db.PostBySlug(ctx, post.Slug)
	if stored.Title != "Hello again" {
		t.Errorf("scalars not persisted: %q", stored.Title)
	}
	if got := testutil.ReadFile(t, e.files, "alice/posts/hello-world/cat.png"); got != "someone else" {
		t.Errorf("destination overwritten: %q", got)
	}
}

func TestMissingSourceIsAWarning(t *testing.T) {
	e := newEnv(t)
	post := e.create(t, e.alice, "Ghost")
	_, report, err := e.posts.Update(context.Background(), e.alice, post.Slug, Input{
		Blocks: blocksJSON(t, `[{"id":"b1","type":"image","src":"/media/alice/uploads/ghost.png"}]`),
	})
	if err != nil {
		t.Fatal(err)
	}
	if w := report.Warnings(); len(w) != 1 || w[0].Outcome != "source missing" {
		t.Errorf("warnings = %+v", w)
	}
}

func TestForeignReferencesSkipped(t *testing.T) {
	e := newEnv(t)
	post := e.create(t, e.alice, "Borrowed")
	e.upload(t, e.bob, "dog.png", "woof")
	_, report, err := e.posts.Update(context.Background(), e.alice, post.Slug, Input{
		Blocks: blocksJSON(t, `[{"id":"b1","type":"image","src":"/media/bob/uploads/dog.png"}]`),
	})
	if err != nil {
		t.Fatal(err)
	}
	if w := report.Warnings(); len(w) != 1 || w[0].Outcome != "skipped" {
		t.Errorf("warnings = %+v", w)
	}
	if !testutil.Exists(t, e.files, "bob/uploads/dog.png") {
		t.Error("another user's upload was moved")
	}
}

func TestLegacyUploadRelocated(t *testing.T) {
	e := newEnv(t)
	post := e.create(t, e.alice, "Old")
	testutil.PutFile(t, e.files, "uploads/2024/05/old.jpg", "legacy")
	p, _, err := e.posts.Update(context.Background(), e.alice, post.Slug, Input{
		Blocks: blocksJSON(t, `[{"id":"b1","type":"image","src":"/media/uploads/2024/05/old.jpg"}]`),
	})
	if err != nil {
		t.Fatal(err)
	}
	if p.Blocks[0].Src != "/media/alice/posts/old/old.jpg" {
		t.Errorf("src = %q", p.Blocks[0].Src)
	}
	if !testutil.Exists(t, e.files, "alice/posts/old/old.jpg") {
		t.Error("legacy file not moved")
	}
}

func TestResaveIsIdempotent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	post := e.create(t, e.alice, "Again")
	e.upload(t, e.alice, "cat.png", "meow")
	p, _, err := e.posts.Update(ctx, e.alice, post.Slug, Input{
		Blocks: blocksJSON(t, `[{"id":"b1","type":"image","src":"/media/alice/uploads/cat.png"}]`),
	})
	if err != nil {
		t.Fatal(err)
	}
	report, err := e.posts.Save(ctx, p)
	if err != nil {
		t.Fatal(err)
	}
	if len(report.References) != 0 {
		t.Errorf("second save found references: %+v", report.References)
	}
}

func TestInvalidBlocksRejectedBeforePersisting(t *testing.T) {
	e := newEnv(t)
	post := e.create(t, e.alice, "Strict")
	bad := models.Blocks{{ID: "a", Type: models.BlockText}, {ID: "a", Type: models.BlockText}}
	_, _, err := e.posts.Update(context.Background(), e.alice, post.Slug, Input{Title: ptr("Changed"), Blocks: &bad})
	if !apperr.IsValidation(err) {
		t.Fatalf("err = %v, want validation", err)
	}
	stored, _ := e.db.PostBySlug(context.Background(), post.Slug)
	if stored.Title != "Strict" {
		t.Errorf("title persisted despite validation failure: %q", stored.Title)
	}
}

func TestDeleteRemovesFolderAndRecords(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	post := e.create(t, e.alice, "Doomed")
	in := e.upload(t, e.alice, "in.png", "in")
	if _, _, err := e.posts.Update(ctx, e.alice, post.Slug, Input{
		Blocks: blocksJSON(t, `[{"id":"b1","type":"image","src":"/media/alice/uploads/in.png"}]`),
	}); err != nil {
		t.Fatal(err)
	}
	// A record associated with the post whose file never made it into the folder.
	testutil.PutFile(t, e.files, "alice/posts/doomed/out.png", "occupied")
	out := e.upload(t, e.alice, "out.png", "out")
	out.PostID = &post.ID
	if _, err := e.media.Save(ctx, out); err != nil {
		t.Fatal(err)
	}
	unrelated := e.upload(t, e.alice, "keep.png", "keep")

	if _, err := e.posts.Delete(ctx, e.alice, post.Slug); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if testutil.Exists(t, e.files, "alice/posts/doomed") {
		t.Error("post folder still exists")
	}
	if testutil.Exists(t, e.files, "alice/uploads/out.png") {
		t.Error("stray file of the post still exists")
	}
	for _, m := range []*models.Media{in, out} {
		if _, err := e.db.MediaByID(ctx, m.ID); !errors.Is(err, apperr.ErrNotFound) {
			t.Errorf("media %s still present: %v", m.Filename, err)
		}
	}
	if _, err := e.db.MediaByID(ctx, unrelated.ID); err != nil {
		t.Errorf("unrelated media removed: %v", err)
	}
	if _, err := e.db.PostBySlug(ctx, post.Slug); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("post still present: %v", err)
	}
}

func TestDeleteWithoutMediaOrFolder(t *testing.T) {
	e := newEnv(t)
	post := e.create(t, e.alice, "Empty")
	if _, err := e.posts.Delete(context.Background(), e.alice, post.Slug); err != nil {
		t.Fatalf("Delete: %v", err)
	}
}

func TestWriteAccess(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	draft := e.create(t, e.alice, "Draft")
	pub := e.create(t, e.alice, "Public")
	if _, err := e.posts.Publish(ctx, e.alice, pub.Slug); err != nil {
		t.Fatal(err)
	}

	if _, err := e.posts.Delete(ctx, e.bob, draft.Slug); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("bob deleting alice's draft: %v", err)
	}
	if _, err := e.posts.Delete(ctx, e.bob, pub.Slug); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("bob deleting alice's published post: %v", err)
	}
	if _, err := e.posts.Get(ctx, nil, draft.Slug); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("anonymous read of draft: %v", err)
	}
	if _, err := e.posts.Get(ctx, e.alice, draft.Slug); err != nil {
		t.Errorf("author read of draft: %v", err)
	}
	if _, err := e.posts.Get(ctx, nil, pub.Slug); err != nil {
		t.Errorf("anonymous read of published post: %v", err)
	}
}

func TestPublishUnpublish(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	post := e.create(t, e.alice, "Toggle")

	if _, err := e.posts.Unpublish(ctx, e.alice, post.Slug); !apperr.IsValidation(err) {
		t.Errorf("unpublish draft: %v", err)
	}
	p, err := e.posts.Publish(ctx, e.alice, post.Slug)
	if err != nil {
		t.Fatal(err)
	}
	if !p.IsPublished() || p.PublishedAt == nil {
		t.Errorf("after publish: %+v", p)
	}
	if _, err := e.posts.Publish(ctx, e.alice, post.Slug); !apperr.IsValidation(err) {
		t.Errorf("publish twice: %v", err)
	}
	list, total, err := e.posts.ListPublished(ctx, 10, 0)
	if err != nil || total != 1 || len(list) != 1 {
		t.Errorf("published list = %d/%d, %v", len(list), total, err)
	}
	if _, err := e.posts.Unpublish(ctx, e.alice, post.Slug); err != nil {
		t.Fatal(err)
	}
	drafts, err := e.posts.ListDrafts(ctx, e.alice)
	if err != nil || len(drafts) != 1 {
		t.Errorf("drafts = %d, %v", len(drafts), err)
	}
}

func TestSetCover(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	post := e.create(t, e.alice, "Covered")

	p, m, err := e.posts.SetCover(ctx, e.alice, post.Slug, "Cover Photo.JPG", strings.NewReader("jpeg"))
	if err != nil {
		t.Fatalf("SetCover: %v", err)
	}
	if p.CoverImage != "alice/posts/covered/Cover_Photo.jpg" || m.StoredPath != p.CoverImage {
		t.Errorf("cover = %q, media = %q", p.CoverImage, m.StoredPath)
	}
	if m.PostID == nil || *m.PostID != post.ID {
		t.Errorf("cover media not associated: %+v", m)
	}
	stored, _ := e.db.PostBySlug(ctx, post.Slug)
	if stored.CoverImage != p.CoverImage {
		t.Errorf("persisted cover = %q", stored.CoverImage)
	}
	if e.posts.URL(stored.CoverImage) != "/media/alice/posts/covered/Cover_Photo.jpg" {
		t.Errorf("cover url = %q", e.posts.URL(stored.CoverImage))
	}

	if _, _, err := e.posts.SetCover(ctx, e.alice, post.Slug, "clip.mp4", strings.NewReader("x")); !apperr.IsValidation(err) {
		t.Errorf("video cover: %v", err)
	}
}

func TestLongTitleSlugsKeepIncrementing(t *testing.T) {
	e := newEnv(t)
	title := strings.Repeat("a", 200)
	var got []string
	for range 3 {
		p := e.create(t, e.alice, title)
		if len(p.Slug) > 200 {
			t.Errorf("slug %q is %d bytes", p.Slug, len(p.Slug))
		}
		got = append(got, p.Slug)
	}
	want := []string{title, strings.Repeat("a", 198) + "-1", strings.Repeat("a", 198) + "-2"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("post %d slug = %q, want %q", i, got[i], want[i])
		}
	}
}

// staleSlugs hides existing slugs from the first stale snapshot requests,
// as if another writer had inserted them in between.
type staleSlugs struct {
	store.Store
	stale int
}

func (s *staleSlugs) SlugsWithPrefix(ctx context.Context, prefix string) (map[string]struct{}, error) {
	if s.stale > 0 {
		s.stale--
		return map[string]struct{}{}, nil
	}
	return s.Store.SlugsWithPrefix(ctx, prefix)
}

func TestSlugConflictRetriesWithFreshSnapshot(t *testing.T) {
	e := newEnv(t)
	e.create(t, e.alice, "Hello")
	db := &staleSlugs{Store: e.db, stale: 1}
	svc := New(db, e.files, e.media, WithLogger(testutil.Logger()))

	p, _, err := svc.Create(context.Background(), e.alice, Input{Title: ptr("Hello")})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if p.Slug != "hello-1" {
		t.Errorf("slug = %q, want hello-1", p.Slug)
	}
	if db.stale != 0 {
		t.Errorf("stale snapshots left = %d", db.stale)
	}
}

func TestSlugConflictGivesUpAfterRetries(t *testing.T) {
	e := newEnv(t)
	e.create(t, e.alice, "Hello")
	svc := New(&staleSlugs{Store: e.db, stale: 1 << 20}, e.files, e.media, WithLogger(testutil.Logger()))

	p := &models.Post{Author: *e.alice, Title: "Hello", Status: models.PostDraft, Blocks: models.Blocks{}}
	_, err := svc.Save(context.Background(), p)
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("err = %v, want conflict", err)
	}
	if !p.IsNew() || p.Slug != "" {
		t.Errorf("post not reset after failed insert: id=%v slug=%q", p.ID, p.Slug)
	}
	_, total, err := e.db.ListPosts(context.Background(), store.PostFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 {
		t.Errorf("posts = %d, want 1", total)
	}
}

func TestMissingSourceDoesNotClaimSameNamedFile(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	post := e.create(t, e.alice, "Shared")
	owned := e.upload(t, e.alice, "dog.png", "first dog")
	if _, _, err := e.posts.Update(ctx, e.alice, post.Slug, Input{
		Blocks: blocksJSON(t, `[{"id":"b1","type":"image","src":"/media/alice/uploads/dog.png"}]`),
	}); err != nil {
		t.Fatal(err)
	}

	p, report, err := e.posts.Update(ctx, e.alice, post.Slug, Input{
		Blocks: blocksJSON(t, `[
			{"id":"b1","type":"image","src":"/media/alice/posts/shared/dog.png"},
			{"id":"b2","type":"image","src":"/media/alice/uploads/dog.png"}
		]`),
	})
	if err != nil {
		t.Fatal(err)
	}
	if w := report.Warnings(); len(w) != 1 || w[0].Outcome != "source missing" {
		t.Fatalf("warnings = %+v", w)
	}
	if p.Blocks[1].Src != "/media/alice/uploads/dog.png" {
		t.Errorf("dangling reference rewritten to %q", p.Blocks[1].Src)
	}
	m, err := e.db.MediaByID(ctx, owned.ID)
	if err != nil {
		t.Fatal(err)
	}
	if m.StoredPath != "alice/posts/shared/dog.png" {
		t.Errorf("stored path = %q", m.StoredPath)
	}
}
