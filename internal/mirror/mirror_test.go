package mirror

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bmirror/internal/bspace"
	"bmirror/internal/bspace/bspacetest"
	"bmirror/internal/cas"
	"bmirror/internal/transport"
)

const base = "https://host"

func readFile(t *testing.T, p string) string {
	t.Helper()
	b, err := os.ReadFile(p)
	require.NoError(t, err)
	return string(b)
}

func TestFileRoundTrip(t *testing.T) {
	req := bspacetest.New().Serve("https://host/base/x/y.pdf", "%PDF-1.4 bytes")
	root := t.TempDir()
	d := New(req, root)

	f := bspace.NewFile("https://host/base", "/x/y.pdf", "Syllabus")
	require.NoError(t, d.File(context.Background(), f))

	assert.Equal(t, "%PDF-1.4 bytes", readFile(t, filepath.Join(root, "y.pdf")))
	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files are left behind")
}

func TestFileReplacesExisting(t *testing.T) {
	req := bspacetest.New().Serve(base+"/n.txt", "short")
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "n.txt"), []byte("a much longer old body"), 0o644))

	require.NoError(t, New(req, root).File(context.Background(), bspace.NewFile(base, "n.txt", "n")))
	assert.Equal(t, "short", readFile(t, filepath.Join(root, "n.txt")))
}

func TestFileNon2xxWritesNothing(t *testing.T) {
	req := bspacetest.New()
	req.Serve(base+"/gone.pdf", "<html>forbidden</html>")
	req.Status[base+"/gone.pdf"] = 403
	root := t.TempDir()

	err := New(req, root).File(context.Background(), bspace.NewFile(base, "gone.pdf", "Gone"))
	assert.ErrorIs(t, err, cas.ErrProtocol)
	_, statErr := os.Stat(filepath.Join(root, "gone.pdf"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestFileBodyFailureIsTransportError(t *testing.T) {
	req := bspacetest.New().Truncate(base+"/big.pdf", "partial", io.ErrUnexpectedEOF)
	root := t.TempDir()

	err := New(req, root).File(context.Background(), bspace.NewFile(base, "big.pdf", "Big"))
	var terr *transport.Error
	require.True(t, errors.As(err, &terr), "got %v", err)
	assert.Equal(t, base+"/big.pdf", terr.URL)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries, "neither the file nor its .part remains")
}

func TestAssignmentScenario(t *testing.T) {
	req := bspacetest.New()
	req.Serve(base+"/direct/site.json", `{"site_collection": [{"id": "s1", "entityTitle": "CS 61A"}]}`)
	req.Serve(base+"/direct/assignment/site/s1.json",
		`{"assignment_collection": [{"title": "HW1", "attachments": [{"url": "https://host/a.pdf", "name": "a.pdf"}]}]}`)
	req.Serve("https://host/a.pdf", "A")

	sites, err := bspace.New(req, bspace.DefaultEndpoints(base)).Sites(context.Background())
	require.NoError(t, err)
	as, err := sites[0].Assignments(context.Background())
	require.NoError(t, err)

	root := t.TempDir()
	d := New(req, root)
	require.NoError(t, d.Assignment(context.Background(), as[0]))

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a.pdf", entries[0].Name())
	assert.Equal(t, "A", readFile(t, filepath.Join(root, "a.pdf")))
}

func TestAssignmentCollisionOverwrites(t *testing.T) {
	req := bspacetest.New().Serve(base+"/1/notes.pdf", "first").Serve(base+"/2/notes.pdf", "second")
	root := t.TempDir()
	m, err := LoadManifest(root)
	require.NoError(t, err)
	d := New(req, root, WithManifest(m))

	ctx := context.Background()
	require.NoError(t, d.Assignment(ctx, &bspace.Assignment{Title: "HW1", Attachments: []bspace.Attachment{{URL: base + "/1/notes.pdf", Name: "notes.pdf"}}}))
	require.NoError(t, d.Assignment(ctx, &bspace.Assignment{Title: "HW2", Attachments: []bspace.Attachment{{URL: base + "/2/notes.pdf", Name: "notes.pdf"}}}))

	assert.Equal(t, "second", readFile(t, filepath.Join(root, "notes.pdf")))
	e, ok := m.Lookup("notes.pdf")
	require.True(t, ok)
	assert.Equal(t, base+"/2/notes.pdf", e.URL)
	assert.Equal(t, 1, m.Len())
}

func newSiteFixture(t *testing.T) (*bspacetest.Requester, *bspace.Site) {
	t.Helper()
	req := bspacetest.New()
	req.Serve(base+"/direct/site.json", `{"site_collection": [{"id": "s1", "entityTitle": "CS 61A"}]}`)
	req.Serve(base+"/direct/assignment/site/s1.json",
		`{"assignment_collection": [{"title": "HW1", "attachments": [{"url": "https://host/hw1.pdf", "name": "hw1.pdf"}]}]}`)
	req.Serve("https://host/hw1.pdf", "hw1")
	content := base + "/access/content/group/s1/"
	req.Serve(content, `<ul>
<li class="upfolder"><a href="../">Up</a></li>
<li class="folder"><a href="Lectures/">Lectures</a></li>
<li class="file"><a href="syllabus.pdf">Syllabus</a></li>
<li class="file"><a href="http://example.com" class="url">Course site</a></li>
</ul>`)
	req.Serve(content+"Lectures/", `<ul><li class="file"><a href="l1.pdf">Lecture 1</a></li></ul>`)
	req.Serve(content+"syllabus.pdf", "syllabus")
	req.Serve(content+"Lectures/l1.pdf", "l1")

	sites, err := bspace.New(req, bspace.DefaultEndpoints(base)).Sites(context.Background())
	require.NoError(t, err)
	return req, sites[0]
}

func TestSiteLayout(t *testing.T) {
	r, site := newSiteFixture(t)
	root := t.TempDir()
	m, err := LoadManifest(root)
	require.NoError(t, err)
	var written []string
	d := New(r, root, WithManifest(m), WithProgress(func(p Progress) { written = append(written, p.Path) }))

	require.NoError(t, d.Site(context.Background(), site))

	assert.Equal(t, "hw1", readFile(t, filepath.Join(root, "CS 61A", "assignments", "hw1.pdf")))
	res := filepath.Join(root, "CS 61A", "resources - CS 61A")
	assert.Equal(t, "syllabus", readFile(t, filepath.Join(res, "syllabus.pdf")))
	assert.Equal(t, "l1", readFile(t, filepath.Join(res, "Lectures", "l1.pdf")))
	assert.Equal(t, []string{
		"CS 61A/assignments/hw1.pdf",
		"CS 61A/resources - CS 61A/Lectures/l1.pdf",
		"CS 61A/resources - CS 61A/syllabus.pdf",
	}, written)
	assert.Equal(t, 3, m.Len())
	assert.Equal(t, root, d.Dir())
}

func TestStackRestoredAfterChildError(t *testing.T) {
	r, site := newSiteFixture(t)
	r.Fail(base+"/access/content/group/s1/Lectures/l1.pdf", errors.New("connection reset"))
	wd, err := os.Getwd()
	require.NoError(t, err)

	root := t.TempDir()
	d := New(r, root)
	folder, err := site.Resources(context.Background())
	require.NoError(t, err)

	err = d.Folder(context.Background(), folder, "")
	require.Error(t, err)
	assert.Equal(t, root, d.Dir())

	after, err := os.Getwd()
	require.NoError(t, err)
	assert.Equal(t, wd, after)
}

func TestFolderListingErrorRestoresStack(t *testing.T) {
	root := t.TempDir()
	r := bspacetest.New()
	d := New(r, root)
	c := bspace.New(r, bspace.DefaultEndpoints(base))

	err := d.Folder(context.Background(), bspace.NewFolder(c, base+"/missing/", "Missing"), "")
	assert.ErrorIs(t, err, cas.ErrProtocol)
	assert.Equal(t, root, d.Dir())
	assert.DirExists(t, filepath.Join(root, "Missing"))
}

func TestEnterFailureIsFSError(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "blocked"), nil, 0o644))
	d := New(bspacetest.New(), root)

	_, err := d.enter("blocked")
	var fsErr *FSError
	require.ErrorAs(t, err, &fsErr)
	assert.Equal(t, "mkdir", fsErr.Op)
	assert.Equal(t, root, d.Dir())
}

func TestTitlesAreSanitized(t *testing.T) {
	root := t.TempDir()
	d := New(bspacetest.New(), root)

	leave, err := d.enter("Week 1/2")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "Week 1_2"), d.Dir())
	leave()

	leave, err = d.enter("..")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "__"), d.Dir())
	leave()
	assert.Equal(t, root, d.Dir())
}

func TestManifestVerify(t *testing.T) {
	root := t.TempDir()
	r := bspacetest.New().Serve(base+"/a.txt", "alpha").Serve(base+"/b.txt", "beta").Serve(base+"/c.txt", "gamma")
	m, err := LoadManifest(root)
	require.NoError(t, err)
	d := New(r, root, WithManifest(m))
	d.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	ctx := context.Background()
	for _, name := range []string{"a.txt", "b.txt", "c.txt"} {
		require.NoError(t, d.File(ctx, bspace.NewFile(base, name, name)))
	}
	require.NoError(t, m.Save())

	require.NoError(t, os.WriteFile(filepath.Join(root, "b.txt"), []byte("BETA"), 0o644))
	require.NoError(t, os.Remove(filepath.Join(root, "c.txt")))

	loaded, err := LoadManifest(root)
	require.NoError(t, err)
	require.Equal(t, 3, loaded.Len())
	e, ok := loaded.Lookup("a.txt")
	require.True(t, ok)
	assert.Equal(t, int64(5), e.Size)
	assert.Equal(t, base+"/a.txt", e.URL)
	assert.True(t, e.Fetched.Equal(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)))

	results, err := loaded.Verify(ctx)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, StatusOK, results[0].Status)
	assert.Equal(t, StatusModified, results[1].Status)
	assert.Equal(t, StatusMissing, results[2].Status)
	assert.Equal(t, "missing", results[2].Status.String())
}

func TestLoadManifestMissingIsEmpty(t *testing.T) {
	m, err := LoadManifest(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 0, m.Len())
	assert.Empty(t, m.Entries())
}

func TestVerifyHonorsContext(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a"), []byte("x"), 0o644))
	m, err := LoadManifest(root)
	require.NoError(t, err)
	m.Record(Entry{Path: "a", Size: 1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m.Verify(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
