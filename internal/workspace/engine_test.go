package workspace

import (
	"context"
	"errors"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"phpscope/internal/builtins"
	"phpscope/internal/config"
	"phpscope/internal/extract"
	"phpscope/internal/logging"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type memSource struct {
	mu    sync.Mutex
	files map[string]string
}

func (m *memSource) ListFiles(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Sorted(maps.Keys(m.files)), nil
}

func (m *memSource) ReadFile(ctx context.Context, id string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	text, ok := m.files[id]
	if !ok {
		return "", errors.New("no such file")
	}
	return text, nil
}

func (m *memSource) write(id, text string) {
	m.mu.Lock()
	m.files[id] = text
	m.mu.Unlock()
}

func (m *memSource) remove(id string) {
	m.mu.Lock()
	delete(m.files, id)
	m.mu.Unlock()
}

// routeView restricts a memSource to routes/.
type routeView struct{ *memSource }

func (r routeView) ListFiles(ctx context.Context) ([]string, error) {
	all, err := r.memSource.ListFiles(ctx)
	return slices.DeleteFunc(all, func(id string) bool { return !r.Contains(id) }), err
}

func (r routeView) Contains(id string) bool { return strings.HasPrefix(id, "routes/") }

func newEngine(t *testing.T, files map[string]string, deb config.DebounceConfig) (*Engine, *memSource) {
	t.Helper()
	if files == nil {
		files = map[string]string{}
	}
	src := &memSource{files: files}
	e := New(Options{
		Source:   src,
		Routes:   routeView{src},
		Debounce: deb,
		Logger:   logging.Nop(),
	})
	t.Cleanup(e.Close)
	return e, src
}

// posOf returns the position of the first occurrence of marker in text,
// plus skip bytes.
func posOf(t *testing.T, text, marker string, skip int) extract.Position {
	t.Helper()
	i := strings.Index(text, marker)
	if i < 0 {
		t.Fatalf("marker %q not found", marker)
	}
	i += skip
	line := strings.Count(text[:i], "\n")
	col := i - (strings.LastIndex(text[:i], "\n") + 1)
	return extract.Position{Line: line, Column: col}
}

const greeterSrc = `<?php
namespace App;

class Greeter {
    public function hello(string $name): string { }
}
`

const callerSrc = `<?php
use App\Greeter;

$g = new Greeter();
echo $g->hello('world');
`

func TestGreeterScenario(t *testing.T) {
	e, _ := newEngine(t, map[string]string{
		"app/Greeter.php": greeterSrc,
		"public/index.php": callerSrc,
	}, config.DebounceConfig{})
	ctx := context.Background()

	keys := slices.Collect(e.AllSymbolKeys(ctx))
	for _, k := range []string{"Greeter", `App\Greeter`, "Greeter::hello", `App\Greeter::hello`} {
		if !slices.Contains(keys, k) {
			t.Errorf("missing key %q in %v", k, keys)
		}
	}

	sigs := e.SignatureFor(ctx, "Greeter::hello")
	if len(sigs) != 1 || !strings.Contains(sigs[0].Label, "string $name") || !strings.HasSuffix(sigs[0].Label, ": string") {
		t.Errorf("SignatureFor() = %+v", sigs)
	}

	locs := e.ResolveDefinition(ctx, "public/index.php", posOf(t, callerSrc, "hello", 2))
	if len(locs) != 1 || locs[0].File != "app/Greeter.php" || locs[0].Range.Start.Line != 4 {
		t.Errorf("ResolveDefinition() = %v", locs)
	}

	help, ok := e.SignatureAt(ctx, "public/index.php", posOf(t, callerSrc, "'world'", 1))
	if !ok || help.ActiveParam != 0 || help.Signatures[0].Name != "hello" {
		t.Errorf("SignatureAt() = %+v, %v", help, ok)
	}

	if typ, ok := e.TypeAt(ctx, "public/index.php", posOf(t, callerSrc, "$g->", 1)); !ok || typ != `App\Greeter` {
		t.Errorf("TypeAt() = %q, %v", typ, ok)
	}
}

func TestMemberCompletionAfterEdit(t *testing.T) {
	e, _ := newEngine(t, nil, config.DebounceConfig{ChangeMs: 50})
	ctx := context.Background()

	e.Opened("a.php", "<?php\nclass C { public $foo; }\n")
	if ms := e.MembersOf(ctx, "C"); len(ms.Properties) != 1 || ms.Properties[0].Name != "foo" {
		t.Fatalf("MembersOf(C) = %+v", ms)
	}

	e.Changed("a.php", "<?php\nclass C { public $bar; }\n")
	// Still debounced.
	if ms := e.MembersOf(ctx, "C"); len(ms.Properties) != 1 || ms.Properties[0].Name != "foo" {
		t.Errorf("edit applied before the quiet period: %+v", ms)
	}

	e.Flush()
	ms := e.MembersOf(ctx, "C")
	if len(ms.Properties) != 1 || ms.Properties[0].Name != "bar" {
		t.Errorf("MembersOf(C) after edit = %+v", ms)
	}
}

func TestChangesCoalesce(t *testing.T) {
	e, _ := newEngine(t, nil, config.DebounceConfig{ChangeMs: 20})
	ctx := context.Background()
	e.ensure(ctx)
	v := e.Stats().Symbols.Version

	for i := range 5 {
		e.Changed("a.php", "<?php\nfunction f"+string(rune('a'+i))+"() {}\n")
	}
	deadline := time.Now().Add(2 * time.Second)
	for len(e.symbols.Lookup("fe")) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if locs := e.symbols.Lookup("fe"); len(locs) != 1 {
		t.Fatalf("last edit not indexed: %v", slices.Collect(e.AllSymbolKeys(ctx)))
	}
	if got := e.Stats().Symbols.Version - v; got != 1 {
		t.Errorf("five rapid edits caused %d re-indexes, want 1", got)
	}
}

func TestCloseAndDeleteRetract(t *testing.T) {
	e, src := newEngine(t, map[string]string{
		"a.php": "<?php\nclass A { public function run() {} }\n",
		"b.php": "<?php\nclass B {}\n",
	}, config.DebounceConfig{})
	ctx := context.Background()
	e.ensure(ctx)

	e.Opened("a.php", "<?php\nclass A { public function run() {} }\n")
	e.Closed("a.php")
	if locs := e.symbols.Lookup("A"); len(locs) != 0 {
		t.Errorf("closed file still indexed: %v", locs)
	}
	if ms := e.MembersOf(ctx, "A"); !ms.Empty() {
		t.Errorf("MembersOf(A) after close = %+v", ms)
	}

	src.remove("b.php")
	e.Deleted("b.php")
	if locs := e.symbols.Lookup("B"); len(locs) != 0 {
		t.Errorf("deleted file still indexed: %v", locs)
	}

	src.write("c.php", "<?php\nclass C {}\n")
	e.Touched("c.php")
	if locs := e.symbols.Lookup("C"); len(locs) != 1 {
		t.Errorf("touched file not indexed: %v", locs)
	}
}

func TestEditorTextWinsOverDisk(t *testing.T) {
	e, src := newEngine(t, map[string]string{"a.php": "<?php\nclass Disk {}\n"}, config.DebounceConfig{})
	ctx := context.Background()
	e.ensure(ctx)

	e.Opened("a.php", "<?php\nclass Editor {}\n")
	src.write("a.php", "<?php\nclass Disk2 {}\n")
	e.Touched("a.php")
	if len(e.symbols.Lookup("Editor")) != 1 || len(e.symbols.Lookup("Disk2")) != 0 {
		t.Errorf("keys = %v", slices.Collect(e.AllSymbolKeys(ctx)))
	}
}

func TestReferenceCountStaleness(t *testing.T) {
	e, src := newEngine(t, map[string]string{
		"f.php": "<?php\nfunction f() {}\n",
		"a.php": "<?php\nf();\n",
	}, config.DebounceConfig{ReferencesMs: int(time.Hour / time.Millisecond)})
	ctx := context.Background()

	if got := e.ReferenceCount(ctx, "f"); len(got) != 1 {
		t.Fatalf("ReferenceCount(f) = %v", got)
	}

	src.write("b.php", "<?php\nf();\n")
	e.Saved("b.php", "<?php\nf();\n")
	if got := e.ReferenceCount(ctx, "f"); len(got) != 1 {
		t.Errorf("count changed before the rebuild: %v", got)
	}
	if err := e.RefreshReferences(ctx); err != nil {
		t.Fatal(err)
	}
	got := e.ReferenceCount(ctx, "f")
	fromB := 0
	for _, loc := range got {
		if loc.File == "b.php" {
			fromB++
		}
	}
	if len(got) != 2 || fromB != 1 {
		t.Errorf("ReferenceCount(f) after rebuild = %v", got)
	}
}

func TestCompleteSuppressedInComments(t *testing.T) {
	text := "<?php\nclass K { public $v; function m() {\n// $this->\n$this->\n} }\n"
	e, _ := newEngine(t, map[string]string{"k.php": text}, config.DebounceConfig{})
	ctx := context.Background()

	if c, ok := e.Complete(ctx, "k.php", posOf(t, text, "// $this->", len("// $this->"))); ok {
		t.Errorf("completion inside a comment: %+v", c)
	}
	c, ok := e.Complete(ctx, "k.php", posOf(t, text, "\n$this->", len("\n$this->")))
	if !ok || len(c.Members) != 2 {
		t.Errorf("Complete() = %+v, %v", c, ok)
	}
}

func TestRouteNavigation(t *testing.T) {
	view := "<?php\nreturn redirect(route('home'));\n"
	e, _ := newEngine(t, map[string]string{
		"routes/web.php":           "<?php\nRoute::get('/')->name('home');\n",
		"app/Http/Controllers.php": view,
	}, config.DebounceConfig{})
	ctx := context.Background()

	locs := e.ResolveDefinition(ctx, "app/Http/Controllers.php", posOf(t, view, "home", 1))
	if len(locs) != 1 || locs[0].File != "routes/web.php" {
		t.Errorf("ResolveDefinition(route) = %v", locs)
	}

	e.Saved("routes/web.php", "<?php\nRoute::get('/')->name('welcome');\n")
	if names := e.RouteNames(ctx); !slices.Equal(names, []string{"welcome"}) {
		t.Errorf("RouteNames() = %v", names)
	}
}

func TestHierarchyAndSearch(t *testing.T) {
	e, _ := newEngine(t, map[string]string{
		"a.php": "<?php\nnamespace N;\ninterface Shape {}\nclass Circle implements Shape {}\nclass Ring extends Circle {}\n",
	}, config.DebounceConfig{})
	ctx := context.Background()

	if sup := e.Supertypes(ctx, "Ring"); len(sup) != 1 || sup[0].FQN != `N\Circle` {
		t.Errorf("Supertypes(Ring) = %+v", sup)
	}
	if sub := e.Subtypes(ctx, `N\Shape`); len(sub) != 1 || sub[0].FQN != `N\Circle` {
		t.Errorf("Subtypes(Shape) = %+v", sub)
	}
	if res := e.Search(ctx, "circ", 5); len(res) == 0 || res[0].Key != "Circle" {
		t.Errorf("Search(circ) = %+v", res)
	}
}

func TestMissingReflectionBinary(t *testing.T) {
	src := &memSource{files: map[string]string{}}
	e := New(Options{
		Source:    src,
		Reflector: builtins.New("phpscope-test-no-such-php", time.Second, logging.Nop()),
	})
	defer e.Close()
	if sigs := e.SignatureFor(context.Background(), "strlen"); len(sigs) != 0 {
		t.Errorf("SignatureFor(strlen) = %+v without php", sigs)
	}
}

func TestCloseStopsTimers(t *testing.T) {
	e, _ := newEngine(t, nil, config.DebounceConfig{ChangeMs: 10_000})
	e.Changed("a.php", "<?php\nclass Late {}\n")
	if e.Stats().Pending == 0 {
		t.Fatal("expected a pending update")
	}
	e.Close()
	e.Close()
	if e.Stats().Symbols.Keys != 0 {
		t.Error("Close should drop the index")
	}
}

func TestOpenFromDisk(t *testing.T) {
	root := t.TempDir()
	files := map[string]string{
		"app/Greeter.php":    greeterSrc,
		"routes/web.php":     "<?php\nRoute::get('/')->name('home');\n",
		"vendor/lib/Lib.php": "<?php\nclass Lib {}\n",
		"notes.txt":          "class NotPhp {}",
	}
	for rel, text := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	cfg, err := config.Load(root)
	if err != nil {
		t.Fatal(err)
	}
	cfg.Reflection.Enabled = false

	e, err := Open(cfg, logging.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()
	ctx := context.Background()

	keys := slices.Collect(e.AllSymbolKeys(ctx))
	if !slices.Contains(keys, `App\Greeter`) || slices.Contains(keys, "Lib") || slices.Contains(keys, "NotPhp") {
		t.Errorf("keys = %v", keys)
	}
	if names := e.RouteNames(ctx); !slices.Equal(names, []string{"home"}) {
		t.Errorf("RouteNames() = %v", names)
	}
}
