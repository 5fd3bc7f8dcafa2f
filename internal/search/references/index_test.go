package references

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"
	"testing"

	"phpscope/internal/logging"
	"phpscope/internal/search/symbols"
)

type mapSource struct {
	mu    sync.Mutex
	files map[string]string
	reads int
}

func (m *mapSource) ListFiles(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Sorted(maps.Keys(m.files)), nil
}

func (m *mapSource) ReadFile(ctx context.Context, id string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	text, ok := m.files[id]
	if !ok {
		return "", errors.New("not found")
	}
	return text, nil
}

func (m *mapSource) set(id, text string) {
	m.mu.Lock()
	m.files[id] = text
	m.mu.Unlock()
}

func setup(t *testing.T, files map[string]string) (*Index, *symbols.Index, *mapSource) {
	t.Helper()
	src := &mapSource{files: files}
	syms := symbols.New(src, logging.Nop())
	if err := syms.EnsureBuilt(context.Background()); err != nil {
		t.Fatal(err)
	}
	return New(src, syms, logging.Nop()), syms, src
}

func bucketKeys(refs []Ref) []string {
	var keys []string
	for _, r := range refs {
		keys = append(keys, r.Key)
	}
	slices.Sort(keys)
	return keys
}

func TestExtract(t *testing.T) {
	src := `<?php
namespace App;
use Lib\Logger;

function helper($x) { return strlen($x); }
function &ref(array &$a) { return $a; }

class Service extends Base {
    public function & items() { return $this->items; }
    public function run() {
        helper(1);
        \App\helper(2);
        $this->boot();
        $this?->stop();
        self::make();
        parent::__construct();
        Logger::info('x');
        $obj = new Thing();
        $fn = function () {};
        $cb = fn($y) => $y;
        $dyn($a);
        $class::create();
        if (isset($a)) { echo('x'); }
    }
}
`
	got := bucketKeys(Extract(src))
	want := []string{
		"fn:helper", "fn:helper", "fn:strlen",
		"method:boot", "method:stop",
		`static:App\Base::__construct`, `static:App\Service::make`, `static:Lib\Logger::info`,
	}
	slices.Sort(want)
	if !slices.Equal(got, want) {
		t.Errorf("Extract() keys = %v\nwant %v", got, want)
	}
}

func TestCountStalenessBound(t *testing.T) {
	idx, syms, src := setup(t, map[string]string{
		"a.php": "<?php\nfunction f() {}\nf();\n",
		"b.php": "<?php\necho 'nothing yet';\n",
	})
	ctx := context.Background()
	if err := idx.EnsureBuilt(ctx); err != nil {
		t.Fatal(err)
	}
	if got := len(idx.Count("f")); got != 1 {
		t.Fatalf("Count(f) = %d, want 1", got)
	}

	newB := "<?php\necho 'now';\nf();\n"
	src.set("b.php", newB)
	syms.UpdateFile(newB, "b.php")

	if !idx.Stale() {
		t.Error("index should be stale after a symbol index mutation")
	}
	if got := len(idx.Count("f")); got != 1 {
		t.Errorf("Count(f) before rebuild = %d, want the old count 1", got)
	}

	if err := idx.EnsureBuilt(ctx); err != nil {
		t.Fatal(err)
	}
	locs := idx.Count("f")
	if len(locs) != 2 {
		t.Fatalf("Count(f) after rebuild = %v, want 2 sites", locs)
	}
	inB := 0
	for _, l := range locs {
		if l.File == "b.php" {
			inB++
			if l.Range.Start.Line != 2 {
				t.Errorf("call in b.php at line %d, want 2", l.Range.Start.Line)
			}
		}
	}
	if inB != 1 {
		t.Errorf("new call site counted %d times, want exactly once", inB)
	}
}

func TestEnsureBuiltIsVersionGated(t *testing.T) {
	idx, _, src := setup(t, map[string]string{"a.php": "<?php\nfoo();\n"})
	ctx := context.Background()
	if err := idx.EnsureBuilt(ctx); err != nil {
		t.Fatal(err)
	}
	src.mu.Lock()
	reads := src.reads
	src.mu.Unlock()

	if err := idx.EnsureBuilt(ctx); err != nil {
		t.Fatal(err)
	}
	src.mu.Lock()
	defer src.mu.Unlock()
	if src.reads != reads {
		t.Errorf("EnsureBuilt at the same version reread files (%d -> %d)", reads, src.reads)
	}
	if st := idx.Stats(); !st.Built || st.Files != 1 {
		t.Errorf("Stats() = %+v", st)
	}
}

func TestCountMethods(t *testing.T) {
	idx, _, _ := setup(t, map[string]string{
		"repo.php": `<?php
namespace Data;
class Repo {
    public function save() {}
    public static function find() {}
    const TABLE = 'repos';
    public $conn;
}
`,
		"use.php": `<?php
use Data\Repo;
$r = new Repo();
$r->save();
$other->save();
Repo::find();
Repo::find();
`,
	})
	if err := idx.EnsureBuilt(context.Background()); err != nil {
		t.Fatal(err)
	}

	if got := len(idx.Count("Repo::save")); got != 2 {
		t.Errorf("Count(Repo::save) = %d, want 2 (instance calls collapse by name)", got)
	}
	if got := len(idx.Count(`Data\Repo::find`)); got != 2 {
		t.Errorf(`Count(Data\Repo::find) = %d, want 2`, got)
	}
	if got := len(idx.Count("Repo::find")); got != 2 {
		t.Errorf("Count(Repo::find) = %d, want 2", got)
	}
	if got := idx.Count("Repo::TABLE"); got != nil {
		t.Errorf("constants have no call sites, got %v", got)
	}
	if got := idx.Count("Repo->conn"); got != nil {
		t.Errorf("properties have no call sites, got %v", got)
	}
	if got := idx.Count("missing"); got != nil {
		t.Errorf("unknown keys have no call sites, got %v", got)
	}
}

func TestMemoReusesUnchangedFiles(t *testing.T) {
	idx, syms, src := setup(t, map[string]string{
		"a.php": "<?php\nfunction g() {}\n",
		"b.php": "<?php\ng();\n",
	})
	ctx := context.Background()
	if err := idx.EnsureBuilt(ctx); err != nil {
		t.Fatal(err)
	}
	first := idx.Lookup(FunctionKey("g"))

	syms.UpdateFile("<?php\nfunction g() {}\n", "a.php")
	if err := idx.EnsureBuilt(ctx); err != nil {
		t.Fatal(err)
	}
	if got := idx.Lookup(FunctionKey("g")); !slices.Equal(got, first) {
		t.Errorf("Lookup after no-op rebuild = %v, want %v", got, first)
	}

	delete(src.files, "b.php")
	syms.DeleteFile("b.php")
	if err := idx.EnsureBuilt(ctx); err != nil {
		t.Fatal(err)
	}
	if got := idx.Lookup(FunctionKey("g")); len(got) != 0 {
		t.Errorf("calls from a removed file survived: %v", got)
	}
	if st := idx.Stats(); st.Files != 1 {
		t.Errorf("memo should forget removed files, Stats() = %+v", st)
	}
}
