package symbols

import (
	"context"
	"errors"
	"maps"
	"reflect"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"phpscope/internal/logging"
)

// mapSource serves files from memory and counts enumerations.
type mapSource struct {
	mu    sync.Mutex
	files map[string]string
	lists atomic.Int32
}

func newMapSource(files map[string]string) *mapSource {
	return &mapSource{files: files}
}

func (m *mapSource) ListFiles(ctx context.Context) ([]string, error) {
	m.lists.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Sorted(maps.Keys(m.files)), nil
}

func (m *mapSource) ReadFile(ctx context.Context, id string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
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

func newIndex(files map[string]string) (*Index, *mapSource) {
	src := newMapSource(files)
	return New(src, logging.Nop()), src
}

// snapshot captures every key with its sorted location files.
func snapshot(idx *Index) map[string][]Location {
	out := make(map[string][]Location)
	for key := range idx.AllKeys() {
		out[key] = idx.Lookup(key)
	}
	return out
}

const greeter = `<?php
namespace App;

class Greeter {
    public function hello(string $name): string { }
}
`

func TestClassAndMethodIndexing(t *testing.T) {
	idx, _ := newIndex(nil)
	idx.UpdateFile(greeter, "app/Greeter.php")

	for _, key := range []string{"Greeter", `App\Greeter`, "Greeter::hello", `App\Greeter::hello`} {
		if locs := idx.Lookup(key); len(locs) != 1 || locs[0].File != "app/Greeter.php" {
			t.Errorf("Lookup(%q) = %v", key, locs)
		}
	}
	if locs := idx.Lookup(`\App\Greeter`); len(locs) != 1 {
		t.Errorf("leading backslash should be ignored, got %v", locs)
	}

	sigs := idx.Signatures("Greeter::hello")
	if len(sigs) != 1 {
		t.Fatalf("Signatures() = %v", sigs)
	}
	if !strings.Contains(sigs[0].Label, "string $name") || !strings.HasSuffix(sigs[0].Label, ": string") {
		t.Errorf("label = %q", sigs[0].Label)
	}
	if m := idx.Meta("Greeter::hello"); len(m) != 1 || m[0].Kind != "method" || m[0].Container != "Greeter" {
		t.Errorf("Meta() = %+v", m)
	}
}

func TestAliasResolutionInClassInfo(t *testing.T) {
	idx, _ := newIndex(nil)
	idx.UpdateFile("<?php\nuse App\\Models\\User;\n\nclass X extends User {}\n", "x.php")

	c, ok := idx.Class("X")
	if !ok {
		t.Fatal("class X not indexed")
	}
	if c.Extends != `App\Models\User` {
		t.Errorf("Extends = %q, want App\\Models\\User", c.Extends)
	}
}

func TestIdempotentReindex(t *testing.T) {
	idx, _ := newIndex(nil)
	idx.UpdateFile(greeter, "a.php")
	once := snapshot(idx)
	idx.UpdateFile(greeter, "a.php")
	twice := snapshot(idx)

	if !reflect.DeepEqual(once, twice) {
		t.Errorf("re-indexing changed state:\nonce:  %v\ntwice: %v", once, twice)
	}
}

func TestExactRetraction(t *testing.T) {
	idx, _ := newIndex(nil)
	idx.UpdateFile("<?php\nclass Alpha { const A = 1; }\nfunction first() {}\n", "a.php")
	idx.UpdateFile("<?php\nclass Beta { public $b; }\nfunction second() {}\n", "a.php")

	for _, key := range []string{"Alpha", "Alpha::A", "first"} {
		if locs := idx.Lookup(key); len(locs) != 0 {
			t.Errorf("stale key %q still maps to %v", key, locs)
		}
	}
	for _, key := range []string{"Beta", "Beta->b", "Beta->$b", "second"} {
		if locs := idx.Lookup(key); len(locs) != 1 {
			t.Errorf("Lookup(%q) = %v, want one location", key, locs)
		}
	}
	if _, ok := idx.Class("Alpha"); ok {
		t.Error("ClassInfo for Alpha should be retracted")
	}
	if got := idx.FileKeys("a.php"); !slices.Contains(got, "Beta") || slices.Contains(got, "Alpha") {
		t.Errorf("FileKeys() = %v", got)
	}
}

func TestDeleteCompleteness(t *testing.T) {
	idx, _ := newIndex(nil)
	idx.UpdateFile("<?php\nclass Solo { public function run() {} public $x; }\n", "a.php")
	idx.UpdateFile("<?php\nclass Other {}\n", "b.php")
	idx.DeleteFile("a.php")

	for key := range idx.AllKeys() {
		for _, loc := range idx.Lookup(key) {
			if loc.File == "a.php" {
				t.Errorf("key %q still points into deleted file", key)
			}
		}
	}
	if m := idx.MembersOf("Solo"); !m.Empty() {
		t.Errorf("MembersOf(Solo) = %+v, want empty", m)
	}
	if got := idx.Files(); !reflect.DeepEqual(got, []string{"b.php"}) {
		t.Errorf("Files() = %v", got)
	}

	v := idx.Version()
	idx.DeleteFile("never-seen.php")
	if idx.Version() <= v {
		t.Error("deleting an unknown file should still bump the version")
	}
}

func TestVersionMonotonicity(t *testing.T) {
	idx, _ := newIndex(nil)
	last := idx.Version()
	ops := []func(){
		func() { idx.UpdateFile(greeter, "a.php") },
		func() { idx.UpdateFile(greeter, "a.php") },
		func() { idx.UpdateFile("", "b.php") },
		func() { idx.DeleteFile("a.php") },
		func() { idx.DeleteFile("a.php") },
	}
	for i, op := range ops {
		op()
		v := idx.Version()
		if v <= last {
			t.Fatalf("op %d: version %d did not increase past %d", i, v, last)
		}
		last = v
	}
}

func TestMemberCompletionAfterEdit(t *testing.T) {
	idx, _ := newIndex(nil)
	idx.UpdateFile("<?php\nclass C { public $foo; }\n", "a.php")
	if names := propertyNames(idx.MembersOf("C")); !slices.Contains(names, "foo") {
		t.Fatalf("properties = %v, want foo", names)
	}

	idx.UpdateFile("<?php\nclass C { public $bar; }\n", "a.php")
	names := propertyNames(idx.MembersOf("C"))
	if !slices.Contains(names, "bar") || slices.Contains(names, "foo") {
		t.Errorf("properties after edit = %v, want bar without foo", names)
	}
}

func propertyNames(m Members) []string {
	var names []string
	for _, p := range m.Properties {
		names = append(names, p.Name)
	}
	return names
}

func TestMembersOf(t *testing.T) {
	idx, _ := newIndex(nil)
	idx.UpdateFile(`<?php
namespace Shop;

class Cart {
    const MAX = 5;
    public static $instances = 0;
    private array $items = [];

    public function add(Item $item): static { return $this; }
    public static function make(): self { return new self(); }
}
`, "Cart.php")
	idx.UpdateFile("<?php\nnamespace Other;\nclass Cart { public function unrelated() {} }\n", "Other.php")

	m := idx.MembersOf(`Shop\Cart`)
	var methods []string
	for _, x := range m.Methods {
		methods = append(methods, x.Name)
	}
	if !reflect.DeepEqual(methods, []string{"add", "make"}) {
		t.Errorf("methods = %v", methods)
	}
	if len(m.Constants) != 1 || m.Constants[0].Name != "MAX" {
		t.Errorf("constants = %+v", m.Constants)
	}
	props := propertyNames(m)
	if !reflect.DeepEqual(props, []string{"instances", "items"}) {
		t.Errorf("properties = %v", props)
	}
	for _, p := range m.Properties {
		if p.Name == "instances" && !p.Static {
			t.Error("instances should be static")
		}
	}
	if m.Methods[0].Signature == nil || m.Methods[0].Signature.ResolvedReturn != `Shop\Cart` {
		t.Errorf("add signature = %+v", m.Methods[0].Signature)
	}

	// The short name covers every class called Cart.
	short := idx.MembersOf("Cart")
	if short.Len() != m.Len()+1 {
		t.Errorf("MembersOf(Cart) has %d members, want %d", short.Len(), m.Len()+1)
	}
	if !idx.MembersOf("Nope").Empty() {
		t.Error("unknown class should have no members")
	}
}

func TestMembersCacheFollowsVersion(t *testing.T) {
	idx, _ := newIndex(nil)
	idx.UpdateFile("<?php\nclass K { public function a() {} }\n", "k.php")
	if got := idx.MembersOf("K"); len(got.Methods) != 1 {
		t.Fatalf("methods = %+v", got.Methods)
	}
	idx.UpdateFile("<?php\nclass K { public function a() {} public function b() {} }\n", "k.php")
	if got := idx.MembersOf("K"); len(got.Methods) != 2 {
		t.Errorf("cached members survived a mutation: %+v", got.Methods)
	}
}

func TestFirstRegisteredWins(t *testing.T) {
	idx, _ := newIndex(nil)
	idx.UpdateFile("<?php\nnamespace First;\nclass Dup {}\n", "first.php")
	idx.UpdateFile("<?php\nnamespace Second;\nclass Dup {}\n", "second.php")

	if got := idx.FQNs("Dup"); !reflect.DeepEqual(got, []string{`First\Dup`, `Second\Dup`}) {
		t.Errorf("FQNs(Dup) = %v", got)
	}
	c, _ := idx.Class("Dup")
	if c.FQN != `First\Dup` {
		t.Errorf("Class(Dup) = %s, want First\\Dup", c.FQN)
	}
	if locs := idx.Lookup("Dup"); len(locs) != 2 {
		t.Errorf("Lookup(Dup) = %v, want both declarations", locs)
	}

	idx.DeleteFile("first.php")
	if got := idx.FQNs("Dup"); !reflect.DeepEqual(got, []string{`Second\Dup`}) {
		t.Errorf("FQNs(Dup) after delete = %v", got)
	}
}

func TestHierarchy(t *testing.T) {
	idx, _ := newIndex(nil)
	idx.UpdateFile(`<?php
namespace Zoo;
use Contracts\Feeds;

interface Animal {}
abstract class Mammal implements Animal {}
class Dog extends Mammal implements Feeds {}
class Cat extends Mammal {}
`, "zoo.php")

	super := idx.Supertypes("Dog")
	if len(super) != 2 || super[0].FQN != `Zoo\Mammal` || super[1].FQN != `Contracts\Feeds` {
		t.Fatalf("Supertypes(Dog) = %+v", super)
	}
	if super[0].File != "zoo.php" || super[1].File != "" {
		t.Errorf("indexed parent should carry its file, unknown parent none: %+v", super)
	}

	var subs []string
	for _, c := range idx.Subtypes(`Zoo\Mammal`) {
		subs = append(subs, c.Name)
	}
	if !reflect.DeepEqual(subs, []string{"Cat", "Dog"}) {
		t.Errorf("Subtypes(Mammal) = %v", subs)
	}
	if got := idx.Subtypes("Animal"); len(got) != 1 || got[0].Name != "Mammal" {
		t.Errorf("Subtypes(Animal) = %+v", got)
	}

	want := []string{`Zoo\Dog`, `Zoo\Mammal`, `Contracts\Feeds`, `Zoo\Animal`}
	if got := idx.Lineage(`Zoo\Dog`); !reflect.DeepEqual(got, want) {
		t.Errorf("Lineage(Dog) = %v, want %v", got, want)
	}
}

func TestLineageStopsOnCycles(t *testing.T) {
	idx, _ := newIndex(nil)
	idx.UpdateFile("<?php\nclass A extends B {}\nclass B extends A {}\n", "cycle.php")
	if got := idx.Lineage("A"); !reflect.DeepEqual(got, []string{"A", "B"}) {
		t.Errorf("Lineage(A) = %v", got)
	}
}

func TestEnsureBuilt(t *testing.T) {
	idx, src := newIndex(map[string]string{
		"a.php": "<?php\nfunction alpha() {}\n",
		"b.php": "<?php\nclass Beta {}\n",
	})
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := idx.EnsureBuilt(ctx); err != nil {
				t.Errorf("EnsureBuilt() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if n := src.lists.Load(); n != 1 {
		t.Errorf("workspace enumerated %d times, want 1", n)
	}
	if len(idx.Lookup("alpha")) != 1 || len(idx.Lookup("Beta")) != 1 {
		t.Error("build did not index every file")
	}

	src.set("c.php", "<?php\nfunction gamma() {}\n")
	if err := idx.EnsureBuilt(ctx); err != nil {
		t.Fatal(err)
	}
	if len(idx.Lookup("gamma")) != 0 {
		t.Error("EnsureBuilt should not rescan once built")
	}
	if err := idx.Rebuild(ctx); err != nil {
		t.Fatal(err)
	}
	if len(idx.Lookup("gamma")) != 1 {
		t.Error("Rebuild should pick up new files")
	}
	if st := idx.Stats(); st.Files != 3 || !st.Built {
		t.Errorf("Stats() = %+v", st)
	}
}

type failingSource struct{ mapSource }

func (f *failingSource) ReadFile(ctx context.Context, id string) (string, error) {
	if id == "bad.php" {
		return "", errors.New("permission denied")
	}
	return f.mapSource.ReadFile(ctx, id)
}

func TestBuildSkipsUnreadableFiles(t *testing.T) {
	src := &failingSource{mapSource{files: map[string]string{
		"bad.php":  "<?php\nfunction bad() {}\n",
		"good.php": "<?php\nfunction good() {}\n",
	}}}
	idx := New(src, logging.Nop())
	if err := idx.EnsureBuilt(context.Background()); err != nil {
		t.Fatalf("EnsureBuilt() error = %v", err)
	}
	if len(idx.Lookup("good")) != 1 {
		t.Error("readable file missing")
	}
	if len(idx.Lookup("bad")) != 0 {
		t.Error("unreadable file should be skipped")
	}
}

func TestKeys(t *testing.T) {
	idx, _ := newIndex(nil)
	idx.UpdateFile(`<?php
namespace N;
const LIMIT = 3;
class S {
    public static $shared;
    public ?int $count;
    const C = 1;
}
`, "s.php")
	want := []string{
		"LIMIT", `N\LIMIT`, "N\\S", `N\S->$count`, `N\S->count`, `N\S::$shared`, `N\S::C`,
		"S", "S->$count", "S->count", "S::$shared", "S::C",
	}
	slices.Sort(want)
	if got := slices.Collect(idx.AllKeys()); !reflect.DeepEqual(got, want) {
		t.Errorf("AllKeys() = %v\nwant %v", got, want)
	}
}

func TestSplitMemberKey(t *testing.T) {
	tests := []struct {
		key, class, member, op string
		ok                     bool
	}{
		{`App\Foo::bar`, `App\Foo`, "bar", "::", true},
		{"Foo::$x", "Foo", "$x", "::", true},
		{"Foo->$x", "Foo", "$x", "->", true},
		{"plain", "", "", "", false},
	}
	for _, tt := range tests {
		class, member, op, ok := SplitMemberKey(tt.key)
		if class != tt.class || member != tt.member || op != tt.op || ok != tt.ok {
			t.Errorf("SplitMemberKey(%q) = %q %q %q %v", tt.key, class, member, op, ok)
		}
	}
}
