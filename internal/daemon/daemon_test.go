package daemon

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"go.uber.org/goleak"

	"phpscope/internal/logging"
	"phpscope/internal/search/symbols"
	"phpscope/internal/source"
	"phpscope/internal/workspace"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreAnyFunction("os/signal.loop"))
}

func setup(t *testing.T) (string, *workspace.Engine, *Daemon) {
	t.Helper()
	root := t.TempDir()
	writeFile(t, root, "app/A.php", "<?php\nclass A {}\n")
	if err := os.MkdirAll(filepath.Join(root, "vendor"), 0o755); err != nil {
		t.Fatal(err)
	}

	fsys, err := source.NewFS(root, source.Options{ExcludeDirs: []string{"vendor"}})
	if err != nil {
		t.Fatal(err)
	}
	engine := workspace.New(workspace.Options{Source: fsys, Logger: logging.Nop()})
	t.Cleanup(engine.Close)
	if err := engine.EnsureBuilt(context.Background()); err != nil {
		t.Fatal(err)
	}

	d, err := New(engine, fsys, logging.Nop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(d.Close)
	return root, engine, d
}

func writeFile(t *testing.T, root, rel, text string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		t.Fatal(err)
	}
}

func hasKey(e *workspace.Engine, key string) bool {
	return slices.Contains(slices.Collect(e.AllSymbolKeys(context.Background())), key)
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWatchIndexesDiskChanges(t *testing.T) {
	root, engine, d := setup(t)
	if err := d.Start(); err != nil {
		t.Fatal(err)
	}

	writeFile(t, root, "app/B.php", "<?php\nclass B {}\n")
	eventually(t, "B indexed", func() bool { return hasKey(engine, "B") })

	writeFile(t, root, "app/nested/deep/C.php", "<?php\nclass C {}\n")
	eventually(t, "C indexed", func() bool { return hasKey(engine, "C") })

	if err := os.Remove(filepath.Join(root, "app", "A.php")); err != nil {
		t.Fatal(err)
	}
	eventually(t, "A retracted", func() bool { return !hasKey(engine, "A") })

	// Excluded directories are never watched.
	writeFile(t, root, "vendor/V.php", "<?php\nclass V {}\n")
	writeFile(t, root, "app/D.php", "<?php\nclass D {}\n")
	eventually(t, "D indexed", func() bool { return hasKey(engine, "D") })
	if hasKey(engine, "V") {
		t.Error("vendor file was indexed")
	}
}

func TestStatus(t *testing.T) {
	_, _, d := setup(t)
	if err := d.Start(); err != nil {
		t.Fatal(err)
	}
	st := d.Status()
	if !st.Running || st.Watches < 2 || st.Index.Symbols.Keys == 0 {
		t.Errorf("Status() = %+v", st)
	}
	d.Stop()
	if d.Status().Running {
		t.Error("still running after Stop")
	}
}

func TestIPC(t *testing.T) {
	_, _, d := setup(t)
	socket := filepath.Join(t.TempDir(), "d.sock")

	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background(), socket) }()

	client := NewIPCClient(socket)
	eventually(t, "socket", client.IsRunning)

	var locs []symbols.Location
	if err := client.Query(Command{Action: "define", File: "app/A.php", Line: 1, Column: 7}, &locs); err != nil {
		t.Fatal(err)
	}
	if len(locs) != 1 || locs[0].File != "app/A.php" {
		t.Errorf("define = %v", locs)
	}

	var results []symbols.SearchResult
	if err := client.Query(Command{Action: "search", Name: "a"}, &results); err != nil {
		t.Fatal(err)
	}
	if len(results) == 0 || results[0].Key != "A" {
		t.Errorf("search = %+v", results)
	}

	if err := client.Query(Command{Action: "members"}, nil); err == nil {
		t.Error("members without a name should fail")
	}
	if err := client.Query(Command{Action: "bogus"}, nil); err == nil {
		t.Error("unknown action should fail")
	}

	st, err := client.Status()
	if err != nil || !st.Running {
		t.Fatalf("Status() = %+v, %v", st, err)
	}

	if err := client.Stop(); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop")
	}
	if _, err := os.Stat(socket); !os.IsNotExist(err) {
		t.Error("socket left behind")
	}
}

func TestDefaultSocketPath(t *testing.T) {
	a, b := DefaultSocketPath("/srv/a"), DefaultSocketPath("/srv/b")
	if a == b || a != DefaultSocketPath("/srv/a") {
		t.Errorf("socket paths %q and %q", a, b)
	}
}
