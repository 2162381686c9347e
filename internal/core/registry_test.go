package core

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadDir(t *testing.T) {
	Clear()
	t.Cleanup(Clear)

	dir := t.TempDir()
	writeFile(t, dir, "widgets.yaml", widgetSchema)
	writeFile(t, dir, "orders.yml", ordersSchema)
	writeFile(t, dir, "README.md", "# not a schema")
	if err := os.Mkdir(filepath.Join(dir, "nested"), 0o755); err != nil {
		t.Fatal(err)
	}

	n, err := LoadDir(dir, LoadOptions{})
	if err != nil {
		t.Fatalf("LoadDir failed: %v", err)
	}
	if n != 2 {
		t.Errorf("LoadDir = %d, want 2", n)
	}
	if SchemaCount() != 2 {
		t.Errorf("SchemaCount = %d, want 2", SchemaCount())
	}

	all := All()
	if len(all) != 2 || all[0].Name != "orders" || all[1].Name != "widgets" {
		t.Fatalf("All = %v, want [orders widgets]", names(all))
	}
	if all[1].Path != filepath.Join(dir, "widgets.yaml") {
		t.Errorf("Path = %q", all[1].Path)
	}
	if all[0].Resolver == nil {
		t.Error("Resolver = nil, want one per entry")
	}
}

func TestLoadDir_Missing(t *testing.T) {
	Clear()
	t.Cleanup(Clear)

	n, err := LoadDir(filepath.Join(t.TempDir(), "absent"), LoadOptions{})
	if err != nil || n != 0 {
		t.Errorf("LoadDir(missing) = %d, %v, want 0, nil", n, err)
	}
}

func TestLoadFile_NameFromPath(t *testing.T) {
	Clear()
	t.Cleanup(Clear)

	path := writeFile(t, t.TempDir(), "ledger.yaml", `
records:
  - fields:
      - {name: A, type: alpha, size: 2}
`)
	e, err := LoadFile(path, LoadOptions{})
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if e.Name != "ledger" {
		t.Errorf("Name = %q, want ledger", e.Name)
	}
}

func TestLoadFile_Duplicate(t *testing.T) {
	Clear()
	t.Cleanup(Clear)

	dir := t.TempDir()
	a := writeFile(t, dir, "a.yaml", widgetSchema)
	b := writeFile(t, dir, "b.yaml", widgetSchema)

	if _, err := LoadFile(a, LoadOptions{}); err != nil {
		t.Fatalf("first LoadFile failed: %v", err)
	}
	if _, err := LoadFile(b, LoadOptions{}); err == nil {
		t.Error("second LoadFile of the same name succeeded, want error")
	}
}

func TestLoadFile_CharsetOverride(t *testing.T) {
	Clear()
	t.Cleanup(Clear)

	path := writeFile(t, t.TempDir(), "widgets.yaml", widgetSchema)
	e, err := LoadFile(path, LoadOptions{Charset: "IBM037"})
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if e.Schema.Charset.Space() != 0x40 {
		t.Errorf("space byte = %#x, want 0x40 for IBM037", e.Schema.Charset.Space())
	}

	Clear()
	if _, err := LoadFile(path, LoadOptions{Charset: "no-such-charset"}); err == nil {
		t.Error("LoadFile with unknown charset succeeded, want error")
	}
}

func TestRegister_PanicsOnDuplicate(t *testing.T) {
	e := registerFixture(t, widgetSchema)

	defer func() {
		if recover() == nil {
			t.Error("Register of a duplicate name did not panic")
		}
	}()
	Register(e.Schema)
}

func TestLookup(t *testing.T) {
	registerFixture(t, widgetSchema)

	if _, err := Lookup("widgets"); err != nil {
		t.Errorf("Lookup(widgets) failed: %v", err)
	}
	_, err := Lookup("gadgets")
	if !errors.Is(err, ErrSchemaNotFound) {
		t.Errorf("Lookup(gadgets) = %v, want ErrSchemaNotFound", err)
	}
	if got := MapError(err).Code; got != "SCH002" {
		t.Errorf("MapError code = %s, want SCH002", got)
	}
}

func names(es []*SchemaEntry) []string {
	out := make([]string, len(es))
	for i, e := range es {
		out[i] = e.Name
	}
	return out
}

func TestLoadDir_BundledSchemas(t *testing.T) {
	Clear()
	t.Cleanup(Clear)

	n, err := LoadDir("../../schemas", LoadOptions{})
	if err != nil {
		t.Fatalf("LoadDir failed: %v", err)
	}
	if n != 2 {
		t.Errorf("loaded %d schemas, want 2", n)
	}

	cust, err := Lookup("customers")
	if err != nil {
		t.Fatal(err)
	}
	if size, fixed := cust.Schema.Default().FixedSize(); !fixed || size != 64 {
		t.Errorf("customer size = %d (fixed %v), want 64 fixed", size, fixed)
	}

	txn, err := Lookup("transactions")
	if err != nil {
		t.Fatal(err)
	}
	if len(txn.Schema.Shapes) != 3 || !txn.Schema.OpenEnded() {
		t.Errorf("transactions: %d shapes, open ended %v; want 3 shapes, open ended", len(txn.Schema.Shapes), txn.Schema.OpenEnded())
	}
}
