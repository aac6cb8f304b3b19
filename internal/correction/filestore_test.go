package correction_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/MrWong99/callscribe/internal/correction"
)

func TestFileStore_SaveAndLoad(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "patterns.jsonl")
	fs := correction.NewFileStore(path)

	if err := fs.Save(ctx, "contarto", "contrato"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := fs.Save(ctx, "sercicio", "servico"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	// Later lines win.
	if err := fs.Save(ctx, "sercicio", "servicio"); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := fs.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 2 || got["contarto"] != "contrato" || got["sercicio"] != "servicio" {
		t.Errorf("Load = %v", got)
	}
}

func TestFileStore_MissingFile(t *testing.T) {
	t.Parallel()

	fs := correction.NewFileStore(filepath.Join(t.TempDir(), "absent.jsonl"))
	got, err := fs.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Load = %v, want empty", got)
	}
}

func TestFileStore_SkipsMalformedLines(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "patterns.jsonl")
	content := `{"original":"Facktura","corrected":"factura"}
not json

{"original":"","corrected":"vacío"}
{"original":"pagoo","corrected":"pago"}
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := correction.NewFileStore(path).Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 2 || got["facktura"] != "factura" || got["pagoo"] != "pago" {
		t.Errorf("Load = %v", got)
	}
}

func TestFileStore_FeedsEngine(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "patterns.jsonl")

	first := correction.New(ctx, correction.WithPatternStore(correction.NewFileStore(path)))
	if err := first.Learn(ctx, "contarto", "contrato"); err != nil {
		t.Fatalf("Learn: %v", err)
	}

	// A fresh engine over the same file sees the learned pattern.
	second := correction.New(ctx, correction.WithPatternStore(correction.NewFileStore(path)))
	if c, ok := second.Lookup("contarto"); !ok || c != "contrato" {
		t.Errorf("Lookup after restart = (%q, %v), want (contrato, true)", c, ok)
	}
}
