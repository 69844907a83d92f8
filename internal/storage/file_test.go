package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	logx "hubbub/pkg/logx"
)

func TestFileStoreRoundTrip(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	st, err := Open(Config{Driver: "file", Path: dir}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	ctx := context.Background()

	// Never-written document: absent, not an error.
	if _, ok, err := st.Load(ctx, DocConfig); err != nil || ok {
		t.Fatalf("Load absent = ok:%v err:%v, want ok:false err:nil", ok, err)
	}

	body := []byte("{\n  \"enabled\": true\n}")
	if err := st.Save(ctx, DocConfig, body); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, ok, err := st.Load(ctx, DocConfig)
	if err != nil || !ok {
		t.Fatalf("Load = ok:%v err:%v", ok, err)
	}
	if string(got) != string(body) {
		t.Fatalf("Load = %q, want %q", got, body)
	}

	// The document lands where an operator would look for it.
	if _, err := os.Stat(filepath.Join(dir, DocConfig+".json")); err != nil {
		t.Fatalf("expected %s.json on disk: %v", DocConfig, err)
	}
}

func TestFileStoreOverwrite(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	st, err := openFile(Config{Driver: "file", Path: dir}, logx.Nop())
	if err != nil {
		t.Fatalf("openFile: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	if err := st.Save(ctx, DocNotifications, []byte(`[1]`)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := st.Save(ctx, DocNotifications, []byte(`[1,2]`)); err != nil {
		t.Fatalf("Save overwrite: %v", err)
	}
	got, ok, err := st.Load(ctx, DocNotifications)
	if err != nil || !ok {
		t.Fatalf("Load = ok:%v err:%v", ok, err)
	}
	if string(got) != `[1,2]` {
		t.Fatalf("Load = %q after overwrite", got)
	}
	// No stray tmp file left behind.
	if _, err := os.Stat(filepath.Join(dir, DocNotifications+".json.tmp")); !os.IsNotExist(err) {
		t.Fatalf("tmp file should be gone, stat err: %v", err)
	}
}

func TestFileStoreRejectsBadDocNames(t *testing.T) {
	t.Parallel()
	st, err := openFile(Config{Driver: "file", Path: t.TempDir()}, logx.Nop())
	if err != nil {
		t.Fatalf("openFile: %v", err)
	}
	defer st.Close()

	for _, doc := range []string{"", "../escape", "a/b"} {
		if err := st.Save(context.Background(), doc, []byte("{}")); err == nil {
			t.Fatalf("Save(%q) should fail", doc)
		}
	}
}

func TestOpenDrivers(t *testing.T) {
	t.Parallel()

	if _, err := Open(Config{Driver: "bogus"}, logx.Nop()); err == nil {
		t.Fatal("unknown driver should fail")
	}

	st, err := Open(Config{}, logx.Nop())
	if err != nil {
		t.Fatalf("empty driver should fall back to memory: %v", err)
	}
	ctx := context.Background()
	if err := st.Save(ctx, "x", []byte("1")); err != nil {
		t.Fatalf("memory Save: %v", err)
	}
	got, ok, err := st.Load(ctx, "x")
	if err != nil || !ok || string(got) != "1" {
		t.Fatalf("memory Load = %q ok:%v err:%v", got, ok, err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, _, err := st.Load(ctx, "x"); err == nil {
		t.Fatal("Load after Close should fail")
	}
}
