package hashcache

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
)

func TestHashMatchesIndependentSHA256(t *testing.T) {
	data := []byte("the quick brown fox")
	want := sha256.Sum256(data)
	if got := Hash(data); got != hex.EncodeToString(want[:]) {
		t.Fatalf("Hash() = %s, want %s", got, hex.EncodeToString(want[:]))
	}
}

func TestLoadAndHasOverride(t *testing.T) {
	root := t.TempDir()
	imgDir := filepath.Join(root, "images")
	if err := os.MkdirAll(imgDir, 0o755); err != nil {
		t.Fatal(err)
	}
	hash := Hash([]byte("some image bytes"))
	if err := os.WriteFile(filepath.Join(imgDir, hash+".image"), []byte("replacement"), 0o644); err != nil {
		t.Fatal(err)
	}

	c, err := Load(root)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !c.HasOverride(KindImages, hash) {
		t.Fatalf("HasOverride(images, %s) = false, want true", hash)
	}
	if c.HasOverride(KindImages, "0000000000000000000000000000000000000000000000000000000000000000") {
		t.Fatalf("HasOverride should be false for unknown hash")
	}
	if c.HasOverride(KindBuffers, hash) {
		t.Fatalf("HasOverride(buffers, ...) should be false: buffers subdir never existed")
	}
}

func TestLoadMissingRootIsNotError(t *testing.T) {
	root := filepath.Join(t.TempDir(), "does-not-exist")
	c, err := Load(root)
	if err != nil {
		t.Fatalf("Load on missing root should not error, got %v", err)
	}
	if c.HasOverride(KindShaders, "deadbeef") {
		t.Fatalf("HasOverride should be false when root doesn't exist")
	}
}
