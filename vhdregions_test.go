package vhdregions_test

import (
	"os"
	"path/filepath"
	"testing"

	"vhdregions"
)

func TestOpenImageUnrecognizedFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notanimage.bin")
	if err := os.WriteFile(path, []byte("definitely not a disk image"), 0o644); err != nil {
		t.Fatalf("writing temp file: %v", err)
	}

	if _, err := vhdregions.OpenImage(path); err == nil {
		t.Fatal("expected OpenImage to reject an unrecognized format")
	}
}

func TestOpenImageMissingFile(t *testing.T) {
	if _, err := vhdregions.OpenImage(filepath.Join(t.TempDir(), "does-not-exist.vhdx")); err == nil {
		t.Fatal("expected OpenImage to fail for a missing file")
	}
}

func TestNewParserRejectsEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.vhd")
	if err := os.WriteFile(path, []byte{}, 0o644); err != nil {
		t.Fatalf("writing temp file: %v", err)
	}
	p, err := vhdregions.NewParser(path)
	if err == nil {
		t.Fatalf("NewParser unexpectedly succeeded: %v", p)
	}
}
