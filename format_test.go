package vhdregions

import (
	"os"
	"testing"
)

func TestDetectFormatVHDX(t *testing.T) {
	buf := make([]byte, 16)
	copy(buf, vhdxFileSignature)
	path := writeTempFile(t, "image.vhdx", buf)

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("opening: %v", err)
	}
	defer f.Close()

	got, err := detectFormat(f)
	if err != nil {
		t.Fatalf("detectFormat: %v", err)
	}
	if got != formatVHDX {
		t.Errorf("detectFormat = %v, want formatVHDX", got)
	}
}

func TestDetectFormatVHDCookieAtStart(t *testing.T) {
	buf := make([]byte, 16)
	copy(buf, vhdFooterCookie)
	path := writeTempFile(t, "image.vhd", buf)

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("opening: %v", err)
	}
	defer f.Close()

	got, err := detectFormat(f)
	if err != nil {
		t.Fatalf("detectFormat: %v", err)
	}
	if got != formatVHD {
		t.Errorf("detectFormat = %v, want formatVHD", got)
	}
}

func TestDetectFormatVHDCookieAtEOF(t *testing.T) {
	buf := make([]byte, vhdFooterSize*2)
	copy(buf[vhdFooterSize:], vhdFooterCookie)
	path := writeTempFile(t, "fixed.vhd", buf)

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("opening: %v", err)
	}
	defer f.Close()

	got, err := detectFormat(f)
	if err != nil {
		t.Fatalf("detectFormat: %v", err)
	}
	if got != formatVHD {
		t.Errorf("detectFormat = %v, want formatVHD", got)
	}
}

func TestDetectFormatUnrecognized(t *testing.T) {
	path := writeTempFile(t, "garbage.bin", []byte("not an image at all"))

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("opening: %v", err)
	}
	defer f.Close()

	if _, err := detectFormat(f); err == nil {
		t.Fatal("expected an error for an unrecognized format")
	}
}
