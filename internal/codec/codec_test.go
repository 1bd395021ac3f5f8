package codec

import (
	"bytes"
	"math/rand"
	"testing"
)

func testPayloads() map[string][]byte {
	rng := rand.New(rand.NewSource(1))
	random := make([]byte, 4096)
	rng.Read(random)

	repetitive := bytes.Repeat([]byte("mz=400.1523 intensity=12.5;"), 200)

	return map[string][]byte{
		"repetitive": repetitive,
		"random":     random,
		"tiny":       []byte{0x42},
	}
}

func TestCodecRoundTrip(t *testing.T) {
	for _, name := range []string{"zstd", "lz4", "none"} {
		c, err := New(name)
		if err != nil {
			t.Fatalf("New(%q): %v", name, err)
		}
		if c.Name() != name {
			t.Errorf("Name() = %q, want %q", c.Name(), name)
		}
		for label, payload := range testPayloads() {
			t.Run(name+"/"+label, func(t *testing.T) {
				compressed, err := c.Compress(payload)
				if err != nil {
					t.Fatalf("Compress: %v", err)
				}
				got, err := c.Decompress(compressed)
				if err != nil {
					t.Fatalf("Decompress: %v", err)
				}
				if !bytes.Equal(got, payload) {
					t.Fatalf("round trip changed %d bytes to %d bytes", len(payload), len(got))
				}
			})
		}
	}
}

func TestCodecCompresses(t *testing.T) {
	payload := testPayloads()["repetitive"]
	for _, name := range []string{"zstd", "lz4"} {
		c, _ := New(name)
		compressed, err := c.Compress(payload)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if len(compressed) >= len(payload) {
			t.Errorf("%s: %d bytes did not shrink (%d compressed)", name, len(payload), len(compressed))
		}
	}
}

func TestCodecEmptyInput(t *testing.T) {
	for _, name := range []string{"zstd", "lz4", "none"} {
		c, _ := New(name)
		compressed, err := c.Compress(nil)
		if err != nil {
			t.Fatalf("%s Compress(nil): %v", name, err)
		}
		got, err := c.Decompress(compressed)
		if err != nil {
			t.Fatalf("%s Decompress: %v", name, err)
		}
		if len(got) != 0 {
			t.Errorf("%s: empty input round-tripped to %d bytes", name, len(got))
		}
	}
}

func TestUnknownCodec(t *testing.T) {
	if _, err := New("brotli"); err == nil {
		t.Fatal("expected error for unknown codec name")
	}
	// The empty name falls back to the passthrough codec.
	c, err := New("")
	if err != nil {
		t.Fatalf("New(\"\"): %v", err)
	}
	if c.Name() != "none" {
		t.Errorf("default codec = %q, want none", c.Name())
	}
}

func TestLZ4RejectsCorruptHeader(t *testing.T) {
	c := LZ4{}
	if _, err := c.Decompress([]byte{0x7f, 1, 2, 3}); err == nil {
		t.Fatal("expected error for unknown block marker")
	}
	if _, err := c.Decompress([]byte{lz4Compressed, 1, 0}); err == nil {
		t.Fatal("expected error for truncated header")
	}
}
