package server

import (
	"bytes"
	"testing"
)

func TestCompressDecompressRoundTrip(t *testing.T) {
	cases := [][]byte{
		{},
		{0, 0, 0, 0, 0, 0, 0, 0},
		{1, 2, 3, 4, 5, 6, 7, 8},
		{0, 5, 0, 0, 9, 0, 0, 2, 1},
		bytes.Repeat([]byte{7}, 100),
	}

	for _, input := range cases {
		compressed, err := CompressPacket(input)
		if err != nil {
			t.Fatalf("compress(%v): %v", input, err)
		}
		out, err := DecompressPacket(compressed, len(input))
		if err != nil {
			t.Fatalf("decompress(%v): %v", input, err)
		}
		if !bytes.Equal(out, input) {
			t.Fatalf("round trip mismatch: got %v want %v", out, input)
		}
	}
}

func TestCompressAllZeros(t *testing.T) {
	input := make([]byte, 16)
	compressed, err := CompressPacket(input)
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	if len(compressed) != 2 {
		t.Fatalf("all-zero input should compress to one mask byte per 8-byte group, got %d bytes", len(compressed))
	}
}

func TestCompressOverflow(t *testing.T) {
	input := bytes.Repeat([]byte{1}, MaxPacketBytes)
	_, err := CompressPacket(input)
	if err == nil {
		t.Fatalf("expected overflow error for an all-nonzero %d-byte input", MaxPacketBytes)
	}
}

func TestDecompressTruncated(t *testing.T) {
	_, err := DecompressPacket([]byte{0xFF}, 8)
	if err == nil {
		t.Fatalf("expected malformed-packet error for truncated compressed data")
	}
}

func TestDecompressInvalidLength(t *testing.T) {
	if _, err := DecompressPacket(nil, -1); err == nil {
		t.Fatalf("expected error for negative originalLength")
	}
	if _, err := DecompressPacket(nil, MaxPacketBytes+1); err == nil {
		t.Fatalf("expected error for originalLength over the cap")
	}
}
