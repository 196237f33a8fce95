package secrets

import (
	"bytes"
	"crypto/rand"
	"errors"
	"testing"

	kerrors "github.com/liftlog/liftsocial/internal/errors"
)

func TestChunksRoundTrip(t *testing.T) {
	key := sharedTestKey(t)
	limit := MaxBlockSize(&key.PublicKey)

	tests := []struct {
		name       string
		size       int
		wantBlocks int
	}{
		{"Empty", 0, 0},
		{"OneByte", 1, 1},
		{"ExactlyOneBlock", limit, 1},
		{"OneBlockPlusOne", limit + 1, 2},
		{"SeveralBlocks", 3*limit + 17, 4},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			plaintext := make([]byte, tc.size)
			if _, err := rand.Read(plaintext); err != nil {
				t.Fatal(err)
			}

			blocks, err := EncryptBlocks(plaintext, &key.PublicKey)
			if err != nil {
				t.Fatalf("EncryptBlocks failed: %v", err)
			}
			if len(blocks) != tc.wantBlocks {
				t.Errorf("expected %d blocks, got %d", tc.wantBlocks, len(blocks))
			}

			stream, err := EncodeChunks(plaintext, &key.PublicKey)
			if err != nil {
				t.Fatalf("EncodeChunks failed: %v", err)
			}
			if tc.size == 0 && len(stream) != 0 {
				t.Errorf("expected empty stream for empty payload, got %d bytes", len(stream))
			}

			got, err := DecodeChunks(stream, key)
			if err != nil {
				t.Fatalf("DecodeChunks failed: %v", err)
			}
			if !bytes.Equal(got, plaintext) {
				t.Error("round trip mismatch")
			}
		})
	}
}

func TestDecodeChunksMalformed(t *testing.T) {
	key := sharedTestKey(t)
	stream, err := EncodeChunks(bytes.Repeat([]byte{7}, 300), &key.PublicKey)
	if err != nil {
		t.Fatal(err)
	}

	corrupt := bytes.Clone(stream)
	corrupt[10] ^= 0xff

	zeroLength := append([]byte{0, 0, 0, 0}, stream...)

	tests := []struct {
		name   string
		stream []byte
	}{
		{"TruncatedHeader", stream[:2]},
		{"TruncatedBody", stream[:len(stream)-1]},
		{"TrailingGarbage", append(bytes.Clone(stream), 0x01)},
		{"CorruptBlock", corrupt},
		{"ZeroLengthFrame", zeroLength},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := DecodeChunks(tc.stream, key)
			if !errors.Is(err, kerrors.ErrMalformedChunkStream) {
				t.Errorf("expected ErrMalformedChunkStream, got %v", err)
			}
			if got != nil {
				t.Error("partial plaintext returned on failure")
			}
		})
	}
}

func TestDecodeChunksWrongKey(t *testing.T) {
	key := sharedTestKey(t)
	other, err := GenerateRSAKey(2048)
	if err != nil {
		t.Fatal(err)
	}

	stream, err := EncodeChunks([]byte("club key share"), &key.PublicKey)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := DecodeChunks(stream, other); !errors.Is(err, kerrors.ErrMalformedChunkStream) {
		t.Errorf("expected ErrMalformedChunkStream, got %v", err)
	}
}

func TestFrameBlocksLayout(t *testing.T) {
	stream := FrameBlocks([][]byte{{0xaa, 0xbb}, {0xcc}})
	want := []byte{0, 0, 0, 2, 0xaa, 0xbb, 0, 0, 0, 1, 0xcc}
	if !bytes.Equal(stream, want) {
		t.Errorf("unexpected framing: %x", stream)
	}

	blocks, err := SplitFrames(stream)
	if err != nil {
		t.Fatalf("SplitFrames failed: %v", err)
	}
	if len(blocks) != 2 || !bytes.Equal(blocks[0], []byte{0xaa, 0xbb}) || !bytes.Equal(blocks[1], []byte{0xcc}) {
		t.Errorf("unexpected blocks: %x", blocks)
	}
}
