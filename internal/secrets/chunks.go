package secrets

import (
	"crypto/rsa"
	"encoding/binary"
	"fmt"

	kerrors "github.com/liftlog/liftsocial/internal/errors"
)

const frameHeaderSize = 4

// EncryptBlocks splits plaintext into MaxBlockSize pieces and encrypts each
// one independently with RSA-OAEP. Block order matches plaintext order. An
// empty plaintext yields no blocks.
func EncryptBlocks(plaintext []byte, publicKey *rsa.PublicKey) ([][]byte, error) {
	limit := MaxBlockSize(publicKey)
	if limit <= 0 {
		return nil, fmt.Errorf("%w: key too small for OAEP", kerrors.ErrInvalidPublicKey)
	}

	blocks := make([][]byte, 0, (len(plaintext)+limit-1)/limit)
	for start := 0; start < len(plaintext); start += limit {
		end := min(start+limit, len(plaintext))
		ct, err := EncryptOAEP(plaintext[start:end], publicKey)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt block %d: %w", len(blocks), err)
		}
		blocks = append(blocks, ct)
	}
	return blocks, nil
}

// DecryptBlocks decrypts blocks produced by EncryptBlocks and concatenates
// the plaintexts. Any block failure is reported as ErrMalformedChunkStream
// and no partial plaintext is returned.
func DecryptBlocks(blocks [][]byte, privateKey *rsa.PrivateKey) ([]byte, error) {
	var out []byte
	for i, block := range blocks {
		if len(block) != privateKey.Size() {
			return nil, fmt.Errorf("%w: block %d has %d bytes, expected %d", kerrors.ErrMalformedChunkStream, i, len(block), privateKey.Size())
		}
		pt, err := DecryptOAEP(block, privateKey)
		if err != nil {
			Zero(out)
			return nil, fmt.Errorf("%w: block %d: %v", kerrors.ErrMalformedChunkStream, i, err)
		}
		out = append(out, pt...)
	}
	if out == nil {
		out = []byte{}
	}
	return out, nil
}

// FrameBlocks prefixes every block with its 4-byte big-endian length and
// concatenates the result.
func FrameBlocks(blocks [][]byte) []byte {
	size := 0
	for _, b := range blocks {
		size += frameHeaderSize + len(b)
	}
	stream := make([]byte, 0, size)
	for _, b := range blocks {
		stream = binary.BigEndian.AppendUint32(stream, uint32(len(b)))
		stream = append(stream, b...)
	}
	return stream
}

// SplitFrames reverses FrameBlocks. A truncated header, a zero length or a
// length running past the end of the stream is ErrMalformedChunkStream.
func SplitFrames(stream []byte) ([][]byte, error) {
	var blocks [][]byte
	for offset := 0; offset < len(stream); {
		if len(stream)-offset < frameHeaderSize {
			return nil, fmt.Errorf("%w: truncated frame header at offset %d", kerrors.ErrMalformedChunkStream, offset)
		}
		n := int(binary.BigEndian.Uint32(stream[offset:]))
		offset += frameHeaderSize
		if n == 0 || n > len(stream)-offset {
			return nil, fmt.Errorf("%w: frame length %d at offset %d", kerrors.ErrMalformedChunkStream, n, offset-frameHeaderSize)
		}
		blocks = append(blocks, stream[offset:offset+n])
		offset += n
	}
	return blocks, nil
}

// EncodeChunks encrypts an arbitrary-length payload as a length-prefixed
// stream of RSA-OAEP blocks.
func EncodeChunks(plaintext []byte, publicKey *rsa.PublicKey) ([]byte, error) {
	blocks, err := EncryptBlocks(plaintext, publicKey)
	if err != nil {
		return nil, err
	}
	return FrameBlocks(blocks), nil
}

// DecodeChunks reverses EncodeChunks.
func DecodeChunks(stream []byte, privateKey *rsa.PrivateKey) ([]byte, error) {
	blocks, err := SplitFrames(stream)
	if err != nil {
		return nil, err
	}
	return DecryptBlocks(blocks, privateKey)
}
