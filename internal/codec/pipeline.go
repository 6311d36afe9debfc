package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"
)

// Layer is one invertible transformation of encoded bytes.
type Layer interface {
	Name() string
	Wrap(b []byte) ([]byte, error)
	Unwrap(b []byte) ([]byte, error)
}

// Pipeline applies layers in order on write and in reverse on read.
type Pipeline struct {
	layers []Layer
}

// NewPipeline creates a pipeline. With no layers it is the identity.
func NewPipeline(layers ...Layer) *Pipeline {
	return &Pipeline{layers: layers}
}

// Layers returns the layer names in write order.
func (p *Pipeline) Layers() []string {
	names := make([]string, len(p.layers))
	for i, l := range p.layers {
		names[i] = l.Name()
	}
	return names
}

// Wrap runs every layer's Wrap, first to last.
func (p *Pipeline) Wrap(b []byte) ([]byte, error) {
	var err error
	for _, l := range p.layers {
		if b, err = l.Wrap(b); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrEncode, l.Name(), err)
		}
	}
	return b, nil
}

// Unwrap runs every layer's Unwrap, last to first.
func (p *Pipeline) Unwrap(b []byte) ([]byte, error) {
	var err error
	for i := len(p.layers) - 1; i >= 0; i-- {
		l := p.layers[i]
		if b, err = l.Unwrap(b); err != nil {
			return nil, fmt.Errorf("%s: %w", l.Name(), err)
		}
	}
	return b, nil
}

// Checksum appends an 8-byte little-endian xxhash64 trailer.
type Checksum struct{}

func (Checksum) Name() string { return "checksum" }

func (Checksum) Wrap(b []byte) ([]byte, error) {
	out := make([]byte, len(b), len(b)+8)
	copy(out, b)
	return binary.LittleEndian.AppendUint64(out, xxhash.Sum64(b)), nil
}

func (Checksum) Unwrap(b []byte) ([]byte, error) {
	if len(b) < 8 {
		return nil, fmt.Errorf("%w: short blob", ErrCorrupt)
	}
	body, sum := b[:len(b)-8], binary.LittleEndian.Uint64(b[len(b)-8:])
	if xxhash.Sum64(body) != sum {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}
	return body, nil
}

// Zstd compresses with zstandard. The encoder and decoder are created once
// and are safe for concurrent EncodeAll/DecodeAll.
type Zstd struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// MaxDecodedSize caps what one blob may decompress to. Records are far
// smaller; a blob claiming more is corrupt.
const MaxDecodedSize = 64 << 20

// NewZstd creates a compression layer limited to MaxDecodedSize.
func NewZstd() (*Zstd, error) {
	return NewZstdLimit(MaxDecodedSize)
}

// NewZstdLimit creates a compression layer whose Unwrap refuses blobs that
// decode to more than max bytes.
func NewZstdLimit(max uint64) (*Zstd, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(max))
	if err != nil {
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	return &Zstd{enc: enc, dec: dec}, nil
}

func (z *Zstd) Name() string { return "zstd" }

func (z *Zstd) Wrap(b []byte) ([]byte, error) {
	return z.enc.EncodeAll(b, nil), nil
}

func (z *Zstd) Unwrap(b []byte) ([]byte, error) {
	out, err := z.dec.DecodeAll(b, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	return out, nil
}

// Sealer encrypts whole blobs. *crypt.AEAD implements it.
type Sealer interface {
	Seal(blob []byte) ([]byte, error)
	Open(blob []byte) ([]byte, error)
}

// Seal encrypts the entire blob.
type Seal struct {
	S Sealer
}

func (s Seal) Name() string { return "seal" }

func (s Seal) Wrap(b []byte) ([]byte, error) { return s.S.Seal(b) }

func (s Seal) Unwrap(b []byte) ([]byte, error) { return s.S.Open(b) }
