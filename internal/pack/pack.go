// Package pack implements the bundle format used to ship elements between
// workbenches.
//
// A bundle is laid out as
//
//	"IVOB" | version u32 | count u32 | algo u8 | flags u8 | [root 32 bytes]
//	compressed body | SHA-256 trailer
//
// The body is a sequence of uvarint length-prefixed element envelopes,
// followed by the repository head element when the head flag is set. The
// trailer covers every byte before it.
package pack

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	sha256 "github.com/minio/sha256-simd"

	"github.com/javanhut/Ivaldi-objects/internal/cas"
	"github.com/javanhut/Ivaldi-objects/internal/element"
	"github.com/javanhut/Ivaldi-objects/internal/errors"
)

var (
	magicIVOB            = []byte{'I', 'V', 'O', 'B'}
	bundleVersion uint32 = 1
)

const (
	flagHead byte = 1 << iota
	flagRoot
)

// headerLen is the fixed part of the header, before the optional root.
const headerLen = 4 + 4 + 4 + 1 + 1

type CompressAlgo byte

const (
	CompressZlib CompressAlgo = iota
	CompressZstd
)

func (a CompressAlgo) String() string {
	switch a {
	case CompressZlib:
		return "zlib"
	case CompressZstd:
		return "zstd"
	}
	return fmt.Sprintf("algo(%d)", byte(a))
}

// Bundle is the decoded content of a pack.
type Bundle struct {
	// Head is the repository head element, if the bundle ships a repository.
	Head *element.Element
	// Root is the key of the shipped object tree, if the bundle ships one.
	Root cas.Hash
	// Elements are the shipped elements in write order.
	Elements []*element.Element
}

var zstdEncoders = sync.Pool{
	New: func() any {
		enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		return enc
	},
}

func compressZlib(dst *bytes.Buffer, data []byte) error {
	zw := zlib.NewWriter(dst)
	if _, err := zw.Write(data); err != nil {
		return err
	}
	return zw.Close()
}

func compressZstd(dst *bytes.Buffer, data []byte) error {
	enc := zstdEncoders.Get().(*zstd.Encoder)
	defer zstdEncoders.Put(enc)

	enc.Reset(dst)
	if _, err := enc.Write(data); err != nil {
		return err
	}
	return enc.Close()
}

func decompress(algo CompressAlgo, data []byte) ([]byte, error) {
	switch algo {
	case CompressZlib:
		zr, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		return io.ReadAll(zr)
	case CompressZstd:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		return dec.DecodeAll(data, nil)
	}
	return nil, fmt.Errorf("unknown compression algo %s", algo)
}

// Write encodes b with zstd compression.
func Write(b Bundle) ([]byte, error) {
	return WriteWith(b, CompressZstd)
}

// WriteWith encodes b, compressing the body with algo.
func WriteWith(b Bundle, algo CompressAlgo) ([]byte, error) {
	const op errors.Op = "pack.Write"
	var out bytes.Buffer

	out.Write(magicIVOB)
	if err := binary.Write(&out, binary.BigEndian, bundleVersion); err != nil {
		return nil, errors.E(op, err)
	}
	if err := binary.Write(&out, binary.BigEndian, uint32(len(b.Elements))); err != nil {
		return nil, errors.E(op, err)
	}
	var flags byte
	if b.Head != nil {
		flags |= flagHead
	}
	if !b.Root.IsZero() {
		flags |= flagRoot
	}
	out.WriteByte(byte(algo))
	out.WriteByte(flags)
	if flags&flagRoot != 0 {
		out.Write(b.Root[:])
	}

	var body []byte
	for _, el := range b.Elements {
		body = appendEntry(body, el)
	}
	if b.Head != nil {
		body = appendEntry(body, b.Head)
	}

	var err error
	switch algo {
	case CompressZlib:
		err = compressZlib(&out, body)
	case CompressZstd:
		err = compressZstd(&out, body)
	default:
		err = fmt.Errorf("unknown compression algo %s", algo)
	}
	if err != nil {
		return nil, errors.E(op, fmt.Errorf("compress body: %w", err))
	}

	sum := sha256.Sum256(out.Bytes())
	out.Write(sum[:])
	return out.Bytes(), nil
}

func appendEntry(b []byte, el *element.Element) []byte {
	env := element.Encode(el)
	b = binary.AppendUvarint(b, uint64(len(env)))
	return append(b, env...)
}

// Read decodes and verifies a bundle. Every element's key is checked
// against its value; any mismatch or malformed input is an Integrity error.
func Read(data []byte) (*Bundle, error) {
	const op errors.Op = "pack.Read"
	if len(data) < headerLen+sha256.Size {
		return nil, errors.E(op, errors.Integrity, "bundle truncated: %d bytes", len(data))
	}
	payload, trailer := data[:len(data)-sha256.Size], data[len(data)-sha256.Size:]
	if sum := sha256.Sum256(payload); !bytes.Equal(sum[:], trailer) {
		return nil, errors.E(op, errors.Integrity, "bundle checksum mismatch")
	}
	if !bytes.Equal(payload[:4], magicIVOB) {
		return nil, errors.E(op, errors.Integrity, "not a bundle: bad magic %q", payload[:4])
	}
	if v := binary.BigEndian.Uint32(payload[4:8]); v != bundleVersion {
		return nil, errors.E(op, errors.Integrity, "unsupported bundle version %d", v)
	}
	count := binary.BigEndian.Uint32(payload[8:12])
	algo := CompressAlgo(payload[12])
	flags := payload[13]
	rest := payload[headerLen:]

	b := &Bundle{}
	if flags&flagRoot != 0 {
		if len(rest) < len(b.Root) {
			return nil, errors.E(op, errors.Integrity, "bundle truncated in header")
		}
		copy(b.Root[:], rest)
		rest = rest[len(b.Root):]
	}

	body, err := decompress(algo, rest)
	if err != nil {
		return nil, errors.E(op, errors.Integrity, fmt.Errorf("decompress body: %w", err))
	}

	entries := int(count)
	if flags&flagHead != 0 {
		entries++
	}
	els := make([]*element.Element, 0, entries)
	for i := 0; i < entries; i++ {
		n, w := binary.Uvarint(body)
		if w <= 0 || uint64(len(body)-w) < n {
			return nil, errors.E(op, errors.Integrity, "entry %d: bad length prefix", i)
		}
		el, err := element.Decode(body[w : w+int(n)])
		if err != nil {
			return nil, errors.E(op, fmt.Errorf("entry %d: %w", i, err))
		}
		if err := el.Verify(); err != nil {
			return nil, errors.E(op, err)
		}
		els = append(els, el)
		body = body[w+int(n):]
	}
	if len(body) != 0 {
		return nil, errors.E(op, errors.Integrity, "%d trailing bytes after %d entries", len(body), entries)
	}
	if flags&flagHead != 0 {
		b.Head = els[len(els)-1]
		els = els[:len(els)-1]
	}
	b.Elements = els
	return b, nil
}
