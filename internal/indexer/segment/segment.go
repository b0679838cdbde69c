package segment

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/quarrysearch/quarry/internal/indexer/hash"
	"github.com/quarrysearch/quarry/internal/indexer/index"
	apperrors "github.com/quarrysearch/quarry/pkg/errors"
)

// MagicBytes identifies a saved shard ("QSHD").
const (
	MagicBytes    uint32 = 0x51534844
	FormatVersion uint32 = 2
	HeaderSize    int    = 64

	FlagZstd uint32 = 1 << 0
)

// MaxRawSize bounds the decompressed body of a saved shard.
var MaxRawSize uint64 = 1 << 31

// Smallest encodings of a document row (five one-byte fields) and of a word
// entry (hash, count and postings length).
const (
	minDocRowSize = 5
	minWordSize   = hash.Size + 2
)

// Header is the 64-byte header written at the start of every saved shard.
type Header struct {
	Magic     uint32
	Version   uint32
	Flags     uint32
	DocCount  uint32
	WordCount uint32
	BodySize  uint64
	Checksum  uint32
	CreatedAt int64
	RawSize   uint64
}

type Options struct {
	Compress bool
}

func (h Header) encode() []byte {
	b := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(b[0:4], h.Magic)
	binary.LittleEndian.PutUint32(b[4:8], h.Version)
	binary.LittleEndian.PutUint32(b[8:12], h.Flags)
	binary.LittleEndian.PutUint32(b[12:16], h.DocCount)
	binary.LittleEndian.PutUint32(b[16:20], h.WordCount)
	binary.LittleEndian.PutUint64(b[20:28], h.BodySize)
	binary.LittleEndian.PutUint32(b[28:32], h.Checksum)
	binary.LittleEndian.PutUint64(b[32:40], uint64(h.CreatedAt))
	binary.LittleEndian.PutUint64(b[40:48], h.RawSize)
	return b
}

// checksum covers the header, without its checksum field, and the body.
func checksum(header, body []byte) uint32 {
	c := crc32.NewIEEE()
	c.Write(header[:28])
	c.Write(header[32:HeaderSize])
	c.Write(body)
	return c.Sum32()
}

// ReadHeader parses and validates the header of a saved shard.
func ReadHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, fmt.Errorf("shard blob of %d bytes has no header: %w", len(data), apperrors.ErrShardCorrupt)
	}
	h := Header{
		Magic:     binary.LittleEndian.Uint32(data[0:4]),
		Version:   binary.LittleEndian.Uint32(data[4:8]),
		Flags:     binary.LittleEndian.Uint32(data[8:12]),
		DocCount:  binary.LittleEndian.Uint32(data[12:16]),
		WordCount: binary.LittleEndian.Uint32(data[16:20]),
		BodySize:  binary.LittleEndian.Uint64(data[20:28]),
		Checksum:  binary.LittleEndian.Uint32(data[28:32]),
		CreatedAt: int64(binary.LittleEndian.Uint64(data[32:40])),
		RawSize:   binary.LittleEndian.Uint64(data[40:48]),
	}
	if h.Magic != MagicBytes {
		return h, fmt.Errorf("bad magic bytes %x: %w", h.Magic, apperrors.ErrShardCorrupt)
	}
	if h.Version != FormatVersion {
		return h, fmt.Errorf("unsupported shard version %d: %w", h.Version, apperrors.ErrShardCorrupt)
	}
	return h, nil
}

// Encode serialises a shard into a single blob.
func Encode(s *index.Shard, opts Options) ([]byte, error) {
	snap := s.Snapshot()
	body := encodeBody(snap)
	header := Header{
		Magic:     MagicBytes,
		Version:   FormatVersion,
		DocCount:  uint32(len(snap.Docs)),
		WordCount: uint32(len(snap.Words)),
		CreatedAt: time.Now().Unix(),
		RawSize:   uint64(len(body)),
	}
	if opts.Compress {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, fmt.Errorf("creating zstd encoder: %w", err)
		}
		body = enc.EncodeAll(body, make([]byte, 0, len(body)/2))
		if err := enc.Close(); err != nil {
			return nil, fmt.Errorf("closing zstd encoder: %w", err)
		}
		header.Flags |= FlagZstd
	}
	header.BodySize = uint64(len(body))
	head := header.encode()
	binary.LittleEndian.PutUint32(head[28:32], checksum(head, body))
	out := make([]byte, 0, HeaderSize+len(body))
	out = append(out, head...)
	return append(out, body...), nil
}

// Decode rebuilds a shard from a blob produced by Encode.
func Decode(data []byte) (*index.Shard, error) {
	header, err := ReadHeader(data)
	if err != nil {
		return nil, err
	}
	body := data[HeaderSize:]
	if uint64(len(body)) != header.BodySize {
		return nil, fmt.Errorf("body is %d bytes, header says %d: %w", len(body), header.BodySize, apperrors.ErrShardCorrupt)
	}
	if checksum(data, body) != header.Checksum {
		return nil, fmt.Errorf("checksum mismatch: %w", apperrors.ErrShardCorrupt)
	}
	if header.RawSize > MaxRawSize {
		return nil, fmt.Errorf("raw body of %d bytes exceeds limit %d: %w", header.RawSize, MaxRawSize, apperrors.ErrShardCorrupt)
	}
	if header.Flags&FlagZstd != 0 {
		dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxRawSize))
		if err != nil {
			return nil, fmt.Errorf("creating zstd decoder: %w", err)
		}
		defer dec.Close()
		capacity := min(header.RawSize, 64*uint64(len(body)))
		body, err = dec.DecodeAll(body, make([]byte, 0, capacity))
		if err != nil {
			return nil, fmt.Errorf("decompressing body: %w: %w", err, apperrors.ErrShardCorrupt)
		}
	}
	if uint64(len(body)) != header.RawSize {
		return nil, fmt.Errorf("raw body is %d bytes, header says %d: %w", len(body), header.RawSize, apperrors.ErrShardCorrupt)
	}
	snap, err := decodeBody(body, header)
	if err != nil {
		return nil, err
	}
	return index.FromSnapshot(snap)
}

func encodeBody(snap index.Snapshot) []byte {
	var b []byte
	b = binary.AppendUvarint(b, snap.LenAllDocs)
	b = binary.AppendUvarint(b, snap.LenAllLinkDocs)
	for _, row := range snap.Docs {
		b = appendBytes(b, []byte(row.Key))
		b = binary.AppendUvarint(b, uint64(row.Length))
		b = binary.AppendUvarint(b, row.SummaryOffset)
		b = appendBytes(b, []byte(row.Aux))
		if row.IsDoc {
			b = append(b, 1)
		} else {
			b = append(b, 0)
		}
	}
	for _, w := range snap.Words {
		b = append(b, w.Hash[:]...)
		b = binary.AppendUvarint(b, uint64(w.Count))
		b = appendBytes(b, w.Postings)
	}
	return b
}

func appendBytes(b, v []byte) []byte {
	b = binary.AppendUvarint(b, uint64(len(v)))
	return append(b, v...)
}

type bodyReader struct {
	buf []byte
	off int
	err error
}

func (r *bodyReader) uvarint() uint64 {
	if r.err != nil {
		return 0
	}
	v, n := binary.Uvarint(r.buf[r.off:])
	if n <= 0 {
		r.err = fmt.Errorf("bad varint at %d: %w", r.off, apperrors.ErrShardCorrupt)
		return 0
	}
	r.off += n
	return v
}

func (r *bodyReader) bytes(n uint64) []byte {
	if r.err != nil {
		return nil
	}
	if n > uint64(len(r.buf)-r.off) {
		r.err = fmt.Errorf("field of %d bytes at %d overruns body: %w", n, r.off, apperrors.ErrShardCorrupt)
		return nil
	}
	v := r.buf[r.off : r.off+int(n)]
	r.off += int(n)
	return v
}

func decodeBody(body []byte, header Header) (index.Snapshot, error) {
	if uint64(header.DocCount)*minDocRowSize+uint64(header.WordCount)*minWordSize > uint64(len(body)) {
		return index.Snapshot{}, fmt.Errorf("%d docs and %d words cannot fit %d body bytes: %w",
			header.DocCount, header.WordCount, len(body), apperrors.ErrShardCorrupt)
	}
	r := &bodyReader{buf: body}
	snap := index.Snapshot{
		LenAllDocs:     r.uvarint(),
		LenAllLinkDocs: r.uvarint(),
		Docs:           make([]index.DocRow, 0, header.DocCount),
		Words:          make([]index.WordEntry, 0, header.WordCount),
	}
	for i := uint32(0); i < header.DocCount && r.err == nil; i++ {
		key := r.bytes(r.uvarint())
		row := index.DocRow{
			Key:           index.DocKey(key),
			Length:        uint32(r.uvarint()),
			SummaryOffset: r.uvarint(),
		}
		row.Aux = string(r.bytes(r.uvarint()))
		flag := r.bytes(1)
		row.IsDoc = len(flag) == 1 && flag[0] == 1
		snap.Docs = append(snap.Docs, row)
	}
	for i := uint32(0); i < header.WordCount && r.err == nil; i++ {
		h := hash.FromBytes(r.bytes(hash.Size))
		count := uint32(r.uvarint())
		postings := r.bytes(r.uvarint())
		snap.Words = append(snap.Words, index.WordEntry{
			Hash:     h,
			Count:    count,
			Postings: append([]byte(nil), postings...),
		})
	}
	if r.err != nil {
		return index.Snapshot{}, r.err
	}
	if r.off != len(body) {
		return index.Snapshot{}, fmt.Errorf("%d trailing body bytes: %w", len(body)-r.off, apperrors.ErrShardCorrupt)
	}
	return snap, nil
}
