package hlog

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"

	"github.com/ValentinKolb/fKV/lib/engine"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// --------------------------------------------------------------------------
// Snapshot file format
// --------------------------------------------------------------------------
//
// Both checkpoint facets share one container:
//
//	magic (8 bytes) | format version (u32) | compression (u8) | stream
//
// The stream is compressed with the given codec and holds the facet body
// followed by the CRC-32 (IEEE) of the body. All integers are little endian.
//
//	hybrid log body: count (u64), then count times keyLen (u32) key valueLen (u32) value
//	index body:      count (u64), then count times keyLen (u32) key

const (
	logMagic        = "FKVHLOG\x00"
	indexMagic      = "FKVIDX\x00\x00"
	snapshotVersion = 1
	maxFieldLen     = 1 << 31
	bufferSize      = 1 << 20
)

var errCorruptSnapshot = errors.New("corrupt snapshot")

type snapshotRecord struct {
	key   []byte
	value []byte
}

func compressWriter(w io.Writer, c engine.Compression) (io.Writer, func() error, error) {
	switch c {
	case engine.CompressionNone:
		return w, func() error { return nil }, nil
	case engine.CompressionLZ4:
		zw := lz4.NewWriter(w)
		return zw, zw.Close, nil
	case engine.CompressionZstd:
		zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, nil, err
		}
		return zw, zw.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown compression %d", c)
	}
}

func decompressReader(r io.Reader, c engine.Compression) (io.Reader, func(), error) {
	switch c {
	case engine.CompressionNone:
		return r, func() {}, nil
	case engine.CompressionLZ4:
		return lz4.NewReader(r), func() {}, nil
	case engine.CompressionZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return zr, zr.Close, nil
	default:
		return nil, nil, fmt.Errorf("%w: unknown compression %d", errCorruptSnapshot, c)
	}
}

// writeSnapshot writes a facet file atomically (temp file + rename)
func writeSnapshot(path, magic string, c engine.Compression, body func(w io.Writer) error) (err error) {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
		}
	}()

	bw := bufio.NewWriterSize(f, bufferSize)
	if _, err = bw.WriteString(magic); err != nil {
		return err
	}
	if err = binary.Write(bw, binary.LittleEndian, uint32(snapshotVersion)); err != nil {
		return err
	}
	if err = bw.WriteByte(byte(c)); err != nil {
		return err
	}

	cw, closeStream, err := compressWriter(bw, c)
	if err != nil {
		return err
	}
	crc := crc32.NewIEEE()
	if err = body(io.MultiWriter(cw, crc)); err != nil {
		return err
	}
	if err = binary.Write(cw, binary.LittleEndian, crc.Sum32()); err != nil {
		return err
	}
	if err = closeStream(); err != nil {
		return err
	}
	if err = bw.Flush(); err != nil {
		return err
	}
	if err = f.Sync(); err != nil {
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// readSnapshot validates the container of a facet file and hands the body to body
func readSnapshot(path, magic string, body func(r io.Reader) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	br := bufio.NewReaderSize(f, bufferSize)
	header := make([]byte, len(magic)+5)
	if _, err := io.ReadFull(br, header); err != nil {
		return fmt.Errorf("%w: short header: %v", errCorruptSnapshot, err)
	}
	if string(header[:len(magic)]) != magic {
		return fmt.Errorf("%w: bad magic", errCorruptSnapshot)
	}
	if v := binary.LittleEndian.Uint32(header[len(magic):]); v != snapshotVersion {
		return fmt.Errorf("%w: unsupported format version %d", errCorruptSnapshot, v)
	}

	cr, closeStream, err := decompressReader(br, engine.Compression(header[len(magic)+4]))
	if err != nil {
		return err
	}
	defer closeStream()

	crc := crc32.NewIEEE()
	if err := body(io.TeeReader(cr, crc)); err != nil {
		if errors.Is(err, errCorruptSnapshot) {
			return err
		}
		return fmt.Errorf("%w: %v", errCorruptSnapshot, err)
	}

	var sum uint32
	if err := binary.Read(cr, binary.LittleEndian, &sum); err != nil {
		return fmt.Errorf("%w: missing checksum: %v", errCorruptSnapshot, err)
	}
	if sum != crc.Sum32() {
		return fmt.Errorf("%w: checksum mismatch", errCorruptSnapshot)
	}
	return nil
}

// --------------------------------------------------------------------------
// Facet bodies
// --------------------------------------------------------------------------

func writeField(w io.Writer, scratch []byte, field []byte) error {
	binary.LittleEndian.PutUint32(scratch, uint32(len(field)))
	if _, err := w.Write(scratch[:4]); err != nil {
		return err
	}
	_, err := w.Write(field)
	return err
}

func readField(r io.Reader, scratch []byte) ([]byte, error) {
	if _, err := io.ReadFull(r, scratch[:4]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(scratch)
	if n >= maxFieldLen {
		return nil, fmt.Errorf("%w: field length %d", errCorruptSnapshot, n)
	}
	field := make([]byte, n)
	_, err := io.ReadFull(r, field)
	return field, err
}

func writeLogFacet(path string, c engine.Compression, records []snapshotRecord) error {
	return writeSnapshot(path, logMagic, c, func(w io.Writer) error {
		scratch := make([]byte, 8)
		binary.LittleEndian.PutUint64(scratch, uint64(len(records)))
		if _, err := w.Write(scratch); err != nil {
			return err
		}
		for _, rec := range records {
			if err := writeField(w, scratch, rec.key); err != nil {
				return err
			}
			if err := writeField(w, scratch, rec.value); err != nil {
				return err
			}
		}
		return nil
	})
}

func readLogFacet(path string, expected uint64) ([]snapshotRecord, error) {
	var records []snapshotRecord
	err := readSnapshot(path, logMagic, func(r io.Reader) error {
		scratch := make([]byte, 8)
		if _, err := io.ReadFull(r, scratch); err != nil {
			return err
		}
		count := binary.LittleEndian.Uint64(scratch)
		if count != expected {
			return fmt.Errorf("%w: %d records, catalog expects %d", errCorruptSnapshot, count, expected)
		}
		records = make([]snapshotRecord, 0, count)
		for i := uint64(0); i < count; i++ {
			key, err := readField(r, scratch)
			if err != nil {
				return err
			}
			value, err := readField(r, scratch)
			if err != nil {
				return err
			}
			records = append(records, snapshotRecord{key: key, value: value})
		}
		return nil
	})
	return records, err
}

func writeIndexFacet(path string, c engine.Compression, records []snapshotRecord) error {
	return writeSnapshot(path, indexMagic, c, func(w io.Writer) error {
		scratch := make([]byte, 8)
		binary.LittleEndian.PutUint64(scratch, uint64(len(records)))
		if _, err := w.Write(scratch); err != nil {
			return err
		}
		for _, rec := range records {
			if err := writeField(w, scratch, rec.key); err != nil {
				return err
			}
		}
		return nil
	})
}

func readIndexFacet(path string) (int, error) {
	var count uint64
	err := readSnapshot(path, indexMagic, func(r io.Reader) error {
		scratch := make([]byte, 8)
		if _, err := io.ReadFull(r, scratch); err != nil {
			return err
		}
		count = binary.LittleEndian.Uint64(scratch)
		for i := uint64(0); i < count; i++ {
			if _, err := readField(r, scratch); err != nil {
				return err
			}
		}
		return nil
	})
	return int(count), err
}
