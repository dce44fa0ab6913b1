package bench

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
)

// ycsbKey matches the key of a YCSB load or run trace line, e.g.
// "INSERT usertable user6284781860667377211 [ field1=... ]"
var ycsbKey = regexp.MustCompile(`.*usertable user(\d+).*`)

// ConvertYCSB extracts the keys of a YCSB trace and writes them as little
// endian u64 values. Lines without a key are skipped. It returns the number of
// keys written.
func ConvertYCSB(in io.Reader, out io.Writer) (int, error) {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	w := bufio.NewWriter(out)

	var (
		buf   [8]byte
		count int
	)
	for scanner.Scan() {
		m := ycsbKey.FindSubmatch(scanner.Bytes())
		if m == nil {
			continue
		}
		key, err := strconv.ParseUint(string(m[1]), 10, 64)
		if err != nil {
			return count, fmt.Errorf("line %d: invalid key %q: %w", count+1, m[1], err)
		}
		binary.LittleEndian.PutUint64(buf[:], key)
		if _, err := w.Write(buf[:]); err != nil {
			return count, err
		}
		count++
	}
	if err := scanner.Err(); err != nil {
		return count, err
	}
	return count, w.Flush()
}

// ConvertYCSBFile converts the trace at inPath into a key file at outPath
func ConvertYCSBFile(inPath, outPath string) (int, error) {
	in, err := os.Open(inPath)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := os.Create(outPath)
	if err != nil {
		return 0, err
	}
	n, err := ConvertYCSB(in, out)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	return n, err
}

// ReadKeys loads a key file written by ConvertYCSB
func ReadKeys(path string) ([]uint64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data)%8 != 0 {
		return nil, fmt.Errorf("key file %s has %d bytes, not a multiple of 8", path, len(data))
	}
	keys := make([]uint64, len(data)/8)
	for i := range keys {
		keys[i] = binary.LittleEndian.Uint64(data[i*8:])
	}
	return keys, nil
}

// GenerateKeys returns the keys 0..n-1
func GenerateKeys(n int) []uint64 {
	keys := make([]uint64, n)
	for i := range keys {
		keys[i] = uint64(i)
	}
	return keys
}
