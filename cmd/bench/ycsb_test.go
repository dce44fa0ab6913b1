package bench

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const trace = `Loading workload...
Starting test.
INSERT usertable user6284781860667377211 [ field1=abc ]
READ usertable user8517097267634966620 [ <all fields>]
UPDATE usertable user1 [ field0=x ]
[OVERALL], RunTime(ms), 12
`

func TestConvertYCSB(t *testing.T) {
	var out bytes.Buffer
	n, err := ConvertYCSB(strings.NewReader(trace), &out)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.Equal(t, 24, out.Len())

	raw := out.Bytes()
	assert.Equal(t, uint64(6284781860667377211), binary.LittleEndian.Uint64(raw[0:]))
	assert.Equal(t, uint64(8517097267634966620), binary.LittleEndian.Uint64(raw[8:]))
	assert.Equal(t, uint64(1), binary.LittleEndian.Uint64(raw[16:]))
}

func TestConvertYCSBRejectsOverflow(t *testing.T) {
	_, err := ConvertYCSB(strings.NewReader("READ usertable user99999999999999999999999\n"), &bytes.Buffer{})
	assert.Error(t, err)
}

func TestReadKeys(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "load.txt")
	out := filepath.Join(dir, "load.keys")
	require.NoError(t, os.WriteFile(in, []byte(trace), 0o644))

	n, err := ConvertYCSBFile(in, out)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	keys, err := ReadKeys(out)
	require.NoError(t, err)
	assert.Equal(t, []uint64{6284781860667377211, 8517097267634966620, 1}, keys)

	broken := filepath.Join(dir, "broken.keys")
	require.NoError(t, os.WriteFile(broken, []byte{1, 2, 3}, 0o644))
	_, err = ReadKeys(broken)
	assert.Error(t, err)

	_, err = ReadKeys(filepath.Join(dir, "missing.keys"))
	assert.Error(t, err)
}

func TestGenerateKeys(t *testing.T) {
	assert.Equal(t, []uint64{0, 1, 2, 3}, GenerateKeys(4))
	assert.Empty(t, GenerateKeys(0))
}
