package logtail

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeLog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "app.log")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestTail(t *testing.T) {
	path := writeLog(t, "one\ntwo\nthree\nfour\n")

	lines, err := Tail(path, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"three", "four"}, lines)

	lines, err = Tail(path, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two", "three", "four"}, lines)

	lines, err = Tail(path, 0)
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestTail_NoTrailingNewline(t *testing.T) {
	lines, err := Tail(writeLog(t, "a\nb"), 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, lines)
}

func TestTail_Empty(t *testing.T) {
	lines, err := Tail(writeLog(t, ""), 5)
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestTail_SpansChunks(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 2000; i++ {
		fmt.Fprintf(&b, `{"level":"info","msg":"line %04d"}`+"\n", i)
	}
	lines, err := Tail(writeLog(t, b.String()), 300)
	require.NoError(t, err)
	require.Len(t, lines, 300)
	assert.Contains(t, lines[0], "line 1700")
	assert.Contains(t, lines[299], "line 1999")
}

func TestTail_MissingFile(t *testing.T) {
	_, err := Tail(filepath.Join(t.TempDir(), "nope.log"), 5)
	assert.Error(t, err)
}
