package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestNew(t *testing.T) {
	base := t.TempDir()
	now := time.Date(2024, 3, 9, 14, 5, 7, 0, time.Local)

	s, err := New(base, "receipts_", now, zaptest.NewLogger(t))
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(base, "receipts_20240309_140507"), s.Dir())
	info, err := os.Stat(s.Dir())
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	names, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestWrite(t *testing.T) {
	s, err := Open(t.TempDir(), zaptest.NewLogger(t))
	require.NoError(t, err)

	t.Run("WritesAndReplaces", func(t *testing.T) {
		path, err := s.Write("領収書_001_A-123.pdf", []byte("first"))
		require.NoError(t, err)
		assert.Equal(t, s.Path("領収書_001_A-123.pdf"), path)

		_, err = s.Write("領収書_001_A-123.pdf", []byte("second"))
		require.NoError(t, err)

		content, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "second", string(content))
		assert.True(t, s.Exists("領収書_001_A-123.pdf"))
		assert.False(t, s.Exists(path), "absolute paths are not names in the run directory")
	})

	t.Run("RejectsPathNames", func(t *testing.T) {
		for _, name := range []string{"", "..", "a/b.pdf", `a\b.pdf`} {
			_, err := s.Write(name, []byte("x"))
			assert.Error(t, err, name)
		}
	})

	t.Run("NoTemporaryLeftovers", func(t *testing.T) {
		names, err := s.List()
		require.NoError(t, err)
		assert.Equal(t, []string{"領収書_001_A-123.pdf"}, names)

		entries, err := os.ReadDir(s.Dir())
		require.NoError(t, err)
		assert.Len(t, entries, 1)
	})
}

func TestExists(t *testing.T) {
	s, err := Open(t.TempDir(), zaptest.NewLogger(t))
	require.NoError(t, err)

	assert.False(t, s.Exists("missing.pdf"))

	require.NoError(t, os.WriteFile(s.Path("empty.pdf"), nil, 0o644))
	assert.False(t, s.Exists("empty.pdf"), "empty files do not count as saved")

	outside := filepath.Join(t.TempDir(), "elsewhere.pdf")
	require.NoError(t, os.WriteFile(outside, []byte("%PDF"), 0o644))
	assert.False(t, s.Exists(outside))
	assert.False(t, s.Exists("../elsewhere.pdf"))
	assert.Error(t, s.CheckName(outside))
	assert.NoError(t, s.CheckName("領収書_001.pdf"))
}

func TestWriteDiagnostic(t *testing.T) {
	s, err := Open(t.TempDir(), zaptest.NewLogger(t))
	require.NoError(t, err)

	path, err := s.WriteDiagnostic(2, 7, "png", []byte("png"))
	require.NoError(t, err)
	assert.Equal(t, "error_page2_item7.png", filepath.Base(path))
}
