package cache

import (
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rstdocs/internal/ast"
	"rstdocs/internal/parser"
)

func entryFor(t *testing.T, path, text string) Entry {
	t.Helper()
	res, err := parser.Parse(text, parser.Options{Path: path})
	require.NoError(t, err)
	root, err := ast.Marshal(res.Root)
	require.NoError(t, err)
	return Entry{
		Path:       path,
		Hash:       HashText(text),
		ModTime:    time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Root:       root,
		Directives: res.Directives,
		Roles:      res.Roles,
	}
}

func TestNormalizePath(t *testing.T) {
	for in, want := range map[string]string{
		"a/b":          "a/b.rst",
		"/a/b.rst":     "a/b.rst",
		`tutorials\x`:  "tutorials/x.rst",
		"./a/../b.rst": "b.rst",
		"":             "",
	} {
		assert.Equal(t, want, NormalizePath(in), in)
	}
}

func TestDocCache_LoadDocErrors(t *testing.T) {
	c, err := New(&FileBackend{Path: filepath.Join(t.TempDir(), "none.cache")}, 0)
	require.NoError(t, err)
	require.NoError(t, c.Load(context.Background()))

	_, err = c.LoadDoc("index")
	assert.ErrorIs(t, err, ErrEmpty)

	c.Put(entryFor(t, "/index.rst", "Home\n====\n"))
	doc, err := c.LoadDoc("index")
	require.NoError(t, err)
	assert.Equal(t, "Home", doc.Title())
	assert.Equal(t, "index.rst", doc.Path)

	_, err = c.LoadDoc("missing.rst")
	var miss *MissError
	require.True(t, errors.As(err, &miss))
	assert.Equal(t, "missing.rst", miss.Path)
}

func TestDocCache_Fresh(t *testing.T) {
	c, err := New(&FileBackend{Path: filepath.Join(t.TempDir(), "c")}, 0)
	require.NoError(t, err)
	c.Put(entryFor(t, "a.rst", "A\n=\n\ntext\n"))

	assert.True(t, c.Fresh("a", HashText("A\n=\n\ntext\n")))
	assert.False(t, c.Fresh("a", HashText("changed")))
	assert.False(t, c.Fresh("b", HashText("A\n=\n\ntext\n")))
}

func TestBackends_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	sqlite, err := NewSQLiteBackend(filepath.Join(dir, "cache.db"))
	require.NoError(t, err)
	defer sqlite.Close()

	backends := map[string]Backend{
		"file none": &FileBackend{Path: filepath.Join(dir, "none.cache")},
		"file lz4":  &FileBackend{Path: filepath.Join(dir, "lz4.cache"), Compression: CompressionLZ4},
		"file zstd": &FileBackend{Path: filepath.Join(dir, "zstd.cache"), Compression: CompressionZstd},
		"sqlite":    sqlite,
	}
	body := strings.Repeat("Some repeated paragraph text with :kbd:`Ctrl`.\n\n", 50)
	for name, backend := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			first, err := New(backend, 4)
			require.NoError(t, err)
			first.Put(entryFor(t, "guide/intro.rst", "Intro\n=====\n\n"+body))
			first.Put(entryFor(t, "index.rst", "Home\n====\n\n.. note:: hi\n"))
			require.NoError(t, first.Save(ctx))

			second, err := New(backend, 4)
			require.NoError(t, err)
			require.NoError(t, second.Load(ctx))
			assert.Equal(t, []string{"guide/intro.rst", "index.rst"}, second.Paths())

			want, err := first.LoadDoc("guide/intro.rst")
			require.NoError(t, err)
			got, err := second.LoadDoc("guide/intro.rst")
			require.NoError(t, err)
			assert.True(t, ast.Equal(want.Root, got.Root))
			assert.True(t, want.ModTime.Equal(got.ModTime))
			assert.Equal(t, []string{"kbd"}, got.Roles)

			e, ok := second.Entry("index")
			require.True(t, ok)
			assert.Equal(t, []string{"note"}, e.Directives)

			// a second save is a full snapshot
			second.Remove("index.rst")
			require.NoError(t, second.Save(ctx))
			third, err := New(backend, 4)
			require.NoError(t, err)
			require.NoError(t, third.Load(ctx))
			assert.Equal(t, []string{"guide/intro.rst"}, third.Paths())
		})
	}
}

func TestFileBackend_CompressesRepetitiveCorpus(t *testing.T) {
	dir := t.TempDir()
	text := "Intro\n=====\n\n" + strings.Repeat("Repeated paragraph text.\n\n", 200)
	sizes := map[Compression]int64{}
	for _, comp := range []Compression{CompressionNone, CompressionLZ4, CompressionZstd} {
		b := &FileBackend{Path: filepath.Join(dir, comp.String()), Compression: comp}
		require.NoError(t, b.Save(context.Background(), []Entry{entryFor(t, "a.rst", text)}))
		info, err := os.Stat(b.Path)
		require.NoError(t, err)
		sizes[comp] = info.Size()
	}
	assert.Less(t, sizes[CompressionLZ4], sizes[CompressionNone])
	assert.Less(t, sizes[CompressionZstd], sizes[CompressionNone])
}

func TestFileBackend_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.cache")
	require.NoError(t, os.WriteFile(path, []byte{byte(CompressionZstd), 10, 1, 2, 3}, 0o644))
	_, err := (&FileBackend{Path: path}).Load(context.Background())
	assert.Error(t, err)
}

func TestUnpack_RejectsOversizedHeader(t *testing.T) {
	huge := binary.AppendUvarint(nil, 1<<62)
	for _, comp := range []Compression{CompressionNone, CompressionLZ4, CompressionZstd} {
		data := append(append([]byte{byte(comp)}, huge...), 1, 2, 3)
		assert.NotPanics(t, func() {
			_, err := unpack(data)
			assert.ErrorContains(t, err, "payload size", comp.String())
		})
	}

	// within the global cap but beyond what an LZ4 block can hold
	data := append([]byte{byte(CompressionLZ4)}, binary.AppendUvarint(nil, 4096)...)
	_, err := unpack(append(data, 1, 2, 3))
	assert.ErrorContains(t, err, "cannot expand")

	path := filepath.Join(t.TempDir(), "huge.cache")
	require.NoError(t, os.WriteFile(path, append(append([]byte{byte(CompressionLZ4)}, huge...), 0), 0o644))
	_, err = (&FileBackend{Path: path}).Load(context.Background())
	assert.Error(t, err)
}

func TestParseCompression(t *testing.T) {
	c, err := ParseCompression("zstd")
	require.NoError(t, err)
	assert.Equal(t, CompressionZstd, c)
	_, err = ParseCompression("gzip")
	assert.Error(t, err)
}
