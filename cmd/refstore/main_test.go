package main

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/refstore/pkg/storage"
)

// run executes the CLI with args and returns what it wrote to stdout.
func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd(strings.NewReader(stdin), &out, &errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func newGoldie(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

// buildSamples writes a.ref and b.ref into a temporary directory.
func buildSamples(t *testing.T, order string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	a := filepath.Join(dir, "a.ref")
	b := filepath.Join(dir, "b.ref")

	out, err := run(t, "", "build", "testdata/a.txt",
		"--root", "1", "--next", "5", "--out", a, "--byte-order", order)
	require.NoError(t, err)
	assert.Equal(t, "wrote 5 edges (88 B) to a.ref\n", out)

	out, err = run(t, "", "build", "testdata/b1.txt", "testdata/b2.txt",
		"--root", "1", "--next", "6", "--out", b, "--byte-order", order)
	require.NoError(t, err)
	assert.Equal(t, "wrote 5 edges (100 B) to b.ref\n", out)

	return a, b
}

func TestVersion(t *testing.T) {
	out, err := run(t, "", "version")
	require.NoError(t, err)
	assert.Equal(t, "refstore v0.1.0 (dev)\n", out)
}

func TestInspect(t *testing.T) {
	a, _ := buildSamples(t, "little")

	out, err := run(t, "", "inspect", a, "--byte-order", "little")
	require.NoError(t, err)
	newGoldie(t).Assert(t, "inspect_a", []byte(out))
}

func TestEdges(t *testing.T) {
	for _, order := range []string{"little", "big", "native"} {
		t.Run(order, func(t *testing.T) {
			a, _ := buildSamples(t, order)

			out, err := run(t, "", "edges", a, "--byte-order", order)
			require.NoError(t, err)
			newGoldie(t).Assert(t, "edges_a", []byte(out))
		})
	}
}

func TestDiff(t *testing.T) {
	a, b := buildSamples(t, "little")
	g := newGoldie(t)

	out, err := run(t, "", "diff", a, b, "--byte-order", "little")
	require.NoError(t, err)
	g.Assert(t, "diff_a_b", []byte(out))

	out, err = run(t, "", "diff", b, a, "--byte-order", "little")
	require.NoError(t, err)
	g.Assert(t, "diff_b_a", []byte(out))

	out, err = run(t, "", "diff", a, a, "--byte-order", "little")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestBuild(t *testing.T) {
	dir := t.TempDir()

	t.Run("stdin_and_default_next", func(t *testing.T) {
		path := filepath.Join(dir, "stdin.ref")
		out, err := run(t, "3 7 9\n3 7 2\n", "build", "--out", path, "--byte-order", "little")
		require.NoError(t, err)
		assert.Equal(t, "wrote 2 edges (40 B) to stdin.ref\n", out)

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		st, err := storage.FromBytesOrder(data, binary.LittleEndian)
		require.NoError(t, err)
		assert.Equal(t, storage.Ref(10), st.NextRef(), "one past the largest reference")
		assert.Zero(t, st.RootRef())
		assert.Equal(t, []storage.Edge{
			{Source: 3, Relation: 7, Target: 2},
			{Source: 3, Relation: 7, Target: 9},
		}, st.EdgeList())
	})

	t.Run("journal_from_config_file", func(t *testing.T) {
		path := filepath.Join(dir, "journal.ref")
		out, err := run(t, "", "build", "testdata/b1.txt", "testdata/b2.txt",
			"--root", "1", "--next", "6", "--out", path, "--config", "testdata/refstore.yaml")
		require.NoError(t, err)
		assert.Equal(t, "wrote 5 edges (100 B) to journal.ref\n", out)

		out, err = run(t, "", "diff", path, path, "--config", "testdata/refstore.yaml")
		require.NoError(t, err)
		assert.Empty(t, out)
	})

	t.Run("wrong_field_count", func(t *testing.T) {
		_, err := run(t, "1 2\n", "build", "--out", filepath.Join(dir, "x.ref"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "-:1: expected 3 references, got 2")
	})

	t.Run("zero_reference", func(t *testing.T) {
		_, err := run(t, "# header\n1 0 2\n", "build", "--out", filepath.Join(dir, "x.ref"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "-:2: zero reference")
	})

	t.Run("invalid_reference", func(t *testing.T) {
		_, err := run(t, "1 2 99999999999\n", "build", "--out", filepath.Join(dir, "x.ref"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid reference")
	})

	t.Run("missing_out", func(t *testing.T) {
		_, err := run(t, "1 2 3\n", "build")
		assert.Error(t, err)
	})

	t.Run("missing_input", func(t *testing.T) {
		_, err := run(t, "", "build", filepath.Join(dir, "absent.txt"), "--out", filepath.Join(dir, "x.ref"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()

	t.Run("malformed_state", func(t *testing.T) {
		path := filepath.Join(dir, "short.ref")
		require.NoError(t, os.WriteFile(path, []byte{1, 2, 3, 4, 5}, 0o644))
		_, err := run(t, "", "inspect", path)
		assert.ErrorIs(t, err, storage.ErrMalformedState)
	})

	t.Run("missing_file", func(t *testing.T) {
		_, err := run(t, "", "edges", filepath.Join(dir, "absent.ref"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("invalid_byte_order", func(t *testing.T) {
		_, err := run(t, "", "edges", filepath.Join(dir, "absent.ref"), "--byte-order", "middle")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid configuration")
	})

	t.Run("missing_config", func(t *testing.T) {
		_, err := run(t, "", "version", "--config", filepath.Join(dir, "absent.yaml"))
		assert.Error(t, err)
	})
}

func TestLogOutputClosedOnError(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "refstore.log")
	t.Setenv("REFSTORE_LOG_OUTPUT", logPath)
	t.Setenv("REFSTORE_LOG_LEVEL", "DEBUG")

	a := &app{}
	cmd := a.rootCmd(strings.NewReader(""), &bytes.Buffer{}, &bytes.Buffer{})
	cmd.SetArgs([]string{"edges", filepath.Join(dir, "absent.ref")})
	require.Error(t, cmd.Execute())
	assert.Nil(t, a.closeLog, "log output is released after a failed command")

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "configuration loaded")
}
