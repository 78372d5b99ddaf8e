package stt

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), []byte("x"), 0o644))
	}
}

func TestLocateModel(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir,
		"tokens.txt",
		"encoder-epoch-99-avg-1.int8.onnx",
		"encoder-epoch-99-avg-1.onnx",
		"decoder-epoch-99-avg-1.onnx",
		"joiner-epoch-99-avg-1.int8.onnx",
	)

	files, err := LocateModel(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "tokens.txt"), files.Tokens)
	assert.Equal(t, filepath.Join(dir, "encoder-epoch-99-avg-1.onnx"), files.Encoder, "full precision preferred")
	assert.Equal(t, filepath.Join(dir, "decoder-epoch-99-avg-1.onnx"), files.Decoder)
	assert.Equal(t, filepath.Join(dir, "joiner-epoch-99-avg-1.int8.onnx"), files.Joiner, "int8 used when alone")
}

func TestLocateModel_ListsEveryMissingArtifact(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "encoder.onnx")

	_, err := LocateModel(dir)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrModelNotFound))

	var merr *ModelError
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, []string{"tokens.txt", "decoder*.onnx", "joiner*.onnx"}, merr.Missing)
}

func TestLocateModel_MissingDir(t *testing.T) {
	_, err := LocateModel(filepath.Join(t.TempDir(), "nope"))
	assert.ErrorIs(t, err, ErrModelNotFound)
}

func TestModelDir(t *testing.T) {
	assert.Equal(t, filepath.Join("models", "zipformer"), ModelDir("models", "zipformer"))
	assert.Equal(t, "models", ModelDir("models", ""))
}
