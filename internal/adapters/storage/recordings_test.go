package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/peercall/internal/domain"
)

func artifact(data string) *domain.Artifact {
	return &domain.Artifact{
		Name:     domain.RecordingFileName,
		MIMEType: domain.RecordingMIMEType,
		Data:     []byte(data),
		Chunks:   1,
	}
}

func TestSaveWritesRecordingFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "recordings")
	s, err := NewRecordingStore(dir)
	require.NoError(t, err)

	_, err = s.Latest()
	require.ErrorIs(t, err, ErrNoRecording)

	require.NoError(t, s.Save(context.Background(), artifact("first")))
	require.NoError(t, s.Save(context.Background(), artifact("second")))

	data, err := os.ReadFile(filepath.Join(dir, domain.RecordingFileName))
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files are cleaned up")

	latest, err := s.Latest()
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), latest.Data)
}

func TestLatestReadsBackFromDisk(t *testing.T) {
	dir := t.TempDir()
	first, err := NewRecordingStore(dir)
	require.NoError(t, err)
	require.NoError(t, first.Save(context.Background(), artifact("kept")))

	reopened, err := NewRecordingStore(dir)
	require.NoError(t, err)
	latest, err := reopened.Latest()
	require.NoError(t, err)
	assert.Equal(t, "kept", string(latest.Data))
	assert.Equal(t, domain.RecordingMIMEType, latest.MIMEType)
}

func TestSaveNameCannotEscapeDir(t *testing.T) {
	dir := t.TempDir()
	s, err := NewRecordingStore(dir)
	require.NoError(t, err)

	a := artifact("x")
	a.Name = "../escape.webm"
	require.NoError(t, s.Save(context.Background(), a))
	_, err = os.Stat(filepath.Join(dir, "escape.webm"))
	assert.NoError(t, err)
}
