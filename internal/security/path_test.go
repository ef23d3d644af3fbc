package security

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveWithin(t *testing.T) {
	root := t.TempDir()
	canonicalRoot, err := filepath.EvalSymlinks(root)
	require.NoError(t, err)
	require.NoError(t, os.Mkdir(filepath.Join(root, "drives"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "drives", "a.pcap"), nil, 0o644))
	outside := t.TempDir()
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "escape")))

	tests := []struct {
		name    string
		path    string
		want    string
		wantErr bool
	}{
		{name: "relative", path: "drives/a.pcap", want: filepath.Join(canonicalRoot, "drives", "a.pcap")},
		{name: "absolute inside", path: filepath.Join(root, "drives", "a.pcap"), want: filepath.Join(canonicalRoot, "drives", "a.pcap")},
		{name: "missing file", path: "drives/new.pcap", want: filepath.Join(canonicalRoot, "drives", "new.pcap")},
		{name: "dot segments", path: "drives/../drives/a.pcap", want: filepath.Join(canonicalRoot, "drives", "a.pcap")},
		{name: "traversal", path: "../etc/passwd", wantErr: true},
		{name: "absolute outside", path: filepath.Join(outside, "b.pcap"), wantErr: true},
		{name: "symlink out", path: "escape/b.pcap", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveWithin(root, tt.path)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrOutsideDirectory)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveWithin_MissingDirectory(t *testing.T) {
	_, err := ResolveWithin(filepath.Join(t.TempDir(), "nope"), "a.pcap")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrOutsideDirectory)
}
