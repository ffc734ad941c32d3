package sync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassify_Triples(t *testing.T) {
	t.Parallel()

	base := &BaselineEntry{Path: "a.txt", Size: 10, Mtime: 1000, Hash: "h1", SyncedAt: 1000}

	tests := []struct {
		name   string
		local  *LocalFile
		remote *RemoteFile
		base   *BaselineEntry
		want   Classification
	}{
		{
			name:   "identical hashes are unchanged",
			local:  &LocalFile{Path: "a.txt", Size: 10, Mtime: 1000, Hash: "h1"},
			remote: &RemoteFile{Path: "a.txt", Size: 10, Mtime: 9999, Hash: "h1"},
			want:   ClassUnchanged,
		},
		{
			name:  "new local file without baseline",
			local: &LocalFile{Path: "a.txt", Size: 10, Mtime: 1000, Hash: "h1"},
			want:  ClassLocalOnly,
		},
		{
			name:   "new remote file without baseline",
			remote: &RemoteFile{Path: "a.txt", Size: 10, Mtime: 1000, Hash: "h1"},
			want:   ClassRemoteOnly,
		},
		{
			name:  "remote deleted after sync",
			local: &LocalFile{Path: "a.txt", Size: 12, Mtime: 2000, Hash: "h2"},
			base:  base,
			want:  ClassModifiedDeleted,
		},
		{
			name:   "local deleted after sync",
			remote: &RemoteFile{Path: "a.txt", Size: 12, Mtime: 2000, Hash: "h2"},
			base:   base,
			want:   ClassDeletedModified,
		},
		{
			name:   "only local diverged from baseline",
			local:  &LocalFile{Path: "a.txt", Size: 12, Mtime: 2000, Hash: "h2"},
			remote: &RemoteFile{Path: "a.txt", Size: 10, Mtime: 1000, Hash: "h1"},
			base:   base,
			want:   ClassLocalOnly,
		},
		{
			name:   "only remote diverged from baseline",
			local:  &LocalFile{Path: "a.txt", Size: 10, Mtime: 1000, Hash: "h1"},
			remote: &RemoteFile{Path: "a.txt", Size: 12, Mtime: 2000, Hash: "h2"},
			base:   base,
			want:   ClassRemoteOnly,
		},
		{
			name:   "both diverged from baseline",
			local:  &LocalFile{Path: "a.txt", Size: 12, Mtime: 2000, Hash: "h2"},
			remote: &RemoteFile{Path: "a.txt", Size: 13, Mtime: 2001, Hash: "h3"},
			base:   base,
			want:   ClassBothModified,
		},
		{
			name:   "create-create without baseline",
			local:  &LocalFile{Path: "a.txt", Size: 12, Mtime: 2000, Hash: "h2"},
			remote: &RemoteFile{Path: "a.txt", Size: 13, Mtime: 2001, Hash: "h3"},
			want:   ClassBothModified,
		},
		{
			name: "stale baseline row",
			base: base,
			want: ClassUnchanged,
		},
	}

	d := NewDetector(0, testLogger())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, d.Classify(tt.local, tt.remote, tt.base))
		})
	}
}

func TestSidesEqual_FallsBackToSizeAndMtime(t *testing.T) {
	t.Parallel()

	d := NewDetector(2*time.Second, testLogger())

	local := &LocalFile{Path: "big.bin", Size: 100, Mtime: time.Second.Nanoseconds()}
	remote := &RemoteFile{Path: "big.bin", Size: 100, Mtime: 2 * time.Second.Nanoseconds()}

	// No hashes available: equal size and mtimes within tolerance.
	assert.Equal(t, ClassUnchanged, d.Classify(local, remote, nil))

	remote.Mtime = 10 * time.Second.Nanoseconds()
	assert.Equal(t, ClassBothModified, d.Classify(local, remote, nil))
}

func TestDetectNameCollisions(t *testing.T) {
	t.Parallel()

	locals := map[string]*LocalFile{
		"docs/Report.txt": {Path: "docs/Report.txt"},
		"other.txt":       {Path: "other.txt"},
	}
	remotes := map[string]*RemoteFile{
		"docs/report.txt": {Path: "docs/report.txt"},
		"other.txt":       {Path: "other.txt"},
	}

	collisions := DetectNameCollisions(locals, remotes)

	assert.True(t, collisions["docs/Report.txt"])
	assert.True(t, collisions["docs/report.txt"])
	assert.False(t, collisions["other.txt"])
}
