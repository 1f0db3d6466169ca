package peers

import (
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"peerlink/pkg/transport"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoadFromFileFormats(t *testing.T) {
	files := map[string]string{
		"peers.json": `{"peers":[{"id":1,"addrs":["127.0.0.1:9001"]},{"id":2,"addrs":["127.0.0.1:9002","10.0.0.2:9002"]}]}`,
		"peers.yaml": "peers:\n  - id: 1\n    addrs: [\"127.0.0.1:9001\"]\n  - id: 2\n    addrs:\n      - 127.0.0.1:9002\n      - 10.0.0.2:9002\n",
		"peers.toml": "[[peers]]\nid = 1\naddrs = [\"127.0.0.1:9001\"]\n\n[[peers]]\nid = 2\naddrs = [\"127.0.0.1:9002\", \"10.0.0.2:9002\"]\n",
	}
	for name, body := range files {
		t.Run(name, func(t *testing.T) {
			r := New[uint32](0)
			n, err := r.LoadFromFile(writeFile(t, name, body))
			require.NoError(t, err)
			assert.Equal(t, 2, n)
			assert.Equal(t, []string{"127.0.0.1:9001", "127.0.0.1:9002"}, slices.Collect(r.NetAddrs()))
			p, ok := r.Get(2)
			require.True(t, ok)
			assert.Len(t, p.Addrs, 2)
		})
	}
}

func TestLoadFromFileIsAllOrNothing(t *testing.T) {
	r := New[uint32](3)
	require.NoError(t, r.Add(Peer[uint32]{ID: 7, Addrs: []string{"a:1"}}))

	dup := writeFile(t, "dup.yaml", "peers:\n  - id: 1\n    addrs: [\"b:1\"]\n  - id: 7\n    addrs: [\"c:1\"]\n")
	_, err := r.LoadFromFile(dup)
	assert.ErrorIs(t, err, transport.ErrPeerRegistry)
	assert.Equal(t, 1, r.Len())
	_, ok := r.Get(1)
	assert.False(t, ok)

	over := writeFile(t, "over.json", `{"peers":[{"id":1,"addrs":["b:1"]},{"id":2,"addrs":["c:1"]},{"id":3,"addrs":["d:1"]}]}`)
	_, err = r.LoadFromFile(over)
	assert.ErrorIs(t, err, transport.ErrCapacityExceeded)
	assert.Equal(t, 1, r.Len())

	n, err := r.LoadFromFile(writeFile(t, "ok.toml", "[[peers]]\nid = 1\naddrs = [\"b:1\"]\n"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 2, r.Len())
}

func TestLoadFromFileErrors(t *testing.T) {
	r := New[string](0)
	_, err := r.LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, transport.ErrIO)

	_, err = r.LoadFromFile(writeFile(t, "peers.ini", "x"))
	assert.ErrorIs(t, err, transport.ErrInvalidArgument)

	_, err = r.LoadFromFile(writeFile(t, "bad.json", `{"peers": [`))
	assert.ErrorIs(t, err, transport.ErrSerialization)

	_, err = r.LoadFromFile(writeFile(t, "noaddr.yaml", "peers:\n  - id: a\n"))
	assert.ErrorIs(t, err, transport.ErrPeerRegistry)
	assert.Zero(t, r.Len())
}
