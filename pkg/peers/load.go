package peers

import (
	"bytes"
	"cmp"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"peerlink/pkg/transport"
)

// File is the on-disk peer list:
//
//	peers:
//	  - id: 1
//	    addrs: ["127.0.0.1:9001"]
type File[ID cmp.Ordered] struct {
	Peers []Peer[ID] `json:"peers" yaml:"peers" toml:"peers"`
}

// ReadFile decodes a peer file. The format follows the extension: .json,
// .yaml/.yml or .toml.
func ReadFile[ID cmp.Ordered](path string) ([]Peer[ID], error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, transport.NewError(transport.CodeIO, "peers.load", path, err)
	}
	var f File[ID]
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(b))
		dec.DisallowUnknownFields()
		err = dec.Decode(&f)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &f)
	case ".toml":
		err = toml.Unmarshal(b, &f)
	default:
		return nil, transport.Errorf(transport.CodeInvalidArgument, "peers.load", "unsupported peer file extension %q", ext)
	}
	if err != nil {
		return nil, transport.NewError(transport.CodeSerialization, "peers.load", path, err)
	}
	return f.Peers, nil
}

// LoadFromFile adds every peer in path. Either all peers are added or, on
// the first invalid, duplicate or over-capacity entry, none are.
func (r *Registry[ID]) LoadFromFile(path string) (int, error) {
	list, err := ReadFile[ID](path)
	if err != nil {
		return 0, err
	}
	for _, p := range list {
		if err := validate(p); err != nil {
			return 0, err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	n, index := len(r.peers), make(map[ID]int, len(r.index))
	for k, v := range r.index {
		index[k] = v
	}
	for _, p := range list {
		if err := r.addLocked(p); err != nil {
			r.peers = r.peers[:n]
			r.index = index
			return 0, err
		}
	}
	return len(list), nil
}
