// Package codec provides the payload encodings transports use on the wire.
package codec

import (
	"fmt"
	"reflect"
	"strings"
)

// Codec marshals typed values. Implementations should be deterministic
// and safe for cross-node exchange.
type Codec interface {
	ContentType() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// Registry maps names and content types to codecs.
type Registry struct{ byType map[string]Codec }

// NewRegistry constructs a registry preloaded with JSON, CBOR and Protobuf.
func NewRegistry() (*Registry, error) {
	r := &Registry{byType: make(map[string]Codec)}
	r.Register(JSON())
	r.Register(Proto())
	c, err := CBOR()
	if err != nil {
		return nil, err
	}
	r.Register(c)
	return r, nil
}

// Register adds a codec.
func (r *Registry) Register(c Codec) { r.byType[c.ContentType()] = c }

// Get returns a codec by content type, or nil.
func (r *Registry) Get(contentType string) Codec { return r.byType[contentType] }

// ByName resolves a short name ("json", "cbor", "proto") or a content type.
func (r *Registry) ByName(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "cbor":
		name = ContentCBOR
	case "json":
		name = ContentJSON
	case "proto", "protobuf":
		name = ContentProto
	}
	if c := r.Get(name); c != nil {
		return c, nil
	}
	return nil, fmt.Errorf("codec: unknown codec %q", name)
}

// Content types of the built-in codecs.
const (
	ContentJSON  = "application/json"
	ContentCBOR  = "application/cbor"
	ContentProto = "application/x-protobuf"
)

// Decode unmarshals data into a fresh T. When T is a pointer type the
// pointee is allocated, so protobuf messages (*pb.Msg) decode in place.
func Decode[T any](c Codec, data []byte) (T, error) {
	var v T
	if rt := reflect.TypeFor[T](); rt.Kind() == reflect.Pointer {
		v = reflect.New(rt.Elem()).Interface().(T)
		return v, c.Unmarshal(data, v)
	}
	err := c.Unmarshal(data, &v)
	return v, err
}
