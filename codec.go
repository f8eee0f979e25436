package hudbus

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// Codec is the Strategy for converting typed payload structs to and from
// Fields.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
}

// JSONCodec is the default JSON implementation.
type JSONCodec struct{}

func (JSONCodec) Marshal(v any) ([]byte, error)   { return json.Marshal(v) }
func (JSONCodec) Unmarshal(b []byte, v any) error { return json.Unmarshal(b, v) }
func (JSONCodec) Name() string                    { return "json" }

// CodecFactory constructs codecs via Factory pattern.
type CodecFactory func() Codec

var (
	codecRegistryMu sync.RWMutex
	codecRegistry   = map[string]CodecFactory{
		"json": func() Codec { return JSONCodec{} },
	}
)

// RegisterCodec registers a codec factory by name.
func RegisterCodec(name string, factory CodecFactory) error {
	if name == "" {
		return errors.New("codec name must not be empty")
	}
	if factory == nil {
		return errors.New("codec factory must not be nil")
	}
	codecRegistryMu.Lock()
	codecRegistry[name] = factory
	codecRegistryMu.Unlock()
	return nil
}

// NewCodec constructs a codec by name or returns an error.
func NewCodec(name string) (Codec, error) {
	codecRegistryMu.RLock()
	f, ok := codecRegistry[name]
	codecRegistryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("codec %q not registered", name)
	}
	return f(), nil
}

// encodeFields flattens v into Fields. Maps pass through untouched.
func encodeFields(c Codec, v any) (Fields, error) {
	switch m := v.(type) {
	case nil:
		return Fields{}, nil
	case Fields:
		return m, nil
	case map[string]any:
		return Fields(m), nil
	}
	data, err := c.Marshal(v)
	if err != nil {
		return nil, err
	}
	var f Fields
	if err := c.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return f, nil
}

// DecodeCodec unmarshals a payload's fields into a typed value using c.
func DecodeCodec[T any](c Codec, p Payload) (T, error) {
	var v T
	data, err := c.Marshal(p.Fields)
	if err != nil {
		return v, err
	}
	if err := c.Unmarshal(data, &v); err != nil {
		return v, err
	}
	return v, nil
}

// Decode unmarshals a payload's fields into T with the JSON codec.
func Decode[T any](p Payload) (T, error) {
	return DecodeCodec[T](JSONCodec{}, p)
}
