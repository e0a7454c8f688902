package codec

import (
	"encoding/json"

	"github.com/tidwall/pretty"
	"go.yaml.in/yaml/v3"
)

type jsonCodec[T any] struct {
	pretty bool
}

// JSON returns a human-readable text codec.
// It is the most tolerant of schema changes and the least compact.
func JSON[T any]() Codec[T] {
	return jsonCodec[T]{}
}

// PrettyJSON is like JSON but writes indented, multi-line values which
// is handy when the data is inspected by humans (e.g. in a dump).
func PrettyJSON[T any]() Codec[T] {
	return jsonCodec[T]{pretty: true}
}

func (c jsonCodec[T]) Name() string {
	if c.pretty {
		return "json.pretty"
	}
	return "json"
}

func (c jsonCodec[T]) Encode(v T) ([]byte, error) {
	d, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if c.pretty {
		d = pretty.Pretty(d)
	}
	return d, nil
}

func (jsonCodec[T]) Decode(d []byte) (T, error) {
	var v T
	err := json.Unmarshal(d, &v)
	return v, err
}

type yamlCodec[T any] struct{}

// YAML returns a human-readable text codec.
func YAML[T any]() Codec[T] {
	return yamlCodec[T]{}
}

func (yamlCodec[T]) Name() string {
	return "yaml"
}

func (yamlCodec[T]) Encode(v T) ([]byte, error) {
	return yaml.Marshal(v)
}

func (yamlCodec[T]) Decode(d []byte) (T, error) {
	var v T
	err := yaml.Unmarshal(d, &v)
	return v, err
}
