// Package codec turns stored payloads into bytes and back.
package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
	"gopkg.in/yaml.v3"

	"github.com/devrev/pairdb/indexstore/internal/model"
)

// Codec encodes payloads for a store.
type Codec interface {
	Name() string
	Marshal(p *model.Payload) ([]byte, error)
	Unmarshal(data []byte) (*model.Payload, error)
}

// WriteFunc streams one payload to w.
type WriteFunc func(w io.Writer, p *model.Payload) error

// ReadFunc decodes one payload from r.
type ReadFunc func(r io.Reader) (*model.Payload, error)

const (
	NameJSON = "json"
	NameYAML = "yaml"
	NameCBOR = "cbor"
)

// ByName returns the codec registered under name. An empty name selects JSON.
func ByName(name string) (Codec, error) {
	switch name {
	case "", NameJSON:
		return JSON(), nil
	case NameYAML:
		return YAML(), nil
	case NameCBOR:
		return CBOR()
	}
	return nil, fmt.Errorf("unknown codec %q", name)
}

// Writer adapts c to a WriteFunc.
func Writer(c Codec) WriteFunc {
	return func(w io.Writer, p *model.Payload) error {
		data, err := c.Marshal(p)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	}
}

// Reader adapts c to a ReadFunc.
func Reader(c Codec) ReadFunc {
	return func(r io.Reader) (*model.Payload, error) {
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, err
		}
		return c.Unmarshal(data)
	}
}

type jsonCodec struct{}

// JSON is the default, plain-text codec.
func JSON() Codec { return jsonCodec{} }

func (jsonCodec) Name() string { return NameJSON }

func (jsonCodec) Marshal(p *model.Payload) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(p); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (jsonCodec) Unmarshal(data []byte) (*model.Payload, error) {
	var p model.Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

type yamlCodec struct{}

func YAML() Codec { return yamlCodec{} }

func (yamlCodec) Name() string { return NameYAML }

func (yamlCodec) Marshal(p *model.Payload) ([]byte, error) {
	return yaml.Marshal(p)
}

func (yamlCodec) Unmarshal(data []byte) (*model.Payload, error) {
	var p model.Payload
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

type cborCodec struct {
	enc cbor.EncMode
}

// CBOR encodes payloads in canonical CBOR.
func CBOR() (Codec, error) {
	enc, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("failed to build cbor encoder: %w", err)
	}
	return cborCodec{enc: enc}, nil
}

func (cborCodec) Name() string { return NameCBOR }

func (c cborCodec) Marshal(p *model.Payload) ([]byte, error) {
	return c.enc.Marshal(p)
}

func (cborCodec) Unmarshal(data []byte) (*model.Payload, error) {
	var p model.Payload
	if err := cbor.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}
