package model

import (
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"gopkg.in/yaml.v3"
)

// On the wire a value is the pair [tag, literal] and a tuple is the flat
// sequence [e, a, value, tx]. The tag keeps decoding lossless across codecs
// that do not distinguish integers from floats or strings from keywords.

func (v Value) literal() interface{} {
	switch v.kind {
	case KindString, KindKeyword:
		return v.s
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindBool:
		return v.b
	}
	return nil
}

func (v Value) wire() ([]interface{}, error) {
	tag, ok := kindTags[v.kind]
	if !ok {
		return nil, fmt.Errorf("cannot encode invalid value kind %d", v.kind)
	}
	return []interface{}{tag, v.literal()}, nil
}

// decodeLiteral fills v from a tag and a decoder for the literal part.
func (v *Value) decodeLiteral(tag string, decode func(target interface{}) error) error {
	kind, ok := kindFromTag(tag)
	if !ok {
		return fmt.Errorf("unknown value tag %q", tag)
	}
	*v = Value{kind: kind}
	switch kind {
	case KindString, KindKeyword:
		return decode(&v.s)
	case KindInt:
		return decode(&v.i)
	case KindFloat:
		return decode(&v.f)
	case KindBool:
		return decode(&v.b)
	}
	return nil
}

func (t Tuple) wire() []interface{} {
	return []interface{}{t.E, t.A, t.V, t.Tx}
}

// decodeFields fills t from four field decoders.
func (t *Tuple) decodeFields(n int, decode func(i int, target interface{}) error) error {
	if n != 4 {
		return fmt.Errorf("tuple must have 4 fields, got %d", n)
	}
	targets := []interface{}{&t.E, &t.A, &t.V, &t.Tx}
	for i, target := range targets {
		if err := decode(i, target); err != nil {
			return fmt.Errorf("tuple field %d: %w", i, err)
		}
	}
	return nil
}

// JSON

func (v Value) MarshalJSON() ([]byte, error) {
	w, err := v.wire()
	if err != nil {
		return nil, err
	}
	return json.Marshal(w)
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	if len(parts) != 2 {
		return fmt.Errorf("value must be a [tag, literal] pair, got %d elements", len(parts))
	}
	var tag string
	if err := json.Unmarshal(parts[0], &tag); err != nil {
		return err
	}
	return v.decodeLiteral(tag, func(target interface{}) error {
		return json.Unmarshal(parts[1], target)
	})
}

func (t Tuple) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.wire())
}

func (t *Tuple) UnmarshalJSON(data []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	return t.decodeFields(len(parts), func(i int, target interface{}) error {
		return json.Unmarshal(parts[i], target)
	})
}

// YAML

func (v Value) MarshalYAML() (interface{}, error) {
	return v.wire()
}

func (v *Value) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.SequenceNode || len(node.Content) != 2 {
		return fmt.Errorf("line %d: value must be a [tag, literal] pair", node.Line)
	}
	var tag string
	if err := node.Content[0].Decode(&tag); err != nil {
		return err
	}
	return v.decodeLiteral(tag, node.Content[1].Decode)
}

func (t Tuple) MarshalYAML() (interface{}, error) {
	return t.wire(), nil
}

func (t *Tuple) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.SequenceNode {
		return fmt.Errorf("line %d: tuple must be a sequence", node.Line)
	}
	return t.decodeFields(len(node.Content), func(i int, target interface{}) error {
		return node.Content[i].Decode(target)
	})
}

// CBOR

func (v Value) MarshalCBOR() ([]byte, error) {
	w, err := v.wire()
	if err != nil {
		return nil, err
	}
	return cbor.Marshal(w)
}

func (v *Value) UnmarshalCBOR(data []byte) error {
	var parts []cbor.RawMessage
	if err := cbor.Unmarshal(data, &parts); err != nil {
		return err
	}
	if len(parts) != 2 {
		return fmt.Errorf("value must be a [tag, literal] pair, got %d elements", len(parts))
	}
	var tag string
	if err := cbor.Unmarshal(parts[0], &tag); err != nil {
		return err
	}
	return v.decodeLiteral(tag, func(target interface{}) error {
		return cbor.Unmarshal(parts[1], target)
	})
}

func (t Tuple) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(t.wire())
}

func (t *Tuple) UnmarshalCBOR(data []byte) error {
	var parts []cbor.RawMessage
	if err := cbor.Unmarshal(data, &parts); err != nil {
		return err
	}
	return t.decodeFields(len(parts), func(i int, target interface{}) error {
		return cbor.Unmarshal(parts[i], target)
	})
}
