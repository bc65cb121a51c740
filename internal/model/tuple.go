package model

import (
	"cmp"
	"fmt"
	"strconv"
)

// ValueKind enumerates the scalar types a tuple value may hold.
type ValueKind uint8

const (
	KindString ValueKind = iota + 1
	KindInt
	KindFloat
	KindBool
	KindKeyword
)

var kindTags = map[ValueKind]string{
	KindString:  "s",
	KindInt:     "i",
	KindFloat:   "f",
	KindBool:    "b",
	KindKeyword: "k",
}

func kindFromTag(tag string) (ValueKind, bool) {
	for k, t := range kindTags {
		if t == tag {
			return k, true
		}
	}
	return 0, false
}

// Value is a typed scalar stored in the value position of a tuple.
// The zero Value is invalid.
type Value struct {
	kind ValueKind
	s    string
	i    int64
	f    float64
	b    bool
}

func StringValue(s string) Value { return Value{kind: KindString, s: s} }
func IntValue(i int64) Value { return Value{kind: KindInt, i: i} }
func FloatValue(f float64) Value { return Value{kind: KindFloat, f: f} }
func BoolValue(b bool) Value { return Value{kind: KindBool, b: b} }
func KeywordValue(k string) Value { return Value{kind: KindKeyword, s: k} }
func (v Value) Kind() ValueKind { return v.kind }
func (v Value) IsValid() bool { return kindTags[v.kind] != "" }
func (v Value) Str() string { return v.s }
func (v Value) Int() int64 { return v.i }
func (v Value) Float() float64 { return v.f }
func (v Value) Bool() bool { return v.b }

// Compare orders values by kind first, then by their natural order.
func (v Value) Compare(o Value) int {
	if c := cmp.Compare(v.kind, o.kind); c != 0 {
		return c
	}
	switch v.kind {
	case KindString, KindKeyword:
		return cmp.Compare(v.s, o.s)
	case KindInt:
		return cmp.Compare(v.i, o.i)
	case KindFloat:
		return cmp.Compare(v.f, o.f)
	case KindBool:
		switch {
		case v.b == o.b:
			return 0
		case !v.b:
			return -1
		default:
			return 1
		}
	}
	return 0
}

func (v Value) String() string {
	switch v.kind {
	case KindString:
		return strconv.Quote(v.s)
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindKeyword:
		return v.s
	}
	return "<invalid>"
}

// Tuple is one fact: entity, attribute, value and the transaction that added it.
type Tuple struct {
	E  int64
	A  string
	V  Value
	Tx int64
}

func (t Tuple) String() string {
	return fmt.Sprintf("[%d %s %s %d]", t.E, t.A, t.V, t.Tx)
}

// IndexType names one of the three orderings of the tuple set.
type IndexType uint8

const (
	EAVT IndexType = iota
	AEVT
	AVET
)

// Indexes lists all projections in storage order.
var Indexes = []IndexType{EAVT, AEVT, AVET}

func (i IndexType) String() string {
	switch i {
	case EAVT:
		return "eavt"
	case AEVT:
		return "aevt"
	case AVET:
		return "avet"
	}
	return "unknown"
}

// Comparator returns the strict total order for the index.
func (i IndexType) Comparator() func(a, b Tuple) int {
	switch i {
	case AEVT:
		return CompareAEVT
	case AVET:
		return CompareAVET
	default:
		return CompareEAVT
	}
}

func CompareEAVT(a, b Tuple) int {
	if c := cmp.Compare(a.E, b.E); c != 0 {
		return c
	}
	if c := cmp.Compare(a.A, b.A); c != 0 {
		return c
	}
	if c := a.V.Compare(b.V); c != 0 {
		return c
	}
	return cmp.Compare(a.Tx, b.Tx)
}

func CompareAEVT(a, b Tuple) int {
	if c := cmp.Compare(a.A, b.A); c != 0 {
		return c
	}
	if c := cmp.Compare(a.E, b.E); c != 0 {
		return c
	}
	if c := a.V.Compare(b.V); c != 0 {
		return c
	}
	return cmp.Compare(a.Tx, b.Tx)
}

func CompareAVET(a, b Tuple) int {
	if c := cmp.Compare(a.A, b.A); c != 0 {
		return c
	}
	if c := a.V.Compare(b.V); c != 0 {
		return c
	}
	if c := cmp.Compare(a.E, b.E); c != 0 {
		return c
	}
	return cmp.Compare(a.Tx, b.Tx)
}
