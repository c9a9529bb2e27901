// Package domain defines the core domain models for GraphMesh.
package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Operation constraints.
const (
	MaxLabelLength    = 128
	MaxIDLength       = 256
	MaxPropertyCount  = 256
	MaxBatchOps       = 10000
	MaxPropertyKeyLen = 128
)

// OpKind identifies a graph mutation.
type OpKind uint8

const (
	OpUnspecified OpKind = iota
	OpAddVertex
	OpUpdateVertex
	OpDeleteVertex
	OpAddEdge
	OpUpdateEdge
	OpDeleteEdge
)

var opKindNames = map[OpKind]string{
	OpUnspecified:  "unspecified",
	OpAddVertex:    "add_vertex",
	OpUpdateVertex: "update_vertex",
	OpDeleteVertex: "delete_vertex",
	OpAddEdge:      "add_edge",
	OpUpdateEdge:   "update_edge",
	OpDeleteEdge:   "delete_edge",
}

// String returns the wire name of the kind.
func (k OpKind) String() string {
	if s, ok := opKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("op(%d)", uint8(k))
}

// MarshalText implements encoding.TextMarshaler.
func (k OpKind) MarshalText() ([]byte, error) {
	if _, ok := opKindNames[k]; !ok {
		return nil, fmt.Errorf("domain: unknown op kind %d", uint8(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *OpKind) UnmarshalText(text []byte) error {
	name := strings.ToLower(string(text))
	for kind, s := range opKindNames {
		if s == name {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("domain: unknown op kind %q", name)
}

// IsEdge reports whether the kind mutates an edge.
func (k OpKind) IsEdge() bool {
	return k == OpAddEdge || k == OpUpdateEdge || k == OpDeleteEdge
}

// IsDelete reports whether the kind removes an element.
func (k OpKind) IsDelete() bool {
	return k == OpDeleteVertex || k == OpDeleteEdge
}

// Operation is one graph mutation. Treat it as immutable once it is part of a batch.
type Operation struct {
	Kind        OpKind         `json:"kind" msgpack:"k"`
	PartitionID int32          `json:"partition_id" msgpack:"p"`
	Label       string         `json:"label" msgpack:"l"`
	ID          string         `json:"id" msgpack:"i"`
	SrcID       string         `json:"src_id,omitempty" msgpack:"s,omitempty"`
	DstID       string         `json:"dst_id,omitempty" msgpack:"d,omitempty"`
	Properties  map[string]any `json:"properties,omitempty" msgpack:"props,omitempty"`
}

// UnmarshalJSON decodes numeric properties as int64 when they are integral
// and as float64 otherwise, so large integers keep their exact value.
func (o *Operation) UnmarshalJSON(data []byte) error {
	type plain Operation
	var p plain
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&p); err != nil {
		return err
	}
	for k, v := range p.Properties {
		p.Properties[k] = normalizeNumbers(v)
	}
	*o = Operation(p)
	return nil
}

func normalizeNumbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case map[string]any:
		for k, e := range t {
			t[k] = normalizeNumbers(e)
		}
		return t
	case []any:
		for i, e := range t {
			t[i] = normalizeNumbers(e)
		}
		return t
	default:
		return v
	}
}

// Validate checks the operation against its kind.
// Returns ErrInvalidBatch with details on violation.
func (o Operation) Validate() error {
	var violations []string

	if _, ok := opKindNames[o.Kind]; !ok || o.Kind == OpUnspecified {
		violations = append(violations, fmt.Sprintf("kind %s is not a mutation", o.Kind))
	}
	if o.PartitionID < 0 {
		violations = append(violations, "partition_id must be non-negative")
	}
	if o.Label == "" {
		violations = append(violations, "label is required")
	}
	if len(o.Label) > MaxLabelLength {
		violations = append(violations, "label exceeds 128 characters")
	}
	if o.ID == "" {
		violations = append(violations, "id is required")
	}
	if len(o.ID) > MaxIDLength {
		violations = append(violations, "id exceeds 256 characters")
	}
	if o.Kind.IsEdge() && (o.SrcID == "" || o.DstID == "") {
		violations = append(violations, "edge requires src_id and dst_id")
	}
	if o.Kind.IsDelete() && len(o.Properties) > 0 {
		violations = append(violations, "delete carries no properties")
	}
	if len(o.Properties) > MaxPropertyCount {
		violations = append(violations, "too many properties")
	}
	for k := range o.Properties {
		if k == "" || len(k) > MaxPropertyKeyLen {
			violations = append(violations, fmt.Sprintf("invalid property key %q", k))
			break
		}
	}

	if len(violations) > 0 {
		return ErrInvalidBatch.WithDetails(strings.Join(violations, "; "))
	}
	return nil
}
