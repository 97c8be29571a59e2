package opc

import (
	"github.com/gopcua/opcua/ua"
)

// Field is one named member of a structured upstream value.
type Field struct {
	Name  string
	Value any
}

// FieldLister is implemented by decoded composite values that expose their
// declared fields, in declaration order, for wire serialization. Decoded
// vendor structures registered with the OPC UA codec implement it instead of
// relying on runtime type inspection.
type FieldLister interface {
	DeclaredFields() []Field
}

// Flatten turns a decoded upstream value into plain maps, slices and scalars
// suitable for JSON encoding. Composite values become one key per declared
// field, recursively for nested structures.
func Flatten(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case FieldLister:
		out := make(map[string]any, len(x.DeclaredFields()))
		for _, f := range x.DeclaredFields() {
			out[f.Name] = Flatten(f.Value)
		}
		return out
	case *ua.DataValue:
		if x == nil {
			return nil
		}
		return Flatten(x.Value)
	case *ua.Variant:
		if x == nil {
			return nil
		}
		return Flatten(x.Value())
	case *ua.ExtensionObject:
		if x == nil {
			return nil
		}
		return Flatten(x.Value)
	case *ua.LocalizedText:
		if x == nil {
			return nil
		}
		return x.Text
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = Flatten(val)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = Flatten(val)
		}
		return out
	case []*ua.ExtensionObject:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = Flatten(val)
		}
		return out
	case []*ua.Variant:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = Flatten(val)
		}
		return out
	default:
		return v
	}
}
