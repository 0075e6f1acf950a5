package entity

import (
	"encoding/json"
	"fmt"
)

// DataType tags the encoding of Data bytes.
type DataType string

const (
	DataNull  DataType = ""
	DataJSON  DataType = "json"
	DataBytes DataType = "bytes"
)

// Data is an opaque payload (input or output) with a type tag. The engine
// never inspects the bytes.
type Data struct {
	Type  DataType `json:"type,omitempty" msgpack:"type,omitempty"`
	Bytes []byte   `json:"bytes,omitempty" msgpack:"bytes,omitempty"`
}

// JSON encodes v as JSON Data.
func JSON(v any) (Data, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return Data{}, fmt.Errorf("entity: encode data: %w", err)
	}
	return Data{Type: DataJSON, Bytes: b}, nil
}

// MustJSON is like JSON but panics on error. Use for literals in tests and
// examples.
func MustJSON(v any) Data {
	d, err := JSON(v)
	if err != nil {
		panic(err)
	}
	return d
}

// Bytes wraps raw bytes.
func Bytes(b []byte) Data {
	return Data{Type: DataBytes, Bytes: b}
}

// IsNull reports whether d carries no payload.
func (d Data) IsNull() bool {
	return d.Type == DataNull && len(d.Bytes) == 0
}

// Decode unmarshals JSON Data into v. Null data leaves v untouched.
func (d Data) Decode(v any) error {
	switch d.Type {
	case DataNull:
		return nil
	case DataJSON:
		if err := json.Unmarshal(d.Bytes, v); err != nil {
			return fmt.Errorf("entity: decode data: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("entity: cannot decode %q data", d.Type)
	}
}

// Clone returns a copy of d that shares no memory with it.
func (d Data) Clone() Data {
	if d.Bytes == nil {
		return d
	}
	d.Bytes = append([]byte(nil), d.Bytes...)
	return d
}
