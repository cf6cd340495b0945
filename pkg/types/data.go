package types

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"
)

// Data is a type-erased runtime value: a dynamic protobuf message tagged
// with its descriptor. It is a move-once value — created per message,
// request, or response, handed to exactly one callback or proxy call, and
// never shared mutably. Fan-out paths must Clone before handing the same
// payload to a second consumer.
type Data struct {
	msg *dynamicpb.Message
}

// NewData creates an empty value of the given message type.
func NewData(md protoreflect.MessageDescriptor) *Data {
	return &Data{msg: dynamicpb.NewMessage(md)}
}

// Unmarshal decodes proto wire bytes into a new value of the given type.
func Unmarshal(md protoreflect.MessageDescriptor, b []byte) (*Data, error) {
	d := NewData(md)
	if err := proto.Unmarshal(b, d.msg); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", md.FullName(), err)
	}
	return d, nil
}

// Marshal encodes the value to proto wire bytes.
func (d *Data) Marshal() ([]byte, error) {
	b, err := proto.Marshal(d.msg)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", d.TypeName(), err)
	}
	return b, nil
}

// Descriptor returns the message descriptor this value conforms to.
func (d *Data) Descriptor() protoreflect.MessageDescriptor {
	return d.msg.Descriptor()
}

// TypeName returns the qualified type name. Type identity throughout the
// bridge is equality of this name.
func (d *Data) TypeName() string {
	return string(d.msg.Descriptor().FullName())
}

// Is reports whether the value conforms to the named type.
func (d *Data) Is(md protoreflect.MessageDescriptor) bool {
	return d.msg.Descriptor().FullName() == md.FullName()
}

// Message exposes the underlying dynamic message for transports that speak
// proto natively (e.g. gRPC codecs).
func (d *Data) Message() *dynamicpb.Message {
	return d.msg
}

// Clone returns a deep copy. Used by the router when one inbound message
// fans out to more than one publisher.
func (d *Data) Clone() *Data {
	return &Data{msg: proto.Clone(d.msg).(*dynamicpb.Message)}
}

// Set assigns a scalar field by name, coercing common Go values to the
// field's kind. It exists for adapters and tests that build values by hand;
// bulk population goes through Unmarshal.
func (d *Data) Set(field string, value interface{}) error {
	fd := d.msg.Descriptor().Fields().ByName(protoreflect.Name(field))
	if fd == nil {
		return fmt.Errorf("%s has no field %q", d.TypeName(), field)
	}
	v, err := scalarValue(fd, value)
	if err != nil {
		return fmt.Errorf("field %s.%s: %w", d.TypeName(), field, err)
	}
	d.msg.Set(fd, v)
	return nil
}

// Get reads a scalar field by name.
func (d *Data) Get(field string) (interface{}, error) {
	fd := d.msg.Descriptor().Fields().ByName(protoreflect.Name(field))
	if fd == nil {
		return nil, fmt.Errorf("%s has no field %q", d.TypeName(), field)
	}
	return d.msg.Get(fd).Interface(), nil
}

func scalarValue(fd protoreflect.FieldDescriptor, value interface{}) (protoreflect.Value, error) {
	switch fd.Kind() {
	case protoreflect.StringKind:
		s, ok := value.(string)
		if !ok {
			return protoreflect.Value{}, fmt.Errorf("want string, got %T", value)
		}
		return protoreflect.ValueOfString(s), nil
	case protoreflect.BoolKind:
		b, ok := value.(bool)
		if !ok {
			return protoreflect.Value{}, fmt.Errorf("want bool, got %T", value)
		}
		return protoreflect.ValueOfBool(b), nil
	case protoreflect.BytesKind:
		b, ok := value.([]byte)
		if !ok {
			return protoreflect.Value{}, fmt.Errorf("want []byte, got %T", value)
		}
		return protoreflect.ValueOfBytes(b), nil
	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind:
		n, err := asInt64(value)
		if err != nil {
			return protoreflect.Value{}, err
		}
		return protoreflect.ValueOfInt32(int32(n)), nil
	case protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind:
		n, err := asInt64(value)
		if err != nil {
			return protoreflect.Value{}, err
		}
		return protoreflect.ValueOfInt64(n), nil
	case protoreflect.Uint32Kind, protoreflect.Fixed32Kind:
		n, err := asInt64(value)
		if err != nil {
			return protoreflect.Value{}, err
		}
		return protoreflect.ValueOfUint32(uint32(n)), nil
	case protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		n, err := asInt64(value)
		if err != nil {
			return protoreflect.Value{}, err
		}
		return protoreflect.ValueOfUint64(uint64(n)), nil
	case protoreflect.FloatKind:
		f, err := asFloat64(value)
		if err != nil {
			return protoreflect.Value{}, err
		}
		return protoreflect.ValueOfFloat32(float32(f)), nil
	case protoreflect.DoubleKind:
		f, err := asFloat64(value)
		if err != nil {
			return protoreflect.Value{}, err
		}
		return protoreflect.ValueOfFloat64(f), nil
	default:
		return protoreflect.Value{}, fmt.Errorf("unsupported field kind %s", fd.Kind())
	}
}

func asInt64(value interface{}) (int64, error) {
	switch n := value.(type) {
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint32:
		return int64(n), nil
	case uint64:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("want integer, got %T", value)
	}
}

func asFloat64(value interface{}) (float64, error) {
	switch f := value.(type) {
	case float32:
		return float64(f), nil
	case float64:
		return f, nil
	case int:
		return float64(f), nil
	default:
		return 0, fmt.Errorf("want float, got %T", value)
	}
}
