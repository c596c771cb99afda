package cloudevent

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"
)

// The protobuf shape of the key envelope is built at runtime so the bridge
// needs no generated code. Field numbers are fixed and must never change.
var protoDescriptor = buildDescriptor()

func buildDescriptor() protoreflect.MessageDescriptor {
	stringField := func(name string, number int32) *descriptorpb.FieldDescriptorProto {
		return &descriptorpb.FieldDescriptorProto{
			Name:     proto.String(name),
			Number:   proto.Int32(number),
			Type:     descriptorpb.FieldDescriptorProto_TYPE_STRING.Enum(),
			Label:    descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
			JsonName: proto.String(name),
		}
	}

	file := &descriptorpb.FileDescriptorProto{
		Name:    proto.String("testprobe/cloudevent.proto"),
		Package: proto.String("testprobe.events"),
		Syntax:  proto.String("proto3"),
		MessageType: []*descriptorpb.DescriptorProto{{
			Name: proto.String("CloudEvent"),
			Field: []*descriptorpb.FieldDescriptorProto{
				stringField("id", 1),
				stringField("source", 2),
				stringField("specversion", 3),
				stringField("type", 4),
				stringField("time", 5),
				stringField("subject", 6),
				stringField("datacontenttype", 7),
				stringField("correlationid", 8),
				stringField("payloadversion", 9),
				{
					Name:           proto.String("time_epoch_micro_source"),
					Number:         proto.Int32(10),
					Type:           descriptorpb.FieldDescriptorProto_TYPE_INT64.Enum(),
					Label:          descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
					JsonName:       proto.String("timeEpochMicroSource"),
					Proto3Optional: proto.Bool(true),
					OneofIndex:     proto.Int32(0),
				},
			},
			// Synthetic oneof carrying proto3 presence for the nullable long.
			OneofDecl: []*descriptorpb.OneofDescriptorProto{
				{Name: proto.String("_time_epoch_micro_source")},
			},
		}},
	}

	fd, err := protodesc.NewFile(file, nil)
	if err != nil {
		panic(fmt.Sprintf("cloudevent: invalid proto descriptor: %v", err))
	}
	return fd.Messages().Get(0)
}

// ToDynamicMessage converts the key into a dynamic protobuf message.
func ToDynamicMessage(k Key) *dynamicpb.Message {
	msg := dynamicpb.NewMessage(protoDescriptor)
	fields := protoDescriptor.Fields()

	setString := func(name, value string) {
		if value != "" {
			msg.Set(fields.ByName(protoreflect.Name(name)), protoreflect.ValueOfString(value))
		}
	}
	setString("id", k.ID)
	setString("source", k.Source)
	setString("specversion", k.SpecVersion)
	setString("type", k.Type)
	setString("time", k.Time)
	setString("subject", k.Subject)
	setString("datacontenttype", k.DataContentType)
	setString("correlationid", k.CorrelationID)
	setString("payloadversion", k.PayloadVersion)
	if k.TimeEpochMicroSource != nil {
		msg.Set(fields.ByName("time_epoch_micro_source"), protoreflect.ValueOfInt64(*k.TimeEpochMicroSource))
	}
	return msg
}

// FromDynamicMessage converts a dynamic protobuf message back into a key.
func FromDynamicMessage(msg *dynamicpb.Message) Key {
	fields := protoDescriptor.Fields()
	getString := func(name string) string {
		return msg.Get(fields.ByName(protoreflect.Name(name))).String()
	}

	k := Key{
		ID:              getString("id"),
		Source:          getString("source"),
		SpecVersion:     getString("specversion"),
		Type:            getString("type"),
		Time:            getString("time"),
		Subject:         getString("subject"),
		DataContentType: getString("datacontenttype"),
		CorrelationID:   getString("correlationid"),
		PayloadVersion:  getString("payloadversion"),
	}
	epochField := fields.ByName("time_epoch_micro_source")
	if msg.Has(epochField) {
		micros := msg.Get(epochField).Int()
		k.TimeEpochMicroSource = &micros
	}
	return k
}

// MarshalProto encodes the key in protobuf wire format.
func MarshalProto(k Key) ([]byte, error) {
	data, err := proto.Marshal(ToDynamicMessage(k))
	if err != nil {
		return nil, fmt.Errorf("failed to encode cloud event key as protobuf: %w", err)
	}
	return data, nil
}

// UnmarshalProto decodes protobuf wire bytes into a key envelope.
func UnmarshalProto(data []byte) (Key, error) {
	msg := dynamicpb.NewMessage(protoDescriptor)
	if err := proto.Unmarshal(data, msg); err != nil {
		return Key{}, fmt.Errorf("failed to decode protobuf cloud event key: %w", err)
	}
	return FromDynamicMessage(msg), nil
}
