package grpcupstream

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
)

const protoPackage = "upstream.v1"

// Message descriptors of upstream/v1/upstream.proto:
//
//	message ChainRef         { int32 type = 1; }
//	message ChainHead        { int32 chain = 1; uint64 height = 2; string block_id = 3; uint64 timestamp = 4; bytes weight = 5; }
//	message ChainStatus      { int32 chain = 1; int32 availability = 2; uint32 quorum = 3; }
//	message DescribeRequest  {}
//	message DescribeChain    { int32 chain = 1; repeated string supported_methods = 2; ChainStatus status = 3; }
//	message DescribeResponse { repeated DescribeChain chains = 1; }
var (
	chainRefDesc         protoreflect.MessageDescriptor
	chainHeadDesc        protoreflect.MessageDescriptor
	chainStatusDesc      protoreflect.MessageDescriptor
	describeRequestDesc  protoreflect.MessageDescriptor
	describeChainDesc    protoreflect.MessageDescriptor
	describeResponseDesc protoreflect.MessageDescriptor
)

func init() {
	fd, err := protodesc.NewFile(upstreamFile(), nil)
	if err != nil {
		panic(fmt.Sprintf("grpcupstream: build proto descriptors: %v", err))
	}
	msgs := fd.Messages()
	chainRefDesc = msgs.ByName("ChainRef")
	chainHeadDesc = msgs.ByName("ChainHead")
	chainStatusDesc = msgs.ByName("ChainStatus")
	describeRequestDesc = msgs.ByName("DescribeRequest")
	describeChainDesc = msgs.ByName("DescribeChain")
	describeResponseDesc = msgs.ByName("DescribeResponse")
}

func upstreamFile() *descriptorpb.FileDescriptorProto {
	const (
		int32T  = descriptorpb.FieldDescriptorProto_TYPE_INT32
		uint32T = descriptorpb.FieldDescriptorProto_TYPE_UINT32
		uint64T = descriptorpb.FieldDescriptorProto_TYPE_UINT64
		stringT = descriptorpb.FieldDescriptorProto_TYPE_STRING
		bytesT  = descriptorpb.FieldDescriptorProto_TYPE_BYTES
		msgT    = descriptorpb.FieldDescriptorProto_TYPE_MESSAGE
	)

	return &descriptorpb.FileDescriptorProto{
		Name:    proto.String("upstream/v1/upstream.proto"),
		Package: proto.String(protoPackage),
		Syntax:  proto.String("proto3"),
		MessageType: []*descriptorpb.DescriptorProto{
			message("ChainRef",
				scalar("type", 1, int32T),
			),
			message("ChainHead",
				scalar("chain", 1, int32T),
				scalar("height", 2, uint64T),
				scalar("block_id", 3, stringT),
				scalar("timestamp", 4, uint64T),
				scalar("weight", 5, bytesT),
			),
			message("ChainStatus",
				scalar("chain", 1, int32T),
				scalar("availability", 2, int32T),
				scalar("quorum", 3, uint32T),
			),
			message("DescribeRequest"),
			message("DescribeChain",
				scalar("chain", 1, int32T),
				repeated(scalar("supported_methods", 2, stringT)),
				ref(scalar("status", 3, msgT), "ChainStatus"),
			),
			message("DescribeResponse",
				repeated(ref(scalar("chains", 1, msgT), "DescribeChain")),
			),
		},
	}
}

func message(name string, fields ...*descriptorpb.FieldDescriptorProto) *descriptorpb.DescriptorProto {
	return &descriptorpb.DescriptorProto{Name: proto.String(name), Field: fields}
}

func scalar(name string, number int32, typ descriptorpb.FieldDescriptorProto_Type) *descriptorpb.FieldDescriptorProto {
	return &descriptorpb.FieldDescriptorProto{
		Name:   proto.String(name),
		Number: proto.Int32(number),
		Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
		Type:   typ.Enum(),
	}
}

func repeated(f *descriptorpb.FieldDescriptorProto) *descriptorpb.FieldDescriptorProto {
	f.Label = descriptorpb.FieldDescriptorProto_LABEL_REPEATED.Enum()
	return f
}

func ref(f *descriptorpb.FieldDescriptorProto, msg string) *descriptorpb.FieldDescriptorProto {
	f.TypeName = proto.String("." + protoPackage + "." + msg)
	return f
}
