package grpcupstream

import (
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/fd1az/upstream-gateway/business/upstream/domain"
)

// ChainRef selects the chain of a subscription.
type ChainRef struct {
	Type int32
}

// ChainHead is one element of the head stream.
type ChainHead struct {
	Chain     int32
	Height    uint64
	BlockID   string
	Timestamp uint64
	Weight    []byte
}

// ChainStatus is one element of the status stream.
type ChainStatus struct {
	Chain        int32
	Availability int32
	Quorum       uint32
}

// DescribeRequest is empty.
type DescribeRequest struct{}

// DescribeChain describes one chain served by the node.
type DescribeChain struct {
	Chain            int32
	SupportedMethods []string
	Status           *ChainStatus
}

// DescribeResponse lists every chain served by the node.
type DescribeResponse struct {
	Chains []DescribeChain
}

func field(md protoreflect.MessageDescriptor, name protoreflect.Name) protoreflect.FieldDescriptor {
	return md.Fields().ByName(name)
}

func (r *ChainRef) marshal() *dynamicpb.Message {
	m := dynamicpb.NewMessage(chainRefDesc)
	m.Set(field(chainRefDesc, "type"), protoreflect.ValueOfInt32(r.Type))
	return m
}

func unmarshalChainRef(m protoreflect.Message) *ChainRef {
	return &ChainRef{Type: int32(m.Get(field(chainRefDesc, "type")).Int())}
}

func (h *ChainHead) marshal() *dynamicpb.Message {
	m := dynamicpb.NewMessage(chainHeadDesc)
	m.Set(field(chainHeadDesc, "chain"), protoreflect.ValueOfInt32(h.Chain))
	m.Set(field(chainHeadDesc, "height"), protoreflect.ValueOfUint64(h.Height))
	m.Set(field(chainHeadDesc, "block_id"), protoreflect.ValueOfString(h.BlockID))
	m.Set(field(chainHeadDesc, "timestamp"), protoreflect.ValueOfUint64(h.Timestamp))
	m.Set(field(chainHeadDesc, "weight"), protoreflect.ValueOfBytes(h.Weight))
	return m
}

func unmarshalChainHead(m protoreflect.Message) *ChainHead {
	return &ChainHead{
		Chain:     int32(m.Get(field(chainHeadDesc, "chain")).Int()),
		Height:    m.Get(field(chainHeadDesc, "height")).Uint(),
		BlockID:   m.Get(field(chainHeadDesc, "block_id")).String(),
		Timestamp: m.Get(field(chainHeadDesc, "timestamp")).Uint(),
		Weight:    append([]byte(nil), m.Get(field(chainHeadDesc, "weight")).Bytes()...),
	}
}

func (s *ChainStatus) marshal() *dynamicpb.Message {
	m := dynamicpb.NewMessage(chainStatusDesc)
	m.Set(field(chainStatusDesc, "chain"), protoreflect.ValueOfInt32(s.Chain))
	m.Set(field(chainStatusDesc, "availability"), protoreflect.ValueOfInt32(s.Availability))
	m.Set(field(chainStatusDesc, "quorum"), protoreflect.ValueOfUint32(s.Quorum))
	return m
}

func unmarshalChainStatus(m protoreflect.Message) *ChainStatus {
	return &ChainStatus{
		Chain:        int32(m.Get(field(chainStatusDesc, "chain")).Int()),
		Availability: int32(m.Get(field(chainStatusDesc, "availability")).Int()),
		Quorum:       uint32(m.Get(field(chainStatusDesc, "quorum")).Uint()),
	}
}

func (d *DescribeChain) marshal() *dynamicpb.Message {
	m := dynamicpb.NewMessage(describeChainDesc)
	m.Set(field(describeChainDesc, "chain"), protoreflect.ValueOfInt32(d.Chain))
	methods := m.Mutable(field(describeChainDesc, "supported_methods")).List()
	for _, name := range d.SupportedMethods {
		methods.Append(protoreflect.ValueOfString(name))
	}
	if d.Status != nil {
		m.Set(field(describeChainDesc, "status"), protoreflect.ValueOfMessage(d.Status.marshal()))
	}
	return m
}

func unmarshalDescribeChain(m protoreflect.Message) DescribeChain {
	out := DescribeChain{Chain: int32(m.Get(field(describeChainDesc, "chain")).Int())}
	methods := m.Get(field(describeChainDesc, "supported_methods")).List()
	for i := 0; i < methods.Len(); i++ {
		out.SupportedMethods = append(out.SupportedMethods, methods.Get(i).String())
	}
	if status := field(describeChainDesc, "status"); m.Has(status) {
		out.Status = unmarshalChainStatus(m.Get(status).Message())
	}
	return out
}

func (r *DescribeResponse) marshal() *dynamicpb.Message {
	m := dynamicpb.NewMessage(describeResponseDesc)
	chains := m.Mutable(field(describeResponseDesc, "chains")).List()
	for i := range r.Chains {
		chains.Append(protoreflect.ValueOfMessage(r.Chains[i].marshal()))
	}
	return m
}

func unmarshalDescribeResponse(m protoreflect.Message) *DescribeResponse {
	chains := m.Get(field(describeResponseDesc, "chains")).List()
	out := &DescribeResponse{Chains: make([]DescribeChain, 0, chains.Len())}
	for i := 0; i < chains.Len(); i++ {
		out.Chains = append(out.Chains, unmarshalDescribeChain(chains.Get(i).Message()))
	}
	return out
}

func (h *ChainHead) toDomain() domain.HeadNotification {
	return domain.HeadNotification{
		Height:  h.Height,
		Weight:  h.Weight,
		BlockID: h.BlockID,
	}
}

func (s *ChainStatus) toDomain() domain.ChainStatus {
	return domain.ChainStatus{
		Chain:        domain.Chain(s.Chain),
		Availability: s.Availability,
		Quorum:       int32(s.Quorum),
	}
}

func (d *DescribeChain) toDomain() domain.DescribeChain {
	out := domain.DescribeChain{
		Chain:            domain.Chain(d.Chain),
		SupportedTargets: append([]string(nil), d.SupportedMethods...),
	}
	if d.Status != nil {
		st := d.Status.toDomain()
		if st.Chain == domain.ChainUnspecified {
			st.Chain = out.Chain
		}
		out.Status = &st
	}
	return out
}
