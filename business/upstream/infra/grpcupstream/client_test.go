package grpcupstream

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	"github.com/fd1az/upstream-gateway/business/upstream/domain"
	"github.com/fd1az/upstream-gateway/internal/apperror"
	"github.com/fd1az/upstream-gateway/internal/logger"
)

type fakeNode struct {
	heads    []*ChainHead
	statuses []*ChainStatus
	chains   []DescribeChain
	gotChain chan int32
	hold     bool // keep streams open until the client goes away
}

func (n *fakeNode) SubscribeHead(ref *ChainRef, stream HeadSender) error {
	n.gotChain <- ref.Type
	for _, h := range n.heads {
		if err := stream.Send(h); err != nil {
			return err
		}
	}
	if n.hold {
		<-stream.Context().Done()
	}
	return nil
}

func (n *fakeNode) SubscribeStatus(ref *ChainRef, stream StatusSender) error {
	n.gotChain <- ref.Type
	for _, s := range n.statuses {
		if err := stream.Send(s); err != nil {
			return err
		}
	}
	return nil
}

func (n *fakeNode) Describe(ctx context.Context, req *DescribeRequest) (*DescribeResponse, error) {
	if n.chains == nil {
		return nil, errors.New("describe disabled")
	}
	return &DescribeResponse{Chains: n.chains}, nil
}

func startNode(t *testing.T, node *fakeNode) *Client {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	RegisterNodeServer(srv, node)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	cfg := DefaultConfig("passthrough:///bufnet", "node-1")
	cfg.KeepaliveTime = 0
	client, err := Dial(cfg, logger.NewNop(),
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestClient_SubscribeHead(t *testing.T) {
	node := &fakeNode{
		gotChain: make(chan int32, 1),
		heads: []*ChainHead{
			{Chain: 100, Height: 100, Weight: []byte{0x0a}, BlockID: "aa"},
			{Chain: 100, Height: 101, Weight: []byte{0x01, 0x00}, BlockID: "bb"},
		},
	}
	client := startNode(t, node)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := client.SubscribeHead(ctx, domain.ChainEthereum)
	if err != nil {
		t.Fatalf("SubscribeHead: %v", err)
	}
	defer stream.Close()

	if got := <-node.gotChain; got != int32(domain.ChainEthereum) {
		t.Errorf("expected chain %d in request, got %d", domain.ChainEthereum, got)
	}

	first, err := stream.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if first.Height != 100 || first.BlockID != "aa" || len(first.Weight) != 1 || first.Weight[0] != 0x0a {
		t.Errorf("unexpected first head %+v", first)
	}

	second, err := stream.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if second.Height != 101 || len(second.Weight) != 2 {
		t.Errorf("unexpected second head %+v", second)
	}

	if _, err := stream.Recv(); !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF at end of stream, got %v", err)
	}
}

func TestClient_CloseEndsRecv(t *testing.T) {
	node := &fakeNode{gotChain: make(chan int32, 1), hold: true}
	client := startNode(t, node)

	stream, err := client.SubscribeHead(context.Background(), domain.ChainEthereum)
	if err != nil {
		t.Fatalf("SubscribeHead: %v", err)
	}
	<-node.gotChain

	errc := make(chan error, 1)
	go func() {
		_, err := stream.Recv()
		errc <- err
	}()

	_ = stream.Close()
	_ = stream.Close()

	select {
	case err := <-errc:
		if err == nil {
			t.Error("expected Recv to fail after Close")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Recv did not return after Close")
	}
}

func TestClient_SubscribeStatus(t *testing.T) {
	node := &fakeNode{
		gotChain: make(chan int32, 1),
		statuses: []*ChainStatus{{Chain: 101, Availability: 2, Quorum: 1}},
	}
	client := startNode(t, node)

	stream, err := client.SubscribeStatus(context.Background(), domain.ChainEthereumClassic)
	if err != nil {
		t.Fatalf("SubscribeStatus: %v", err)
	}
	defer stream.Close()

	st, err := stream.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if st.Chain != domain.ChainEthereumClassic || st.Availability != domain.CodeAvailabilityLagging || st.Quorum != 1 {
		t.Errorf("unexpected status %+v", st)
	}
}

func TestClient_Describe(t *testing.T) {
	node := &fakeNode{
		gotChain: make(chan int32, 1),
		chains: []DescribeChain{
			{
				Chain:            100,
				SupportedMethods: []string{"eth_call", "eth_getBalance"},
				Status:           &ChainStatus{Availability: 1, Quorum: 3},
			},
			{Chain: 101, SupportedMethods: []string{"eth_chainId"}},
		},
	}
	client := startNode(t, node)

	chains, err := client.Describe(context.Background())
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if len(chains) != 2 {
		t.Fatalf("expected 2 chains, got %d", len(chains))
	}

	eth := chains[0]
	if eth.Chain != domain.ChainEthereum || len(eth.SupportedTargets) != 2 {
		t.Errorf("unexpected chain %+v", eth)
	}
	if eth.Status == nil || eth.Status.Chain != domain.ChainEthereum || eth.Status.Availability != 1 {
		t.Errorf("expected status scoped to its chain, got %+v", eth.Status)
	}
	if chains[1].Status != nil {
		t.Errorf("expected no status for ETC, got %+v", chains[1].Status)
	}
}

func TestClient_DescribeError(t *testing.T) {
	client := startNode(t, &fakeNode{gotChain: make(chan int32, 1)})

	_, err := client.Describe(context.Background())
	if !apperror.HasCode(err, apperror.CodeUpstreamRPCError) {
		t.Fatalf("expected %s, got %v", apperror.CodeUpstreamRPCError, err)
	}
}

func TestDial_RequiresAddress(t *testing.T) {
	_, err := Dial(DefaultConfig("", "node-1"), logger.NewNop())
	if !apperror.HasCode(err, apperror.CodeConfigurationError) {
		t.Fatalf("expected %s, got %v", apperror.CodeConfigurationError, err)
	}
}
