// Package di contains dependency injection tokens for the upstream context.
package di

import (
	"github.com/fd1az/upstream-gateway/business/upstream/app"
	"github.com/fd1az/upstream-gateway/business/upstream/infra/ethrpc"
	"github.com/fd1az/upstream-gateway/business/upstream/infra/grpcupstream"
	"github.com/fd1az/upstream-gateway/internal/di"
)

// Public service tokens - exposed to other modules
var (
	UpstreamService = di.NewToken[*app.UpstreamService]("upstream.UpstreamService")
)

// Private dependency tokens - internal to the upstream module, keyed by upstream id
var (
	RemoteAPIs  = di.NewToken[map[string]*ethrpc.Client]("upstream:remoteAPIs")
	GRPCClients = di.NewToken[map[string]*grpcupstream.Client]("upstream:grpcClients")
	HeadSources = di.NewToken[map[string]app.HeadStreamer]("upstream:headSources")
)

func GetUpstreamService(c di.ServiceRegistry) *app.UpstreamService {
	return di.GetToken(c, UpstreamService)
}

func GetRemoteAPIs(c di.ServiceRegistry) map[string]*ethrpc.Client {
	return di.GetToken(c, RemoteAPIs)
}

func GetGRPCClients(c di.ServiceRegistry) map[string]*grpcupstream.Client {
	return di.GetToken(c, GRPCClients)
}

func GetHeadSources(c di.ServiceRegistry) map[string]app.HeadStreamer {
	return di.GetToken(c, HeadSources)
}
