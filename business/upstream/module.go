// Package upstream implements the upstream bounded context: remote node
// connections, head selection and availability.
package upstream

import (
	"context"
	"fmt"

	"github.com/fd1az/upstream-gateway/business/upstream/app"
	upstreamDI "github.com/fd1az/upstream-gateway/business/upstream/di"
	"github.com/fd1az/upstream-gateway/business/upstream/domain"
	"github.com/fd1az/upstream-gateway/business/upstream/infra/ethrpc"
	"github.com/fd1az/upstream-gateway/business/upstream/infra/ethws"
	"github.com/fd1az/upstream-gateway/business/upstream/infra/grpcupstream"
	"github.com/fd1az/upstream-gateway/internal/config"
	"github.com/fd1az/upstream-gateway/internal/di"
	"github.com/fd1az/upstream-gateway/internal/logger"
	"github.com/fd1az/upstream-gateway/internal/monolith"
)

// Module implements the upstream bounded context.
type Module struct{}

func deps(sr di.ServiceRegistry) (*config.Config, logger.LoggerInterface) {
	return sr.Get(monolith.ConfigService).(*config.Config), sr.Get(monolith.LoggerService).(logger.LoggerInterface)
}

// RegisterServices registers all upstream services with the DI container.
func (m *Module) RegisterServices(c di.Container) error {
	// Call clients (private)
	di.RegisterToken(c, upstreamDI.RemoteAPIs, func(sr di.ServiceRegistry) map[string]*ethrpc.Client {
		cfg, log := deps(sr)

		apis := make(map[string]*ethrpc.Client, len(cfg.Upstreams))
		for _, u := range cfg.Upstreams {
			rpcCfg := ethrpc.DefaultConfig(u.RPCURL, u.ID)
			rpcCfg.RequestsPerSecond = u.RequestsPerSecond

			client, err := ethrpc.Dial(context.Background(), rpcCfg, log)
			if err != nil {
				panic("failed to create rpc client for " + u.ID + ": " + err.Error())
			}
			apis[u.ID] = client
		}
		return apis
	})

	// gRPC node clients (private)
	di.RegisterToken(c, upstreamDI.GRPCClients, func(sr di.ServiceRegistry) map[string]*grpcupstream.Client {
		cfg, log := deps(sr)

		clients := make(map[string]*grpcupstream.Client)
		for _, u := range cfg.Upstreams {
			if u.Source != config.SourceGRPC {
				continue
			}
			client, err := grpcupstream.Dial(grpcupstream.DefaultConfig(u.GRPCAddress, u.ID), log)
			if err != nil {
				panic("failed to create grpc client for " + u.ID + ": " + err.Error())
			}
			clients[u.ID] = client
		}
		return clients
	})

	// Head streams, by source (private)
	di.RegisterToken(c, upstreamDI.HeadSources, func(sr di.ServiceRegistry) map[string]app.HeadStreamer {
		cfg, log := deps(sr)
		grpcClients := upstreamDI.GetGRPCClients(sr)

		sources := make(map[string]app.HeadStreamer, len(cfg.Upstreams))
		for _, u := range cfg.Upstreams {
			if client, ok := grpcClients[u.ID]; ok {
				sources[u.ID] = client
				continue
			}
			streamer, err := ethws.NewStreamer(ethws.DefaultConfig(u.WSURL, u.ID), log)
			if err != nil {
				panic("failed to create ws streamer for " + u.ID + ": " + err.Error())
			}
			sources[u.ID] = streamer
		}
		return sources
	})

	// UpstreamService (public)
	di.RegisterToken(c, upstreamDI.UpstreamService, func(sr di.ServiceRegistry) *app.UpstreamService {
		cfg, log := deps(sr)
		apis := upstreamDI.GetRemoteAPIs(sr)
		sources := upstreamDI.GetHeadSources(sr)
		grpcClients := upstreamDI.GetGRPCClients(sr)

		svc := app.NewUpstreamService(log)
		for _, uc := range cfg.Upstreams {
			u, err := newUpstream(uc, sources[uc.ID], apis[uc.ID], log)
			if err != nil {
				panic(err.Error())
			}
			if err := svc.Add(u); err != nil {
				panic(err.Error())
			}

			if client, ok := grpcClients[uc.ID]; ok {
				feed, err := app.NewStatusFeed(u, client, nil, log)
				if err != nil {
					panic(err.Error())
				}
				svc.AddStatusFeed(feed)
			}
		}
		return svc
	})

	return nil
}

func newUpstream(uc config.UpstreamConfig, streamer app.HeadStreamer, api *ethrpc.Client, log logger.LoggerInterface) (*app.Upstream, error) {
	chain, err := domain.ChainByCode(uc.Chain)
	if err != nil {
		return nil, fmt.Errorf("upstream %s: %w", uc.ID, err)
	}

	return app.NewUpstream(app.UpstreamConfig{
		ID:    uc.ID,
		Chain: chain,
		Options: domain.Options{
			RetryInterval:     uc.RetryInterval,
			FetchTimeout:      uc.FetchTimeout,
			SubscriberBuffer:  uc.SubscriberBuffer,
			MinPeers:          uc.MinPeers,
			DisableValidation: uc.DisableValidation,
		},
	}, streamer, api, log)
}

// resolve builds the service graph, turning factory panics into an error.
func resolve(sr di.ServiceRegistry) (svc *app.UpstreamService, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("build upstreams: %v", r)
		}
	}()
	return upstreamDI.GetUpstreamService(sr), nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// Startup describes every gRPC upstream and connects all of them.
func (m *Module) Startup(ctx context.Context, mono monolith.Monolith) error {
	log := mono.Logger()

	svc, err := resolve(mono.Services())
	if err != nil {
		return err
	}

	for _, client := range upstreamDI.GetRemoteAPIs(mono.Services()) {
		mono.OnClose(closerFunc(func() error { client.Close(); return nil }))
	}

	grpcClients := upstreamDI.GetGRPCClients(mono.Services())
	for _, client := range grpcClients {
		mono.OnClose(client)
	}

	for _, u := range svc.All() {
		client, ok := grpcClients[u.ID()]
		if !ok {
			continue
		}
		// The upstream still connects when Describe fails; it serves no targets until described.
		if err := svc.Describe(ctx, u, client); err != nil {
			log.Error(ctx, "failed to describe upstream", "upstream", u.ID(), "error", err)
		}
	}

	svc.StartAll(ctx)

	log.Info(ctx, "upstream module started", "upstreams", len(svc.All()), "chains", len(svc.Chains()))
	return nil
}
