package main

import (
	"context"

	"github.com/Xveyn/baluhost-sync/internal/config"
	"github.com/Xveyn/baluhost-sync/internal/nasapi"
	"github.com/Xveyn/baluhost-sync/internal/netmon"
	"github.com/Xveyn/baluhost-sync/internal/sync"
)

// app bundles the wired subsystem for one command invocation.
type app struct {
	store   *sync.Store
	hub     *sync.Hub
	client  *nasapi.Client
	service *sync.Service
	monitor *netmon.Monitor
}

// newApp wires the full stack from the loaded configuration: token source,
// API client, store with migrations applied, and the engine/manager/service
// chain on top.
func newApp(ctx context.Context) (*app, error) {
	if err := requireServer(); err != nil {
		return nil, err
	}

	tokens := nasapi.NewRefreshingToken(
		cfg.Server.BaseURL, cfg.Server.AccessToken, cfg.Server.RefreshToken, nil)

	client := nasapi.NewClient(cfg.Server.BaseURL, tokens, nil, logger)

	hub := sync.NewHub()

	store, err := sync.OpenStore(ctx, cfg.Database.Path, hub, logger)
	if err != nil {
		return nil, err
	}

	tolerance := config.Duration(cfg.Sync.MtimeTolerance)

	scanner := sync.NewScanner(logger)
	detector := sync.NewDetector(tolerance, logger)
	resolver := sync.NewResolver(tolerance, logger)
	uploader := sync.NewUploader(store, client, cfg.Sync.ChunkSize, logger)
	manager := sync.NewManager(store, client, uploader, logger)
	engine := sync.NewEngine(store, scanner, detector, resolver, client, manager, logger)
	service := sync.NewService(store, engine, manager, hub, logger)

	monitor := netmon.New(client.Health, config.Duration(cfg.Network.ProbeInterval), logger)

	return &app{
		store:   store,
		hub:     hub,
		client:  client,
		service: service,
		monitor: monitor,
	}, nil
}

// close releases the app's resources.
func (a *app) close() error {
	return a.store.Close()
}
