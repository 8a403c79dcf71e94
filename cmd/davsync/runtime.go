package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cyp0633/libcaldora-sync/davclient"
	"github.com/cyp0633/libcaldora-sync/network"
	"github.com/cyp0633/libcaldora-sync/store/sqlite"
	"github.com/cyp0633/libcaldora-sync/syncengine"
)

const probeTimeout = 5 * time.Second

// runtime is the wired engine behind every command that talks to the server.
type runtime struct {
	store   *sqlite.Store
	client  *davclient.Client
	monitor *network.Monitor
	engine  *syncengine.Engine
}

func (c *cli) openStore() (*sqlite.Store, error) {
	s, err := sqlite.Open(c.cfg.Store.Path, c.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache %s: %w", c.cfg.Store.Path, err)
	}
	return s, nil
}

// openRuntime wires the store, the DAV client, the network monitor and the
// engine. Unless --offline is set the server is probed once so the engine
// starts with the right connectivity state.
func (c *cli) openRuntime(ctx context.Context) (*runtime, error) {
	if err := c.cfg.RequireServer(); err != nil {
		return nil, err
	}

	httpClient := &http.Client{Timeout: c.cfg.Server.Timeout}
	client, err := davclient.New(davclient.Config{
		URL:        c.cfg.Server.URL,
		Username:   c.cfg.Server.Username,
		Password:   c.cfg.Server.Password,
		UserAgent:  c.cfg.Server.UserAgent,
		HTTPClient: httpClient,
		Logger:     c.logger.With("component", "davclient"),
	})
	if err != nil {
		return nil, err
	}

	prober := &network.HTTPProber{Client: httpClient, URL: c.cfg.Server.URL}
	online := false
	if !c.offline {
		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		err := prober.Probe(probeCtx)
		cancel()
		if err != nil {
			c.logger.Warn("server unreachable, working from cache", "error", err)
		}
		online = err == nil
	}
	monitor := network.New(online,
		network.WithLogger(c.logger.With("component", "network")),
		network.WithProber(prober),
		network.WithProbeInterval(c.cfg.Network.ProbeInterval),
	)

	s, err := c.openStore()
	if err != nil {
		return nil, err
	}
	engine, err := syncengine.New(syncengine.Config{
		Client:           client,
		Store:            s,
		Monitor:          monitor,
		Logger:           c.logger.With("component", "syncengine"),
		RefreshThreshold: c.cfg.Sync.RefreshThreshold,
		MaxCacheAge:      c.cfg.Sync.MaxCacheAge,
	})
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	return &runtime{store: s, client: client, monitor: monitor, engine: engine}, nil
}

func (r *runtime) Close() error {
	return errors.Join(r.engine.Close(), r.store.Close())
}
