// Package container wires the long-running turnrouter services using
// go.uber.org/dig.
package container

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/dig"

	"github.com/neoclaw-ai/turnrouter/internal/agent"
	"github.com/neoclaw-ai/turnrouter/internal/config"
	"github.com/neoclaw-ai/turnrouter/internal/costs"
	"github.com/neoclaw-ai/turnrouter/internal/notify"
	"github.com/neoclaw-ai/turnrouter/internal/params"
	"github.com/neoclaw-ai/turnrouter/internal/payload"
	"github.com/neoclaw-ai/turnrouter/internal/runtime"
	"github.com/neoclaw-ai/turnrouter/internal/server"
	"github.com/neoclaw-ai/turnrouter/internal/store"
	"github.com/neoclaw-ai/turnrouter/internal/tools"
	"github.com/neoclaw-ai/turnrouter/internal/transport"
)

// Container holds the resolved service singletons. Callers use the typed
// getters and never import dig directly.
type Container struct {
	cfg      *config.Config
	store    *store.Store
	plugins  *tools.Registry
	hub      *notify.Hub
	service  *agent.Service
	recorder *costs.Recorder
	server   *server.Server
}

func (c *Container) Config() *config.Config    { return c.cfg }
func (c *Container) Store() *store.Store       { return c.store }
func (c *Container) Plugins() *tools.Registry  { return c.plugins }
func (c *Container) Hub() *notify.Hub          { return c.hub }
func (c *Container) Service() *agent.Service   { return c.service }
func (c *Container) Server() *server.Server    { return c.server }
func (c *Container) Recorder() *costs.Recorder { return c.recorder }

// New builds every service from cfg. ctx bounds MCP server startup.
func New(ctx context.Context, cfg *config.Config) (*Container, error) {
	d := dig.New()

	providers := []any{
		func() *config.Config { return cfg },
		func() context.Context { return ctx },
		newHTTPClient,
		newStore,
		newHub,
		newTransports,
		newPlugins,
		newRecorder,
		newRunner,
		runtime.NewRegistry,
		newService,
		newServer,
	}
	for _, p := range providers {
		if err := d.Provide(p); err != nil {
			return nil, err
		}
	}

	var result *Container
	err := d.Invoke(func(
		st *store.Store,
		plugins *tools.Registry,
		hub *notify.Hub,
		svc *agent.Service,
		recorder *costs.Recorder,
		srv *server.Server,
	) {
		result = &Container{
			cfg:      cfg,
			store:    st,
			plugins:  plugins,
			hub:      hub,
			service:  svc,
			recorder: recorder,
			server:   srv,
		}
	})
	if err != nil {
		return nil, dig.RootCause(err)
	}
	return result, nil
}

// Close stops in-flight responses and releases plugins and the store.
func (c *Container) Close() error {
	c.service.StopAll()
	return errors.Join(c.plugins.Close(), c.store.Close())
}

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Minute}
}

func newStore(cfg *config.Config) (*store.Store, error) {
	return store.Open(cfg.DBPath())
}

func newHub() *notify.Hub {
	return notify.NewHub(notify.DefaultBuffer)
}

func newTransports(cfg *config.Config, client *http.Client) (*transport.Router, error) {
	return transport.NewRouter(cfg.Providers, client)
}

func newPlugins(ctx context.Context, cfg *config.Config, client *http.Client) *tools.Registry {
	return tools.NewDefaultRegistry(ctx, cfg.Plugins, client)
}

// newRecorder returns nil when usage accounting is disabled.
func newRecorder(cfg *config.Config) *costs.Recorder {
	if !cfg.Costs.Enabled {
		return nil
	}
	return costs.NewRecorder(costs.New(cfg.CostsPath()), costs.NewEstimator())
}

func newRunner(transports *transport.Router, plugins *tools.Registry, st *store.Store, hub *notify.Hub, recorder *costs.Recorder) *agent.Runner {
	var opts []agent.RunnerOption
	if recorder != nil {
		opts = append(opts, agent.WithUsage(recorder))
	}
	return agent.NewRunner(payload.NewBuilder(params.Default()), transports, plugins, st, hub, opts...)
}

func newService(cfg *config.Config, runner *agent.Runner, st *store.Store, active *runtime.Registry, recorder *costs.Recorder) *agent.Service {
	sc := agent.ServiceConfig{
		Runner:      runner,
		Catalog:     cfg,
		History:     st,
		Active:      active,
		ProfilesDir: cfg.ProfilesDir(),
	}
	if recorder != nil {
		limits := costs.Limits{Daily: cfg.Costs.DailyLimit, Monthly: cfg.Costs.MonthlyLimit}
		sc.Budget = func(ctx context.Context) error {
			return recorder.Tracker().CheckBudget(ctx, limits, time.Time{})
		}
	}
	return agent.NewService(sc)
}

func newServer(svc *agent.Service, st *store.Store, hub *notify.Hub) *server.Server {
	return server.New(svc, st, hub)
}
