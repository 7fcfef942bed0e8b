// Package appctx wires every subsystem package into one process-scoped
// bundle: a single struct holding every constructed dependency, built
// once in New. Each of cmd/orchestratord, cmd/worker and cmd/scheduler
// builds one Context and runs only the pieces it needs.
package appctx

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/netctl/internal/broker"
	"github.com/ternarybob/netctl/internal/common"
	"github.com/ternarybob/netctl/internal/credstore"
	"github.com/ternarybob/netctl/internal/devicedriver"
	"github.com/ternarybob/netctl/internal/jobservice"
	"github.com/ternarybob/netctl/internal/models"
	"github.com/ternarybob/netctl/internal/publisher"
	"github.com/ternarybob/netctl/internal/publisher/chat"
	"github.com/ternarybob/netctl/internal/publisher/email"
	"github.com/ternarybob/netctl/internal/publisher/gitexport"
	"github.com/ternarybob/netctl/internal/publisher/webhook"
	"github.com/ternarybob/netctl/internal/region"
	"github.com/ternarybob/netctl/internal/reporting"
	"github.com/ternarybob/netctl/internal/scheduler"
	"github.com/ternarybob/netctl/internal/store"
	"github.com/ternarybob/netctl/internal/store/badger"
	"github.com/ternarybob/netctl/internal/store/sqlite"
	"github.com/ternarybob/netctl/internal/streambus"
	sshbridge "github.com/ternarybob/netctl/internal/streambus/ssh"
	"github.com/ternarybob/netctl/internal/tenant"
	"github.com/ternarybob/netctl/internal/worker"
)

// Context bundles every constructed dependency a process needs. Not every
// process uses every field: cmd/worker never touches StreamBus's HTTP
// upgrader, cmd/scheduler never touches the WorkerPool.
type Context struct {
	Config *common.Config
	Logger arbor.ILogger

	sqliteDB *sqlite.DB
	badgerDB *badger.DB

	Store      store.Store
	Broker     *broker.Broker
	Router     *region.Router
	Tenant     *tenant.Core
	Jobs       *jobservice.Service
	Scheduler  *scheduler.Service
	StreamBus  *streambus.Bus
	SSHBridge  *sshbridge.Bridge
	Reporting  *reporting.Service
	Publisher  *publisher.Publisher
	EventLoop  *publisher.Service
	WorkerPool *worker.WorkerPool
	Runtime    *worker.Runtime
}

// New opens storage, the broker, and every dependent subsystem in the
// order each one requires (Store before Broker, since the sqlite broker
// shares the Job Store's file; Publisher before the Job Service, since the
// Job Service holds an EventEmitter reference from construction).
func New(cfg *common.Config, logger arbor.ILogger) (*Context, error) {
	c := &Context{Config: cfg, Logger: logger}

	if err := c.openStore(cfg); err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	creds, err := openCredStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("open credential store: %w", err)
	}

	c.Router = region.New(c.Store)
	c.Tenant = tenant.New(c.Store, logger)

	pubStore, err := publisher.NewSQLStore(context.Background(), c.rawSQL())
	if err != nil {
		return nil, fmt.Errorf("open publisher store: %w", err)
	}
	c.Publisher = publisher.New(pubStore, logger)

	b, err := broker.New(context.Background(), c.rawSQL(), logger)
	if err != nil {
		return nil, fmt.Errorf("open broker: %w", err)
	}
	c.Broker = b

	c.Jobs = jobservice.New(c.Store, c.Broker, c.Router, c.Publisher, logger)
	c.Scheduler = scheduler.New(c.Store, c.Jobs, schedulerConfig(cfg), logger)
	c.StreamBus = streambus.New(c.Store, logger, streamBusConfig(cfg))
	c.SSHBridge = sshbridge.New(c.Store, creds, logger, sshbridge.DefaultConfig())
	c.Reporting = reporting.New(c.Store, logger)

	registry := publisher.Registry{
		models.SubscriptionWebhook:   webhook.New(),
		models.SubscriptionChatSlack: chat.New(),
		models.SubscriptionChatTeams: chat.New(),
		models.SubscriptionEmail:     email.New(email.Config(cfg.SMTP)),
		models.SubscriptionGitExport: gitexport.New(c.Store),
	}
	c.EventLoop = publisher.NewService(pubStore, registry, publisherConfig(cfg), logger)

	c.Runtime = &worker.Runtime{
		Store:     c.Store,
		Jobs:      c.Jobs,
		Events:    c.Publisher,
		Driver:    devicedriver.NewSSHDriver(),
		Creds:     creds,
		Logger:    logger,
		MaxFanout: cfg.Worker.MaxConcurrency,
	}
	c.WorkerPool = worker.NewWorkerPool(c.Broker, c.Store, cfg.Worker.Queues, workerPoolConfig(cfg), logger)
	worker.RegisterDefaultHandlers(c.WorkerPool, c.Runtime)

	return c, nil
}

func (c *Context) openStore(cfg *common.Config) error {
	switch cfg.Storage.Backend {
	case "badger":
		db, err := badger.Open(c.Logger, badger.Config{Path: cfg.Storage.Path, ResetOnStartup: cfg.Storage.ResetOnStartup})
		if err != nil {
			return err
		}
		c.badgerDB = db
		c.Store = badger.New(db, c.Logger)
		return nil
	default:
		cfgDB := sqlite.DefaultConfig(cfg.Storage.Path)
		cfgDB.ResetOnStartup = cfg.Storage.ResetOnStartup
		db, err := sqlite.Open(c.Logger, cfgDB)
		if err != nil {
			return err
		}
		c.sqliteDB = db
		c.Store = sqlite.New(db, c.Logger)
		return nil
	}
}

// rawSQL returns the shared *sql.DB the broker and publisher store
// piggyback on. Only the sqlite backend shares its handle directly; a
// badger deployment opens a standalone sqlite file at Broker.Path for
// the broker and publisher tables, since goqite and the publisher's own
// migrations are SQL-only regardless of Job Store backend.
func (c *Context) rawSQL() *sql.DB {
	if c.sqliteDB != nil {
		return c.sqliteDB.Raw()
	}
	db, err := sqlite.Open(c.Logger, sqlite.DefaultConfig(c.Config.BrokerPath()))
	if err != nil {
		c.Logger.Fatal().Err(err).Msg("failed to open broker sqlite file for badger-backed deployment")
	}
	c.sqliteDB = db
	return db.Raw()
}

func openCredStore(cfg *common.Config) (*credstore.Box, error) {
	key, err := hex.DecodeString(cfg.Security.CredentialKeyHex)
	if err != nil {
		return nil, fmt.Errorf("decode credential key: %w", err)
	}
	return credstore.New(key)
}

func schedulerConfig(cfg *common.Config) scheduler.Config {
	return scheduler.Config{
		TickInterval:            cfg.Scheduler.TickInterval(),
		BatchSize:               cfg.Scheduler.BatchSize,
		ReconciliationThreshold: cfg.Scheduler.ReconciliationThreshold(),
		LogRetention:            cfg.Scheduler.LogRetention(),
		JobRetention:            cfg.Scheduler.JobRetention(),
		RetentionInterval:       cfg.Scheduler.RetentionInterval(),
	}
}

func streamBusConfig(cfg *common.Config) streambus.Config {
	return streambus.Config{
		ReplayLimit:       cfg.StreamBus.Replay(),
		PollInterval:      cfg.StreamBus.PollInterval(),
		KeepaliveInterval: cfg.StreamBus.KeepaliveInterval(),
		WriteTimeout:      cfg.StreamBus.WriteDeadline(),
	}
}

func publisherConfig(cfg *common.Config) publisher.Config {
	return publisher.Config{
		PollInterval:   cfg.Publisher.PollInterval(),
		BatchSize:      cfg.Scheduler.BatchSize,
		MaxRetries:     cfg.Publisher.MaxRetryCount(),
		DeliverTimeout: cfg.Publisher.HTTPTimeout(),
	}
}

func workerPoolConfig(cfg *common.Config) worker.PoolConfig {
	return worker.PoolConfig{
		Concurrency:  cfg.Worker.MaxConcurrency,
		PollInterval: cfg.Worker.PollInterval(),
	}
}

// Close releases every open handle, in reverse dependency order.
func (c *Context) Close() {
	if c.sqliteDB != nil {
		_ = c.sqliteDB.Close()
	}
	if c.badgerDB != nil {
		_ = c.badgerDB.Close()
	}
}
