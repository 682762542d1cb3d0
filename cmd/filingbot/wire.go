package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"filingbot/config"
	"filingbot/deduplication"
	"filingbot/discovery"
	"filingbot/dispatch"
	"filingbot/lake"
	"filingbot/orchestrator"
	"filingbot/parser"
	"filingbot/registry"
	"filingbot/shared/kafka"
	"filingbot/storage"
	"filingbot/types"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	"github.com/redis/go-redis/v9"
)

// PlanWatchlist polls the per-entity sources of the watchlist.
const PlanWatchlist = "watchlist"

// app holds the components shared by the commands. AWS clients are built on
// first use so commands that never touch the lake do not need credentials.
type app struct {
	cfg      *config.Config
	kill     *config.KillSwitch
	registry *registry.Client
	redis    *redis.Client

	awsCfg  *aws.Config
	store   *storage.S3
	checker *deduplication.Checker
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, kill: config.NewKillSwitch(cfg.IngestEnabled)}

	if cfg.Redis.Addr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	var gate registry.Gate = registry.NewLocalGate(cfg.Registry.RequestsPerSecond)
	if cfg.Registry.Gate == "redis" {
		gate = registry.NewRedisGate(a.redis, "", cfg.Registry.RequestsPerSecond)
		log.Printf("Registry gate shared through Redis at %s", cfg.Redis.Addr)
	}
	a.registry, err = registry.NewClient(registry.Options{
		BaseURL:     cfg.Registry.BaseURL,
		DataURL:     cfg.Registry.DataURL,
		UserAgent:   cfg.Registry.UserAgent,
		Gate:        gate,
		MaxAttempts: cfg.Registry.MaxAttempts,
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (a *app) close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			log.Printf("Error closing Redis client: %v", err)
		}
	}
}

func (a *app) awsConfig(ctx context.Context) (aws.Config, error) {
	if a.awsCfg == nil {
		c, err := storage.LoadAWSConfig(ctx, a.cfg.S3)
		if err != nil {
			return aws.Config{}, err
		}
		a.awsCfg = &c
	}
	return *a.awsCfg, nil
}

func (a *app) lakeStore(ctx context.Context) (*storage.S3, error) {
	if a.store != nil {
		return a.store, nil
	}
	awsCfg, err := a.awsConfig(ctx)
	if err != nil {
		return nil, err
	}
	a.store, err = storage.NewS3(awsCfg, a.cfg.S3)
	return a.store, err
}

func (a *app) existence(ctx context.Context) (*deduplication.Checker, error) {
	if a.checker != nil {
		return a.checker, nil
	}
	awsCfg, err := a.awsConfig(ctx)
	if err != nil {
		return nil, err
	}
	engine := deduplication.NewAthenaEngine(athena.NewFromConfig(awsCfg), a.cfg.Athena)
	a.checker = deduplication.NewChecker(engine, types.TableFilings)
	return a.checker, nil
}

func (a *app) newBuffer(ctx context.Context) (*lake.Buffer, error) {
	store, err := a.lakeStore(ctx)
	if err != nil {
		return nil, err
	}
	return lake.NewBuffer(store, lake.Options{
		MaxRows:       a.cfg.Parser.MaxRows,
		FlushInterval: a.cfg.Parser.FlushInterval,
	}), nil
}

// newDispatcher wires the existence check, Redis claims and DISCOVERED
// records around producer.
func (a *app) newDispatcher(ctx context.Context, producer dispatch.Publisher) (*dispatch.Dispatcher, error) {
	checker, err := a.existence(ctx)
	if err != nil {
		return nil, err
	}
	records, err := a.newBuffer(ctx)
	if err != nil {
		return nil, err
	}
	opts := dispatch.Options{
		Topic:      a.cfg.Kafka.Topic,
		BatchSize:  config.PublishBatchSize,
		Records:    records,
		KillSwitch: a.kill,
	}
	if a.redis != nil {
		opts.Claims = deduplication.NewClaims(a.redis, "", config.ClaimTTL)
	}
	return dispatch.New(checker, producer, opts), nil
}

// plans builds the discovery plans from the configuration. The watchlist
// plan exists only when a watchlist is configured.
func (a *app) plans() []orchestrator.Plan {
	d := a.cfg.Discovery
	plans := []orchestrator.Plan{
		{
			Name:     discovery.ModeIncremental,
			Schedule: d.IncrementalSchedule,
			Sources:  []discovery.Source{discovery.NewGlobalFeed(a.registry, d.GlobalCategory, discovery.ModeIncremental)},
			Window:   d.IncrementalWindow,
		},
		{
			Name:     discovery.ModeCatchup,
			Schedule: d.CatchupSchedule,
			Sources:  []discovery.Source{discovery.NewGlobalFeed(a.registry, d.GlobalCategory, discovery.ModeCatchup)},
			Window:   d.CatchupWindow,
		},
	}
	if len(a.cfg.Watchlist) == 0 {
		return plans
	}
	return append(plans, orchestrator.Plan{
		Name:     PlanWatchlist,
		Schedule: d.WatchlistSchedule,
		Sources: []discovery.Source{
			&discovery.CompanyIndex{Index: a.registry, Watchlist: a.cfg.Watchlist},
			&discovery.InsiderFeed{Feeds: a.registry, Watchlist: a.cfg.Watchlist, Count: config.EntityFeedCount},
			&discovery.TypedBrowse{Feeds: a.registry, Watchlist: a.cfg.Watchlist, FormTypes: d.TypedFormTypes, Count: config.EntityFeedCount},
		},
		Window: d.CatchupWindow,
	})
}

func findPlan(plans []orchestrator.Plan, name string) (orchestrator.Plan, error) {
	for _, p := range plans {
		if p.Name == name {
			return p, nil
		}
	}
	return orchestrator.Plan{}, fmt.Errorf("%w: %q", orchestrator.ErrUnknownPlan, name)
}

// newConsumer wires a parser worker to the parse-jobs topics. Failed
// messages are republished through producer.
func (a *app) newConsumer(worker *parser.Worker, producer kafka.Republisher) (*kafka.Consumer, error) {
	k := a.cfg.Kafka
	return kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers:         k.Brokers,
		Topic:           k.Topic,
		RetryTopic:      k.RetryTopic,
		DeadLetterTopic: k.DeadLetterTopic,
		GroupID:         k.GroupID,
		MaxDeliveries:   a.cfg.Parser.MaxDeliveries,
		Handler: &kafka.TypedMessageHandler[types.ParseJobMessage]{
			Validate: worker.Validate,
			Process:  holdWhileDisabled(a.kill, worker.Handle, worker.Reject),
			Reject:   worker.Reject,
		},
		Republisher: producer,
	})
}

// holdWhileDisabled parks message handling while the kill switch is off so
// the parser stops fetching documents without burning deliveries. A message
// still held at shutdown is settled through reject, behind buffered outcomes.
func holdWhileDisabled(
	kill interface{ Enabled() bool },
	handle func(context.Context, *types.ParseJobMessage, func(error)),
	reject func(context.Context, error, func(error)),
) func(context.Context, *types.ParseJobMessage, func(error)) {
	return func(ctx context.Context, msg *types.ParseJobMessage, done func(error)) {
		logged := false
		for !kill.Enabled() {
			if !logged {
				log.Printf("parser: kill switch is off, holding %s", msg.IdempotencyKey)
				logged = true
			}
			select {
			case <-ctx.Done():
				reject(ctx, ctx.Err(), done)
				return
			case <-time.After(killSwitchPoll):
			}
		}
		handle(ctx, msg, done)
	}
}

var killSwitchPoll = 5 * time.Second
