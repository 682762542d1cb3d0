package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"filingbot/api"
	"filingbot/orchestrator"
	"filingbot/parser"
	"filingbot/shared/kafka"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	serveConsume  bool
	serveSchedule bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the discovery scheduler, the operator API and a parser consumer",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveConsume, "consume", true, "Consume parse jobs in this process")
	serveCmd.Flags().BoolVar(&serveSchedule, "schedule", true, "Run discovery plans on their cron schedules")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	producer, err := kafka.NewProducer(a.cfg.Kafka.Brokers)
	if err != nil {
		return err
	}
	defer producer.Close()

	dispatcher, err := a.newDispatcher(ctx, producer)
	if err != nil {
		return err
	}
	orch := orchestrator.New(dispatcher, a.kill, a.plans()...)
	deps := api.Deps{Runner: orch, Kill: a.kill}

	g, gctx := errgroup.WithContext(ctx)

	if serveConsume {
		buffer, err := a.newBuffer(ctx)
		if err != nil {
			return err
		}
		checker, err := a.existence(ctx)
		if err != nil {
			return err
		}
		worker := parser.NewWorker(a.registry, checker, buffer, a.cfg.Parser.MinDocumentBytes)
		consumer, err := a.newConsumer(worker, producer)
		if err != nil {
			return err
		}
		deps.Buffer = buffer

		g.Go(func() error {
			if err := consumer.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			<-gctx.Done()
			flushCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			if err := buffer.Close(flushCtx); err != nil {
				log.Printf("Final buffer flush failed, messages will be redelivered: %v", err)
			}
			return consumer.Close()
		})
	}

	if serveSchedule {
		if err := orch.StartCron(); err != nil {
			return err
		}
		g.Go(func() error {
			<-gctx.Done()
			stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return orch.StopCron(stopCtx)
		})
	}

	g.Go(func() error {
		return api.NewServer(a.cfg.APIAddr, deps).Run(gctx)
	})

	log.Printf("filingbot serving (plans: %v, consume: %v, schedule: %v, ingest enabled: %v)",
		orch.Plans(), serveConsume, serveSchedule, a.kill.Enabled())
	return g.Wait()
}
