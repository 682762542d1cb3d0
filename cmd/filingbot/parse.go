package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"filingbot/parser"
	"filingbot/shared/kafka"
	"filingbot/types"

	"github.com/spf13/cobra"
)

var parseFile string

var parseCmd = &cobra.Command{
	Use:   "parse",
	Short: "Consume parse jobs, or process a file of them",
	Long: `Without --file, consumes the parse-jobs topic until interrupted.

With --file, reads parse job messages (one JSON object per line), processes
them in order, flushes the buffer and reports which ones would be retried.`,
	RunE: runParse,
}

func init() {
	parseCmd.Flags().StringVarP(&parseFile, "file", "f", "", "JSON lines file of parse job messages")
	rootCmd.AddCommand(parseCmd)
}

func runParse(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	buffer, err := a.newBuffer(ctx)
	if err != nil {
		return err
	}
	checker, err := a.existence(ctx)
	if err != nil {
		return err
	}
	worker := parser.NewWorker(a.registry, checker, buffer, a.cfg.Parser.MinDocumentBytes)

	if parseFile != "" {
		msgs, err := readMessages(parseFile)
		if err != nil {
			return err
		}
		results := worker.ProcessBatch(ctx, msgs)
		if err := buffer.Close(ctx); err != nil {
			return err
		}
		fmt.Print(renderOutcomes(msgs, results))
		return nil
	}

	producer, err := kafka.NewProducer(a.cfg.Kafka.Brokers)
	if err != nil {
		return err
	}
	defer producer.Close()

	consumer, err := a.newConsumer(worker, producer)
	if err != nil {
		return err
	}
	if err := consumer.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()

	flushCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := buffer.Close(flushCtx); err != nil {
		log.Printf("Final buffer flush failed, messages will be redelivered: %v", err)
	}
	return consumer.Close()
}

func readMessages(path string) ([]types.ParseJobMessage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var msgs []types.ParseJobMessage
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for line := 1; sc.Scan(); line++ {
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		var m types.ParseJobMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		msgs = append(msgs, m)
	}
	return msgs, sc.Err()
}
