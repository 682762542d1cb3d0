package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"filingbot/discovery"
	"filingbot/dispatch"
	"filingbot/orchestrator"
	"filingbot/shared/kafka"
	"filingbot/types"

	"github.com/spf13/cobra"
)

var (
	discoverPlan   string
	discoverDryRun bool
	discoverJSON   bool
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Run one discovery plan now and enqueue what it finds",
	Long: `Runs a discovery plan once: enumerate its sources, drop filings the lake
already holds and enqueue the rest as parse jobs.

With --dry-run the candidates are printed and nothing is checked or enqueued.`,
	RunE: runDiscover,
}

func init() {
	discoverCmd.Flags().StringVarP(&discoverPlan, "plan", "p", discovery.ModeIncremental, "Plan to run (incremental, catchup, watchlist)")
	discoverCmd.Flags().BoolVar(&discoverDryRun, "dry-run", false, "Print candidates without dispatching them")
	discoverCmd.Flags().BoolVar(&discoverJSON, "json", false, "Print the result as JSON")
	rootCmd.AddCommand(discoverCmd)
}

func runDiscover(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	plans := a.plans()
	plan, err := findPlan(plans, discoverPlan)
	if err != nil {
		return err
	}
	if !a.kill.Enabled() {
		return dispatch.ErrKillSwitch
	}

	if discoverDryRun {
		var (
			all   []types.FilingCandidate
			stats []discovery.Stats
			errs  []error
		)
		w := discovery.WindowFor(time.Now(), plan.Window, plan.Forms...)
		for _, src := range plan.Sources {
			cands, st, err := discovery.Run(ctx, src, w)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", src.Name(), err))
			}
			all = append(all, cands...)
			stats = append(stats, st)
		}
		if len(errs) > 0 && len(errs) == len(plan.Sources) {
			return errors.Join(errs...)
		}
		if discoverJSON {
			return writeJSON(all)
		}
		fmt.Print(renderCandidates(all, stats))
		return nil
	}

	producer, err := kafka.NewProducer(a.cfg.Kafka.Brokers)
	if err != nil {
		return err
	}
	defer producer.Close()

	dispatcher, err := a.newDispatcher(ctx, producer)
	if err != nil {
		return err
	}
	orch := orchestrator.New(dispatcher, a.kill, plans...)
	summary, err := orch.RunPlan(ctx, plan.Name, orchestrator.TriggerManual)
	if discoverJSON {
		if werr := writeJSON(summary); werr != nil {
			return werr
		}
	} else {
		fmt.Print(renderRun(summary))
	}
	return err
}

func writeJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
