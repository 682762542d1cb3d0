package deduplication

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"filingbot/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	athenatypes "github.com/aws/aws-sdk-go-v2/service/athena/types"
)

// ErrQueryTimeout is returned when a query is still running after the poll
// ceiling. The query is stopped rather than polled forever.
var ErrQueryTimeout = errors.New("athena query exceeded poll ceiling")

// AthenaAPI is the subset of the Athena client the engine uses.
type AthenaAPI interface {
	StartQueryExecution(ctx context.Context, in *athena.StartQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.StartQueryExecutionOutput, error)
	GetQueryExecution(ctx context.Context, in *athena.GetQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.GetQueryExecutionOutput, error)
	GetQueryResults(ctx context.Context, in *athena.GetQueryResultsInput, optFns ...func(*athena.Options)) (*athena.GetQueryResultsOutput, error)
	StopQueryExecution(ctx context.Context, in *athena.StopQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.StopQueryExecutionOutput, error)
}

// AthenaEngine runs existence queries on Athena.
type AthenaEngine struct {
	api          AthenaAPI
	database     string
	workgroup    string
	output       string
	maxPolls     int
	pollInterval time.Duration
	sleep        func(ctx context.Context, d time.Duration) error
}

// NewAthenaEngine wraps an Athena client with the configured database,
// workgroup and poll ceiling.
func NewAthenaEngine(api AthenaAPI, cfg config.AthenaConfig) *AthenaEngine {
	e := &AthenaEngine{
		api:          api,
		database:     cfg.Database,
		workgroup:    cfg.Workgroup,
		output:       cfg.OutputLocation,
		maxPolls:     cfg.MaxPolls,
		pollInterval: cfg.PollInterval,
		sleep:        sleepCtx,
	}
	if e.maxPolls <= 0 {
		e.maxPolls = config.AthenaMaxPolls
	}
	if e.pollInterval <= 0 {
		e.pollInterval = config.AthenaPollInterval
	}
	return e
}

// QueryColumn starts the query, waits for it within the poll ceiling and
// returns the first column of every result row.
func (e *AthenaEngine) QueryColumn(ctx context.Context, query string) ([]string, error) {
	in := &athena.StartQueryExecutionInput{
		QueryString:           aws.String(query),
		QueryExecutionContext: &athenatypes.QueryExecutionContext{Database: aws.String(e.database)},
	}
	if e.workgroup != "" {
		in.WorkGroup = aws.String(e.workgroup)
	}
	if e.output != "" {
		in.ResultConfiguration = &athenatypes.ResultConfiguration{OutputLocation: aws.String(e.output)}
	}

	started, err := e.api.StartQueryExecution(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("failed to start query: %w", err)
	}
	id := aws.ToString(started.QueryExecutionId)

	if err := e.wait(ctx, id); err != nil {
		return nil, err
	}
	return e.results(ctx, id)
}

func (e *AthenaEngine) wait(ctx context.Context, id string) error {
	for poll := 1; poll <= e.maxPolls; poll++ {
		out, err := e.api.GetQueryExecution(ctx, &athena.GetQueryExecutionInput{QueryExecutionId: aws.String(id)})
		if err != nil {
			return fmt.Errorf("failed to poll query %s: %w", id, err)
		}
		var status athenatypes.QueryExecutionStatus
		if out.QueryExecution != nil && out.QueryExecution.Status != nil {
			status = *out.QueryExecution.Status
		}
		switch status.State {
		case athenatypes.QueryExecutionStateSucceeded:
			return nil
		case athenatypes.QueryExecutionStateFailed, athenatypes.QueryExecutionStateCancelled:
			return fmt.Errorf("query %s %s: %s", id, status.State, aws.ToString(status.StateChangeReason))
		}
		if poll == e.maxPolls {
			break
		}
		if err := e.sleep(ctx, e.pollInterval); err != nil {
			return err
		}
	}

	if _, err := e.api.StopQueryExecution(ctx, &athena.StopQueryExecutionInput{QueryExecutionId: aws.String(id)}); err != nil {
		log.Printf("athena: failed to stop query %s: %v", id, err)
	}
	return fmt.Errorf("%w: query %s after %d polls", ErrQueryTimeout, id, e.maxPolls)
}

func (e *AthenaEngine) results(ctx context.Context, id string) ([]string, error) {
	var values []string
	header := true
	paginator := athena.NewGetQueryResultsPaginator(e.api, &athena.GetQueryResultsInput{QueryExecutionId: aws.String(id)})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read results of query %s: %w", id, err)
		}
		for _, row := range page.ResultSet.Rows {
			// The first row of the first page repeats the column names.
			if header {
				header = false
				continue
			}
			if len(row.Data) == 0 {
				continue
			}
			values = append(values, aws.ToString(row.Data[0].VarCharValue))
		}
	}
	return values, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
