package config

import "time"

// Registry Constants
const (
	// RegistryBaseURL serves the browse-edgar feeds and the archive tree
	RegistryBaseURL = "https://www.sec.gov"

	// RegistryDataURL serves the submissions index documents
	RegistryDataURL = "https://data.sec.gov"

	// RegistryRequestsPerSecond stays under the registry's published ceiling of 10/s
	RegistryRequestsPerSecond = 8.0

	// RegistryMaxAttempts bounds retries of one registry call
	RegistryMaxAttempts = 5

	// RegistryBackoffBase is the first backoff delay after a transient failure
	RegistryBackoffBase = 1 * time.Second

	// RegistryBackoffMax caps any single backoff the client picks itself
	RegistryBackoffMax = 30 * time.Second

	// RegistryRetryAfterMax is the longest server Retry-After hint waited out
	RegistryRetryAfterMax = 10 * time.Minute

	// RegistryTimeout is the per-request HTTP timeout
	RegistryTimeout = 30 * time.Second
)

// Existence Check Constants
const (
	// ExistenceChunkSize bounds the number of keys in one query
	ExistenceChunkSize = 200

	// AthenaPollInterval is the wait between query status polls
	AthenaPollInterval = 1 * time.Second

	// AthenaMaxPolls caps polling of one query; the query is then declared failed
	AthenaMaxPolls = 60
)

// Discovery Constants
const (
	// CatchupWindow is the look-back of the daily catch-up run
	CatchupWindow = 72 * time.Hour

	// IncrementalWindow overlaps the poll interval so late documents are seen again
	IncrementalWindow = 30 * time.Minute

	// IncrementalSchedule polls the global feed every ten minutes
	IncrementalSchedule = "*/10 * * * *"

	// CatchupSchedule runs the wide window once a day
	CatchupSchedule = "0 6 * * *"

	// WatchlistSchedule polls per-entity sources hourly
	WatchlistSchedule = "15 * * * *"

	// GlobalFeedPageSize is the registry's maximum page for the current feed
	GlobalFeedPageSize = 100

	// GlobalFeedMaxPages bounds pagination of one global poll
	GlobalFeedMaxPages = 10

	// EntityFeedCount is the number of entries requested per entity feed
	EntityFeedCount = 40

	// GlobalFeedCategory is the form-type category polled site-wide
	GlobalFeedCategory = "4"
)

// Dispatch Constants
const (
	// PublishBatchSize matches the queue's per-call batch limit
	PublishBatchSize = 10

	// ClaimTTL bounds how long an enqueue claim suppresses other dispatchers
	ClaimTTL = 6 * time.Hour
)

// Parser Constants
const (
	// MinDocumentBytes rejects error pages served with a success status
	MinDocumentBytes = 512

	// BufferMaxRows triggers a flush by size
	BufferMaxRows = 5000

	// BufferFlushInterval triggers a flush by time since the last flush
	BufferFlushInterval = 2 * time.Minute

	// MaxDeliveries sends a message to the dead-letter topic after this many attempts
	MaxDeliveries = 5
)

// Queue Constants
const (
	// ParseJobsTopic carries ParseJobMessage payloads
	ParseJobsTopic = "filing-parse-jobs"

	// ParseJobsRetryTopic receives messages that failed and will be retried
	ParseJobsRetryTopic = "filing-parse-jobs-retry"

	// ParseJobsDeadLetterTopic receives messages that exhausted their deliveries
	ParseJobsDeadLetterTopic = "filing-parse-jobs-dlq"

	// ParserGroupID is the consumer group of parser workers
	ParserGroupID = "filing-parser-group"
)

// Storage Constants
const (
	// DataPrefix is the root of all lake tables in the bucket
	DataPrefix = "data"

	// ParquetContentType is set on every partition file
	ParquetContentType = "application/vnd.apache.parquet"
)
