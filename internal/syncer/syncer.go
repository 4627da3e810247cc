// Package syncer hands aggregated upstream records to the local store.
package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/Sternrassler/dataaccess/pkg/credential"
	"github.com/Sternrassler/dataaccess/pkg/fault"
	"github.com/Sternrassler/dataaccess/pkg/store"
	"github.com/Sternrassler/dataaccess/pkg/upstream"
	"github.com/rs/zerolog"
)

// Fetcher aggregates a paginated collection. *upstream.Aggregator
// implements it.
type Fetcher interface {
	FetchAll(ctx context.Context, store credential.Store, initialURL string, opts ...upstream.FetchOption) (*upstream.Result, error)
}

// Writer persists records. *store.Records implements it.
type Writer interface {
	Upsert(ctx context.Context, recs []store.Record) (int, error)
}

// Report summarizes one sync run.
type Report struct {
	Outcome  upstream.Outcome `json:"outcome"`
	Pages    int              `json:"pages"`
	Fetched  int              `json:"fetched"`
	Included int              `json:"included"`
	Stored   int              `json:"stored"`
	Partial  bool             `json:"partial"`
	// Reason is why the stream ended early.
	Reason string `json:"reason,omitempty"`
}

// Syncer fetches a collection for an owner and upserts what arrived.
type Syncer struct {
	fetcher Fetcher
	writer  Writer
	now     func() time.Time
	logger  zerolog.Logger
}

// New creates a syncer.
func New(fetcher Fetcher, writer Writer, logger zerolog.Logger) *Syncer {
	return &Syncer{
		fetcher: fetcher,
		writer:  writer,
		now:     time.Now,
		logger:  logger.With().Str("component", "syncer").Logger(),
	}
}

// Run aggregates initialURL with the credential in creds and stores the
// primary and included records under owner. Partial results are stored
// too; the report says they are partial. Nothing is stored when the
// aggregation failed outright or needs authorization.
func (s *Syncer) Run(ctx context.Context, creds credential.Store, owner, initialURL string, opts ...upstream.FetchOption) (Report, error) {
	const op = "syncer.run"

	if owner == "" {
		return Report{Outcome: upstream.OutcomeFailed}, fault.New(fault.KindCallerInput, op, "owner is required")
	}

	res, err := s.fetcher.FetchAll(ctx, creds, initialURL, opts...)
	if res == nil {
		return Report{Outcome: upstream.OutcomeFailed}, err
	}

	report := Report{
		Outcome:  res.Outcome,
		Pages:    res.Pages,
		Fetched:  res.Progress,
		Included: len(res.Included),
		Partial:  res.Partial(),
	}
	if res.Err != nil {
		report.Reason = res.Err.Error()
	}
	if err != nil {
		return report, err
	}

	recs := toRecords(owner, s.now().UTC(), res)
	if len(recs) == 0 {
		return report, nil
	}

	stored, err := s.writer.Upsert(ctx, recs)
	report.Stored = stored
	if err != nil {
		return report, fmt.Errorf("store %d records: %w", len(recs), err)
	}

	s.logger.Info().
		Str("owner", owner).
		Str("outcome", res.Outcome.String()).
		Int("records", report.Fetched).
		Int("included", report.Included).
		Int("stored", stored).
		Msg("Sync finished")
	return report, nil
}

func toRecords(owner string, at time.Time, res *upstream.Result) []store.Record {
	recs := make([]store.Record, 0, len(res.Records)+len(res.Included))
	for _, group := range [][]upstream.Resource{res.Records, res.Included} {
		for _, r := range group {
			if r.ID == "" {
				continue
			}
			recs = append(recs, store.Record{
				Type:       r.Type,
				ID:         r.ID,
				Owner:      owner,
				Attributes: store.JSON(r.Attributes),
				FetchedAt:  at,
			})
		}
	}
	return recs
}
