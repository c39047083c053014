package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/expense-review-bot/internal/domain"
)

// Sink streams reviewed transactions into BigQuery. The transaction ID is
// used as the insert ID so a retried write within the dedup window does not
// create a second row.
type Sink struct {
	client  *bigquery.Client
	dataset string
	table   string
	now     func() time.Time
}

// NewSink creates a client for projectID and writes to dataset.table.
func NewSink(ctx context.Context, projectID, dataset, table string) (*Sink, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewSink: bigquery client: %w", err)
	}
	return NewSinkWithClient(client, dataset, table), nil
}

// NewSinkWithClient writes to dataset.table with an existing client.
func NewSinkWithClient(client *bigquery.Client, dataset, table string) *Sink {
	return &Sink{client: client, dataset: dataset, table: table, now: time.Now}
}

// Close closes the BigQuery client connection.
func (s *Sink) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// Name implements persistence.Sink.
func (s *Sink) Name() string { return "bigquery" }

// Write implements persistence.Sink.
func (s *Sink) Write(ctx context.Context, tx domain.Transaction) error {
	row := NewReviewedTransactionRow(tx, s.now())
	saver := &bigquery.StructSaver{Struct: row, InsertID: tx.TransactionID}

	inserter := s.client.Dataset(s.dataset).Table(s.table).Inserter()
	if err := inserter.Put(ctx, saver); err != nil {
		return fmt.Errorf("bigquery.Write: inserting %s: %w", tx.TransactionID, err)
	}
	return nil
}

// Schema is the table schema derived from ReviewedTransactionRow.
func Schema() (bigquery.Schema, error) {
	schema, err := bigquery.InferSchema(ReviewedTransactionRow{})
	if err != nil {
		return nil, fmt.Errorf("Schema: inferring: %w", err)
	}
	return schema, nil
}

// EnsureTable creates the dataset table, partitioned by transaction date,
// unless it already exists. It reports whether it created the table.
func (s *Sink) EnsureTable(ctx context.Context) (bool, error) {
	table := s.client.Dataset(s.dataset).Table(s.table)

	_, err := table.Metadata(ctx)
	if err == nil {
		return false, nil
	}
	if !isNotFound(err) {
		return false, fmt.Errorf("EnsureTable: reading metadata: %w", err)
	}

	schema, err := Schema()
	if err != nil {
		return false, err
	}
	meta := &bigquery.TableMetadata{
		Schema: schema,
		TimePartitioning: &bigquery.TimePartitioning{
			Type:  bigquery.MonthPartitioningType,
			Field: "transaction_date",
		},
		Clustering: &bigquery.Clustering{Fields: []string{"category"}},
	}
	if err := table.Create(ctx, meta); err != nil {
		return false, fmt.Errorf("EnsureTable: creating %s.%s: %w", s.dataset, s.table, err)
	}
	return true, nil
}

// CountByCategory counts reviewed transactions per category with a
// transaction date between from and to, inclusive.
func (s *Sink) CountByCategory(ctx context.Context, from, to time.Time) (map[string]int64, error) {
	q := s.client.Query(fmt.Sprintf(`
		SELECT
			IFNULL(category, '') AS category,
			COUNT(DISTINCT transaction_id) AS n
		FROM `+"`%s.%s`"+`
		WHERE transaction_date >= @start_date
		  AND transaction_date <= @end_date
		GROUP BY 1
	`, s.dataset, s.table))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "start_date", Value: civil.DateOf(from)},
		{Name: "end_date", Value: civil.DateOf(to)},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("CountByCategory: query read: %w", err)
	}

	counts := make(map[string]int64)
	for {
		var r struct {
			Category string `bigquery:"category"`
			N        int64  `bigquery:"n"`
		}
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("CountByCategory: iter next: %w", err)
		}
		counts[r.Category] = r.N
	}
	return counts, nil
}

func isNotFound(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusNotFound
}
