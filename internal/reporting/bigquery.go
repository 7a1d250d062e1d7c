package reporting

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/ledgerbook/internal/domain"
	"github.com/shopspring/decimal"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
)

// BigQueryExporter streams persisted transactions into a ledger table and
// answers monthly reports from it.
type BigQueryExporter struct {
	client    *bigquery.Client
	projectID string
	datasetID string
	now       func() time.Time
}

// NewBigQueryExporter opens a client for projectID. Callers must Close it.
func NewBigQueryExporter(ctx context.Context, projectID, datasetID string) (*BigQueryExporter, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewBigQueryExporter: creating client: %w", err)
	}
	return &BigQueryExporter{
		client:    client,
		projectID: projectID,
		datasetID: datasetID,
		now:       time.Now,
	}, nil
}

func (e *BigQueryExporter) Close() error {
	if e.client != nil {
		return e.client.Close()
	}
	return nil
}

func (e *BigQueryExporter) table() *bigquery.Table {
	return e.client.DatasetInProject(e.projectID, e.datasetID).Table(ledgerTable)
}

// EnsureTables creates the dataset and the date-partitioned ledger table if missing.
func (e *BigQueryExporter) EnsureTables(ctx context.Context) error {
	ds := e.client.DatasetInProject(e.projectID, e.datasetID)
	if err := ds.Create(ctx, &bigquery.DatasetMetadata{}); err != nil && !isAlreadyExists(err) {
		return fmt.Errorf("EnsureTables: creating dataset %s: %w", e.datasetID, err)
	}

	meta := &bigquery.TableMetadata{
		Schema: ledgerSchema,
		TimePartitioning: &bigquery.TimePartitioning{
			Type:  bigquery.MonthPartitioningType,
			Field: "transaction_date",
		},
		Clustering: &bigquery.Clustering{Fields: []string{"user_id", "category_name"}},
	}
	if err := e.table().Create(ctx, meta); err != nil && !isAlreadyExists(err) {
		return fmt.Errorf("EnsureTables: creating table %s: %w", ledgerTable, err)
	}
	return nil
}

func isAlreadyExists(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusConflict
}

// ExportTransactions streams txs into the ledger table.
func (e *BigQueryExporter) ExportTransactions(ctx context.Context, txs []domain.Transaction) error {
	if len(txs) == 0 {
		return nil
	}
	exportedAt := e.now().UTC()
	savers := make([]*bigquery.StructSaver, len(txs))
	for i, tx := range txs {
		savers[i] = ledgerSaver(toLedgerRow(tx, exportedAt))
	}
	if err := e.table().Inserter().Put(ctx, savers); err != nil {
		return fmt.Errorf("ExportTransactions: inserting rows: %w", err)
	}
	return nil
}

type totalRow struct {
	CategoryName string   `bigquery:"category_name"`
	Type         string   `bigquery:"type"`
	Total        *big.Rat `bigquery:"total"`
	N            int64    `bigquery:"n"`
}

// MonthlyTotals groups the user's exported transactions for month by category and type.
func (e *BigQueryExporter) MonthlyTotals(ctx context.Context, userID string, month time.Time) ([]CategoryTotal, error) {
	from, to := monthBounds(month)
	query := fmt.Sprintf(`
		SELECT
			category_name,
			type,
			SUM(amount) AS total,
			COUNT(*) AS n
		FROM `+"`%s.%s.%s`"+`
		WHERE user_id = @user_id
		  AND transaction_date BETWEEN @start_date AND @end_date
		GROUP BY category_name, type
		ORDER BY category_name, type
	`, e.projectID, e.datasetID, ledgerTable)

	q := e.client.Query(query)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "user_id", Value: userID},
		{Name: "start_date", Value: from.Format(domain.DateLayout)},
		{Name: "end_date", Value: to.Format(domain.DateLayout)},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("MonthlyTotals: reading query: %w", err)
	}

	var out []CategoryTotal
	for {
		var row totalRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("MonthlyTotals: iterating: %w", err)
		}
		out = append(out, row.toTotal())
	}
	return out, nil
}

func (r totalRow) toTotal() CategoryTotal {
	total := decimal.Zero
	if r.Total != nil {
		if d, err := decimal.NewFromString(r.Total.FloatString(2)); err == nil {
			total = d
		}
	}
	return CategoryTotal{
		Category: r.CategoryName,
		Type:     r.Type,
		Total:    total,
		Count:    int(r.N),
	}
}

var _ Reporter = (*BigQueryExporter)(nil)
