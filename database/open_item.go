package database

import (
	"context"
	"fmt"

	"github.com/freightline/recon/internal/apierror"
	"github.com/freightline/recon/model"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
)

const openItemColumns = `id, kind, customer_id, customer_name, currency, outstanding_amount, direction, due_date, reference_strings`

func scanOpenItem(row rowScanner) (*model.OpenItem, error) {
	item := &model.OpenItem{}
	var refs pq.StringArray
	err := row.Scan(
		&item.ID, &item.Kind, &item.CustomerID, &item.CustomerName, &item.Currency,
		&item.OutstandingAmount, &item.Direction, &item.DueDate, &refs,
	)
	if err != nil {
		return nil, err
	}
	item.ReferenceStrings = []string(refs)
	return item, nil
}

func openItemCacheKey(q model.OpenItemQuery) string {
	return fmt.Sprintf("recon:open_items:%s:%s:%s:%s", q.Currency, q.Direction,
		q.DueFrom.Format("2006-01-02"), q.DueTo.Format("2006-01-02"))
}

// GetOpenItems returns open items of a currency and direction whose due date lies
// in [DueFrom, DueTo], ordered by due date then ID. Results are cached briefly
// when a cache is configured.
func (d Datasource) GetOpenItems(ctx context.Context, query model.OpenItemQuery) ([]*model.OpenItem, error) {
	ctx, span := otel.Tracer("Reconciliation").Start(ctx, "Fetching open items window")
	defer span.End()

	load := func() (interface{}, error) {
		return d.queryOpenItems(ctx, `SELECT `+openItemColumns+`
			FROM recon.open_items
			WHERE currency = $1 AND direction = $2 AND outstanding_amount > 0
				AND due_date >= $3 AND due_date <= $4
			ORDER BY due_date ASC, id ASC`,
			query.Currency, query.Direction, model.TruncateDay(query.DueFrom), model.TruncateDay(query.DueTo))
	}

	if d.Cache == nil {
		items, err := load()
		if err != nil {
			return nil, err
		}
		return items.([]*model.OpenItem), nil
	}

	var items []*model.OpenItem
	if err := d.Cache.Once(ctx, openItemCacheKey(query), &items, d.CacheTTL, load); err != nil {
		return nil, err
	}
	return items, nil
}

// FindOpenItemsReferencedIn returns open items with any reference string contained
// in text, case-insensitively. Callers still check token boundaries.
func (d Datasource) FindOpenItemsReferencedIn(ctx context.Context, text, currency string, direction model.Direction) ([]*model.OpenItem, error) {
	ctx, span := otel.Tracer("Reconciliation").Start(ctx, "Fetching open items by reference")
	defer span.End()

	if text == "" {
		return nil, nil
	}
	return d.queryOpenItems(ctx, `SELECT `+openItemColumns+`
		FROM recon.open_items
		WHERE currency = $1 AND direction = $2 AND outstanding_amount > 0
			AND EXISTS (
				SELECT 1 FROM unnest(reference_strings) AS ref
				WHERE length(ref) > 0 AND position(lower(ref) IN lower($3)) > 0
			)
		ORDER BY id ASC`, currency, direction, text)
}

func (d Datasource) GetOpenItemsByIDs(ctx context.Context, ids []string) ([]*model.OpenItem, error) {
	ctx, span := otel.Tracer("Reconciliation").Start(ctx, "Fetching open items by ids")
	defer span.End()

	if len(ids) == 0 {
		return nil, nil
	}
	items, err := d.queryOpenItems(ctx, `SELECT `+openItemColumns+`
		FROM recon.open_items WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*model.OpenItem, len(items))
	for _, item := range items {
		byID[item.ID] = item
	}
	ordered := make([]*model.OpenItem, 0, len(ids))
	for _, id := range ids {
		item, ok := byID[id]
		if !ok {
			return nil, notFound("Open item", id, nil)
		}
		ordered = append(ordered, item)
	}
	return ordered, nil
}

// GetCustomerOpenItems returns up to query.Limit open items of one customer whose
// outstanding amount is at most query.MaxAmount. The items due closest to
// query.Near are kept; the result is ordered by due date then ID.
func (d Datasource) GetCustomerOpenItems(ctx context.Context, query model.CustomerOpenItemQuery) ([]*model.OpenItem, error) {
	ctx, span := otel.Tracer("Reconciliation").Start(ctx, "Fetching customer open items")
	defer span.End()

	if query.Limit <= 0 {
		return nil, nil
	}
	return d.queryOpenItems(ctx, `SELECT `+openItemColumns+` FROM (
			SELECT `+openItemColumns+`
			FROM recon.open_items
			WHERE customer_id = $1 AND currency = $2 AND direction = $3
				AND outstanding_amount > 0 AND outstanding_amount <= $4
			ORDER BY abs(due_date - $5::date) ASC, id ASC
			LIMIT $6
		) nearest
		ORDER BY due_date ASC, id ASC`,
		query.CustomerID, query.Currency, query.Direction, query.MaxAmount, model.TruncateDay(query.Near), query.Limit)
}

func (d Datasource) queryOpenItems(ctx context.Context, query string, args ...interface{}) ([]*model.OpenItem, error) {
	rows, err := d.Conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve open items", err)
	}
	defer rows.Close()

	var items []*model.OpenItem
	for rows.Next() {
		item, err := scanOpenItem(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan open item data", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over open items", err)
	}
	return items, nil
}
