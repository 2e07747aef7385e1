// Package aggregate evaluates sum/avg/min/max/count over filtered rows,
// optionally grouped, and classifies aggregations the store cannot evaluate
// as request errors.
package aggregate

import (
	"context"
	"errors"
	"fmt"

	"github.com/edgeflare/pgcrud/pkg/apierr"
	"github.com/edgeflare/pgcrud/pkg/metrics"
	"github.com/edgeflare/pgcrud/pkg/query"
	"github.com/edgeflare/pgcrud/pkg/store"
)

// FunctionParam is the path parameter an unsupported aggregation is reported
// against.
const FunctionParam = "aggregation_function"

// Response is the body of the aggregate route.
type Response struct {
	Values []map[string]any `json:"values"`
}

// Run computes fn over field for the rows matching sel.Where.
//
// Without groupBy the result is a single row holding the value. With groupBy
// there is one row per distinct key combination, ordered by the terms of page
// that name group keys and windowed by page. If the store rejects the
// aggregation as unsupported, Run returns a validation error on
// aggregation_function; every other store error is returned unchanged.
func Run(ctx context.Context, s store.Store, sel query.Select, fn query.AggFunc, field query.Expr, groupBy []query.Expr, page query.Page) ([]map[string]any, error) {
	agg := query.Aggregate{Func: fn, Field: field, GroupBy: groupBy}
	if err := agg.Validate(); err != nil {
		return nil, apierr.NewValidationError([]string{apierr.LocQuery, "group_by"}, err.Error(), "value_error")
	}

	sel.Order, sel.Limit, sel.Offset = nil, 0, 0
	if len(groupBy) > 0 {
		sel.Order = query.GroupOrder(page.Order, groupBy)
		sel.Limit, sel.Offset = page.Limit, page.Offset
	}

	rows, err := s.Aggregate(ctx, sel, agg)
	if errors.Is(err, store.ErrUnsupported) {
		metrics.AggregationRejections.WithLabelValues(string(fn)).Inc()
		return nil, apierr.NewValidationError(
			[]string{apierr.LocPath, FunctionParam},
			fmt.Sprintf("%s is not supported for field %s", fn, field.Path()),
			"value_error.aggregation_function",
		)
	}
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []map[string]any{}
	}
	return rows, nil
}
