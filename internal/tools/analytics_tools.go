package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nvarela/b1agent/internal/cache"
	"github.com/nvarela/b1agent/internal/netsales"
)

var dateRangeProperties = map[string]any{
	"date_from": map[string]any{
		"type":        "string",
		"description": "Start date, inclusive, YYYY-MM-DD",
	},
	"date_to": map[string]any{
		"type":        "string",
		"description": "End date, inclusive, YYYY-MM-DD",
	},
}

func withDateRange(extra map[string]any) map[string]any {
	props := map[string]any{}
	for k, v := range dateRangeProperties {
		props[k] = v
	}
	for k, v := range extra {
		props[k] = v
	}
	return props
}

func (r *Registry) registerAnalyticsTools() {
	topN := map[string]any{
		"top_n": map[string]any{
			"type":        "integer",
			"description": "How many entries to return (default 5)",
		},
	}

	r.Register(&Tool{
		Name:        "get_top_selling_products",
		Description: "Rank products by NET quantity sold in a date range: invoices minus credit notes, counting only line items priced at $3.00 or more. Use this instead of raw queries for best-seller questions.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": withDateRange(topN),
			"required":   []string{"date_from", "date_to"},
		},
		Handler: r.handleTopProducts,
	})

	r.Register(&Tool{
		Name:        "get_top_customers",
		Description: "Rank customers by NET purchase amount in a date range: invoices minus credit notes, counting only line items priced at $3.00 or more. Customers with only returns are excluded.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": withDateRange(topN),
			"required":   []string{"date_from", "date_to"},
		},
		Handler: r.handleTopCustomers,
	})

	r.Register(&Tool{
		Name:        "get_sales_person_performance",
		Description: "Review one salesperson's activity in a date range: gross and net sales, return rate, average invoice, customer and product diversity, their top products and customers, and improvement flags.",
		Parameters: map[string]any{
			"type": "object",
			"properties": withDateRange(map[string]any{
				"sales_person_code": map[string]any{
					"type":        "string",
					"description": "The salesperson's integer code (e.g., '1522'; '-1' means unassigned)",
				},
			}),
			"required": []string{"sales_person_code", "date_from", "date_to"},
		},
		Handler: r.handleSalesPersonPerformance,
	})
}

// aggregator builds a netsales aggregator over a fresh service client.
// The caller owns the logout.
func (r *Registry) aggregator() (*netsales.Aggregator, ServiceClient) {
	sl := r.newClient()
	return netsales.New(sl, r.catalog, r.logger), sl
}

func (r *Registry) handleTopProducts(ctx context.Context, args map[string]any) (string, error) {
	from, to := argString(args, "date_from"), argString(args, "date_to")
	n := argInt(args, "top_n", 0)

	agg, sl := r.aggregator()
	defer sl.Logout(ctx)

	report, err := agg.TopProducts(ctx, from, to, n)
	if err != nil {
		return "", err
	}

	payload, err := json.Marshal(report)
	if err != nil {
		return "", fmt.Errorf("encode report: %w", err)
	}

	r.record(ctx, cache.Entry{
		Entity:      "Invoices",
		Description: fmt.Sprintf("Top products by net quantity, %s to %s", from, to),
		Params:      args,
		Result:      payload,
		Summary:     fmt.Sprintf("%d unique products from %d invoices", report.UniqueProducts, report.InvoicesAnalyzed),
	})

	return string(payload), nil
}

func (r *Registry) handleTopCustomers(ctx context.Context, args map[string]any) (string, error) {
	from, to := argString(args, "date_from"), argString(args, "date_to")
	n := argInt(args, "top_n", 0)

	agg, sl := r.aggregator()
	defer sl.Logout(ctx)

	report, err := agg.TopCustomers(ctx, from, to, n)
	if err != nil {
		return "", err
	}

	payload, err := json.Marshal(report)
	if err != nil {
		return "", fmt.Errorf("encode report: %w", err)
	}

	r.record(ctx, cache.Entry{
		Entity:      "Invoices",
		Description: fmt.Sprintf("Top customers by net amount, %s to %s", from, to),
		Params:      args,
		Result:      payload,
		Summary:     fmt.Sprintf("%d unique customers from %d invoices", report.UniqueCustomers, report.InvoicesAnalyzed),
	})

	return string(payload), nil
}

func (r *Registry) handleSalesPersonPerformance(ctx context.Context, args map[string]any) (string, error) {
	code := argString(args, "sales_person_code")
	from, to := argString(args, "date_from"), argString(args, "date_to")

	agg, sl := r.aggregator()
	defer sl.Logout(ctx)

	report, err := agg.SalesPersonPerformance(ctx, code, from, to)
	if err != nil {
		return "", err
	}

	payload, err := json.Marshal(report)
	if err != nil {
		return "", fmt.Errorf("encode report: %w", err)
	}

	r.record(ctx, cache.Entry{
		Entity:      "Invoices",
		Description: fmt.Sprintf("Sales person %s performance, %s to %s", code, from, to),
		Params:      args,
		Result:      payload,
		Summary:     fmt.Sprintf("net sales %.2f across %d invoices", report.Summary.NetSales, report.Summary.TotalInvoices),
	})

	return string(payload), nil
}
