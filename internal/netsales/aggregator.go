package netsales

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/nvarela/b1agent/internal/servicelayer"
)

// DefaultTopN is the ranking depth used when the caller asks for zero
// or a negative number of entries.
const DefaultTopN = 5

// Querier is the slice of the service-layer client the aggregations
// need. Satisfied by *servicelayer.Client.
type Querier interface {
	Query(ctx context.Context, q servicelayer.QueryRequest) servicelayer.Result
}

// Resolver maps logical entity names to endpoint paths. Satisfied by
// *servicelayer.Catalog.
type Resolver interface {
	Describe(name string) (path string, ok bool)
}

// catalogResolver adapts *servicelayer.Catalog to Resolver.
type catalogResolver struct {
	c *servicelayer.Catalog
}

func (r catalogResolver) Describe(name string) (string, bool) {
	e, ok := r.c.Describe(name)
	return e.Path, ok
}

// Aggregator runs the net-sales aggregations against the charge
// (Invoices) and reversal (CreditNotes) document streams.
type Aggregator struct {
	sl      Querier
	resolve Resolver
	logger  *slog.Logger
}

// New builds an aggregator over a query client and entity catalog.
func New(sl Querier, catalog *servicelayer.Catalog, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		sl:      sl,
		resolve: catalogResolver{catalog},
		logger:  logger.With("component", "netsales"),
	}
}

// ProductSales is one row of a product ranking.
type ProductSales struct {
	ItemCode        string  `json:"ItemCode"`
	ItemDescription string  `json:"ItemDescription"`
	NetQuantitySold float64 `json:"NetQuantitySold"`
	NetSalesAmount  float64 `json:"NetSalesAmount"`
}

// CustomerSales is one row of a customer ranking.
type CustomerSales struct {
	CardCode       string  `json:"CardCode"`
	CardName       string  `json:"CardName"`
	NetSalesAmount float64 `json:"NetSalesAmount"`
	InvoiceCount   int     `json:"InvoiceCount"`
}

// TopProductsReport is the result of a product ranking over a date
// range. Products are ranked by net quantity sold.
type TopProductsReport struct {
	Success             bool           `json:"success"`
	DateRange           string         `json:"date_range"`
	InvoicesAnalyzed    int            `json:"total_invoices_analyzed"`
	CreditNotesAnalyzed int            `json:"total_credit_notes_analyzed"`
	Calculation         string         `json:"net_sales_calculation"`
	UniqueProducts      int            `json:"unique_products"`
	TopProducts         []ProductSales `json:"top_products"`
}

// TopCustomersReport is the result of a customer ranking over a date
// range. Customers are ranked by net purchase amount.
type TopCustomersReport struct {
	Success             bool            `json:"success"`
	DateRange           string          `json:"date_range"`
	InvoicesAnalyzed    int             `json:"total_invoices_analyzed"`
	CreditNotesAnalyzed int             `json:"total_credit_notes_analyzed"`
	Calculation         string          `json:"net_sales_calculation"`
	UniqueCustomers     int             `json:"unique_customers"`
	TopCustomers        []CustomerSales `json:"top_customers"`
}

// PerformanceSummary holds the derived scalars of a salesperson review.
type PerformanceSummary struct {
	TotalInvoices        int     `json:"total_invoices"`
	TotalCreditNotes     int     `json:"total_credit_notes"`
	GrossSales           float64 `json:"gross_sales"`
	Returns              float64 `json:"returns"`
	NetSales             float64 `json:"net_sales"`
	ReturnRatePercent    float64 `json:"return_rate_percent"`
	AverageInvoiceAmount float64 `json:"average_invoice_amount"`
	UniqueCustomers      int     `json:"unique_customers"`
	UniqueProductsSold   int     `json:"unique_products_sold"`
}

// ImprovementFlags are coaching signals derived from the summary.
type ImprovementFlags struct {
	HighReturnRate       bool `json:"high_return_rate"`
	LowCustomerDiversity bool `json:"low_customer_diversity"`
	LowProductDiversity  bool `json:"low_product_diversity"`
}

// PerformanceReport is the result of a salesperson review.
type PerformanceReport struct {
	Success         bool               `json:"success"`
	SalesPersonCode string             `json:"sales_person_code"`
	DateRange       string             `json:"date_range"`
	Summary         PerformanceSummary `json:"summary"`
	TopProducts     []ProductSales     `json:"top_products"`
	TopCustomers    []CustomerSales    `json:"top_customers"`
	Opportunities   ImprovementFlags   `json:"improvement_opportunities"`
}

// fetchDocs pulls the complete document set for one entity and projects
// the rows into typed documents. filter and sel are passed through to
// the service.
func (a *Aggregator) fetchDocs(ctx context.Context, entity, sel, filter string) ([]Document, error) {
	path, ok := a.resolve.Describe(entity)
	if !ok {
		return nil, fmt.Errorf("entity %q not configured", entity)
	}

	res := a.sl.Query(ctx, servicelayer.QueryRequest{
		Entity: entity,
		Path:   path,
		Filter: filter,
		Select: sel,
	})
	if !res.Success {
		return nil, fmt.Errorf("fetch %s: %s", entity, res.Error)
	}

	docs := make([]Document, 0, len(res.Data))
	for _, rec := range res.Data {
		docs = append(docs, documentFrom(rec))
	}
	return docs, nil
}

// fetchStreams pulls the charge and reversal streams for a date filter.
// A charge-stream failure fails the whole aggregation; a reversal-stream
// failure degrades to gross figures with a warning, because a ranking
// without returns subtracted is still useful while a ranking without
// sales is not.
func (a *Aggregator) fetchStreams(ctx context.Context, sel, filter string) (charges, reversals []Document, err error) {
	charges, err = a.fetchDocs(ctx, "Invoices", sel, filter)
	if err != nil {
		return nil, nil, err
	}

	reversals, err = a.fetchDocs(ctx, "CreditNotes", sel, filter)
	if err != nil {
		a.logger.Warn("credit note fetch failed, reporting gross figures", "error", err)
		reversals = nil
	}
	return charges, reversals, nil
}

const netCalculation = "Invoices minus Credit Notes (items >= $3.00 only)"

// TopProducts ranks products by net quantity sold in [from, to].
func (a *Aggregator) TopProducts(ctx context.Context, from, to string, n int) (*TopProductsReport, error) {
	if err := validateRange(from, to); err != nil {
		return nil, err
	}
	if n <= 0 {
		n = DefaultTopN
	}

	charges, reversals, err := a.fetchStreams(ctx, "DocumentLines", dateFilter(from, to))
	if err != nil {
		return nil, err
	}

	products := productAccumulator{}
	for _, doc := range charges {
		products.apply(doc, +1)
	}
	for _, doc := range reversals {
		products.apply(doc, -1)
	}

	a.logger.Info("top products computed",
		"from", from, "to", to,
		"invoices", len(charges),
		"credit_notes", len(reversals),
		"unique_products", len(products),
	)

	return &TopProductsReport{
		Success:             true,
		DateRange:           from + " to " + to,
		InvoicesAnalyzed:    len(charges),
		CreditNotesAnalyzed: len(reversals),
		Calculation:         netCalculation,
		UniqueProducts:      len(products),
		TopProducts:         products.ranked(n, func(p *productTotals) float64 { return p.quantity }),
	}, nil
}

// TopCustomers ranks customers by net purchase amount in [from, to].
func (a *Aggregator) TopCustomers(ctx context.Context, from, to string, n int) (*TopCustomersReport, error) {
	if err := validateRange(from, to); err != nil {
		return nil, err
	}
	if n <= 0 {
		n = DefaultTopN
	}

	charges, reversals, err := a.fetchStreams(ctx, "CardCode,CardName,DocumentLines", dateFilter(from, to))
	if err != nil {
		return nil, err
	}

	customers := customerAccumulator{}
	for _, doc := range charges {
		customers.applyCharge(doc)
	}
	for _, doc := range reversals {
		customers.applyReversal(doc)
	}

	a.logger.Info("top customers computed",
		"from", from, "to", to,
		"invoices", len(charges),
		"credit_notes", len(reversals),
		"unique_customers", len(customers),
	)

	return &TopCustomersReport{
		Success:             true,
		DateRange:           from + " to " + to,
		InvoicesAnalyzed:    len(charges),
		CreditNotesAnalyzed: len(reversals),
		Calculation:         netCalculation,
		UniqueCustomers:     len(customers),
		TopCustomers:        customers.ranked(n),
	}, nil
}

// salesPersonCodePattern accepts the integer codes the service uses,
// including the -1 "no salesperson" sentinel. Anything else would break
// the filter expression.
var salesPersonCodePattern = regexp.MustCompile(`^-?\d+$`)

// SalesPersonPerformance reviews one salesperson's activity in
// [from, to]: gross and net sales, return rate, per-document average,
// diversity counts, the per-person product and customer rankings, and
// coaching flags.
func (a *Aggregator) SalesPersonPerformance(ctx context.Context, code, from, to string) (*PerformanceReport, error) {
	if err := validateRange(from, to); err != nil {
		return nil, err
	}
	if !salesPersonCodePattern.MatchString(code) {
		return nil, fmt.Errorf("invalid sales person code %q (want an integer code)", code)
	}

	filter := dateFilter(from, to) + " and SalesPersonCode eq " + code
	sel := "DocEntry,DocNum,CardCode,CardName,DocDate,DocTotal,DocumentLines"

	charges, reversals, err := a.fetchStreams(ctx, sel, filter)
	if err != nil {
		return nil, err
	}

	products := productAccumulator{}
	customers := customerAccumulator{}
	var grossSales, grossReturns float64

	for _, doc := range charges {
		products.apply(doc, +1)
		grossSales += customers.applyCharge(doc)
	}
	for _, doc := range reversals {
		products.apply(doc, -1)
		grossReturns += customers.applyReversal(doc)
	}

	netSales := grossSales - grossReturns

	var returnRate float64
	if grossSales > 0 {
		returnRate = grossReturns / grossSales * 100
	}

	var avgInvoice float64
	if len(charges) > 0 {
		avgInvoice = netSales / float64(len(charges))
	}

	a.logger.Info("sales person performance computed",
		"code", code,
		"from", from, "to", to,
		"invoices", len(charges),
		"credit_notes", len(reversals),
		"net_sales", round2(netSales),
	)

	return &PerformanceReport{
		Success:         true,
		SalesPersonCode: code,
		DateRange:       from + " to " + to,
		Summary: PerformanceSummary{
			TotalInvoices:        len(charges),
			TotalCreditNotes:     len(reversals),
			GrossSales:           round2(grossSales),
			Returns:              round2(grossReturns),
			NetSales:             round2(netSales),
			ReturnRatePercent:    round2(returnRate),
			AverageInvoiceAmount: round2(avgInvoice),
			UniqueCustomers:      len(customers),
			UniqueProductsSold:   len(products),
		},
		TopProducts:  products.ranked(DefaultTopN, func(p *productTotals) float64 { return p.amount }),
		TopCustomers: customers.ranked(DefaultTopN),
		Opportunities: ImprovementFlags{
			HighReturnRate:       returnRate > 10,
			LowCustomerDiversity: len(customers) < 10,
			LowProductDiversity:  len(products) < 20,
		},
	}, nil
}
