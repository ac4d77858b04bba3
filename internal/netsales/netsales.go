// Package netsales computes net sales metrics from two document
// streams: charge documents (invoices) add to the totals, reversal
// documents (credit notes) subtract. A fixed price floor excludes cheap
// line items from every sum — it is a global business rule, not a
// per-call option. All three entry points fetch the complete document
// set for their date range; correctness requires every document, not a
// sample.
package netsales

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// PriceFloor is the minimum unit price (in the system's base currency)
// a line item must meet to count toward any aggregation. Lines strictly
// below it are ignored everywhere.
const PriceFloor = 3.0

// Line is one typed document line, projected out of the loosely typed
// records the service returns. It never leaves this package.
type Line struct {
	ItemCode    string
	Price       float64
	Quantity    float64
	LineTotal   float64
	Description string
}

// qualifies reports whether the line clears the price floor.
func (l Line) qualifies() bool {
	return l.Price >= PriceFloor
}

// Document is one charge or reversal document with its lines.
type Document struct {
	CardCode string
	CardName string
	Lines    []Line
}

// qualifyingTotal sums the line totals that clear the price floor.
func (d Document) qualifyingTotal() float64 {
	var total float64
	for _, l := range d.Lines {
		if l.qualifies() {
			total += l.LineTotal
		}
	}
	return total
}

// toFloat coerces the dynamic numeric shapes JSON decoding produces.
func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}

func toString(v any) string {
	s, _ := v.(string)
	return s
}

// documentFrom projects a raw record into a typed Document. Unknown or
// malformed fields become zero values; the dynamic shape stops here.
func documentFrom(rec map[string]any) Document {
	doc := Document{
		CardCode: toString(rec["CardCode"]),
		CardName: toString(rec["CardName"]),
	}

	rawLines, _ := rec["DocumentLines"].([]any)
	for _, rl := range rawLines {
		m, ok := rl.(map[string]any)
		if !ok {
			continue
		}
		doc.Lines = append(doc.Lines, Line{
			ItemCode:    toString(m["ItemCode"]),
			Price:       toFloat(m["Price"]),
			Quantity:    toFloat(m["Quantity"]),
			LineTotal:   toFloat(m["LineTotal"]),
			Description: toString(m["ItemDescription"]),
		})
	}
	return doc
}

// round2 rounds to two decimals for report output.
func round2(x float64) float64 {
	return math.Round(x*100) / 100
}

// dateFilter builds the inclusive calendar-date range filter.
func dateFilter(from, to string) string {
	return fmt.Sprintf("DocDate ge '%s' and DocDate le '%s'", from, to)
}

// validateRange checks both bounds are YYYY-MM-DD calendar dates.
func validateRange(from, to string) error {
	for _, d := range []string{from, to} {
		if _, err := time.Parse("2006-01-02", d); err != nil {
			return fmt.Errorf("invalid date %q (want YYYY-MM-DD)", d)
		}
	}
	return nil
}

// productTotals accumulates one item's running net figures.
type productTotals struct {
	quantity    float64
	amount      float64
	description string
}

// productAccumulator maps item code → running totals for one call. The
// two streams share it: charges apply with sign +1, reversals with -1.
type productAccumulator map[string]*productTotals

func (acc productAccumulator) apply(doc Document, sign float64) {
	for _, l := range doc.Lines {
		if l.ItemCode == "" || !l.qualifies() {
			continue
		}
		p := acc[l.ItemCode]
		if p == nil {
			p = &productTotals{}
			acc[l.ItemCode] = p
		}
		p.quantity += sign * l.Quantity
		p.amount += sign * l.LineTotal
		if p.description == "" && l.Description != "" {
			p.description = l.Description
		}
	}
}

// ranked returns the accumulator's entries sorted by the given key,
// descending, truncated to n.
func (acc productAccumulator) ranked(n int, key func(*productTotals) float64) []ProductSales {
	type kv struct {
		code string
		t    *productTotals
	}
	items := make([]kv, 0, len(acc))
	for code, t := range acc {
		items = append(items, kv{code, t})
	}
	sort.Slice(items, func(i, j int) bool {
		a, b := key(items[i].t), key(items[j].t)
		if a != b {
			return a > b
		}
		return items[i].code < items[j].code // stable output for ties
	})
	if n > 0 && len(items) > n {
		items = items[:n]
	}

	out := make([]ProductSales, len(items))
	for i, it := range items {
		out[i] = ProductSales{
			ItemCode:        it.code,
			ItemDescription: it.t.description,
			NetQuantitySold: round2(it.t.quantity),
			NetSalesAmount:  round2(it.t.amount),
		}
	}
	return out
}

// customerTotals accumulates one customer's running net figures.
type customerTotals struct {
	name     string
	amount   float64
	invoices int
}

// customerAccumulator maps card code → running totals for one call.
type customerAccumulator map[string]*customerTotals

// applyCharge attributes a charge document's qualifying total to its
// customer. Documents whose qualifying total is not positive are
// ignored entirely — they neither create the customer nor bump the
// invoice counter.
func (acc customerAccumulator) applyCharge(doc Document) float64 {
	total := doc.qualifyingTotal()
	if total <= 0 || doc.CardCode == "" {
		return 0
	}
	c := acc[doc.CardCode]
	if c == nil {
		c = &customerTotals{}
		acc[doc.CardCode] = c
	}
	c.name = doc.CardName
	c.amount += total
	c.invoices++
	return total
}

// applyReversal subtracts a reversal document's qualifying total from
// a customer that charge documents already established. A customer with
// only reversals never appears in the ranking — the returned total
// still feeds the gross-returns scalar. The name is backfilled if the
// charge side left it empty; the invoice counter never moves.
func (acc customerAccumulator) applyReversal(doc Document) float64 {
	total := doc.qualifyingTotal()
	if total <= 0 || doc.CardCode == "" {
		return 0
	}
	c := acc[doc.CardCode]
	if c == nil {
		return total
	}
	if c.name == "" {
		c.name = doc.CardName
	}
	c.amount -= total
	return total
}

func (acc customerAccumulator) ranked(n int) []CustomerSales {
	type kv struct {
		code string
		t    *customerTotals
	}
	items := make([]kv, 0, len(acc))
	for code, t := range acc {
		items = append(items, kv{code, t})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].t.amount != items[j].t.amount {
			return items[i].t.amount > items[j].t.amount
		}
		return items[i].code < items[j].code
	})
	if n > 0 && len(items) > n {
		items = items[:n]
	}

	out := make([]CustomerSales, len(items))
	for i, it := range items {
		out[i] = CustomerSales{
			CardCode:       it.code,
			CardName:       it.t.name,
			NetSalesAmount: round2(it.t.amount),
			InvoiceCount:   it.t.invoices,
		}
	}
	return out
}
