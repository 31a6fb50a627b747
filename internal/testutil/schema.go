// Package testutil provides fixtures and CLI helpers for sdb tests.
package testutil

import (
	"testing"

	"github.com/aidanlsb/semanticdb/internal/schema"
)

// SalesSchemaYAML is the shared fixture: an order event referencing a
// customer entity, which references a city.
const SalesSchemaYAML = `
version: 1
schemas:
  - id: city
    kind: entity
    properties:
      - name: name
        type: string
      - name: country
        type: string
  - id: customer
    kind: entity
    properties:
      - name: name
        type: string
      - name: tier
        type: enum
        values: [bronze, silver, gold]
        scd: true
      - name: city
        type: object
        ref: city
  - id: sales-order
    kind: event
    properties:
      - name: region
        type: enum
        values: [E, W, N]
      - name: status
        type: enum
        values: [active, pending, cancelled]
      - name: customer
        type: object
        ref: customer
      - name: order_date
        type: date
      - name: express
        type: boolean
      - name: amount
        type: currency
      - name: quantity
        type: number
      - name: note
        type: string
`

// SalesLookup parses SalesSchemaYAML.
func SalesLookup(t testing.TB) schema.Lookup {
	t.Helper()
	l, err := schema.Parse([]byte(SalesSchemaYAML))
	if err != nil {
		t.Fatalf("parse sales schema: %v", err)
	}
	return l
}

// SalesOrder returns the sales-order schema from l.
func SalesOrder(t testing.TB, l schema.Lookup) *schema.Schema {
	t.Helper()
	s, ok := l.Get("sales-order")
	if !ok {
		t.Fatalf("sales-order schema missing")
	}
	return s
}

// SalesDatasetYAML holds rows for SalesSchemaYAML. Orders are spread over
// January to March 2025; no order is placed in the N region.
const SalesDatasetYAML = `
city:
  - {id: c-ams, name: Amsterdam, country: NL}
  - {id: c-par, name: Paris, country: FR}
customer:
  - {id: u1, name: Acme, tier: gold, city: c-ams}
  - {id: u2, name: Globex, tier: silver, city: c-par}
  - {id: u3, name: Initech, tier: gold, city: c-par}
sales-order:
  - {id: o1, region: E, status: active, customer: u1, order_date: "2025-01-05", express: true, amount: 10, quantity: 1}
  - {id: o2, region: W, status: active, customer: u2, order_date: "2025-01-20", express: false, amount: 20, quantity: 2}
  - {id: o3, region: E, status: pending, customer: u3, order_date: "2025-02-11", express: false, amount: 5, quantity: 1}
  - {id: o4, region: W, status: active, customer: u1, order_date: "2025-03-02", express: true, amount: 15, quantity: 3}
  - {id: o5, region: E, status: cancelled, customer: u2, order_date: "2025-03-15", express: false, amount: 7, quantity: 1}
`
