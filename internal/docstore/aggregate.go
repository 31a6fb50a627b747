package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/hashicorp/go-memdb"
	"github.com/shopspring/decimal"

	"github.com/aidanlsb/semanticdb/internal/condition"
	"github.com/aidanlsb/semanticdb/internal/dates"
	"github.com/aidanlsb/semanticdb/internal/logicform"
	"github.com/aidanlsb/semanticdb/internal/schema"
)

// Aggregate answers d from the documents matching its query: grouped and
// aggregated when d has groupby or preds, otherwise projected onto its
// props. Groups come out in first-seen order; having, sort and paging are
// left to the caller.
func (s *Store) Aggregate(ctx context.Context, d *logicform.Definition) ([]logicform.Row, error) {
	sch := d.BaseSchema()
	txn := s.db.Txn(false)
	defer txn.Abort()

	docs, err := s.match(ctx, txn, sch, d.Query())
	if err != nil {
		return nil, err
	}
	if d.IsSimple() {
		return s.project(txn, sch, docs, d.Props())
	}

	type group struct {
		row    logicform.Row
		docs   int
		values [][]any
	}
	var order []*group
	groups := make(map[string]*group)
	now := s.now()

	for _, doc := range docs {
		keyParts := make([]string, len(d.Groupby()))
		dimValues := make([]any, len(d.Groupby()))
		for i, dim := range d.Groupby() {
			v := s.follow(txn, doc, trimID(dim.Chain))
			if dim.Property.IsTemporal() && dim.Level != "" && v != nil {
				if t, ok := dates.ParseInstant(v, now); ok {
					v = dates.Label(t, dim.Level)
				}
			}
			dimValues[i] = v
			keyParts[i] = groupKeyPart(v)
		}
		b, _ := json.Marshal(keyParts)
		key := string(b)

		g, ok := groups[key]
		if !ok {
			g = &group{row: make(logicform.Row, len(dimValues)+len(d.Preds())), values: make([][]any, len(d.Preds()))}
			for i, dim := range d.Groupby() {
				g.row[dim.Name] = dimValues[i]
			}
			groups[key] = g
			order = append(order, g)
		}
		g.docs++
		for i, p := range d.Preds() {
			if p.Field == "" {
				continue
			}
			if v := s.follow(txn, doc, trimID(p.Chain)); v != nil {
				g.values[i] = append(g.values[i], v)
			}
		}
	}

	out := make([]logicform.Row, len(order))
	for n, g := range order {
		for i, p := range d.Preds() {
			v, err := s.aggregate(p, g.docs, g.values[i])
			if err != nil {
				return nil, fmt.Errorf("%s: %w", p.Name, err)
			}
			g.row[p.Name] = v
		}
		out[n] = g.row
	}
	return out, nil
}

func (s *Store) project(txn *memdb.Txn, sch *schema.Schema, docs []*document, props []string) ([]logicform.Row, error) {
	out := make([]logicform.Row, len(docs))
	if len(props) == 0 {
		for i, doc := range docs {
			out[i] = docRow(sch, doc)
		}
		return out, nil
	}
	chains := make([]schema.Chain, len(props))
	for i, name := range props {
		chain, err := s.lookup.ResolveChain(sch, name)
		if err != nil {
			return nil, &condition.ResolutionError{Schema: sch.ID, Path: name, Err: err}
		}
		chains[i] = trimID(chain)
	}
	for i, doc := range docs {
		row := make(logicform.Row, len(props))
		for j, name := range props {
			row[name] = s.follow(txn, doc, chains[j])
		}
		out[i] = row
	}
	return out, nil
}

func (s *Store) aggregate(p logicform.Pred, docs int, values []any) (any, error) {
	switch p.Operator {
	case logicform.AggCount:
		if p.Field == "" {
			return int64(docs), nil
		}
		return int64(len(values)), nil
	case logicform.AggUniq:
		seen := make(map[string]bool, len(values))
		for _, v := range values {
			seen[groupKeyPart(v)] = true
		}
		return int64(len(seen)), nil
	case logicform.AggSum, logicform.AggAvg:
		sum := decimal.Zero
		n := 0
		for _, v := range values {
			dv, ok := decimalOf(v)
			if !ok {
				continue
			}
			sum = sum.Add(dv)
			n++
		}
		if n == 0 {
			return nil, nil
		}
		if p.Operator == logicform.AggAvg {
			sum = sum.Div(decimal.NewFromInt(int64(n)))
		}
		return sum.InexactFloat64(), nil
	case logicform.AggMax, logicform.AggMin:
		if len(values) == 0 {
			return nil, nil
		}
		cmp := condition.ComparatorFor(p.Property, nil)
		best := values[0]
		for _, v := range values[1:] {
			c := cmp(v, best)
			if (p.Operator == logicform.AggMax && c > 0) || (p.Operator == logicform.AggMin && c < 0) {
				best = v
			}
		}
		return best, nil
	}
	fn, ok := s.funcs.Lookup(p.Operator)
	if !ok || fn.Eval == nil {
		return nil, fmt.Errorf("%w: %s", condition.ErrUnsupportedOperator, p.Operator)
	}
	if len(values) == 0 {
		return fn.Zero, nil
	}
	return fn.Eval(values, nil)
}

// trimID drops a trailing implicit id hop: the reference already holds it.
func trimID(chain schema.Chain) schema.Chain {
	if len(chain) > 1 && chain.Leaf().Name == schema.IDProperty {
		return chain[:len(chain)-1]
	}
	return chain
}

func groupKeyPart(v any) string {
	if v == nil {
		return "\x00null"
	}
	return fmt.Sprint(v)
}

func decimalOf(v any) (decimal.Decimal, bool) {
	switch tv := v.(type) {
	case decimal.Decimal:
		return tv, true
	case int:
		return decimal.NewFromInt(int64(tv)), true
	case int32:
		return decimal.NewFromInt32(tv), true
	case int64:
		return decimal.NewFromInt(tv), true
	case uint:
		return decimalOf(strconv.FormatUint(uint64(tv), 10))
	case uint64:
		return decimalOf(strconv.FormatUint(tv, 10))
	case float32:
		return decimal.NewFromFloat32(tv), true
	case float64:
		return decimal.NewFromFloat(tv), true
	case json.Number:
		d, err := decimal.NewFromString(tv.String())
		return d, err == nil
	case string:
		if _, err := strconv.ParseFloat(tv, 64); err != nil {
			return decimal.Decimal{}, false
		}
		d, err := decimal.NewFromString(tv)
		return d, err == nil
	}
	return decimal.Decimal{}, false
}
