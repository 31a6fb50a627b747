// Package condition evaluates and encodes query-condition trees: in memory
// against result rows, or as SQL WHERE/HAVING fragments.
package condition

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/aidanlsb/semanticdb/internal/dates"
	"github.com/aidanlsb/semanticdb/internal/schema"
)

// Comparator orders two values. Nil sorts before everything else.
type Comparator func(a, b any) int

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case decimal.Decimal:
		return n.InexactFloat64(), true
	case []byte:
		return toNumber(string(n))
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

type cmpKind int

const (
	cmpNil cmpKind = iota
	cmpNumber
	cmpTemporal
	cmpString
)

type cmpVal struct {
	kind cmpKind
	num  float64
	t    time.Time
	s    string
}

func normalizeForCompare(v any) cmpVal {
	if v == nil {
		return cmpVal{kind: cmpNil}
	}
	switch vv := v.(type) {
	case *string:
		if vv == nil {
			return cmpVal{kind: cmpNil}
		}
		v = *vv
	case []byte:
		v = string(vv)
	case time.Time:
		return cmpVal{kind: cmpTemporal, t: vv, s: vv.Format(time.RFC3339)}
	}

	if n, ok := toNumber(v); ok {
		return cmpVal{kind: cmpNumber, num: n, s: fmt.Sprint(v)}
	}

	if s, ok := v.(string); ok {
		s = strings.TrimSpace(s)
		if dates.IsValidDatetime(s) {
			if t, err := dates.ParseDatetime(s); err == nil {
				return cmpVal{kind: cmpTemporal, t: t, s: s}
			}
		}
		if dates.IsValidDate(s) {
			if t, err := dates.ParseDate(s); err == nil {
				return cmpVal{kind: cmpTemporal, t: t, s: s}
			}
		}
		return cmpVal{kind: cmpString, s: s}
	}

	return cmpVal{kind: cmpString, s: fmt.Sprint(v)}
}

// Compare orders two untyped values: numbers numerically, dates and
// datetimes by instant, anything else by its string form.
func Compare(a, b any) int {
	av := normalizeForCompare(a)
	bv := normalizeForCompare(b)

	if av.kind == cmpNil || bv.kind == cmpNil {
		return nilOrder(av.kind == cmpNil, bv.kind == cmpNil)
	}
	if av.kind == cmpNumber && bv.kind == cmpNumber {
		return compareFloat(av.num, bv.num)
	}
	if av.kind == cmpTemporal && bv.kind == cmpTemporal {
		return av.t.Compare(bv.t)
	}
	return strings.Compare(av.s, bv.s)
}

func nilOrder(aNil, bNil bool) int {
	switch {
	case aNil && bNil:
		return 0
	case aNil:
		return -1
	default:
		return 1
	}
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// NewCollator returns a collator for a BCP 47 locale tag. An empty or
// unparseable tag collates with the root locale.
func NewCollator(locale string) *collate.Collator {
	tag, err := language.Parse(locale)
	if err != nil {
		tag = language.Und
	}
	return collate.New(tag)
}

// ComparatorFor picks the ordering for values of prop: numeric, temporal,
// declared enum rank, or locale collation for everything else. A nil prop
// (an aggregate alias, say) orders with Compare.
//
// The returned comparator shares col and is not safe for concurrent use.
func ComparatorFor(prop *schema.Property, col *collate.Collator) Comparator {
	switch {
	case prop == nil:
		return Compare
	case prop.IsNumeric():
		return numericComparator
	case prop.IsTemporal():
		return temporalComparator
	case prop.IsEnum():
		return enumComparator(prop, col)
	default:
		return stringComparator(col)
	}
}

func numericComparator(a, b any) int {
	an, aok := toNumber(a)
	bn, bok := toNumber(b)
	if !aok || !bok {
		if a == nil || b == nil {
			return nilOrder(a == nil, b == nil)
		}
		return Compare(a, b)
	}
	return compareFloat(an, bn)
}

func temporalComparator(a, b any) int {
	now := time.Now()
	at, aok := dates.ParseInstant(a, now)
	bt, bok := dates.ParseInstant(b, now)
	if !aok || !bok {
		if !aok && !bok {
			return Compare(a, b)
		}
		return nilOrder(!aok, !bok)
	}
	return at.Compare(bt)
}

// enumComparator orders by declared rank. Undeclared values sort after
// declared ones, among themselves by collation.
func enumComparator(prop *schema.Property, col *collate.Collator) Comparator {
	str := stringComparator(col)
	return func(a, b any) int {
		if a == nil || b == nil {
			return nilOrder(a == nil, b == nil)
		}
		ar := prop.EnumRank(fmt.Sprint(a))
		br := prop.EnumRank(fmt.Sprint(b))
		switch {
		case ar >= 0 && br >= 0:
			return ar - br
		case ar >= 0:
			return -1
		case br >= 0:
			return 1
		default:
			return str(a, b)
		}
	}
}

func stringComparator(col *collate.Collator) Comparator {
	if col == nil {
		return Compare
	}
	return func(a, b any) int {
		if a == nil || b == nil {
			return nilOrder(a == nil, b == nil)
		}
		return col.CompareString(stringOf(a), stringOf(b))
	}
}

func stringOf(v any) string {
	switch tv := v.(type) {
	case string:
		return tv
	case []byte:
		return string(tv)
	default:
		return fmt.Sprint(v)
	}
}
