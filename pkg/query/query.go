// Package query translates the human-readable offer search DSL used by the
// Vast.ai console (`reliability > 0.98 num_gpus=1 gpu_name=RTX_3090`) into
// the structured parameter set the /bundles/ endpoint expects.
package query

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Op is a comparison operator in its canonical wire form.
type Op string

const (
	OpEq    Op = "eq"
	OpNeq   Op = "neq"
	OpGt    Op = "gt"
	OpGte   Op = "gte"
	OpLt    Op = "lt"
	OpLte   Op = "lte"
	OpIn    Op = "in"
	OpNotIn Op = "notin"
)

// Constraint is one parsed comparison. For OpIn/OpNotIn the Values slice is
// populated instead of Value.
type Constraint struct {
	Field  string
	Op     Op
	Value  string
	Values []string
}

// Sort is one sort directive. Fields are sorted ascending unless Descending
// is set (a trailing '-' on the sort token).
type Sort struct {
	Field      string
	Descending bool
}

// Query is the parsed form of a filter expression plus sort order. It is an
// ephemeral value used within a single search call.
type Query struct {
	Constraints []Constraint
	Order       []Sort
}

// MalformedQueryError reports a filter expression that could not be parsed.
type MalformedQueryError struct {
	Input  string
	Reason string
}

func (e *MalformedQueryError) Error() string {
	return fmt.Sprintf("malformed query %q: %s", e.Input, e.Reason)
}

func malformed(input, format string, args ...any) *MalformedQueryError {
	return &MalformedQueryError{Input: input, Reason: fmt.Sprintf(format, args...)}
}

// opNames maps every accepted operator spelling to its canonical form.
var opNames = map[string]Op{
	">=": OpGte, ">": OpGt, "gt": OpGt, "gte": OpGte,
	"<=": OpLte, "<": OpLt, "lt": OpLt, "lte": OpLte,
	"!=": OpNeq, "==": OpEq, "=": OpEq, "eq": OpEq,
	"neq": OpNeq, "noteq": OpNeq, "not eq": OpNeq,
	"notin": OpNotIn, "not in": OpNotIn, "nin": OpNotIn, "in": OpIn,
}

// opSymbols is the preferred spelling when re-serializing a Query.
var opSymbols = map[Op]string{
	OpEq: "=", OpNeq: "!=", OpGt: ">", OpGte: ">=",
	OpLt: "<", OpLte: "<=", OpIn: "in", OpNotIn: "notin",
}

// fieldAlias maps the user-facing field names onto the names the search
// endpoint actually indexes.
var fieldAlias = map[string]string{
	"cuda_vers":      "cuda_max_good",
	"display_active": "gpu_display_active",
	"reliability":    "reliability2",
	"dlperf_usd":     "dlperf_per_dphtotal",
	"dph":            "dph_total",
	"flops_usd":      "flops_per_dphtotal",
}

// fieldMultiplier converts user units to wire units: RAM fields are queried
// in GB but indexed in MB, duration is queried in days but indexed in
// seconds.
var fieldMultiplier = map[string]float64{
	"cpu_ram":  1000,
	"gpu_ram":  1000,
	"duration": 1.0 / (24.0 * 60.0 * 60.0),
}

// searchFields is the set of canonical field names the search endpoint
// accepts. Anything else is rejected before a request is made.
var searchFields = map[string]bool{
	"bw_nvlink": true, "compute_cap": true, "cpu_cores": true,
	"cpu_cores_effective": true, "cpu_ram": true, "cuda_max_good": true,
	"direct_port_count": true, "driver_version": true, "disk_bw": true,
	"disk_space": true, "dlperf": true, "dlperf_per_dphtotal": true,
	"dph_total": true, "duration": true, "external": true,
	"flops_per_dphtotal": true, "gpu_display_active": true, "gpu_mem_bw": true,
	"gpu_name": true, "gpu_ram": true, "has_avx": true,
	"host_id": true, "id": true, "inet_down": true, "inet_down_cost": true,
	"inet_up": true, "inet_up_cost": true, "machine_id": true, "min_bid": true,
	"mobo_name": true, "num_gpus": true, "pci_gen": true, "pcie_bw": true,
	"reliability2": true, "rentable": true, "rented": true,
	"storage_cost": true, "total_flops": true, "verification": true,
	"verified": true,
}

// tokenPattern matches one `field op value` comparison. The word-form
// operators require surrounding spaces, the symbolic ones do not.
var tokenPattern = regexp.MustCompile(
	`([a-zA-Z0-9_]+)( *[=><!]+| +(?:[lg]te?|nin|neq|eq|not ?eq|not ?in|in) )?( *)(\[[^\]]+\]|[^ ]+)?( *)`)

// Parse converts a filter expression into a Query with no sort order. An
// empty expression parses to a Query with no constraints (match everything).
func Parse(expr string) (Query, error) {
	q := Query{}
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return q, nil
	}

	matches := tokenPattern.FindAllStringSubmatch(expr, -1)

	// If concatenating every match does not reproduce the input, part of
	// the expression was unparseable.
	var joined strings.Builder
	for _, m := range matches {
		joined.WriteString(m[0])
	}
	if joined.String() != expr {
		return q, malformed(expr, "unconsumed text near %q", strings.TrimPrefix(expr, joined.String()))
	}

	for _, m := range matches {
		field, opToken, value := m[1], strings.TrimSpace(m[2]), strings.Trim(m[4], ",[]")

		if field == "" {
			return q, malformed(expr, "comparison with blank field")
		}
		op, ok := opNames[opToken]
		if !ok {
			return q, malformed(expr, "unknown operator %q", opToken)
		}
		if value == "" {
			return q, malformed(expr, "comparison %s %s has a blank value", field, opToken)
		}

		if alias, ok := fieldAlias[field]; ok {
			field = alias
		}
		if !searchFields[field] {
			return q, malformed(expr, "unrecognized search field %q", field)
		}

		// A wildcard value removes any prior constraint on the field,
		// turning it back into "match any".
		if value == "any" || value == "*" || value == "?" {
			if op != OpEq {
				return q, malformed(expr, "wildcard value only makes sense with equals")
			}
			kept := q.Constraints[:0]
			for _, c := range q.Constraints {
				if c.Field != field {
					kept = append(kept, c)
				}
			}
			q.Constraints = kept
			continue
		}

		c := Constraint{Field: field, Op: op}
		switch op {
		case OpIn, OpNotIn:
			for _, v := range strings.Split(value, ",") {
				if v = strings.TrimSpace(v); v != "" {
					c.Values = append(c.Values, decodeValue(v))
				}
			}
			if len(c.Values) == 0 {
				return q, malformed(expr, "comparison %s %s has an empty list", field, opToken)
			}
		default:
			v := value
			if mult, ok := fieldMultiplier[field]; ok {
				f, err := strconv.ParseFloat(v, 64)
				if err != nil {
					return q, malformed(expr, "field %s requires a numeric value, got %q", field, v)
				}
				v = strconv.FormatFloat(f*mult, 'f', -1, 64)
			}
			c.Value = decodeValue(v)
		}
		q.Constraints = append(q.Constraints, c)
	}
	return q, nil
}

// ParseSort parses a comma-separated sort order such as "num_gpus,dph-".
// A trailing '-' sorts descending, a trailing '+' (or nothing) ascending.
func ParseSort(order string) ([]Sort, error) {
	var out []Sort
	for _, name := range strings.Split(order, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		s := Sort{}
		switch {
		case strings.HasSuffix(name, "-"):
			s.Descending = true
			name = strings.TrimSuffix(name, "-")
		case strings.HasSuffix(name, "+"):
			name = strings.TrimSuffix(name, "+")
		}
		if alias, ok := fieldAlias[name]; ok {
			name = alias
		}
		if name == "" || strings.ContainsAny(name, "+-") {
			return nil, malformed(order, "invalid sort field %q", name)
		}
		s.Field = name
		out = append(out, s)
	}
	return out, nil
}

// String re-serializes the query to the filter DSL. Parsing the result
// yields an equivalent constraint set (aliases and unit multipliers are
// already applied, so the canonical names round-trip unchanged).
func (q Query) String() string {
	parts := make([]string, 0, len(q.Constraints))
	for _, c := range q.Constraints {
		switch c.Op {
		case OpIn, OpNotIn:
			encoded := make([]string, len(c.Values))
			for i, v := range c.Values {
				encoded[i] = encodeValue(v)
			}
			parts = append(parts, fmt.Sprintf("%s %s [%s]", c.Field, opSymbols[c.Op], strings.Join(encoded, ",")))
		default:
			v := c.Value
			// Undo the unit multiplier so that reparsing the output
			// reapplies it and lands on the same wire value.
			if mult, ok := fieldMultiplier[c.Field]; ok {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					v = strconv.FormatFloat(f/mult, 'f', -1, 64)
				}
			}
			parts = append(parts, fmt.Sprintf("%s%s%s", c.Field, opSymbols[c.Op], encodeValue(v)))
		}
	}
	return strings.Join(parts, " ")
}

// SortString re-serializes the sort order to its token form.
func (q Query) SortString() string {
	parts := make([]string, 0, len(q.Order))
	for _, s := range q.Order {
		if s.Descending {
			parts = append(parts, s.Field+"-")
		} else {
			parts = append(parts, s.Field)
		}
	}
	return strings.Join(parts, ",")
}

// Params assembles the value for the `q` URL parameter of the search
// endpoint: a map of field -> {op: value} plus the order and offer type.
// When defaults is true the standard verified/external/rentable constraints
// are included unless the expression overrides them.
func (q Query) Params(offerType string, defaults bool, disableBundling bool) map[string]any {
	params := map[string]any{}
	if defaults {
		params["verified"] = map[string]any{"eq": true}
		params["external"] = map[string]any{"eq": false}
		params["rentable"] = map[string]any{"eq": true}
	}
	for _, c := range q.Constraints {
		ops, ok := params[c.Field].(map[string]any)
		if !ok {
			ops = map[string]any{}
			params[c.Field] = ops
		}
		switch c.Op {
		case OpIn, OpNotIn:
			typed := make([]any, len(c.Values))
			for i, v := range c.Values {
				typed[i] = typedValue(v)
			}
			ops[string(c.Op)] = typed
		default:
			ops[string(c.Op)] = typedValue(c.Value)
		}
	}

	order := make([][]string, 0, len(q.Order))
	for _, s := range q.Order {
		dir := "asc"
		if s.Descending {
			dir = "desc"
		}
		order = append(order, []string{s.Field, dir})
	}
	params["order"] = order

	if offerType == "interruptible" {
		offerType = "bid"
	}
	params["type"] = offerType
	if disableBundling {
		params["disable_bundling"] = true
	}
	return params
}

// decodeValue maps the DSL's underscore convention back to spaces so that
// gpu_name=RTX_3090 matches the stored "RTX 3090".
func decodeValue(v string) string {
	return strings.ReplaceAll(v, "_", " ")
}

func encodeValue(v string) string {
	return strings.ReplaceAll(v, " ", "_")
}

// typedValue converts a string constraint value to the JSON type the search
// endpoint indexes: bool, number, or string.
func typedValue(v string) any {
	switch v {
	case "true", "True":
		return true
	case "false", "False":
		return false
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return v
}

// Fields returns the sorted list of permitted canonical search fields.
// Exposed for help text.
func Fields() []string {
	out := make([]string, 0, len(searchFields))
	for f := range searchFields {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}
