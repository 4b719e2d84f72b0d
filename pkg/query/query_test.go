package query

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_ReadmeExample(t *testing.T) {
	q, err := Parse("reliability > 0.98 num_gpus=1 gpu_name=RTX_3090")
	require.NoError(t, err)

	require.Len(t, q.Constraints, 3)
	assert.Equal(t, Constraint{Field: "reliability2", Op: OpGt, Value: "0.98"}, q.Constraints[0])
	assert.Equal(t, Constraint{Field: "num_gpus", Op: OpEq, Value: "1"}, q.Constraints[1])
	assert.Equal(t, Constraint{Field: "gpu_name", Op: OpEq, Value: "RTX 3090"}, q.Constraints[2])
}

func TestParse_Empty(t *testing.T) {
	q, err := Parse("")
	require.NoError(t, err)
	assert.Empty(t, q.Constraints)

	q, err = Parse("   ")
	require.NoError(t, err)
	assert.Empty(t, q.Constraints)
}

func TestParse_Operators(t *testing.T) {
	tests := []struct {
		expr string
		op   Op
	}{
		{"dph_total<=0.5", OpLte},
		{"dph_total<0.5", OpLt},
		{"dph_total>=0.5", OpGte},
		{"dph_total>0.5", OpGt},
		{"num_gpus!=2", OpNeq},
		{"num_gpus==2", OpEq},
		{"num_gpus=2", OpEq},
		{"num_gpus gte 2", OpGte},
		{"num_gpus lt 2", OpLt},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			q, err := Parse(tt.expr)
			require.NoError(t, err)
			require.Len(t, q.Constraints, 1)
			assert.Equal(t, tt.op, q.Constraints[0].Op)
		})
	}
}

func TestParse_InList(t *testing.T) {
	q, err := Parse("gpu_name in [RTX_3090,RTX_4090]")
	require.NoError(t, err)
	require.Len(t, q.Constraints, 1)
	assert.Equal(t, OpIn, q.Constraints[0].Op)
	assert.Equal(t, []string{"RTX 3090", "RTX 4090"}, q.Constraints[0].Values)
}

func TestParse_FieldAliases(t *testing.T) {
	q, err := Parse("dph<0.5 cuda_vers>=11.8 dlperf_usd>100")
	require.NoError(t, err)

	require.Len(t, q.Constraints, 3)
	assert.Equal(t, "dph_total", q.Constraints[0].Field)
	assert.Equal(t, "cuda_max_good", q.Constraints[1].Field)
	assert.Equal(t, "dlperf_per_dphtotal", q.Constraints[2].Field)
}

func TestParse_UnitMultipliers(t *testing.T) {
	q, err := Parse("gpu_ram>=16 duration>1")
	require.NoError(t, err)

	require.Len(t, q.Constraints, 2)
	// GB to MB
	assert.Equal(t, "16000", q.Constraints[0].Value)
	// days to fraction-of-day seconds factor
	assert.InDelta(t, 1.0/86400.0, mustFloat(t, q.Constraints[1].Value), 1e-12)
}

func TestParse_DuplicateFieldPreserved(t *testing.T) {
	q, err := Parse("dph_total>0.1 dph_total<0.5")
	require.NoError(t, err)

	require.Len(t, q.Constraints, 2)
	assert.Equal(t, OpGt, q.Constraints[0].Op)
	assert.Equal(t, OpLt, q.Constraints[1].Op)

	params := q.Params("on-demand", false, false)
	ops := params["dph_total"].(map[string]any)
	assert.Equal(t, 0.1, ops["gt"])
	assert.Equal(t, 0.5, ops["lt"])
}

func TestParse_Wildcard(t *testing.T) {
	q, err := Parse("rentable=true rentable=any")
	require.NoError(t, err)
	assert.Empty(t, q.Constraints)

	_, err = Parse("rentable > any")
	var mqe *MalformedQueryError
	require.ErrorAs(t, err, &mqe)
	assert.Contains(t, mqe.Reason, "wildcard")
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		expr string
	}{
		{"unknown field", "bogus_field=1"},
		{"unknown operator", "num_gpus ~ 1"},
		{"blank value", "num_gpus="},
		{"bare field", "num_gpus"},
		{"non numeric multiplier field", "gpu_ram>=lots"},
		// Sortable-only columns are not filterable.
		{"score is not filterable", "score>100"},
		{"gpu_frac is not filterable", "gpu_frac=0.5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.expr)
			var mqe *MalformedQueryError
			require.ErrorAs(t, err, &mqe)
			assert.NotEmpty(t, mqe.Reason)
		})
	}
}

func TestParseSort(t *testing.T) {
	order, err := ParseSort("num_gpus,dph-,score+")
	require.NoError(t, err)

	require.Len(t, order, 3)
	assert.Equal(t, Sort{Field: "num_gpus"}, order[0])
	assert.Equal(t, Sort{Field: "dph_total", Descending: true}, order[1])
	assert.Equal(t, Sort{Field: "score"}, order[2])
}

func TestParseSort_Empty(t *testing.T) {
	order, err := ParseSort("")
	require.NoError(t, err)
	assert.Empty(t, order)
}

func TestString_RoundTrip(t *testing.T) {
	exprs := []string{
		"reliability > 0.98 num_gpus=1 gpu_name=RTX_3090",
		"dph<0.5 verified=true",
		"gpu_name in [RTX_3090,RTX_4090] num_gpus>=2",
		"gpu_ram>=16 cpu_ram>=32",
	}

	for _, expr := range exprs {
		t.Run(expr, func(t *testing.T) {
			q1, err := Parse(expr)
			require.NoError(t, err)

			q2, err := Parse(q1.String())
			require.NoError(t, err)

			assert.Equal(t, q1.Constraints, q2.Constraints)
		})
	}
}

func TestParams(t *testing.T) {
	q, err := Parse("reliability > 0.98 num_gpus=1 gpu_name=RTX_3090")
	require.NoError(t, err)
	q.Order, err = ParseSort("dph-")
	require.NoError(t, err)

	params := q.Params("on-demand", true, false)

	assert.Equal(t, map[string]any{"eq": true}, params["verified"])
	assert.Equal(t, map[string]any{"eq": false}, params["external"])
	assert.Equal(t, map[string]any{"eq": true}, params["rentable"])
	assert.Equal(t, map[string]any{"gt": 0.98}, params["reliability2"])
	assert.Equal(t, map[string]any{"eq": 1.0}, params["num_gpus"])
	assert.Equal(t, map[string]any{"eq": "RTX 3090"}, params["gpu_name"])
	assert.Equal(t, [][]string{{"dph_total", "desc"}}, params["order"])
	assert.Equal(t, "on-demand", params["type"])
	assert.NotContains(t, params, "disable_bundling")
}

func TestParams_InterruptibleMapsToBid(t *testing.T) {
	params := Query{}.Params("interruptible", false, true)
	assert.Equal(t, "bid", params["type"])
	assert.Equal(t, true, params["disable_bundling"])
}

func mustFloat(t *testing.T, s string) float64 {
	t.Helper()
	f, err := strconv.ParseFloat(s, 64)
	require.NoError(t, err)
	return f
}
