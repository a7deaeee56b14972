package order

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func strs(ds []decimal.Decimal) []string {
	out := make([]string, len(ds))
	for i, x := range ds {
		out[i] = x.String()
	}
	return out
}

func TestMaxChildQty(t *testing.T) {
	tests := []struct {
		name    string
		limit   string
		ref     string
		ceiling string
		step    string
		want    string
		wantErr bool
	}{
		{name: "no ceiling", limit: "0", ref: "0", ceiling: "0", step: "0", want: "0"},
		{name: "limit price wins", limit: "2", ref: "4", ceiling: "300", step: "0", want: "150"},
		{name: "reference price fallback", limit: "0", ref: "4", ceiling: "300", step: "0", want: "75"},
		{name: "rounded down to step", limit: "7", ref: "0", ceiling: "100", step: "0.5", want: "14"},
		{name: "no price", limit: "0", ref: "0", ceiling: "100", step: "0", wantErr: true},
		{name: "ceiling below one step", limit: "1", ref: "0", ceiling: "0.5", step: "1", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MaxChildQty(d(tt.limit), d(tt.ref), d(tt.ceiling), d(tt.step))
			if tt.wantErr {
				require.ErrorIs(t, err, ErrSplit)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestSplitRespectsCeiling(t *testing.T) {
	assert.Equal(t, []string{"300", "300", "300", "100"}, strs(Split(d("1000"), d("300"))))
	assert.Equal(t, []string{"300", "300"}, strs(Split(d("600"), d("300"))))
	assert.Equal(t, []string{"5"}, strs(Split(d("5"), d("0"))))
}

func TestApportionSumsToQuantity(t *testing.T) {
	out, err := Apportion(d("1"), []decimal.Decimal{d("1"), d("1"), d("1")}, d("0.1"))
	require.NoError(t, err)
	assert.Equal(t, []string{"0.3", "0.3", "0.4"}, strs(out))

	out, err = Apportion(d("10"), []decimal.Decimal{d("2"), d("0"), d("3")}, decimal.Zero)
	require.NoError(t, err)
	assert.Equal(t, []string{"4", "0", "6"}, strs(out))

	_, err = Apportion(d("10"), nil, decimal.Zero)
	require.ErrorIs(t, err, ErrSplit)
	_, err = Apportion(d("10"), []decimal.Decimal{d("0")}, decimal.Zero)
	require.ErrorIs(t, err, ErrSplit)
	_, err = Apportion(d("10"), []decimal.Decimal{d("-1"), d("2")}, decimal.Zero)
	require.ErrorIs(t, err, ErrSplit)
}

func TestPlanBatches(t *testing.T) {
	base := ParentRequest{Request: Request{Qty: d("1000"), Price: d("1")}, Ceiling: d("300")}

	plan, err := Plan(base)
	require.NoError(t, err)
	require.Len(t, plan, 1)
	assert.Equal(t, []string{"300", "300", "300", "100"}, strs(plan[0]))

	twap := base
	twap.Schedule = Schedule{Policy: PolicyTWAP, Slices: 4}
	plan, err = Plan(twap)
	require.NoError(t, err)
	require.Len(t, plan, 4)
	for _, batch := range plan {
		assert.Equal(t, []string{"250"}, strs(batch))
	}

	vwap := base
	vwap.Schedule = Schedule{Policy: PolicyVWAP, Curve: []decimal.Decimal{d("1"), d("0"), d("4")}}
	plan, err = Plan(vwap)
	require.NoError(t, err)
	require.Len(t, plan, 2, "empty interval is skipped")
	assert.Equal(t, []string{"200"}, strs(plan[0]))
	assert.Equal(t, []string{"300", "300", "200"}, strs(plan[1]))

	bad := base
	bad.Schedule = Schedule{Policy: "ICEBERG"}
	_, err = Plan(bad)
	require.ErrorIs(t, err, ErrSplit)
}
