package fixedpoint_test

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/driftscout/polycopy/pkg/fixedpoint"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestQuantizeCentsRoundsHalfToEven(t *testing.T) {
	cases := map[string]string{
		"1.005": "1.00",
		"1.015": "1.02",
		"1.025": "1.02",
		"2.675": "2.68",
	}
	for in, want := range cases {
		got := fixedpoint.QuantizeCents(d(in)).StringFixed(fixedpoint.CentPlaces)
		if got != want {
			t.Errorf("QuantizeCents(%s) = %s, want %s", in, got, want)
		}
	}
}

func TestClip(t *testing.T) {
	lo, hi := d("0"), d("10")
	if got := fixedpoint.Clip(d("-5"), lo, hi); !got.Equal(lo) {
		t.Errorf("expected clip below range to return lo, got %s", got)
	}
	if got := fixedpoint.Clip(d("50"), lo, hi); !got.Equal(hi) {
		t.Errorf("expected clip above range to return hi, got %s", got)
	}
	if got := fixedpoint.Clip(d("5"), lo, hi); !got.Equal(d("5")) {
		t.Errorf("expected in-range value to pass through unchanged, got %s", got)
	}
}

func TestClipFloat(t *testing.T) {
	if got := fixedpoint.ClipFloat(-1, 0, 1); got != 0 {
		t.Errorf("expected 0, got %f", got)
	}
	if got := fixedpoint.ClipFloat(2, 0, 1); got != 1 {
		t.Errorf("expected 1, got %f", got)
	}
}

func TestFloor64(t *testing.T) {
	if got := fixedpoint.Floor64(d("7.9")); got != 7 {
		t.Errorf("expected 7, got %d", got)
	}
	if got := fixedpoint.Floor64(d("-7.1")); got != -8 {
		t.Errorf("expected -8, got %d", got)
	}
}

func TestMeanOfEmptySliceIsZero(t *testing.T) {
	if got := fixedpoint.Mean(nil); !got.IsZero() {
		t.Errorf("expected zero, got %s", got)
	}
}

func TestMean(t *testing.T) {
	values := []decimal.Decimal{d("1"), d("2"), d("3")}
	if got := fixedpoint.Mean(values); !got.Equal(d("2")) {
		t.Errorf("expected 2, got %s", got)
	}
}

func TestStdDevRequiresAtLeastTwoSamples(t *testing.T) {
	if got := fixedpoint.StdDev([]decimal.Decimal{d("5")}); !got.IsZero() {
		t.Errorf("expected zero for single sample, got %s", got)
	}
	if got := fixedpoint.StdDev(nil); !got.IsZero() {
		t.Errorf("expected zero for empty slice, got %s", got)
	}
}

func TestStdDevOfConstantSeriesIsZero(t *testing.T) {
	values := []decimal.Decimal{d("10"), d("10"), d("10")}
	got := fixedpoint.StdDev(values)
	if !got.IsZero() {
		t.Errorf("expected zero stdev for a constant series, got %s", got)
	}
}

func TestConsistencyRatioOfConstantSeriesIsOne(t *testing.T) {
	values := []decimal.Decimal{d("10"), d("10"), d("10")}
	got := fixedpoint.ConsistencyRatio(values)
	if !got.Equal(d("1")) {
		t.Errorf("expected consistency ratio 1 for a constant series, got %s", got)
	}
}

func TestConsistencyRatioIsZeroWhenMeanIsZero(t *testing.T) {
	values := []decimal.Decimal{d("-5"), d("5")}
	got := fixedpoint.ConsistencyRatio(values)
	if !got.IsZero() {
		t.Errorf("expected zero when mean is zero (degenerate series), got %s", got)
	}
}

func TestConsistencyRatioIsClippedToZeroFloor(t *testing.T) {
	values := []decimal.Decimal{d("1"), d("100")}
	got := fixedpoint.ConsistencyRatio(values)
	if got.IsNegative() {
		t.Errorf("expected consistency ratio to be clipped at 0, got %s", got)
	}
}
