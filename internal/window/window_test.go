package window

import (
	"math"
	"testing"
)

const eps = 1e-9

func TestRollingMeanStdDefinedFromWindow(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5, 6}
	for w := 1; w <= 7; w++ {
		means, stds := RollingMeanStd(values, w)
		for i := range values {
			defined := i >= w-1
			if means[i].Valid != defined || stds[i].Valid != defined {
				t.Fatalf("w=%d i=%d: 期望 defined=%v, 实际 mean=%v std=%v", w, i, defined, means[i].Valid, stds[i].Valid)
			}
		}
	}
}

func TestRollingMeanStdPopulation(t *testing.T) {
	means, stds := RollingMeanStd([]float64{2, 4, 4, 4, 5, 5, 7, 9}, 8)
	if !means[7].Valid || math.Abs(means[7].Float-5) > eps {
		t.Fatalf("均值应为 5, 实际 %+v", means[7])
	}
	if !stds[7].Valid || math.Abs(stds[7].Float-2) > eps {
		t.Fatalf("总体标准差应为 2, 实际 %+v", stds[7])
	}
}

func TestRollingMeanStdSpike(t *testing.T) {
	values := []float64{100, 100, 100, 100, 100, 100, 200}
	means, stds := RollingMeanStd(values, 7)
	if math.Abs(means[6].Float-800.0/7) > eps {
		t.Fatalf("均值不符: %v", means[6].Float)
	}
	if stds[6].Float <= 0 {
		t.Fatal("标准差应大于 0")
	}
	z := (values[6] - means[6].Float) / stds[6].Float
	if z < 2 {
		t.Fatalf("z 应 >= 2, 实际 %v", z)
	}
}

func TestRollingPctChange(t *testing.T) {
	values := []float64{100, 0, 100, 100, 100, 100, 200}
	changes := RollingPctChange(values, 6)
	for i := 0; i < 6; i++ {
		if changes[i].Valid {
			t.Fatalf("i=%d 回看不足应未定义", i)
		}
	}
	if !changes[6].Valid || math.Abs(changes[6].Float-100) > eps {
		t.Fatalf("i=6 应为 100%%, 实际 %+v", changes[6])
	}

	changes = RollingPctChange(values, 1)
	if changes[2].Valid {
		t.Fatal("前值为 0 时应未定义")
	}
	if !changes[1].Valid || changes[1].Float != -100 {
		t.Fatalf("100 -> 0 应为 -100%%, 实际 %+v", changes[1])
	}
}

func TestRollingPctChangeNegativeBase(t *testing.T) {
	changes := RollingPctChange([]float64{-50, -25}, 1)
	if !changes[1].Valid || changes[1].Float != 50 {
		t.Fatalf("负基数应使用绝对值, 实际 %+v", changes[1])
	}
}

func TestMovingAverageRejectsGaps(t *testing.T) {
	values := []Value{Some(1), Some(2), Some(3), {}, Some(5), Some(6), Some(7)}
	out := MovingAverage(values, 3)

	wantValid := []bool{false, false, true, false, false, false, true}
	for i, v := range out {
		if v.Valid != wantValid[i] {
			t.Fatalf("i=%d defined=%v, 期望 %v", i, v.Valid, wantValid[i])
		}
	}
	if out[2].Float != 2 || out[6].Float != 6 {
		t.Fatalf("均值不符: %+v", out)
	}
}

func TestNonPositiveWindowIsUndefined(t *testing.T) {
	means, _ := RollingMeanStd([]float64{1, 2}, 0)
	changes := RollingPctChange([]float64{1, 2}, 0)
	ma := MovingAverage(Values([]float64{1, 2}), 0)
	for i := 0; i < 2; i++ {
		if means[i].Valid || changes[i].Valid || ma[i].Valid {
			t.Fatal("window <= 0 时所有位置都应未定义")
		}
	}
}
