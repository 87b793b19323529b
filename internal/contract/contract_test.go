package contract

import (
	"math"
	"testing"
)

func almostEqual(t *testing.T, got, want []float64, tol float64) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range got {
		if math.Abs(got[i]-want[i]) > tol {
			t.Fatalf("element %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestScaleBySample(t *testing.T) {
	// B=1, S=2, K=2
	w := FromSlice([]float64{2, 3}, 1, 2)
	v := FromSlice([]float64{1, 2, 3, 4}, 1, 2, 2)

	out, err := ScaleBySample(w, v)
	if err != nil {
		t.Fatalf("ScaleBySample: %v", err)
	}
	almostEqual(t, Data(out), []float64{2, 4, 9, 12}, 1e-12)
}

func TestScaleBySampleShapeMismatch(t *testing.T) {
	w := FromSlice([]float64{1, 2, 3}, 1, 3)
	v := FromSlice([]float64{1, 2, 3, 4}, 1, 2, 2)
	if _, err := ScaleBySample(w, v); err == nil {
		t.Fatal("expected shape mismatch error")
	}
}

func TestContractLatent(t *testing.T) {
	// B=1, S=1, D=2, P=3: out_p = sum_d g_d * jac_dp
	g := FromSlice([]float64{1, 2}, 1, 1, 2)
	jac := FromSlice([]float64{
		1, 2, 3,
		4, 5, 6,
	}, 1, 1, 2, 3)

	out, err := ContractLatent(g, jac)
	if err != nil {
		t.Fatalf("ContractLatent: %v", err)
	}
	if !out.Shape().Eq([]int{1, 1, 3}) {
		t.Fatalf("unexpected shape %v", out.Shape())
	}
	almostEqual(t, Data(out), []float64{9, 12, 15}, 1e-12)
}

func TestContractLatentComponents(t *testing.T) {
	// M=2, B=1, S=1, D=1, P=2
	g := FromSlice([]float64{2, 3}, 2, 1, 1, 1)
	jac := FromSlice([]float64{
		1, 10,
		2, 20,
	}, 2, 1, 1, 1, 2)

	out, err := ContractLatentComponents(g, jac)
	if err != nil {
		t.Fatalf("ContractLatentComponents: %v", err)
	}
	almostEqual(t, Data(out), []float64{2, 20, 6, 60}, 1e-12)
}

func TestCombineComponents(t *testing.T) {
	c := FromSlice([]float64{0.3, 0.7}, 2)
	v := FromSlice([]float64{
		1, 2,
		10, 20,
	}, 2, 2)

	out, err := CombineComponents(c, v)
	if err != nil {
		t.Fatalf("CombineComponents: %v", err)
	}
	almostEqual(t, Data(out), []float64{0.3 + 7, 0.6 + 14}, 1e-12)
}

func TestMeanSamples(t *testing.T) {
	v := FromSlice([]float64{
		1, 2,
		3, 4,
		10, 20,
		30, 40,
	}, 2, 2, 2)

	out, err := MeanSamples(v)
	if err != nil {
		t.Fatalf("MeanSamples: %v", err)
	}
	if !out.Shape().Eq([]int{2, 2}) {
		t.Fatalf("unexpected shape %v", out.Shape())
	}
	almostEqual(t, Data(out), []float64{2, 3, 20, 30}, 1e-12)
}

func TestNegMeanSamples(t *testing.T) {
	v := FromSlice([]float64{1, 3}, 1, 2)
	out, err := NegMeanSamples(v)
	if err != nil {
		t.Fatalf("NegMeanSamples: %v", err)
	}
	almostEqual(t, Data(out), []float64{-2}, 1e-12)
}

func TestCovariance(t *testing.T) {
	// B=1, S=2, I=J=1: mean of products.
	a := FromSlice([]float64{1, -1}, 1, 2, 1)
	b := FromSlice([]float64{2, 4}, 1, 2, 1)

	out, err := Covariance(a, b, false)
	if err != nil {
		t.Fatalf("Covariance: %v", err)
	}
	almostEqual(t, Data(out), []float64{(2 - 4) / 2.0}, 1e-12)

	// De-meaning b (mean 3) changes the result to mean of a*(b-3).
	out, err = Covariance(a, b, true)
	if err != nil {
		t.Fatalf("Covariance de-meaned: %v", err)
	}
	almostEqual(t, Data(out), []float64{(1*(-1) + (-1)*1) / 2.0}, 1e-12)
}

func TestSolveBatch(t *testing.T) {
	// Identity system per batch element.
	a := FromSlice([]float64{
		1, 0,
		0, 1,
		2, 0,
		0, 2,
	}, 2, 2, 2)
	c := FromSlice([]float64{
		3,
		4,
		6,
		8,
	}, 2, 2, 1)

	out, err := SolveBatch(a, c)
	if err != nil {
		t.Fatalf("SolveBatch: %v", err)
	}
	almostEqual(t, Data(out), []float64{3, 4, 3, 4}, 1e-12)
}

func TestSolveBatchSingular(t *testing.T) {
	a := FromSlice([]float64{
		1, 1,
		1, 1,
	}, 1, 2, 2)
	c := FromSlice([]float64{1, 2}, 1, 2, 1)
	if _, err := SolveBatch(a, c); err == nil {
		t.Fatal("expected error for singular system")
	}
}
