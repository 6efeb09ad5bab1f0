package lattice

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/wyfcoding/optionlattice/payoff"
	"github.com/wyfcoding/optionlattice/xerrors"
)

var baseParams = Params{S0: 100, R: 0.05, D: 0, Sigma: 0.2, T: 1}

func almostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func TestBuildShape(t *testing.T) {
	for _, model := range []Model{ModelCRR, ModelGBM} {
		for _, steps := range []int{1, 2, 7, 32, 128} {
			tree, err := Build(baseParams, steps, model)
			if err != nil {
				t.Fatalf("%s N=%d: %v", model, steps, err)
			}
			if tree.Steps != steps || tree.Prices.Steps() != steps {
				t.Fatalf("%s N=%d: wrong step count", model, steps)
			}
			if !almostEqual(tree.Dt, baseParams.T/float64(steps), 1e-15) {
				t.Errorf("%s N=%d: dt=%v", model, steps, tree.Dt)
			}
			for j := 0; j <= steps; j++ {
				for i := 0; i <= j; i++ {
					got := tree.Prices.At(i, j)
					want := baseParams.S0 * math.Pow(tree.Up, float64(j-i)) * math.Pow(tree.Down, float64(i))
					if got <= 0 {
						t.Fatalf("%s N=%d: non-positive price at (%d,%d)", model, steps, i, j)
					}
					if !almostEqual(got, want, 1e-9*want) {
						t.Fatalf("%s N=%d: price(%d,%d)=%v, want %v", model, steps, i, j, got, want)
					}
				}
				if j < steps && tree.Prices.At(j+1, j) != 0 {
					t.Errorf("%s N=%d: unused cell (%d,%d) not zero", model, steps, j+1, j)
				}
			}
			if tree.Prices.At(0, 0) != baseParams.S0 {
				t.Errorf("%s N=%d: root=%v", model, steps, tree.Prices.At(0, 0))
			}
		}
	}
}

func TestCRRProduct(t *testing.T) {
	for _, sigma := range []float64{0.01, 0.2, 0.8, 2.5} {
		for _, dt := range []float64{1e-4, 0.01, 0.25, 1, 5} {
			up, down, err := Multipliers(Params{S0: 1, Sigma: sigma, T: 1}, dt, ModelCRR)
			if err != nil {
				t.Fatal(err)
			}
			if !almostEqual(up*down, 1, 1e-12) {
				t.Errorf("sigma=%v dt=%v: up*down=%v", sigma, dt, up*down)
			}
			if up <= 1 || down >= 1 || down <= 0 {
				t.Errorf("sigma=%v dt=%v: up=%v down=%v", sigma, dt, up, down)
			}
		}
	}
}

func TestGBMMultipliers(t *testing.T) {
	p := Params{S0: 100, R: 0.05, D: 0.02, Sigma: 0.3, T: 2}
	dt := 0.125
	up, down, err := Multipliers(p, dt, ModelGBM)
	if err != nil {
		t.Fatal(err)
	}
	det := (0.05 - 0.02 - 0.5*0.09) * dt
	stoc := 0.3 * math.Sqrt(dt)
	if !almostEqual(up, math.Exp(det+stoc), 1e-15) || !almostEqual(down, math.Exp(det-stoc), 1e-15) {
		t.Errorf("up=%v down=%v", up, down)
	}
	if almostEqual(up*down, 1, 1e-6) {
		t.Errorf("gbm multipliers unexpectedly satisfy up*down=1")
	}
}

func TestBuildRejects(t *testing.T) {
	if _, err := Build(baseParams, 0, ModelCRR); !errors.Is(err, xerrors.ErrInvalidResolution) {
		t.Errorf("steps=0: got %v", err)
	}
	if _, err := Build(baseParams, 4, Model("jr")); !errors.Is(err, xerrors.ErrUnsupportedModel) {
		t.Errorf("unknown model: got %v", err)
	}
	bad := baseParams
	bad.Sigma = 0
	if _, err := Build(bad, 4, ModelCRR); !errors.Is(err, xerrors.ErrInvalidParams) {
		t.Errorf("sigma=0: got %v", err)
	}
}

func TestParseTags(t *testing.T) {
	if m, err := ParseModel(" CRR "); err != nil || m != ModelCRR {
		t.Errorf("ParseModel: %v %v", m, err)
	}
	if _, err := ParseModel("trinomial"); !errors.Is(err, xerrors.ErrUnsupportedModel) {
		t.Errorf("ParseModel: got %v", err)
	}
	if e, err := ParseExercise("american"); err != nil || e != American {
		t.Errorf("ParseExercise: %v %v", e, err)
	}
	if _, err := ParseExercise("Bermudan"); !errors.Is(err, xerrors.ErrUnsupportedExercise) {
		t.Errorf("ParseExercise: got %v", err)
	}
}

func TestTerminalSeeding(t *testing.T) {
	tree, err := Build(baseParams, 16, ModelCRR)
	if err != nil {
		t.Fatal(err)
	}
	pay := payoff.MustNew(payoff.EuropeanPut, 100)

	cashflows := newGrid(tree.Steps)
	seedTerminal(tree, cashflows, pay)
	for i := 0; i <= tree.Steps; i++ {
		want := pay.Evaluate(tree.Prices.At(i, tree.Steps))
		if cashflows.At(i, tree.Steps) != want {
			t.Errorf("seed(%d)=%v, want %v", i, cashflows.At(i, tree.Steps), want)
		}
	}
	for j := 0; j < tree.Steps; j++ {
		for _, v := range cashflows.Column(j) {
			if v != 0 {
				t.Fatalf("column %d touched before induction", j)
			}
		}
	}

	// 归纳不会改写到期列
	v, err := Induct(tree, pay, American)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i <= tree.Steps; i++ {
		if v.Cashflows.At(i, tree.Steps) != cashflows.At(i, tree.Steps) {
			t.Errorf("terminal cell %d changed by induction", i)
		}
	}
}

func TestSingleStep(t *testing.T) {
	kinds := []payoff.Type{payoff.EuropeanCall, payoff.EuropeanPut, payoff.BinaryCall, payoff.BinaryPut}
	for _, model := range []Model{ModelCRR, ModelGBM} {
		for _, kind := range kinds {
			pay := payoff.MustNew(kind, 100)
			tree, err := Build(baseParams, 1, model)
			if err != nil {
				t.Fatal(err)
			}
			v, err := Induct(tree, pay, European)
			if err != nil {
				t.Fatal(err)
			}
			pTilde := (math.Exp(baseParams.R*tree.Dt) - tree.Down) / (tree.Up - tree.Down)
			disc := math.Exp(-baseParams.R * tree.Dt)
			want := disc * (pTilde*pay.Evaluate(tree.Up*100) + (1-pTilde)*pay.Evaluate(tree.Down*100))
			if !almostEqual(v.Value, want, 1e-12) {
				t.Errorf("%s %s: got %v, want %v", model, kind, v.Value, want)
			}
		}
	}
}

func TestRiskNeutralProbabilityCRR(t *testing.T) {
	for _, steps := range []int{2, 16, 256} {
		tree, err := Build(baseParams, steps, ModelCRR)
		if err != nil {
			t.Fatal(err)
		}
		p, err := tree.RiskNeutralProbability()
		if err != nil {
			t.Fatal(err)
		}
		if p < 0 || p > 1 {
			t.Errorf("N=%d: p~=%v outside [0,1]", steps, p)
		}
	}
}

func TestAmericanDominatesEuropean(t *testing.T) {
	params := []Params{
		baseParams,
		{S0: 90, R: 0.08, D: 0, Sigma: 0.3, T: 2},
		{S0: 110, R: 0.03, D: 0.06, Sigma: 0.25, T: 1.5},
	}
	kinds := []payoff.Type{payoff.EuropeanCall, payoff.EuropeanPut, payoff.BinaryCall, payoff.BinaryPut}
	for _, p := range params {
		for _, model := range []Model{ModelCRR, ModelGBM} {
			tree, err := Build(p, 64, model)
			if err != nil {
				t.Fatal(err)
			}
			for _, kind := range kinds {
				pay := payoff.MustNew(kind, 100)
				eu, err := Induct(tree, pay, European)
				if err != nil {
					t.Fatal(err)
				}
				am, err := Induct(tree, pay, American)
				if err != nil {
					t.Fatal(err)
				}
				if am.Value < eu.Value-1e-12 {
					t.Errorf("%+v %s %s: american %v < european %v", p, model, kind, am.Value, eu.Value)
				}
			}
		}
	}
}

func TestExerciseNodes(t *testing.T) {
	tree, err := Build(baseParams, 50, ModelCRR)
	if err != nil {
		t.Fatal(err)
	}
	pay := payoff.MustNew(payoff.EuropeanPut, 100)

	eu, err := Induct(tree, pay, European)
	if err != nil {
		t.Fatal(err)
	}
	if len(eu.ExerciseNodes()) != 0 {
		t.Errorf("european valuation reports exercise nodes")
	}

	am, err := Induct(tree, pay, American)
	if err != nil {
		t.Fatal(err)
	}
	nodes := am.ExerciseNodes()
	if len(nodes) == 0 {
		t.Fatalf("american put has no early exercise nodes")
	}
	for _, n := range nodes {
		ex := pay.Evaluate(tree.Prices.At(n.I, n.J))
		if am.Cashflows.At(n.I, n.J) != ex {
			t.Errorf("node %+v: cashflow %v != exercise %v", n, am.Cashflows.At(n.I, n.J), ex)
		}
	}
	for _, b := range am.ExerciseBoundary(tree) {
		if b.Low > b.High || b.High >= 100 {
			t.Errorf("boundary %+v inconsistent for a put struck at 100", b)
		}
	}
}

func TestNoArbitrageGate(t *testing.T) {
	violating := Params{S0: 100, R: 0.5, D: 0, Sigma: 0.1, T: 1}
	err := CheckNoArbitrage(violating, 2, ModelCRR)
	if !errors.Is(err, xerrors.ErrArbitrageViolation) {
		t.Fatalf("expected ErrArbitrageViolation, got %v", err)
	}
	if err := CheckNoArbitrage(violating, 2, ModelGBM); err != nil {
		t.Errorf("gbm must skip the check, got %v", err)
	}
	if err := CheckNoArbitrage(baseParams, 2, ModelCRR); err != nil {
		t.Errorf("bound satisfied, got %v", err)
	}
	// r*sqrt(T/N) 随 N 增大而减小：N=32 时 0.5*sqrt(1/32)=0.088 <= 0.1
	if err := CheckNoArbitrage(violating, 32, ModelCRR); err != nil {
		t.Errorf("fine resolution should pass, got %v", err)
	}

	if _, err := Price(violating, 4, ModelCRR, payoff.MustNew(payoff.EuropeanCall, 100), European); !errors.Is(err, xerrors.ErrArbitrageViolation) {
		t.Errorf("Price: expected ErrArbitrageViolation, got %v", err)
	}
}

func TestConvergenceAbortsOnFirstViolation(t *testing.T) {
	violating := Params{S0: 100, R: 0.5, D: 0, Sigma: 0.1, T: 1}
	pay := payoff.MustNew(payoff.EuropeanCall, 100)

	for _, workers := range []int{1, 4} {
		_, err := NewConverger(WithWorkers(workers)).Run(context.Background(), violating, 8, pay)
		if !errors.Is(err, xerrors.ErrArbitrageViolation) {
			t.Fatalf("workers=%d: expected ErrArbitrageViolation, got %v", workers, err)
		}
		e, ok := xerrors.FromError(err)
		if !ok {
			t.Fatalf("workers=%d: not an *xerrors.Error", workers)
		}
		if e.Context["steps"] != 2 {
			t.Errorf("workers=%d: violation reported at steps=%v, want the coarsest (2)", workers, e.Context["steps"])
		}
	}

	// GBM 不做无套利校验
	if _, err := NewConverger(WithModel(ModelGBM)).Run(context.Background(), violating, 4, pay); err != nil {
		t.Errorf("gbm convergence failed: %v", err)
	}
}

func TestDegenerateLattice(t *testing.T) {
	// sigma 极小时 exp(sigma*sqrt(dt)) 在浮点下恰为 1，up == down
	p := Params{S0: 100, R: 0, D: 0, Sigma: 1e-20, T: 1}
	tree, err := Build(p, 2, ModelCRR)
	if err != nil {
		t.Fatal(err)
	}
	if tree.Up != tree.Down {
		t.Fatalf("expected up == down, got %v %v", tree.Up, tree.Down)
	}
	if err := tree.CheckNoArbitrage(); err != nil {
		t.Fatalf("unexpected arbitrage error: %v", err)
	}
	_, err = Induct(tree, payoff.MustNew(payoff.EuropeanCall, 100), European)
	if !errors.Is(err, xerrors.ErrDegenerateLattice) {
		t.Errorf("expected ErrDegenerateLattice, got %v", err)
	}
}

func TestInductRejectsExercise(t *testing.T) {
	tree, err := Build(baseParams, 2, ModelCRR)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Induct(tree, payoff.MustNew(payoff.EuropeanCall, 100), Exercise("Bermudan")); !errors.Is(err, xerrors.ErrUnsupportedExercise) {
		t.Errorf("got %v", err)
	}
}

func TestConvergerValidation(t *testing.T) {
	pay := payoff.MustNew(payoff.EuropeanCall, 100)
	ctx := context.Background()

	if _, err := NewConverger().Run(ctx, baseParams, 0, pay); !errors.Is(err, xerrors.ErrInvalidResolution) {
		t.Errorf("num_sim=0: got %v", err)
	}
	if _, err := NewConverger(WithMaxResolutions(6)).Run(ctx, baseParams, 7, pay); !errors.Is(err, xerrors.ErrInvalidResolution) {
		t.Errorf("num_sim above max: got %v", err)
	}
	if _, err := NewConverger(WithModel("jr")).Run(ctx, baseParams, 3, pay); !errors.Is(err, xerrors.ErrUnsupportedModel) {
		t.Errorf("unknown model: got %v", err)
	}
	if c := NewConverger(WithMaxResolutions(99)); c.options.MaxResolutions != HardMaxResolutions {
		t.Errorf("max resolutions not clamped: %d", c.options.MaxResolutions)
	}
	if _, err := NewConverger(WithMaxResolutions(20)).Run(ctx, baseParams, HardMaxResolutions+1, pay); !errors.Is(err, xerrors.ErrInvalidResolution) {
		t.Errorf("num_sim above hard cap: got %v", err)
	}
}

func TestConvergerParallelMatchesSequential(t *testing.T) {
	pay := payoff.MustNew(payoff.EuropeanPut, 95)
	ctx := context.Background()
	for _, exercise := range []Exercise{European, American} {
		seq, err := NewConverger(WithExercise(exercise)).Run(ctx, baseParams, 8, pay)
		if err != nil {
			t.Fatal(err)
		}
		par, err := NewConverger(WithExercise(exercise), WithWorkers(4)).Run(ctx, baseParams, 8, pay)
		if err != nil {
			t.Fatal(err)
		}
		if len(seq) != 8 || len(par) != 8 {
			t.Fatalf("lengths %d %d", len(seq), len(par))
		}
		for i := range seq {
			if seq[i] != par[i] {
				t.Errorf("%s index %d: sequential %+v, parallel %+v", exercise, i, seq[i], par[i])
			}
			if seq[i].Index != i+1 || seq[i].Steps != 1<<(i+1) {
				t.Errorf("point %d mislabeled: %+v", i, seq[i])
			}
		}
	}
}

func TestConvergerCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewConverger().Run(ctx, baseParams, 4, payoff.MustNew(payoff.EuropeanCall, 100))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestGridBounds(t *testing.T) {
	g := newGrid(3)
	g.set(2, 3, 7)
	if g.At(2, 3) != 7 {
		t.Errorf("At(2,3)=%v", g.At(2, 3))
	}
	for _, ij := range [][2]int{{-1, 0}, {0, -1}, {0, 4}, {3, 2}} {
		if g.At(ij[0], ij[1]) != 0 {
			t.Errorf("At(%d,%d) should be 0", ij[0], ij[1])
		}
	}
	if len(g.Column(3)) != 4 || len(g.Column(0)) != 1 {
		t.Errorf("column lengths wrong")
	}
}
