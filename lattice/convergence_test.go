package lattice_test

import (
	"math"
	"testing"

	"github.com/wyfcoding/optionlattice/blackscholes"
	"github.com/wyfcoding/optionlattice/lattice"
	"github.com/wyfcoding/optionlattice/payoff"
)

func TestConvergesToBlackScholes(t *testing.T) {
	params := lattice.Params{S0: 100, R: 0.05, D: 0, Sigma: 0.2, T: 1}
	oracle, err := blackscholes.New(100, 100, 0.05, 0, 0.2, 1)
	if err != nil {
		t.Fatal(err)
	}
	want := oracle.EuropeanCall()
	if math.Abs(want-10.4506) > 1e-4 {
		t.Fatalf("oracle drifted: %v", want)
	}

	prices, err := lattice.Converge(params, 10, payoff.MustNew(payoff.EuropeanCall, 100), lattice.ModelCRR, lattice.European)
	if err != nil {
		t.Fatal(err)
	}
	if len(prices) != 10 {
		t.Fatalf("got %d prices, want 10", len(prices))
	}
	last := prices[len(prices)-1]
	if math.Abs(last-want) > 1e-2 {
		t.Errorf("N=1024 price %v, black-scholes %v", last, want)
	}
	if math.Abs(last-want) > math.Abs(prices[0]-want) {
		t.Errorf("finest resolution (%v) further from oracle than coarsest (%v)", last, prices[0])
	}
}

func TestEuropeanPutAndDividendConvergence(t *testing.T) {
	cases := []struct {
		name   string
		params lattice.Params
		kind   payoff.Type
		strike float64
		model  lattice.Model
	}{
		{"crr put", lattice.Params{S0: 100, R: 0.05, D: 0, Sigma: 0.2, T: 1}, payoff.EuropeanPut, 100, lattice.ModelCRR},
		{"crr call dividend", lattice.Params{S0: 95, R: 0.04, D: 0.03, Sigma: 0.3, T: 0.5}, payoff.EuropeanCall, 100, lattice.ModelCRR},
		{"gbm call", lattice.Params{S0: 100, R: 0.05, D: 0, Sigma: 0.2, T: 1}, payoff.EuropeanCall, 100, lattice.ModelGBM},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			oracle, err := blackscholes.New(tt.params.S0, tt.strike, tt.params.R, tt.params.D, tt.params.Sigma, tt.params.T)
			if err != nil {
				t.Fatal(err)
			}
			want, err := oracle.Price(tt.kind, 1)
			if err != nil {
				t.Fatal(err)
			}
			prices, err := lattice.Converge(tt.params, 10, payoff.MustNew(tt.kind, tt.strike), tt.model, lattice.European)
			if err != nil {
				t.Fatal(err)
			}
			if got := prices[len(prices)-1]; math.Abs(got-want) > 2e-2 {
				t.Errorf("lattice %v, black-scholes %v", got, want)
			}
		})
	}
}

func TestAmericanPutPremium(t *testing.T) {
	params := lattice.Params{S0: 100, R: 0.05, D: 0, Sigma: 0.2, T: 1}
	pay := payoff.MustNew(payoff.EuropeanPut, 100)

	eu, err := lattice.Converge(params, 9, pay, lattice.ModelCRR, lattice.European)
	if err != nil {
		t.Fatal(err)
	}
	am, err := lattice.Converge(params, 9, pay, lattice.ModelCRR, lattice.American)
	if err != nil {
		t.Fatal(err)
	}
	for i := range eu {
		if am[i] < eu[i] {
			t.Errorf("resolution %d: american %v < european %v", i+1, am[i], eu[i])
		}
	}
	// 文献值约 6.09
	if got := am[len(am)-1]; math.Abs(got-6.09) > 0.02 {
		t.Errorf("american put %v", got)
	}
}
