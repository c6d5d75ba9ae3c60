// Package functional defines the doubly hybrid exchange-correlation
// registry: for each supported functional, the self-consistent and energy
// functional strings plus the PT2 correlation coefficients.
package functional

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ErrUnknownFunctional reports a functional name missing from the registry.
var ErrUnknownFunctional = errors.New("unknown doubly hybrid functional")

// Functional holds one registry row.
type Functional struct {
	// Name is the canonical registry key.
	Name string

	// SCF is the exchange-correlation functional of the self-consistent
	// reference.
	SCF string

	// Energy is the separate energy functional of xDH-type functionals.
	// Empty means the SCF functional is also the energy functional.
	Energy string

	// CC scales the whole PT2 correlation contribution.
	CC float64

	// COS scales the opposite-spin PT2 channel.
	COS float64

	// CSS scales the same-spin PT2 channel.
	CSS float64
}

// IsXDH reports whether the functional evaluates its energy with a
// different functional than its self-consistent reference.
func (f Functional) IsXDH() bool {
	return f.Energy != ""
}

// EnergyXC returns the functional string the final energy is evaluated
// with: the dedicated energy functional for xDH entries, the SCF
// functional otherwise.
func (f Functional) EnergyXC() string {
	if f.IsXDH() {
		return f.Energy
	}

	return f.SCF
}

// registry lists every supported functional keyed by normalized name.
// Coefficient order per row: SCF xc, energy xc, cc, c_os, c_ss.
var registry = map[string]Functional{
	"mp2":      {Name: "mp2", SCF: "HF", CC: 1, COS: 1, CSS: 1},
	"xyg3":     {Name: "xyg3", SCF: "B3LYPg", Energy: "0.8033*HF - 0.0140*LDA + 0.2107*B88, 0.6789*LYP", CC: 0.3211, COS: 1, CSS: 1},
	"xygjos":   {Name: "xygjos", SCF: "B3LYPg", Energy: "0.7731*HF + 0.2269*LDA, 0.2309*VWN3 + 0.2754*LYP", CC: 0.4364, COS: 1, CSS: 0},
	"xdhpbe0":  {Name: "xdhpbe0", SCF: "PBE0", Energy: "0.8335*HF + 0.1665*PBE, 0.5292*PBE", CC: 0.5428, COS: 1, CSS: 0},
	"b2plyp":   {Name: "b2plyp", SCF: "0.53*HF + 0.47*B88, 0.73*LYP", CC: 0.27, COS: 1, CSS: 1},
	"mpw2plyp": {Name: "mpw2plyp", SCF: "0.55*HF + 0.45*mPW91, 0.75*LYP", CC: 0.25, COS: 1, CSS: 1},
	"pbe0dh":   {Name: "pbe0dh", SCF: "0.5*HF + 0.5*PBE, 0.875*PBE", CC: 0.125, COS: 1, CSS: 1},
	"pbeqidh":  {Name: "pbeqidh", SCF: "0.693361*HF + 0.306639*PBE, 0.666667*PBE", CC: 0.333333, COS: 1, CSS: 1},
	"pbe02":    {Name: "pbe02", SCF: "0.793701*HF + 0.206299*PBE, 0.5*PBE", CC: 0.5, COS: 1, CSS: 1},
}

// Parse resolves a user-facing functional name. Case, dashes and
// underscores are insignificant: "XYG3", "xyg-3" and "xyg_3" all resolve
// to the same entry.
func Parse(name string) (Functional, error) {
	key := strings.ToLower(strings.NewReplacer("-", "", "_", "").Replace(name))

	f, ok := registry[key]
	if !ok {
		return Functional{}, fmt.Errorf("%w: %q (known: %s)",
			ErrUnknownFunctional, name, strings.Join(Names(), ", "))
	}

	return f, nil
}

// Names returns all canonical functional names in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}

	slices.Sort(names)

	return names
}
