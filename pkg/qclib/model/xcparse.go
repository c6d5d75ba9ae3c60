package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrXCParse reports a functional string the model cannot interpret.
var ErrXCParse = errors.New("unparseable functional string")

// xcParams is the model form of a functional: an exact-exchange fraction
// plus the polynomial coefficients of f(ρ,σ) = -aρ² - bρσ - cρ³ - eρ²σ.
type xcParams struct {
	cx float64

	a float64
	b float64
	c float64
	e float64

	gga bool
}

func (p xcParams) add(q xcParams, weight float64) xcParams {
	p.cx += weight * q.cx
	p.a += weight * q.a
	p.b += weight * q.b
	p.c += weight * q.c
	p.e += weight * q.e
	p.gga = p.gga || q.gga

	return p
}

// tokenTable maps component functionals to model coefficients. Keys are
// upper-cased before lookup.
var tokenTable = map[string]xcParams{
	"HF":    {cx: 1},
	"LDA":   {a: 0.30, gga: true},
	"B88":   {a: 0.20, b: 0.12, gga: true},
	"LYP":   {a: 0.10, b: 0.06, c: 0.02, e: 0.01, gga: true},
	"VWN3":  {a: 0.25, c: 0.03, gga: true},
	"PBE":   {a: 0.18, b: 0.10, c: 0.015, e: 0.008, gga: true},
	"MPW91": {a: 0.19, b: 0.11, gga: true},
}

// aliasTable expands named hybrids into their component form.
var aliasTable = map[string]string{
	"B3LYPG": "0.2*HF + 0.08*LDA + 0.72*B88, 0.81*LYP + 0.19*VWN3",
	"PBE0":   "0.25*HF + 0.75*PBE, PBE",
}

// parseXC resolves a functional string into model parameters. Accepted
// grammar: an alias ("PBE0"), a bare token ("HF"), or one or two
// comma-separated parts of signed `coef*TOKEN` terms, e.g.
// "0.53*HF + 0.47*B88, 0.73*LYP".
func parseXC(xc string) (xcParams, error) {
	s := strings.TrimSpace(xc)
	if s == "" {
		return xcParams{}, fmt.Errorf("%w: empty", ErrXCParse)
	}

	if expanded, ok := aliasTable[strings.ToUpper(s)]; ok {
		s = expanded
	}

	parts := strings.Split(s, ",")
	if len(parts) > 2 {
		return xcParams{}, fmt.Errorf("%w: %q has %d comma parts", ErrXCParse, xc, len(parts))
	}

	var params xcParams

	for _, part := range parts {
		partParams, err := parseXCPart(part)
		if err != nil {
			return xcParams{}, fmt.Errorf("%w: %q: %w", ErrXCParse, xc, err)
		}

		params = params.add(partParams, 1)
	}

	return params, nil
}

// parseXCPart parses one signed-sum part like "0.2*HF + 0.08*LDA - 0.72*B88".
func parseXCPart(part string) (xcParams, error) {
	// Normalizing minus to plus-minus lets one splitter handle both signs.
	normalized := strings.ReplaceAll(part, "-", "+-")

	var params xcParams

	for _, term := range strings.Split(normalized, "+") {
		term = strings.ReplaceAll(term, " ", "")
		if term == "" {
			continue
		}

		weight, token, err := splitTerm(term)
		if err != nil {
			return xcParams{}, err
		}

		base, ok := tokenTable[strings.ToUpper(token)]
		if !ok {
			return xcParams{}, fmt.Errorf("unknown component %q", token)
		}

		params = params.add(base, weight)
	}

	return params, nil
}

func splitTerm(term string) (weight float64, token string, err error) {
	coef, token, found := strings.Cut(term, "*")
	if !found {
		if strings.HasPrefix(term, "-") {
			return -1, strings.TrimSpace(term[1:]), nil
		}

		return 1, term, nil
	}

	weight, parseErr := strconv.ParseFloat(strings.TrimSpace(coef), 64)
	if parseErr != nil {
		return 0, "", fmt.Errorf("coefficient %q: %w", coef, parseErr)
	}

	return weight, strings.TrimSpace(token), nil
}
