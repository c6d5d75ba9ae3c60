// Package jobfile loads and validates calculation job descriptions.
//
// A job file is a YAML document naming a molecule, a functional and
// optional solver and model overrides. Documents are checked against an
// embedded JSON schema before any field is interpreted, so structural
// mistakes surface with the offending path rather than as zero values
// deep in the pipeline.
package jobfile

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/Sumatoshi-tech/dhpolar/pkg/functional"
	"github.com/Sumatoshi-tech/dhpolar/pkg/qclib"
	"github.com/Sumatoshi-tech/dhpolar/pkg/qclib/model"
)

//go:embed job-schema.json
var jobSchema []byte

var (
	// ErrInvalid indicates the document does not match the job schema.
	ErrInvalid = errors.New("job file does not match schema")

	// ErrUnknownElement indicates an atom symbol outside the supported range.
	ErrUnknownElement = errors.New("unknown element symbol")

	// ErrOpenShell indicates an odd electron count or nonzero spin.
	ErrOpenShell = errors.New("open-shell molecules are not supported")

	// ErrNoElectrons indicates the molecule has no electrons to correlate.
	ErrNoElectrons = errors.New("molecule has no electrons")

	// ErrBasisTooSmall indicates the basis cannot hold the occupied orbitals.
	ErrBasisTooSmall = errors.New("basis too small for occupied orbitals")
)

// atomicNumbers covers H through Ar. Heavier elements would need a real
// basis assignment, which the model engine does not provide.
var atomicNumbers = map[string]int{
	"H": 1, "He": 2,
	"Li": 3, "Be": 4, "B": 5, "C": 6, "N": 7, "O": 8, "F": 9, "Ne": 10,
	"Na": 11, "Mg": 12, "Al": 13, "Si": 14, "P": 15, "S": 16, "Cl": 17, "Ar": 18,
}

// Atom is one nucleus with Cartesian coordinates in Bohr.
type Atom struct {
	Symbol string     `yaml:"symbol"`
	XYZ    [3]float64 `yaml:"xyz"`
}

// Molecule describes the system under study.
type Molecule struct {
	Atoms  []Atom `yaml:"atoms"`
	Charge int    `yaml:"charge"`
	Spin   int    `yaml:"spin"`
}

// Response carries solver overrides. Zero fields keep the configured
// defaults.
type Response struct {
	MaxCycle int     `yaml:"max_cycle"`
	Tol      float64 `yaml:"tol"`
}

// Method names the functional and optional response-solver settings.
type Method struct {
	Functional string   `yaml:"functional"`
	Response   Response `yaml:"response"`
}

// Model carries dimension overrides for the model engine. Zero fields
// keep the configured defaults; an unset nocc is derived from the
// molecule's electron count.
type Model struct {
	Seed  int64 `yaml:"seed"`
	NAO   int   `yaml:"nao"`
	NAux  int   `yaml:"naux"`
	NGrid int   `yaml:"ngrid"`
	NOcc  int   `yaml:"nocc"`
}

// Job is a validated calculation request.
type Job struct {
	Name     string   `yaml:"name"`
	Molecule Molecule `yaml:"molecule"`
	Method   Method   `yaml:"method"`
	Model    Model    `yaml:"model"`
}

// Load reads and parses the job file at path.
func Load(path string) (*Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read job file: %w", err)
	}

	job, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return job, nil
}

// Parse validates data against the job schema and decodes it. The
// functional name and the molecule's electronic structure are checked
// here so that a parsed Job is always runnable.
func Parse(data []byte) (*Job, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse job file: %w", err)
	}

	if err := validateSchema(doc); err != nil {
		return nil, err
	}

	var job Job
	if err := yaml.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("decode job file: %w", err)
	}

	if _, err := functional.Parse(job.Method.Functional); err != nil {
		return nil, fmt.Errorf("method.functional: %w", err)
	}

	if job.Molecule.Spin != 0 {
		return nil, fmt.Errorf("molecule.spin %d: %w", job.Molecule.Spin, ErrOpenShell)
	}

	if _, err := job.Molecule.OccupiedOrbitals(); err != nil {
		return nil, err
	}

	return &job, nil
}

func validateSchema(doc any) error {
	schemaLoader := gojsonschema.NewBytesLoader(jobSchema)
	docLoader := gojsonschema.NewGoLoader(doc)

	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return fmt.Errorf("validate job file: %w", err)
	}

	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, verr := range result.Errors() {
		msgs = append(msgs, fmt.Sprintf("%s: %s", verr.Field(), verr.Description()))
	}

	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
}

// ElectronCount returns the number of electrons after applying the
// charge.
func (m Molecule) ElectronCount() (int, error) {
	total := 0

	for _, atom := range m.Atoms {
		z, ok := atomicNumbers[atom.Symbol]
		if !ok {
			return 0, fmt.Errorf("%w: %q", ErrUnknownElement, atom.Symbol)
		}

		total += z
	}

	total -= m.Charge
	if total <= 0 {
		return 0, fmt.Errorf("%w: charge %d leaves %d electrons", ErrNoElectrons, m.Charge, total)
	}

	return total, nil
}

// OccupiedOrbitals returns the number of doubly occupied orbitals for
// the closed-shell determinant.
func (m Molecule) OccupiedOrbitals() (int, error) {
	nelec, err := m.ElectronCount()
	if err != nil {
		return 0, err
	}

	if nelec%2 != 0 {
		return 0, fmt.Errorf("%w: %d electrons", ErrOpenShell, nelec)
	}

	return nelec / 2, nil
}

// Params merges the job's model overrides over base. An explicit nocc
// wins; otherwise occupancy is derived from the molecule. The merged
// basis must leave at least one virtual orbital.
func (j *Job) Params(base model.Params) (model.Params, error) {
	prm := base

	if j.Model.Seed != 0 {
		prm.Seed = j.Model.Seed
	}

	if j.Model.NAO != 0 {
		prm.NAO = j.Model.NAO
	}

	if j.Model.NAux != 0 {
		prm.NAux = j.Model.NAux
	}

	if j.Model.NGrid != 0 {
		prm.NGrid = j.Model.NGrid
	}

	switch {
	case j.Model.NOcc != 0:
		prm.NOcc = j.Model.NOcc
	default:
		nocc, err := j.Molecule.OccupiedOrbitals()
		if err != nil {
			return model.Params{}, err
		}

		prm.NOcc = nocc
	}

	if prm.NOcc >= prm.NAO {
		return model.Params{}, fmt.Errorf("%w: nocc %d, nao %d", ErrBasisTooSmall, prm.NOcc, prm.NAO)
	}

	return prm, nil
}

// CPKSOptions merges the job's response overrides over base.
func (j *Job) CPKSOptions(base qclib.CPKSOptions) qclib.CPKSOptions {
	opts := base

	if j.Method.Response.MaxCycle != 0 {
		opts.MaxCycle = j.Method.Response.MaxCycle
	}

	if j.Method.Response.Tol != 0 {
		opts.Tol = j.Method.Response.Tol
	}

	return opts
}
