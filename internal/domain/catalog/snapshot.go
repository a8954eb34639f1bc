package catalog

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"golang.org/x/sync/errgroup"
)

// Snapshot is an immutable, indexed view of the catalog taken at one point in
// time. Pricing and cost resolution only ever read from a Snapshot.
type Snapshot struct {
	tests    []Test
	packages []Package

	testByID    map[string]int
	testByCode  map[string]int
	packageByID map[string]int

	LoadedAt time.Time
}

// NewSnapshot indexes the given tests and packages. When two tests share a
// code the first one wins; FixDuplicates exists to clean that up.
func NewSnapshot(tests []Test, packages []Package) *Snapshot {
	s := &Snapshot{
		tests:       tests,
		packages:    packages,
		testByID:    make(map[string]int, len(tests)),
		testByCode:  make(map[string]int, len(tests)),
		packageByID: make(map[string]int, len(packages)),
		LoadedAt:    time.Now(),
	}
	for i, t := range tests {
		if _, ok := s.testByID[t.ID]; !ok {
			s.testByID[t.ID] = i
		}
		code := NormalizeCode(t.Code)
		if code == "" {
			continue
		}
		if _, ok := s.testByCode[code]; !ok {
			s.testByCode[code] = i
		}
	}
	for i, p := range packages {
		if _, ok := s.packageByID[p.ID]; !ok {
			s.packageByID[p.ID] = i
		}
	}
	return s
}

// LoadSnapshot reads tests and packages concurrently and indexes them.
func LoadSnapshot(ctx context.Context, tests TestRepository, packages PackageRepository) (*Snapshot, error) {
	var (
		ts []Test
		ps []Package
	)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		ts, err = tests.ListTests(ctx)
		return errors.Wrap(err, "list tests")
	})
	g.Go(func() error {
		var err error
		ps, err = packages.ListPackages(ctx)
		return errors.Wrap(err, "list packages")
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return NewSnapshot(ts, ps), nil
}

// Tests returns every test in the snapshot. The slice must not be modified.
func (s *Snapshot) Tests() []Test { return s.tests }

// Packages returns every package in the snapshot. The slice must not be modified.
func (s *Snapshot) Packages() []Package { return s.packages }

// TestByID returns the test with the given identifier.
func (s *Snapshot) TestByID(id string) (Test, bool) {
	i, ok := s.testByID[id]
	if !ok {
		return Test{}, false
	}
	return s.tests[i], true
}

// TestByCode returns the test with the given code, matched case-insensitively.
func (s *Snapshot) TestByCode(code string) (Test, bool) {
	i, ok := s.testByCode[NormalizeCode(code)]
	if !ok {
		return Test{}, false
	}
	return s.tests[i], true
}

// TestByRef resolves a reference that may be either an id or a code.
func (s *Snapshot) TestByRef(ref string) (Test, bool) {
	if t, ok := s.TestByID(ref); ok {
		return t, true
	}
	return s.TestByCode(ref)
}

// PackageByID returns the package with the given identifier.
func (s *Snapshot) PackageByID(id string) (Package, bool) {
	i, ok := s.packageByID[id]
	if !ok {
		return Package{}, false
	}
	return s.packages[i], true
}

// TestByName returns the first test whose name equals name, ignoring case
// and surrounding whitespace.
func (s *Snapshot) TestByName(name string) (Test, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Test{}, false
	}
	for _, t := range s.tests {
		if strings.EqualFold(strings.TrimSpace(t.Name), name) {
			return t, true
		}
	}
	return Test{}, false
}
