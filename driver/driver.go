// Package driver lints elf files in parallel, one lint.Session per file.
package driver

import (
	"context"
	"fmt"
	"io"
	"log"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/pattyshack/dwarflint/diag"
	"github.com/pattyshack/dwarflint/elf"
	"github.com/pattyshack/dwarflint/lint"
)

type Options struct {
	Disabled []string
	Ignore   diag.Category

	// Maximum number of files linted concurrently.  <= 0 means GOMAXPROCS.
	Jobs int

	Logger *log.Logger
}

// FileResult holds everything reported for a single file.  It does not
// reference the file's content, which is unmapped once linting finishes.
type FileResult struct {
	Path        string
	Diagnostics []diag.Diagnostic

	// Checks that could not run, keyed by check name.
	Unavailable map[string]error

	// Set when the file could not be linted at all, or when a check aborted
	// the session.
	Err error
}

func (result FileResult) NumErrors() int {
	count := 0
	for _, d := range result.Diagnostics {
		if d.Severity == diag.SeverityError {
			count++
		}
	}
	return count
}

func (result FileResult) Failed() bool {
	return result.Err != nil || result.NumErrors() > 0
}

// LintFiles lints every path.  Results are returned in path order.  The
// returned error is only set for invalid options or a cancelled context;
// per file failures are recorded in FileResult.Err.
func LintFiles(
	ctx context.Context,
	registry *lint.Registry,
	paths []string,
	options Options,
) (
	[]FileResult,
	error,
) {
	for _, name := range options.Disabled {
		_, ok := registry.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("%w (%s)", lint.ErrUnknownCheck, name)
		}
	}

	if len(paths) == 0 {
		return nil, nil
	}

	jobs := options.Jobs
	if jobs <= 0 {
		jobs = runtime.GOMAXPROCS(0)
	}

	results := make([]FileResult, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(min(jobs, len(paths)))

	for i, path := range paths {
		g.Go(func() error {
			err := gctx.Err()
			if err != nil {
				return err
			}

			results[i] = LintFile(registry, path, options)
			return nil
		})
	}

	err := g.Wait()
	if err != nil {
		return nil, err
	}

	return results, nil
}

func LintFile(
	registry *lint.Registry,
	path string,
	options Options,
) FileResult {
	result := FileResult{
		Path:        path,
		Unavailable: map[string]error{},
	}

	logger := options.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	file, err := elf.Open(path)
	if err != nil {
		result.Err = err
		return result
	}
	defer func() {
		err := file.Close()
		if err != nil {
			logger.Printf("%s: %s", path, err)
		}
	}()

	bag := diag.NewBag()
	session, err := lint.NewSession(
		registry,
		diag.Filter{Reporter: bag, Ignore: options.Ignore},
		lint.WithInput(file),
		lint.WithDisabled(options.Disabled...),
		lint.WithLogger(logger))
	if err != nil {
		result.Err = err
		return result
	}

	result.Err = session.RunAll()
	result.Diagnostics = bag.Items()

	for _, check := range session.Results() {
		if check.Status == lint.StatusUnavailable {
			result.Unavailable[check.Name] = check.Err
		}
	}

	return result
}
