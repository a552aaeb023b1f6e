package diag

import (
	"fmt"
)

type Reporter interface {
	Report(Diagnostic)
}

type ReporterFunc func(Diagnostic)

func (f ReporterFunc) Report(d Diagnostic) {
	f(d)
}

type discard struct{}

func (discard) Report(Diagnostic) {}

var Discard Reporter = discard{}

func Errorf(
	reporter Reporter,
	where Where,
	category Category,
	format string,
	args ...interface{},
) {
	reporter.Report(Diagnostic{
		Where:    where,
		Severity: SeverityError,
		Category: category,
		Message:  fmt.Sprintf(format, args...),
	})
}

func Warnf(
	reporter Reporter,
	where Where,
	category Category,
	format string,
	args ...interface{},
) {
	reporter.Report(Diagnostic{
		Where:    where,
		Severity: SeverityWarning,
		Category: category,
		Message:  fmt.Sprintf(format, args...),
	})
}

// Bag collects diagnostics in report order.
type Bag struct {
	items       []Diagnostic
	numErrors   int
	numWarnings int
}

func NewBag() *Bag {
	return &Bag{}
}

func (bag *Bag) Report(d Diagnostic) {
	bag.items = append(bag.items, d)
	if d.Severity == SeverityError {
		bag.numErrors++
	} else {
		bag.numWarnings++
	}
}

// Items returns the collected diagnostics.  The slice must not be modified.
func (bag *Bag) Items() []Diagnostic {
	return bag.items
}

func (bag *Bag) Len() int {
	return len(bag.items)
}

func (bag *Bag) HasErrors() bool {
	return bag.numErrors > 0
}

func (bag *Bag) NumErrors() int {
	return bag.numErrors
}

func (bag *Bag) NumWarnings() int {
	return bag.numWarnings
}

// Matching returns the collected diagnostics carrying every tag in category.
func (bag *Bag) Matching(category Category) []Diagnostic {
	result := []Diagnostic{}
	for _, d := range bag.items {
		if d.Category.Has(category) {
			result = append(result, d)
		}
	}
	return result
}

// Filter drops warnings tagged with any of the Ignore categories.  Errors
// are always forwarded.
type Filter struct {
	Reporter
	Ignore Category
}

func (filter Filter) Report(d Diagnostic) {
	if d.Severity == SeverityWarning && d.Category&filter.Ignore != 0 {
		return
	}
	filter.Reporter.Report(d)
}
