package lint

import (
	"errors"
	"fmt"
	"testing"

	"github.com/pattyshack/gt/testing/expect"
	"github.com/pattyshack/gt/testing/suite"

	"github.com/pattyshack/dwarflint/diag"
)

type SessionSuite struct{}

func TestSession(t *testing.T) {
	suite.RunTests(t, &SessionSuite{})
}

type counters map[string]int

// diamond: top -> left, right; left -> base; right -> base
func (counts counters) diamond(t *testing.T) *Registry {
	registry := NewRegistry()

	add := func(name string, prereqs ...string) {
		registry.MustRegister(Descriptor{
			Name:          name,
			Prerequisites: prereqs,
			New: func(session *Session) (interface{}, error) {
				counts[name]++
				return name + "-value", nil
			},
		})
	}

	add("top", "left", "right")
	add("left", "base")
	add("right", "base")
	add("base")

	expect.Nil(t, registry.Seal())
	return registry
}

func (SessionSuite) TestPrerequisitesConstructedOnce(t *testing.T) {
	counts := counters{}
	registry := counts.diamond(t)

	session, err := NewSession(registry, diag.Discard)
	expect.Nil(t, err)

	value, err := session.Run("top")
	expect.Nil(t, err)
	expect.Equal(t, "top-value", value)

	value, err = session.Run("top")
	expect.Nil(t, err)
	expect.Equal(t, "top-value", value)

	expect.Equal(t, 1, counts["top"])
	expect.Equal(t, 1, counts["left"])
	expect.Equal(t, 1, counts["right"])
	expect.Equal(t, 1, counts["base"])

	// base must complete before its dependents
	results := session.Results()
	expect.Equal(t, 4, len(results))
	expect.Equal(t, "base", results[0].Name)
	expect.Equal(t, "top", results[3].Name)
}

func (SessionSuite) TestSessionsDoNotShareResults(t *testing.T) {
	counts := counters{}
	registry := counts.diamond(t)

	for i := 0; i < 2; i++ {
		session, err := NewSession(registry, diag.Discard)
		expect.Nil(t, err)

		expect.Nil(t, session.RunAll())
	}

	expect.Equal(t, 2, counts["base"])
	expect.Equal(t, 2, counts["top"])
}

func (SessionSuite) TestRegistryOrder(t *testing.T) {
	counts := counters{}
	registry := counts.diamond(t)

	position := map[string]int{}
	for idx, descriptor := range registry.Descriptors() {
		position[descriptor.Name] = idx
	}

	expect.True(t, position["base"] < position["left"])
	expect.True(t, position["base"] < position["right"])
	expect.True(t, position["left"] < position["top"])
	expect.True(t, position["right"] < position["top"])
}

func (SessionSuite) TestCycleDetectedAtSeal(t *testing.T) {
	registry := NewRegistry()
	newFunc := func(*Session) (interface{}, error) { return nil, nil }

	registry.MustRegister(Descriptor{
		Name:          "a",
		Prerequisites: []string{"b"},
		New:           newFunc,
	})
	registry.MustRegister(Descriptor{
		Name:          "b",
		Prerequisites: []string{"c"},
		New:           newFunc,
	})
	registry.MustRegister(Descriptor{
		Name:          "c",
		Prerequisites: []string{"a"},
		New:           newFunc,
	})

	err := registry.Seal()
	expect.NotNil(t, err)
	expect.True(t, errors.Is(err, ErrCycle))

	_, err = NewSession(registry, diag.Discard)
	expect.True(t, errors.Is(err, ErrRegistryNotSealed))
}

func (SessionSuite) TestUnknownPrerequisite(t *testing.T) {
	registry := NewRegistry()
	registry.MustRegister(Descriptor{
		Name:          "a",
		Prerequisites: []string{"missing"},
		New:           func(*Session) (interface{}, error) { return nil, nil },
	})

	err := registry.Seal()
	expect.True(t, errors.Is(err, ErrUnknownCheck))
}

func (SessionSuite) TestDuplicateRegistration(t *testing.T) {
	registry := NewRegistry()
	descriptor := Descriptor{
		Name: "a",
		New:  func(*Session) (interface{}, error) { return nil, nil },
	}

	expect.Nil(t, registry.Register(descriptor))
	err := registry.Register(descriptor)
	expect.True(t, errors.Is(err, ErrDuplicateCheck))
}

func (SessionSuite) TestUnavailablePrerequisiteDegradesDependent(t *testing.T) {
	registry := NewRegistry()
	registry.MustRegister(Descriptor{
		Name: "broken",
		New: func(*Session) (interface{}, error) {
			return nil, fmt.Errorf("section missing")
		},
	})

	sawMissing := false
	registry.MustRegister(Descriptor{
		Name:          "dependent",
		Prerequisites: []string{"broken"},
		New: func(session *Session) (interface{}, error) {
			_, ok, err := Get[string](session, "broken")
			if err != nil {
				return nil, err
			}
			sawMissing = !ok
			return "degraded", nil
		},
	})
	registry.MustSeal()

	session, err := NewSession(registry, diag.Discard)
	expect.Nil(t, err)

	value, err := session.Run("dependent")
	expect.Nil(t, err)
	expect.Equal(t, "degraded", value)
	expect.True(t, sawMissing)

	result, ok := session.Result("broken")
	expect.True(t, ok)
	expect.Equal(t, StatusUnavailable, result.Status)
	expect.Error(t, result.Err, "section missing")
}

func (SessionSuite) TestPanicMarksUnavailable(t *testing.T) {
	registry := NewRegistry()
	registry.MustRegister(Descriptor{
		Name: "panics",
		New: func(*Session) (interface{}, error) {
			var table []int
			return table[3], nil
		},
	})
	registry.MustSeal()

	session, err := NewSession(registry, diag.Discard)
	expect.Nil(t, err)

	value, err := session.Run("panics")
	expect.Nil(t, err)
	expect.Nil(t, value)

	result, _ := session.Result("panics")
	expect.True(t, errors.Is(result.Err, ErrUnavailable))
}

func (SessionSuite) TestFatalAbortsSession(t *testing.T) {
	registry := NewRegistry()
	registry.MustRegister(Descriptor{
		Name: "fatal",
		New: func(*Session) (interface{}, error) {
			return nil, fmt.Errorf("%w: out of memory", ErrFatal)
		},
	})
	registry.MustRegister(Descriptor{
		Name:          "dependent",
		Prerequisites: []string{"fatal"},
		New: func(*Session) (interface{}, error) {
			return "unreachable", nil
		},
	})
	registry.MustSeal()

	session, err := NewSession(registry, diag.Discard)
	expect.Nil(t, err)

	_, err = session.Run("dependent")
	expect.True(t, errors.Is(err, ErrFatal))
	expect.Error(t, err, "out of memory")

	_, ok := session.Result("dependent")
	expect.False(t, ok)
}

func (SessionSuite) TestDisabledAndProvided(t *testing.T) {
	counts := counters{}
	registry := counts.diamond(t)

	session, err := NewSession(registry, diag.Discard, WithDisabled("left"))
	expect.Nil(t, err)
	expect.Nil(t, session.Provide("base", "seeded"))

	value, err := session.Run("base")
	expect.Nil(t, err)
	expect.Equal(t, "seeded", value)

	value, err = session.Run("left")
	expect.Nil(t, err)
	expect.Nil(t, value)

	expect.Nil(t, session.RunAll())
	expect.Equal(t, 0, counts["base"])
	expect.Equal(t, 0, counts["left"])
	expect.Equal(t, 1, counts["right"])
	expect.Equal(t, 1, counts["top"])

	_, err = NewSession(registry, diag.Discard, WithDisabled("nope"))
	expect.True(t, errors.Is(err, ErrUnknownCheck))
}

func (SessionSuite) TestGetTypeMismatchIsFatal(t *testing.T) {
	counts := counters{}
	registry := counts.diamond(t)

	session, err := NewSession(registry, diag.Discard)
	expect.Nil(t, err)

	_, ok, err := Get[int](session, "base")
	expect.False(t, ok)
	expect.True(t, errors.Is(err, ErrFatal))
}
