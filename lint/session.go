package lint

import (
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/pattyshack/dwarflint/diag"
)

var (
	// Checks return an error wrapping ErrFatal to abort the whole session.
	ErrFatal = errors.New("fatal error")

	// Any other error marks the check as unavailable.  ErrUnavailable is
	// provided for checks that bail out on purpose.
	ErrUnavailable = errors.New("check unavailable")

	ErrDisabled = errors.New("check disabled")
)

type Status int

const (
	StatusOK Status = iota
	StatusUnavailable
)

func (status Status) String() string {
	switch status {
	case StatusOK:
		return "ok"
	case StatusUnavailable:
		return "unavailable"
	}
	return fmt.Sprintf("StatusUnknown(%d)", int(status))
}

type Result struct {
	Name  string
	Value interface{}
	Status
	Err error // set when unavailable
}

type SessionOption func(*Session)

func WithLogger(logger *log.Logger) SessionOption {
	return func(session *Session) {
		session.Logger = logger
	}
}

func WithDisabled(names ...string) SessionOption {
	return func(session *Session) {
		for _, name := range names {
			session.disabled[name] = true
		}
	}
}

func WithInput(input interface{}) SessionOption {
	return func(session *Session) {
		session.Input = input
	}
}

// Session runs checks against a single input.  A session is not safe for
// concurrent use; lint separate inputs with separate sessions.
type Session struct {
	registry *Registry

	diag.Reporter
	Logger *log.Logger

	// The object being linted, typically an *elf.File.
	Input interface{}

	disabled map[string]bool
	results  map[string]*Result
	running  map[string]bool
	order    []string
}

func NewSession(
	registry *Registry,
	reporter diag.Reporter,
	options ...SessionOption,
) (
	*Session,
	error,
) {
	if !registry.sealed {
		return nil, ErrRegistryNotSealed
	}

	session := &Session{
		registry: registry,
		Reporter: reporter,
		Logger:   log.New(io.Discard, "", 0),
		disabled: map[string]bool{},
		results:  map[string]*Result{},
		running:  map[string]bool{},
	}

	for _, option := range options {
		option(session)
	}

	for name := range session.disabled {
		_, ok := registry.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("%w (%s)", ErrUnknownCheck, name)
		}
	}

	return session, nil
}

// Provide seeds the result of a check, so that the check's constructor is
// never called in this session.
func (session *Session) Provide(name string, value interface{}) error {
	_, ok := session.registry.Lookup(name)
	if !ok {
		return fmt.Errorf("%w (%s)", ErrUnknownCheck, name)
	}

	_, ok = session.results[name]
	if ok {
		return fmt.Errorf("check %s already ran", name)
	}

	session.record(&Result{Name: name, Value: value, Status: StatusOK})
	return nil
}

func (session *Session) record(result *Result) {
	session.results[result.Name] = result
	session.order = append(session.order, result.Name)
}

// Run returns the named check's value, running its prerequisites and the
// check itself if this has not happened yet in the session.  A nil value
// with nil error means the check is unavailable.  The returned error is
// always fatal for the session.
func (session *Session) Run(name string) (interface{}, error) {
	result, err := session.run(name)
	if err != nil {
		return nil, err
	}

	if result.Status != StatusOK {
		return nil, nil
	}

	return result.Value, nil
}

func (session *Session) run(name string) (*Result, error) {
	result, ok := session.results[name]
	if ok {
		return result, nil
	}

	descriptor, ok := session.registry.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %w (%s)", ErrFatal, ErrUnknownCheck, name)
	}

	if session.running[name] {
		return nil, fmt.Errorf("%w: %w (%s)", ErrFatal, ErrCycle, name)
	}
	session.running[name] = true
	defer delete(session.running, name)

	if session.disabled[name] {
		result := &Result{
			Name:   name,
			Status: StatusUnavailable,
			Err:    ErrDisabled,
		}
		session.record(result)
		return result, nil
	}

	for _, prereq := range descriptor.Prerequisites {
		_, err := session.run(prereq)
		if err != nil {
			return nil, err
		}
	}

	value, err := session.construct(descriptor)
	if err != nil {
		if errors.Is(err, ErrFatal) {
			return nil, fmt.Errorf("check %s failed: %w", name, err)
		}

		session.Logger.Printf("check %s unavailable: %s", name, err)
		result = &Result{
			Name:   name,
			Status: StatusUnavailable,
			Err:    err,
		}
	} else {
		result = &Result{
			Name:   name,
			Value:  value,
			Status: StatusOK,
		}
	}

	session.record(result)
	return result, nil
}

func (session *Session) construct(
	descriptor *Descriptor,
) (
	value interface{},
	err error,
) {
	// Decoding malformed input must never take down the whole session.
	defer func() {
		recovered := recover()
		if recovered != nil {
			value = nil
			err = fmt.Errorf(
				"%w: internal failure: %v",
				ErrUnavailable,
				recovered)
		}
	}()

	return descriptor.New(session)
}

// RunAll runs every registered check in dependency order.
func (session *Session) RunAll() error {
	for _, descriptor := range session.registry.ordered {
		_, err := session.run(descriptor.Name)
		if err != nil {
			return err
		}
	}
	return nil
}

// Result returns the recorded result of a check that already ran.
func (session *Session) Result(name string) (*Result, bool) {
	result, ok := session.results[name]
	return result, ok
}

// Results returns the recorded results in completion order.
func (session *Session) Results() []*Result {
	results := make([]*Result, 0, len(session.order))
	for _, name := range session.order {
		results = append(results, session.results[name])
	}
	return results
}

// Get runs the named check and type asserts its value.  ok is false when the
// check is unavailable.
func Get[T any](session *Session, name string) (T, bool, error) {
	var zero T

	value, err := session.Run(name)
	if err != nil {
		return zero, false, err
	}

	if value == nil {
		return zero, false, nil
	}

	typed, ok := value.(T)
	if !ok {
		return zero, false, fmt.Errorf(
			"%w: check %s produced %T, not %T",
			ErrFatal,
			name,
			value,
			zero)
	}

	return typed, true, nil
}
