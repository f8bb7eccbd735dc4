package preview

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/eventloop"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

//go:embed js/prelude.js
var preludeSource string

var prelude = goja.MustCompile("prelude.js", preludeSource, false)

// stopGrace bounds how long an interrupted runtime may take to yield.
const stopGrace = 2 * time.Second

// TimeoutError is returned when a script runs past the execution timeout.
type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("Execution timed out after %s. Check for infinite loops or very expensive renders.", e.Timeout)
}

// sandbox is one disposable runtime. It is created for a single evaluation
// and closed afterwards.
type sandbox struct {
	loop    *eventloop.EventLoop
	vm      *goja.Runtime
	timeout time.Duration
	logger  zerolog.Logger
}

func newSandbox(ctx context.Context, timeout time.Duration, logger zerolog.Logger) (*sandbox, error) {
	loop := eventloop.NewEventLoop(eventloop.EnableConsole(false))
	loop.Start()

	s := &sandbox{loop: loop, timeout: timeout, logger: logger}

	vmCh := make(chan *goja.Runtime, 1)
	if !loop.RunOnLoop(func(vm *goja.Runtime) { vmCh <- vm }) {
		loop.Stop()
		return nil, errors.New("preview runtime did not start")
	}
	select {
	case s.vm = <-vmCh:
	case <-ctx.Done():
		loop.Stop()
		return nil, ctx.Err()
	}

	err := s.do(ctx, func(vm *goja.Runtime) error {
		if err := installConsole(vm, logger); err != nil {
			return err
		}
		_, err := vm.RunProgram(prelude)
		return err
	})
	if err != nil {
		s.Close()
		return nil, errors.Wrap(err, "could not install preview prelude")
	}
	return s, nil
}

// do runs fn on the loop goroutine and waits for it. A script that runs past
// the timeout, or a cancelled context, interrupts the runtime.
func (s *sandbox) do(ctx context.Context, fn func(vm *goja.Runtime) error) error {
	done := make(chan error, 1)
	ok := s.loop.RunOnLoop(func(vm *goja.Runtime) {
		defer func() {
			if r := recover(); r != nil {
				done <- errors.Errorf("preview runtime panic: %v", r)
			}
		}()
		done <- fn(vm)
	})
	if !ok {
		return errors.New("preview runtime is stopped")
	}

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	var cause error
	select {
	case err := <-done:
		return err
	case <-timer.C:
		cause = &TimeoutError{Timeout: s.timeout}
	case <-ctx.Done():
		cause = ctx.Err()
	}

	s.vm.Interrupt(cause)
	select {
	case <-done:
	case <-time.After(stopGrace):
		s.logger.Warn().Msg("preview runtime did not yield after interrupt")
	}
	return cause
}

// Close interrupts anything still running and stops the loop.
func (s *sandbox) Close() {
	s.vm.Interrupt(errors.New("preview sandbox closed"))
	s.loop.Stop()
}

// errorMessage extracts the JS error message from a runtime error.
func errorMessage(err error) string {
	var ex *goja.Exception
	if errors.As(err, &ex) {
		if obj, ok := ex.Value().(*goja.Object); ok {
			if m := obj.Get("message"); m != nil && !goja.IsUndefined(m) {
				name := ""
				if n := obj.Get("name"); n != nil && !goja.IsUndefined(n) {
					name = n.String()
				}
				if name != "" && name != "Error" {
					return name + ": " + m.String()
				}
				return m.String()
			}
		}
		return ex.Value().String()
	}
	var ie *goja.InterruptedError
	if errors.As(err, &ie) {
		if inner, ok := ie.Value().(error); ok {
			return inner.Error()
		}
		return ie.Error()
	}
	return err.Error()
}
