package finalizer

import (
	"context"
	"fmt"
	"io"

	"github.com/hashicorp/go-multierror"
)

// Finalizer collects resources to be closed together in reverse order.
type Finalizer struct {
	resources []io.Closer
}

// NewFinalizer returns a new Finalizer.
func NewFinalizer() *Finalizer {
	return &Finalizer{}
}

// Add one or more io.Closer to the finalizer.
func (f *Finalizer) Add(cs ...io.Closer) {
	f.resources = append(f.resources, cs...)
}

// AddFn adds one or more cleanup functions to the finalizer.
func (f *Finalizer) AddFn(fns ...func()) {
	for _, fn := range fns {
		f.resources = append(f.resources, &fnCloser{fn: fn})
	}
}

// Cleanup closes all added resources in reverse order, appending any close
// errors to err.
func (f *Finalizer) Cleanup(err error) error {
	errs := &multierror.Error{}
	errs = multierror.Append(errs, err)
	for i := len(f.resources) - 1; i >= 0; i-- {
		errs = multierror.Append(errs, f.resources[i].Close())
	}

	return errs.ErrorOrNil()
}

// Cleanupf is like Cleanup, wrapping the aggregated error with format.
func (f *Finalizer) Cleanupf(format string, err error) error {
	if err := f.Cleanup(err); err != nil {
		return fmt.Errorf(format, err)
	}

	return nil
}

// NewContextCloser wraps a context cancel func as an io.Closer.
func NewContextCloser(cancel context.CancelFunc) io.Closer {
	return &contextCloser{cancel: cancel}
}

type contextCloser struct {
	cancel context.CancelFunc
}

func (c *contextCloser) Close() error {
	c.cancel()
	return nil
}

type fnCloser struct {
	fn func()
}

func (c *fnCloser) Close() error {
	c.fn()
	return nil
}
