// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package reactive

import (
	"errors"
	"fmt"
	"sync"
)

// Subscription is a cancelable stream of values and errors that, unlike a
// future, may fire any number of times.
type Subscription[T any] struct {
	success Broadcaster[T]
	failure Broadcaster[error]

	mu     sync.Mutex
	cancel func()
}

// Emitter is the producer side of a Subscription.
type Emitter[T any] struct {
	s *Subscription[T]
}

// Send delivers v to every success listener.
func (e Emitter[T]) Send(v T) {
	e.s.success.Send(v)
}

// Error delivers err to every error listener. With no error listeners the
// error is dropped.
func (e Emitter[T]) Error(err error) {
	e.s.failure.Send(err)
}

// OnCancel sets the function run when the Subscription, or anything derived
// from it, is canceled. fn runs at most once.
func (e Emitter[T]) OnCancel(fn func()) {
	e.s.setCancel(sync.OnceFunc(fn))
}

// NewSubscription creates a Subscription and runs producer with its emitter
// before returning.
func NewSubscription[T any](producer func(Emitter[T])) *Subscription[T] {
	s, e := Bind[T]()
	producer(e)
	return s
}

// Bind creates a Subscription and returns it together with its emitter.
func Bind[T any]() (*Subscription[T], Emitter[T]) {
	s := new(Subscription[T])
	return s, Emitter[T]{s: s}
}

func (s *Subscription[T]) setCancel(fn func()) {
	s.mu.Lock()
	s.cancel = fn
	s.mu.Unlock()
}

// Cancel runs the nearest cancel function up the chain. Canceling more than
// once, or from several derived subscriptions, reaches the producer at most
// once.
func (s *Subscription[T]) Cancel() {
	s.mu.Lock()
	fn := s.cancel
	s.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// When derives a Subscription whose values are the results of onSuccess and
// onError. A nil callback passes values or errors through unchanged. The
// result of onError is delivered as a value, so onError can recover.
func (s *Subscription[T]) When(onSuccess func(T) (T, error), onError func(error) (T, error)) *Subscription[T] {
	return Then(s, onSuccess, onError)
}

// Catch is When(nil, onError).
func (s *Subscription[T]) Catch(onError func(error) (T, error)) *Subscription[T] {
	return Then(s, nil, onError)
}

// Finally derives a Subscription that runs fn on every value and every error
// and then passes the original value or error on.
func (s *Subscription[T]) Finally(fn func()) *Subscription[T] {
	child, e := Bind[T]()

	s.success.Register(func(v T) {
		if err := protect(fn); err != nil {
			e.Error(err)
			return
		}
		e.Send(v)
	})
	s.failure.Register(func(err error) {
		if perr := protect(fn); perr != nil {
			e.Error(perr)
			return
		}
		e.Error(err)
	})

	child.cancel = s.Cancel
	return child
}

// Then derives a Subscription of another type; see When. Without onSuccess,
// values that are not a U are delivered as errors wrapping ErrTypeMismatch.
func Then[T, U any](s *Subscription[T], onSuccess func(T) (U, error), onError func(error) (U, error)) *Subscription[U] {
	child, e := Bind[U]()

	if onSuccess != nil {
		s.success.Register(func(v T) {
			e.deliver(func() (U, error) { return onSuccess(v) })
		})
	} else {
		s.success.Register(func(v T) {
			u, ok := any(v).(U)
			if !ok {
				e.Error(fmt.Errorf("%w: %T", ErrTypeMismatch, v))
				return
			}
			e.Send(u)
		})
	}

	if onError != nil {
		s.failure.Register(func(err error) {
			e.deliver(func() (U, error) { return onError(err) })
		})
	} else {
		s.failure.Register(e.Error)
	}

	child.cancel = s.Cancel
	return child
}

func (e Emitter[T]) deliver(fn func() (T, error)) {
	v, err := call(fn)
	if err != nil {
		e.Error(err)
		return
	}
	e.Send(v)
}

// call runs fn, turning a returned error or a panic into a *HandlerError.
func call[T any](fn func() (T, error)) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &HandlerError{Panic: r}
		}
	}()

	v, err = fn()
	if err != nil {
		var herr *HandlerError
		if !errors.As(err, &herr) {
			err = &HandlerError{Err: err}
		}
	}
	return v, err
}

func protect(fn func()) error {
	_, err := call(func() (struct{}, error) {
		fn()
		return struct{}{}, nil
	})
	return err
}

// SplitCancel returns a factory of Subscriptions that share one tap on s.
// Canceling one of them only detaches it. Once every produced Subscription has
// been canceled, s itself is canceled if cancelOnEmpty is set.
func (s *Subscription[T]) SplitCancel(cancelOnEmpty bool) func() *Subscription[T] {
	var (
		success Broadcaster[T]
		failure Broadcaster[error]

		mu sync.Mutex
		n  int
	)

	s.success.Register(success.Send)
	s.failure.Register(failure.Send)

	return func() *Subscription[T] {
		child, e := Bind[T]()

		mu.Lock()
		n++
		mu.Unlock()

		sid := success.Register(e.Send)
		fid := failure.Register(e.Error)

		e.OnCancel(func() {
			success.Unregister(sid)
			failure.Unregister(fid)

			mu.Lock()
			n--
			empty := n == 0
			mu.Unlock()

			if empty && cancelOnEmpty {
				s.Cancel()
			}
		})

		return child
	}
}

// Merge creates a Subscription that fires whenever any of subs does.
// Canceling it cancels all of subs.
func Merge[T any](subs ...*Subscription[T]) *Subscription[T] {
	return NewSubscription(func(e Emitter[T]) {
		for _, s := range subs {
			s.success.Register(e.Send)
			s.failure.Register(e.Error)
		}
		e.OnCancel(func() {
			for _, s := range subs {
				s.Cancel()
			}
		})
	})
}

// AnyInput is one input of Any.
type AnyInput[T any] struct {
	sub *Subscription[T]
	v   T
}

// From uses s as an input of Any; the zero value is reported until s fires.
func From[T any](s *Subscription[T]) AnyInput[T] {
	return AnyInput[T]{sub: s}
}

// FromDefault uses s as an input of Any, reporting def until s fires.
func FromDefault[T any](s *Subscription[T], def T) AnyInput[T] {
	return AnyInput[T]{sub: s, v: def}
}

// Const is a constant input of Any.
func Const[T any](v T) AnyInput[T] {
	return AnyInput[T]{v: v}
}

// Any creates a Subscription of the latest value of every input. Values
// arriving before the flush scheduled on sched has run produce a single
// notification. Errors from any input are passed through. Canceling the
// result cancels every subscription input.
func Any[T any](sched Scheduler, inputs ...AnyInput[T]) *Subscription[[]T] {
	s, e := Bind[[]T]()

	values := make([]T, len(inputs))
	for n, in := range inputs {
		values[n] = in.v
	}

	l := newLatest(values, sched, e.Send)

	for n, in := range inputs {
		if in.sub == nil {
			continue
		}
		n := n
		in.sub.success.Register(func(v T) { l.set(n, v) })
		in.sub.failure.Register(e.Error)
	}

	e.OnCancel(func() {
		for _, in := range inputs {
			if in.sub != nil {
				in.sub.Cancel()
			}
		}
	})

	return s
}

// AnyOf is Any with the DefaultScheduler.
func AnyOf[T any](inputs ...AnyInput[T]) *Subscription[[]T] {
	return Any(DefaultScheduler, inputs...)
}
