package scheduler

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrActionExists   = errors.New("scheduler: action exists")
	ErrActionNotFound = errors.New("scheduler: action not found")
)

// Action performs the work of one attempt. It returns the payload on success.
type Action[T any] func(ctx context.Context, arg string) (T, error)

// Registry maps command names to actions.
type Registry[T any] struct {
	actions *AtomicMap[string, Action[T]]
}

func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{
		actions: NewAtomicMap[string, Action[T]](),
	}
}

func (r *Registry[T]) Register(cmd string, action Action[T]) error {
	if action == nil {
		return fmt.Errorf("%w: nil action for %s", ErrActionNotFound, cmd)
	}

	if !r.actions.Add(cmd, action) {
		return fmt.Errorf("%w: %s", ErrActionExists, cmd)
	}

	return nil
}

func (r *Registry[T]) MustRegister(cmd string, action Action[T]) {
	if err := r.Register(cmd, action); err != nil {
		panic(err)
	}
}

// Lookup returns the action registered for cmd.
func (r *Registry[T]) Lookup(cmd string) (Action[T], bool) {
	return r.actions.Get(cmd)
}

// Resolve returns the action registered for cmd, or an action that always
// fails with ErrActionNotFound. Unknown commands never abort task
// construction.
func (r *Registry[T]) Resolve(cmd string) Action[T] {
	if action, ok := r.Lookup(cmd); ok {
		return action
	}

	return fallback[T](cmd)
}

// Commands lists the registered command names in lexical order.
func (r *Registry[T]) Commands() []string {
	return SortedKeys(r.actions, func(a, b string) bool {
		return a < b
	})
}

func fallback[T any](cmd string) Action[T] {
	return func(ctx context.Context, arg string) (T, error) {
		var zero T

		return zero, fmt.Errorf("%w: %q (arg=%s)", ErrActionNotFound, cmd, arg)
	}
}
