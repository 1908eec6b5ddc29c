package subscriber

import "sync"

// promise holds a single result. The first resolve wins; every later read
// observes the same value.
type promise[T any] struct {
	once  sync.Once
	done  chan struct{}
	value T
	err   error
}

func newPromise[T any]() *promise[T] {
	return &promise[T]{done: make(chan struct{})}
}

func (p *promise[T]) resolve(value T, err error) {
	p.once.Do(func() {
		p.value = value
		p.err = err
		close(p.done)
	})
}

func (p *promise[T]) Done() <-chan struct{} {
	return p.done
}

// Result must only be called after Done is closed.
func (p *promise[T]) Result() (T, error) {
	<-p.done
	return p.value, p.err
}
