package generic

import "sync"

// Pool is a typed wrapper around sync.Pool.
type Pool[T any] struct {
	pool sync.Pool
}

func NewPool[T any](generate func() T) *Pool[T] {
	return &Pool[T]{
		pool: sync.Pool{
			New: func() any {
				return generate()
			},
		},
	}
}

// Warm puts n freshly generated values into the pool and returns it, so
// the first n concurrent Gets skip the constructor.
func (p *Pool[T]) Warm(n int) *Pool[T] {
	for i := 0; i < n; i++ {
		p.pool.Put(p.pool.New())
	}
	return p
}

func (p *Pool[T]) Get() T {
	return p.pool.Get().(T)
}

func (p *Pool[T]) Put(value T) {
	p.pool.Put(value)
}
