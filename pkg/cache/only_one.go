package cache

import (
	"sync"
)

type ComputeFn func() (interface{}, error)

// ChanOnlyOne ensures only one concurrent evaluation of a keyed expression.
// Other goroutines requesting the same key wait for that evaluation and
// receive its result.
type ChanOnlyOne struct {
	m *sync.Map
}

func NewChanOnlyOne() *ChanOnlyOne {
	return &ChanOnlyOne{
		m: &sync.Map{},
	}
}

type chanOnlyOneResult struct {
	value interface{}
	err   error
}

func (c *ChanOnlyOne) Compute(k interface{}, fn ComputeFn) (interface{}, error) {
	stop := make(chan chanOnlyOneResult)
	actual, inFlight := c.m.LoadOrStore(k, stop)
	if inFlight {
		result, ok := <-actual.(chan chanOnlyOneResult)
		if ok {
			return result.value, result.err
		}
		// computation ended between LoadOrStore and receive, run our own
		return fn()
	}
	value, err := fn()
	c.m.Delete(k)
	go func() {
		// deliver to any waiters, then release them all
		for {
			select {
			case stop <- chanOnlyOneResult{value: value, err: err}:
			default:
				close(stop)
				return
			}
		}
	}()
	return value, err
}
