package exchange

// Pool is the bounded concurrent executor described in spec §4.5/§5: a
// batch of independent operations within one phase (cancels, partial
// closes, price fetches, SL creates) fans out concurrently and every
// result is collected even if some calls fail — a single failure never
// blocks the rest of the batch.
type Pool struct {
	concurrency int
}

// NewPool returns a Pool bounding fan-out to concurrency simultaneous
// operations. The rate limiting itself lives in the Gateway decorator
// (ratelimit.go); this just bounds how many goroutines are in flight.
func NewPool(concurrency int) *Pool {
	if concurrency <= 0 {
		concurrency = 10
	}
	return &Pool{concurrency: concurrency}
}

// Result pairs one operation's outcome with its index in the submitted
// batch, so callers can correlate results back to their inputs.
type Result struct {
	Index int
	Err   error
	Value interface{}
}

// Run executes one op per item concurrently, bounded by the pool's
// concurrency, and returns every result in submission order regardless of
// individual failures.
func (p *Pool) Run(n int, op func(i int) (interface{}, error)) []Result {
	results := make([]Result, n)
	if n == 0 {
		return results
	}

	sem := make(chan struct{}, p.concurrency)
	done := make(chan Result, n)

	for i := 0; i < n; i++ {
		sem <- struct{}{}
		go func(i int) {
			defer func() { <-sem }()
			v, err := op(i)
			done <- Result{Index: i, Err: err, Value: v}
		}(i)
	}

	for i := 0; i < n; i++ {
		r := <-done
		results[r.Index] = r
	}
	return results
}
