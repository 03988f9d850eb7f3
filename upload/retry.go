package upload

// retryPolicy tracks the attempt budget of the chunk currently in flight.
// The budget belongs to the chunk: it refills when the cursor advances, not
// between retries.
type retryPolicy struct {
	allowed  int
	attempts int
}

// onFailure consumes one attempt. It reports how many retries remain and
// whether the chunk may be sent again. Once the budget is spent it keeps
// returning false.
func (p *retryPolicy) onFailure() (left int, retry bool) {
	if p.attempts >= p.allowed {
		return 0, false
	}
	p.attempts++
	return p.allowed - p.attempts, true
}

// reset refills the budget for the next chunk.
func (p *retryPolicy) reset() {
	p.attempts = 0
}

// count returns the attempts consumed for the current chunk.
func (p *retryPolicy) count() int {
	return p.attempts
}
