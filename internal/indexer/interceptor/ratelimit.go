package interceptor

import (
	"net/http"
	"time"

	"github.com/slipstream/searchd/internal/indexer/parser"
)

// DefaultRateLimitBackoff is used when a 429 carries no Retry-After.
const DefaultRateLimitBackoff = time.Minute

// Deferrer postpones the next dispatch to an indexer.
type Deferrer interface {
	Defer(indexerID int64, until time.Time)
}

// RateLimitObserver reports server-side throttling to the rate limiter so
// the next request to the indexer waits for the advertised delay.
type RateLimitObserver struct {
	indexerID int64
	limiter   Deferrer
	fallback  time.Duration
	now       func() time.Time
}

// NewRateLimitObserver creates an observer for one indexer.
func NewRateLimitObserver(indexerID int64, limiter Deferrer) *RateLimitObserver {
	return &RateLimitObserver{
		indexerID: indexerID,
		limiter:   limiter,
		fallback:  DefaultRateLimitBackoff,
		now:       time.Now,
	}
}

// PreRequest implements Interceptor.
func (o *RateLimitObserver) PreRequest(req *http.Request) (*http.Request, error) {
	return req, nil
}

// PostResponse implements Interceptor.
func (o *RateLimitObserver) PostResponse(_ *http.Request, resp *Response) (*Response, error) {
	throttled := resp.StatusCode == http.StatusTooManyRequests ||
		resp.StatusCode == http.StatusServiceUnavailable && resp.Header.Get("Retry-After") != ""
	if !throttled {
		return resp, nil
	}

	now := o.now()
	wait := parser.RetryAfter(resp.Header, now)
	if wait <= 0 {
		wait = o.fallback
	}
	o.limiter.Defer(o.indexerID, now.Add(wait))
	return resp, nil
}
