// Package api provides the exchange REST client used to page through trade history.
//
// Endpoint:
//   - GET /0/public/Trades?pair=<name>&since=<cursor>
//
// Requests are paced: the delay between calls doubles on failure up to a
// ceiling, drops to zero on success, and settles at one unit after a burst
// of consecutive successes to stay under the public rate limit.
package api
