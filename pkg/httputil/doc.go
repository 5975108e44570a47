// Package httputil fetches remote datasets over HTTP.
//
// [Fetch] downloads a document with a size limit and retries transient
// failures:
//
//   - network errors
//   - 5xx server errors
//   - 429 rate limit responses
//
// The delay doubles after each failed attempt. Other statuses fail at once
// with a coded error from pkg/errors, so a missing document reports
// FILE_NOT_FOUND and the HTTP layer maps it to 404.
//
// [Retry] is the underlying loop and can wrap any operation whose transient
// errors are marked with [RetryableError].
package httputil
