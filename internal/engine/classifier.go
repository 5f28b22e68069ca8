package engine

import "strings"

// ErrorClass is the retry classification of a step executor error.
type ErrorClass int

const (
	// ClassTransient marks errors worth retrying: the step is requeued and
	// its retryable-error counter incremented, up to the configured ceiling.
	ClassTransient ErrorClass = iota

	// ClassFatal marks errors that can never succeed on retry: the run
	// fails immediately.
	ClassFatal
)

// fatalPatterns are quota and billing exhaustion signals. Fatal
// classification takes precedence: an error matching both a fatal and a
// transient pattern is fatal.
var fatalPatterns = []string{
	"insufficient_quota",
	"quota exceeded",
	"exceeded your current quota",
	"billing",
	"payment required",
	"account is not active",
}

// transientPatterns cover timeouts, rate limits, and network failures. They
// are matched for documentation and log labelling; any error that is not
// fatal is treated as transient, since the retry ceiling bounds the damage
// of misclassifying an unknown error as retryable.
var transientPatterns = []string{
	"timeout",
	"timed out",
	"deadline exceeded",
	"429",
	"too many requests",
	"rate limit",
	"no such host",
	"dns",
	"connection refused",
	"connection reset",
	"broken pipe",
	"temporarily unavailable",
	"service unavailable",
	"try again",
	"502",
	"503",
	"504",
}

// Classify inspects an executor error's message and decides whether the step
// should be retried.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassTransient
	}
	msg := strings.ToLower(err.Error())

	for _, p := range fatalPatterns {
		if strings.Contains(msg, p) {
			return ClassFatal
		}
	}
	return ClassTransient
}

// IsKnownTransient reports whether the message matches a recognized
// transient pattern, used only for log labelling.
func IsKnownTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
