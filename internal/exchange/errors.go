package exchange

import "strings"

// IsOrderNotFound reports whether err looks like an "order does not exist"
// rejection. A stop replacement treats such a cancel failure as already
// resolved rather than fatal: the old stop may have been consumed by the
// exchange between ticks.
func IsOrderNotFound(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "-2011"): // binance: unknown order sent
		return true
	case strings.Contains(msg, "unknown order"):
		return true
	case strings.Contains(msg, "order not exist"):
		return true
	case strings.Contains(msg, "80016"): // bingx: order does not exist
		return true
	case strings.Contains(msg, "order does not exist"):
		return true
	}
	return false
}
