package metrics

import (
	"strconv"
	"time"
)

// Verification records a finished verification. errCode is empty on success.
func Verification(chainID uint64, runtimeMatch, creationMatch, errCode string) {
	if !enabled {
		return
	}
	verificationTotal.WithLabelValues(strconv.FormatUint(chainID, 10), runtimeMatch, creationMatch, errCode).Inc()
}

// VerificationDuration records how long a verification took.
func VerificationDuration(language string, d time.Duration) {
	if !enabled {
		return
	}
	verificationDuration.WithLabelValues(language).Observe(d.Seconds())
}

// CompileDuration records one compiler invocation.
func CompileDuration(language, status string, d time.Duration) {
	if !enabled {
		return
	}
	compileDuration.WithLabelValues(language, status).Observe(d.Seconds())
}

// RPCProviderFailure records a failed attempt against one RPC provider.
func RPCProviderFailure(chainID uint64, method string) {
	if !enabled {
		return
	}
	rpcProviderFailures.WithLabelValues(strconv.FormatUint(chainID, 10), method).Inc()
}
