package vault

import (
	"context"
	"errors"
	"net"

	"github.com/matthew-bram/test-probe/internal/probeerr"
)

// ClassifyStatus maps a vault HTTP status code onto an error kind.
// 2xx returns "" (no error).
//
//	401/403         VaultAuth                (non-transient)
//	404             VaultNotFound            (non-transient)
//	429             VaultRateLimit           (transient)
//	5xx except 500  VaultServiceUnavailable  (transient)
//	500, other 4xx  VaultConfiguration       (non-transient)
func ClassifyStatus(status int) probeerr.Kind {
	switch {
	case status >= 200 && status < 300:
		return ""
	case status == 401 || status == 403:
		return probeerr.KindVaultAuth
	case status == 404:
		return probeerr.KindVaultNotFound
	case status == 429:
		return probeerr.KindVaultRateLimit
	case status > 500 && status < 600:
		return probeerr.KindVaultServiceUnavailable
	default:
		return probeerr.KindVaultConfiguration
	}
}

// classifyTransport maps transport-level failures. Timeouts are transient.
func classifyTransport(err error) probeerr.Kind {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return probeerr.KindVaultTimeout
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return probeerr.KindVaultTimeout
	}
	return probeerr.KindVaultServiceUnavailable
}
