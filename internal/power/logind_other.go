//go:build !linux

package power

import "context"

// Logind is only available on Linux.
func Logind(ctx context.Context) (<-chan bool, error) {
	return nil, ErrUnsupported
}
