//go:build !linux && !windows

package wmi

import (
	"fmt"
	"runtime"
)

func openNative(opts Options) (Invoker, error) {
	return nil, fmt.Errorf("no native WMI transport on %s, use transport kind %q", runtime.GOOS, KindSimulate)
}
