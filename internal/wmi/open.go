package wmi

import (
	"fmt"
)

// Transport kinds accepted by Open.
const (
	KindAuto     = "auto"
	KindDevWMI   = "devwmi"
	KindOLE      = "wmi"
	KindSimulate = "simulate"
)

// Options selects and configures an Invoker.
type Options struct {
	Kind string

	// devwmi
	DevicePath string
	SysfsDir   string

	// wmi (windows)
	Namespace string
	Class     string
	Method    string
}

// Open creates the invoker for the requested kind. "auto" picks the native
// transport of the running platform.
func Open(opts Options) (Invoker, error) {
	switch opts.Kind {
	case KindSimulate:
		return NewSimulator(), nil
	case "", KindAuto:
		return openNative(opts)
	case KindDevWMI, KindOLE:
		inv, err := openNative(opts)
		if err != nil {
			return nil, err
		}
		if inv.Name() != opts.Kind {
			inv.Close()
			return nil, fmt.Errorf("transport %q is not supported on this platform", opts.Kind)
		}
		return inv, nil
	default:
		return nil, fmt.Errorf("unknown transport kind %q", opts.Kind)
	}
}
