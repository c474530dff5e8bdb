//go:build windows

package wmi

func openNative(opts Options) (Invoker, error) {
	return NewOLE(opts.Namespace, opts.Class, opts.Method), nil
}
