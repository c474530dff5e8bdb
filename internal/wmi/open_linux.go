//go:build linux

package wmi

func openNative(opts Options) (Invoker, error) {
	return NewDevWMI(opts.DevicePath, opts.SysfsDir), nil
}
