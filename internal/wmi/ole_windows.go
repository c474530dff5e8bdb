//go:build windows

package wmi

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	ole "github.com/go-ole/go-ole"
	"github.com/go-ole/go-ole/oleutil"
	"github.com/rs/zerolog/log"
	"golang.org/x/sys/windows"
	tomb "gopkg.in/tomb.v2"

	"github.com/dokzlo13/caselightd/internal/firmware"
)

// Defaults for the ACPI-WMI mapped SMBIOS class.
const (
	DefaultNamespace = `root\WMI`
	DefaultClass     = "BFn"
	DefaultMethod    = "DoBFn"
	dataProperty     = "Data"
)

type oleRequest struct {
	probe bool
	input []byte
	reply chan oleResult
}

type oleResult struct {
	obj *firmware.Object
	err error
}

// OLE evaluates the method through WMI scripting. COM calls are confined to
// one goroutine locked to its OS thread.
type OLE struct {
	namespace string
	class     string
	method    string

	requests chan oleRequest
	t        tomb.Tomb
}

// NewOLE creates the invoker and starts its COM thread.
func NewOLE(namespace, class, method string) *OLE {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if class == "" {
		class = DefaultClass
	}
	if method == "" {
		method = DefaultMethod
	}
	o := &OLE{
		namespace: namespace,
		class:     class,
		method:    method,
		requests:  make(chan oleRequest),
	}
	o.t.Go(o.loop)
	return o
}

func (o *OLE) Name() string {
	return "wmi"
}

func (o *OLE) do(ctx context.Context, req oleRequest) (*firmware.Object, error) {
	req.reply = make(chan oleResult, 1)
	select {
	case o.requests <- req:
	case <-o.t.Dying():
		return nil, errors.New("wmi invoker closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	// The COM call cannot be interrupted once started.
	res := <-req.reply
	return res.obj, res.err
}

func (o *OLE) Probe(ctx context.Context) error {
	if _, err := o.do(ctx, oleRequest{probe: true}); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (o *OLE) Evaluate(ctx context.Context, call Call) (*firmware.Object, error) {
	return o.do(ctx, oleRequest{input: call.Input})
}

func (o *OLE) Close() error {
	o.t.Kill(nil)
	return o.t.Wait()
}

func (o *OLE) loop() error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := ole.CoInitializeEx(0, ole.COINIT_MULTITHREADED); err != nil {
		var oleErr *ole.OleError
		// already initialized on this thread
		if !errors.As(err, &oleErr) || oleErr.Code() != uintptr(windows.S_FALSE) {
			return fmt.Errorf("CoInitializeEx: %w", err)
		}
	}
	defer ole.CoUninitialize()

	for {
		select {
		case <-o.t.Dying():
			return nil
		case req := <-o.requests:
			var res oleResult
			if req.probe {
				res.err = o.probe()
			} else {
				res.obj, res.err = o.exec(req.input)
			}
			req.reply <- res
		}
	}
}

func (o *OLE) connect() (*ole.IDispatch, func(), error) {
	unknown, err := oleutil.CreateObject("WbemScripting.SWbemLocator")
	if err != nil {
		return nil, nil, fmt.Errorf("create locator: %w", err)
	}
	defer unknown.Release()

	locator, err := unknown.QueryInterface(ole.IID_IDispatch)
	if err != nil {
		return nil, nil, fmt.Errorf("query locator: %w", err)
	}
	defer locator.Release()

	serviceRaw, err := oleutil.CallMethod(locator, "ConnectServer", nil, o.namespace)
	if err != nil {
		return nil, nil, fmt.Errorf("connect %s: %w", o.namespace, err)
	}
	return serviceRaw.ToIDispatch(), func() { serviceRaw.Clear() }, nil
}

func (o *OLE) probe() error {
	service, release, err := o.connect()
	if err != nil {
		return err
	}
	defer release()

	classRaw, err := oleutil.CallMethod(service, "Get", o.class)
	if err != nil {
		return fmt.Errorf("get class %s: %w", o.class, err)
	}
	defer classRaw.Clear()
	return nil
}

func (o *OLE) exec(input []byte) (*firmware.Object, error) {
	service, release, err := o.connect()
	if err != nil {
		return nil, err
	}
	defer release()

	classRaw, err := oleutil.CallMethod(service, "Get", o.class)
	if err != nil {
		return nil, fmt.Errorf("get class %s: %w", o.class, err)
	}
	defer classRaw.Clear()

	methodsRaw, err := oleutil.GetProperty(classRaw.ToIDispatch(), "Methods_")
	if err != nil {
		return nil, err
	}
	defer methodsRaw.Clear()

	methodRaw, err := oleutil.CallMethod(methodsRaw.ToIDispatch(), "Item", o.method)
	if err != nil {
		return nil, fmt.Errorf("method %s: %w", o.method, err)
	}
	defer methodRaw.Clear()

	inClassRaw, err := oleutil.GetProperty(methodRaw.ToIDispatch(), "InParameters")
	if err != nil {
		return nil, err
	}
	defer inClassRaw.Clear()

	inRaw, err := oleutil.CallMethod(inClassRaw.ToIDispatch(), "SpawnInstance_")
	if err != nil {
		return nil, err
	}
	defer inRaw.Clear()
	in := inRaw.ToIDispatch()

	if _, err := oleutil.PutProperty(in, dataProperty, input); err != nil {
		return nil, fmt.Errorf("set %s: %w", dataProperty, err)
	}

	instancesRaw, err := oleutil.CallMethod(service, "InstancesOf", o.class)
	if err != nil {
		return nil, err
	}
	defer instancesRaw.Clear()

	instanceRaw, err := oleutil.CallMethod(instancesRaw.ToIDispatch(), "ItemIndex", Instance)
	if err != nil {
		return nil, fmt.Errorf("instance %d: %w", Instance, err)
	}
	defer instanceRaw.Clear()

	outRaw, err := oleutil.CallMethod(instanceRaw.ToIDispatch(), "ExecMethod_", o.method, in)
	if err != nil {
		return nil, err
	}
	defer outRaw.Clear()

	out := outRaw.ToIDispatch()
	if out == nil {
		return nil, nil
	}

	data, err := oleutil.GetProperty(out, dataProperty)
	if err != nil {
		return nil, err
	}
	defer data.Clear()

	log.Debug().Int("vt", int(data.VT)).Msg("WMI method returned")

	switch {
	case data.VT == ole.VT_EMPTY || data.VT == ole.VT_NULL:
		return nil, nil
	case data.VT == ole.VT_ARRAY|ole.VT_UI1:
		return &firmware.Object{Type: firmware.ObjectBuffer, Buffer: data.ToArray().ToByteArray()}, nil
	case data.VT == ole.VT_BSTR:
		return &firmware.Object{Type: firmware.ObjectString}, nil
	default:
		return &firmware.Object{Type: firmware.ObjectInteger, Integer: uint64(data.Val)}, nil
	}
}
