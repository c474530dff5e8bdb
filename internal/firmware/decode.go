package firmware

import (
	"errors"
	"fmt"
)

// ObjectType is the type tag of a value returned by a firmware method.
type ObjectType int

const (
	ObjectAny ObjectType = iota
	ObjectInteger
	ObjectString
	ObjectBuffer
	ObjectPackage
)

func (t ObjectType) String() string {
	switch t {
	case ObjectInteger:
		return "integer"
	case ObjectString:
		return "string"
	case ObjectBuffer:
		return "buffer"
	case ObjectPackage:
		return "package"
	default:
		return "any"
	}
}

// Object is the opaque result of a firmware method call.
type Object struct {
	Type    ObjectType
	Buffer  []byte
	Integer uint64
}

// ErrProtocol is the class of every reply that cannot be accepted.
var ErrProtocol = errors.New("firmware protocol error")

var (
	ErrUnexpectedType = fmt.Errorf("%w: unexpected reply type", ErrProtocol)
	ErrReplySize      = fmt.Errorf("%w: reply size mismatch", ErrProtocol)
)

// StatusError is a nonzero status reported by the firmware in reserved1.
type StatusError struct {
	Code uint32
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("firmware returned status %d", e.Code)
}

// Is makes every StatusError match ErrProtocol.
func (e *StatusError) Is(target error) bool {
	return target == ErrProtocol
}

// Decode validates a raw reply and unpacks it.
func Decode(obj Object) (Command, error) {
	var reply Command
	if obj.Type != ObjectBuffer {
		return reply, fmt.Errorf("%w: %s", ErrUnexpectedType, obj.Type)
	}
	if err := reply.UnmarshalBinary(obj.Buffer); err != nil {
		return reply, err
	}
	if code := reply.Status(); code != 0 {
		return reply, &StatusError{Code: code}
	}
	return reply, nil
}
