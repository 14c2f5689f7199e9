package vector

import "errors"

var (
	ErrEmptyUniverse      = errors.New("node universe is empty")
	ErrLocalNotInUniverse = errors.New("local IP is not part of the node universe")
	ErrDuplicateIP        = errors.New("duplicate IP in node universe")
	ErrNotIPv4            = errors.New("only IPv4 addresses are supported")
	ErrInvalidWindow      = errors.New("invalid window configuration")
	ErrUnknownMeasurement = errors.New("unknown measurement")
	ErrInvalidRange       = errors.New("invalid address range")
)
