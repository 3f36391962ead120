// Package gatt implements the provisioning GATT service: credential intake,
// connect and scan triggers, status read/notify with long-read support, and
// chunked delivery of scan results. The underlying BLE peripheral binding
// is consumed only through its write/notify callback contract so the
// protocol surface stays testable without radio hardware.
package gatt

import "fmt"

// Provisioning service and characteristic UUIDs. The values are
// deployment-specific identifiers, not semantically meaningful.
const (
	ServiceUUID = "b9f2a1d0-5f4c-4b5a-8a2f-9d0a6c1e0000"

	// Client -> Server
	SSIDCharUUID    = "b9f2a1d0-5f4c-4b5a-8a2f-9d0a6c1e0001"
	SecretCharUUID  = "b9f2a1d0-5f4c-4b5a-8a2f-9d0a6c1e0002"
	ConnectCharUUID = "b9f2a1d0-5f4c-4b5a-8a2f-9d0a6c1e0003"

	// Server -> Client
	StatusCharUUID   = "b9f2a1d0-5f4c-4b5a-8a2f-9d0a6c1e0004"
	ScanCharUUID     = "b9f2a1d0-5f4c-4b5a-8a2f-9d0a6c1e0005"
	NetworksCharUUID = "b9f2a1d0-5f4c-4b5a-8a2f-9d0a6c1e0006"
)

// ATTError is a transport protocol violation answered with an ATT error
// code. It never mutates provisioning state.
type ATTError struct {
	Code byte
	Name string
}

func (e *ATTError) Error() string {
	return fmt.Sprintf("gatt: %s (ATT 0x%02x)", e.Name, e.Code)
}

// ATT protocol error codes used by this service.
var (
	// ErrInvalidOffset answers a long read past the end of the value.
	ErrInvalidOffset = &ATTError{Code: 0x07, Name: "invalid offset"}

	// ErrAttributeNotLong answers a write with nonzero offset; the
	// write-only characteristics do not support long writes.
	ErrAttributeNotLong = &ATTError{Code: 0x0B, Name: "attribute not long"}

	// ErrInvalidLength answers a trigger write of the wrong size.
	ErrInvalidLength = &ATTError{Code: 0x0D, Name: "invalid attribute value length"}
)
