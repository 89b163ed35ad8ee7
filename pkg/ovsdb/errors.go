package ovsdb

import (
	"errors"
	"fmt"
)

// ConnectionError represents an Open_vSwitch database connection error
type ConnectionError struct {
	// Address is the database address that failed to connect
	Address string

	// Cause is the underlying error
	Cause error

	// Retries is the number of retry attempts made
	Retries int
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("failed to connect to OVSDB at %s after %d retries: %v",
		e.Address, e.Retries, e.Cause)
}

func (e *ConnectionError) Unwrap() error {
	return e.Cause
}

// ObjectNotFoundError represents an error when a row is not found
type ObjectNotFoundError struct {
	// ObjectType is the table of the row (e.g., "Interface")
	ObjectType string

	// ObjectName is the name or identifier of the row
	ObjectName string
}

func (e *ObjectNotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.ObjectType, e.ObjectName)
}

// PortNotAssignedError is returned when an interface exists but
// ovs-vswitchd has not given it a usable OpenFlow port
type PortNotAssignedError struct {
	Interface string
	Ofport    int
}

func (e *PortNotAssignedError) Error() string {
	return fmt.Sprintf("interface %q has no OpenFlow port (ofport=%d)", e.Interface, e.Ofport)
}

// NewConnectionError creates a new ConnectionError
func NewConnectionError(address string, cause error, retries int) *ConnectionError {
	return &ConnectionError{
		Address: address,
		Cause:   cause,
		Retries: retries,
	}
}

// NewObjectNotFoundError creates a new ObjectNotFoundError
func NewObjectNotFoundError(objectType, objectName string) *ObjectNotFoundError {
	return &ObjectNotFoundError{
		ObjectType: objectType,
		ObjectName: objectName,
	}
}

// IsNotFound checks if an error is an ObjectNotFoundError
func IsNotFound(err error) bool {
	var target *ObjectNotFoundError
	return errors.As(err, &target)
}

// IsConnectionError checks if an error is a ConnectionError
func IsConnectionError(err error) bool {
	var target *ConnectionError
	return errors.As(err, &target)
}

// IsPortNotAssigned checks if an error is a PortNotAssignedError
func IsPortNotAssigned(err error) bool {
	var target *PortNotAssignedError
	return errors.As(err, &target)
}
