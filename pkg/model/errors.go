package model

import (
	"errors"
	"fmt"
)

// Inconsistency reasons
const (
	ReasonNotFound  = "does not exist"
	ReasonDuplicate = "already exists"
	ReasonInUse     = "in use"
)

// Referenced entity kinds used in error messages
const (
	KindNetwork        = "network"
	KindSubnet         = "subnet"
	KindSubnetFor      = "subnet for"
	KindPort           = "port"
	KindProvider       = "provider"
	KindServiceNetwork = "service network"
	KindServicePort    = "service port"
	KindInstance       = "instance"
	KindVtnNetwork     = "VTN network"
	KindVtnPort        = "VTN port"
)

// NullArgumentError is returned when a required argument is missing
type NullArgumentError struct {
	// Arg names the missing argument
	Arg string
}

func (e *NullArgumentError) Error() string {
	return fmt.Sprintf("%s cannot be null", e.Arg)
}

// StateInconsistencyError is returned when a mutation would break a
// referential invariant of the store
type StateInconsistencyError struct {
	// Kind is the kind of the offending reference (network, subnet for, port...)
	Kind string

	// Ref is the identifier of the missing, duplicate or in-use entity
	Ref string

	// Reason is one of ReasonNotFound, ReasonDuplicate, ReasonInUse
	Reason string
}

func (e *StateInconsistencyError) Error() string {
	switch e.Reason {
	case ReasonDuplicate:
		return fmt.Sprintf("VTN store is out of sync: %s already exists for network %s", e.Kind, e.Ref)
	case ReasonInUse:
		if e.Kind == KindPort {
			return fmt.Sprintf("There are ports still in use on the network %s", e.Ref)
		}
		return fmt.Sprintf("VTN store is out of sync: %s still in use on network %s", e.Kind, e.Ref)
	default:
		return fmt.Sprintf("VTN store is out of sync: %s %s %s", e.Kind, e.Ref, e.Reason)
	}
}

// ResolutionError is returned when an instance event references a network or
// instance that cannot be resolved
type ResolutionError struct {
	// Kind is the kind of entity that failed to resolve
	Kind string

	// Ref is the identifier that was looked up
	Ref string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("failed to resolve %s %s", e.Kind, e.Ref)
}

// NewNullArgumentError creates a new NullArgumentError
func NewNullArgumentError(arg string) *NullArgumentError {
	return &NullArgumentError{Arg: arg}
}

// NewNotFoundError creates a StateInconsistencyError for a missing reference
func NewNotFoundError(kind, ref string) *StateInconsistencyError {
	return &StateInconsistencyError{Kind: kind, Ref: ref, Reason: ReasonNotFound}
}

// NewDuplicateError creates a StateInconsistencyError for a duplicate binding
func NewDuplicateError(kind, ref string) *StateInconsistencyError {
	return &StateInconsistencyError{Kind: kind, Ref: ref, Reason: ReasonDuplicate}
}

// NewInUseError creates a StateInconsistencyError for an entity still in use
func NewInUseError(kind, ref string) *StateInconsistencyError {
	return &StateInconsistencyError{Kind: kind, Ref: ref, Reason: ReasonInUse}
}

// NewResolutionError creates a new ResolutionError
func NewResolutionError(kind, ref string) *ResolutionError {
	return &ResolutionError{Kind: kind, Ref: ref}
}

// IsNullArgument checks if an error is a NullArgumentError
func IsNullArgument(err error) bool {
	var target *NullArgumentError
	return errors.As(err, &target)
}

// IsStateInconsistency checks if an error is a StateInconsistencyError
func IsStateInconsistency(err error) bool {
	var target *StateInconsistencyError
	return errors.As(err, &target)
}

// IsResolutionError checks if an error is a ResolutionError
func IsResolutionError(err error) bool {
	var target *ResolutionError
	return errors.As(err, &target)
}

// InconsistencyRef returns the reference carried by a StateInconsistencyError,
// or the empty string if err is not one.
func InconsistencyRef(err error) string {
	var target *StateInconsistencyError
	if errors.As(err, &target) {
		return target.Ref
	}
	return ""
}
