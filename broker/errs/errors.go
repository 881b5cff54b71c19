// Package errs defines the sentinel errors the broker domain surfaces to
// callers, each carrying the exact wire code used in ApplicationDlDataResp
// and ApplicationDlDataResult error fields.
package errs

import "fmt"

// Coded is implemented by every error this package returns. Code() is the
// stable wire string; it does not change if Error() is reworded.
type Coded interface {
	error
	Code() string
}

type codedError struct {
	code    string
	message string
}

func (e *codedError) Error() string { return fmt.Sprintf("%s: %s", e.code, e.message) }
func (e *codedError) Code() string  { return e.code }

func newCoded(code, message string) *codedError {
	return &codedError{code: code, message: message}
}

// Entity existence/uniqueness errors (§6 error taxonomy).
var (
	ErrUnitNotExist        Coded = newCoded("err_broker_unit_not_exist", "unit does not exist")
	ErrUnitExist           Coded = newCoded("err_broker_unit_exist", "unit code already in use")
	ErrUnitNotMatch        Coded = newCoded("err_broker_unit_not_match", "resource does not belong to the given unit")
	ErrApplicationExist    Coded = newCoded("err_broker_application_exist", "application code already in use for this unit")
	ErrApplicationNotExist Coded = newCoded("err_broker_application_not_exist", "application does not exist")
	ErrNetworkExist        Coded = newCoded("err_broker_network_exist", "network code already in use for this unit")
	ErrNetworkNotExist     Coded = newCoded("err_broker_network_not_exist", "network does not exist")
	ErrDeviceNotExist      Coded = newCoded("err_broker_device_not_exist", "device does not exist")
	ErrNetworkAddrExist    Coded = newCoded("err_broker_network_addr_exist", "network address already in use on this network")
	ErrRouteExist          Coded = newCoded("err_broker_route_exist", "route already exists")
	ErrMemberNotExist      Coded = newCoded("err_broker_member_not_exist", "member is not a member of this unit")
	ErrOwnerNotExist       Coded = newCoded("err_broker_owner_not_exist", "owner is not among the unit's members")
)

// StoreUnavailable wraps a data-store failure. The source message should be
// nacked for redelivery, not dropped (§7 "Store unavailable").
type StoreUnavailable struct {
	Cause error
}

func (e *StoreUnavailable) Error() string { return fmt.Sprintf("store unavailable: %v", e.Cause) }
func (e *StoreUnavailable) Unwrap() error { return e.Cause }

// NewStoreUnavailable wraps cause as a StoreUnavailable.
func NewStoreUnavailable(cause error) *StoreUnavailable {
	return &StoreUnavailable{Cause: cause}
}

// ProgrammerError marks a contract violation that must never be retried
// (§7 "Programmer error").
type ProgrammerError struct {
	Message string
}

func (e *ProgrammerError) Error() string { return "programmer error: " + e.Message }

// NewProgrammerError builds a ProgrammerError.
func NewProgrammerError(message string) *ProgrammerError {
	return &ProgrammerError{Message: message}
}
