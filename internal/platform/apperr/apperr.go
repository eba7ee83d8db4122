// Package apperr defines the typed business failures returned by the engine's
// operations. Every failure carries a Kind (the family it belongs to), a Code
// naming the exact condition, and optional structured details such as the
// current and maximum bed count of a full ward.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Kind groups codes into the families callers branch on.
type Kind string

const (
	KindValidation    Kind = "VALIDATION"
	KindNotFound      Kind = "NOT_FOUND"
	KindConflict      Kind = "CONFLICT"
	KindCapacity      Kind = "CAPACITY"
	KindAuthorization Kind = "AUTHORIZATION"
	KindInternal      Kind = "INTERNAL"
)

// Code names one failure condition.
type Code string

const (
	// Validation
	CodeValidation        Code = "VALIDATION_ERROR"
	CodeMissingFields     Code = "MISSING_FIELDS"
	CodeNoMedicalRecord   Code = "NO_MEDICAL_RECORD"
	CodeInvalidTransition Code = "INVALID_TRANSITION"

	// Not found
	CodePatientNotFound    Code = "PATIENT_NOT_FOUND"
	CodeBedNotFound        Code = "BED_NOT_FOUND"
	CodeWardNotFound       Code = "WARD_NOT_FOUND"
	CodeTaskNotFound       Code = "TASK_NOT_FOUND"
	CodeRecordNotFound     Code = "RECORD_NOT_FOUND"
	CodeAssignmentNotFound Code = "ASSIGNMENT_NOT_FOUND"
	CodeAdmissionNotFound  Code = "ADMISSION_NOT_FOUND"
	CodeMedicineNotFound   Code = "MEDICINE_NOT_FOUND"
	CodeItemNotFound       Code = "ITEM_NOT_FOUND"
	CodeStaffNotFound      Code = "STAFF_NOT_FOUND"
	CodeBillNotFound       Code = "BILL_NOT_FOUND"

	// Conflict
	CodeBedNotAvailable      Code = "BED_NOT_AVAILABLE"
	CodeBedOccupied          Code = "BED_OCCUPIED"
	CodeTaskAlreadyClaimed   Code = "TASK_ALREADY_CLAIMED"
	CodeWardFull             Code = "WARD_FULL"
	CodeBedNumberExists      Code = "BED_NUMBER_EXISTS"
	CodeAlreadyAssigned      Code = "ALREADY_ASSIGNED"
	CodeAlreadyDischarged    Code = "ALREADY_DISCHARGED"
	CodeBillAlreadyExists    Code = "BILL_ALREADY_EXISTS"
	CodePaymentExceedsAmount Code = "PAYMENT_EXCEEDS_BALANCE"

	// Capacity
	CodeInsufficientStock    Code = "INSUFFICIENT_STOCK"
	CodeInsufficientCapacity Code = "INSUFFICIENT_CAPACITY"

	// Authorization
	CodeAccessDenied Code = "ACCESS_DENIED"

	CodeInternal Code = "INTERNAL_ERROR"
)

var codeKinds = map[Code]Kind{
	CodeValidation:        KindValidation,
	CodeMissingFields:     KindValidation,
	CodeNoMedicalRecord:   KindValidation,
	CodeInvalidTransition: KindValidation,

	CodePatientNotFound:    KindNotFound,
	CodeBedNotFound:        KindNotFound,
	CodeWardNotFound:       KindNotFound,
	CodeTaskNotFound:       KindNotFound,
	CodeRecordNotFound:     KindNotFound,
	CodeAssignmentNotFound: KindNotFound,
	CodeAdmissionNotFound:  KindNotFound,
	CodeMedicineNotFound:   KindNotFound,
	CodeItemNotFound:       KindNotFound,
	CodeStaffNotFound:      KindNotFound,
	CodeBillNotFound:       KindNotFound,

	CodeBedNotAvailable:      KindConflict,
	CodeBedOccupied:          KindConflict,
	CodeTaskAlreadyClaimed:   KindConflict,
	CodeWardFull:             KindConflict,
	CodeBedNumberExists:      KindConflict,
	CodeAlreadyAssigned:      KindConflict,
	CodeAlreadyDischarged:    KindConflict,
	CodeBillAlreadyExists:    KindConflict,
	CodePaymentExceedsAmount: KindConflict,

	CodeInsufficientStock:    KindCapacity,
	CodeInsufficientCapacity: KindCapacity,

	CodeAccessDenied: KindAuthorization,

	CodeInternal: KindInternal,
}

// KindOf returns the family a code belongs to.
func KindOf(code Code) Kind {
	if k, ok := codeKinds[code]; ok {
		return k
	}
	return KindInternal
}

// Details carries the named payload of a failure.
type Details map[string]interface{}

// Error is a classified business failure.
type Error struct {
	Kind    Kind
	Code    Code
	Message string
	Details Details
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches another *Error with the same code, so callers can write
// errors.Is(err, apperr.New(apperr.CodeWardFull, "")).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// New builds an error for code with a formatted message.
func New(code Code, format string, args ...interface{}) *Error {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	return &Error{Kind: KindOf(code), Code: code, Message: msg}
}

// With returns a copy of e carrying the given detail.
func (e *Error) With(key string, value interface{}) *Error {
	cp := *e
	cp.Details = make(Details, len(e.Details)+1)
	for k, v := range e.Details {
		cp.Details[k] = v
	}
	cp.Details[key] = value
	return &cp
}

// Validation is shorthand for a VALIDATION_ERROR.
func Validation(format string, args ...interface{}) *Error {
	return New(CodeValidation, format, args...)
}

// NotFound builds a not-found failure for the given code and id.
func NotFound(code Code, id fmt.Stringer) *Error {
	return New(code, "%s not found", id.String()).With("id", id.String())
}

// As extracts the *Error from err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// CodeOf returns the code carried by err, or CodeInternal for unclassified errors.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	if e, ok := As(err); ok {
		return e.Code
	}
	return CodeInternal
}

// HasCode reports whether err carries code.
func HasCode(err error, code Code) bool {
	e, ok := As(err)
	return ok && e.Code == code
}

// HTTPStatus maps a failure to the status an HTTP adapter should answer with.
func HTTPStatus(err error) int {
	e, ok := As(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindCapacity:
		return http.StatusUnprocessableEntity
	case KindAuthorization:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// Body is the JSON payload HTTP adapters return for err. Unclassified errors
// are reported generically so storage details do not leak.
func Body(err error) map[string]interface{} {
	e, ok := As(err)
	if !ok {
		return map[string]interface{}{
			"code":    CodeInternal,
			"message": "internal error",
		}
	}
	body := map[string]interface{}{
		"code":    e.Code,
		"kind":    e.Kind,
		"message": e.Message,
	}
	if len(e.Details) > 0 {
		body["details"] = e.Details
	}
	return body
}

// ToHTTP converts err into an echo error carrying the status and JSON body.
func ToHTTP(err error) *echo.HTTPError {
	return echo.NewHTTPError(HTTPStatus(err), Body(err))
}
