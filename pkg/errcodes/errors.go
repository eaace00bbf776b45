package errcodes

import (
	"fmt"
	"net/http"
)

type Error struct {
	HTTPCode int
	Message  string
	Code     string
}

func (err *Error) Error() string {
	return err.Message
}

func (err *Error) As(target interface{}) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	te.HTTPCode = err.HTTPCode
	te.Message = err.Message
	te.Code = err.Code
	return true
}

func (err *Error) Is(target error) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	return te.HTTPCode == err.HTTPCode &&
		te.Message == err.Message &&
		te.Code == err.Code
}

// NotFound returns a 404 error with a message indicating the given resource.
func NotFound(resource string) error {
	return &Error{
		http.StatusNotFound,
		resource + " not found.",
		"not_found",
	}
}

// Conflict returns a 409 error for a uniqueness violation on the given
// resource field.
func Conflict(resource, field string) error {
	return &Error{
		http.StatusConflict,
		fmt.Sprintf("%s with this %s already exists.", resource, field),
		"conflict",
	}
}

// CapacityExceeded is returned when a checkout is requested for a book with
// no available copies. Callers may create a reservation instead.
func CapacityExceeded() error {
	return &Error{
		http.StatusConflict,
		"No copies of this book are available.",
		"capacity_exceeded",
	}
}

// ReferentialBlock is returned when deleting a record that open records
// still reference.
func ReferentialBlock(resource, dependent string) error {
	return &Error{
		http.StatusConflict,
		fmt.Sprintf("%s can't be deleted while %s reference it.", resource, dependent),
		"referential_block",
	}
}

// NotEligible is returned when a member in bad standing (or over a policy
// limit) attempts a checkout or reservation.
func NotEligible(msg string) error {
	return &Error{
		http.StatusConflict,
		msg,
		"not_eligible",
	}
}

// InvalidTransition is returned for an illegal lifecycle state change.
func InvalidTransition(resource, from, to string) error {
	return &Error{
		http.StatusConflict,
		fmt.Sprintf("%s can't move from %s to %s.", resource, from, to),
		"invalid_transition",
	}
}

func ValidationError(msg string) error {
	return &Error{
		http.StatusUnprocessableEntity,
		msg,
		"validation_error",
	}
}
