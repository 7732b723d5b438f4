package entity

import (
	"fmt"
	"strings"
)

// Failure renders the stable "Failed to get <subject>, reason: <reason>"
// text that tools hand back to the model in place of a value.
type Failure struct {
	Subject string
	Reason  string
	Err     error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("Failed to get %s, reason: %s", f.Subject, f.Reason)
}

func (f *Failure) Unwrap() error { return f.Err }

// ErrorReason formats err as "<TypeName> <message>".
func ErrorReason(err error) string {
	return fmt.Sprintf("%s %v", ErrorClass(err), err)
}

// ErrorClass is the bare type name of err, without package or pointer.
func ErrorClass(err error) string {
	name := fmt.Sprintf("%T", err)
	name = strings.TrimLeft(name, "*")
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	return name
}
