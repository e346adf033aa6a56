package remoteconfig

import "fmt"

// Error carries a named kind so callers (the status surface, logging)
// can report spec.md §4.5/§7's pipeline failure categories without
// string-matching.
type Error struct {
	Kind string
	msg  string
}

func (e *Error) Error() string { return e.msg }

func newError(kind, format string, args ...any) *Error {
	return &Error{Kind: kind, msg: fmt.Sprintf(format, args...)}
}

func errDecode(detail string) error { return newError("DecodeError", "%s", detail) }
func errSignatureInvalid(detail string) error {
	return newError("SignatureInvalid", "%s", detail)
}

// errUnsignedConfig is returned when an envelope carries no signatures
// at all and signing is mandatory, per spec.md §4.5 stage 2/§7.
func errUnsignedConfig(detail string) error {
	return newError("UnsignedConfig", "%s", detail)
}

// errUnknownSigningKey is returned when every signature bundle names a
// key id the key server has no key for, per spec.md §4.5 stage 2/§7.
func errUnknownSigningKey(detail string) error {
	return newError("UnknownSigningKey", "%s", detail)
}

func errValidation(detail string) error { return newError("ValidationError", "%s", detail) }
func errPersist(detail string) error    { return newError("PersistError", "%s", detail) }
func errDispatch(detail string) error   { return newError("DispatchError", "%s", detail) }
