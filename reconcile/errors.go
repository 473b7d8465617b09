package reconcile

import "errors"

// ErrAuthority is returned when the issuing certificate or its key cannot be
// read, parsed, or paired. It is always fatal.
var ErrAuthority = errors.New("certificate authority cannot be loaded")
