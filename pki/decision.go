package pki

import "fmt"

// decision accumulates regeneration triggers. Every check runs, but only
// the first trigger sets the reason.
type decision struct {
	regenerate bool
	reason     string
}

func (d *decision) trigger(format string, args ...any) {
	if d.regenerate {
		return
	}
	d.regenerate = true
	d.reason = fmt.Sprintf(format, args...)
}
