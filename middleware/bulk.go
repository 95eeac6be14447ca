package middleware

import (
	goCred "github.com/MrEthical07/goCred"
)

// Bulk runs fn with the binding's busy flag set, so the engine performs no auth traffic
// until fn returns.
func Bulk(binding goCred.AppBinding, fn func() error) error {
	if !binding.Live() {
		return goCred.ErrUnbound
	}
	binding.SetBusy(true)
	defer binding.SetBusy(false)
	return fn()
}
