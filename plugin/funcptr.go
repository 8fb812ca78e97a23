package plugin

import "reflect"

// funcPointer returns the entry point address of a func value, used to
// tell whether two Factory values were created from the same underlying
// function (the common "register twice with the same top-level factory"
// case from spec.md's idempotency requirement). Distinct functions and
// distinct function literals compare unequal. Closures created from the
// same function literal share one code pointer, so they compare equal
// even when their captured state differs.
func funcPointer(f Factory) uintptr {
	if f == nil {
		return 0
	}
	return reflect.ValueOf(f).Pointer()
}
