// Package failfast panics on programmer errors: a nil dependency or an
// impossible configuration handed to a constructor that cannot return one.
package failfast

import (
	"fmt"
	"reflect"
	"runtime/debug"
)

// Err panics with err and the current stack if err != nil
func Err(err error) {
	if err != nil {
		panic(fmt.Errorf("fail-fast: %w\n%s", err, debug.Stack()))
	}
}

// If panics with the formatted message when condition is false
func If(condition bool, message string, args ...interface{}) {
	if !condition {
		panic(fmt.Errorf("fail-fast: "+message, args...))
	}
}

// NotNil panics if v is nil, including typed nil pointers, funcs, maps and
// channels hidden behind an interface
func NotNil(v interface{}, name string) {
	if isNil(v) {
		panic(fmt.Errorf("fail-fast: %s is nil", name))
	}
}

func isNil(v interface{}) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Func, reflect.Map, reflect.Chan, reflect.Interface, reflect.Slice:
		return rv.IsNil()
	}
	return false
}
