// Package require has assertions that stop the test on failure.
//
// It's a subset of github.com/stretchr/testify/require built on
// github.com/alecthomas/assert, with only the functions used in this repo.
// Failing assert functions call FailNow, so most functions here only
// forward to them.
package require

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"

	"github.com/alecthomas/assert"
	"github.com/davecgh/go-spew/spew"
	"github.com/pmezard/go-difflib/difflib"
)

// TestingT is an interface wrapper around *testing.T
type TestingT interface {
	Errorf(format string, args ...interface{})
	FailNow()
}

var spewConfig = spew.ConfigState{
	Indent:                  " ",
	DisablePointerAddresses: true,
	DisableCapacities:       true,
	SortKeys:                true,
}

// diff returns a unified diff of spew dumps of expected and actual
// or "" if they are not worth diffing (different types, scalars)
func diff(expected interface{}, actual interface{}) string {
	if expected == nil || actual == nil {
		return ""
	}
	et := reflect.TypeOf(expected)
	if et != reflect.TypeOf(actual) {
		return ""
	}
	switch et.Kind() {
	case reflect.Struct, reflect.Map, reflect.Slice, reflect.Array, reflect.Pointer:
	default:
		return ""
	}
	e := spewConfig.Sdump(expected)
	a := spewConfig.Sdump(actual)
	d, _ := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(e),
		B:        difflib.SplitLines(a),
		FromFile: "Expected",
		ToFile:   "Actual",
		Context:  1,
	})
	return d
}

func objectsAreEqual(expected, actual interface{}) bool {
	if expected == nil || actual == nil {
		return expected == actual
	}
	exp, ok := expected.([]byte)
	if !ok {
		return reflect.DeepEqual(expected, actual)
	}
	act, ok := actual.([]byte)
	if !ok {
		return false
	}
	return bytes.Equal(exp, act)
}

// messageFromMsgAndArgs formats optional message: a format string
// followed by its arguments or a single value
func messageFromMsgAndArgs(msgAndArgs ...interface{}) string {
	if len(msgAndArgs) == 0 {
		return ""
	}
	format, ok := msgAndArgs[0].(string)
	if !ok {
		return fmt.Sprintf("%+v", msgAndArgs[0])
	}
	if len(msgAndArgs) == 1 {
		return format
	}
	return fmt.Sprintf(format, msgAndArgs[1:]...)
}

// Equal asserts that two objects are equal.
//
//	require.Equal(t, 123, 123)
//
// On failure it prints both values and, for composite values, a diff.
// []byte values are compared with bytes.Equal so nil equals empty.
func Equal(t TestingT, expected interface{}, actual interface{}, msgAndArgs ...interface{}) {
	if objectsAreEqual(expected, actual) {
		return
	}
	s := fmt.Sprintf("Not equal:\nexpected: %#v\nactual  : %#v", expected, actual)
	if d := diff(expected, actual); d != "" {
		s += "\n\nDiff:\n" + d
	}
	if msg := messageFromMsgAndArgs(msgAndArgs...); msg != "" {
		s += "\nMessages: " + msg
	}
	t.Errorf("%s", s)
	t.FailNow()
}

// NoError asserts that a function returned no error (i.e. `nil`).
//
//	v, ok, err := tree.Get(key)
//	require.NoError(t, err)
func NoError(t TestingT, err error, msgAndArgs ...interface{}) {
	assert.NoError(t, err, msgAndArgs...)
}

// Error asserts that a function returned an error.
func Error(t TestingT, err error, msgAndArgs ...interface{}) {
	assert.Error(t, err, msgAndArgs...)
}

// ErrorIs asserts that errors.Is(err, target) is true.
//
//	require.ErrorIs(t, err, store.ErrDecode)
func ErrorIs(t TestingT, err error, target error, msgAndArgs ...interface{}) {
	if errors.Is(err, target) {
		return
	}
	s := fmt.Sprintf("error chain of %#v doesn't contain %#v", err, target)
	if msg := messageFromMsgAndArgs(msgAndArgs...); msg != "" {
		s += "\nMessages: " + msg
	}
	t.Errorf("%s", s)
	t.FailNow()
}

// Len asserts that the specified object has specific length.
// Len also fails if the object has a type that len() not accept.
//
//	require.Len(t, mySlice, 3)
func Len(t TestingT, object interface{}, length int, msgAndArgs ...interface{}) {
	assert.Len(t, object, length, msgAndArgs...)
}

// Nil asserts that the specified object is nil.
func Nil(t TestingT, object interface{}, msgAndArgs ...interface{}) {
	assert.Nil(t, object, msgAndArgs...)
}

// NotNil asserts that the specified object is not nil.
func NotNil(t TestingT, object interface{}, msgAndArgs ...interface{}) {
	assert.NotNil(t, object, msgAndArgs...)
}

// True asserts that the specified value is true.
func True(t TestingT, value bool, msgAndArgs ...interface{}) {
	assert.True(t, value, msgAndArgs...)
}

// False asserts that the specified value is false.
func False(t TestingT, value bool, msgAndArgs ...interface{}) {
	assert.False(t, value, msgAndArgs...)
}
