// Package check contains validation helpers for configuration structs. Checks
// return an error describing the failed condition rather than panicking, so
// structurally invalid configuration is rejected at construction time.
package check

import (
	"fmt"

	"golang.org/x/exp/constraints"
)

func check(condition bool, msgAndArgs []interface{}, internalFormat string,
	internalArgs ...interface{},
) error {
	if condition {
		return nil
	}
	msg := messageFromMsgAndArgs(msgAndArgs...)
	if msg == "" {
		msg = fmt.Sprintf(internalFormat, internalArgs...)
	}
	return fmt.Errorf("check failed: %s", msg)
}

func messageFromMsgAndArgs(msgAndArgs ...interface{}) string {
	switch {
	case len(msgAndArgs) == 1:
		if msg, ok := msgAndArgs[0].(string); ok {
			return msg
		}
		return fmt.Sprintf("%+v", msgAndArgs[0])
	case len(msgAndArgs) > 1:
		return fmt.Sprintf(msgAndArgs[0].(string), msgAndArgs[1:]...)
	default:
		return ""
	}
}

// True checks whether the condition is true. This method returns an error with
// the provided message if the check fails.
func True(condition bool, msgAndArgs ...interface{}) error {
	return check(condition, msgAndArgs, "expected condition to be true")
}

// GreaterThan checks whether actual is greater than expected.
func GreaterThan[T constraints.Ordered](actual, expected T, msgAndArgs ...interface{}) error {
	return check(actual > expected, msgAndArgs, "%v is not greater than %v", actual, expected)
}

// GreaterThanOrEqualTo checks whether actual is greater than or equal to
// expected.
func GreaterThanOrEqualTo[T constraints.Ordered](
	actual, expected T, msgAndArgs ...interface{},
) error {
	return check(actual >= expected, msgAndArgs,
		"%v is not greater than or equal to %v", actual, expected)
}

// LessThanOrEqualTo checks whether actual is less than or equal to expected.
func LessThanOrEqualTo[T constraints.Ordered](actual, expected T, msgAndArgs ...interface{}) error {
	return check(actual <= expected, msgAndArgs,
		"%v is not less than or equal to %v", actual, expected)
}

// BetweenInclusive checks whether actual lies in [low, high].
func BetweenInclusive[T constraints.Ordered](
	actual, low, high T, msgAndArgs ...interface{},
) error {
	return check(low <= actual && actual <= high, msgAndArgs,
		"%v is not between %v and %v", actual, low, high)
}

// Contains checks whether the actual value is contained in the expected list.
func Contains(actual interface{}, expected []interface{}, msgAndArgs ...interface{}) error {
	for _, value := range expected {
		if value == actual {
			return nil
		}
	}
	return check(false, msgAndArgs, "%v not in %v", actual, expected)
}

// NotEmpty checks whether the string is non-empty.
func NotEmpty(actual string, msgAndArgs ...interface{}) error {
	return check(actual != "", msgAndArgs, "expected non-empty string")
}
