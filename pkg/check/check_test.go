package check

import (
	"testing"

	"gotest.tools/assert"
)

func TestTrue(t *testing.T) {
	assert.NilError(t, True(true))
	assert.ErrorContains(t, True(false, "custom message"), "custom message")
	assert.ErrorContains(t, True(false, "got %d", 3), "got 3")
}

func TestComparisons(t *testing.T) {
	assert.NilError(t, GreaterThan(2, 1))
	assert.ErrorContains(t, GreaterThan(1, 1), "not greater")
	assert.NilError(t, GreaterThanOrEqualTo(1, 1))
	assert.NilError(t, LessThanOrEqualTo(1.5, 2.5))
	assert.ErrorContains(t, LessThanOrEqualTo(3, 2), "not less")
	assert.NilError(t, BetweenInclusive(0.5, 0.0, 1.0))
	assert.ErrorContains(t, BetweenInclusive(1.5, 0.0, 1.0), "not between")
}

func TestContains(t *testing.T) {
	assert.NilError(t, Contains("b", []interface{}{"a", "b"}))
	assert.ErrorContains(t, Contains("c", []interface{}{"a", "b"}, "unsupported value"),
		"unsupported value")
}

func TestNotEmpty(t *testing.T) {
	assert.NilError(t, NotEmpty("x"))
	assert.ErrorContains(t, NotEmpty(""), "non-empty")
}

type inner struct{ N int }

func (i inner) Validate() []error {
	return []error{GreaterThan(i.N, 0, "n must be positive")}
}

type outer struct {
	Inner  inner
	Items  []inner
	ByName map[string]inner
}

func TestValidateWalksNestedStructures(t *testing.T) {
	ok := outer{
		Inner:  inner{N: 1},
		Items:  []inner{{N: 2}},
		ByName: map[string]inner{"a": {N: 3}},
	}
	assert.NilError(t, Validate(ok))

	bad := outer{
		Inner:  inner{N: 1},
		Items:  []inner{{N: 0}},
		ByName: map[string]inner{"a": {N: 3}},
	}
	err := Validate(bad)
	assert.ErrorContains(t, err, "n must be positive")
	assert.ErrorContains(t, err, "Items[0]")
}

func TestValidateNilPointer(t *testing.T) {
	var p *inner
	assert.NilError(t, Validate(p))
}
