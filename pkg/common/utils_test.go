package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInterfaceToSlice(t *testing.T) {
	out, ok := InterfaceToSlice([]interface{}{"a", 1})
	assert.True(t, ok)
	assert.Equal(t, []interface{}{"a", 1}, out)

	out, ok = InterfaceToSlice([]string{"x", "y"})
	assert.True(t, ok)
	assert.Equal(t, []interface{}{"x", "y"}, out)

	_, ok = InterfaceToSlice("not a slice")
	assert.False(t, ok)

	_, ok = InterfaceToSlice(nil)
	assert.False(t, ok)
}

func TestCopyMap(t *testing.T) {
	original := map[string]interface{}{"a": 1, "b": "two"}
	copied := CopyMap(original)

	assert.Equal(t, original, copied)

	copied["a"] = 99
	assert.Equal(t, 1, original["a"], "mutating the copy leaves the original alone")

	assert.Nil(t, CopyMap(nil))
}
