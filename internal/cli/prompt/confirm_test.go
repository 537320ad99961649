package prompt

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsYes(t *testing.T) {
	for _, in := range []string{"y", "Y", "yes", " YES "} {
		assert.True(t, isYes(in), in)
	}
	for _, in := range []string{"", "n", "no", "yep"} {
		assert.False(t, isYes(in), in)
	}
}

func TestConfirmWithForce(t *testing.T) {
	ok, err := ConfirmWithForce("Recall greedy grant of orders", true)
	assert.NoError(t, err)
	assert.True(t, ok)
}
