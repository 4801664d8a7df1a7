package aiflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONRepairerValidInput(t *testing.T) {
	value, ok := DefaultRepairer.Repair(`{"a":1,"b":2}`)
	require.True(t, ok)
	assert.JSONEq(t, `{"a":1,"b":2}`, string(value))
}

func TestJSONRepairerTruncatedInput(t *testing.T) {
	value, ok := DefaultRepairer.Repair(`{"a":1,"b":2`)
	require.True(t, ok)
	assert.JSONEq(t, `{"a":1,"b":2}`, string(value))
}

func TestJSONRepairerEmptyInput(t *testing.T) {
	_, ok := DefaultRepairer.Repair("")
	assert.False(t, ok)
}

func TestJSONRepairerIrrepairableInput(t *testing.T) {
	_, ok := DefaultRepairer.Repair(`not json at all ###`)
	assert.False(t, ok)
}
