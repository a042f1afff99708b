package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWorstStatus(t *testing.T) {
	assert.Equal(t, HealthStatusPass, WorstStatus(nil))
	assert.Equal(t, HealthStatusWarn, WorstStatus(map[string][]Check{
		"a": {{Status: HealthStatusPass}},
		"b": {{Status: HealthStatusWarn}, {Status: HealthStatusPass}},
	}))
	assert.Equal(t, HealthStatusFail, WorstStatus(map[string][]Check{
		"a": {{Status: HealthStatusWarn}},
		"b": {{Status: HealthStatusFail}},
	}))
}
