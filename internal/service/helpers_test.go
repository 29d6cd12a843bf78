package service_test

import (
	"testing"

	"nytax/internal/fixture"

	"github.com/stretchr/testify/require"
)

// counter reads the value of the counter name whose label equals value.
func counter(t *testing.T, env *fixture.Env, name, value string) float64 {
	t.Helper()
	families, err := env.Registry.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetValue() == value {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}
