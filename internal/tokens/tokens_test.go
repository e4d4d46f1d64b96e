package tokens

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCounter_Count(t *testing.T) {
	c, err := New()
	require.NoError(t, err)

	require.Equal(t, 0, c.Count(""))
	n := c.Count("Authority must be verified before it is trusted.")
	require.Greater(t, n, 5)
	require.Less(t, n, 20)
}

func TestEstimator(t *testing.T) {
	c := Estimator()
	require.Equal(t, 1, c.Count("hi"))
	require.Equal(t, 4, c.Count("0123456789abcdef"))

	var nilCounter *Counter
	require.Equal(t, 1, nilCounter.Count("abc"))
}
