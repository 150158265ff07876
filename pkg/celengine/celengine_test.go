package celengine

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompileAndEval(t *testing.T) {
	e, err := NewIntEngine("tier_1", "total")
	require.NoError(t, err)

	p, err := e.Compile("tier_1 >= 5 && total >= 10")
	require.NoError(t, err)

	ok, err := p.Eval(map[string]any{"tier_1": int64(5), "total": int64(10)})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = p.Eval(map[string]any{"tier_1": int64(4), "total": int64(10)})
	require.NoError(t, err)
	require.False(t, ok)

	again, err := e.Compile("tier_1 >= 5 && total >= 10")
	require.NoError(t, err)
	require.Same(t, p, again)
}

func TestCompileRejectsNonBool(t *testing.T) {
	e, err := NewIntEngine("total")
	require.NoError(t, err)

	_, err = e.Compile("total + 1")
	require.Error(t, err)

	_, err = e.Compile("unknown_var > 1")
	require.Error(t, err)
}
