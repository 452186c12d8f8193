package routetable

import (
	"testing"

	"github.com/mcbrumagin/yamf/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchExactBeatsWildcard(t *testing.T) {
	tbl := New(state.New())
	tbl.Register("/static/*", "static-files", "")
	tbl.Register("/static/special", "special-handler", "")

	r, ok := tbl.Match("/static/special")
	require.True(t, ok)
	assert.Equal(t, "special-handler", r.Service)

	r, ok = tbl.Match("/static/other.js")
	require.True(t, ok)
	assert.Equal(t, "static-files", r.Service)
}

func TestDefaultDataType(t *testing.T) {
	tbl := New(state.New())
	tbl.Register("/x", "svc", "")
	r, ok := tbl.Match("/x")
	require.True(t, ok)
	assert.Equal(t, "dynamic", r.DataType)
}

func TestUnregisterByExactKey(t *testing.T) {
	tbl := New(state.New())
	tbl.Register("/static/*", "static-files", "")
	tbl.Unregister("/static/*")
	_, ok := tbl.Match("/static/app.js")
	assert.False(t, ok)
}
