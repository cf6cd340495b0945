package system

import (
	"testing"

	"github.com/crossbus/crossbus/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// nullSystem is the minimal SystemHandle for registry tests.
type nullSystem struct{ ok bool }

func (n *nullSystem) Configure(types.Required, *yaml.Node, *types.Registry) error { return nil }
func (n *nullSystem) Okay() bool                                                  { return n.ok }
func (n *nullSystem) SpinOnce() bool                                              { return n.ok }

func TestRegister(t *testing.T) {
	tests := []struct {
		name    string
		kind    string
		factory Factory
		wantErr bool
	}{
		{
			name:    "successful registration",
			kind:    "test-mw",
			factory: func() SystemHandle { return &nullSystem{ok: true} },
		},
		{
			name:    "empty kind",
			kind:    "",
			factory: func() SystemHandle { return &nullSystem{} },
			wantErr: true,
		},
		{
			name:    "nil factory",
			kind:    "nil-mw",
			factory: nil,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Register(tt.kind, tt.factory)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			t.Cleanup(func() { _ = Unregister(tt.kind) })

			assert.True(t, Has(tt.kind))
			h, err := New(tt.kind)
			require.NoError(t, err)
			assert.True(t, h.Okay())
		})
	}
}

func TestRegister_Duplicate(t *testing.T) {
	f := func() SystemHandle { return &nullSystem{} }
	require.NoError(t, Register("dup-mw", f))
	t.Cleanup(func() { _ = Unregister("dup-mw") })

	assert.Error(t, Register("dup-mw", f))
}

func TestNew_Unknown(t *testing.T) {
	_, err := New("no-such-middleware")
	assert.Error(t, err)
}

func TestKinds(t *testing.T) {
	require.NoError(t, Register("zz-mw", func() SystemHandle { return &nullSystem{} }))
	require.NoError(t, Register("aa-mw", func() SystemHandle { return &nullSystem{} }))
	t.Cleanup(func() {
		_ = Unregister("zz-mw")
		_ = Unregister("aa-mw")
	})

	kinds := Kinds()
	assert.Contains(t, kinds, "aa-mw")
	assert.Contains(t, kinds, "zz-mw")
	assert.True(t, sortedBefore(kinds, "aa-mw", "zz-mw"))
}

func sortedBefore(ss []string, a, b string) bool {
	ai, bi := -1, -1
	for i, s := range ss {
		if s == a {
			ai = i
		}
		if s == b {
			bi = i
		}
	}
	return ai >= 0 && bi >= 0 && ai < bi
}

func TestUnregister_NotFound(t *testing.T) {
	assert.Error(t, Unregister("never-registered"))
}
