package dexadapter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/dexgraph/internal/chainmodel"
)

type fakeAdapter struct{ name string }

func (a *fakeAdapter) Name() string                 { return a.name }
func (a *fakeAdapter) Protocol() chainmodel.Protocol { return chainmodel.ProtocolConstantProduct }
func (a *fakeAdapter) BytecodeCheckRequired() bool   { return true }
func (a *fakeAdapter) Discover(ctx context.Context, from, to uint64, chunk, parallelism int) ([]*chainmodel.Meta, error) {
	return nil, nil
}
func (a *fakeAdapter) FetchState(ctx context.Context, metas []*chainmodel.Meta) (map[chainmodel.Identity]*chainmodel.State, map[chainmodel.Identity]error) {
	return nil, nil
}

func TestRegistryGetMissingTagReturnsFalse(t *testing.T) {
	r := NewRegistry()
	_, ok := r.Get("missing")
	require.False(t, ok)
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	a := &fakeAdapter{name: "univ2-clone-a"}
	r.Register("univ2-clone-a", a)

	got, ok := r.Get("univ2-clone-a")
	require.True(t, ok)
	require.Same(t, a, got)
}

func TestRegistryRegisterReplacesPriorEntry(t *testing.T) {
	r := NewRegistry()
	first := &fakeAdapter{name: "first"}
	second := &fakeAdapter{name: "second"}
	r.Register("dex", first)
	r.Register("dex", second)

	got, ok := r.Get("dex")
	require.True(t, ok)
	require.Same(t, second, got)
}

func TestRegistryTagsListsEveryRegisteredTag(t *testing.T) {
	r := NewRegistry()
	r.Register("a", &fakeAdapter{name: "a"})
	r.Register("b", &fakeAdapter{name: "b"})

	tags := r.Tags()
	require.ElementsMatch(t, []string{"a", "b"}, tags)
}

func TestRegistryMustGetPanicsOnMissingTag(t *testing.T) {
	r := NewRegistry()
	require.Panics(t, func() {
		r.MustGet("missing")
	})
}

func TestRegistryMustGetReturnsRegisteredAdapter(t *testing.T) {
	r := NewRegistry()
	a := &fakeAdapter{name: "present"}
	r.Register("present", a)
	require.Same(t, a, r.MustGet("present"))
}
