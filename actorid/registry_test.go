package actorid

import (
	"testing"

	"github.com/GoCodeAlone/actormesh/envelope"
	"github.com/stretchr/testify/require"
)

type fakeActor struct{ id envelope.ActorID }

func (f fakeActor) ActorID() envelope.ActorID { return f.id }

func TestExposeResolve(t *testing.T) {
	r := New()
	a := fakeActor{id: envelope.ActorID{ID: "calc"}}

	require.NoError(t, r.Expose(a, "calc"))

	got, ok := r.Resolve("calc")
	require.True(t, ok)
	require.Equal(t, a, got)
}

func TestResolve_Missing(t *testing.T) {
	r := New()
	_, ok := r.Resolve("missing")
	require.False(t, ok)
}

func TestExposeUnexposeExpose_SameAsSingleExpose(t *testing.T) {
	r1 := New()
	a := fakeActor{id: envelope.ActorID{ID: "calc"}}
	require.NoError(t, r1.Expose(a, "calc"))
	r1.Unexpose("calc")
	require.NoError(t, r1.Expose(a, "calc"))

	r2 := New()
	require.NoError(t, r2.Expose(a, "calc"))

	got1, ok1 := r1.Resolve("calc")
	got2, ok2 := r2.Resolve("calc")
	require.Equal(t, ok2, ok1)
	require.Equal(t, got2, got1)
}

func TestExpose_ReplacesDifferentActorUnderSameName(t *testing.T) {
	r := New()
	a := fakeActor{id: envelope.ActorID{ID: "calc-v1"}}
	b := fakeActor{id: envelope.ActorID{ID: "calc-v2"}}

	require.NoError(t, r.Expose(a, "calc"))
	require.NoError(t, r.Expose(b, "calc"))

	got, ok := r.Resolve("calc")
	require.True(t, ok)
	require.Equal(t, b, got)

	// The name itself stays registered, now bound to the replacement.
	_, stillThere := r.ActorIDFor("calc")
	require.True(t, stillThere)
}

func TestUnexpose_RemovesBothDirections(t *testing.T) {
	r := New()
	a := fakeActor{id: envelope.ActorID{ID: "calc"}}
	require.NoError(t, r.Expose(a, "calc"))

	r.Unexpose("calc")

	_, ok := r.Resolve("calc")
	require.False(t, ok)
	_, ok = r.ActorIDFor("calc")
	require.False(t, ok)
}

func TestExpose_RejectsEmptyActorID(t *testing.T) {
	r := New()
	a := fakeActor{id: envelope.ActorID{ID: ""}}
	require.Error(t, r.Expose(a, "calc"))
}
