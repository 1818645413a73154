package stream

import (
	"testing"

	"github.com/GoCodeAlone/actormesh/envelope"
	"github.com/stretchr/testify/require"
)

func changedFilter() envelope.Filter {
	return envelope.Filter{Kind: envelope.FilterPredefined, Name: "changed"}
}

func TestEvaluator_Changed_SuppressesRepeats(t *testing.T) {
	e, err := NewEvaluator(changedFilter(), nil)
	require.NoError(t, err)

	require.True(t, e.Pass([]byte("A")))
	require.False(t, e.Pass([]byte("A")))
	require.True(t, e.Pass([]byte("B")))
	require.False(t, e.Pass([]byte("B")))
	require.True(t, e.Pass([]byte("C")))
}

func TestEvaluator_Changed_ResetClearsState(t *testing.T) {
	e, err := NewEvaluator(changedFilter(), nil)
	require.NoError(t, err)

	require.True(t, e.Pass([]byte("A")))
	e.Reset()
	require.True(t, e.Pass([]byte("A")))
}

func TestEvaluator_NonEmpty(t *testing.T) {
	e, err := NewEvaluator(envelope.Filter{Kind: envelope.FilterPredefined, Name: "nonEmpty"}, nil)
	require.NoError(t, err)

	require.False(t, e.Pass([]byte(`[]`)))
	require.True(t, e.Pass([]byte(`[1]`)))
	require.False(t, e.Pass([]byte(`{}`)))
	require.True(t, e.Pass([]byte(`{"a":1}`)))
	require.False(t, e.Pass([]byte(`""`)))
	require.True(t, e.Pass([]byte(`"x"`)))
	require.True(t, e.Pass([]byte(`42`)))
}

func TestEvaluator_Threshold_BarePayload(t *testing.T) {
	f := envelope.Filter{Kind: envelope.FilterPredefined, Name: "threshold", Params: map[string]string{
		"value": "10", "operator": "gt",
	}}
	e, err := NewEvaluator(f, nil)
	require.NoError(t, err)

	require.True(t, e.Pass([]byte("15")))
	require.False(t, e.Pass([]byte("5")))
}

func TestEvaluator_Threshold_DottedFieldPath(t *testing.T) {
	f := envelope.Filter{Kind: envelope.FilterPredefined, Name: "threshold", Params: map[string]string{
		"field": "metrics.cpu", "value": "80", "operator": "gte",
	}}
	e, err := NewEvaluator(f, nil)
	require.NoError(t, err)

	require.True(t, e.Pass([]byte(`{"metrics":{"cpu":85}}`)))
	require.False(t, e.Pass([]byte(`{"metrics":{"cpu":50}}`)))
}

func TestEvaluator_Threshold_NonNumericFailsClosed(t *testing.T) {
	f := envelope.Filter{Kind: envelope.FilterPredefined, Name: "threshold", Params: map[string]string{
		"value": "10",
	}}
	e, err := NewEvaluator(f, nil)
	require.NoError(t, err)

	require.False(t, e.Pass([]byte(`"not-a-number"`)))
}

func TestEvaluator_Custom_PassesWithoutHook(t *testing.T) {
	f := envelope.Filter{Kind: envelope.FilterCustom, CustomData: []byte("anything")}
	e, err := NewEvaluator(f, nil)
	require.NoError(t, err)
	require.True(t, e.Pass([]byte("x")))
}

func TestEvaluator_Custom_DelegatesToHook(t *testing.T) {
	f := envelope.Filter{Kind: envelope.FilterCustom, CustomData: []byte("needle")}
	hook := func(payload, customData []byte) bool {
		return string(payload) == string(customData)
	}
	e, err := NewEvaluator(f, hook)
	require.NoError(t, err)

	require.True(t, e.Pass([]byte("needle")))
	require.False(t, e.Pass([]byte("haystack")))
}

func TestEvaluator_All_AlwaysPasses(t *testing.T) {
	e, err := NewEvaluator(envelope.Filter{Kind: envelope.FilterAll}, nil)
	require.NoError(t, err)
	require.True(t, e.Pass([]byte("anything")))
}
