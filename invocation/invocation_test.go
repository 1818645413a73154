package invocation

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJSONDecoder_DecodesInOrder(t *testing.T) {
	d := NewJSONDecoder([][]byte{[]byte(`"alice"`), []byte(`42`)})

	var name string
	require.NoError(t, d.Decode("greet", &name))
	require.Equal(t, "alice", name)

	var age int
	require.NoError(t, d.Decode("greet", &age))
	require.Equal(t, 42, age)
}

func TestJSONDecoder_ArityMismatch(t *testing.T) {
	d := NewJSONDecoder([][]byte{[]byte(`"alice"`)})

	var name string
	require.NoError(t, d.Decode("greet", &name))

	var age int
	err := d.Decode("greet", &age)
	require.Error(t, err)
	var decodeErr *ErrDecode
	require.ErrorAs(t, err, &decodeErr)
}

func TestJSONDecoder_TypeMismatch(t *testing.T) {
	d := NewJSONDecoder([][]byte{[]byte(`"not-a-number"`)})

	var age int
	err := d.Decode("greet", &age)
	require.Error(t, err)
}

func TestJSONResultHandler_Success(t *testing.T) {
	rh := JSONResultHandler{}
	b, err := rh.Success(map[string]int{"x": 1})
	require.NoError(t, err)
	require.JSONEq(t, `{"x":1}`, string(b))
}

func TestMemoryDecoder_TypedValues(t *testing.T) {
	d := NewMemoryDecoder("alice", 42)

	var name string
	require.NoError(t, d.Decode("greet", &name))
	require.Equal(t, "alice", name)

	var age int
	require.NoError(t, d.Decode("greet", &age))
	require.Equal(t, 42, age)
}

func TestMemoryDecoder_TypeMismatch(t *testing.T) {
	d := NewMemoryDecoder("alice")

	var age int
	err := d.Decode("greet", &age)
	require.Error(t, err)
}

func TestTable_DuplicateMethodPanics(t *testing.T) {
	require.Panics(t, func() {
		NewTable(
			Method{Name: "add", Arity: 2},
			Method{Name: "add", Arity: 2},
		)
	})
}

func TestTable_Lookup(t *testing.T) {
	table := NewTable(Method{Name: "add", Arity: 2})

	m, ok := table.Lookup("add")
	require.True(t, ok)
	require.Equal(t, 2, m.Arity)

	_, ok = table.Lookup("missing")
	require.False(t, ok)
}

func TestCheckGenericArity(t *testing.T) {
	m := Method{Name: "cast", GenericArgs: 1}
	require.NoError(t, CheckGenericArity(m, []string{"int"}))

	err := CheckGenericArity(m, nil)
	require.Error(t, err)
}
