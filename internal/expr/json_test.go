package expr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/keel/internal/doc"
)

// Serialized predicates travel inside continuation payloads, so a
// round trip must preserve evaluation semantics exactly, including
// the int64/float64 split.
func TestMarshalRoundTrip(t *testing.T) {
	pred := And(
		Eq("status", "active"),
		In("role", "admin", "owner"),
		Or(Gt("age", int64(21)), IsNull("verifiedAt")),
		NotExpr(ILike("email", "%@spam.example")),
		Lte("score", 2.5),
	)

	data, err := Marshal(pred)
	require.NoError(t, err)

	got, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, pred, got)

	rows := []doc.Doc{
		{"status": "active", "role": "admin", "age": int64(30), "email": "a@x.co", "score": 2.5},
		{"status": "active", "role": "admin", "age": int64(18), "verifiedAt": "2024-01-01", "email": "a@x.co", "score": int64(1)},
		{"status": "closed", "role": "admin", "age": int64(30), "email": "a@x.co", "score": int64(0)},
	}
	for i, row := range rows {
		assert.Equal(t, Eval(pred, row), Eval(got, row), "row %d", i)
	}
}

func TestUnmarshal_Rejects(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"unknown kind", `{"kind":"xor"}`},
		{"not json", `{{`},
		{"missing operand", `{"kind":"not"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Unmarshal([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}
