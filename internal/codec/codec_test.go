package codec

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string    `cbor:"name"`
	Count int       `cbor:"count"`
	At    time.Time `cbor:"at"`
}

func TestDeterministicEncoding(t *testing.T) {
	a := map[string]int{"b": 2, "a": 1, "c": 3}
	b := map[string]int{"c": 3, "a": 1, "b": 2}

	ea, err := Marshal(a)
	require.NoError(t, err)
	eb, err := Marshal(b)
	require.NoError(t, err)
	assert.Equal(t, ea, eb)
}

func TestTimeKeepsNanoseconds(t *testing.T) {
	at := time.Date(2024, 5, 6, 7, 8, 9, 123456789, time.UTC)
	data, err := Marshal(sample{Name: "x", At: at})
	require.NoError(t, err)

	var got sample
	require.NoError(t, Unmarshal(data, &got))
	assert.True(t, at.Equal(got.At))
}

func TestAnyMapsDecodeWithStringKeys(t *testing.T) {
	data, err := Marshal(map[string]any{"nested": map[string]any{"k": "v"}})
	require.NoError(t, err)

	var got any
	require.NoError(t, Unmarshal(data, &got))
	m, ok := got.(map[string]any)
	require.True(t, ok)
	_, ok = m["nested"].(map[string]any)
	assert.True(t, ok)
}

func TestStreamAndRawMessage(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	require.NoError(t, enc.Encode(sample{Name: "one", Count: 1}))
	require.NoError(t, enc.Encode(sample{Name: "two", Count: 2}))

	dec := NewDecoder(&buf)
	var raw RawMessage
	require.NoError(t, dec.Decode(&raw))
	var second sample
	require.NoError(t, dec.Decode(&second))
	assert.Equal(t, "two", second.Name)

	var first sample
	require.NoError(t, Unmarshal(raw, &first))
	assert.Equal(t, 1, first.Count)

	diag, err := Diagnose(raw)
	require.NoError(t, err)
	assert.Contains(t, diag, `"one"`)
}
