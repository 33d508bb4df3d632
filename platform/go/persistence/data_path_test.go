package persistence

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseDataPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    DataPath
		wantErr bool
	}{
		{name: "single key", input: "prefix", want: DataPath{"prefix"}},
		{name: "nested", input: "config.prefix", want: DataPath{"config", "prefix"}},
		{name: "empty", input: "  ", wantErr: true},
		{name: "leading dot", input: ".prefix", wantErr: true},
		{name: "double dot", input: "config..prefix", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseDataPath(tt.input)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrMalformedInput)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestNewDataPathAllowsDottedKeys(t *testing.T) {
	t.Parallel()

	p, err := NewDataPath("domains", "example.com")
	require.NoError(t, err)
	require.Len(t, p, 2)
	require.Equal(t, "example.com", p[1])

	_, err = NewDataPath()
	require.ErrorIs(t, err, ErrMalformedInput)
}

func TestDataPathLookup(t *testing.T) {
	t.Parallel()

	doc := map[string]any{
		"config": map[string]any{"prefix": "?"},
		"tags":   []any{"a"},
	}

	v, ok := DataPath{"config", "prefix"}.Lookup(doc)
	require.True(t, ok)
	require.Equal(t, "?", v)

	_, ok = DataPath{"config", "missing"}.Lookup(doc)
	require.False(t, ok)

	_, ok = DataPath{"tags", "0"}.Lookup(doc)
	require.False(t, ok)
}

func TestDeepSetExpr(t *testing.T) {
	t.Parallel()

	single := deepSetExpr("data", 1, 2, 3)
	require.Equal(t, 1, strings.Count(single, "jsonb_set("))
	require.Contains(t, single, "($2::text[])[1:1]")
	require.Contains(t, single, "$3::jsonb")

	nested := deepSetExpr("data", 3, 2, 3)
	require.Equal(t, 3, strings.Count(nested, "jsonb_set("))
	require.Contains(t, nested, "(data #> ($2::text[])[1:2])")
	require.Contains(t, nested, "($2::text[])[3:3]")
}

func TestDataPathSet(t *testing.T) {
	t.Parallel()

	doc := map[string]any{
		"config": map[string]any{"prefix": "!", "lang": "EN"},
		"tags":   "legacy",
	}

	DataPath{"config", "prefix"}.Set(doc, "?")
	require.Equal(t, map[string]any{"prefix": "?", "lang": "EN"}, doc["config"])

	DataPath{"tags", "first"}.Set(doc, true)
	require.Equal(t, map[string]any{"first": true}, doc["tags"])

	fresh := DataPath{"a", "b", "c"}.Set(nil, float64(1))
	require.Equal(t, map[string]any{"a": map[string]any{"b": map[string]any{"c": float64(1)}}}, fresh)
}
