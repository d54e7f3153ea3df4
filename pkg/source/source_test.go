package source

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestList_MarshalJSON(t *testing.T) {
	list := List{
		&GitSource{URL: "https://example.com/x.git", Position: 0},
		&RegistrySource{Name: "moonbitlang/core", Versions: []string{"0.5.0"}, Position: 1},
	}

	data, err := json.Marshal(list)
	require.NoError(t, err)
	assert.JSONEq(t, `[
		{"Git":{"url":"https://example.com/x.git","rev":[],"index":0}},
		{"MooncakesIO":{"name":"moonbitlang/core","version":["0.5.0"],"index":1}}
	]`, string(data))
}

func TestList_UnmarshalJSON(t *testing.T) {
	var list List
	err := json.Unmarshal([]byte(`[
		{"MooncakesIO":{"name":"a/b","version":["1.0.0"],"index":0}},
		{"Git":{"url":"https://example.com/y.git","rev":["HEAD"],"index":1}}
	]`), &list)
	require.NoError(t, err)
	require.Len(t, list, 2)

	r := list[0].(*RegistrySource)
	assert.Equal(t, "a/b", r.Label())
	assert.Equal(t, []string{"1.0.0"}, r.Targets())

	g := list[1].(*GitSource)
	assert.Equal(t, 1, g.Index())
	assert.Equal(t, []string{"HEAD"}, g.Targets())
}

func TestList_UnmarshalJSON_Errors(t *testing.T) {
	tests := map[string]string{
		"unknown kind": `[{"Svn":{"url":"x"}}]`,
		"two tags":     `[{"Git":{},"MooncakesIO":{}}]`,
		"not a list":   `{"Git":{}}`,
	}
	for name, input := range tests {
		t.Run(name, func(t *testing.T) {
			var list List
			assert.Error(t, json.Unmarshal([]byte(input), &list))
		})
	}
}

func TestEffectiveTargets(t *testing.T) {
	assert.Equal(t, []string{HeadRevision}, EffectiveTargets(&GitSource{URL: "https://example.com/x.git"}))
	assert.Equal(t, []string{"a", "b"}, EffectiveTargets(&GitSource{URL: "u", Revisions: []string{"a", "b"}}))
	assert.Equal(t, []string{"0.1.0"}, EffectiveTargets(&RegistrySource{Name: "n", Versions: []string{"0.1.0"}}))
}
