package receiver

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFindLearnBlocks_NestedAndListed(t *testing.T) {
	form := map[string]any{
		"module": map[string]any{"@xmlns": LearnXMLNS, "@id": "top"},
		"section": map[string]any{
			"inner": map[string]any{
				"module": []any{
					map[string]any{"@xmlns": LearnXMLNS, "@id": "deep-1"},
					map[string]any{"@xmlns": LearnXMLNS, "@id": "deep-2"},
				},
			},
		},
	}

	blocks, err := findLearnBlocks(form, "module", LearnXMLNS)
	require.NoError(t, err)
	require.Len(t, blocks, 3)

	slugs := map[string]bool{}
	for _, b := range blocks {
		slugs[blockString(b, "@id")] = true
	}
	require.True(t, slugs["top"])
	require.True(t, slugs["deep-1"])
	require.True(t, slugs["deep-2"])
}

func TestFindLearnBlocks_IgnoresOtherNamespaces(t *testing.T) {
	form := map[string]any{
		"module": map[string]any{"@xmlns": "http://elsewhere.example/ns", "@id": "foreign"},
	}

	blocks, err := findLearnBlocks(form, "module", LearnXMLNS)
	require.NoError(t, err)
	require.Empty(t, blocks)
}

func TestFindLearnBlocks_ScalarMatchIsError(t *testing.T) {
	form := map[string]any{"module": "not-an-object"}

	_, err := findLearnBlocks(form, "module", LearnXMLNS)
	require.Error(t, err)
}

func TestFindLearnBlocks_DepthBound(t *testing.T) {
	form := map[string]any{}
	node := form
	for i := 0; i < maxBlockDepth+2; i++ {
		next := map[string]any{}
		node["nested"] = next
		node = next
	}
	node["module"] = map[string]any{"@xmlns": LearnXMLNS, "@id": "deep"}

	_, err := findLearnBlocks(form, "module", LearnXMLNS)
	require.Error(t, err)
}

func TestBlockString(t *testing.T) {
	block := map[string]any{"name": "intro", "version": float64(3)}
	require.Equal(t, "intro", blockString(block, "name"))
	require.Equal(t, "3", blockString(block, "version"))
	require.Equal(t, "", blockString(block, "missing"))
}

func TestBlockInt(t *testing.T) {
	block := map[string]any{
		"whole":    float64(42),
		"fraction": 42.5,
		"text":     " 7 ",
		"junk":     "eighty",
	}

	n, err := blockInt(block, "whole")
	require.NoError(t, err)
	require.Equal(t, 42, n)

	n, err = blockInt(block, "text")
	require.NoError(t, err)
	require.Equal(t, 7, n)

	_, err = blockInt(block, "fraction")
	require.Error(t, err)

	_, err = blockInt(block, "junk")
	require.Error(t, err)

	_, err = blockInt(block, "missing")
	require.Error(t, err)
}
