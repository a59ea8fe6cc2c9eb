package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func msg(id string, parent *string, index *string, at time.Duration) Message {
	return Message{ID: id, ParentMessageID: parent, MessageIndex: index, CreatedAt: t0.Add(at)}
}

func ids(nodes []*Node) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.ID)
	}
	return out
}

func TestBuildTree_RootWithTwoChildren(t *testing.T) {
	msgs := []Message{
		msg("3", strPtr("1"), nil, 2*time.Second),
		msg("1", nil, nil, 0),
		msg("2", strPtr("1"), nil, time.Second),
	}

	forest := BuildTree(msgs)
	require.Len(t, forest, 1)
	assert.Equal(t, "1", forest[0].ID)
	assert.Equal(t, []string{"2", "3"}, ids(forest[0].Children))
	assert.Empty(t, forest[0].Children[0].Children)
}

func TestBuildTree_MissingParentBecomesRoot(t *testing.T) {
	msgs := []Message{
		msg("a", strPtr("paged-out"), strPtr("1"), time.Second),
		msg("b", strPtr("a"), strPtr("0"), 2*time.Second),
	}

	forest := BuildTree(msgs)
	assert.Equal(t, []string{"a"}, ids(forest))
	assert.Equal(t, []string{"b"}, ids(forest[0].Children))
}

func TestBuildTree_Ordering(t *testing.T) {
	tests := []struct {
		name string
		msgs []Message
		want []string
	}{
		{
			name: "message index beats creation time",
			msgs: []Message{
				msg("late-zero", nil, strPtr("0"), 5*time.Second),
				msg("early-one", nil, strPtr("1"), 0),
			},
			want: []string{"late-zero", "early-one"},
		},
		{
			name: "indices compare as integers",
			msgs: []Message{
				msg("ten", nil, strPtr("10"), 0),
				msg("two", nil, strPtr("2"), time.Second),
			},
			want: []string{"two", "ten"},
		},
		{
			name: "missing index falls back to creation time",
			msgs: []Message{
				msg("indexed", nil, strPtr("0"), 3*time.Second),
				msg("plain", nil, nil, time.Second),
			},
			want: []string{"plain", "indexed"},
		},
		{
			name: "unparseable index falls back to creation time",
			msgs: []Message{
				msg("x", nil, strPtr("abc"), 3*time.Second),
				msg("y", nil, strPtr("0"), time.Second),
			},
			want: []string{"y", "x"},
		},
		{
			name: "equal index falls back to creation time then id",
			msgs: []Message{
				msg("c", nil, strPtr("0"), 2*time.Second),
				msg("b", nil, strPtr("0"), time.Second),
				msg("a", nil, strPtr("0"), 2*time.Second),
			},
			want: []string{"b", "a", "c"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ids(BuildTree(tt.msgs)))
		})
	}
}

func TestBuildTree_ConversationShape(t *testing.T) {
	// two turns, the second branching off the first assistant reply
	msgs := []Message{
		msg("u1", nil, strPtr(UserMessageIndex), 0),
		msg("a1", strPtr("u1"), strPtr(AssistantMessageIndex), time.Second),
		msg("u2", strPtr("a1"), strPtr(UserMessageIndex), time.Minute),
		msg("a2", strPtr("u2"), strPtr(AssistantMessageIndex), time.Minute+time.Second),
		msg("u3", strPtr("a1"), strPtr(UserMessageIndex), 2*time.Minute),
	}

	forest := BuildTree(msgs)
	require.Len(t, forest, 1)
	a1 := forest[0].Children[0]
	assert.Equal(t, "a1", a1.ID)
	assert.Equal(t, []string{"u2", "u3"}, ids(a1.Children))
	assert.Equal(t, []string{"a2"}, ids(a1.Children[0].Children))
}

func TestBuildTree_EmptyAndDuplicates(t *testing.T) {
	forest := BuildTree(nil)
	assert.NotNil(t, forest)
	assert.Empty(t, forest)

	forest = BuildTree([]Message{msg("1", nil, nil, 0), msg("1", nil, nil, time.Second)})
	require.Len(t, forest, 1)
	assert.Equal(t, t0, forest[0].CreatedAt)
}

func TestBuildTree_SelfParentIsRoot(t *testing.T) {
	forest := BuildTree([]Message{msg("1", strPtr("1"), nil, 0)})
	assert.Equal(t, []string{"1"}, ids(forest))
}
