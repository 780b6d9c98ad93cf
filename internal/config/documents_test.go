package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSequences(t *testing.T) {
	data := []byte(`{"sequences": [
		{"id": "wasd", "keys": ["w", "a", "s", "d"], "threshold": 0.6},
		{"id": "arrows", "keys": ["ArrowUp", "ArrowDown"], "threshold": 0.4}
	]}`)

	seqs, err := ParseSequences(data)
	require.NoError(t, err)
	require.Len(t, seqs, 2)
	assert.Equal(t, SequenceEntry{ID: "wasd", Keys: []string{"w", "a", "s", "d"}, Threshold: 0.6}, seqs[0])
	assert.Equal(t, "arrows", seqs[1].ID)
}

func TestParseSequences_Rejects(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", `{"sequences": [`},
		{"threshold above one", `{"sequences": [{"id": "x", "keys": ["a"], "threshold": 1.5}]}`},
		{"negative threshold", `{"sequences": [{"id": "x", "keys": ["a"], "threshold": -0.1}]}`},
		{"missing keys", `{"sequences": [{"id": "x", "threshold": 0.5}]}`},
		{"keys not strings", `{"sequences": [{"id": "x", "keys": [1, 2], "threshold": 0.5}]}`},
		{"sequences not array", `{"sequences": "wasd"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSequences([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}

func TestParseSequences_MissingFieldIsEmpty(t *testing.T) {
	seqs, err := ParseSequences([]byte(`{}`))
	require.NoError(t, err)
	assert.Empty(t, seqs)
}

func TestParseList(t *testing.T) {
	tests := []struct {
		doc  Document
		data string
		want []string
	}{
		{DocAllowlist, `{"allowlist": ["school.edu", "docs.example"]}`, []string{"school.edu", "docs.example"}},
		{DocBlockImmediately, `{"blockImmediatelyList": ["games.example"]}`, []string{"games.example"}},
		{DocBannedConnections, `{"bannedConnections": ["tracker.example"]}`, []string{"tracker.example"}},
		{DocBannedWords, `{"bannedWords": ["cheat", "speedrun"]}`, []string{"cheat", "speedrun"}},
		{DocBannedWords, `{"somethingElse": ["x"]}`, nil},
		{DocAllowlist, `{"allowlist": ["google.com", "gmail.com"], "comment": "work sites"}`, []string{"google.com", "gmail.com"}},
		{DocBannedWords, `{"bannedWords": ["cheat"], "version": 2}`, []string{"cheat"}},
		{DocBlockImmediately, `{"blockImmediatelyList": ["games.example"], "meta": {"owner": "it"}}`, []string{"games.example"}},
	}

	for _, tt := range tests {
		t.Run(tt.doc.Label(), func(t *testing.T) {
			got, err := ParseList(tt.doc, []byte(tt.data))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseList_Rejects(t *testing.T) {
	_, err := ParseList(DocBannedWords, []byte(`{"bannedWords": [1, 2]}`))
	assert.Error(t, err)

	_, err = ParseList(DocAllowlist, []byte(`["a.com"]`))
	assert.Error(t, err)

	_, err = ParseList(DocSequences, []byte(`{}`))
	assert.Error(t, err, "sequences is not a list document")
}

func TestDocument_Label(t *testing.T) {
	assert.Equal(t, "bannedWords", DocBannedWords.Label())
	assert.Equal(t, "blockimmediatelylist", DocBlockImmediately.Label())
}
