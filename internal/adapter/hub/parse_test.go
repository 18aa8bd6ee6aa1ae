package hub

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMentionsEmpty(t *testing.T) {
	for _, in := range []string{"", "   ", noMessagesText, noMessagesText + "."} {
		msgs, err := parseMentions(in)
		require.NoError(t, err)
		assert.Empty(t, msgs)
	}
}

func TestParseMentionsXMLThreadScope(t *testing.T) {
	in := `<messages>
  <thread id="t9" name="songs">
    <message id="m1" senderId="interface" mentions="yona, marvin">make a song about rain</message>
  </thread>
</messages>`
	msgs, err := parseMentions(in)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "t9", msgs[0].ThreadID)
	assert.Equal(t, "songs", msgs[0].ThreadName)
	assert.Equal(t, "interface", msgs[0].SenderID)
	assert.Equal(t, "make a song about rain", msgs[0].Content)
	assert.Equal(t, []string{"yona", "marvin"}, msgs[0].Mentions)
}

func TestParseMentionsJSON(t *testing.T) {
	msgs, err := parseMentions(`{"messages":[{"id":"1","threadId":"t","senderId":"s","content":"hi"}]}`)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hi", msgs[0].Content)

	msgs, err = parseMentions(`{"threadId":"t","senderId":"s","content":"single"}`)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "single", msgs[0].Content)

	msgs, err = parseMentions(`[{"threadId":"t","senderId":"a","content":"x"},{"threadId":"t","senderId":"b","content":"y"}]`)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestParseMentionsRejectsUnaddressed(t *testing.T) {
	_, err := parseMentions(`<message content="who sent this"/>`)
	assert.Error(t, err)

	_, err = parseMentions("free text")
	assert.Error(t, err)
}
