package chat

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeAttachment(t *testing.T) {
	t.Run("file with selection", func(t *testing.T) {
		a, err := DecodeAttachment(json.RawMessage(`{
			"type":"file","value":"/w/app.py","mimetype":"text/x-python",
			"selection":{"start":[1,0],"end":[3,4],"content":"def f():"}}`))
		require.NoError(t, err)
		assert.Equal(t, AttachmentFile, a.Type)
		assert.Equal(t, "text/x-python", a.MimeType)
		require.NotNil(t, a.Selection)
		assert.Equal(t, [2]int{3, 4}, a.Selection.End)
	})

	t.Run("notebook with cells", func(t *testing.T) {
		a, err := DecodeAttachment(json.RawMessage(`{
			"type":"notebook","value":"/w/nb.ipynb",
			"cells":[{"id":"c1","input_type":"code"}]}`))
		require.NoError(t, err)
		assert.Equal(t, AttachmentNotebook, a.Type)
		require.Len(t, a.Cells, 1)
		assert.Nil(t, a.Cells[0].Selection)
	})

	t.Run("type defaults to file", func(t *testing.T) {
		a, err := DecodeAttachment(json.RawMessage(`{"value":"README.md"}`))
		require.NoError(t, err)
		assert.Equal(t, AttachmentFile, a.Type)
	})

	for name, raw := range map[string]string{
		"missing value":   `{"type":"file"}`,
		"bad cell":        `{"type":"notebook","value":"/nb.ipynb","cells":[{"id":"c1"}]}`,
		"not json object": `[1,2]`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeAttachment(json.RawMessage(raw))
			assert.Error(t, err)
		})
	}
}
