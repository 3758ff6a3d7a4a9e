package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderSubject(t *testing.T) {
	out, err := RenderSubject("Action required, {{.FirstName}}", map[string]string{"FirstName": "Ada"})
	require.NoError(t, err)
	assert.Equal(t, "Action required, Ada", out)
}

func TestRenderSubjectMissingField(t *testing.T) {
	_, err := RenderSubject("Hello {{.Nickname}}", map[string]string{"FirstName": "Ada"})
	assert.Error(t, err)
}

func TestRenderHTMLEscapes(t *testing.T) {
	out, err := RenderHTML("<p>{{.FirstName}}</p>", map[string]string{"FirstName": "<script>x</script>"})
	require.NoError(t, err)
	assert.NotContains(t, out, "<script>")
}

func TestRenderHTMLBadTemplate(t *testing.T) {
	_, err := RenderHTML("<p>{{.Open", nil)
	assert.Error(t, err)
}
