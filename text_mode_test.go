package subagent

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/subagentrun/subagent/signature"
)

func mustParseSig(t *testing.T, src string) *signature.Signature {
	t.Helper()
	sig, err := signature.Parse(src)
	require.NoError(t, err)
	return sig
}

func TestValidateTextPromptNilSignatureAlwaysValid(t *testing.T) {
	require.NoError(t, ValidateTextPrompt("anything {{whatever}}", nil))
}

func TestValidateTextPromptMissingPlaceholder(t *testing.T) {
	sig := mustParseSig(t, "(topic :string) -> :string")
	err := ValidateTextPrompt("a prompt with no placeholder", sig)
	require.Error(t, err)
	require.Equal(t, "placeholder_missing", err.(*ConfigError).Reason)
}

func TestValidateTextPromptSatisfiedPlaceholder(t *testing.T) {
	sig := mustParseSig(t, "(topic :string) -> :string")
	require.NoError(t, ValidateTextPrompt("talk about {{topic}}", sig))
}

func TestValidateTextPromptSectionRequiresListField(t *testing.T) {
	sig := mustParseSig(t, "(topic :string) -> :string")
	err := ValidateTextPrompt("{{#topic}}x{{/topic}}", sig)
	require.Error(t, err)
	require.Equal(t, "section_type_mismatch", err.(*ConfigError).Reason)
}

func TestValidateTextPromptSectionOverListFieldOK(t *testing.T) {
	sig := mustParseSig(t, "(items [:string]) -> :string")
	require.NoError(t, ValidateTextPrompt("{{#items}}{{.}}{{/items}}", sig))
}

func TestValidateTextPromptDotOutsideSection(t *testing.T) {
	sig := mustParseSig(t, "(topic :string) -> :string")
	err := ValidateTextPrompt("{{topic}} {{.}}", sig)
	require.Error(t, err)
	require.Equal(t, "dot_outside_section", err.(*ConfigError).Reason)
}

func TestValidateTextPromptDotOnNonScalarElement(t *testing.T) {
	sig := mustParseSig(t, "(items [{name :string}]) -> :string")
	err := ValidateTextPrompt("{{#items}}{{.}}{{/items}}", sig)
	require.Error(t, err)
	require.Equal(t, "dot_on_nonscalar", err.(*ConfigError).Reason)
}
