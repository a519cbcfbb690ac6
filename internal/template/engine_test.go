package template

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTemplate() Template {
	return Template{
		Topic:   "invoice",
		Subject: "Invoice for {{name}}",
		Text:    "Hello {{name}},\nplease pay {{amount}} CZK.\n{{missing}}",
		HTML:    `<p class="greeting">Hello {{name}}</p><p>{{amount}} CZK</p>`,
	}
}

// ==========================
// Fill
// ==========================

func TestFill_ReplacesAllPlaceholders(t *testing.T) {
	out, err := Fill(sampleTemplate(), map[string]string{"name": "Jana", "amount": "1500"})
	require.NoError(t, err)

	assert.Equal(t, "Invoice for Jana", out.Subject)
	assert.Equal(t, "Hello Jana,\nplease pay 1500 CZK.\n", out.Text)
	assert.Equal(t, `<p class="greeting">Hello Jana</p><p>1500 CZK</p>`, out.HTML)
	assert.Equal(t, "invoice", out.Topic)
	assert.Empty(t, Placeholders(out))
}

func TestFill_SpecialCharactersSurvive(t *testing.T) {
	values := []string{
		`quote " inside`,
		`back\slash`,
		"tab\tnew\nline\r",
		"bell\x07 and form\f feed\b",
		"</script> & <b>",
		"{{name}}",
		"Příliš žluťoučký kůň",
	}

	for _, v := range values {
		t.Run(v, func(t *testing.T) {
			out, err := Fill(sampleTemplate(), map[string]string{"name": v, "amount": "1"})
			require.NoError(t, err)
			assert.Equal(t, "Invoice for "+v, out.Subject)
		})
	}
}

func TestFill_MissingKeysBecomeEmpty(t *testing.T) {
	out, err := Fill(sampleTemplate(), nil)
	require.NoError(t, err)
	assert.Equal(t, "Invoice for ", out.Subject)
	assert.Equal(t, `<p class="greeting">Hello </p><p> CZK</p>`, out.HTML)
}

func TestFill_ExtraKeysHaveNoEffect(t *testing.T) {
	base, err := Fill(sampleTemplate(), map[string]string{"name": "A", "amount": "2"})
	require.NoError(t, err)

	withExtra, err := Fill(sampleTemplate(), map[string]string{"name": "A", "amount": "2", "unused": "zzz", "Name": "B"})
	require.NoError(t, err)

	assert.Equal(t, base, withExtra)
}

func TestFill_KeysAreCaseSensitive(t *testing.T) {
	tpl := Template{Subject: "{{Name}}/{{name}}"}
	out, err := Fill(tpl, map[string]string{"name": "lower"})
	require.NoError(t, err)
	assert.Equal(t, "/lower", out.Subject)
}

func TestFill_WhitespaceKeysAreNotPlaceholders(t *testing.T) {
	tpl := Template{Subject: "{{first name}} {{ok}}"}
	out, err := Fill(tpl, map[string]string{"first name": "x", "ok": "y"})
	require.NoError(t, err)
	assert.Equal(t, "{{first name}} y", out.Subject)
}

func TestFill_KeepsAttachments(t *testing.T) {
	tpl := sampleTemplate()
	tpl.Attachments = []Attachment{{Filename: "terms.pdf", ContentType: "application/pdf", Data: []byte("%PDF")}}

	out, err := Fill(tpl, map[string]string{"name": "{{amount}}"})
	require.NoError(t, err)
	assert.Equal(t, tpl.Attachments, out.Attachments)
	assert.Equal(t, "Invoice for {{amount}}", out.Subject)
}

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, []string{"name", "amount", "missing"}, Placeholders(sampleTemplate()))
}

// ==========================
// Escape / Unescape
// ==========================

func TestEscape_ProducesValidJSONStringBody(t *testing.T) {
	inputs := []string{
		"",
		"plain",
		`a"b`,
		`a\b`,
		"a/b",
		"\b\f\n\r\t",
		"\x00\x01\x1f",
		"emoji 🎉 and ščř",
	}

	for _, in := range inputs {
		escaped := Escape(in)

		var decoded string
		require.NoError(t, json.Unmarshal([]byte(`"`+escaped+`"`), &decoded), "input %q", in)
		assert.Equal(t, in, decoded)
		assert.Equal(t, in, Unescape(escaped))
	}
}

func TestEscape_Rules(t *testing.T) {
	assert.Equal(t, `\\ \" \/ \b \f \n \r \t \u0001`, Escape("\\ \" / \b \f \n \r \t \x01"))
}

func TestEscape_StableOverBackslashFreeInput(t *testing.T) {
	for _, s := range []string{"", "abc", `say "hi"`, "x/y", "line\nbreak"} {
		assert.Equal(t, Escape(s), Escape(Unescape(s)))
	}
}

func TestUnescape_InvalidSequenceReturnedAsIs(t *testing.T) {
	assert.Equal(t, `bad \x escape`, Unescape(`bad \x escape`))
}
