package render

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRenderSubstitutesPlaceholders(t *testing.T) {
	msg, err := Render(
		"Your transfer of {{amount}} {{currency}} is confirmed",
		"Hi {{firstName}}, transfer {{reference}} is on its way.",
		map[string]any{
			"amount":    "250.00",
			"currency":  "EUR",
			"firstName": "Amara",
			"reference": "TX-991",
		},
	)
	require.NoError(t, err)
	require.Equal(t, "Your transfer of 250.00 EUR is confirmed", msg.Subject)
	require.Equal(t, "Hi Amara, transfer TX-991 is on its way.", msg.Content)
}

func TestRenderMissingPlaceholdersBecomeEmpty(t *testing.T) {
	msg, err := Render("Hello {{firstName}}", "Balance: {{balance}} {{currency}}", map[string]any{
		"currency": "USD",
	})
	require.NoError(t, err)
	require.Equal(t, "Hello ", msg.Subject)
	require.Equal(t, "Balance:  USD", msg.Content)
}

func TestRenderIsIdempotentAndIgnoresExtraData(t *testing.T) {
	data := map[string]any{"firstName": "Kofi", "amount": 12.5}
	superset := map[string]any{"firstName": "Kofi", "amount": 12.5, "unused": "zzz"}

	first, err := Render("Hi {{firstName}}", "Sent {{amount}}", data)
	require.NoError(t, err)
	second, err := Render("Hi {{firstName}}", "Sent {{amount}}", data)
	require.NoError(t, err)
	withExtra, err := Render("Hi {{firstName}}", "Sent {{amount}}", superset)
	require.NoError(t, err)

	require.Equal(t, first, second)
	require.Equal(t, first, withExtra)
}

func TestRenderConditionalBlocks(t *testing.T) {
	body := "Transfer confirmed.{{#if eta}} Arrives {{eta}}.{{/if}}"

	withETA, err := Render("s", body, map[string]any{"eta": "tomorrow"})
	require.NoError(t, err)
	require.Equal(t, "Transfer confirmed. Arrives tomorrow.", withETA.Content)

	withoutETA, err := Render("s", body, map[string]any{})
	require.NoError(t, err)
	require.Equal(t, "Transfer confirmed.", withoutETA.Content)

	falseETA, err := Render("s", body, map[string]any{"eta": ""})
	require.NoError(t, err)
	require.Equal(t, "Transfer confirmed.", falseETA.Content)
}

func TestRenderRejectsUnbalancedConditional(t *testing.T) {
	_, err := Render("s", "Hello {{#if name}}there", nil)
	require.ErrorIs(t, err, ErrMalformedTemplate)

	_, err = Render("s", "Hello there{{/if}}", nil)
	require.ErrorIs(t, err, ErrMalformedTemplate)
}
