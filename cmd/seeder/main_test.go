package main

import (
	"net/mail"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSampleCampaign(t *testing.T) {
	subject, body, recipients := sampleCampaign()

	assert.NotEmpty(t, subject)
	assert.Contains(t, body, "{name}")
	require.Len(t, recipients, 2)
	for _, r := range recipients {
		_, err := mail.ParseAddress(r.Email)
		assert.NoError(t, err)
		require.NotNil(t, r.Name)
	}
	assert.Equal(t, "Giovanni", *recipients[0].Name)
	assert.Equal(t, "Ana", *recipients[1].Name)
}
