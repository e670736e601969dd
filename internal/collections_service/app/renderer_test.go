package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recoverly/golang_services/internal/collections_service/domain"
)

func TestRenderReply(t *testing.T) {
	resp := &domain.GeneratedResponse{
		Body:      "Hello Jane,\r\n\r\nYour balance is <b>$1,250</b>.\n\n\n",
		Signature: "Alex\nCollections Team\n",
	}

	body, err := renderReply(resp, "https://pay.example/pay/tok")
	require.NoError(t, err)

	assert.Contains(t, body.HTML, "<p>Hello Jane,</p>")
	assert.Contains(t, body.HTML, "&lt;b&gt;$1,250&lt;/b&gt;")
	assert.Contains(t, body.HTML, `href="https://pay.example/pay/tok"`)
	assert.Contains(t, body.HTML, "<p>Alex<br>Collections Team</p>")

	assert.Equal(t, "Hello Jane,\r\n\r\nYour balance is <b>$1,250</b>.\n\nMake a payment: https://pay.example/pay/tok\n\nAlex\nCollections Team\n", body.Text)
}

func TestRenderReply_WithoutPaymentLink(t *testing.T) {
	body, err := renderReply(&domain.GeneratedResponse{Body: "Thanks."}, "")
	require.NoError(t, err)

	assert.NotContains(t, body.HTML, "Make a payment")
	assert.Equal(t, "Thanks.\n", body.Text)
}
