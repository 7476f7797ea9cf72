package listener

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	n, err := Parse(`{"consent_id":"consent_1","user_id":"u-1","status":"REVOKED"}`)
	require.NoError(t, err)
	assert.Equal(t, ConsentNotification{ConsentID: "consent_1", UserID: "u-1", Status: "REVOKED"}, n)

	_, err = Parse(`not json`)
	assert.Error(t, err)
}
