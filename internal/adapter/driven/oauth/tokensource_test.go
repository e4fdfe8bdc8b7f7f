package oauth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"golang.org/x/oauth2"

	"github.com/credkeeper/credkeeper/internal/domain/model"
)

// scriptedTokenSource returns a fixed sequence of tokens.
type scriptedTokenSource struct {
	tokens []*oauth2.Token
	calls  int
}

func (s *scriptedTokenSource) Token() (*oauth2.Token, error) {
	tok := s.tokens[s.calls]
	if s.calls < len(s.tokens)-1 {
		s.calls++
	}
	return tok, nil
}

func TestNotifyingTokenSource_FiresOnChangeOnly(t *testing.T) {
	expiry := time.Now().Add(time.Hour)
	first := &oauth2.Token{AccessToken: "at-1", RefreshToken: "rt-1", TokenType: "Bearer", Expiry: expiry}
	second := &oauth2.Token{AccessToken: "at-2", TokenType: "Bearer", Expiry: expiry.Add(time.Hour)}

	var updates []model.Credential
	src := &notifyingTokenSource{
		src:        &scriptedTokenSource{tokens: []*oauth2.Token{first, first, second, second}},
		lastAccess: "at-1",
		onUpdate:   func(c model.Credential) { updates = append(updates, c) },
	}

	// Same token twice: no notification.
	for range 2 {
		tok, err := src.Token()
		require.NoError(t, err)
		assert.Equal(t, "at-1", tok.AccessToken)
	}
	assert.Empty(t, updates)

	// The wrapped source refreshed: exactly one notification.
	tok, err := src.Token()
	require.NoError(t, err)
	assert.Equal(t, "at-2", tok.AccessToken)
	require.Len(t, updates, 1)
	assert.Equal(t, "at-2", updates[0].AccessToken)

	// Stable again: still one notification.
	_, err = src.Token()
	require.NoError(t, err)
	assert.Len(t, updates, 1)
}

func TestNotifyingTokenSource_NilCallback(t *testing.T) {
	tok := &oauth2.Token{AccessToken: "at-1", TokenType: "Bearer", Expiry: time.Now().Add(time.Hour)}
	src := &notifyingTokenSource{
		src: &scriptedTokenSource{tokens: []*oauth2.Token{tok}},
	}

	got, err := src.Token()
	require.NoError(t, err)
	assert.Equal(t, "at-1", got.AccessToken)
}
