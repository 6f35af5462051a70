package maperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorKindsMatch(t *testing.T) {
	cause := errors.New("boom")
	err := fmt.Errorf("wrapped: %w", Conversion("blog", "author_id", "Author.ID", cause))

	assert.ErrorIs(t, err, ErrConversion)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrConfiguration)

	var me *Error
	require.ErrorAs(t, err, &me)
	assert.Equal(t, "blog", me.MappingID)
	assert.Equal(t, "author_id", me.Column)
	assert.Equal(t, "Author.ID", me.Property)
	assert.Contains(t, err.Error(), "mapping=blog")
	assert.Contains(t, err.Error(), "column=author_id")
}

func TestResourceDoesNotDoubleWrap(t *testing.T) {
	assert.NoError(t, Resource(nil))

	first := Resource(errors.New("connection reset"))
	second := Resource(first)
	assert.Same(t, first, second)
	assert.ErrorIs(t, second, ErrResource)
}

func TestConfigurationFormatsMessage(t *testing.T) {
	err := Configuration("post", "missing mapping %q", "comment")
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.Equal(t, `mapping configuration error (mapping=post): missing mapping "comment"`, err.Error())
}
