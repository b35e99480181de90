package core

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokenbridge/federator/federator/config"
	fedErrors "github.com/tokenbridge/federator/federator/errors"
)

func TestNewClient_RequiresKey(t *testing.T) {
	client, err := NewClient(context.Background(), &config.Config{}, nil, nil, nil, zerolog.Nop())
	require.Error(t, err)
	assert.Nil(t, client)
	assert.True(t, fedErrors.IsChainError(err, fedErrors.ErrCodeConfig))
	assert.True(t, fedErrors.IsFatal(err))
}
