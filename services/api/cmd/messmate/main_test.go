package main

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"messmate/pkg/config"
	"messmate/pkg/media"
	"messmate/pkg/push"
)

func TestRootCommandRegistersSubcommands(t *testing.T) {
	cmd := newRootCommand()
	var names []string
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"serve", "migrate", "seed", "sweep", "remind"})
}

func TestNewPusher(t *testing.T) {
	ctx := context.Background()
	log := zerolog.Nop()

	p, err := newPusher(ctx, config.PushConfig{Provider: "none"}, log)
	require.NoError(t, err)
	assert.Equal(t, push.Nop{}, p)

	_, err = newPusher(ctx, config.PushConfig{Provider: "carrier-pigeon"}, log)
	require.Error(t, err)
}

func TestNewMediaStoreWithoutEndpoint(t *testing.T) {
	m, err := newMediaStore(context.Background(), config.MediaConfig{}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, media.Disabled{}, m)
}

func TestNewLogger(t *testing.T) {
	log := newLogger(config.Config{LogLevel: "DEBUG"})
	assert.Equal(t, zerolog.DebugLevel, log.GetLevel())

	log = newLogger(config.Config{LogLevel: "chatty"})
	assert.Equal(t, zerolog.InfoLevel, log.GetLevel())
}
