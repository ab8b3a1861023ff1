package services_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chorus/chat-service/protocol"
	"chorus/chat-service/services"
	"chorus/chat-service/utils"
)

func TestSweeper_EvictsWithoutPolls(t *testing.T) {
	f := newFixture(t)
	_, err := f.tracker.Touch(context.Background(), "alice")
	require.NoError(t, err)
	f.clock.Advance(timeout + time.Second)

	sweeper := services.NewSweeper(f.poller, 5*time.Millisecond, utils.NewDiscardLogger())
	sweeper.Start()
	defer sweeper.Stop()

	require.Eventually(t, func() bool {
		return len(f.events.kinds(protocol.KindUserLeave)) == 1
	}, time.Second, 5*time.Millisecond)

	online, err := f.tracker.ListOnline(context.Background())
	require.NoError(t, err)
	assert.Empty(t, online)
}

func TestSweeper_DisabledInterval(t *testing.T) {
	f := newFixture(t)
	sweeper := services.NewSweeper(f.poller, 0, utils.NewDiscardLogger())
	sweeper.Start()
	sweeper.Stop()

	assert.Empty(t, f.events.kinds(protocol.KindUserLeave))
}
