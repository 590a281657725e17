package notifier_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oncallops/incident-core/pkg/eventbus"
	"github.com/oncallops/incident-core/pkg/notifier"
	"github.com/oncallops/incident-core/pkg/types"
)

func TestNew_RequiresChannel(t *testing.T) {
	_, err := notifier.New(notifier.Config{Token: "xoxb-test"}, nil, nil)
	assert.Error(t, err)
}

func TestNew_WithoutTokenDegradesSilently(t *testing.T) {
	bus := eventbus.New(nil, 10, 10)
	n, err := notifier.New(notifier.Config{Channel: "#incidents"}, bus, nil)
	require.NoError(t, err)
	require.NotNil(t, n)

	ctx, cancel := context.WithCancel(context.Background())
	go n.Run(ctx)
	defer cancel()

	// Publishing with no token configured must never panic or block.
	bus.Publish(types.Event{Message: "approval requested", IncidentID: "inc-1", Stage: types.StageGating})
	time.Sleep(50 * time.Millisecond)
}

// fakePoster is an in-memory Poster double recording every post.
type fakePoster struct {
	mu    sync.Mutex
	posts []string
}

func (f *fakePoster) PostMessageContext(_ context.Context, _ string, options ...slack.MsgOption) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posts = append(f.posts, "posted")
	return "C123", "1234.5678", nil
}

func (f *fakePoster) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.posts)
}

func TestRun_PostsApprovalRequestedAndTerminalEvents(t *testing.T) {
	bus := eventbus.New(nil, 10, 10)
	n, err := notifier.New(notifier.Config{Token: "xoxb-test", Channel: "#incidents"}, bus, nil)
	require.NoError(t, err)

	poster := &fakePoster{}
	notifier.SetPosterForTest(n, poster)

	ctx, cancel := context.WithCancel(context.Background())
	go n.Run(ctx)
	defer cancel()
	time.Sleep(20 * time.Millisecond) // let Run subscribe before publishing

	bus.Publish(types.Event{Message: "approval requested", IncidentID: "inc-1", Stage: types.StageGating,
		Attributes: map[string]interface{}{"approval_id": "appr-1"}})
	bus.Publish(types.Event{Message: "incident analyzed_and_executed", IncidentID: "inc-1", Stage: types.StageComplete})
	bus.Publish(types.Event{Message: "gathering context", IncidentID: "inc-1", Stage: types.StageGatheringContext})

	time.Sleep(100 * time.Millisecond)

	// Only the approval-requested and terminal events are notifier-worthy;
	// the gathering_context progress event is not.
	assert.Equal(t, 2, poster.count())
}

func TestRun_StopsOnContextCancellation(t *testing.T) {
	bus := eventbus.New(nil, 10, 10)
	n, err := notifier.New(notifier.Config{Token: "xoxb-test", Channel: "#incidents"}, bus, nil)
	require.NoError(t, err)
	poster := &fakePoster{}
	notifier.SetPosterForTest(n, poster)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		n.Run(ctx)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
