// Package notifier posts a subset of EventBus activity to Slack: approval
// requests waiting on a human, and events at the complete or failed stage
// (each incident's terminal outcome, and the Executor's hard stop). It
// never blocks a publisher and never fails an incident: a delivery error is
// logged, not propagated.
package notifier

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/slack-go/slack"

	"github.com/oncallops/incident-core/internal/apperrors"
	"github.com/oncallops/incident-core/pkg/eventbus"
	"github.com/oncallops/incident-core/pkg/types"
)

// Poster is the subset of *slack.Client the Notifier depends on, so tests
// can substitute a double without a live workspace.
type Poster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// Config configures one Slack delivery channel. Token resolution (from
// CredentialHandle) happens at wiring time, same as the other adapters.
type Config struct {
	Token   string
	Channel string
}

// Notifier subscribes to an EventBus and relays a subset of its events to
// Slack.
type Notifier struct {
	client  Poster
	channel string
	bus     *eventbus.Bus
	log     *logrus.Logger
}

// New constructs a Notifier. If cfg.Token is empty, the Notifier is
// constructed with a nil client and degrades every delivery to a no-op:
// callers can always wire a Notifier, configured or not, without a branch at
// the call site (§9 ambient-stack style: absence of config degrades, it
// never panics).
func New(cfg Config, bus *eventbus.Bus, log *logrus.Logger) (*Notifier, error) {
	if cfg.Channel == "" {
		return nil, apperrors.New(apperrors.ErrorTypeValidation, "notifier: Channel is required")
	}
	var client Poster
	if cfg.Token != "" {
		client = slack.New(cfg.Token)
	}
	return &Notifier{client: client, channel: cfg.Channel, bus: bus, log: log}, nil
}

// Run subscribes to bus and relays matching events to Slack until ctx is
// done. Intended to run in its own goroutine for the process lifetime.
func (n *Notifier) Run(ctx context.Context) {
	sub := n.bus.Subscribe("")
	defer n.bus.Unsubscribe(sub.ID)

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-sub.Events:
			n.handle(ctx, event)
		}
	}
}

func (n *Notifier) handle(ctx context.Context, event types.Event) {
	text, ok := renderText(event)
	if !ok {
		return
	}
	n.post(ctx, text)
}

// renderText decides whether event is notifier-worthy and, if so, formats
// it: approval requests (someone needs to act) and every event at the
// complete or failed stage. That covers each incident's terminal event and
// also the Executor's hard-stop event, which carries the failed stage.
func renderText(event types.Event) (string, bool) {
	switch {
	case event.Message == "approval requested":
		id, _ := event.Attributes["approval_id"].(string)
		return fmt.Sprintf(":rotating_light: Incident `%s` needs approval (request `%s`): %s",
			event.IncidentID, id, event.Message), true
	case event.Stage == types.StageComplete:
		return fmt.Sprintf(":white_check_mark: Incident `%s` complete: %s", event.IncidentID, event.Message), true
	case event.Stage == types.StageFailed:
		return fmt.Sprintf(":x: Incident `%s` failed: %s", event.IncidentID, event.Message), true
	default:
		return "", false
	}
}

func (n *Notifier) post(ctx context.Context, text string) {
	if n.client == nil {
		return
	}
	if _, _, err := n.client.PostMessageContext(ctx, n.channel, slack.MsgOptionText(text, false)); err != nil {
		if n.log != nil {
			n.log.WithError(err).Warn("notifier: failed to post Slack message")
		}
	}
}
