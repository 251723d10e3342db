package hilo

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/pkg/errors"

	"github.com/etiennebl/hilolink/internal/pkg/events"
	"github.com/etiennebl/hilolink/internal/pkg/hiloapi"
	"github.com/etiennebl/hilolink/internal/pkg/hubs"
	"github.com/etiennebl/hilolink/internal/pkg/logging"
)

// Challenges returns a snapshot of the tracked demand-response events,
// ordered by id.
func (c *Client) Challenges() []*events.ChallengeEvent {
	c.challengeMu.Lock()
	defer c.challengeMu.Unlock()

	list := make([]*events.ChallengeEvent, 0, len(c.challenges))
	for _, ev := range c.challenges {
		list = append(list, ev)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}

// RefreshChallenges pulls the active challenge list over REST.
func (c *Client) RefreshChallenges(ctx context.Context) error {
	challenges, err := c.api.GetChallenges(ctx, c.registry.LocationID)
	if err != nil {
		return errors.Wrap(err, "listing challenges")
	}

	for _, ch := range challenges {
		c.upsertChallenge(ctx, ch)
	}
	return nil
}

// pollChallengeBaselines re-fetches challenges whose baseline allowance is
// due to be published.
func (c *Client) pollChallengeBaselines(ctx context.Context) {
	for _, ev := range c.Challenges() {
		if !ev.ShouldCheckAllowedWh() {
			continue
		}
		ch, err := c.api.GetChallenge(ctx, c.registry.LocationID, ev.ID)
		if err != nil {
			logging.Logger(ctx).WithError(err).Warnf("fetching challenge %d", ev.ID)
			continue
		}
		c.upsertChallenge(ctx, *ch)
	}
}

func (c *Client) upsertChallenge(ctx context.Context, ch hiloapi.Challenge) *events.ChallengeEvent {
	ev := events.NewChallengeEvent(ch)
	if c.appreciationHours > 0 {
		ev.Appreciation(c.appreciationHours)
		if c.preColdHours > 0 {
			ev.PreCold(c.preColdHours)
		}
	}

	c.challengeMu.Lock()
	c.challenges[ev.ID] = ev
	c.challengeMu.Unlock()

	logging.Logger(ctx).Debugf("Challenge %d (%s) in phase %s", ev.ID, ev.Period, ev.State())
	return ev
}

func (c *Client) removeChallenge(ctx context.Context, id int64) {
	c.challengeMu.Lock()
	delete(c.challenges, id)
	c.challengeMu.Unlock()

	logging.Logger(ctx).Debugf("Challenge %d removed", id)
}

func (c *Client) onChallengeHubEvent(ev hubs.Event) {
	ctx := context.Background()

	switch ev.Target {
	case "ChallengeListInitialValuesReceived":
		c.applyChallengeList(ctx, ev)
	case "ChallengeAdded", "ChallengeDetailsUpdated", "ChallengeDetailsInitialValuesReceived":
		c.applyChallenge(ctx, ev)
	case "ChallengeRemoved":
		c.applyChallengeRemoval(ctx, ev)
	case "ChallengeConsumptionUpdatedValuesReceived":
		c.applyChallengeConsumption(ctx, ev)
	default:
		logging.Logger(ctx).Debugf("Unhandled challenge event: target %s type %s", ev.Target, ev.Type)
	}
}

func (c *Client) applyChallengeList(ctx context.Context, ev hubs.Event) {
	if len(ev.Arguments) == 0 {
		return
	}
	var challenges []hiloapi.Challenge
	if err := json.Unmarshal(ev.Arguments[0], &challenges); err != nil {
		logging.Logger(ctx).Warnf("Malformed challenge list: %.200s", ev.Arguments[0])
		return
	}
	for _, ch := range challenges {
		c.upsertChallenge(ctx, ch)
	}
}

func (c *Client) applyChallenge(ctx context.Context, ev hubs.Event) {
	if len(ev.Arguments) == 0 {
		return
	}
	var ch hiloapi.Challenge
	if err := json.Unmarshal(ev.Arguments[0], &ch); err != nil {
		logging.Logger(ctx).Warnf("Malformed challenge: %.200s", ev.Arguments[0])
		return
	}
	c.upsertChallenge(ctx, ch)
}

func (c *Client) applyChallengeRemoval(ctx context.Context, ev hubs.Event) {
	if len(ev.Arguments) == 0 {
		return
	}

	// The removal frame is either a bare id or an object carrying one.
	var id int64
	if err := json.Unmarshal(ev.Arguments[0], &id); err != nil {
		var obj struct {
			ID int64 `json:"id"`
		}
		if err := json.Unmarshal(ev.Arguments[0], &obj); err != nil || obj.ID == 0 {
			logging.Logger(ctx).Warnf("Malformed challenge removal: %.100s", ev.Arguments[0])
			return
		}
		id = obj.ID
	}
	c.removeChallenge(ctx, id)
}

func (c *Client) applyChallengeConsumption(ctx context.Context, ev hubs.Event) {
	if len(ev.Arguments) == 0 {
		return
	}
	var upd struct {
		EventID   int64   `json:"eventId"`
		ID        int64   `json:"id"`
		CurrentWh float64 `json:"currentWh"`
	}
	if err := json.Unmarshal(ev.Arguments[0], &upd); err != nil {
		logging.Logger(ctx).Warnf("Malformed consumption update: %.100s", ev.Arguments[0])
		return
	}

	id := upd.EventID
	if id == 0 {
		id = upd.ID
	}

	c.challengeMu.Lock()
	tracked, ok := c.challenges[id]
	c.challengeMu.Unlock()
	if !ok {
		logging.Logger(ctx).Debugf("Consumption update for untracked challenge %d", id)
		return
	}

	tracked.UpdateUsedWh(upd.CurrentWh)
}
