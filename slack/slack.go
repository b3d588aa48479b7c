// Package slack posts meal plans to a Slack incoming webhook.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"diningagent/coordinator"
)

type doer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Client struct {
	webhookURL string
	httpClient doer
}

func NewClient(webhookURL string, httpClient doer) *Client {
	return &Client{
		webhookURL: webhookURL,
		httpClient: httpClient,
	}
}

func (c *Client) PostMessage(ctx context.Context, channel string, message string) error {
	payload, err := json.Marshal(map[string]any{
		"channel": channel,
		"text":    message,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to post message: %s", resp.Status)
	}

	return nil
}

// PostPlan formats a recommendation and posts it to channel.
func (c *Client) PostPlan(ctx context.Context, channel string, res coordinator.Result) error {
	return c.PostMessage(ctx, channel, FormatPlan(res))
}

// FormatPlan renders a recommendation as Slack mrkdwn: the plan text, the
// resolved plate and its totals against the meal target.
func FormatPlan(res coordinator.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*Your %s plan*", res.Meal)
	switch {
	case res.Fallback:
		b.WriteString(" _(rules-based fallback)_")
	case res.Mode == coordinator.ModeRules:
		b.WriteString(" _(rules-based)_")
	}
	b.WriteString("\n")

	if plan := strings.TrimSpace(res.Plan); plan != "" {
		b.WriteString(plan)
		b.WriteString("\n")
	}

	if len(res.Plate.Portions) == 0 {
		return strings.TrimRight(b.String(), "\n")
	}

	b.WriteString("\n*On your plate*\n")
	for _, p := range res.Plate.Portions {
		fmt.Fprintf(&b, "• %s, %s", p.Item.Name, p.Label)
		if p.Item.DiningHall != "" {
			fmt.Fprintf(&b, " (%s)", p.Item.DiningHall)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Total: %.0f kcal, %.0f g protein", res.Plate.Calories(), res.Plate.ProteinG())
	if res.Target.Calories > 0 || res.Target.ProteinG > 0 {
		fmt.Fprintf(&b, " (target about %.0f kcal, %.0f g protein)", res.Target.Calories, res.Target.ProteinG)
	}
	return b.String()
}
