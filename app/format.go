package app

import (
	"fmt"
	"strings"

	"diningagent/menu"
	"diningagent/slack"
)

// FormatResponse renders a response for a terminal. Plans read the same as
// their Slack post.
func FormatResponse(resp Response) string {
	if resp.Result != nil {
		return slack.FormatPlan(*resp.Result)
	}

	var b strings.Builder
	switch resp.Mode {
	case ModeHalls:
		if len(resp.Halls) == 0 {
			return fmt.Sprintf("No dining hall is serving %s.", resp.Meal)
		}
		fmt.Fprintf(&b, "Dining halls serving %s:\n", resp.Meal)
		for _, h := range resp.Halls {
			fmt.Fprintf(&b, "- %s\n", h)
		}
	default:
		if len(resp.Items) == 0 {
			return fmt.Sprintf("No %s items found.", resp.Meal)
		}
		fmt.Fprintf(&b, "%d %s items:\n", len(resp.Items), resp.Meal)
		for _, it := range resp.Items {
			fmt.Fprintf(&b, "- %s\n", itemLine(it))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func itemLine(it menu.Item) string {
	line := fmt.Sprintf("%s (%s, %.0f kcal, %.0f g protein)", it.Name, it.DiningHall, it.Calories, it.ProteinG)
	if len(it.DietaryFlags) > 0 {
		line += " [" + strings.Join(it.DietaryFlags, ", ") + "]"
	}
	return line
}
