package nutrislice

import (
	"encoding/json"
	"strings"
)

// wire types for the Nutrislice menu API

type schoolResponse struct {
	Name            string             `json:"name"`
	Slug            string             `json:"slug"`
	ActiveMenuTypes []menuTypeResponse `json:"active_menu_types"`
	OperatingDays   []operatingDays    `json:"operating_days_by_menu_type"`
}

type menuTypeResponse struct {
	Name string `json:"name"`
	URLs struct {
		FullMenuByDate string `json:"full_menu_by_date_api_url_template"`
	} `json:"urls"`
}

// operatingDays carries per-weekday keys such as mon_enabled, mon_start and
// mon_end, so it is decoded into a generic map.
type operatingDays map[string]any

type weekResponse struct {
	Days []dayResponse `json:"days"`
}

type dayResponse struct {
	Date      string             `json:"date"`
	MenuItems []menuItemResponse `json:"menu_items"`
}

type menuItemResponse struct {
	IsStationHeader bool          `json:"is_station_header"`
	Text            string        `json:"text"`
	Food            *foodResponse `json:"food"`
}

type foodResponse struct {
	Name            string          `json:"name"`
	Description     string          `json:"description"`
	Nutrition       *nutritionInfo  `json:"rounded_nutrition_info"`
	Icons           iconsResponse   `json:"icons"`
	ServingSizeInfo json.RawMessage `json:"serving_size_info"`
	ServingSize     json.RawMessage `json:"serving_size"`
}

type nutritionInfo struct {
	Calories    *float64        `json:"calories"`
	ProteinG    *float64        `json:"g_protein"`
	CarbsG      *float64        `json:"g_total_carb"`
	FatG        *float64        `json:"g_total_fat"`
	FiberG      *float64        `json:"g_dietary_fiber"`
	SodiumMG    *float64        `json:"mg_sodium"`
	ServingSize json.RawMessage `json:"serving_size"`
}

type iconsResponse struct {
	FoodIcons []struct {
		Name string `json:"name"`
	} `json:"food_icons"`
}

// servingSize accepts either a plain string or an object with an amount and
// a unit, which is how different Nutrislice tenants report it.
func servingSize(raws ...json.RawMessage) string {
	for _, raw := range raws {
		if len(raw) == 0 || string(raw) == "null" {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
			continue
		}
		var obj struct {
			Amount any    `json:"serving_size_amount"`
			Unit   string `json:"serving_size_unit"`
		}
		if err := json.Unmarshal(raw, &obj); err == nil && obj.Amount != nil {
			amount := strings.TrimSpace(jsonString(obj.Amount))
			if amount != "" {
				return strings.TrimSpace(amount + " " + obj.Unit)
			}
		}
	}
	return ""
}

func jsonString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, _ := json.Marshal(v)
	return string(b)
}
