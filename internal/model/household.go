package model

type Household struct {
	Syncable
	Name       string `json:"name"`
	InviteCode string `json:"invite_code,omitempty"`
	Timezone   string `json:"timezone,omitempty"`
}

type Member struct {
	Syncable
	HouseholdID string `json:"household_id"`
	Name        string `json:"name"`
	Role        string `json:"role"`
	Color       string `json:"color,omitempty"`
	AvatarEmoji string `json:"avatar_emoji,omitempty"`
	SortOrder   int    `json:"sort_order"`
}
