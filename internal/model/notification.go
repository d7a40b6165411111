package model

type NotificationPref struct {
	Syncable
	HouseholdID     string `json:"household_id"`
	MemberID        string `json:"member_id"`
	ChoreReminders  bool   `json:"chore_reminders"`
	RewardActivity  bool   `json:"reward_activity"`
	QuietHoursStart string `json:"quiet_hours_start,omitempty"`
	QuietHoursEnd   string `json:"quiet_hours_end,omitempty"`
}
