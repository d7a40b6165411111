package model

type Chore struct {
	Syncable
	HouseholdID string  `json:"household_id"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Points      int     `json:"points"`
	Schedule    string  `json:"schedule,omitempty"`
	AssignedTo  *string `json:"assigned_to,omitempty"`
	SortOrder   int     `json:"sort_order"`
}

type ChoreCompletion struct {
	Syncable
	HouseholdID string  `json:"household_id"`
	ChoreID     string  `json:"chore_id"`
	MemberID    *string `json:"member_id,omitempty"`
	Points      int     `json:"points"`
	CompletedAt int64   `json:"completed_at"`
}
