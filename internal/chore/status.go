// Package chore computes due status and point balances from the local
// replica. Everything here is pure: the server layer loads records and
// hands them in, which keeps the date arithmetic trivially testable.
package chore

import (
	"log/slog"
	"sort"
	"time"

	"github.com/dukerupert/bywater/internal/model"
	"github.com/dukerupert/bywater/internal/schedule"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusOverdue   Status = "overdue"
	StatusNotDue    Status = "not_due"
)

type WithStatus struct {
	model.Chore
	Status         Status     `json:"status"`
	DueDate        *time.Time `json:"due_date,omitempty"`
	LastCompletion *time.Time `json:"last_completion,omitempty"`
	MemberName     string     `json:"member_name,omitempty"`
	MemberColor    string     `json:"member_color,omitempty"`
	MemberEmoji    string     `json:"member_emoji,omitempty"`
}

// ComputeStatus determines the status and current due date for a chore
// given its most recent completion.
func ComputeStatus(c model.Chore, lastCompletion *time.Time, today time.Time) (Status, *time.Time) {
	today = schedule.StartOfDay(today)

	// No schedule means a one-off chore: pending until completed once.
	if c.Schedule == "" {
		if lastCompletion != nil {
			return StatusCompleted, nil
		}
		return StatusPending, nil
	}

	rule, err := schedule.Parse(c.Schedule)
	if err != nil {
		slog.Error("invalid chore schedule", "chore_id", c.ID, "schedule", c.Schedule, "error", err)
		if lastCompletion != nil {
			return StatusCompleted, nil
		}
		return StatusPending, nil
	}

	due := rule.LastDue(today)
	if due.IsZero() {
		return StatusNotDue, nil
	}

	// Occurrences from before the chore existed don't count against it.
	created := schedule.StartOfDay(time.UnixMilli(c.CreatedAt))
	if due.Before(created) {
		return StatusNotDue, nil
	}

	if lastCompletion != nil && !schedule.StartOfDay(*lastCompletion).Before(due) {
		return StatusCompleted, &due
	}
	if due.Before(today) {
		return StatusOverdue, &due
	}
	return StatusPending, &due
}

// BuildToday assembles the chore board for a day: every active chore with
// its status, latest completion, and assignee details, ordered by sort
// order then title.
func BuildToday(chores []model.Chore, completions []model.ChoreCompletion, members []model.Member, now time.Time) []WithStatus {
	latest := make(map[string]time.Time)
	for _, comp := range completions {
		t := time.UnixMilli(comp.CompletedAt)
		if prev, ok := latest[comp.ChoreID]; !ok || t.After(prev) {
			latest[comp.ChoreID] = t
		}
	}

	byID := make(map[string]model.Member, len(members))
	for _, m := range members {
		byID[m.ID] = m
	}

	out := make([]WithStatus, 0, len(chores))
	for _, c := range chores {
		ws := WithStatus{Chore: c}
		if t, ok := latest[c.ID]; ok {
			ws.LastCompletion = &t
		}
		ws.Status, ws.DueDate = ComputeStatus(c, ws.LastCompletion, now)
		if c.AssignedTo != nil {
			if m, ok := byID[*c.AssignedTo]; ok {
				ws.MemberName = m.Name
				ws.MemberColor = m.Color
				ws.MemberEmoji = m.AvatarEmoji
			}
		}
		out = append(out, ws)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].SortOrder != out[j].SortOrder {
			return out[i].SortOrder < out[j].SortOrder
		}
		return out[i].Title < out[j].Title
	})
	return out
}

// DueToday filters the board down to chores that need attention today:
// pending or overdue.
func DueToday(board []WithStatus) []WithStatus {
	out := make([]WithStatus, 0, len(board))
	for _, ws := range board {
		if ws.Status == StatusPending || ws.Status == StatusOverdue {
			out = append(out, ws)
		}
	}
	return out
}
