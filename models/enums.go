package models

// Shift is the half-day delivery slot. One shift = 12 hours.
type Shift string

const (
	ShiftMorning   Shift = "morning"
	ShiftAfternoon Shift = "afternoon"
)

// ShiftFromHour maps a delivery hour to its slot. Hours 0..12 inclusive are
// morning; 13..23 are afternoon.
func ShiftFromHour(hour int) Shift {
	if hour >= 0 && hour <= 12 {
		return ShiftMorning
	}
	return ShiftAfternoon
}

type JobType string

const (
	JobTypeInventorySettlement JobType = "inventory-settlement"
	JobTypeHeaderUpdate        JobType = "header-update"
	JobTypeOrderFinalize       JobType = "order-finalize"
)

type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

type NotificationType string

const (
	NotificationTypeJobCompleted NotificationType = "job_completed"
	NotificationTypeJobFailed    NotificationType = "job_failed"
	NotificationTypeAlert        NotificationType = "alert"
)
