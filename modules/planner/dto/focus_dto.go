package dto

import (
	"time"

	"github.com/google/uuid"
)

// FocusBlockRequest is the body for creating or moving a focus block.
type FocusBlockRequest struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	StartAt     time.Time `json:"start_at"`
	EndAt       time.Time `json:"end_at"`
}

type FocusBlockResponse struct {
	ID      uuid.UUID `json:"id"`
	DayID   uuid.UUID `json:"day_id"`
	Title   string    `json:"title"`
	StartAt time.Time `json:"start_at"`
	EndAt   time.Time `json:"end_at"`
}
