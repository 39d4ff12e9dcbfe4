package gallery

import (
	"context"
	"time"
)

// AIContextPending marks a photo whose automatic analysis has not finished.
const AIContextPending = "pending"

// Photo is one uploaded image plus its two context layers. FileName is the
// stable identity the models use to refer to it and must be unique within the
// active library.
type Photo struct {
	FileName    string    `json:"file_name"`
	MIMEType    string    `json:"mime_type"`
	Data        []byte    `json:"-"`
	UserContext string    `json:"user_context"`
	AIContext   string    `json:"ai_context"`
	URL         string    `json:"url"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Snapshot is a point-in-time copy of the whole library.
type Snapshot struct {
	Biography      string  `json:"biography"`
	Photos         []Photo `json:"photos"`
	CurrentIndex   int     `json:"current_index"`
	PendingReapply bool    `json:"pending_reapply"`
}

// Store persists the photo library across restarts.
type Store interface {
	SaveLibrary(ctx context.Context, snap Snapshot) error
	LoadLibrary(ctx context.Context) (Snapshot, bool, error)
	Close() error
}
