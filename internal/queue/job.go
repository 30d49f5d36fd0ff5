package queue

import (
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"maunium.net/go/mautrix/id"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	QueueKey    = "priority_queue"
	DLQKey      = "priority_queue_dlq"
	DeadJobsKey = "dead_jobs"
)

const (
	JobSyncPowerLevel = "sync_power_level"
	JobRefreshMembers = "refresh_members"
)

type Job struct {
	ID        string              `json:"id"`
	Type      string              `json:"type"`
	Payload   jsoniter.RawMessage `json:"payload"`
	Priority  int                 `json:"priority"`
	Retry     int                 `json:"retry"`
	MaxRetry  int                 `json:"max_retry"`
	ErrorMsg  string              `json:"error_msg,omitempty"`
	CreatedAt int64               `json:"created_at"`
	RunAt     int64               `json:"run_at"`
	ExpireAt  int64               `json:"expired_at"`
}

// PowerLevelPayload asks the worker to confirm that a power level change
// reached the server.
type PowerLevelPayload struct {
	RoomID id.RoomID `json:"room_id"`
	UserID id.UserID `json:"user_id"`
	Level  int       `json:"level"`
}

type RefreshMembersPayload struct {
	RoomID id.RoomID `json:"room_id"`
}

// NewJob builds a job that is due now and expires after ttl.
func NewJob(jobType string, payload any, priority, maxRetry int, ttl time.Duration) Job {
	now := time.Now()
	return Job{
		ID:        uuid.NewString(),
		Type:      jobType,
		Payload:   MustMarshal(payload),
		Priority:  priority,
		MaxRetry:  maxRetry,
		CreatedAt: now.Unix(),
		RunAt:     now.Unix(),
		ExpireAt:  now.Add(ttl).Unix(),
	}
}

// Score orders the queue by due time; within one second a higher priority
// runs first.
func (j Job) Score() float64 {
	return float64(j.RunAt) - float64(j.Priority)/1000
}

func MustMarshal(payload any) jsoniter.RawMessage {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil
	}

	return b
}

func Decode[T any](job Job) (T, error) {
	var payload T
	err := json.Unmarshal(job.Payload, &payload)
	return payload, err
}
