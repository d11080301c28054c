package poller

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/BearBump/FulfillBox/internal/broker/redisqueue"
	"github.com/pkg/errors"
)

// QueueName is the delayed-job queue carrying tracking polls.
const QueueName = "shipment-tracking-poll"

type Queue interface {
	Enqueue(ctx context.Context, queue string, job redisqueue.Job, notBefore time.Time) error
	ClaimDue(ctx context.Context, queue string, now time.Time, limit int) ([]redisqueue.Job, error)
}

type pollPayload struct {
	ShipmentID uint64 `json:"shipmentId"`
}

// Scheduler arms tracking polls. Jobs are keyed by shipment id, so arming a
// shipment again moves its pending poll instead of adding a second one.
type Scheduler struct {
	q Queue
}

func NewScheduler(q Queue) *Scheduler {
	return &Scheduler{q: q}
}

func (s *Scheduler) EnqueuePoll(ctx context.Context, shipmentID uint64, notBefore time.Time) error {
	return s.enqueue(ctx, shipmentID, 0, notBefore)
}

func (s *Scheduler) enqueue(ctx context.Context, shipmentID uint64, attempt int, notBefore time.Time) error {
	b, err := json.Marshal(pollPayload{ShipmentID: shipmentID})
	if err != nil {
		return errors.Wrap(err, "marshal poll payload")
	}
	job := redisqueue.Job{
		Key:     strconv.FormatUint(shipmentID, 10),
		Payload: b,
		Attempt: attempt,
	}
	if err := s.q.Enqueue(ctx, QueueName, job, notBefore); err != nil {
		return errors.Wrapf(err, "enqueue poll for shipment %d", shipmentID)
	}
	return nil
}

func decodePollJob(job redisqueue.Job) (uint64, error) {
	var p pollPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return 0, errors.Wrap(err, "decode poll payload")
	}
	if p.ShipmentID == 0 {
		return 0, errors.New("poll payload without shipment id")
	}
	return p.ShipmentID, nil
}
