package models

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/daybreak-hq/daybreak/internal/mqs"
)

// HeaderRetryCount is the broker header carried on every published
// delivery task.
const HeaderRetryCount = "x-retry-count"

// DeliveryTask is the ephemeral BrokerMessage payload: a
// delivery-log row id plus enough context for the worker to process it
// without a DB read before the idempotency short-circuit.
// MessageID is always equal to the source DeliveryLog's row id,
// so DeliveryLogID() is just an alias accessor, not a separate field.
type DeliveryTask struct {
	MessageID         string    `json:"messageId"`
	UserID            string    `json:"userId"`
	MessageType       EventType `json:"messageType"`
	ScheduledSendTime time.Time `json:"scheduledSendTime"`
	RetryCount        int       `json:"retryCount"`
	Timestamp         int64     `json:"timestamp"`
}

// DeliveryLogID returns the delivery-log row id this task refers to.
func (t *DeliveryTask) DeliveryLogID() string { return t.MessageID }

var _ mqs.IncomingMessage = &DeliveryTask{}

// NewDeliveryTask builds the task for a DeliveryLog row. The message-id
// equals the delivery-log id.
func NewDeliveryTask(row *DeliveryLog, now time.Time) DeliveryTask {
	return DeliveryTask{
		MessageID:         row.ID,
		UserID:            row.UserID,
		MessageType:       row.EventType,
		ScheduledSendTime: row.ScheduledSendTime,
		RetryCount:        row.RetryCount,
		Timestamp:         now.UnixMilli(),
	}
}

func (t *DeliveryTask) ToMessage() (*mqs.Message, error) {
	body, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	return &mqs.Message{
		Body: body,
		Metadata: map[string]string{
			HeaderRetryCount: strconv.Itoa(t.RetryCount),
		},
	}, nil
}

// DeliveryTaskFromMessage parses the wire payload, trusting the
// header over the body for retry count since the header is what the
// broker/republisher increments on redelivery.
func DeliveryTaskFromMessage(msg *mqs.Message) (*DeliveryTask, error) {
	var task DeliveryTask
	if err := json.Unmarshal(msg.Body, &task); err != nil {
		return nil, err
	}
	if rc, err := strconv.Atoi(msg.Header(HeaderRetryCount)); err == nil {
		task.RetryCount = rc
	}
	return &task, nil
}
