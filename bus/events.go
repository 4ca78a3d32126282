package bus

import "time"

// Topic names the canonical lifecycle events. Payloads are structured
// records, never free-form maps.
type Topic string

const (
	TopicAssetCreated            Topic = "asset.created"
	TopicAssetUpdated            Topic = "asset.updated"
	TopicAssetDeleted            Topic = "asset.deleted"
	TopicAssetCheckedOut         Topic = "asset.checked_out"
	TopicAssetReturned           Topic = "asset.returned"
	TopicAssetTransferred        Topic = "asset.transferred"
	TopicAssetCalibrationChanged Topic = "asset.calibration_changed"
	TopicAssetStatusChanged      Topic = "asset.status_changed"
	TopicSetCreated              Topic = "set.created"
	TopicSetMemberReplaced       Topic = "set.member_replaced"
	TopicSetUnpaired             Topic = "set.unpaired"
	TopicSetRetired              Topic = "set.retired"
	TopicBatchCreated            Topic = "batch.created"
	TopicBatchSent               Topic = "batch.sent"
	TopicBatchReceived           Topic = "batch.received"
	TopicBatchCompleted          Topic = "batch.completed"
	TopicCertUploaded            Topic = "certificate.uploaded"
	TopicCertSuperseded          Topic = "certificate.superseded"
	TopicInvariantAlert          Topic = "system.invariant_alert"
)

// Event is the envelope delivered to subscribers.
type Event struct {
	Topic     Topic       `json:"topic"`
	Timestamp time.Time   `json:"timestamp"`
	ActorID   string      `json:"actor_id"`
	Payload   interface{} `json:"payload"`
}

// AssetEvent is the payload for asset.* topics.
type AssetEvent struct {
	GaugeID      int64   `json:"gauge_id"`
	PublicID     *string `json:"public_id,omitempty"`
	SerialNumber string  `json:"serial_number"`
	FromStatus   string  `json:"from_status,omitempty"`
	ToStatus     string  `json:"to_status,omitempty"`
	UserID       string  `json:"user_id,omitempty"`
}

// SetEvent is the payload for set.* topics.
type SetEvent struct {
	SetID     string `json:"set_id"`
	GoID      int64  `json:"go_id"`
	NoGoID    int64  `json:"nogo_id"`
	OldMember *int64 `json:"old_member,omitempty"`
	NewMember *int64 `json:"new_member,omitempty"`
}

// BatchEvent is the payload for batch.* topics.
type BatchEvent struct {
	BatchID  int64   `json:"batch_id"`
	Type     string  `json:"type"`
	Vendor   *string `json:"vendor,omitempty"`
	GaugeIDs []int64 `json:"gauge_ids,omitempty"`
}

// CertificateEvent is the payload for certificate.* topics.
type CertificateEvent struct {
	CertificateID int64  `json:"certificate_id"`
	GaugeID       int64  `json:"gauge_id"`
	FileRef       string `json:"file_ref"`
	SupersededID  *int64 `json:"superseded_id,omitempty"`
}

// InvariantAlert is the payload for system.invariant_alert, emitted when a
// core invariant check fails.
type InvariantAlert struct {
	Invariant string `json:"invariant"`
	Detail    string `json:"detail"`
	EntityID  string `json:"entity_id,omitempty"`
}
