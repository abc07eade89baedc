// Package queue delivers "new document stored" events from the object store
// to the form-understanding worker, at-least-once, over a Redis list or a
// RabbitMQ queue.
package queue

import "context"

// StorageEvent is the wire payload for C3: either a native object-storage
// event record (first Records[*].s3 entry) or a bare {bucket,key} envelope
// decodes into this shape.
type StorageEvent struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

// EventBus delivers StorageEvent notifications to the form-understanding
// worker pool.
type EventBus interface {
	Publish(ctx context.Context, event StorageEvent) error
	Close() error
}

// DecodeEvent parses either shape described by StorageEvent, preferring the
// native object-storage Records envelope when present.
func DecodeEvent(raw map[string]interface{}) (StorageEvent, bool) {
	if records, ok := raw["Records"].([]interface{}); ok && len(records) > 0 {
		if rec, ok := records[0].(map[string]interface{}); ok {
			if s3rec, ok := rec["s3"].(map[string]interface{}); ok {
				bucket, _ := dig(s3rec, "bucket", "name").(string)
				key, _ := dig(s3rec, "object", "key").(string)
				if bucket != "" && key != "" {
					return StorageEvent{Bucket: bucket, Key: key}, true
				}
			}
		}
		return StorageEvent{}, false
	}

	bucket, _ := raw["bucket"].(string)
	key, _ := raw["key"].(string)
	if bucket == "" || key == "" {
		return StorageEvent{}, false
	}
	return StorageEvent{Bucket: bucket, Key: key}, true
}

func dig(m map[string]interface{}, path ...string) interface{} {
	var cur interface{} = m
	for _, p := range path {
		asMap, ok := cur.(map[string]interface{})
		if !ok {
			return nil
		}
		cur = asMap[p]
	}
	return cur
}
