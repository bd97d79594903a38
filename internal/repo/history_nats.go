package repo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"alertmanager/internal/config"
)

// NATSHistory persists dedupe occurrences in a JetStream KV bucket, letting
// several service nodes share one dedupe horizon. Values hold the occurrence
// instant as unix milliseconds; KV revisions provide the per-key CAS that
// keeps CheckAndRecord atomic across nodes.
type NATSHistory struct {
	nc *nats.Conn
	kv nats.KeyValue
}

// NewNATSHistory connects to NATS and opens the occurrence bucket.
// Params: KV history settings from config.
// Returns: ready history store or setup error.
func NewNATSHistory(settings config.NATSHistoryConfig) (*NATSHistory, error) {
	nc, err := nats.Connect(strings.Join(settings.URL, ","))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	kv, err := js.KeyValue(settings.Bucket)
	if err != nil {
		if !settings.AllowCreateBucket {
			nc.Close()
			return nil, fmt.Errorf("open history bucket %q: %w", settings.Bucket, err)
		}
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{Bucket: settings.Bucket})
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("create history bucket %q: %w", settings.Bucket, err)
		}
	}

	return &NATSHistory{nc: nc, kv: kv}, nil
}

// GetLastOccurrence reads the last recorded instant for a key/rule pair.
// Params: request context, dedupe key, and rule ID.
// Returns: recorded instant, ErrNotFound, or ErrUnavailable.
func (h *NATSHistory) GetLastOccurrence(_ context.Context, key, ruleID string) (time.Time, error) {
	entry, err := h.kv.Get(historyKVKey(key, ruleID))
	if err != nil {
		if errors.Is(err, nats.ErrKeyNotFound) {
			return time.Time{}, ErrNotFound
		}
		return time.Time{}, fmt.Errorf("%w: get occurrence: %v", ErrUnavailable, err)
	}
	at, err := decodeOccurrence(entry.Value())
	if err != nil {
		return time.Time{}, err
	}
	return at, nil
}

// RecordOccurrence unconditionally stores the occurrence instant.
// Params: request context, dedupe key, rule ID, and instant.
// Returns: ErrUnavailable on transport failure.
func (h *NATSHistory) RecordOccurrence(_ context.Context, key, ruleID string, at time.Time) error {
	if _, err := h.kv.Put(historyKVKey(key, ruleID), encodeOccurrence(at)); err != nil {
		return fmt.Errorf("%w: put occurrence: %v", ErrUnavailable, err)
	}
	return nil
}

// CheckAndRecord tests freshness and records the occurrence in one step.
// Params: request context, dedupe key, rule ID, instant, and rule window.
// Returns: true when fresh. Absent keys use KV Create, existing keys use
// revision-checked Update; a lost race re-reads and retries, so exactly one
// concurrent duplicate wins per key.
func (h *NATSHistory) CheckAndRecord(ctx context.Context, key, ruleID string, at time.Time, window time.Duration) (bool, error) {
	kvKey := historyKVKey(key, ruleID)
	for {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		entry, err := h.kv.Get(kvKey)
		if err != nil {
			if !errors.Is(err, nats.ErrKeyNotFound) {
				return false, fmt.Errorf("%w: get occurrence: %v", ErrUnavailable, err)
			}
			if _, err := h.kv.Create(kvKey, encodeOccurrence(at)); err != nil {
				if errors.Is(err, nats.ErrKeyExists) {
					continue
				}
				return false, fmt.Errorf("%w: create occurrence: %v", ErrUnavailable, err)
			}
			return true, nil
		}

		last, err := decodeOccurrence(entry.Value())
		if err != nil {
			return false, err
		}
		if window > 0 && at.Sub(last) < window {
			return false, nil
		}
		if _, err := h.kv.Update(kvKey, encodeOccurrence(at), entry.Revision()); err != nil {
			if errors.Is(err, nats.ErrKeyExists) || strings.Contains(strings.ToLower(err.Error()), "wrong last sequence") {
				continue
			}
			return false, fmt.Errorf("%w: update occurrence: %v", ErrUnavailable, err)
		}
		return true, nil
	}
}

// Close drains the NATS connection.
// Params: none.
// Returns: nil.
func (h *NATSHistory) Close() error {
	h.nc.Close()
	return nil
}

// historyKVKey builds the bucket key for a dedupe key/rule pair.
// Params: dedupe key and rule ID.
// Returns: KV-safe composite key.
func historyKVKey(key, ruleID string) string {
	return key + "/" + sanitizeKVSegment(ruleID)
}

// sanitizeKVSegment restricts a segment to the KV key alphabet.
// Params: raw segment.
// Returns: segment with unsupported characters replaced by '_'.
func sanitizeKVSegment(value string) string {
	var builder strings.Builder
	builder.Grow(len(value))
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '-', r == '_', r == '=', r == '.':
			builder.WriteRune(r)
		default:
			builder.WriteRune('_')
		}
	}
	if builder.Len() == 0 {
		return "unknown"
	}
	return builder.String()
}

// encodeOccurrence encodes an instant as a unix-millisecond payload.
// Params: occurrence instant.
// Returns: compact numeric payload.
func encodeOccurrence(at time.Time) []byte {
	return strconv.AppendInt(nil, at.UnixMilli(), 10)
}

// decodeOccurrence decodes a unix-millisecond payload.
// Params: KV value bytes.
// Returns: decoded instant or corruption error.
func decodeOccurrence(value []byte) (time.Time, error) {
	ms, err := strconv.ParseInt(string(value), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("decode occurrence %q: %w", value, err)
	}
	return time.UnixMilli(ms).UTC(), nil
}
