package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/albench/aggregate"
)

// BucketRuns is the KV bucket holding archived run summaries.
const BucketRuns = "ALBENCH_RUNS"

// RunRecord is one archived run summary.
type RunRecord struct {
	ID         string             `json:"id"`
	Label      string             `json:"label"`
	ResultFile string             `json:"resultFile,omitempty"`
	Summary    *aggregate.Summary `json:"summary"`
	CreatedAt  time.Time          `json:"created_at"`
}

// Archive keeps run summaries in NATS KV so historical runs are queryable
// without walking the results directory.
type Archive struct {
	runs jetstream.KeyValue
}

// NewArchive creates an archive, creating the KV bucket if needed.
func NewArchive(ctx context.Context, js jetstream.JetStream) (*Archive, error) {
	runs, err := getOrCreateBucket(ctx, js, BucketRuns)
	if err != nil {
		return nil, fmt.Errorf("create runs bucket: %w", err)
	}
	return &Archive{runs: runs}, nil
}

func getOrCreateBucket(ctx context.Context, js jetstream.JetStream, name string) (jetstream.KeyValue, error) {
	kv, err := js.KeyValue(ctx, name)
	if err == nil {
		return kv, nil
	}
	return js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      name,
		Description: "albench run archive",
		History:     5,
	})
}

// Put archives one run record, assigning its ID and timestamp.
func (a *Archive) Put(ctx context.Context, r *RunRecord) (string, error) {
	r.ID = uuid.NewString()
	r.CreatedAt = time.Now()

	data, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("marshal run record: %w", err)
	}
	if _, err := a.runs.Create(ctx, r.ID, data); err != nil {
		return "", fmt.Errorf("archive run: %w", err)
	}
	return r.ID, nil
}

// Get retrieves an archived run by ID.
func (a *Archive) Get(ctx context.Context, id string) (*RunRecord, error) {
	entry, err := a.runs.Get(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get run record: %w", err)
	}

	var r RunRecord
	if err := json.Unmarshal(entry.Value(), &r); err != nil {
		return nil, fmt.Errorf("unmarshal run record: %w", err)
	}
	return &r, nil
}

// List returns all archived runs for a label; an empty label matches all.
func (a *Archive) List(ctx context.Context, label string) ([]*RunRecord, error) {
	keys, err := a.runs.Keys(ctx)
	if err != nil {
		if err == jetstream.ErrNoKeysFound {
			return nil, nil
		}
		return nil, fmt.Errorf("list run keys: %w", err)
	}

	records := make([]*RunRecord, 0, len(keys))
	for _, key := range keys {
		entry, err := a.runs.Get(ctx, key)
		if err != nil {
			continue
		}
		var r RunRecord
		if err := json.Unmarshal(entry.Value(), &r); err != nil {
			continue
		}
		if label != "" && r.Label != label {
			continue
		}
		records = append(records, &r)
	}
	return records, nil
}

func isNotFound(err error) bool {
	return err != nil && strings.Contains(err.Error(), "key not found")
}
