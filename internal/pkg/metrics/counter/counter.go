package counter

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

const stageCountersKey = "fulfillment:counters"

// Outcomes recorded per pipeline stage.
const (
	OutcomeOK      = "ok"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
)

// Stages counts pipeline stage outcomes in a single Redis hash, field
// "<stage>:<outcome>". A nil *Stages is a no-op.
type Stages struct {
	client *redis.Client
}

func NewStages(client *redis.Client) *Stages {
	if client == nil {
		return nil
	}
	return &Stages{client: client}
}

// Add increments the counter for stage and outcome.
func (s *Stages) Add(ctx context.Context, stage, outcome string) error {
	if s == nil {
		return nil
	}
	return s.client.HIncrBy(ctx, stageCountersKey, stage+":"+outcome, 1).Err()
}

// StageCount is one row of a snapshot.
type StageCount struct {
	Stage   string `json:"stage"`
	Outcome string `json:"outcome"`
	Count   int64  `json:"count"`
}

// Snapshot returns all counters sorted by stage and outcome.
func (s *Stages) Snapshot(ctx context.Context) ([]StageCount, error) {
	if s == nil {
		return nil, nil
	}
	data, err := s.client.HGetAll(ctx, stageCountersKey).Result()
	if err != nil {
		return nil, err
	}

	out := make([]StageCount, 0, len(data))
	for field, v := range data {
		stage, outcome, ok := strings.Cut(field, ":")
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, StageCount{Stage: stage, Outcome: outcome, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Stage != out[j].Stage {
			return out[i].Stage < out[j].Stage
		}
		return out[i].Outcome < out[j].Outcome
	})
	return out, nil
}
