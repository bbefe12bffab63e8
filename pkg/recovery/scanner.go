// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package recovery

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/fleettools/squawk/pkg/eventstore"
	"github.com/fleettools/squawk/pkg/mission"
)

// StaleScan enumerates in_progress missions whose latest event is older
// than threshold and which have an unconsumed checkpoint, emitting a
// context_compacted event for each and returning them as candidates.
func (s *Service) StaleScan(ctx context.Context, threshold time.Duration) ([]StaleCandidate, error) {
	missions, _, err := s.missions.Store().ListMissions(ctx, mission.StatusInProgress, "", 0, 0)
	if err != nil {
		return nil, err
	}

	now := s.clock()
	var candidates []StaleCandidate
	for _, m := range missions {
		latest, err := s.events.LatestInStream(ctx, "mission", m.ID)
		if errors.Is(err, eventstore.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if now.Sub(latest.OccurredAt) <= threshold {
			continue
		}

		cp, err := s.checkpoints.GetLatest(ctx, m.ID)
		if err != nil {
			continue // no checkpoint to recover from; not a candidate
		}
		if cp.ConsumedAt != nil {
			continue
		}

		if err := s.emitContextCompacted(ctx, m.ID, latest.OccurredAt, now); err != nil {
			return nil, err
		}
		candidates = append(candidates, StaleCandidate{MissionID: m.ID, CheckpointID: cp.ID, LastEventAt: latest.OccurredAt})
	}
	return candidates, nil
}

func (s *Service) emitContextCompacted(ctx context.Context, missionID string, lastEventAt, now time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	payload, _ := json.Marshal(map[string]interface{}{
		"mission_id": missionID, "last_event_at": lastEventAt, "detected_at": now,
	})
	if _, err := s.events.Append(ctx, tx, eventstore.AppendInput{
		StreamType: "mission", StreamID: missionID, EventType: "context_compacted", Data: payload, OccurredAt: now,
	}); err != nil {
		return err
	}
	return tx.Commit()
}
