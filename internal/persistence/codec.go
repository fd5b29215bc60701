package persistence

import (
	"encoding/json"

	"github.com/okarv/stagehand/pkg/api"
)

// Stage results are stored as one JSON blob per instance. The map is
// small by construction (status line + summary per stage), so a single
// column round-trip is cheaper than a child table.

func encodeStageResults(results map[int]api.StageResult) ([]byte, error) {
	if len(results) == 0 {
		return nil, nil
	}
	return json.Marshal(results)
}

func decodeStageResults(data []byte) (map[int]api.StageResult, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var results map[int]api.StageResult
	if err := json.Unmarshal(data, &results); err != nil {
		return nil, err
	}
	return results, nil
}
