package kernel

import (
	"encoding/json"
	"sort"
)

func sortStrings(s []string) { sort.Strings(s) }

func toJSON(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}

func fromJSON(s string, v interface{}) error {
	if s == "" {
		return nil
	}
	return json.Unmarshal([]byte(s), v)
}

// waitingScore combines priority and put-time into a single sortable
// key so that higher priority strictly dominates, and equal-priority
// jobs tie-break on put time then insertion order (spec §9 "Sorting
// keys encoded as combined scores", open question #4). The insertion
// term is seq*1e-9, which float64 only resolves while the score stays
// small: at Unix-timestamp put times, or at any nonzero priority, it
// rounds away, so equal-priority jobs put at the same `now` can get
// equal scores and are then ordered by jid.
func waitingScore(priority int, putTime float64, seq uint64) float64 {
	const priorityWeight = 1e13
	return float64(-priority)*priorityWeight + putTime + float64(seq)*1e-9
}
