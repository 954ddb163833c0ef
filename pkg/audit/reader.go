package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Query filters the decision trail.
type Query struct {
	StartTime time.Time
	EndTime   time.Time
	Actions   []Action
	EdgeID    string
	EventID   string // matches source or target
	ActorID   string
	Limit     int
	Offset    int
}

// QueryResult holds filtered trail entries.
type QueryResult struct {
	Entries    []EdgeLog
	TotalCount int
	HasMore    bool
}

// Reader provides read access to a JSONL decision log.
type Reader struct {
	path string
}

// NewReader creates a reader over the log at path.
func NewReader(path string) *Reader {
	return &Reader{path: path}
}

// Query scans the log and returns entries matching q, in file order.
// A missing log file yields an empty result, not an error. Malformed
// lines are skipped.
func (r *Reader) Query(q Query) (*QueryResult, error) {
	file, err := os.Open(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &QueryResult{Entries: []EdgeLog{}}, nil
		}
		return nil, fmt.Errorf("opening audit log: %w", err)
	}
	defer file.Close()

	var entries []EdgeLog
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		var entry EdgeLog
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}

		if !q.StartTime.IsZero() && entry.Timestamp.Before(q.StartTime) {
			continue
		}
		if !q.EndTime.IsZero() && entry.Timestamp.After(q.EndTime) {
			continue
		}
		if len(q.Actions) > 0 && !containsAction(q.Actions, entry.Action) {
			continue
		}
		if q.EdgeID != "" && entry.EdgeID != q.EdgeID {
			continue
		}
		if q.EventID != "" && entry.SourceEventID != q.EventID && entry.TargetEventID != q.EventID {
			continue
		}
		if q.ActorID != "" && entry.ActorAgentID != q.ActorID {
			continue
		}

		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning audit log: %w", err)
	}

	total := len(entries)
	if q.Offset > 0 {
		if q.Offset >= len(entries) {
			entries = nil
		} else {
			entries = entries[q.Offset:]
		}
	}
	if q.Limit > 0 && len(entries) > q.Limit {
		entries = entries[:q.Limit]
	}

	return &QueryResult{
		Entries:    entries,
		TotalCount: total,
		HasMore:    q.Offset+len(entries) < total,
	}, nil
}

// GetEdgeHistory returns every entry mentioning an edge, oldest first.
func (r *Reader) GetEdgeHistory(edgeID string) (*QueryResult, error) {
	return r.Query(Query{EdgeID: edgeID})
}

// GetAgentActivity returns all decisions attributed to an agent in a
// time range.
func (r *Reader) GetAgentActivity(agentID string, start, end time.Time) (*QueryResult, error) {
	return r.Query(Query{
		ActorID:   agentID,
		StartTime: start,
		EndTime:   end,
	})
}

// VerifyChain walks the full log and checks every entry's PrevHash
// against the digest of the preceding line. It returns the number of
// entries verified, or an error naming the first entry where the chain
// breaks.
func (r *Reader) VerifyChain() (int, error) {
	file, err := os.Open(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("opening audit log: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var prevHash string
	count := 0
	for scanner.Scan() {
		line := scanner.Bytes()
		var entry EdgeLog
		if err := json.Unmarshal(line, &entry); err != nil {
			return count, fmt.Errorf("entry %d: malformed: %w", count+1, err)
		}
		if entry.PrevHash != prevHash {
			return count, fmt.Errorf("entry %d (%s): chain broken: prevHash %q, want %q",
				count+1, entry.ID, entry.PrevHash, prevHash)
		}
		prevHash = hashLine(line)
		count++
	}
	if err := scanner.Err(); err != nil {
		return count, fmt.Errorf("scanning audit log: %w", err)
	}
	return count, nil
}

func containsAction(actions []Action, a Action) bool {
	for _, action := range actions {
		if action == a {
			return true
		}
	}
	return false
}

// DecisionReport summarizes gating activity over a time period.
type DecisionReport struct {
	Period         string         `json:"period"`
	StartTime      time.Time      `json:"startTime"`
	EndTime        time.Time      `json:"endTime"`
	TotalDecisions int            `json:"totalDecisions"`
	ByAction       map[Action]int `json:"byAction"`
	EdgesCreated   int            `json:"edgesCreated"`
	Rejections     int            `json:"rejections"`
	AcceptRate     float64        `json:"acceptRate"`
	MeanConfidence float64        `json:"meanConfidence"`
	UniqueAgents   int            `json:"uniqueAgents"`
	GeneratedAt    time.Time      `json:"generatedAt"`
}

// GenerateDecisionReport aggregates the trail for a period: how many
// evaluations ran, how many linked, and the mean confidence across all
// decisions.
func (r *Reader) GenerateDecisionReport(start, end time.Time, periodName string) (*DecisionReport, error) {
	result, err := r.Query(Query{StartTime: start, EndTime: end})
	if err != nil {
		return nil, err
	}

	report := &DecisionReport{
		Period:         periodName,
		StartTime:      start,
		EndTime:        end,
		TotalDecisions: result.TotalCount,
		ByAction:       make(map[Action]int),
		GeneratedAt:    time.Now().UTC(),
	}

	uniqueAgents := make(map[string]bool)
	var confidenceSum float64

	for _, entry := range result.Entries {
		report.ByAction[entry.Action]++
		confidenceSum += entry.Confidence

		if entry.ActorAgentID != "" {
			uniqueAgents[entry.ActorAgentID] = true
		}

		switch entry.Action {
		case ActionCreated:
			report.EdgesCreated++
		case ActionRejected:
			report.Rejections++
		}
	}

	if report.TotalDecisions > 0 {
		report.AcceptRate = float64(report.EdgesCreated) / float64(report.TotalDecisions)
		report.MeanConfidence = confidenceSum / float64(report.TotalDecisions)
	}
	report.UniqueAgents = len(uniqueAgents)

	return report, nil
}
