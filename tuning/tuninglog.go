package tuning

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
)

// LogEntry is one voice-tuning experiment: the parameters used for a call,
// what the call measured, and how the user rated it.
type LogEntry struct {
	ID        uuid.UUID `json:"id"`
	Timestamp time.Time `json:"timestamp"`

	EnergyThreshold     float64 `json:"energyThreshold"`
	TurnCompleteDelayMs int     `json:"turnCompleteDelayMs"`
	SilenceDurationMs   int     `json:"silenceDurationMs"`
	StartSensitivity    string  `json:"startSensitivity"`
	EndSensitivity      string  `json:"endSensitivity"`

	TotalTurns           int `json:"totalTurns"`
	InterruptCount       int `json:"interruptCount"`
	DroppedAudioCount    int `json:"droppedAudioCount"`
	AvgResponseLatencyMs int `json:"avgResponseLatencyMs"`
	CallDurationSec      int `json:"callDurationSec"`

	Rating int    `json:"rating"`
	Note   string `json:"note"`
}

func NewLogEntry(cfg Config, snap Snapshot, callDuration time.Duration, rating int, note string) LogEntry {
	rating = min(max(rating, 0), 5)
	return LogEntry{
		ID:                   uuid.New(),
		Timestamp:            time.Now(),
		EnergyThreshold:      cfg.EchoThreshold,
		TurnCompleteDelayMs:  int(cfg.TurnCompleteDelayMs),
		SilenceDurationMs:    int(cfg.SilenceDurationMs),
		StartSensitivity:     string(cfg.StartSensitivity),
		EndSensitivity:       string(cfg.EndSensitivity),
		TotalTurns:           int(snap.TurnCount),
		InterruptCount:       int(snap.InterruptCount),
		DroppedAudioCount:    int(snap.DroppedAudioCount),
		AvgResponseLatencyMs: int(snap.AvgResponseLatencyMs),
		CallDurationSec:      int(callDuration / time.Second),
		Rating:               rating,
		Note:                 note,
	}
}

// AppendLog writes e as one JSON line at the end of path.
func AppendLog(path string, e LogEntry) error {
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding tuning log: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("opening tuning log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("writing tuning log: %w", err)
	}
	return nil
}

// LoadLogs returns all entries in file order. Lines that fail to parse are
// skipped; a missing file is an empty log.
func LoadLogs(path string) ([]LogEntry, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening tuning log: %w", err)
	}
	defer f.Close()

	var entries []LogEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var e LogEntry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return entries, fmt.Errorf("reading tuning log: %w", err)
	}
	return entries, nil
}
