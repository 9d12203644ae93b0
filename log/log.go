package log

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	diagLog        zerolog.Logger
	diagFile       *os.File
	transcriptFile *os.File
	logMu          sync.Mutex
	logReady       bool
	pid            int
	dir            string
)

// TurnStats is the per-turn summary written when a model turn completes.
type TurnStats struct {
	Turn           uint64
	LatencyMs      int64
	AvgLatencyMs   int64
	Interrupts     uint64
	DroppedChunks  uint64
	InputChars     int
	OutputChars    int
	AudioChunksOut int
}

func ResolveDir(flagPath string) (string, error) {
	// Priority 1: -logpath flag
	if flagPath != "" {
		return absPath(flagPath)
	}

	// Priority 2: WARMCALL_LOG_PATH environment variable
	if envPath := os.Getenv("WARMCALL_LOG_PATH"); envPath != "" {
		return absPath(envPath)
	}

	// Priority 3: Default OS-specific location
	return getDefaultDir()
}

func absPath(p string) (string, error) {
	if filepath.IsAbs(p) {
		return p, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, p), nil
}

func SetDir(d string) {
	dir = d
}

func Dir() string {
	return dir
}

func EnsureDir() error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	return nil
}

func Init() error {
	logMu.Lock()
	defer logMu.Unlock()

	if err := EnsureDir(); err != nil {
		return err
	}

	pid = os.Getpid()

	var err error

	diagPath := filepath.Join(dir, "diagnostics_log.txt")
	diagFile, err = os.OpenFile(diagPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	transcriptPath := filepath.Join(dir, "transcript_log.txt")
	transcriptFile, err = os.OpenFile(transcriptPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		diagFile.Close()
		return err
	}

	consoleWriter := zerolog.ConsoleWriter{
		Out:        diagFile,
		TimeFormat: "2006-01-02 15:04:05",
		NoColor:    true,
	}
	diagLog = zerolog.New(consoleWriter).With().Timestamp().Int("pid", pid).Logger()

	logReady = true
	return nil
}

func Close() {
	logMu.Lock()
	defer logMu.Unlock()
	logReady = false
	if diagFile != nil {
		diagFile.Close()
		diagFile = nil
	}
	if transcriptFile != nil {
		transcriptFile.Close()
		transcriptFile = nil
	}
}

// SetLevel filters the diagnostics log; debug lines are dropped by default.
func SetLevel(l zerolog.Level) {
	zerolog.SetGlobalLevel(l)
}

func init() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

func Info(msg string) {
	if logReady {
		diagLog.Info().Msg(msg)
	}
}

func Infof(format string, args ...any) {
	if logReady {
		diagLog.Info().Msg(fmt.Sprintf(format, args...))
	}
}

func Debugf(format string, args ...any) {
	if logReady {
		diagLog.Debug().Msg(fmt.Sprintf(format, args...))
	}
}

func Error(msg string) {
	if logReady {
		diagLog.Error().Msg(msg)
	}
}

func Errorf(format string, args ...any) {
	if logReady {
		diagLog.Error().Msg(fmt.Sprintf(format, args...))
	}
}

func Warn(msg string) {
	if logReady {
		diagLog.Warn().Msg(msg)
	}
}

func Warnf(format string, args ...any) {
	if logReady {
		diagLog.Warn().Msg(fmt.Sprintf(format, args...))
	}
}

func SessionStart(model, voice, language string, reconfigured bool) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("model", model).
		Str("voice", voice).
		Str("lang", language).
		Bool("custom_vad", reconfigured).
		Msg("session_start")
}

func StateChange(from, to string, attempt int) {
	if !logReady {
		return
	}
	ev := diagLog.Info().
		Str("from", from).
		Str("to", to)
	if attempt > 0 {
		ev = ev.Int("attempt", attempt)
	}
	ev.Msg("state")
}

func TurnMetrics(s TurnStats) {
	if !logReady {
		return
	}
	diagLog.Info().
		Uint64("turn", s.Turn).
		Int64("latency_ms", s.LatencyMs).
		Int64("avg_latency_ms", s.AvgLatencyMs).
		Uint64("interrupts", s.Interrupts).
		Uint64("dropped", s.DroppedChunks).
		Int("in_chars", s.InputChars).
		Int("out_chars", s.OutputChars).
		Int("audio_chunks", s.AudioChunksOut).
		Msg("turn_complete")
}

// TurnText appends one completed exchange to the transcript log.
func TurnText(input, output string) {
	if !logReady {
		return
	}
	logMu.Lock()
	defer logMu.Unlock()
	if transcriptFile == nil {
		return
	}
	ts := time.Now().Format("2006-01-02 15:04:05")
	if input != "" {
		fmt.Fprintf(transcriptFile, "%s\t[%d]\tuser\t%s\n", ts, pid, input)
	}
	if output != "" {
		fmt.Fprintf(transcriptFile, "%s\t[%d]\tmodel\t%s\n", ts, pid, output)
	}
}

func SessionEnd(turns uint64, duration time.Duration) {
	if !logReady {
		return
	}
	diagLog.Info().
		Uint64("turns", turns).
		Float64("duration_s", duration.Seconds()).
		Msg("session_end")
}
