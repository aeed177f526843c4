package workflow

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/KaramelBytes/dataloom-cli/internal/utils"
)

var (
	ErrCheckpointNotFound = errors.New("workflow: checkpoint not found")
	ErrCheckpointCorrupt  = errors.New("workflow: checkpoint corrupt")
)

// CheckpointVersion is written into every checkpoint envelope.
const CheckpointVersion = "1"

type checkpointEnvelope struct {
	Version   string          `json:"version"`
	SessionID string          `json:"session_id"`
	Stage     Stage           `json:"stage"`
	Timestamp time.Time       `json:"timestamp"`
	Checksum  string          `json:"checksum"`
	State     json.RawMessage `json:"state"`
}

// CheckpointInfo describes a checkpoint file without loading its state.
type CheckpointInfo struct {
	Path      string    `json:"path"`
	SessionID string    `json:"session_id"`
	Stage     Stage     `json:"stage"`
	SavedAt   time.Time `json:"saved_at"`
}

// CheckpointPath returns the file a stage's checkpoint is written to.
func CheckpointPath(dir, session string, st Stage) string {
	return filepath.Join(dir, fmt.Sprintf("%s_stage%d.json", session, st.Number()))
}

func checksum(compact []byte) string {
	sum := sha256.Sum256(compact)
	return hex.EncodeToString(sum[:])
}

// SaveCheckpoint writes the whole state to path atomically.
func SaveCheckpoint(st *State, path string) error {
	if st == nil {
		return errors.New("workflow: nil state")
	}
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	env := checkpointEnvelope{
		Version:   CheckpointVersion,
		SessionID: st.SessionID,
		Stage:     st.CurrentStage,
		Timestamp: time.Now().UTC(),
		Checksum:  checksum(raw),
		State:     raw,
	}
	data, err := utils.PrettyJSON(env)
	if err != nil {
		return err
	}
	if err := utils.SafeWriteFile(path, data); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return nil
}

func readEnvelope(path string) (*checkpointEnvelope, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s: %w", ErrCheckpointNotFound, path, err)
		}
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	var env checkpointEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCheckpointCorrupt, path, err)
	}
	if env.Version != CheckpointVersion {
		return nil, fmt.Errorf("%w: %s: unsupported version %q", ErrCheckpointCorrupt, path, env.Version)
	}
	return &env, nil
}

// LoadCheckpoint reads a checkpoint written by SaveCheckpoint and verifies its checksum.
func LoadCheckpoint(path string) (*State, error) {
	env, err := readEnvelope(path)
	if err != nil {
		return nil, err
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, env.State); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCheckpointCorrupt, path, err)
	}
	if checksum(compact.Bytes()) != env.Checksum {
		return nil, fmt.Errorf("%w: %s: checksum mismatch", ErrCheckpointCorrupt, path)
	}
	var st State
	if err := json.Unmarshal(compact.Bytes(), &st); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCheckpointCorrupt, path, err)
	}
	if st.CompletedStages == nil {
		st.CompletedStages = map[Stage]*StageResult{}
	}
	st.syncApproved()
	return &st, nil
}

// ListCheckpoints returns the checkpoints in dir ordered by session then stage.
// Unreadable files are skipped.
func ListCheckpoints(dir string) ([]CheckpointInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read checkpoint dir: %w", err)
	}
	var out []CheckpointInfo
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") || !strings.Contains(name, "_stage") {
			continue
		}
		path := filepath.Join(dir, name)
		env, err := readEnvelope(path)
		if err != nil {
			continue
		}
		out = append(out, CheckpointInfo{Path: path, SessionID: env.SessionID, Stage: env.Stage, SavedAt: env.Timestamp})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SessionID == out[j].SessionID {
			return out[i].Stage < out[j].Stage
		}
		return out[i].SessionID < out[j].SessionID
	})
	return out, nil
}

// LatestCheckpoint returns the highest-stage checkpoint of session in dir.
func LatestCheckpoint(dir, session string) (CheckpointInfo, error) {
	list, err := ListCheckpoints(dir)
	if err != nil {
		return CheckpointInfo{}, err
	}
	var best *CheckpointInfo
	for i := range list {
		if list[i].SessionID == session && (best == nil || list[i].Stage > best.Stage) {
			best = &list[i]
		}
	}
	if best == nil {
		return CheckpointInfo{}, fmt.Errorf("%w: session %s in %s", ErrCheckpointNotFound, session, dir)
	}
	return *best, nil
}
