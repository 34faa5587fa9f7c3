package filestate

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

// FileProcessState maps a tracked file to the byte offset already consumed.
type FileProcessState map[string]int64

type Manager interface {
	LoadState() (FileProcessState, error)
	SaveState(state FileProcessState) error
	GetStateFilePath() string
}

type fileStateManager struct {
	fs       afero.Fs
	filePath string
	mu       sync.RWMutex
}

func NewManager(fs afero.Fs, filePath string) Manager {
	return &fileStateManager{
		fs:       fs,
		filePath: filePath,
	}
}

func (m *fileStateManager) LoadState() (FileProcessState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, err := afero.ReadFile(m.fs, m.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn().Str("file", m.filePath).Msg("State file not found, starting fresh.")
			return make(FileProcessState), nil
		}
		log.Error().Err(err).Str("file", m.filePath).Msg("Failed to read state file")
		return nil, err
	}

	if len(data) == 0 {
		log.Warn().Str("file", m.filePath).Msg("State file is empty, starting fresh.")
		return make(FileProcessState), nil
	}
	var state FileProcessState
	if err := json.Unmarshal(data, &state); err != nil {
		log.Error().Err(err).Str("file", m.filePath).Msg("Failed to unmarshal state file")
		return nil, err
	}
	if state == nil {
		state = make(FileProcessState)
	}

	log.Debug().Str("file", m.filePath).Int("files_tracked", len(state)).Msg("Loaded file state")
	return state, nil
}

func (m *fileStateManager) SaveState(state FileProcessState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal state")
		return err
	}

	if err := m.fs.MkdirAll(filepath.Dir(m.filePath), 0755); err != nil {
		log.Error().Err(err).Str("file", m.filePath).Msg("Failed to create state directory")
		return err
	}
	tempFilePath := m.filePath + ".tmp"
	if err := afero.WriteFile(m.fs, tempFilePath, data, 0644); err != nil {
		log.Error().Err(err).Str("file", tempFilePath).Msg("Failed to write temporary state file")
		return err
	}

	if err := m.fs.Rename(tempFilePath, m.filePath); err != nil {
		log.Error().Err(err).Str("from", tempFilePath).Str("to", m.filePath).Msg("Failed to rename state file")
		_ = m.fs.Remove(tempFilePath)
		return err
	}
	log.Debug().Str("file", m.filePath).Int("files_tracked", len(state)).Msg("Saved file state")
	return nil
}

func (m *fileStateManager) GetStateFilePath() string {
	return m.filePath
}
