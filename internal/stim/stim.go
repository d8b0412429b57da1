// Package stim assigns stimulation conditions across runs and drives the
// device operator interface: JSON command files the stimulator software
// watches for, one file per command.
package stim

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Condition is a run's stimulation condition.
type Condition string

const (
	Baseline Condition = "baseline"
	Active   Condition = "active"
	Sham     Condition = "sham"
)

// ConditionFor returns the counterbalanced condition for a (subject, run)
// pair on the 8-run protocol. Even-numbered subjects get active stimulation
// on runs 2-3 and sham on runs 6-7; odd-numbered subjects get the inverse.
// All other runs are baseline. Non-numeric subject IDs count as even.
func ConditionFor(subjectID string, run int) Condition {
	n, err := strconv.Atoi(subjectID)
	if err != nil {
		n = 0
	}
	even := n%2 == 0
	switch run {
	case 2, 3:
		if even {
			return Active
		}
		return Sham
	case 6, 7:
		if even {
			return Sham
		}
		return Active
	}
	return Baseline
}

// Protocols maps conditions to the protocol names configured in the
// stimulator software.
type Protocols struct {
	Active string
	Sham   string
}

// ErrNoProtocol is returned when a stimulation command is issued before a
// protocol has been loaded, or for a baseline condition.
var ErrNoProtocol = errors.New("stim: no protocol loaded")

// command is the on-disk shape of one command file.
type command struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Timestamp string         `json:"timestamp"`
	Data      map[string]any `json:"data"`
	Status    string         `json:"status"`
}

// Manager writes command files into a directory watched by the device
// operator. It never talks to the stimulator directly.
type Manager struct {
	dir       string
	protocols Protocols

	mu       sync.Mutex
	protocol string
	active   bool
}

// NewManager prepares the command directory tree (commands, status, logs).
func NewManager(dir string, protocols Protocols) (*Manager, error) {
	for _, sub := range []string{"commands", "status", "logs"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0700); err != nil {
			return nil, fmt.Errorf("stim: create command dir: %w", err)
		}
	}
	return &Manager{dir: dir, protocols: protocols}, nil
}

// MarkersPath is the event log the operator-side tooling tails.
func (m *Manager) MarkersPath() string {
	return filepath.Join(m.dir, "logs", "markers.jsonl")
}

// LoadProtocol issues a load_protocol command for the condition's protocol.
// Baseline runs have no protocol and return ErrNoProtocol.
func (m *Manager) LoadProtocol(cond Condition) error {
	var name string
	switch cond {
	case Active:
		name = m.protocols.Active
	case Sham:
		name = m.protocols.Sham
	default:
		return fmt.Errorf("%w: condition %q", ErrNoProtocol, cond)
	}
	err := m.write("load_protocol", map[string]any{
		"protocol_name": name,
		"protocol_type": string(cond),
		"instruction":   fmt.Sprintf("load protocol %q in the stimulator software", name),
	})
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.protocol = name
	m.mu.Unlock()
	log.Printf("[stim] load protocol %q (%s)", name, cond)
	return nil
}

// StartStimulation issues a start_stimulation command for the loaded
// protocol.
func (m *Manager) StartStimulation() error {
	m.mu.Lock()
	name := m.protocol
	m.mu.Unlock()
	if name == "" {
		return ErrNoProtocol
	}
	err := m.write("start_stimulation", map[string]any{
		"protocol_name": name,
		"instruction":   fmt.Sprintf("start protocol %q in the stimulator software", name),
	})
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.active = true
	m.mu.Unlock()
	log.Printf("[stim] start stimulation %q", name)
	return nil
}

// StopStimulation issues a stop_stimulation command. A no-op when no
// stimulation is active.
func (m *Manager) StopStimulation() error {
	m.mu.Lock()
	name, active := m.protocol, m.active
	m.mu.Unlock()
	if !active {
		return nil
	}
	err := m.write("stop_stimulation", map[string]any{
		"protocol_name": name,
		"instruction":   "stop the current stimulation if still running",
	})
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.active = false
	m.mu.Unlock()
	log.Printf("[stim] stop stimulation %q", name)
	return nil
}

// Active reports whether a start has been issued without a matching stop.
func (m *Manager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

func (m *Manager) write(cmdType string, data map[string]any) error {
	now := time.Now()
	stamp := strings.Replace(now.Format("20060102_150405.000"), ".", "_", 1)
	path := filepath.Join(m.dir, "commands", fmt.Sprintf("%s_%s.json", stamp, cmdType))

	cmd := command{
		ID:        uuid.New().String(),
		Type:      cmdType,
		Timestamp: now.Format(time.RFC3339Nano),
		Data:      data,
		Status:    "pending",
	}
	body, err := json.MarshalIndent(cmd, "", "  ")
	if err != nil {
		return fmt.Errorf("stim: encode %s: %w", cmdType, err)
	}
	if err := os.WriteFile(path, body, 0600); err != nil {
		return fmt.Errorf("stim: write %s: %w", cmdType, err)
	}
	return nil
}
