package scheduler

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/google/uuid"
)

var (
	// ErrTaskNotFound is returned when deleting an unknown task ID.
	ErrTaskNotFound = errors.New("scheduler: task not found")

	// ErrInvalidTask is returned when a task fails validation.
	ErrInvalidTask = errors.New("scheduler: invalid task")
)

// timePattern matches the task time field, 24h "HH:MM".
var timePattern = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)

// validDays is the accepted day vocabulary. "once" marks a one-shot task.
var validDays = map[string]bool{
	"mon": true, "tue": true, "wed": true, "thu": true,
	"fri": true, "sat": true, "sun": true, "once": true,
}

// TaskAction describes what a task does when it fires.
type TaskAction struct {
	// Type is "device" (switch a relay) or "script" (run a scenario).
	Type string `json:"type"`

	// Device is the device reference for type "device".
	Device string `json:"device,omitempty"`

	// State is the desired device state ("on", "off", "включи", "1", ...).
	State string `json:"state,omitempty"`

	// Script is the scenario name for type "script".
	Script string `json:"script,omitempty"`
}

// Task is one schedule entry.
type Task struct {
	ID          string     `json:"id"`
	Enabled     bool       `json:"enabled"`
	Description string     `json:"description,omitempty"`
	Time        string     `json:"time"` // "HH:MM"
	Days        []string   `json:"days"` // mon..sun, or once
	Action      TaskAction `json:"action"`
}

// Once reports whether the task is one-shot.
func (t Task) Once() bool {
	for _, d := range t.Days {
		if d == "once" {
			return true
		}
	}
	return false
}

// matchesDay reports whether the task should fire on the given weekday
// abbreviation ("mon".."sun"). One-shot tasks match any day.
func (t Task) matchesDay(day string) bool {
	for _, d := range t.Days {
		if d == day || d == "once" {
			return true
		}
	}
	return false
}

// validate checks a task before it enters the schedule file.
func (t Task) validate() error {
	if !timePattern.MatchString(t.Time) {
		return fmt.Errorf("%w: time %q (want HH:MM)", ErrInvalidTask, t.Time)
	}
	if len(t.Days) == 0 {
		return fmt.Errorf("%w: no days", ErrInvalidTask)
	}
	for _, d := range t.Days {
		if !validDays[d] {
			return fmt.Errorf("%w: unknown day %q", ErrInvalidTask, d)
		}
	}

	switch t.Action.Type {
	case "device":
		if t.Action.Device == "" || t.Action.State == "" {
			return fmt.Errorf("%w: device action needs device and state", ErrInvalidTask)
		}
	case "script":
		if t.Action.Script == "" {
			return fmt.Errorf("%w: script action needs a script name", ErrInvalidTask)
		}
	default:
		return fmt.Errorf("%w: action type %q", ErrInvalidTask, t.Action.Type)
	}
	return nil
}

// Store is the file-backed schedule. All mutations rewrite the whole file
// atomically (temp file + rename) under one mutex; schedules are tens of
// entries, not thousands.
type Store struct {
	mu   sync.Mutex
	path string
}

// NewStore creates a store for the given schedule file. A missing file is
// an empty schedule, matching first-run behaviour.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// List returns all tasks in file order.
func (s *Store) List() ([]Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// Add validates the task, assigns an ID when missing and appends it.
func (s *Store) Add(task Task) (Task, error) {
	if err := task.validate(); err != nil {
		return Task{}, err
	}
	if task.ID == "" {
		task.ID = "task-" + uuid.NewString()[:8]
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tasks, err := s.load()
	if err != nil {
		return Task{}, err
	}
	for _, t := range tasks {
		if t.ID == task.ID {
			return Task{}, fmt.Errorf("%w: duplicate id %q", ErrInvalidTask, task.ID)
		}
	}

	tasks = append(tasks, task)
	if err := s.save(tasks); err != nil {
		return Task{}, err
	}
	return task, nil
}

// Delete removes the task with the given ID.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks, err := s.load()
	if err != nil {
		return err
	}

	kept := tasks[:0]
	found := false
	for _, t := range tasks {
		if t.ID == id {
			found = true
			continue
		}
		kept = append(kept, t)
	}
	if !found {
		return ErrTaskNotFound
	}
	return s.save(kept)
}

// DeleteAll empties the schedule and returns how many tasks went away.
func (s *Store) DeleteAll() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks, err := s.load()
	if err != nil {
		return 0, err
	}
	if err := s.save([]Task{}); err != nil {
		return 0, err
	}
	return len(tasks), nil
}

// load reads the schedule file. Caller holds the mutex.
func (s *Store) load() ([]Task, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []Task{}, nil
		}
		return nil, fmt.Errorf("reading schedule: %w", err)
	}

	var tasks []Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		return nil, fmt.Errorf("parsing schedule: %w", err)
	}
	return tasks, nil
}

// save writes the schedule atomically. Caller holds the mutex.
func (s *Store) save(tasks []Task) error {
	data, err := json.MarshalIndent(tasks, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding schedule: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".schedule-*.json")
	if err != nil {
		return fmt.Errorf("creating temp schedule: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing schedule: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp schedule: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing schedule: %w", err)
	}
	return nil
}
