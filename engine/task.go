package engine

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/exp/slog"
)

const defaultMaxAttempts = 3

type TaskState int

const (
	TaskIdle TaskState = iota
	TaskInProgress
	TaskCompleted
)

func (s TaskState) String() string {
	switch s {
	case TaskIdle:
		return "idle"
	case TaskInProgress:
		return "in-progress"
	case TaskCompleted:
		return "completed"
	}
	return fmt.Sprintf("TaskState(%d)", int(s))
}

type TaskType int

const (
	MapTask TaskType = iota
	ReduceTask
)

func (t TaskType) String() string {
	if t == MapTask {
		return "map"
	}
	return "reduce"
}

// Split is the input of one map task: one file of one input channel.
type Split struct {
	Channel int
	Path    string
	Format  string
}

type TaskMetadata struct {
	StartTime     time.Time
	FailedWorkers map[string]int
	LastWorker    string
	Attempts      int
}

type Task struct {
	Split    Split
	Metadata TaskMetadata
	ID       int
	Type     TaskType
	State    TaskState
}

// TaskTracker hands out the tasks of the current phase and records their
// outcome. Map tasks come first; the reduce phase starts once all of them
// completed.
type TaskTracker struct {
	tasks            map[int]*Task
	mu               sync.RWMutex
	nReduce          int
	nMap             int
	maxAttempts      int
	hasStartedReduce bool
	logger           *slog.Logger
}

func NewTaskTracker(nReduce, maxAttempts int, logger *slog.Logger) *TaskTracker {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskTracker{
		tasks:       make(map[int]*Task),
		nReduce:     nReduce,
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

func (t *TaskTracker) InitMapTasks(splits []Split) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.tasks = make(map[int]*Task)
	t.nMap = len(splits)
	for i, split := range splits {
		t.tasks[i] = &Task{
			ID:    i,
			Type:  MapTask,
			State: TaskIdle,
			Split: split,
			Metadata: TaskMetadata{
				FailedWorkers: make(map[string]int),
			},
		}
	}
}

// AssignTask marks the lowest idle task as in progress and returns a copy of
// it, or nil when nothing is idle right now.
func (t *TaskTracker) AssignTask(workerID string) *Task {
	t.mu.Lock()
	defer t.mu.Unlock()

	for id := 0; id < len(t.tasks); id++ {
		task := t.tasks[id]
		if task.State != TaskIdle {
			continue
		}
		task.State = TaskInProgress
		task.Metadata.StartTime = time.Now()
		task.Metadata.LastWorker = workerID
		task.Metadata.Attempts++
		t.logger.Debug("assigned task", "task", id, "type", task.Type, "worker", workerID, "attempt", task.Metadata.Attempts)
		assigned := *task
		return &assigned
	}
	return nil
}

func (t *TaskTracker) MarkComplete(taskID int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	task, exists := t.tasks[taskID]
	if !exists {
		return fmt.Errorf("task %d not found", taskID)
	}
	task.State = TaskCompleted
	return nil
}

// ReassignFailedTask puts a failed task back to idle, unless it already used
// all of its attempts.
func (t *TaskTracker) ReassignFailedTask(taskID int, workerID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	task, exists := t.tasks[taskID]
	if !exists {
		return fmt.Errorf("task %d not found", taskID)
	}

	task.Metadata.FailedWorkers[workerID]++
	if task.Metadata.Attempts < t.maxAttempts {
		task.State = TaskIdle
		task.Metadata.StartTime = time.Time{}
		task.Metadata.LastWorker = ""
		return nil
	}
	return fmt.Errorf("%s task %d exceeded %d attempts", task.Type, taskID, t.maxAttempts)
}

// PhaseDone reports whether every task of the current phase completed.
func (t *TaskTracker) PhaseDone() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.hasStartedReduce {
		return t.isPhaseDoneNoLock(ReduceTask)
	}
	return t.isPhaseDoneNoLock(MapTask)
}

func (t *TaskTracker) TransitionToReducePhase() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.isPhaseDoneNoLock(MapTask) {
		return fmt.Errorf("map phase not complete")
	}

	t.tasks = make(map[int]*Task)
	for i := 0; i < t.nReduce; i++ {
		t.tasks[i] = &Task{
			ID:    i,
			Type:  ReduceTask,
			State: TaskIdle,
			Metadata: TaskMetadata{
				FailedWorkers: make(map[string]int),
			},
		}
	}
	t.hasStartedReduce = true
	return nil
}

func (t *TaskTracker) NumMapTasks() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.nMap
}

func (t *TaskTracker) isPhaseDoneNoLock(typ TaskType) bool {
	for _, task := range t.tasks {
		if task.Type == typ && task.State != TaskCompleted {
			return false
		}
	}
	return true
}
