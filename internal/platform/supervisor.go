package platform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

type RestartPolicy string

const (
	RestartPermanent RestartPolicy = "permanent"
	RestartTransient RestartPolicy = "transient"
	RestartTemporary RestartPolicy = "temporary"
)

type SupervisorPolicy struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
	// MaxRestarts of 0 restarts without limit.
	MaxRestarts int
}

func DefaultSupervisorPolicy() SupervisorPolicy {
	return SupervisorPolicy{
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		BackoffFactor:  2.0,
	}
}

func normalizeSupervisorPolicy(policy SupervisorPolicy) SupervisorPolicy {
	def := DefaultSupervisorPolicy()
	if policy.InitialBackoff <= 0 {
		policy.InitialBackoff = def.InitialBackoff
	}
	if policy.MaxBackoff <= 0 {
		policy.MaxBackoff = def.MaxBackoff
	}
	if policy.MaxBackoff < policy.InitialBackoff {
		policy.MaxBackoff = policy.InitialBackoff
	}
	if policy.BackoffFactor < 1 {
		policy.BackoffFactor = def.BackoffFactor
	}
	return policy
}

type TaskStatus struct {
	Name            string        `json:"name"`
	Restart         RestartPolicy `json:"restart"`
	Restarts        int           `json:"restarts"`
	LastError       string        `json:"last_error,omitempty"`
	PermanentFailed bool          `json:"permanent_failed"`
	Running         bool          `json:"running"`
}

// Supervisor keeps background engine tasks alive, restarting a failed task
// with exponential backoff until it is stopped.
type Supervisor struct {
	policy SupervisorPolicy
	logger *slog.Logger

	mu       sync.Mutex
	tasks    map[string]*supervisedTask
	finished map[string]TaskStatus
}

type supervisedTask struct {
	cancel  context.CancelFunc
	done    chan struct{}
	restart RestartPolicy

	restarts        int
	lastErr         error
	permanentFailed bool
}

func NewSupervisor(policy SupervisorPolicy, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		policy:   normalizeSupervisorPolicy(policy),
		logger:   logger,
		tasks:    make(map[string]*supervisedTask),
		finished: make(map[string]TaskStatus),
	}
}

func (s *Supervisor) Start(ctx context.Context, name string, restart RestartPolicy, run func(ctx context.Context) error) error {
	if name == "" {
		return errors.New("task name is required")
	}
	if run == nil {
		return errors.New("task runner is required")
	}
	switch restart {
	case RestartPermanent, RestartTransient, RestartTemporary:
	case "":
		restart = RestartPermanent
	default:
		return fmt.Errorf("unsupported restart policy: %s", restart)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[name]; exists {
		return fmt.Errorf("task already running: %s", name)
	}
	delete(s.finished, name)
	taskCtx, cancel := context.WithCancel(ctx)
	task := &supervisedTask{cancel: cancel, done: make(chan struct{}), restart: restart}
	s.tasks[name] = task
	go s.runTask(taskCtx, name, task, run)
	return nil
}

func (s *Supervisor) runTask(ctx context.Context, name string, task *supervisedTask, run func(ctx context.Context) error) {
	defer func() {
		s.mu.Lock()
		if current, ok := s.tasks[name]; ok && current == task {
			if task.permanentFailed || task.restarts > 0 || task.lastErr != nil {
				s.finished[name] = task.status(name, false)
			}
			delete(s.tasks, name)
		}
		s.mu.Unlock()
		close(task.done)
	}()

	backoff := s.policy.InitialBackoff
	for {
		err := run(ctx)
		if ctx.Err() != nil {
			return
		}
		s.mu.Lock()
		task.lastErr = err
		s.mu.Unlock()
		if !shouldRestart(task.restart, err) {
			if err != nil {
				s.logger.Error("background task failed", "task", name, "error", err)
			}
			return
		}

		s.mu.Lock()
		if s.policy.MaxRestarts > 0 && task.restarts >= s.policy.MaxRestarts {
			task.permanentFailed = true
			s.mu.Unlock()
			s.logger.Error("background task exceeded restart budget", "task", name, "restarts", task.restarts, "error", err)
			return
		}
		task.restarts++
		restarts := task.restarts
		s.mu.Unlock()
		s.logger.Warn("restarting background task", "task", name, "restarts", restarts, "backoff", backoff, "error", err)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		backoff = min(time.Duration(float64(backoff)*s.policy.BackoffFactor), s.policy.MaxBackoff)
	}
}

func shouldRestart(policy RestartPolicy, err error) bool {
	switch policy {
	case RestartTransient:
		return err != nil
	case RestartTemporary:
		return false
	default:
		return true
	}
}

func (t *supervisedTask) status(name string, running bool) TaskStatus {
	status := TaskStatus{
		Name:            name,
		Restart:         t.restart,
		Restarts:        t.restarts,
		PermanentFailed: t.permanentFailed,
		Running:         running,
	}
	if t.lastErr != nil {
		status.LastError = t.lastErr.Error()
	}
	return status
}

// Stop cancels a task and waits for it to return.
func (s *Supervisor) Stop(name string) {
	s.mu.Lock()
	task, ok := s.tasks[name]
	delete(s.tasks, name)
	delete(s.finished, name)
	s.mu.Unlock()
	if !ok {
		return
	}
	task.cancel()
	<-task.done
}

func (s *Supervisor) StopAll() {
	s.mu.Lock()
	tasks := make([]*supervisedTask, 0, len(s.tasks))
	for _, task := range s.tasks {
		tasks = append(tasks, task)
	}
	s.tasks = make(map[string]*supervisedTask)
	s.finished = make(map[string]TaskStatus)
	s.mu.Unlock()

	for _, task := range tasks {
		task.cancel()
	}
	for _, task := range tasks {
		<-task.done
	}
}

// Tasks reports running tasks and finished tasks that failed or restarted,
// sorted by name.
func (s *Supervisor) Tasks() []TaskStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]TaskStatus, 0, len(s.tasks)+len(s.finished))
	for name, task := range s.tasks {
		out = append(out, task.status(name, true))
	}
	for name, status := range s.finished {
		if _, running := s.tasks[name]; !running {
			out = append(out, status)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
