//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly
// +build linux darwin freebsd netbsd openbsd dragonfly

// File: loop/task_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package loop

import (
	"errors"
	"testing"

	"github.com/momentics/hioload-loop/api"
)

func TestNewTaskStartsFresh(t *testing.T) {
	task := NewTask("fresh", func(*Ctx) (any, error) { return nil, nil })
	if task.State() != TaskNew {
		t.Errorf("expected new state, got %v", task.State())
	}
	if task.Name() != "fresh" {
		t.Errorf("expected name %q, got %q", "fresh", task.Name())
	}
	if task.ID().String() == "" {
		t.Error("expected a non-empty task id")
	}
}

func TestResultBeforeCompletion(t *testing.T) {
	task := NewTask("pending", func(*Ctx) (any, error) { return nil, nil })
	if _, err := task.Result(); !errors.Is(err, api.ErrTaskNotDone) {
		t.Errorf("expected ErrTaskNotDone, got %v", err)
	}
}

func TestTaskStateTransitions(t *testing.T) {
	l := newTestLoop(t)
	task := NewTask("simple", func(*Ctx) (any, error) { return "ok", nil })
	l.Submit(task)
	if err := l.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if task.State() != TaskFinished {
		t.Errorf("expected finished, got %v", task.State())
	}
	res, err := task.Result()
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if res.(string) != "ok" {
		t.Errorf("expected %q, got %v", "ok", res)
	}
}

func TestStateStrings(t *testing.T) {
	cases := map[TaskState]string{
		TaskNew:       "new",
		TaskRunnable:  "runnable",
		TaskWaiting:   "waiting",
		TaskFinished:  "finished",
		TaskFailed:    "failed",
		TaskCancelled: "cancelled",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("state %d: expected %q, got %q", state, want, got)
		}
	}
}
