package main

import (
	"context"
	"errors"
	"testing"

	"github.com/christianrvillarrealt/financial-knowledge-graph-builder-and-explorer/pkg/pipeline"
)

type fakeExecutor struct {
	err      error
	executed []string
}

func (f *fakeExecutor) ExecuteRun(_ context.Context, runID string) error {
	f.executed = append(f.executed, runID)
	return f.err
}

func TestProcessRunRequeuesOnlyRetryableFailures(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		err         error
		wantRequeue bool
	}{
		{name: "success acks", body: `{"run_id": "run_1"}`},
		{name: "malformed message acks", body: `{run_id`},
		{name: "canceled run acks", body: `{"run_id": "run_1"}`, err: pipeline.ErrCanceled},
		{name: "unknown run acks", body: `{"run_id": "run_1"}`, err: pipeline.ErrRunNotFound},
		{
			name: "terminal failure acks",
			body: `{"run_id": "run_1"}`,
			err:  &pipeline.ConfigurationError{Err: errors.New("unknown stage")},
		},
		{
			name: "unclassified failure acks",
			body: `{"run_id": "run_1"}`,
			err:  errors.New("chunking exploded"),
		},
		{
			name:        "transient failure requeues",
			body:        `{"run_id": "run_1"}`,
			err:         &pipeline.TransientExternalError{Err: errors.New("db down")},
			wantRequeue: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			executor := &fakeExecutor{err: tc.err}
			err := processRun(context.Background(), executor, []byte(tc.body))
			if tc.wantRequeue && err == nil {
				t.Fatal("expected error so the message is requeued")
			}
			if !tc.wantRequeue && err != nil {
				t.Fatalf("expected message acked, got %v", err)
			}
		})
	}
}

func TestProcessRunDiscardsMalformedWithoutExecuting(t *testing.T) {
	executor := &fakeExecutor{}
	if err := processRun(context.Background(), executor, []byte("not json")); err != nil {
		t.Fatalf("expected malformed message swallowed, got %v", err)
	}
	if len(executor.executed) != 0 {
		t.Fatalf("expected no execution for malformed message, got %v", executor.executed)
	}
}
