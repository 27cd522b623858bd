package main

import (
	"errors"
	"strings"
	"testing"

	"github.com/basket/clawboard/internal/invoke"
)

func TestCheckReply(t *testing.T) {
	tests := []struct {
		name    string
		res     invoke.Result
		wantErr string
	}{
		{name: "ok", res: invoke.Result{Success: true, Output: "READY"}},
		{name: "blank output", res: invoke.Result{Success: true, Output: "  \n"}, wantErr: "empty reply"},
		{name: "timeout", res: invoke.Result{Failure: invoke.FailureTimeout, Error: "timed out"}, wantErr: "timed out"},
		{name: "stderr kept", res: invoke.Result{Failure: invoke.FailureExit, ExitCode: 1, Error: "exit 1", RawStderr: "no api key\n"}, wantErr: "no api key"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkReply(tt.res)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestCheckReply_WrapsFailureKind(t *testing.T) {
	err := checkReply(invoke.Result{Failure: invoke.FailureTimeout})
	if !errors.Is(err, invoke.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}
