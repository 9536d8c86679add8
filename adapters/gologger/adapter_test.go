package gologger

import (
	"context"
	"testing"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-relay/core"
	"github.com/goliatone/go-relay/queue"
)

func TestResolve_PrefersProviderThenLoggerThenNop(t *testing.T) {
	loggerOnly := &capturingLogger{id: "logger"}
	provider := &capturingProvider{logger: &capturingLogger{id: "provider"}}

	_, resolved := Resolve("relay", provider, loggerOnly)
	if got := resolved.(*capturingLogger); got.id != "provider" {
		t.Fatalf("expected provider logger precedence, got %q", got.id)
	}

	resolvedProvider, resolved := Resolve("", nil, loggerOnly)
	if got := resolved.(*capturingLogger); got.id != "logger" {
		t.Fatalf("expected direct logger when provider is nil, got %q", got.id)
	}
	if resolvedProvider == nil {
		t.Fatalf("expected provider wrapper from logger")
	}

	if _, resolved = Resolve("relay", nil, nil); resolved == nil {
		t.Fatalf("expected nop logger fallback")
	}
}

func TestResolveForJob_BridgesMessagesAndArgs(t *testing.T) {
	providerLogger := &capturingLogger{id: "provider"}
	provider := &capturingProvider{logger: providerLogger}

	_, _, jobProvider, jobLogger := ResolveForJob("relay", provider, nil)
	if jobProvider == nil || jobLogger == nil {
		t.Fatalf("expected go-job logger bridges")
	}

	jobProvider.GetLogger("relay.worker").Info("delivery completed", "job_id", "job-1")
	captured := providerLogger.lastInfo
	if captured.msg != "delivery completed" {
		t.Fatalf("expected bridged message, got %q", captured.msg)
	}
	if len(captured.args) != 2 || captured.args[0] != "job_id" || captured.args[1] != "job-1" {
		t.Fatalf("expected bridged args, got %#v", captured.args)
	}
}

func TestForService_UsesServiceLogger(t *testing.T) {
	logger := &capturingLogger{id: "service"}
	service, err := core.NewService(core.DefaultConfig(),
		core.WithJobQueue(queue.NewMemoryQueue()),
		core.WithLoggerProvider(&capturingProvider{logger: logger}),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	_, jobLogger := ForService(service, "")
	if jobLogger == nil {
		t.Fatalf("expected go-job logger")
	}
	jobLogger.Info("worker started")
	if logger.lastInfo.msg != "worker started" {
		t.Fatalf("expected service logger to receive message, got %q", logger.lastInfo.msg)
	}

	if provider, fallback := ForService(nil, "relay"); provider == nil || fallback == nil {
		t.Fatalf("expected nop bridges for nil service")
	}
}

var (
	_ glog.Logger         = (*capturingLogger)(nil)
	_ glog.LoggerProvider = (*capturingProvider)(nil)
)

type capturingProvider struct {
	logger *capturingLogger
}

func (p *capturingProvider) GetLogger(string) glog.Logger {
	if p == nil || p.logger == nil {
		return glog.Nop()
	}
	return p.logger
}

type infoCall struct {
	msg  string
	args []any
}

type capturingLogger struct {
	id       string
	lastInfo infoCall
}

func (l *capturingLogger) Trace(string, ...any) {}
func (l *capturingLogger) Debug(string, ...any) {}
func (l *capturingLogger) Warn(string, ...any)  {}
func (l *capturingLogger) Error(string, ...any) {}
func (l *capturingLogger) Fatal(string, ...any) {}

func (l *capturingLogger) Info(msg string, args ...any) {
	l.lastInfo = infoCall{msg: msg, args: append([]any(nil), args...)}
}

func (l *capturingLogger) WithContext(context.Context) glog.Logger {
	return l
}
