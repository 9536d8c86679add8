// Package gologger bridges relay logging onto the go-job logger contracts.
package gologger

import (
	job "github.com/goliatone/go-job"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-relay/core"
)

// DefaultName is the logger name used when none is given.
const DefaultName = "relay"

// Resolve picks provider over logger over nop. A blank name uses DefaultName.
func Resolve(name string, provider glog.LoggerProvider, logger glog.Logger) (glog.LoggerProvider, glog.Logger) {
	if name == "" {
		name = DefaultName
	}
	return glog.Resolve(name, provider, logger)
}

func ToJobProvider(provider glog.LoggerProvider) job.LoggerProvider {
	if provider == nil {
		return nil
	}
	return job.GoLoggerProvider(provider)
}

func ToJobLogger(logger glog.Logger) job.Logger {
	if logger == nil {
		return nil
	}
	return job.GoLogger(logger)
}

func ResolveForJob(
	name string,
	provider glog.LoggerProvider,
	logger glog.Logger,
) (glog.LoggerProvider, glog.Logger, job.LoggerProvider, job.Logger) {
	resolvedProvider, resolvedLogger := Resolve(name, provider, logger)
	return resolvedProvider, resolvedLogger, ToJobProvider(resolvedProvider), ToJobLogger(resolvedLogger)
}

// ForService returns go-job loggers backed by the named relay service logger,
// so go-job workers log through the same sink as the relay.
func ForService(service *core.Service, name string) (job.LoggerProvider, job.Logger) {
	if name == "" {
		name = DefaultName
	}
	var logger glog.Logger
	if service != nil {
		logger = service.Logger(name)
	}
	logger = glog.Ensure(logger)
	return ToJobProvider(glog.ProviderFromLogger(logger)), ToJobLogger(logger)
}
