package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"mho/internal/logging"
)

// ManagedServer is a blocking Serve paired with the Shutdown that ends it.
type ManagedServer struct {
	Name     string
	Serve    func() error
	Shutdown func(context.Context) error
}

// ServerRunner runs servers until stop is done or one of them fails, then
// shuts all of them down within ShutdownTimeout.
type ServerRunner struct {
	Logger          *logging.Logger
	ShutdownTimeout time.Duration
}

type serverError struct {
	name string
	err  error
}

func (e *serverError) Error() string {
	return fmt.Sprintf("%s server: %v", e.name, e.err)
}

func (e *serverError) Unwrap() error {
	return e.err
}

// Run returns the first unexpected Serve error, or nil when the servers
// stopped because stop was done.
func (runner *ServerRunner) Run(stop context.Context, servers ...ManagedServer) error {
	started := 0
	results := make(chan serverError, len(servers))
	for _, server := range servers {
		if server.Serve == nil {
			continue
		}
		started++
		go func(server ManagedServer) {
			results <- serverError{name: server.Name, err: server.Serve()}
		}(server)
	}
	if started == 0 {
		return nil
	}

	var failure *serverError
	select {
	case result := <-results:
		if result.err != nil && !errors.Is(result.err, http.ErrServerClosed) {
			failure = &result
		}
		started--
	case <-stop.Done():
	}
	runner.logServerError(failure)

	timeout := runner.ShutdownTimeout
	if timeout <= 0 {
		timeout = httpServerShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	for _, server := range servers {
		if server.Shutdown == nil {
			continue
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			runner.Logger.Warn(server.Name+" server shutdown failed", map[string]string{
				"error": err.Error(),
			})
		}
	}

	runner.drain(results, started, timeout)
	if failure == nil {
		return nil
	}
	return failure
}

func (runner *ServerRunner) logServerError(serverErr *serverError) {
	if runner == nil || serverErr == nil || serverErr.err == nil {
		return
	}
	if errors.Is(serverErr.err, http.ErrServerClosed) {
		return
	}
	runner.Logger.Error("http server stopped", map[string]string{
		"server": serverErr.name,
		"error":  serverErr.err.Error(),
	})
}

func (runner *ServerRunner) drain(results <-chan serverError, pending int, timeout time.Duration) {
	deadline := time.After(timeout)
	for ; pending > 0; pending-- {
		select {
		case result := <-results:
			runner.logServerError(&result)
		case <-deadline:
			return
		}
	}
}
