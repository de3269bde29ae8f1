// Package core provides small helpers shared by the gateway and the supervisor.
// This file contains option functions for customizing log entries.
package core

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/tfkr-ae/notebridge/domain"
)

// LogOption customizes a log entry before it is queued.
type LogOption func(log *domain.Log) error

// LogWithContext is an option to add a context map to a log entry.
// Keys already present on the entry are overwritten.
func LogWithContext(context map[string]any) LogOption {
	return func(log *domain.Log) error {
		if log.Context == nil {
			log.Context = make(map[string]any, len(context))
		}
		for k, v := range context {
			log.Context[k] = v
		}
		return nil
	}
}

// LogWithExchangeID is an option to associate a log entry with a forwarded exchange.
func LogWithExchangeID(id uuid.UUID) LogOption {
	return func(log *domain.Log) error {
		if id == uuid.Nil {
			return fmt.Errorf("exchange id is nil")
		}
		log.ExchangeID = &id
		return nil
	}
}

// LogWithRunID is an option to associate a log entry with a backend run.
func LogWithRunID(id uuid.UUID) LogOption {
	return func(log *domain.Log) error {
		if id == uuid.Nil {
			return fmt.Errorf("run id is nil")
		}
		log.RunID = &id
		return nil
	}
}
