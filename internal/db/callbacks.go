/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/friendsincode/grimnir_vision/internal/telemetry"
)

const startTimeKey = "metrics:start_time"

// RegisterCallbacks hooks query timing metrics into every gorm
// operation. Must run once, before the first query.
func RegisterCallbacks(database *gorm.DB) error {
	cb := database.Callback()
	hooks := []struct {
		op             string
		registerBefore func(string, func(*gorm.DB)) error
		registerAfter  func(string, func(*gorm.DB)) error
	}{
		{"create", cb.Create().Before("gorm:create").Register, cb.Create().After("gorm:create").Register},
		{"query", cb.Query().Before("gorm:query").Register, cb.Query().After("gorm:query").Register},
		{"update", cb.Update().Before("gorm:update").Register, cb.Update().After("gorm:update").Register},
		{"delete", cb.Delete().Before("gorm:delete").Register, cb.Delete().After("gorm:delete").Register},
	}

	for _, h := range hooks {
		if err := h.registerBefore("metrics:"+h.op+"_start", markStart); err != nil {
			return fmt.Errorf("register %s start hook: %w", h.op, err)
		}
		if err := h.registerAfter("metrics:"+h.op+"_observe", observe(h.op)); err != nil {
			return fmt.Errorf("register %s observe hook: %w", h.op, err)
		}
	}
	return nil
}

func markStart(database *gorm.DB) {
	database.InstanceSet(startTimeKey, time.Now())
}

// observe builds the after-hook for one operation kind. ErrRecordNotFound
// is a normal outcome, not an error.
func observe(op string) func(*gorm.DB) {
	return func(database *gorm.DB) {
		v, ok := database.InstanceGet(startTimeKey)
		if !ok {
			return
		}
		started, ok := v.(time.Time)
		if !ok {
			return
		}

		table := database.Statement.Table
		if table == "" {
			table = "unknown"
		}
		telemetry.DBQueryDuration.WithLabelValues(op, table).Observe(time.Since(started).Seconds())

		if database.Error != nil && !errors.Is(database.Error, gorm.ErrRecordNotFound) {
			telemetry.DBErrorsTotal.WithLabelValues(op, "query_error").Inc()
		}
	}
}

// UpdateConnectionMetrics publishes pool gauges; the server calls it on
// a thirty second ticker.
func UpdateConnectionMetrics(database *gorm.DB) {
	sqlDB, err := database.DB()
	if err != nil {
		return
	}

	stats := sqlDB.Stats()
	telemetry.DBConnectionsActive.Set(float64(stats.InUse))
	telemetry.DBConnectionsIdle.Set(float64(stats.Idle))
}
