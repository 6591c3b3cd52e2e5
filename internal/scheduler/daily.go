// Package scheduler fires a job once a day at a fixed wall-clock time.
package scheduler

import (
	"context"
	"fmt"
	"time"
	_ "time/tzdata"

	"go.uber.org/zap"
)

// Job is invoked with the firing time.
type Job func(ctx context.Context, now time.Time)

// Config 每日触发时间
type Config struct {
	Hour       int    `yaml:"hour"`
	Minute     int    `yaml:"minute"`
	Second     int    `yaml:"second"`
	Timezone   string `yaml:"timezone"`
	RunOnStart bool   `yaml:"run_on_start"`
}

type Daily struct {
	hour, minute, second int
	location             *time.Location
	runOnStart           bool
	job                  Job
	logger               *zap.Logger

	now   func() time.Time
	after func(d time.Duration) <-chan time.Time
}

// NewDaily validates the wall-clock time and loads the time zone.
func NewDaily(cfg Config, job Job, logger *zap.Logger) (*Daily, error) {
	if cfg.Hour < 0 || cfg.Hour > 23 || cfg.Minute < 0 || cfg.Minute > 59 || cfg.Second < 0 || cfg.Second > 59 {
		return nil, fmt.Errorf("invalid schedule %02d:%02d:%02d", cfg.Hour, cfg.Minute, cfg.Second)
	}
	loc := time.Local
	if cfg.Timezone != "" {
		var err error
		if loc, err = time.LoadLocation(cfg.Timezone); err != nil {
			return nil, fmt.Errorf("invalid scheduler timezone %q: %w", cfg.Timezone, err)
		}
	}
	return &Daily{
		hour:       cfg.Hour,
		minute:     cfg.Minute,
		second:     cfg.Second,
		location:   loc,
		runOnStart: cfg.RunOnStart,
		job:        job,
		logger:     logger,
		now:        time.Now,
		after:      time.After,
	}, nil
}

// Next returns the first firing time strictly after t. It is recomputed from
// the calendar each cycle, so DST changes shift neither day nor hour.
func (d *Daily) Next(t time.Time) time.Time {
	local := t.In(d.location)
	next := time.Date(local.Year(), local.Month(), local.Day(), d.hour, d.minute, d.second, 0, d.location)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, d.hour, d.minute, d.second, 0, d.location)
	}
	return next
}

// Start blocks until ctx is done. A run in progress is allowed to finish.
func (d *Daily) Start(ctx context.Context) {
	if d.runOnStart {
		d.fire(ctx, d.now())
	}

	for {
		next := d.Next(d.now())
		d.logger.Info("Next consolidation run scheduled",
			zap.Time("at", next),
			zap.Duration("in", next.Sub(d.now())),
		)

		select {
		case <-ctx.Done():
			d.logger.Info("Scheduler stopped")
			return
		case <-d.after(next.Sub(d.now())):
			d.fire(ctx, d.now())
		}
	}
}

func (d *Daily) fire(ctx context.Context, now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Scheduled job panicked", zap.Any("panic", r))
		}
	}()
	d.job(ctx, now)
}
