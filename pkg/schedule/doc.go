// Package schedule provides scheduling implementations for recurring jobs.
//
// This package includes:
//   - Schedule interface for defining job schedules
//   - Every() for fixed-interval schedules
//   - Daily() for daily schedules at a specific time
//   - Weekly() for weekly schedules on a specific day and time
//   - Cron() for cron expression-based schedules
//
// internal/dispatch.Scheduler uses Every() for its default cadences and
// Cron() for the cron specs it is given as options.
package schedule
