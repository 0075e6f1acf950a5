// Package cron dispatches entities on cron schedules.
//
// A [Scheduler] holds [Entry] values, each naming a cron expression and the
// entity to dispatch when it fires. Standard 5-field expressions and
// descriptors such as "@hourly" or "@every 30s" are accepted.
//
//	s := cron.NewScheduler(eng.Client(), logger)
//	err := s.Add(cron.Entry{
//	    Name:     "nightly-report",
//	    Schedule: "0 3 * * *",
//	    Kind:     entity.KindTask,
//	    TaskName: "report.build",
//	})
//
// Entries live in memory. Run the scheduler on a single node: every
// scheduler fires its own entries.
package cron
