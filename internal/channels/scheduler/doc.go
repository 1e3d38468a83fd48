// Package scheduler runs time-of-day tasks against the command router.
//
// Tasks live in a JSON file (schedule.json) so the pipe's scheduler tools
// and the web panel can edit them while the service runs. A cron tick
// fires once a minute; tasks whose HH:MM and weekday match are dispatched.
// A task whose days contain "once" runs at the next matching time and is
// then removed from the file, whether or not the dispatch succeeded.
package scheduler
