// Package publish moves approved posts to their destination channel.
//
// A fixed-interval tick scans for approved posts whose scheduled time
// has passed and delivers each one: media items first, then
// attachments, then the authorship note. Delivery failures are
// isolated per post; the post stays approved and is retried on the
// next tick (at-least-once). Cron jobs handle the daily publish slot,
// retention purge, and hourly store backups.
package publish
