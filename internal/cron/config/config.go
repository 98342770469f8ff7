package cron_config

type Config struct {
	// Heartbeat check, every minute
	CronScheduleHeartbeat string `env:"CRON_SCHEDULE_HEARTBEAT" envDefault:"0 * * * * *"`
	// Domain verification recheck, every 10 minutes
	CronScheduleDomainRecheck string `env:"CRON_SCHEDULE_DOMAIN_RECHECK" envDefault:"0 */10 * * * *"`
	// Visitor archive export, daily at 03:00
	CronScheduleVisitorArchive string `env:"CRON_SCHEDULE_VISITOR_ARCHIVE" envDefault:"0 0 3 * * *"`
}
