package config

// ScheduleConfig controls when the forwarder runs in serve mode.
type ScheduleConfig struct {
	Spec       string // standard 5-field cron expression
	Timezone   string // zone used for the cron clock and for "yesterday"
	RunOnStart bool
}

func loadSchedule() ScheduleConfig {
	return ScheduleConfig{
		Spec:       envOrDefault(envSchedule, defaultSchedule),
		Timezone:   envOrDefault(envTimezone, defaultTimezone),
		RunOnStart: boolEnvOrDefault(envRunOnStart, defaultRunOnStart),
	}
}
