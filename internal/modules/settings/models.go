package settings

// Setting keys read at startup by config.UpdateFromSettings
const (
	KeyArchiveBucket          = "archive_bucket"
	KeyArchiveEndpoint        = "archive_endpoint"
	KeyArchiveRegion          = "archive_region"
	KeyArchiveAccessKeyID     = "archive_access_key_id"
	KeyArchiveSecretAccessKey = "archive_secret_access_key"
	KeyOverdueSweepSchedule   = "overdue_sweep_schedule"
	KeyApprovalDeadlineHours  = "approval_default_deadline_hours"
)

// SettingDescriptions documents each configurable setting
var SettingDescriptions = map[string]string{
	KeyArchiveBucket:          "Bucket receiving published rating snapshots (empty disables archiving)",
	KeyArchiveEndpoint:        "Custom S3-compatible endpoint, e.g. https://<account>.r2.cloudflarestorage.com",
	KeyArchiveRegion:          "Region passed to the S3 client (the environment default is auto)",
	KeyArchiveAccessKeyID:     "Access key id for the archive bucket",
	KeyArchiveSecretAccessKey: "Secret access key for the archive bucket",
	KeyOverdueSweepSchedule:   "Cron schedule (seconds field included) for the overdue approval sweep",
	KeyApprovalDeadlineHours:  "Whole hours an approval level may stay pending before it is flagged overdue",
}
