package taskforge

// Defaults returns the compiled-in defaults for every key the dynamic
// settings service recognizes. These back Settings.GetAll/Cached when
// no operator override exists, and are what Reset restores a key to.
func Defaults() map[string]interface{} {
	return map[string]interface{}{
		"max_retries_default":        3,
		"execution_retention_days":   30,
		"schedule_history_limit":     100,
		"orphan_sweep_interval_secs": 300,
		"legacy_key_pattern":         DefaultLegacyKeyPattern,
		"cache_default_ttl_secs":     600,
		"worker_concurrency":         8,
	}
}
