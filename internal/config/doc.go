// Package config defines configuration structures for the dlm CLI.
//
// Configuration is layered, later sources winning:
//   - Defaults
//   - YAML configuration file
//   - Environment variables (DLM_ prefix)
//   - Command-line flags
//
// Sizes accept human-readable strings ("8KiB", "1MB") and durations use
// Go syntax ("5s", "500ms").
//
// # Example
//
//	max_concurrent_downloads: 3
//	segment_count: 8
//	buffer_size: 8KiB
//	max_retries: 3
//	retry_delay: 5s
//	min_segment_size: 1MiB
//	progress_interval: 500ms
//	speed_window: 5s
//	temp_dir: /var/tmp/dlm
//	metadata_url: file:///var/lib/dlm/metadata
//	http:
//	  timeout: 30s
//	  probe_retries: 0
//	  user_agent: dlm/1.0
package config
