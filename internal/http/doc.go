// Package http provides the HTTP transport for segmented downloads.
//
// This package handles:
//   - Connection pooling shared by all segment fetchers
//   - HEAD probes for size, range support and ETag
//   - Single-attempt range and whole-body GETs
//   - Mapping of status codes to sentinel errors
//
// Only the probe is retried here, with exponential backoff and jitter.
// Transfers are retried by the downloader so that a retry resumes from the
// bytes already on disk.
//
// # Usage
//
//	client := http.NewClient(http.DefaultOptions())
//
//	// Get file info
//	info, err := client.Head(ctx, url)
//	// info.Size, info.ETag, info.AcceptsRanges
//
//	// Download a range
//	resp, err := client.GetRange(ctx, url, startByte, endByte)
//	defer resp.Body.Close()
package http
