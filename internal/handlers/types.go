package handlers

type ScanRequest struct {
	Domain            string `json:"domain" binding:"required"`
	IncludeBruteforce bool   `json:"include_bruteforce"`
	TimeoutMinutes    int    `json:"timeout_minutes"`
}

type ScanResponse struct {
	ScanID string `json:"scan_id"`
}

type HealthResponse struct {
	Status       string `json:"status"`
	Database     string `json:"database"`
	RunningScans int    `json:"running_scans"`
	QueuedScans  int    `json:"queued_scans"`
}
