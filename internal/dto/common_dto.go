package dto

// ErrorResponse is the uniform error body for all API endpoints.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

type HealthResponse struct {
	Status      string `json:"status"`
	Database    string `json:"database"`
	Communities int    `json:"communities"`
}
