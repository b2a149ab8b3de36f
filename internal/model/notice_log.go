package model

import "time"

// DeliveryLog tracks each push attempt.
type DeliveryLog struct {
	ID             uint64    `json:"id"`
	SubscriptionID string    `json:"subscriptionId"`
	Endpoint       string    `json:"endpoint"`
	Title          string    `json:"title"`
	Body           string    `json:"body"`
	Severity       string    `json:"severity"`
	StatusCode     int       `json:"statusCode"`
	Result         string    `json:"result"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// DeliveryLogFilter describes query parameters for log searching.
type DeliveryLogFilter struct {
	Endpoint  string
	Severity  string
	Status    string
	BeginTime *time.Time
	EndTime   *time.Time
	Page      int
	PageSize  int
}
