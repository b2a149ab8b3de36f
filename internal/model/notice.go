package model

import "time"

// NoticeRequest is what callers submit to broadcast a notification.
type NoticeRequest struct {
	Title     string   `json:"title"`
	Body      string   `json:"body"`
	URL       string   `json:"url"`
	Icon      string   `json:"icon"`
	Badge     string   `json:"badge"`
	Image     string   `json:"image"`
	Severity  string   `json:"severity"`
	Critical  bool     `json:"critical"`
	Endpoints []string `json:"endpoints"`
}

// PushMessage is the JSON document delivered inside each push.
type PushMessage struct {
	Title    string `json:"title"`
	Body     string `json:"body"`
	URL      string `json:"url"`
	Icon     string `json:"icon,omitempty"`
	Badge    string `json:"badge,omitempty"`
	Image    string `json:"image,omitempty"`
	Severity string `json:"severity"`
	Critical string `json:"critical,omitempty"`
}

// NoticeResult summarises a push attempt for one subscription.
type NoticeResult struct {
	Endpoint string `json:"endpoint"`
	Status   string `json:"status"`
	Code     int    `json:"code,omitempty"`
	Message  string `json:"message,omitempty"`
}

// NoticeSummary aggregates a broadcast.
type NoticeSummary struct {
	SendNum    int  `json:"sendNum"`
	SuccessNum int  `json:"successNum"`
	Removed    int  `json:"removed"`
	Streamed   int  `json:"streamed"`
	Truncated  bool `json:"truncated"`
}

// Notice is one broadcast kept in history.
type Notice struct {
	ID        uint64    `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	RelURL    string    `json:"relURL"`
	Severity  string    `json:"severity"`
	Critical  bool      `json:"critical"`
	CreatedAt time.Time `json:"createdAt"`
}

const (
	ResultSuccess = "SUCCESS"
	ResultFailed  = "FAILED"
	ResultGone    = "GONE"
)
