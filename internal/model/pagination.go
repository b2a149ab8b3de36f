package model

// DeliveryLogPage is one page of delivery logs.
type DeliveryLogPage struct {
	Data     []*DeliveryLog `json:"data"`
	Total    int            `json:"total"`
	Pages    int            `json:"pages"`
	PageNum  int            `json:"pageNum"`
	PageSize int            `json:"pageSize"`
}
