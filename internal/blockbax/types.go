package blockbax

import "encoding/json"

type subjectsResponse struct {
	Result []subject `json:"result"`
}

type subject struct {
	ID string `json:"id"`
}

type measurementQuery struct {
	SubjectIDs []string `json:"subjectIds"`
	MetricIDs  []string `json:"metricIds,omitempty"`
	FromDate   string   `json:"fromDate"`
	ToDate     string   `json:"toDate"`
	Take       int      `json:"take"`
}

type measurementsResponse struct {
	Result []json.RawMessage `json:"result"`
}
