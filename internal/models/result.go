package models

// Identification is a single identification hit: a hydrated record with the
// cosine distance of its winning reference embedding.
type Identification struct {
	Record   *Record `json:"record"`
	Distance float64 `json:"distance"`
	Rank     int     `json:"rank"`
}

// IdentifyResponse is the response for an image identification request.
type IdentifyResponse struct {
	Matches []*Identification `json:"matches"`
	// Variant is the query variant that produced the matches (0 = primary,
	// 1..n = zoom levels); -1 when there are no matches.
	Variant   int   `json:"variant"`
	QueryTime int64 `json:"query_time_ms"`
}

// SearchResponse is the response for a text search request.
type SearchResponse struct {
	Results   []*Record `json:"results"`
	Total     int       `json:"total"`
	QueryTime int64     `json:"query_time_ms"`
	Query     string    `json:"query"`
}
