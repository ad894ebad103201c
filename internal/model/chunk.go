package model

// ContextChunk is a retrieved passage. It lives only for the request that fetched it.
type ContextChunk struct {
	Text             string  `json:"text"`
	SourceDocumentID string  `json:"sourceDocumentId"`
	Score            float32 `json:"score"`
}
