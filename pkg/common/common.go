package common

import (
	"strings"
	"time"
)

// Article is a normalized news item produced by the ingestion stage.
// Every downstream artifact traces back to an article through its ID,
// which is derived from the source name and a hash of the URL so that
// re-ingesting the same story never produces a second identity.
type Article struct {
	ID          string    `json:"id"`
	Source      string    `json:"source"`
	URL         string    `json:"url"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	PublishedAt time.Time `json:"published_at"`
	RetrievedAt time.Time `json:"retrieved_at"`
	Tickers     []string  `json:"tickers,omitempty"`
	Language    string    `json:"language"`
	Checksum    string    `json:"checksum"`
}

// TextChunk is a token-bounded segment of a cleaned article body.
// Chunks are the unit of work for extraction; their sequence index
// gives downstream stages a deterministic ordering regardless of how
// extraction fan-out interleaves.
type TextChunk struct {
	ID        string `json:"id"`
	ArticleID string `json:"article_id"`
	Seq       int    `json:"seq"`
	Text      string `json:"text"`
	Tokens    int    `json:"tokens"`
}

// Entity type labels form a closed set. Extractor output that does not
// match one of the specific labels is mapped to TypeEntity.
const (
	TypePerson  = "Person"
	TypeCompany = "Company"
	TypeProduct = "Product"
	TypeEvent   = "Event"
	TypeEntity  = "Entity"
)

// NormalizeEntityType maps an extractor-provided label onto the closed
// type set, falling back to the generic TypeEntity.
func NormalizeEntityType(label string) string {
	switch label {
	case TypePerson, TypeCompany, TypeProduct, TypeEvent:
		return label
	}
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "person", "people":
		return TypePerson
	case "company", "organization", "organisation", "org":
		return TypeCompany
	case "product":
		return TypeProduct
	case "event":
		return TypeEvent
	}
	return TypeEntity
}

// CandidateMention is a single entity occurrence reported by the
// extraction adapter, before resolution. Mention IDs are unique per
// extraction pass and order mentions deterministically within a run.
type CandidateMention struct {
	ID         string  `json:"id"`
	ChunkID    string  `json:"chunk_id"`
	ArticleID  string  `json:"article_id"`
	Name       string  `json:"name"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

// CandidateRelation is a subject-predicate-object triple reported by
// the extraction adapter, referencing mention surface forms. Subjects
// and objects are resolved to canonical entities later.
type CandidateRelation struct {
	ChunkID    string  `json:"chunk_id"`
	ArticleID  string  `json:"article_id"`
	Subject    string  `json:"subject"`
	Predicate  string  `json:"predicate"`
	Object     string  `json:"object"`
	Confidence float64 `json:"confidence"`
}

// ProvenanceRecord links a canonical entity or relationship back to the
// article and chunk that supported it.
type ProvenanceRecord struct {
	ArticleID string `json:"article_id"`
	ChunkID   string `json:"chunk_id"`
	MentionID string `json:"mention_id,omitempty"`
}

// CanonicalEntity is the resolved node form of one or more mentions.
// Its ID is stable: resolving the same name and type always yields the
// same ID, across runs and across incremental batches.
type CanonicalEntity struct {
	ID         string             `json:"id"`
	Name       string             `json:"name"`
	Type       string             `json:"type"`
	Aliases    []string           `json:"aliases,omitempty"`
	Confidence float64            `json:"confidence"`
	Mentions   int                `json:"mentions"`
	Provenance []ProvenanceRecord `json:"provenance,omitempty"`
}

// CanonicalRelationship is a resolved edge between two canonical
// entities, deduplicated by (subject, type, object). Support counts the
// candidate relations folded into it; Confidence is their mean.
type CanonicalRelationship struct {
	ID         string             `json:"id"`
	SubjectID  string             `json:"subject_id"`
	ObjectID   string             `json:"object_id"`
	Type       string             `json:"type"`
	Confidence float64            `json:"confidence"`
	Support    int                `json:"support"`
	Provenance []ProvenanceRecord `json:"provenance,omitempty"`
}

// ResolvedGraph is the output of the resolution stage and the input of
// the loading stage.
type ResolvedGraph struct {
	Entities      []CanonicalEntity       `json:"entities"`
	Relationships []CanonicalRelationship `json:"relationships"`
}
