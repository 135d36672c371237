// Package docstore keeps the documents served by the documentation provider.
package docstore

import (
	"context"

	"github.com/cockroachdb/errors"
)

// ErrNotFound is returned for an unknown document ID
var ErrNotFound = errors.New("document not found")

// Document is a text document
type Document struct {
	ID      string `json:"id" yaml:"id"`
	Content string `json:"content" yaml:"content"`
}

// Store is an insertion-ordered document store
type Store interface {
	// List returns the document IDs in insertion order
	List(ctx context.Context) ([]string, error)
	// Read returns the content of the document
	Read(ctx context.Context, id string) (string, error)
	// Edit replaces all occurrences of oldStr with newStr and returns the new content
	Edit(ctx context.Context, id, oldStr, newStr string) (string, error)
}

func notFound(id string) error {
	return errors.Mark(errors.Newf("Doc with id %s not found!", id), ErrNotFound)
}

// DefaultDocuments returns the documents the store is seeded with
func DefaultDocuments() []Document {
	return []Document{
		{ID: "inspection.md", Content: "This inspection summarizes the onsite evaluation conducted by the safety team."},
		{ID: "analysis.pdf", Content: "The analysis examines load performance under peak operating conditions."},
		{ID: "schedule.docx", Content: "This schedule details key milestones and delivery timelines for the project."},
		{ID: "summary.txt", Content: "The summary provides a concise overview of findings and recommendations."},
		{ID: "compliance.pdf", Content: "This document reviews regulatory compliance and certification status."},
		{ID: "design.md", Content: "The design describes the architectural and engineering approach."},
		{ID: "maintenance.docx", Content: "These maintenance records track service history and component replacements."},
		{ID: "risk_assessment.pdf", Content: "The risk assessment identifies potential hazards and mitigation strategies."},
		{ID: "requirements.txt", Content: "These requirements specify functional and performance criteria."},
		{ID: "review.md", Content: "The review captures stakeholder feedback and proposed revisions."},
	}
}
