package common

import (
	"context"
)

// Context keys for storing values in context
type contextKey string

const (
	ContextKeyRunID      contextKey = "run_id"
	ContextKeyDocumentID contextKey = "document_id"
	ContextKeyWorkDir    contextKey = "work_dir"
	ContextKeyAttempt    contextKey = "attempt"
	ContextKeyIntermDir  contextKey = "intermediate_dir"
)

// WithRunID adds a run ID to the context
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, ContextKeyRunID, runID)
}

// RunIDFromContext extracts the run ID from context
func RunIDFromContext(ctx context.Context) string {
	if runID, ok := ctx.Value(ContextKeyRunID).(string); ok {
		return runID
	}
	return ""
}

// WithDocumentID adds a document ID to the context
func WithDocumentID(ctx context.Context, documentID string) context.Context {
	return context.WithValue(ctx, ContextKeyDocumentID, documentID)
}

// DocumentIDFromContext extracts the document ID from context
func DocumentIDFromContext(ctx context.Context) string {
	if documentID, ok := ctx.Value(ContextKeyDocumentID).(string); ok {
		return documentID
	}
	return ""
}

// WithWorkDir sets the directory stages write per-document artifacts into.
func WithWorkDir(ctx context.Context, dir string) context.Context {
	return context.WithValue(ctx, ContextKeyWorkDir, dir)
}

// WorkDirFromContext returns the artifact directory, "" if unset.
func WorkDirFromContext(ctx context.Context) string {
	if dir, ok := ctx.Value(ContextKeyWorkDir).(string); ok {
		return dir
	}
	return ""
}

// WithAttempt labels the current retry attempt so stages can keep attempt
// artifacts apart on disk.
func WithAttempt(ctx context.Context, label string) context.Context {
	return context.WithValue(ctx, ContextKeyAttempt, label)
}

// AttemptFromContext returns the attempt label, "" outside the retry range.
func AttemptFromContext(ctx context.Context) string {
	if label, ok := ctx.Value(ContextKeyAttempt).(string); ok {
		return label
	}
	return ""
}

// WithIntermediateDir enables saving per-operation artifacts under dir.
func WithIntermediateDir(ctx context.Context, dir string) context.Context {
	return context.WithValue(ctx, ContextKeyIntermDir, dir)
}

// IntermediateDirFromContext returns "" when intermediate saving is off.
func IntermediateDirFromContext(ctx context.Context) string {
	if dir, ok := ctx.Value(ContextKeyIntermDir).(string); ok {
		return dir
	}
	return ""
}
