package models

import (
	"github.com/cherryfeed/cherry/internal/database/types"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// CandidateSQL renders the candidate lookup without running it.
func CandidateSQL(db *bun.DB, q types.CandidateQuery) string {
	var items []*types.ContentItem
	return NewContent(db, zap.NewNop()).candidateSelect(&items, q).String()
}
