// Copyright (C) 2026 canmaster authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package repository

import (
	"sync"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
)

var (
	commentRepoOnce     sync.Once
	commentRepoInstance *CommentRepository
)

// CommentRepository stores free-text operator annotations per
// sub-module, keyed by (nodeId, subModIdx), independent of the
// interview state itself.
type CommentRepository struct {
	DB *sqlx.DB
}

// GetCommentRepository returns the package-wide CommentRepository.
func GetCommentRepository() *CommentRepository {
	commentRepoOnce.Do(func() {
		commentRepoInstance = &CommentRepository{DB: GetConnection().DB}
	})
	return commentRepoInstance
}

// Upsert sets the comment for (nodeId, subModIdx), replacing any
// existing one.
func (r *CommentRepository) Upsert(nodeId string, subModIdx int, comment string, updatedAt int64) error {
	query, args, err := sq.Insert("config_comments").
		Columns("node_id", "sub_mod_idx", "comment", "updated_at").
		Values(nodeId, subModIdx, comment, updatedAt).
		Suffix(`ON CONFLICT(node_id, sub_mod_idx) DO UPDATE SET
			comment=excluded.comment, updated_at=excluded.updated_at`).
		ToSql()
	if err != nil {
		return err
	}
	_, err = r.DB.Exec(query, args...)
	return err
}

// ForNode returns every comment recorded for a node, keyed by
// sub-module index.
func (r *CommentRepository) ForNode(nodeId string) (map[int]string, error) {
	query, args, err := sq.Select("sub_mod_idx", "comment").
		From("config_comments").
		Where(sq.Eq{"node_id": nodeId}).
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := r.DB.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[int]string{}
	for rows.Next() {
		var idx int
		var comment string
		if err := rows.Scan(&idx, &comment); err != nil {
			return nil, err
		}
		out[idx] = comment
	}
	return out, rows.Err()
}
