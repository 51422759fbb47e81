package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrDuplicate reports a unique-constraint violation: a second membership
// application for the same (group, user) pair, or a second like for the
// same (comment, user) pair.
var ErrDuplicate = errors.New("duplicate row")

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Users

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, nick_name, email, password_hash, is_email_verified
		FROM users WHERE id=$1
	`, userID).Scan(&user.ID, &user.NickName, &user.Email, &user.PasswordHash, &user.IsEmailVerified)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, nick_name, email, password_hash, is_email_verified
		FROM users WHERE email=$1
	`, email).Scan(&user.ID, &user.NickName, &user.Email, &user.PasswordHash, &user.IsEmailVerified)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, nick_name, email, password_hash, is_email_verified, verification_token)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, user.ID, user.NickName, user.Email, user.PasswordHash, user.IsEmailVerified, user.VerificationToken)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET verification_token=$2, verification_expires_at=$3, updated_at=NOW()
		WHERE id=$1
	`, userID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("update verification token: %w", err)
	}
	return nil
}

func (s *PostgresStore) VerifyUserEmail(ctx context.Context, token string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET is_email_verified=TRUE, verification_token='', updated_at=NOW()
		WHERE verification_token=$1
			AND verification_token <> ''
			AND (verification_expires_at IS NULL OR verification_expires_at > NOW())
	`, token)
	if err != nil {
		return fmt.Errorf("verify email: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("verify email rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET password_hash=$2, updated_at=NOW() WHERE id=$1
	`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

// Refresh sessions and token revocation (Postgres fallback when Redis is
// not configured).

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT u.id, u.nick_name, u.email
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(&user.ID, &user.NickName, &user.Email)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, tokenHash string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_tokens (token_hash, expires_at) VALUES ($1, $2)
		ON CONFLICT (token_hash) DO NOTHING
	`, tokenHash, expiresAt)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, tokenHash string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM revoked_tokens WHERE token_hash=$1 AND expires_at > NOW())
	`, tokenHash).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// Password resets

func (s *PostgresStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (token, user_id, expires_at) VALUES ($1, $2, $3)
	`, token, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("create password reset: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM password_resets
		WHERE token=$1 AND used_at IS NULL AND expires_at > NOW()
	`, token).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *PostgresStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE password_resets SET used_at=NOW() WHERE token=$1`, token)
	if err != nil {
		return fmt.Errorf("mark password reset used: %w", err)
	}
	return nil
}

// Groups

func (s *PostgresStore) InsertGroup(ctx context.Context, group Group) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO groups (id, owner_id, name, category, description, notice, front_image)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, group.ID, group.OwnerID, group.Name, group.Category, group.Desc, group.Notice, group.FrontImage)
	if err != nil {
		return fmt.Errorf("insert group: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetGroup(ctx context.Context, groupID string) (Group, error) {
	var group Group
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, name, category, description, notice, front_image, member_count, post_count, created_at
		FROM groups WHERE id=$1
	`, groupID).Scan(&group.ID, &group.OwnerID, &group.Name, &group.Category, &group.Desc, &group.Notice,
		&group.FrontImage, &group.MemberCount, &group.PostCount, &group.CreatedAt)
	if err != nil {
		return Group{}, err
	}
	return group, nil
}

func (s *PostgresStore) ListGroups(ctx context.Context, filter GroupFilter) ([]Group, error) {
	query := `
		SELECT id, owner_id, name, category, description, notice, front_image, member_count, post_count, created_at
		FROM groups
	`
	var args []any
	if filter.Category != "" {
		args = append(args, filter.Category)
		query += fmt.Sprintf(" WHERE category = $%d", len(args))
	}
	switch filter.Order {
	case "hot":
		query += " ORDER BY member_count DESC, created_at DESC"
	default:
		query += " ORDER BY created_at DESC"
	}
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()

	var groups []Group
	for rows.Next() {
		var group Group
		if err := rows.Scan(&group.ID, &group.OwnerID, &group.Name, &group.Category, &group.Desc, &group.Notice,
			&group.FrontImage, &group.MemberCount, &group.PostCount, &group.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		groups = append(groups, group)
	}
	return groups, rows.Err()
}

// Memberships

func (s *PostgresStore) InsertMembership(ctx context.Context, member GroupMember) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO group_members (id, group_id, user_id, status, apply_reason)
		VALUES ($1, $2, $3, $4, $5)
	`, member.ID, member.GroupID, member.UserID, member.Status, member.ApplyReason)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert membership: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetMembership(ctx context.Context, groupID, userID string) (GroupMember, error) {
	var member GroupMember
	err := s.db.QueryRowContext(ctx, `
		SELECT gm.id, gm.group_id, gm.user_id, u.nick_name, gm.status, gm.apply_reason, gm.created_at
		FROM group_members gm
		JOIN users u ON u.id = gm.user_id
		WHERE gm.group_id=$1 AND gm.user_id=$2
	`, groupID, userID).Scan(&member.ID, &member.GroupID, &member.UserID, &member.NickName,
		&member.Status, &member.ApplyReason, &member.CreatedAt)
	if err != nil {
		return GroupMember{}, err
	}
	return member, nil
}

func (s *PostgresStore) GetMembershipByID(ctx context.Context, memberID string) (GroupMember, error) {
	var member GroupMember
	err := s.db.QueryRowContext(ctx, `
		SELECT gm.id, gm.group_id, gm.user_id, u.nick_name, gm.status, gm.apply_reason, gm.created_at
		FROM group_members gm
		JOIN users u ON u.id = gm.user_id
		WHERE gm.id=$1
	`, memberID).Scan(&member.ID, &member.GroupID, &member.UserID, &member.NickName,
		&member.Status, &member.ApplyReason, &member.CreatedAt)
	if err != nil {
		return GroupMember{}, err
	}
	return member, nil
}

func (s *PostgresStore) ListMembers(ctx context.Context, groupID, status string) ([]GroupMember, error) {
	query := `
		SELECT gm.id, gm.group_id, gm.user_id, u.nick_name, gm.status, gm.apply_reason, gm.created_at
		FROM group_members gm
		JOIN users u ON u.id = gm.user_id
		WHERE gm.group_id=$1
	`
	args := []any{groupID}
	if status != "" {
		args = append(args, status)
		query += " AND gm.status=$2"
	}
	query += " ORDER BY gm.created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var members []GroupMember
	for rows.Next() {
		var member GroupMember
		if err := rows.Scan(&member.ID, &member.GroupID, &member.UserID, &member.NickName,
			&member.Status, &member.ApplyReason, &member.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, member)
	}
	return members, rows.Err()
}

// DecideMembership moves a pending application to APPROVED or REJECTED.
// Approval bumps the group's member_count inside the same transaction so
// the counter never drifts from the row it counts. Returns false when the
// row is no longer pending.
func (s *PostgresStore) DecideMembership(ctx context.Context, memberID, status string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin decide membership: %w", err)
	}
	defer tx.Rollback()

	var groupID string
	err = tx.QueryRowContext(ctx, `
		UPDATE group_members SET status=$2 WHERE id=$1 AND status='PENDING'
		RETURNING group_id
	`, memberID, status).Scan(&groupID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("decide membership: %w", err)
	}

	if status == MemberApproved {
		if _, err := tx.ExecContext(ctx, `
			UPDATE groups SET member_count = member_count + 1 WHERE id=$1
		`, groupID); err != nil {
			return false, fmt.Errorf("bump member count: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit decide membership: %w", err)
	}
	return true, nil
}

// Posts

// InsertPost creates the post row and bumps the group's post_count as one
// transaction. The increment is a server-side `n = n + 1`, never an
// application-level read-modify-write.
func (s *PostgresStore) InsertPost(ctx context.Context, post Post) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert post: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO posts (id, group_id, user_id, title, content)
		VALUES ($1, $2, $3, $4, $5)
	`, post.ID, post.GroupID, post.UserID, post.Title, post.Content); err != nil {
		return fmt.Errorf("insert post: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE groups SET post_count = post_count + 1 WHERE id=$1
	`, post.GroupID); err != nil {
		return fmt.Errorf("bump post count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert post: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPost(ctx context.Context, postID string) (Post, error) {
	var post Post
	err := s.db.QueryRowContext(ctx, `
		SELECT p.id, p.group_id, p.user_id, u.nick_name, p.title, p.content,
			p.comment_count, p.is_hot, p.is_excellent, p.created_at
		FROM posts p
		JOIN users u ON u.id = p.user_id
		WHERE p.id=$1
	`, postID).Scan(&post.ID, &post.GroupID, &post.UserID, &post.AuthorName, &post.Title, &post.Content,
		&post.CommentCount, &post.IsHot, &post.IsExcellent, &post.CreatedAt)
	if err != nil {
		return Post{}, err
	}
	return post, nil
}

func (s *PostgresStore) ListPosts(ctx context.Context, groupID string, filter PostFilter) ([]Post, error) {
	query := `
		SELECT p.id, p.group_id, p.user_id, u.nick_name, p.title, p.content,
			p.comment_count, p.is_hot, p.is_excellent, p.created_at
		FROM posts p
		JOIN users u ON u.id = p.user_id
		WHERE p.group_id=$1
	`
	switch filter.Category {
	case "hot":
		query += " AND p.is_hot"
	case "excellent":
		query += " AND p.is_excellent"
	}
	query += " ORDER BY p.created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, groupID)
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	defer rows.Close()

	var posts []Post
	for rows.Next() {
		var post Post
		if err := rows.Scan(&post.ID, &post.GroupID, &post.UserID, &post.AuthorName, &post.Title, &post.Content,
			&post.CommentCount, &post.IsHot, &post.IsExcellent, &post.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		posts = append(posts, post)
	}
	return posts, rows.Err()
}

// Comments

func (s *PostgresStore) GetComment(ctx context.Context, commentID string) (Comment, error) {
	var comment Comment
	err := s.db.QueryRowContext(ctx, `
		SELECT c.id, c.post_id, c.user_id, u.nick_name, c.content, c.parent_id, c.reply_user_id,
			c.reply_count, c.like_count, c.created_at
		FROM comments c
		JOIN users u ON u.id = c.user_id
		WHERE c.id=$1
	`, commentID).Scan(&comment.ID, &comment.PostID, &comment.UserID, &comment.AuthorName, &comment.Content,
		&comment.ParentID, &comment.ReplyUserID, &comment.ReplyCount, &comment.LikeCount, &comment.CreatedAt)
	if err != nil {
		return Comment{}, err
	}
	return comment, nil
}

// InsertComment creates a top-level comment and bumps the post's
// comment_count in the same transaction.
func (s *PostgresStore) InsertComment(ctx context.Context, comment Comment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert comment: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO comments (id, post_id, user_id, content)
		VALUES ($1, $2, $3, $4)
	`, comment.ID, comment.PostID, comment.UserID, comment.Content); err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE posts SET comment_count = comment_count + 1 WHERE id=$1
	`, comment.PostID); err != nil {
		return fmt.Errorf("bump comment count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert comment: %w", err)
	}
	return nil
}

// InsertReply creates a reply and bumps the parent comment's reply_count
// in the same transaction.
func (s *PostgresStore) InsertReply(ctx context.Context, reply Comment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert reply: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO comments (id, post_id, user_id, content, parent_id, reply_user_id)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, reply.ID, reply.PostID, reply.UserID, reply.Content, reply.ParentID, reply.ReplyUserID); err != nil {
		return fmt.Errorf("insert reply: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE comments SET reply_count = reply_count + 1 WHERE id=$1
	`, *reply.ParentID); err != nil {
		return fmt.Errorf("bump reply count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert reply: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListTopLevelComments(ctx context.Context, postID string) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.post_id, c.user_id, u.nick_name, c.content, c.parent_id, c.reply_user_id,
			c.reply_count, c.like_count, c.created_at
		FROM comments c
		JOIN users u ON u.id = c.user_id
		WHERE c.post_id=$1 AND c.parent_id IS NULL
		ORDER BY c.created_at DESC
	`, postID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()
	return scanComments(rows)
}

func (s *PostgresStore) ListReplies(ctx context.Context, commentID string) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.post_id, c.user_id, u.nick_name, c.content, c.parent_id, c.reply_user_id,
			c.reply_count, c.like_count, c.created_at
		FROM comments c
		JOIN users u ON u.id = c.user_id
		WHERE c.parent_id=$1
		ORDER BY c.created_at ASC
	`, commentID)
	if err != nil {
		return nil, fmt.Errorf("list replies: %w", err)
	}
	defer rows.Close()
	return scanComments(rows)
}

func scanComments(rows *sql.Rows) ([]Comment, error) {
	var comments []Comment
	for rows.Next() {
		var comment Comment
		if err := rows.Scan(&comment.ID, &comment.PostID, &comment.UserID, &comment.AuthorName, &comment.Content,
			&comment.ParentID, &comment.ReplyUserID, &comment.ReplyCount, &comment.LikeCount, &comment.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		comments = append(comments, comment)
	}
	return comments, rows.Err()
}

// Likes

// InsertLike creates the like row and bumps the comment's like_count in
// one transaction. The unique (comment_id, user_id) constraint makes a
// second like from the same user fail with ErrDuplicate before any
// counter change commits.
func (s *PostgresStore) InsertLike(ctx context.Context, like CommentLike) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert like: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO comment_likes (id, comment_id, user_id)
		VALUES ($1, $2, $3)
	`, like.ID, like.CommentID, like.UserID); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert like: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE comments SET like_count = like_count + 1 WHERE id=$1
	`, like.CommentID); err != nil {
		return fmt.Errorf("bump like count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert like: %w", err)
	}
	return nil
}

// HasLiked is the per-comment existence probe used when listing comments.
// A missing row is the common case, not an error.
func (s *PostgresStore) HasLiked(ctx context.Context, commentID, userID string) (bool, error) {
	var liked bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM comment_likes WHERE comment_id=$1 AND user_id=$2)
	`, commentID, userID).Scan(&liked)
	if err != nil {
		return false, fmt.Errorf("check like: %w", err)
	}
	return liked, nil
}
