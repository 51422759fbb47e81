package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/lufeisan/tornadoforum/internal/search"
	"github.com/lufeisan/tornadoforum/internal/store"
	"github.com/lufeisan/tornadoforum/internal/util"
)

type CreatePostInput struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

type CreateCommentInput struct {
	Content string `json:"content"`
}

type CreateReplyInput struct {
	Content     string `json:"content"`
	ReplyUserID string `json:"replyUserId"`
}

// requireApprovedMember is the write guard for group content: the owner
// always passes, everyone else needs an APPROVED membership row.
func (s *Service) requireApprovedMember(ctx context.Context, session Session, groupID string) (store.Group, error) {
	group, err := s.store.GetGroup(ctx, groupID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Group{}, domainError(http.StatusNotFound, "GROUP_NOT_FOUND", "Group not found", nil)
	}
	if err != nil {
		return store.Group{}, err
	}
	if group.OwnerID == session.UserID {
		return group, nil
	}

	member, err := s.store.GetMembership(ctx, groupID, session.UserID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Group{}, domainError(http.StatusForbidden, "NOT_APPROVED_MEMBER", "Posting requires an approved membership", nil)
	}
	if err != nil {
		return store.Group{}, err
	}
	if member.Status != store.MemberApproved {
		return store.Group{}, domainError(http.StatusForbidden, "NOT_APPROVED_MEMBER", "Posting requires an approved membership", map[string]any{
			"status": member.Status,
		})
	}
	return group, nil
}

// ListPosts shows a group's feed to its approved members (and owner).
func (s *Service) ListPosts(ctx context.Context, session Session, groupID string, filter store.PostFilter) (map[string]any, error) {
	if _, err := s.requireApprovedMember(ctx, session, groupID); err != nil {
		return nil, err
	}

	switch filter.Category {
	case "", "hot", "excellent":
	default:
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "category must be 'hot' or 'excellent'", nil)
	}

	posts, err := s.store.ListPosts(ctx, groupID, filter)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(posts))
	for _, post := range posts {
		items = append(items, postItem(post))
	}
	return map[string]any{"groupId": groupID, "items": items}, nil
}

func (s *Service) CreatePost(ctx context.Context, session Session, groupID string, input CreatePostInput) (map[string]any, error) {
	if _, err := s.requireApprovedMember(ctx, session, groupID); err != nil {
		return nil, err
	}

	title := strings.TrimSpace(input.Title)
	content := strings.TrimSpace(input.Content)
	if title == "" || content == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title and content are required", nil)
	}

	post := store.Post{
		ID:      util.NewID("post"),
		GroupID: groupID,
		UserID:  session.UserID,
		Title:   title,
		Content: content,
	}
	if err := s.store.InsertPost(ctx, post); err != nil {
		return nil, err
	}

	if s.search != nil {
		s.search.IndexPost(search.PostRecord{
			ID:      post.ID,
			GroupID: post.GroupID,
			Title:   post.Title,
			Content: post.Content,
		})
	}

	created, err := s.store.GetPost(ctx, post.ID)
	if err != nil {
		return nil, err
	}
	return postItem(created), nil
}

func (s *Service) PostDetail(ctx context.Context, postID string) (map[string]any, error) {
	post, err := s.store.GetPost(ctx, postID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domainError(http.StatusNotFound, "POST_NOT_FOUND", "Post not found", nil)
	}
	if err != nil {
		return nil, err
	}
	return postItem(post), nil
}

func postItem(post store.Post) map[string]any {
	return map[string]any{
		"id":           post.ID,
		"groupId":      post.GroupID,
		"userId":       post.UserID,
		"authorName":   post.AuthorName,
		"title":        post.Title,
		"content":      post.Content,
		"commentCount": post.CommentCount,
		"isHot":        post.IsHot,
		"isExcellent":  post.IsExcellent,
		"createdAt":    post.CreatedAt.Format(time.RFC3339),
	}
}

// ListComments returns a post's top-level comments. When the viewer is
// known each item carries whether they already liked it.
func (s *Service) ListComments(ctx context.Context, postID, viewerID string) (map[string]any, error) {
	if _, err := s.store.GetPost(ctx, postID); errors.Is(err, sql.ErrNoRows) {
		return nil, domainError(http.StatusNotFound, "POST_NOT_FOUND", "Post not found", nil)
	} else if err != nil {
		return nil, err
	}

	comments, err := s.store.ListTopLevelComments(ctx, postID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(comments))
	for _, comment := range comments {
		item := commentItem(comment)
		if viewerID != "" {
			liked, err := s.store.HasLiked(ctx, comment.ID, viewerID)
			if err != nil {
				return nil, err
			}
			item["liked"] = liked
		}
		items = append(items, item)
	}
	return map[string]any{"postId": postID, "items": items}, nil
}

func (s *Service) CreateComment(ctx context.Context, session Session, postID string, input CreateCommentInput) (map[string]any, error) {
	post, err := s.store.GetPost(ctx, postID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domainError(http.StatusNotFound, "POST_NOT_FOUND", "Post not found", nil)
	}
	if err != nil {
		return nil, err
	}
	if _, err := s.requireApprovedMember(ctx, session, post.GroupID); err != nil {
		return nil, err
	}

	content := strings.TrimSpace(input.Content)
	if content == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "content is required", nil)
	}

	comment := store.Comment{
		ID:      util.NewID("cmt"),
		PostID:  postID,
		UserID:  session.UserID,
		Content: content,
	}
	if err := s.store.InsertComment(ctx, comment); err != nil {
		return nil, err
	}

	if s.search != nil {
		s.search.IndexComment(search.CommentRecord{
			ID:      comment.ID,
			PostID:  comment.PostID,
			GroupID: post.GroupID,
			Content: comment.Content,
		})
	}

	created, err := s.store.GetComment(ctx, comment.ID)
	if err != nil {
		return nil, err
	}
	return commentItem(created), nil
}

func (s *Service) ListReplies(ctx context.Context, commentID string) (map[string]any, error) {
	if _, err := s.store.GetComment(ctx, commentID); errors.Is(err, sql.ErrNoRows) {
		return nil, domainError(http.StatusNotFound, "COMMENT_NOT_FOUND", "Comment not found", nil)
	} else if err != nil {
		return nil, err
	}

	replies, err := s.store.ListReplies(ctx, commentID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(replies))
	for _, reply := range replies {
		items = append(items, commentItem(reply))
	}
	return map[string]any{"commentId": commentID, "items": items}, nil
}

// CreateReply adds a second-level comment. Depth is capped: replying to
// a reply is rejected rather than silently re-parented.
func (s *Service) CreateReply(ctx context.Context, session Session, commentID string, input CreateReplyInput) (map[string]any, error) {
	parent, err := s.store.GetComment(ctx, commentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domainError(http.StatusNotFound, "COMMENT_NOT_FOUND", "Comment not found", nil)
	}
	if err != nil {
		return nil, err
	}
	if parent.ParentID != nil {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "replies cannot be nested", nil)
	}

	post, err := s.store.GetPost(ctx, parent.PostID)
	if err != nil {
		return nil, err
	}
	if _, err := s.requireApprovedMember(ctx, session, post.GroupID); err != nil {
		return nil, err
	}

	content := strings.TrimSpace(input.Content)
	if content == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "content is required", nil)
	}

	reply := store.Comment{
		ID:       util.NewID("cmt"),
		PostID:   parent.PostID,
		UserID:   session.UserID,
		Content:  content,
		ParentID: &commentID,
	}
	if replyUserID := strings.TrimSpace(input.ReplyUserID); replyUserID != "" {
		if _, err := s.store.GetUserByID(ctx, replyUserID); errors.Is(err, sql.ErrNoRows) {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "replyUserId does not exist", nil)
		} else if err != nil {
			return nil, err
		}
		reply.ReplyUserID = &replyUserID
	}

	if err := s.store.InsertReply(ctx, reply); err != nil {
		return nil, err
	}

	if s.search != nil {
		s.search.IndexComment(search.CommentRecord{
			ID:      reply.ID,
			PostID:  reply.PostID,
			GroupID: post.GroupID,
			Content: reply.Content,
		})
	}

	created, err := s.store.GetComment(ctx, reply.ID)
	if err != nil {
		return nil, err
	}
	return commentItem(created), nil
}

// LikeComment records one like per (comment, user). A second like is a
// conflict, not a double count.
func (s *Service) LikeComment(ctx context.Context, session Session, commentID string) (map[string]any, error) {
	comment, err := s.store.GetComment(ctx, commentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domainError(http.StatusNotFound, "COMMENT_NOT_FOUND", "Comment not found", nil)
	}
	if err != nil {
		return nil, err
	}

	like := store.CommentLike{
		ID:        util.NewID("like"),
		CommentID: comment.ID,
		UserID:    session.UserID,
	}
	if err := s.store.InsertLike(ctx, like); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, domainError(http.StatusConflict, "ALREADY_LIKED", "Comment already liked", nil)
		}
		return nil, err
	}

	updated, err := s.store.GetComment(ctx, commentID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"commentId": commentID,
		"likeCount": updated.LikeCount,
		"liked":     true,
	}, nil
}

func commentItem(comment store.Comment) map[string]any {
	item := map[string]any{
		"id":         comment.ID,
		"postId":     comment.PostID,
		"userId":     comment.UserID,
		"authorName": comment.AuthorName,
		"content":    comment.Content,
		"replyCount": comment.ReplyCount,
		"likeCount":  comment.LikeCount,
		"createdAt":  comment.CreatedAt.Format(time.RFC3339),
	}
	if comment.ParentID != nil {
		item["parentId"] = *comment.ParentID
	}
	if comment.ReplyUserID != nil {
		item["replyUserId"] = *comment.ReplyUserID
	}
	return item
}

// SearchContent answers the cross-entity search endpoint.
func (s *Service) SearchContent(q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(q)
}
