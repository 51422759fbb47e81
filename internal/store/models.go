package store

import "time"

// Membership statuses. A row is created PENDING and moved to APPROVED or
// REJECTED by the group owner; one row per (group, user) pair, ever.
const (
	MemberPending  = "PENDING"
	MemberApproved = "APPROVED"
	MemberRejected = "REJECTED"
)

type User struct {
	ID                    string
	NickName              string
	Email                 string
	PasswordHash          string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

type Group struct {
	ID          string
	OwnerID     string
	Name        string
	Category    string
	Desc        string
	Notice      string
	FrontImage  string
	MemberCount int
	PostCount   int
	CreatedAt   time.Time
}

type GroupMember struct {
	ID          string
	GroupID     string
	UserID      string
	NickName    string
	Status      string
	ApplyReason string
	CreatedAt   time.Time
}

type Post struct {
	ID           string
	GroupID      string
	UserID       string
	AuthorName   string
	Title        string
	Content      string
	CommentCount int
	IsHot        bool
	IsExcellent  bool
	CreatedAt    time.Time
}

// Comment is both a top-level comment (ParentID nil) and a reply
// (ParentID set). Depth is capped at two: a reply never has children.
type Comment struct {
	ID          string
	PostID      string
	UserID      string
	AuthorName  string
	Content     string
	ParentID    *string
	ReplyUserID *string
	ReplyCount  int
	LikeCount   int
	CreatedAt   time.Time
}

type CommentLike struct {
	ID        string
	CommentID string
	UserID    string
	CreatedAt time.Time
}

// GroupFilter narrows and orders a group listing.
type GroupFilter struct {
	Category string
	Order    string // "new" (creation desc) or "hot" (member count desc)
	Limit    int
}

// PostFilter narrows a post listing within a group.
type PostFilter struct {
	Category string // "hot" or "excellent"
}
