package app

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/lufeisan/tornadoforum/internal/store"
)

// memStore is a stateful in-memory dataStore for whole-flow tests. All
// mutations hold the mutex so the denormalized counters behave like the
// transactional SQL they stand in for. Creation timestamps come from a
// strictly increasing clock so listing order is deterministic.
type memStore struct {
	mu       sync.Mutex
	epoch    time.Time
	seq      int
	users    map[string]store.User
	groups   map[string]store.Group
	members  map[string]store.GroupMember
	posts    map[string]store.Post
	comments map[string]store.Comment
	likes    map[string]struct{} // commentID|userID
}

func newMemStore(users ...store.User) *memStore {
	ms := &memStore{
		epoch:    time.Now(),
		users:    make(map[string]store.User),
		groups:   make(map[string]store.Group),
		members:  make(map[string]store.GroupMember),
		posts:    make(map[string]store.Post),
		comments: make(map[string]store.Comment),
		likes:    make(map[string]struct{}),
	}
	for _, user := range users {
		ms.users[user.ID] = user
	}
	return ms
}

// now must be called with the mutex held.
func (m *memStore) now() time.Time {
	m.seq++
	return m.epoch.Add(time.Duration(m.seq) * time.Millisecond)
}

func (m *memStore) Ping(context.Context) error { return nil }

func (m *memStore) GetUserByID(_ context.Context, userID string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (m *memStore) RevokeAccessToken(context.Context, string, time.Time) error { return nil }
func (m *memStore) IsAccessTokenRevoked(context.Context, string) (bool, error) {
	return false, nil
}
func (m *memStore) SaveRefreshSession(context.Context, string, string, time.Time) error { return nil }
func (m *memStore) LookupRefreshSession(context.Context, string) (store.User, error) {
	return store.User{}, sql.ErrNoRows
}
func (m *memStore) RevokeRefreshSession(context.Context, string) error { return nil }

func (m *memStore) InsertGroup(_ context.Context, group store.Group) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	group.CreatedAt = m.now()
	m.groups[group.ID] = group
	return nil
}

func (m *memStore) GetGroup(_ context.Context, groupID string) (store.Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	group, ok := m.groups[groupID]
	if !ok {
		return store.Group{}, sql.ErrNoRows
	}
	return group, nil
}

func (m *memStore) ListGroups(_ context.Context, filter store.GroupFilter) ([]store.Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var groups []store.Group
	for _, group := range m.groups {
		if filter.Category != "" && group.Category != filter.Category {
			continue
		}
		groups = append(groups, group)
	}
	return groups, nil
}

func (m *memStore) InsertMembership(_ context.Context, member store.GroupMember) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.members {
		if existing.GroupID == member.GroupID && existing.UserID == member.UserID {
			return store.ErrDuplicate
		}
	}
	member.CreatedAt = m.now()
	m.members[member.ID] = member
	return nil
}

func (m *memStore) GetMembership(_ context.Context, groupID, userID string) (store.GroupMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, member := range m.members {
		if member.GroupID == groupID && member.UserID == userID {
			return member, nil
		}
	}
	return store.GroupMember{}, sql.ErrNoRows
}

func (m *memStore) GetMembershipByID(_ context.Context, memberID string) (store.GroupMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	member, ok := m.members[memberID]
	if !ok {
		return store.GroupMember{}, sql.ErrNoRows
	}
	return member, nil
}

func (m *memStore) ListMembers(_ context.Context, groupID, status string) ([]store.GroupMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var members []store.GroupMember
	for _, member := range m.members {
		if member.GroupID != groupID {
			continue
		}
		if status != "" && member.Status != status {
			continue
		}
		members = append(members, member)
	}
	return members, nil
}

func (m *memStore) DecideMembership(_ context.Context, memberID, status string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	member, ok := m.members[memberID]
	if !ok || member.Status != store.MemberPending {
		return false, nil
	}
	member.Status = status
	m.members[memberID] = member
	if status == store.MemberApproved {
		group := m.groups[member.GroupID]
		group.MemberCount++
		m.groups[member.GroupID] = group
	}
	return true, nil
}

func (m *memStore) InsertPost(_ context.Context, post store.Post) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	post.CreatedAt = m.now()
	m.posts[post.ID] = post
	group := m.groups[post.GroupID]
	group.PostCount++
	m.groups[post.GroupID] = group
	return nil
}

func (m *memStore) GetPost(_ context.Context, postID string) (store.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	post, ok := m.posts[postID]
	if !ok {
		return store.Post{}, sql.ErrNoRows
	}
	return post, nil
}

func (m *memStore) ListPosts(_ context.Context, groupID string, _ store.PostFilter) ([]store.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var posts []store.Post
	for _, post := range m.posts {
		if post.GroupID == groupID {
			posts = append(posts, post)
		}
	}
	return posts, nil
}

func (m *memStore) GetComment(_ context.Context, commentID string) (store.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	comment, ok := m.comments[commentID]
	if !ok {
		return store.Comment{}, sql.ErrNoRows
	}
	return comment, nil
}

func (m *memStore) InsertComment(_ context.Context, comment store.Comment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	comment.CreatedAt = m.now()
	m.comments[comment.ID] = comment
	post := m.posts[comment.PostID]
	post.CommentCount++
	m.posts[comment.PostID] = post
	return nil
}

func (m *memStore) InsertReply(_ context.Context, reply store.Comment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	reply.CreatedAt = m.now()
	m.comments[reply.ID] = reply
	parent := m.comments[*reply.ParentID]
	parent.ReplyCount++
	m.comments[*reply.ParentID] = parent
	return nil
}

func (m *memStore) ListTopLevelComments(_ context.Context, postID string) ([]store.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var comments []store.Comment
	for _, comment := range m.comments {
		if comment.PostID == postID && comment.ParentID == nil {
			comments = append(comments, comment)
		}
	}
	sort.Slice(comments, func(i, j int) bool {
		return comments[i].CreatedAt.After(comments[j].CreatedAt)
	})
	return comments, nil
}

func (m *memStore) ListReplies(_ context.Context, commentID string) ([]store.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var replies []store.Comment
	for _, comment := range m.comments {
		if comment.ParentID != nil && *comment.ParentID == commentID {
			replies = append(replies, comment)
		}
	}
	sort.Slice(replies, func(i, j int) bool {
		return replies[i].CreatedAt.Before(replies[j].CreatedAt)
	})
	return replies, nil
}

func (m *memStore) InsertLike(_ context.Context, like store.CommentLike) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := like.CommentID + "|" + like.UserID
	if _, exists := m.likes[key]; exists {
		return store.ErrDuplicate
	}
	m.likes[key] = struct{}{}
	comment := m.comments[like.CommentID]
	comment.LikeCount++
	m.comments[like.CommentID] = comment
	return nil
}

func (m *memStore) HasLiked(_ context.Context, commentID, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, exists := m.likes[commentID+"|"+userID]
	return exists, nil
}

func newFlowService(ms *memStore) *Service {
	svc := newTestService(&fakeStore{})
	svc.store = ms
	svc.sessions = &fakeStore{}
	return svc
}

func TestForumFlowApplyApprovePostComment(t *testing.T) {
	ctx := context.Background()
	ms := newMemStore(
		store.User{ID: "usr_owner", NickName: "Alice"},
		store.User{ID: "usr_b", NickName: "Bob"},
	)
	svc := newFlowService(ms)
	owner := Session{UserID: "usr_owner", NickName: "Alice"}
	bob := Session{UserID: "usr_b", NickName: "Bob"}

	created, err := svc.CreateGroup(ctx, owner, CreateGroupInput{
		Name:     "Batfans",
		Category: "DC_UNIVERSE",
		Desc:     "Gotham talk",
	})
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	groupID := created["id"].(string)

	// Bob cannot post before approval.
	if _, err := svc.CreatePost(ctx, bob, groupID, CreatePostInput{Title: "hi", Content: "there"}); err == nil {
		t.Fatal("expected posting to be denied before approval")
	}

	applied, err := svc.ApplyToGroup(ctx, bob, groupID, ApplyToGroupInput{Reason: "big fan"})
	if err != nil {
		t.Fatalf("ApplyToGroup: %v", err)
	}
	memberID := applied["id"].(string)
	if applied["status"] != store.MemberPending {
		t.Fatalf("application status = %v", applied["status"])
	}

	// Still denied while pending.
	if _, err := svc.CreatePost(ctx, bob, groupID, CreatePostInput{Title: "hi", Content: "there"}); err == nil {
		t.Fatal("expected posting to be denied while pending")
	}

	if _, err := svc.DecideMembership(ctx, owner, groupID, memberID, DecideMembershipInput{Status: store.MemberApproved}); err != nil {
		t.Fatalf("DecideMembership: %v", err)
	}
	group, err := ms.GetGroup(ctx, groupID)
	if err != nil {
		t.Fatalf("GetGroup: %v", err)
	}
	if group.MemberCount != 1 {
		t.Fatalf("memberCount = %d, want 1", group.MemberCount)
	}

	post, err := svc.CreatePost(ctx, bob, groupID, CreatePostInput{Title: "First", Content: "Post body"})
	if err != nil {
		t.Fatalf("CreatePost after approval: %v", err)
	}
	postID := post["id"].(string)

	group, _ = ms.GetGroup(ctx, groupID)
	if group.PostCount != 1 {
		t.Fatalf("postCount = %d, want 1", group.PostCount)
	}

	comment, err := svc.CreateComment(ctx, owner, postID, CreateCommentInput{Content: "welcome"})
	if err != nil {
		t.Fatalf("CreateComment: %v", err)
	}
	commentID := comment["id"].(string)

	stored, _ := ms.GetPost(ctx, postID)
	if stored.CommentCount != 1 {
		t.Fatalf("commentCount = %d, want 1", stored.CommentCount)
	}

	reply, err := svc.CreateReply(ctx, bob, commentID, CreateReplyInput{Content: "thanks", ReplyUserID: "usr_owner"})
	if err != nil {
		t.Fatalf("CreateReply: %v", err)
	}
	if reply["parentId"] != commentID {
		t.Fatalf("reply parentId = %v", reply["parentId"])
	}
	parent, _ := ms.GetComment(ctx, commentID)
	if parent.ReplyCount != 1 {
		t.Fatalf("replyCount = %d, want 1", parent.ReplyCount)
	}

	// The reply lives under its parent, never in the top-level listing.
	topLevel, err := svc.ListComments(ctx, postID, "usr_b")
	if err != nil {
		t.Fatalf("ListComments: %v", err)
	}
	if items := topLevel["items"].([]map[string]any); len(items) != 1 || items[0]["id"] != commentID {
		t.Fatalf("top-level comments = %v", topLevel["items"])
	}
	replies, err := svc.ListReplies(ctx, commentID)
	if err != nil {
		t.Fatalf("ListReplies: %v", err)
	}
	if items := replies["items"].([]map[string]any); len(items) != 1 || items[0]["id"] != reply["id"] {
		t.Fatalf("replies = %v", replies["items"])
	}

	liked, err := svc.LikeComment(ctx, bob, commentID)
	if err != nil {
		t.Fatalf("LikeComment: %v", err)
	}
	if liked["likeCount"].(int) != 1 {
		t.Fatalf("likeCount = %v, want 1", liked["likeCount"])
	}
	if _, err := svc.LikeComment(ctx, bob, commentID); err == nil {
		t.Fatal("expected second like to conflict")
	}
}

func TestTopLevelCommentsNewestFirst(t *testing.T) {
	ctx := context.Background()
	ms := newMemStore(store.User{ID: "usr_owner", NickName: "Alice"})
	svc := newFlowService(ms)
	owner := Session{UserID: "usr_owner", NickName: "Alice"}

	created, err := svc.CreateGroup(ctx, owner, CreateGroupInput{Name: "Order", Category: "OTHER"})
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	post, err := svc.CreatePost(ctx, owner, created["id"].(string), CreatePostInput{Title: "t", Content: "c"})
	if err != nil {
		t.Fatalf("CreatePost: %v", err)
	}
	postID := post["id"].(string)

	var createdIDs []string
	for _, content := range []string{"first", "second", "third"} {
		comment, err := svc.CreateComment(ctx, owner, postID, CreateCommentInput{Content: content})
		if err != nil {
			t.Fatalf("CreateComment(%s): %v", content, err)
		}
		createdIDs = append(createdIDs, comment["id"].(string))
	}

	listed, err := svc.ListComments(ctx, postID, "")
	if err != nil {
		t.Fatalf("ListComments: %v", err)
	}
	items := listed["items"].([]map[string]any)
	if len(items) != 3 {
		t.Fatalf("listed %d comments, want 3", len(items))
	}
	for i, item := range items {
		want := createdIDs[len(createdIDs)-1-i]
		if item["id"] != want {
			t.Fatalf("position %d = %v, want %s (newest first)", i, item["id"], want)
		}
	}
}

func TestConcurrentCommentsKeepCounterExact(t *testing.T) {
	ctx := context.Background()
	ms := newMemStore(store.User{ID: "usr_owner", NickName: "Alice"})
	svc := newFlowService(ms)
	owner := Session{UserID: "usr_owner", NickName: "Alice"}

	created, err := svc.CreateGroup(ctx, owner, CreateGroupInput{Name: "Race", Category: "OTHER"})
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	post, err := svc.CreatePost(ctx, owner, created["id"].(string), CreatePostInput{Title: "t", Content: "c"})
	if err != nil {
		t.Fatalf("CreatePost: %v", err)
	}
	postID := post["id"].(string)

	const n = 50
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.CreateComment(ctx, owner, postID, CreateCommentInput{Content: "ping"}); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("CreateComment: %v", err)
	}

	stored, _ := ms.GetPost(ctx, postID)
	if stored.CommentCount != n {
		t.Fatalf("commentCount = %d, want %d", stored.CommentCount, n)
	}
	comments, _ := ms.ListTopLevelComments(ctx, postID)
	if len(comments) != n {
		t.Fatalf("stored comments = %d, want %d", len(comments), n)
	}
}
