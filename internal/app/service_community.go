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

var allowedGroupCategories = map[string]struct{}{
	"DC_UNIVERSE":     {},
	"MARVEL_UNIVERSE": {},
	"DISNEY_UNIVERSE": {},
	"OTHER":           {},
}

var allowedMemberDecisions = map[string]struct{}{
	store.MemberApproved: {},
	store.MemberRejected: {},
}

type CreateGroupInput struct {
	Name       string
	Category   string
	Desc       string
	Notice     string
	FrontImage string
}

type ApplyToGroupInput struct {
	Reason string `json:"reason"`
}

type DecideMembershipInput struct {
	Status string `json:"status"`
}

func (s *Service) CreateGroup(ctx context.Context, session Session, input CreateGroupInput) (map[string]any, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}
	category := strings.ToUpper(strings.TrimSpace(input.Category))
	if _, ok := allowedGroupCategories[category]; !ok {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "invalid category", map[string]any{
			"allowed": []string{"DC_UNIVERSE", "MARVEL_UNIVERSE", "DISNEY_UNIVERSE", "OTHER"},
		})
	}

	group := store.Group{
		ID:         util.NewID("grp"),
		OwnerID:    session.UserID,
		Name:       name,
		Category:   category,
		Desc:       strings.TrimSpace(input.Desc),
		Notice:     strings.TrimSpace(input.Notice),
		FrontImage: input.FrontImage,
	}
	if err := s.store.InsertGroup(ctx, group); err != nil {
		return nil, err
	}

	if s.search != nil {
		s.search.IndexGroup(search.GroupRecord{
			ID:       group.ID,
			Name:     group.Name,
			Category: group.Category,
			Desc:     group.Desc,
		})
	}

	created, err := s.store.GetGroup(ctx, group.ID)
	if err != nil {
		return nil, err
	}
	return s.groupItem(created, ""), nil
}

func (s *Service) ListGroups(ctx context.Context, filter store.GroupFilter) (map[string]any, error) {
	if filter.Category != "" {
		filter.Category = strings.ToUpper(strings.TrimSpace(filter.Category))
		if _, ok := allowedGroupCategories[filter.Category]; !ok {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "invalid category filter", nil)
		}
	}
	groups, err := s.store.ListGroups(ctx, filter)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(groups))
	for _, group := range groups {
		items = append(items, s.groupItem(group, ""))
	}
	return map[string]any{"items": items}, nil
}

// GroupDetail returns a group plus, when the viewer is known, their
// membership status in it.
func (s *Service) GroupDetail(ctx context.Context, groupID, viewerID string) (map[string]any, error) {
	group, err := s.store.GetGroup(ctx, groupID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domainError(http.StatusNotFound, "GROUP_NOT_FOUND", "Group not found", nil)
	}
	if err != nil {
		return nil, err
	}

	membershipStatus := ""
	if viewerID != "" {
		if viewerID == group.OwnerID {
			membershipStatus = "OWNER"
		} else if member, err := s.store.GetMembership(ctx, groupID, viewerID); err == nil {
			membershipStatus = member.Status
		}
	}
	return s.groupItem(group, membershipStatus), nil
}

func (s *Service) groupItem(group store.Group, membershipStatus string) map[string]any {
	frontImageURL := ""
	if s.media != nil {
		frontImageURL = s.media.URL(group.FrontImage)
	}
	item := map[string]any{
		"id":          group.ID,
		"ownerId":     group.OwnerID,
		"name":        group.Name,
		"category":    group.Category,
		"description": group.Desc,
		"notice":      group.Notice,
		"frontImage":  frontImageURL,
		"memberCount": group.MemberCount,
		"postCount":   group.PostCount,
		"createdAt":   group.CreatedAt.Format(time.RFC3339),
	}
	if membershipStatus != "" {
		item["membershipStatus"] = membershipStatus
	}
	return item
}

// ApplyToGroup files a membership application. One row per (group, user)
// pair, ever: a prior application in any state blocks a new one.
func (s *Service) ApplyToGroup(ctx context.Context, session Session, groupID string, input ApplyToGroupInput) (map[string]any, error) {
	group, err := s.store.GetGroup(ctx, groupID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domainError(http.StatusNotFound, "GROUP_NOT_FOUND", "Group not found", nil)
	}
	if err != nil {
		return nil, err
	}
	if group.OwnerID == session.UserID {
		return nil, domainError(http.StatusConflict, "ALREADY_MEMBER", "Group owners do not apply to their own group", nil)
	}

	if existing, err := s.store.GetMembership(ctx, groupID, session.UserID); err == nil {
		return nil, domainError(http.StatusConflict, "ALREADY_MEMBER", "A membership application already exists", map[string]any{
			"status": existing.Status,
		})
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	member := store.GroupMember{
		ID:          util.NewID("mbr"),
		GroupID:     groupID,
		UserID:      session.UserID,
		Status:      store.MemberPending,
		ApplyReason: strings.TrimSpace(input.Reason),
	}
	if err := s.store.InsertMembership(ctx, member); err != nil {
		// Concurrent duplicate lands on the unique constraint instead
		// of the probe above.
		if errors.Is(err, store.ErrDuplicate) {
			return nil, domainError(http.StatusConflict, "ALREADY_MEMBER", "A membership application already exists", nil)
		}
		return nil, err
	}

	return map[string]any{
		"id":      member.ID,
		"groupId": member.GroupID,
		"userId":  member.UserID,
		"status":  member.Status,
	}, nil
}

func (s *Service) ListMembers(ctx context.Context, session Session, groupID, status string) (map[string]any, error) {
	group, err := s.store.GetGroup(ctx, groupID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domainError(http.StatusNotFound, "GROUP_NOT_FOUND", "Group not found", nil)
	}
	if err != nil {
		return nil, err
	}
	if group.OwnerID != session.UserID {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Only the group owner can list members", nil)
	}

	if status != "" {
		status = strings.ToUpper(strings.TrimSpace(status))
		switch status {
		case store.MemberPending, store.MemberApproved, store.MemberRejected:
		default:
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "invalid status filter", nil)
		}
	}

	members, err := s.store.ListMembers(ctx, groupID, status)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(members))
	for _, member := range members {
		items = append(items, map[string]any{
			"id":          member.ID,
			"userId":      member.UserID,
			"nickName":    member.NickName,
			"status":      member.Status,
			"applyReason": member.ApplyReason,
			"createdAt":   member.CreatedAt.Format(time.RFC3339),
		})
	}
	return map[string]any{"groupId": groupID, "items": items}, nil
}

// DecideMembership approves or rejects a pending application. Only the
// group owner decides, and a decision is final.
func (s *Service) DecideMembership(ctx context.Context, session Session, groupID, memberID string, input DecideMembershipInput) (map[string]any, error) {
	group, err := s.store.GetGroup(ctx, groupID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domainError(http.StatusNotFound, "GROUP_NOT_FOUND", "Group not found", nil)
	}
	if err != nil {
		return nil, err
	}
	if group.OwnerID != session.UserID {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Only the group owner can decide applications", nil)
	}

	status := strings.ToUpper(strings.TrimSpace(input.Status))
	if _, ok := allowedMemberDecisions[status]; !ok {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "status must be APPROVED or REJECTED", nil)
	}

	member, err := s.store.GetMembershipByID(ctx, memberID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domainError(http.StatusNotFound, "MEMBER_NOT_FOUND", "Membership application not found", nil)
	}
	if err != nil {
		return nil, err
	}
	if member.GroupID != groupID {
		return nil, domainError(http.StatusNotFound, "MEMBER_NOT_FOUND", "Membership application not found", nil)
	}

	changed, err := s.store.DecideMembership(ctx, memberID, status)
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, domainError(http.StatusConflict, "ALREADY_DECIDED", "Application was already decided", map[string]any{
			"status": member.Status,
		})
	}

	return map[string]any{
		"id":      memberID,
		"groupId": groupID,
		"status":  status,
	}, nil
}
