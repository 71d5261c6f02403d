package server

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/MarcoPoloResearchLab/worldcup-tips/internal/invites"
	"github.com/MarcoPoloResearchLab/worldcup-tips/internal/profiles"
	"github.com/MarcoPoloResearchLab/worldcup-tips/internal/store"
	"github.com/gin-gonic/gin"
)

const opSearch = "users.search"

type groupPayload struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	OwnerID   string    `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
}

func newGroupPayload(group store.Group) groupPayload {
	return groupPayload{ID: group.ID, Name: group.Name, OwnerID: group.OwnerID, CreatedAt: group.CreatedAt}
}

type memberPayload struct {
	UserID      string     `json:"user_id"`
	Role        store.Role `json:"role"`
	JoinedAt    time.Time  `json:"joined_at"`
	DisplayName *string    `json:"display_name"`
}

type invitePayload struct {
	ID        string     `json:"id"`
	GroupID   string     `json:"group_id"`
	Token     string     `json:"token"`
	ExpiresAt *time.Time `json:"expires_at"`
	MaxUses   *int       `json:"max_uses"`
	Uses      int        `json:"uses"`
}

type profilePayload struct {
	ID          string  `json:"id"`
	DisplayName *string `json:"display_name"`
}

func newProfilePayload(profile store.Profile) profilePayload {
	return profilePayload{ID: profile.ID, DisplayName: profile.DisplayName}
}

type searchResultPayload struct {
	ID          string  `json:"id"`
	DisplayName *string `json:"display_name"`
	AvatarURL   *string `json:"avatar_url"`
}

type createGroupPayload struct {
	Name string `json:"name"`
}

type createInvitePayload struct {
	ExpiresAt *time.Time `json:"expires_at"`
	MaxUses   *int       `json:"max_uses"`
}

type saveProfilePayload struct {
	DisplayName string `json:"display_name"`
}

func (h *httpHandler) handleCreateGroup(c *gin.Context) {
	var request createGroupPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		respondInvalidBody(c)
		return
	}
	group, err := h.groups.CreateGroup(c.Request.Context(), request.Name, currentUserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondOK(c, http.StatusCreated, gin.H{"group": newGroupPayload(group)})
}

func (h *httpHandler) handleListGroups(c *gin.Context) {
	memberships, err := h.groups.ListMyGroups(c.Request.Context(), currentUserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	payload := make([]groupPayload, 0, len(memberships))
	for _, group := range memberships {
		payload = append(payload, newGroupPayload(group))
	}
	respondOK(c, http.StatusOK, gin.H{"groups": payload})
}

func (h *httpHandler) handleGetGroup(c *gin.Context) {
	group, ok := h.loadMemberGroup(c)
	if !ok {
		return
	}
	respondOK(c, http.StatusOK, gin.H{"group": newGroupPayload(group)})
}

func (h *httpHandler) handleGroupMembers(c *gin.Context) {
	group, ok := h.loadMemberGroup(c)
	if !ok {
		return
	}
	members, err := h.groups.GetGroupMembers(c.Request.Context(), group.ID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	payload := make([]memberPayload, 0, len(members))
	for _, member := range members {
		entry := memberPayload{UserID: member.UserID, Role: member.Role, JoinedAt: member.JoinedAt}
		if member.Profile != nil {
			entry.DisplayName = member.Profile.DisplayName
		}
		payload = append(payload, entry)
	}
	respondOK(c, http.StatusOK, gin.H{"members": payload})
}

// loadMemberGroup resolves the :id group and checks the caller belongs to it.
func (h *httpHandler) loadMemberGroup(c *gin.Context) (store.Group, bool) {
	group, err := h.groups.GetGroup(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return store.Group{}, false
	}
	if err := h.groups.RequireMember(c.Request.Context(), group.ID, currentUserID(c)); err != nil {
		h.respondError(c, err)
		return store.Group{}, false
	}
	return group, true
}

func (h *httpHandler) handleCreateInvite(c *gin.Context) {
	var request createInvitePayload
	if err := c.ShouldBindJSON(&request); err != nil && !errors.Is(err, io.EOF) {
		respondInvalidBody(c)
		return
	}
	invite, err := h.invites.CreateInvite(c.Request.Context(), invites.CreateInviteRequest{
		GroupID:   c.Param("id"),
		IssuerID:  currentUserID(c),
		ExpiresAt: request.ExpiresAt,
		MaxUses:   request.MaxUses,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondOK(c, http.StatusCreated, gin.H{
		"url": invites.JoinURL(requestOrigin(c.Request, h.fallbackHost), invite.Token),
		"invite": invitePayload{
			ID:        invite.ID,
			GroupID:   invite.GroupID,
			Token:     invite.Token,
			ExpiresAt: invite.ExpiresAt,
			MaxUses:   invite.MaxUses,
			Uses:      invite.Uses,
		},
	})
}

func (h *httpHandler) handlePreviewInvite(c *gin.Context) {
	preview, err := h.invites.PreviewInvite(c.Request.Context(), c.Param("token"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"invite": gin.H{
		"token":      preview.Token,
		"group_id":   preview.GroupID,
		"group_name": preview.GroupName,
		"usable":     preview.Usable,
	}})
}

func (h *httpHandler) handleRedeemInvite(c *gin.Context) {
	redemption, err := h.invites.RedeemInvite(c.Request.Context(), c.Param("token"), currentUserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{
		"group_id":       redemption.GroupID,
		"already_member": redemption.AlreadyMember,
	})
}

func (h *httpHandler) handleGetProfile(c *gin.Context) {
	profile, err := h.profiles.GetOrInitProfile(c.Request.Context(), currentUserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"profile": newProfilePayload(profile)})
}

func (h *httpHandler) handleSaveProfile(c *gin.Context) {
	var request saveProfilePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		respondInvalidBody(c)
		return
	}
	profile, err := h.profiles.SaveProfile(c.Request.Context(), currentUserID(c), request.DisplayName)
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"profile": newProfilePayload(profile)})
}

// handleSearchUsers answers short queries before looking at the session so the
// search box can fire on every keystroke.
func (h *httpHandler) handleSearchUsers(c *gin.Context) {
	query := c.Query("q")
	if utf8.RuneCountInString(strings.TrimSpace(query)) < profiles.MinSearchLength {
		c.JSON(http.StatusOK, gin.H{"results": []searchResultPayload{}})
		return
	}
	if _, ok := h.sessionUserID(c); !ok {
		c.JSON(http.StatusUnauthorized, errorBody(messageSignInRequired, opSearch+".not_authenticated"))
		return
	}
	matches, err := h.profiles.SearchProfiles(c.Request.Context(), query)
	if err != nil {
		h.respondError(c, err)
		return
	}
	userIDs := make([]string, 0, len(matches))
	for _, profile := range matches {
		userIDs = append(userIDs, profile.ID)
	}
	avatars, err := h.accounts.AvatarURLs(c.Request.Context(), userIDs)
	if err != nil {
		h.respondError(c, err)
		return
	}
	results := make([]searchResultPayload, 0, len(matches))
	for _, profile := range matches {
		result := searchResultPayload{ID: profile.ID, DisplayName: profile.DisplayName}
		if avatar, ok := avatars[profile.ID]; ok {
			result.AvatarURL = &avatar
		}
		results = append(results, result)
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}
