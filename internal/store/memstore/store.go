// Package memstore is an in-process implementation of store.Store used to test
// the services without a database. Transactions are serialized and a failed
// transaction restores the snapshot taken when it started. Calls made outside
// WithTx do not wait for a running transaction, so a rollback also discards
// anything they wrote in the meantime. Tests must not mix the two concurrently.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/MarcoPoloResearchLab/worldcup-tips/internal/store"
)

// Operation names accepted by Fail and CallCount.
const (
	OpGetProfile        = "GetProfile"
	OpListProfilesByIDs = "ListProfilesByIDs"
	OpUpsertProfile     = "UpsertProfile"
	OpSearchProfiles    = "SearchProfiles"
	OpCreateGroup       = "CreateGroup"
	OpGetGroup          = "GetGroup"
	OpListGroupsForUser = "ListGroupsForUser"
	OpAddMember         = "AddMember"
	OpListMembers       = "ListMembers"
	OpIsMember          = "IsMember"
	OpCreateInvite      = "CreateInvite"
	OpGetInviteByToken  = "GetInviteByToken"
	OpIncrementUses     = "IncrementUses"
)

type memberKey struct {
	groupID string
	userID  string
}

type tables struct {
	profiles   map[string]store.Profile
	groups     map[string]store.Group
	groupOrder []string
	members    []store.GroupMember
	invites    map[string]store.GroupInvite
}

func (t tables) clone() tables {
	cloned := tables{
		profiles:   make(map[string]store.Profile, len(t.profiles)),
		groups:     make(map[string]store.Group, len(t.groups)),
		groupOrder: append([]string(nil), t.groupOrder...),
		members:    append([]store.GroupMember(nil), t.members...),
		invites:    make(map[string]store.GroupInvite, len(t.invites)),
	}
	for key, value := range t.profiles {
		cloned.profiles[key] = value
	}
	for key, value := range t.groups {
		cloned.groups[key] = value
	}
	for key, value := range t.invites {
		cloned.invites[key] = value
	}
	return cloned
}

// Store is safe for concurrent use.
type Store struct {
	txMu     sync.Mutex
	mu       sync.Mutex
	data     tables
	calls    map[string]int
	failures map[string]error
}

// New returns an empty store.
func New() *Store {
	return &Store{
		data: tables{
			profiles: map[string]store.Profile{},
			groups:   map[string]store.Group{},
			invites:  map[string]store.GroupInvite{},
		},
		calls:    map[string]int{},
		failures: map[string]error{},
	}
}

// Fail makes every subsequent call of operation return err. A nil err clears it.
func (s *Store) Fail(operation string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, operation)
		return
	}
	s.failures[operation] = err
}

// CallCount reports how many times operation has been invoked.
func (s *Store) CallCount(operation string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[operation]
}

// MemberCount returns the number of membership rows for a group and user.
func (s *Store) MemberCount(groupID, userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, member := range s.data.members {
		if member.GroupID == groupID && member.UserID == userID {
			count++
		}
	}
	return count
}

func (s *Store) Profiles() store.Profiles { return &profilesRepo{s: s} }
func (s *Store) Groups() store.Groups     { return &groupsRepo{s: s} }
func (s *Store) Members() store.Members   { return &membersRepo{s: s} }
func (s *Store) Invites() store.Invites   { return &invitesRepo{s: s} }

// WithTx serializes transactions and rolls back to a snapshot when fn fails.
// The rollback replaces every table, including rows written by concurrent
// non-transactional calls.
func (s *Store) WithTx(ctx context.Context, fn func(tx store.Store) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapshot := s.data.clone()
	s.mu.Unlock()

	if err := fn(s); err != nil {
		s.mu.Lock()
		s.data = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

// begin records the call and returns the injected failure, if any. Callers hold s.mu.
func (s *Store) begin(operation string) error {
	s.calls[operation]++
	return s.failures[operation]
}

type profilesRepo struct{ s *Store }

func (r *profilesRepo) GetProfile(_ context.Context, userID string) (store.Profile, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.begin(OpGetProfile); err != nil {
		return store.Profile{}, err
	}
	profile, ok := r.s.data.profiles[userID]
	if !ok {
		return store.Profile{}, store.ErrNotFound
	}
	return profile, nil
}

func (r *profilesRepo) ListProfilesByIDs(_ context.Context, userIDs []string) ([]store.Profile, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.begin(OpListProfilesByIDs); err != nil {
		return nil, err
	}
	var profiles []store.Profile
	for _, userID := range userIDs {
		if profile, ok := r.s.data.profiles[userID]; ok {
			profiles = append(profiles, profile)
		}
	}
	return profiles, nil
}

func (r *profilesRepo) UpsertProfile(_ context.Context, profile store.Profile) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.begin(OpUpsertProfile); err != nil {
		return err
	}
	r.s.data.profiles[profile.ID] = profile.WithSearchKey()
	return nil
}

func (r *profilesRepo) SearchProfiles(_ context.Context, substring string, limit int) ([]store.Profile, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.begin(OpSearchProfiles); err != nil {
		return nil, err
	}
	needle := store.SearchKey(substring)
	var profiles []store.Profile
	for _, profile := range r.s.data.profiles {
		if profile.DisplayNameSearch == nil {
			continue
		}
		if strings.Contains(*profile.DisplayNameSearch, needle) {
			profiles = append(profiles, profile)
		}
	}
	sort.Slice(profiles, func(i, j int) bool {
		return *profiles[i].DisplayName < *profiles[j].DisplayName
	})
	if limit > 0 && len(profiles) > limit {
		profiles = profiles[:limit]
	}
	return profiles, nil
}

type groupsRepo struct{ s *Store }

func (r *groupsRepo) CreateGroup(_ context.Context, group store.Group) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.begin(OpCreateGroup); err != nil {
		return err
	}
	if _, exists := r.s.data.groups[group.ID]; exists {
		return store.ErrAlreadyExists
	}
	r.s.data.groups[group.ID] = group
	r.s.data.groupOrder = append(r.s.data.groupOrder, group.ID)
	return nil
}

func (r *groupsRepo) GetGroup(_ context.Context, groupID string) (store.Group, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.begin(OpGetGroup); err != nil {
		return store.Group{}, err
	}
	group, ok := r.s.data.groups[groupID]
	if !ok {
		return store.Group{}, store.ErrNotFound
	}
	return group, nil
}

func (r *groupsRepo) ListGroupsForUser(_ context.Context, userID string) ([]store.Group, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.begin(OpListGroupsForUser); err != nil {
		return nil, err
	}
	memberOf := map[string]struct{}{}
	for _, member := range r.s.data.members {
		if member.UserID == userID {
			memberOf[member.GroupID] = struct{}{}
		}
	}
	var groups []store.Group
	for _, groupID := range r.s.data.groupOrder {
		if _, ok := memberOf[groupID]; ok {
			groups = append(groups, r.s.data.groups[groupID])
		}
	}
	return groups, nil
}

type membersRepo struct{ s *Store }

func (r *membersRepo) AddMember(_ context.Context, member store.GroupMember) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.begin(OpAddMember); err != nil {
		return err
	}
	key := memberKey{groupID: member.GroupID, userID: member.UserID}
	for _, existing := range r.s.data.members {
		if (memberKey{groupID: existing.GroupID, userID: existing.UserID}) == key {
			return store.ErrAlreadyExists
		}
	}
	if member.Role == "" {
		member.Role = store.RoleMember
	}
	r.s.data.members = append(r.s.data.members, member)
	return nil
}

func (r *membersRepo) ListMembers(_ context.Context, groupID string) ([]store.GroupMember, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.begin(OpListMembers); err != nil {
		return nil, err
	}
	var members []store.GroupMember
	for _, member := range r.s.data.members {
		if member.GroupID == groupID {
			members = append(members, member)
		}
	}
	return members, nil
}

func (r *membersRepo) IsMember(_ context.Context, groupID, userID string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.begin(OpIsMember); err != nil {
		return false, err
	}
	for _, member := range r.s.data.members {
		if member.GroupID == groupID && member.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}

type invitesRepo struct{ s *Store }

func (r *invitesRepo) CreateInvite(_ context.Context, invite store.GroupInvite) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.begin(OpCreateInvite); err != nil {
		return err
	}
	for _, existing := range r.s.data.invites {
		if existing.ID == invite.ID || existing.Token == invite.Token {
			return store.ErrAlreadyExists
		}
	}
	r.s.data.invites[invite.ID] = invite
	return nil
}

func (r *invitesRepo) GetInviteByToken(_ context.Context, token string) (store.GroupInvite, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.begin(OpGetInviteByToken); err != nil {
		return store.GroupInvite{}, err
	}
	for _, invite := range r.s.data.invites {
		if invite.Token == token {
			return invite, nil
		}
	}
	return store.GroupInvite{}, store.ErrNotFound
}

func (r *invitesRepo) IncrementUses(_ context.Context, inviteID string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.begin(OpIncrementUses); err != nil {
		return false, err
	}
	invite, ok := r.s.data.invites[inviteID]
	if !ok || invite.Exhausted() {
		return false, nil
	}
	invite.Uses++
	r.s.data.invites[inviteID] = invite
	return true, nil
}
