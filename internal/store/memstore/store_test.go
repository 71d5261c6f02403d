package memstore

import (
	"context"
	"errors"
	"testing"

	"github.com/MarcoPoloResearchLab/worldcup-tips/internal/store"
	"github.com/stretchr/testify/require"
)

func TestWithTxRestoresSnapshotOnError(t *testing.T) {
	ctx := context.Background()
	s := New()
	name := "Ana"
	require.NoError(t, s.Profiles().UpsertProfile(ctx, store.Profile{ID: "u1", DisplayName: &name}))

	failure := errors.New("abort")
	err := s.WithTx(ctx, func(tx store.Store) error {
		require.NoError(t, tx.Groups().CreateGroup(ctx, store.Group{ID: "g1", Name: "Office", OwnerID: "u1"}))
		require.NoError(t, tx.Members().AddMember(ctx, store.GroupMember{GroupID: "g1", UserID: "u1", Role: store.RoleOwner}))
		require.NoError(t, tx.Profiles().UpsertProfile(ctx, store.Profile{ID: "u1"}))
		return failure
	})
	require.ErrorIs(t, err, failure)

	_, err = s.Groups().GetGroup(ctx, "g1")
	require.ErrorIs(t, err, store.ErrNotFound)
	require.Zero(t, s.MemberCount("g1", "u1"))
	profile, err := s.Profiles().GetProfile(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "Ana", *profile.DisplayName)
}

func TestWithTxKeepsWritesOnSuccess(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.WithTx(ctx, func(tx store.Store) error {
		return tx.Groups().CreateGroup(ctx, store.Group{ID: "g1", Name: "Office", OwnerID: "u1"})
	}))

	group, err := s.Groups().GetGroup(ctx, "g1")
	require.NoError(t, err)
	require.Equal(t, "Office", group.Name)
}

func TestSearchProfilesFoldsNonASCIILetters(t *testing.T) {
	ctx := context.Background()
	s := New()
	name := "Åsa Öberg"
	require.NoError(t, s.Profiles().UpsertProfile(ctx, store.Profile{ID: "u1", DisplayName: &name}))
	require.NoError(t, s.Profiles().UpsertProfile(ctx, store.Profile{ID: "u2"}))

	results, err := s.Profiles().SearchProfiles(ctx, "ÖBERG", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "u1", results[0].ID)
	require.Equal(t, 1, s.CallCount(OpSearchProfiles))
}
