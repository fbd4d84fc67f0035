// Package community stores each identity's community list: named groups of contacts,
// some flagged as inner circle. Presence visibility consults it from the list owner's side.
package community

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when an owner has no stored list.
var ErrNotFound = errors.New("community: list not found")

type Member struct {
	DID     string    `json:"did"`
	AddedAt time.Time `json:"addedAt"`
}

type Group struct {
	Name          string   `json:"name"`
	IsInnerCircle bool     `json:"isInnerCircle"`
	Members       []Member `json:"members"`
}

// Store persists community lists. Put replaces the owner's whole list.
type Store interface {
	Put(ctx context.Context, owner string, groups []Group) error
	Get(ctx context.Context, owner string) ([]Group, error)
	Delete(ctx context.Context, owner string) error
	IsCommunityMember(ctx context.Context, owner, did string) (bool, error)
	IsInnerCircle(ctx context.Context, owner, did string) (bool, error)
}

// Dedupe removes repeated members inside each group, keeping the first occurrence.
func Dedupe(groups []Group) []Group {
	out := make([]Group, 0, len(groups))
	for _, g := range groups {
		seen := make(map[string]struct{}, len(g.Members))
		members := make([]Member, 0, len(g.Members))
		for _, m := range g.Members {
			if _, dup := seen[m.DID]; dup {
				continue
			}
			seen[m.DID] = struct{}{}
			members = append(members, m)
		}
		g.Members = members
		out = append(out, g)
	}
	return out
}

// Flatten maps every member DID to whether any group containing it is an inner circle.
func Flatten(groups []Group) map[string]bool {
	out := make(map[string]bool)
	for _, g := range groups {
		for _, m := range g.Members {
			out[m.DID] = out[m.DID] || g.IsInnerCircle
		}
	}
	return out
}
