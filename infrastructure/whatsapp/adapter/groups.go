package adapter

import (
	"context"
	"fmt"

	"github.com/AzielCF/az-wap-broadcast/sessions/domain/session"
	"go.mau.fi/whatsmeow/types"
)

// ListGroups returns the groups the linked account belongs to.
func (wa *WhatsAppClient) ListGroups(ctx context.Context) ([]session.Group, error) {
	cli, err := wa.connected()
	if err != nil {
		return nil, err
	}

	joined, err := cli.GetJoinedGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get joined groups: %w", err)
	}

	groups := make([]session.Group, 0, len(joined))
	for _, g := range joined {
		if g == nil {
			continue
		}
		groups = append(groups, toGroup(g))
	}
	return groups, nil
}

// toGroup uses the newest of the creation, rename and topic timestamps as activity.
func toGroup(g *types.GroupInfo) session.Group {
	activity := g.GroupCreated
	if g.NameSetAt.After(activity) {
		activity = g.NameSetAt
	}
	if g.TopicSetAt.After(activity) {
		activity = g.TopicSetAt
	}
	name := g.Name
	if name == "" {
		name = g.JID.User
	}
	return session.Group{
		ID:               g.JID.String(),
		Name:             name,
		ParticipantCount: len(g.Participants),
		LastActivity:     activity,
	}
}
