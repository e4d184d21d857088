package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/AzielCF/az-wap-broadcast/infrastructure/valkey"
	"github.com/AzielCF/az-wap-broadcast/sessions/domain/session"
	valkeylib "github.com/valkey-io/valkey-go"
)

// ValkeySessionStore implements session.SessionStore on Valkey.
// Keys look like <prefix>:session:<owner>:<id> and hold the JSON snapshot;
// <prefix>:session-owner:<id> records which owner holds the id.
type ValkeySessionStore struct {
	client *valkey.Client
	ttl    time.Duration
}

// NewValkeySessionStore creates a store. A zero ttl keeps snapshots forever.
func NewValkeySessionStore(client *valkey.Client, ttl time.Duration) *ValkeySessionStore {
	return &ValkeySessionStore{client: client, ttl: ttl}
}

func (s *ValkeySessionStore) key(id, owner string) string {
	return s.client.Key("session", owner, id)
}

func (s *ValkeySessionStore) ownerKey(id string) string {
	return s.client.Key("session-owner", id)
}

func (s *ValkeySessionStore) inner() valkeylib.Client {
	return s.client.Inner()
}

// Get returns (nil, nil) if the key does not exist.
func (s *ValkeySessionStore) Get(ctx context.Context, id, owner string) (*session.Snapshot, error) {
	cmd := s.inner().B().Get().Key(s.key(id, owner)).Build()

	data, err := s.inner().Do(ctx, cmd).AsBytes()
	if err != nil {
		if valkeylib.IsValkeyNil(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get session snapshot: %w", err)
	}

	var snap session.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session snapshot: %w", err)
	}
	return &snap, nil
}

func (s *ValkeySessionStore) OwnerOf(ctx context.Context, id string) (string, error) {
	cmd := s.inner().B().Get().Key(s.ownerKey(id)).Build()
	owner, err := s.inner().Do(ctx, cmd).ToString()
	if err != nil {
		if valkeylib.IsValkeyNil(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to get session owner: %w", err)
	}
	return owner, nil
}

func (s *ValkeySessionStore) Upsert(ctx context.Context, snap session.Snapshot) error {
	snap.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal session snapshot: %w", err)
	}

	set := s.inner().B().Set().Key(s.key(snap.ID, snap.Owner)).Value(string(data))
	claim := s.inner().B().Set().Key(s.ownerKey(snap.ID)).Value(snap.Owner)
	cmds := make(valkeylib.Commands, 0, 2)
	if s.ttl > 0 {
		cmds = append(cmds, set.Ex(s.ttl).Build(), claim.Ex(s.ttl).Build())
	} else {
		cmds = append(cmds, set.Build(), claim.Build())
	}
	for _, resp := range s.inner().DoMulti(ctx, cmds...) {
		if err := resp.Error(); err != nil {
			return fmt.Errorf("failed to save session snapshot: %w", err)
		}
	}
	return nil
}

func (s *ValkeySessionStore) Delete(ctx context.Context, id, owner string) error {
	cmd := s.inner().B().Del().Key(s.key(id, owner)).Build()
	if err := s.inner().Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to delete session snapshot: %w", err)
	}

	holder, err := s.OwnerOf(ctx, id)
	if err != nil {
		return err
	}
	if holder != owner {
		return nil
	}
	cmd = s.inner().B().Del().Key(s.ownerKey(id)).Build()
	if err := s.inner().Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to delete session owner: %w", err)
	}
	return nil
}
