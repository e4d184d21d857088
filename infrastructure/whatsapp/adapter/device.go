package adapter

import (
	"context"
	"fmt"

	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/types"
)

// deviceSource is the part of sqlstore.Container used to pick a device.
type deviceSource interface {
	GetDevice(ctx context.Context, jid types.JID) (*store.Device, error)
	GetFirstDevice(ctx context.Context) (*store.Device, error)
	NewDevice() *store.Device
}

// selectDevice loads the paired device of a session or prepares a new one.
// A shared container holds other sessions' devices, so it is only ever read
// by JID. A per-session file holds at most one device.
func selectDevice(ctx context.Context, src deviceSource, deviceJID string, shared bool) (*store.Device, error) {
	if deviceJID != "" {
		jid, err := types.ParseJID(deviceJID)
		if err != nil {
			return nil, fmt.Errorf("invalid device jid %q: %w", deviceJID, err)
		}
		device, err := src.GetDevice(ctx, jid)
		if err != nil {
			return nil, err
		}
		if device != nil {
			return device, nil
		}
	}
	if !shared {
		device, err := src.GetFirstDevice(ctx)
		if err != nil {
			return nil, err
		}
		if device != nil {
			return device, nil
		}
	}
	return src.NewDevice(), nil
}
