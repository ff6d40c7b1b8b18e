/*
NAME
  channel.go - the tunable-channel list a config file's [[channels]]
  entries are turned into.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package channel holds the tunable-channel list built from config, and
// the per-delivery-system tuning parameters a Tuner needs to act on one.
package channel

import (
	"fmt"

	"github.com/siketyan/chibitv/internal/config"
)

// IsdbS holds the tuning parameters for an ISDB-S channel: a carrier
// frequency in kHz and the TMCC stream_id distinguishing it from others
// sharing that carrier.
type IsdbS struct {
	Frequency uint32
	StreamID  uint32
}

// Channel is one entry of the tunable-channel list, identified by its
// position in that list.
type Channel struct {
	ID      int
	Name    string
	IsdbS   *IsdbS
}

// FromConfig builds the channel list from cfg's [[channels]] entries, in
// order, assigning ids 0..n-1.
func FromConfig(entries []config.ChannelConfig) ([]Channel, error) {
	channels := make([]Channel, 0, len(entries))
	for i, e := range entries {
		ch := Channel{ID: i, Name: e.Name}
		switch e.DeliverySystem {
		case config.DeliverySystemIsdbS:
			ch.IsdbS = &IsdbS{Frequency: e.Frequency, StreamID: e.StreamID}
		default:
			return nil, fmt.Errorf("channel: unknown delivery system %q for channel %q", e.DeliverySystem, e.Name)
		}
		channels = append(channels, ch)
	}
	return channels, nil
}
