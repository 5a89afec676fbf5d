package core

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/signalsfoundry/sagin-domain-engine/model"
)

// SlotFeed is a parsed placement feed: the node catalog plus one
// positions record per slot. The feed is parsed and validated once;
// per-slot snapshots are built on demand with Snapshot.
type SlotFeed struct {
	totalSlots int
	catalog    []model.Node
	slots      []feedSlotJSON
}

// internal JSON shapes – kept unexported so the exporter format can
// evolve without leaking into the API.
type feedJSON struct {
	TotalSlots int             `json:"total_slots"`
	Nodes      feedCatalogJSON `json:"nodes"`
	TimeSlots  []feedSlotJSON  `json:"time_slots"`
}

type feedCatalogJSON struct {
	Meo    []feedNodeJSON `json:"meo"`
	Leo    []feedNodeJSON `json:"leo"`
	Ground []feedNodeJSON `json:"ground"`
	Haps   []feedNodeJSON `json:"haps"`
}

type feedNodeJSON struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type feedSlotJSON struct {
	// Positions[i] describes the node at catalog position i. A null
	// entry, or an array shorter than the catalog, marks the
	// remaining nodes absent for the slot.
	Positions []*feedPositionJSON `json:"node_positions"`
}

type feedPositionJSON struct {
	Domain     int      `json:"domain"`
	Controller int      `json:"controller"`
	Master     int      `json:"master"` // optional; 0 = none
	Latitude   *float64 `json:"latitude"`
	Longitude  *float64 `json:"longitude"`
	Altitude   *float64 `json:"altitude"` // kilometres
}

// LoadSlotFeed reads a placement feed from r and validates its
// feed-level structure: a non-empty catalog of positive unique node
// ids and a total_slots count covered by the time_slots records.
// Slot-level validation happens in Snapshot, which builds one slot.
func LoadSlotFeed(r io.Reader) (*SlotFeed, error) {
	var payload feedJSON
	dec := json.NewDecoder(r)
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("LoadSlotFeed: %w: decode: %v", ErrMalformedSlotData, err)
	}

	feed := &SlotFeed{
		totalSlots: payload.TotalSlots,
		slots:      payload.TimeSlots,
	}

	appendClass := func(entries []feedNodeJSON, t model.NodeType) {
		for _, e := range entries {
			feed.catalog = append(feed.catalog, model.Node{ID: e.ID, Name: e.Name, Type: t})
		}
	}
	appendClass(payload.Nodes.Meo, model.NodeTypeMasterSat)
	appendClass(payload.Nodes.Leo, model.NodeTypeLEOSat)
	appendClass(payload.Nodes.Ground, model.NodeTypeGround)
	appendClass(payload.Nodes.Haps, model.NodeTypeHAPS)

	if len(feed.catalog) == 0 {
		return nil, fmt.Errorf("LoadSlotFeed: %w: empty node catalog", ErrMalformedSlotData)
	}
	seen := make(map[int]struct{}, len(feed.catalog))
	for _, n := range feed.catalog {
		if n.ID <= 0 {
			return nil, fmt.Errorf("LoadSlotFeed: %w: catalog node id %d is not positive", ErrMalformedSlotData, n.ID)
		}
		if _, dup := seen[n.ID]; dup {
			return nil, fmt.Errorf("LoadSlotFeed: %w: duplicate catalog node id %d", ErrMalformedSlotData, n.ID)
		}
		seen[n.ID] = struct{}{}
	}

	if feed.totalSlots < 1 {
		return nil, fmt.Errorf("LoadSlotFeed: %w: total_slots %d", ErrMalformedSlotData, feed.totalSlots)
	}
	if feed.totalSlots > len(feed.slots) {
		return nil, fmt.Errorf("LoadSlotFeed: %w: total_slots %d exceeds %d time_slots records",
			ErrMalformedSlotData, feed.totalSlots, len(feed.slots))
	}

	return feed, nil
}

// TotalSlots returns the number of slots the feed declares.
func (f *SlotFeed) TotalSlots() int { return f.totalSlots }

// Catalog returns a copy of the node catalog in feed order.
func (f *SlotFeed) Catalog() []model.Node {
	out := make([]model.Node, len(f.catalog))
	copy(out, f.catalog)
	return out
}

// Snapshot builds and validates the snapshot for the given 1-based
// slot. at is the simulation time the slot takes effect.
func (f *SlotFeed) Snapshot(slot int, at time.Time) (*Snapshot, error) {
	if slot < 1 || slot > f.totalSlots {
		return nil, fmt.Errorf("SlotFeed.Snapshot: %w: slot %d outside 1..%d", ErrMalformedSlotData, slot, f.totalSlots)
	}

	positions := f.slots[slot-1].Positions
	if len(positions) > len(f.catalog) {
		return nil, fmt.Errorf("SlotFeed.Snapshot: %w: slot %d has %d positions for %d catalog nodes",
			ErrMalformedSlotData, slot, len(positions), len(f.catalog))
	}

	records := make([]SlotRecord, 0, len(positions))
	for i, pos := range positions {
		if pos == nil {
			// Node absent for this slot.
			continue
		}
		node := f.catalog[i]
		if pos.Latitude != nil && pos.Longitude != nil {
			g := model.Geodetic{LatDeg: *pos.Latitude, LonDeg: *pos.Longitude}
			if pos.Altitude != nil {
				g.AltKm = *pos.Altitude
			}
			node.Position = &g
		}
		records = append(records, SlotRecord{
			Node:         node,
			DomainID:     pos.Domain,
			ControllerID: pos.Controller,
			MasterID:     pos.Master,
		})
	}

	snap, err := NewSnapshot(slot, at, records)
	if err != nil {
		return nil, fmt.Errorf("SlotFeed.Snapshot: slot %d: %w", slot, err)
	}
	return snap, nil
}
