// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package gateway

import (
	"context"
	"sync"

	"github.com/mattermost/mattermost/server/public/shared/mlog"
)

// SessionRegistry maintains four consistent projections of the relation
// between live connections, participant identities and rooms. It is the only
// gateway local state. The room registry backend remains the tie-breaking
// source of truth whenever the two disagree.
type SessionRegistry struct {
	backend RoomRegistry
	log     mlog.LoggerIFace

	peers map[string]string       // connID -> peerID
	conns map[string]string       // peerID -> connID
	rooms map[string]string       // peerID -> roomID
	cache map[string]*Participant // roomID/peerID -> cached snapshot

	mut sync.RWMutex
}

func NewSessionRegistry(backend RoomRegistry, log mlog.LoggerIFace) *SessionRegistry {
	return &SessionRegistry{
		backend: backend,
		log:     log,
		peers:   make(map[string]string),
		conns:   make(map[string]string),
		rooms:   make(map[string]string),
		cache:   make(map[string]*Participant),
	}
}

func cacheKey(roomID, peerID string) string {
	return roomID + "/" + peerID
}

// Bind maps the given connection to the peer and room, optionally caching the
// participant snapshot. A peer rebinding to a new connection drops its
// previous mapping.
func (r *SessionRegistry) Bind(connID, peerID, roomID string, p *Participant) {
	r.mut.Lock()
	defer r.mut.Unlock()

	if prev, ok := r.conns[peerID]; ok && prev != connID {
		delete(r.peers, prev)
	}

	r.peers[connID] = peerID
	r.conns[peerID] = connID
	r.rooms[peerID] = roomID
	if p != nil {
		r.cache[cacheKey(roomID, peerID)] = p
	}
}

// Unbind removes all mappings for the given connection. It is idempotent and
// reports the identity that was bound, if any.
func (r *SessionRegistry) Unbind(connID string) (string, string, bool) {
	r.mut.Lock()
	defer r.mut.Unlock()

	peerID, ok := r.peers[connID]
	if !ok {
		return "", "", false
	}
	roomID := r.rooms[peerID]

	delete(r.peers, connID)
	if r.conns[peerID] == connID {
		delete(r.conns, peerID)
		delete(r.rooms, peerID)
	}
	delete(r.cache, cacheKey(roomID, peerID))

	return peerID, roomID, true
}

func (r *SessionRegistry) PeerOf(connID string) (string, bool) {
	r.mut.RLock()
	defer r.mut.RUnlock()
	peerID, ok := r.peers[connID]
	return peerID, ok
}

func (r *SessionRegistry) ConnOf(peerID string) (string, bool) {
	r.mut.RLock()
	defer r.mut.RUnlock()
	connID, ok := r.conns[peerID]
	return connID, ok
}

// RoomOf resolves the room a connection belongs to, through its peer.
func (r *SessionRegistry) RoomOf(connID string) (string, bool) {
	r.mut.RLock()
	defer r.mut.RUnlock()
	peerID, ok := r.peers[connID]
	if !ok {
		return "", false
	}
	roomID, ok := r.rooms[peerID]
	return roomID, ok
}

// Rooms returns all rooms known through local mappings.
func (r *SessionRegistry) Rooms() []string {
	r.mut.RLock()
	defer r.mut.RUnlock()
	seen := make(map[string]bool, len(r.rooms))
	var rooms []string
	for _, roomID := range r.rooms {
		if !seen[roomID] {
			seen[roomID] = true
			rooms = append(rooms, roomID)
		}
	}
	return rooms
}

// ConnsInRoom returns the live connection IDs of all peers currently mapped
// to the given room, excluding the given peers.
func (r *SessionRegistry) ConnsInRoom(roomID string, excludePeers ...string) []string {
	r.mut.RLock()
	defer r.mut.RUnlock()

	var conns []string
	for peerID, room := range r.rooms {
		if room != roomID {
			continue
		}
		excluded := false
		for _, ex := range excludePeers {
			if peerID == ex {
				excluded = true
				break
			}
		}
		if excluded {
			continue
		}
		if connID, ok := r.conns[peerID]; ok {
			conns = append(conns, connID)
		}
	}
	return conns
}

// CachedParticipant resolves a participant through a graceful degradation
// order: local cache first, then local mappings, finally a remote lookup
// which repopulates the local state on success. A failing remote lookup
// surfaces as "not found", never as an error.
func (r *SessionRegistry) CachedParticipant(ctx context.Context, roomID, peerID string) *Participant {
	r.mut.RLock()
	if p, ok := r.cache[cacheKey(roomID, peerID)]; ok {
		r.mut.RUnlock()
		return p
	}
	if connID, ok := r.conns[peerID]; ok && r.rooms[peerID] == roomID {
		r.mut.RUnlock()
		return &Participant{
			PeerID: peerID,
			ConnID: connID,
			RoomID: roomID,
		}
	}
	r.mut.RUnlock()

	if r.backend == nil {
		return nil
	}

	p, err := r.backend.GetParticipantByPeerID(ctx, roomID, peerID)
	if err != nil {
		r.log.Debug("registry: remote participant lookup failed",
			mlog.Err(err), mlog.String("roomID", roomID), mlog.String("peerID", peerID))
		return nil
	}

	r.mut.Lock()
	r.cache[cacheKey(roomID, peerID)] = p
	if p.ConnID != "" {
		r.peers[p.ConnID] = peerID
		r.conns[peerID] = p.ConnID
		r.rooms[peerID] = roomID
	}
	r.mut.Unlock()

	return p
}

// UpdateCache refreshes the cached snapshot for an already known participant.
func (r *SessionRegistry) UpdateCache(roomID string, p *Participant) {
	if p == nil {
		return
	}
	r.mut.Lock()
	r.cache[cacheKey(roomID, p.PeerID)] = p
	r.mut.Unlock()
}
