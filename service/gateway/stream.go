// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package gateway

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mattermost/sgwd/service/random"
)

const (
	StreamKindAudio = "audio"
	StreamKindVideo = "video"

	StreamRoleMic    = "mic"
	StreamRoleCamera = "camera"
	StreamRoleScreen = "screen"
)

// Stream is a published media flow. Kind and Role are assigned once at
// publish time and carried through all events so consumption sites never have
// to parse identifiers.
type Stream struct {
	ID            string          `json:"streamId"`
	PeerID        string          `json:"peerId"`
	Kind          string          `json:"kind"`
	Role          string          `json:"role"`
	RTPParameters json.RawMessage `json:"rtpParameters,omitempty"`
	AppData       json.RawMessage `json:"appData,omitempty"`
}

func (s *Stream) IsScreen() bool {
	return s.Role == StreamRoleScreen || strings.HasSuffix(s.ID, "_"+StreamRoleScreen)
}

// genStreamID generates a structured stream identifier of the form
// <kind>_<role>_<random>.
func genStreamID(kind, role string) string {
	return kind + "_" + role + "_" + random.NewID()[0:8]
}

// parseStreamID extracts kind and role from a structured stream identifier.
// Identifiers with less than two parts are rejected.
func parseStreamID(id string) (string, string, error) {
	parts := strings.Split(id, "_")
	if len(parts) < 2 {
		return "", "", fmt.Errorf("invalid stream id %q", id)
	}
	return parts[0], parts[1], nil
}

// classifyProduce derives the stream role from the publish metadata and
// flags dummy placeholders. A producer whose metadata explicitly disables its
// own kind (e.g. video:false on a video producer) is a dummy: it keeps the
// negotiation pipeline warm but is never announced to the room.
func classifyProduce(kind string, appData json.RawMessage) (string, bool) {
	role := StreamRoleCamera
	if kind == StreamKindAudio {
		role = StreamRoleMic
	}

	if len(appData) == 0 {
		return role, false
	}
	var meta map[string]any
	if err := json.Unmarshal(appData, &meta); err != nil {
		return role, false
	}

	if v, ok := meta[StreamRoleScreen]; ok {
		if enabled, ok := v.(bool); ok && enabled {
			role = StreamRoleScreen
		}
	}
	if v, ok := meta["mediaType"]; ok {
		if s, ok := v.(string); ok && s == StreamRoleScreen {
			role = StreamRoleScreen
		}
	}

	dummy := false
	if v, ok := meta[kind]; ok {
		if enabled, ok := v.(bool); ok && !enabled {
			dummy = true
		}
	}

	return role, dummy
}

// normalizeStream fills missing Kind/Role tags from the stream identifier.
// It returns an error when the stream carries no usable identity.
func normalizeStream(s *Stream) error {
	if s.ID == "" {
		return fmt.Errorf("invalid stream: empty id")
	}
	if s.Kind != "" && s.Role != "" {
		return nil
	}
	kind, role, err := parseStreamID(s.ID)
	if err != nil {
		return err
	}
	if s.Kind == "" {
		s.Kind = kind
	}
	if s.Role == "" {
		s.Role = role
	}
	return nil
}
