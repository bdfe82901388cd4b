package wire

import (
	"strings"
	"testing"
)

func TestParseClientEnvelope(t *testing.T) {
	cases := []struct {
		name    string
		in      string
		wantErr string
	}{
		{
			name: "chat message",
			in:   `{"type":"chat-message","payload":{"text":"hi","timestamp":"2026-01-01T00:00:00Z"}}`,
		},
		{
			name: "targeted offer",
			in:   `{"type":"offer","targetId":"peer-b","payload":{"type":"offer","sdp":"v=0"}}`,
		},
		{
			name: "toggle mute all without target",
			in:   `{"type":"toggle-mute-all","payload":{"isMuted":true}}`,
		},
		{
			name:    "offer without target",
			in:      `{"type":"offer","payload":{}}`,
			wantErr: "requires targetId",
		},
		{
			name:    "unknown type",
			in:      `{"type":"self-destruct"}`,
			wantErr: "unsupported message type",
		},
		{
			name:    "server-only type from client",
			in:      `{"type":"init"}`,
			wantErr: "server-originated",
		},
		{
			name:    "empty type",
			in:      `{"payload":{}}`,
			wantErr: "unsupported message type",
		},
		{
			name:    "trailing data",
			in:      `{"type":"reaction","payload":{"emoji":"x"}}{"type":"reaction"}`,
			wantErr: "trailing data",
		},
		{
			name:    "not json",
			in:      `nonsense`,
			wantErr: "decode envelope",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env, err := ParseClientEnvelope([]byte(tc.in))
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("ParseClientEnvelope(%s): %v", tc.in, err)
				}
				if env.Type == "" {
					t.Fatalf("parsed envelope has empty type")
				}
				return
			}
			if err == nil {
				t.Fatalf("ParseClientEnvelope(%s): expected error containing %q, got nil", tc.in, tc.wantErr)
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("error %q does not contain %q", err, tc.wantErr)
			}
		})
	}
}

func TestParseClientEnvelopeKeepsClientSenderID(t *testing.T) {
	// The parser leaves senderId as received; stamping the authoritative
	// identity is the relay's job on every inbound frame.
	env, err := ParseClientEnvelope([]byte(`{"type":"chat-message","senderId":"spoofed","payload":{"text":"x"}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if env.SenderID != "spoofed" {
		t.Fatalf("SenderID = %q, want the raw wire value", env.SenderID)
	}
}

func TestHostGatedCoversAllHostActions(t *testing.T) {
	for _, typ := range []Type{TypeToggleMuteAll, TypeRequestUnmute, TypeForceMute} {
		if !HostGated(typ) {
			t.Errorf("HostGated(%q) = false", typ)
		}
	}
	for _, typ := range []Type{TypeOffer, TypeAnswer, TypeICECandidate, TypeChatMessage,
		TypeReaction, TypeDeclineUnmute, TypeAcceptedUnmuteRequest,
		TypePersonalMuteToggle, TypeLocalAudioStateChanged} {
		if HostGated(typ) {
			t.Errorf("HostGated(%q) = true", typ)
		}
	}
}

func TestTargeted(t *testing.T) {
	for _, typ := range []Type{TypeOffer, TypeAnswer, TypeICECandidate, TypeRequestUnmute, TypeForceMute} {
		if !Targeted(typ) {
			t.Errorf("Targeted(%q) = false", typ)
		}
	}
	if Targeted(TypeChatMessage) {
		t.Errorf("Targeted(chat-message) = true")
	}
}

func TestDecodePayload(t *testing.T) {
	env := Envelope{Type: TypeToggleMuteAll, Payload: MustPayload(MuteAllPayload{IsMuted: true})}

	var p MuteAllPayload
	if err := DecodePayload(env, &p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !p.IsMuted {
		t.Fatalf("IsMuted = false, want true")
	}

	if err := DecodePayload(Envelope{Type: TypeToggleMuteAll}, &p); err == nil {
		t.Fatalf("expected error for missing payload")
	}
}
