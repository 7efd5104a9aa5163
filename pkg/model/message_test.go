package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncodeDecodeKeyframe(t *testing.T) {
	payload, err := EncodeKeyframe(96000)
	assert.NoError(t, err)

	msg, err := DecodeSyncMessage(payload)
	assert.NoError(t, err)
	assert.Equal(t, KindKeyframe, msg.Kind)
	assert.Equal(t, uint32(96000), msg.Timestamp)
}

func TestEncodeDecodeModeUpdate(t *testing.T) {
	payload, err := EncodeModeUpdate(ModeSynced, 42)
	assert.NoError(t, err)

	msg, err := DecodeSyncMessage(payload)
	assert.NoError(t, err)
	assert.Equal(t, KindModeUpdate, msg.Kind)
	assert.Equal(t, ModeSynced, msg.Mode)
	assert.Equal(t, uint32(42), msg.Timestamp)
}

func TestDecodeSyncMessage(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantErr bool
		want    *SyncMessage
	}{
		{
			name:    "keyframe",
			payload: `{"msg":"KEYFRAME","timestamp":1234}`,
			want:    &SyncMessage{Kind: KindKeyframe, Timestamp: 1234},
		},
		{
			name:    "solo_mode_update",
			payload: `{"msg":1,"timestamp":0}`,
			want:    &SyncMessage{Kind: KindModeUpdate, Mode: ModeSolo},
		},
		{
			name:    "synced_mode_update",
			payload: `{"msg":2,"timestamp":7}`,
			want:    &SyncMessage{Kind: KindModeUpdate, Mode: ModeSynced, Timestamp: 7},
		},
		{
			name:    "not_json",
			payload: `KEYFRAME`,
			wantErr: true,
		},
		{
			name:    "missing_msg",
			payload: `{"timestamp":1}`,
			wantErr: true,
		},
		{
			name:    "missing_timestamp",
			payload: `{"msg":"KEYFRAME"}`,
			wantErr: true,
		},
		{
			name:    "unknown_string_msg",
			payload: `{"msg":"RESET","timestamp":1}`,
			wantErr: true,
		},
		{
			name:    "unknown_mode_number",
			payload: `{"msg":9,"timestamp":1}`,
			wantErr: true,
		},
		{
			name:    "wrong_msg_type",
			payload: `{"msg":[1],"timestamp":1}`,
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := DecodeSyncMessage([]byte(tt.payload))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, msg)
		})
	}
}
