package transform

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	v1 "github.com/landale/eventpipe/internal/api/v1"
	"github.com/landale/eventpipe/internal/validation"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)

func newTestTransformer(critical ...string) *Transformer {
	tr := New(critical)
	tr.now = func() time.Time { return fixedNow }
	return tr
}

func chatPayload() map[string]interface{} {
	return map[string]interface{}{
		"chatter_user_id":    "42",
		"chatter_user_login": "chatter",
		"chatter_user_name":  "Chatter",
		"message_id":         "msg-1",
		"message": map[string]interface{}{
			"text": "hi avalonHYPE Kappa",
			"fragments": []interface{}{
				map[string]interface{}{"type": "text", "text": "hi "},
				map[string]interface{}{"type": "emote", "text": "avalonHYPE"},
				map[string]interface{}{"type": "text", "text": " "},
				map[string]interface{}{"type": "emote", "text": "Kappa"},
			},
		},
		"badges": []interface{}{
			map[string]interface{}{"set_id": "subscriber", "id": "12"},
		},
	}
}

// nativeSamples holds one representative payload per mapped type.
func nativeSamples() map[string]map[string]interface{} {
	return map[string]map[string]interface{}{
		"channel.chat.message": chatPayload(),
		"channel.follow": {
			"user_id": "1", "user_login": "a", "user_name": "A",
			"followed_at": "2026-03-01T19:59:00Z",
		},
		"channel.subscribe":            {"user_id": "2", "user_login": "b", "tier": "2000", "is_gift": false},
		"channel.subscription.gift":    {"user_id": "3", "user_login": "c", "tier": "1000", "total": float64(5), "is_anonymous": false},
		"channel.subscription.message": {"user_id": "4", "user_login": "d", "tier": "3000", "cumulative_months": float64(12), "message": map[string]interface{}{"text": "hey"}},
		"channel.cheer":                {"user_login": "e", "bits": float64(100), "message": "cheer100", "is_anonymous": false},
		"channel.raid":                 {"from_broadcaster_user_id": "5", "from_broadcaster_user_login": "raider", "viewers": float64(30)},
		"channel.update":               {"title": "New title", "category_name": "Pokemon"},
		"stream.online":                {"broadcaster_user_id": "6", "type": "live", "started_at": "2026-03-01T19:00:00Z"},
		"stream.offline":               {"broadcaster_user_id": "6"},
		"channel.channel_points_custom_reward_redemption.add": {
			"id": "r-1", "user_id": "7", "user_login": "f", "user_input": "play a song",
			"reward":      map[string]interface{}{"id": "rw", "title": "Song", "cost": float64(500)},
			"redeemed_at": "2026-03-01T19:30:00Z",
		},
		"obs.scene.changed":      {"scene_name": "Gameplay"},
		"obs.stream.started":     {"output_active": true},
		"obs.stream.stopped":     {"output_active": false},
		"obs.recording.started":  {"output_active": true, "output_path": "/tmp/rec.mkv"},
		"obs.recording.stopped":  {"output_active": false},
		"ironmon.init":           {"metadata": map[string]interface{}{"game_type": "emerald", "version": "1.0"}},
		"ironmon.seed":           {"metadata": map[string]interface{}{"count": float64(42)}},
		"ironmon.checkpoint":     {"metadata": map[string]interface{}{"id": float64(3), "name": "LAB"}},
		"ironmon.location":       {"metadata": map[string]interface{}{"id": float64(10)}},
		"ironmon.battle_started": {"metadata": map[string]interface{}{"is_wild": true}},
		"ironmon.battle_ended":   {"metadata": map[string]interface{}{"player_won": true}},
		"rainwave.song_changed":  {"title": "Song", "artists": []interface{}{"One", "Two"}, "station_id": float64(1)},
	}
}

func TestSourceFor(t *testing.T) {
	tests := map[string]v1.Source{
		"channel.follow":        v1.SourceTwitch,
		"stream.online":         v1.SourceTwitch,
		"obs.scene.changed":     v1.SourceOBS,
		"ironmon.location":      v1.SourceIronmon,
		"rainwave.song_changed": v1.SourceRainwave,
		"system.started":        v1.SourceSystem,
		"stream_stopped":        v1.SourceOBS,
		"service_down":          v1.SourceSystem,
		"totally.unknown":       v1.SourceSystem,
		"":                      v1.SourceSystem,
	}
	for eventType, want := range tests {
		require.Equal(t, want, SourceFor(eventType), eventType)
	}
}

func TestFromSource_ChatMessage(t *testing.T) {
	tr := newTestTransformer()
	evt := tr.FromSource("channel.chat.message", chatPayload())

	require.Equal(t, v1.SourceTwitch, evt.Source)
	require.Equal(t, "msg-1", evt.Metadata.CorrelationID)
	require.Equal(t, "42", evt.Payload["user_id"])
	require.Equal(t, "chatter", evt.Payload["username"])
	require.Equal(t, "Chatter", evt.Payload["display_name"])
	require.Equal(t, "hi avalonHYPE Kappa", evt.Payload["text"])
	require.Equal(t, []interface{}{"avalonHYPE", "Kappa"}, evt.Payload["emotes"])
	require.Equal(t, []interface{}{"avalonHYPE"}, evt.Payload["native_emotes"])
	require.Equal(t, true, evt.Payload["is_subscriber"])
	require.Equal(t, false, evt.Payload["is_moderator"])

	// native shape is kept
	require.IsType(t, map[string]interface{}{}, evt.Payload["message"])
	require.Equal(t, "42", evt.Payload["chatter_user_id"])
}

func TestFromSource_DerivedEmotesStayWithinSchema(t *testing.T) {
	manyEmotes := func() map[string]interface{} {
		fragments := []interface{}{
			map[string]interface{}{"type": "emote", "text": strings.Repeat("x", 80)},
		}
		for i := 0; i < 150; i++ {
			fragments = append(fragments, map[string]interface{}{"type": "emote", "text": fmt.Sprintf("avalonE%d", i)})
		}
		p := chatPayload()
		p["message"] = map[string]interface{}{"text": "emote wall", "fragments": fragments}
		return p
	}

	val := validation.New()
	_, err := val.Validate("channel.chat.message", manyEmotes())
	require.NoError(t, err)

	evt := newTestTransformer().FromSource("channel.chat.message", manyEmotes())
	_, err = val.Validate("channel.chat.message", evt.Payload)
	require.NoError(t, err)

	emotes := evt.Payload["emotes"].([]interface{})
	require.Len(t, emotes, validation.MaxEmotes)
	require.Equal(t, "avalonE0", emotes[0])
}

func TestFromSource_NeverOverwritesNativeKeys(t *testing.T) {
	tr := newTestTransformer()
	evt := tr.FromSource("channel.follow", map[string]interface{}{
		"user_id":    "1",
		"user_login": "a",
		"username":   "native-value",
	})
	require.Equal(t, "native-value", evt.Payload["username"])
}

func TestFromSource_UnknownTypePassesThrough(t *testing.T) {
	tr := newTestTransformer()
	native := map[string]interface{}{"foo": "bar", "nested": map[string]interface{}{"x": float64(1)}}

	evt := tr.FromSource("custom.thing", native)

	require.Equal(t, "custom.thing", evt.Type)
	require.Equal(t, v1.SourceSystem, evt.Source)
	require.Equal(t, native, evt.Payload)
	require.Equal(t, v1.PriorityNormal, evt.Metadata.Priority)
}

func TestFromSource_FlattensGameMetadata(t *testing.T) {
	tr := newTestTransformer()
	evt := tr.FromSource("ironmon.checkpoint", map[string]interface{}{
		"metadata": map[string]interface{}{"id": float64(3), "name": "LAB"},
	})
	require.Equal(t, v1.SourceIronmon, evt.Source)
	require.Equal(t, float64(3), evt.Payload["id"])
	require.Equal(t, "LAB", evt.Payload["name"])
	require.Contains(t, evt.Payload, "metadata")
}

func TestFromSource_CriticalTypes(t *testing.T) {
	tr := newTestTransformer("stream_stopped")

	evt := tr.FromSource("stream_stopped", map[string]interface{}{})
	require.True(t, evt.IsCritical())
	require.True(t, evt.PriorityExplicit())

	evt = tr.FromSource("obs.scene.changed", map[string]interface{}{"scene_name": "x"})
	require.False(t, evt.IsCritical())
}

func TestFromSource_OccurredAt(t *testing.T) {
	tr := newTestTransformer()

	tests := []struct {
		name   string
		native map[string]interface{}
		want   time.Time
	}{
		{
			name:   "iso timestamp",
			native: map[string]interface{}{"timestamp": "2026-03-01T12:00:00Z"},
			want:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		},
		{
			name:   "unix seconds",
			native: map[string]interface{}{"timestamp": float64(1772366400)},
			want:   time.Unix(1772366400, 0).UTC(),
		},
		{
			name:   "unix millis",
			native: map[string]interface{}{"timestamp": float64(1772366400123)},
			want:   time.UnixMilli(1772366400123).UTC(),
		},
		{
			name: "priority order prefers occurred_at",
			native: map[string]interface{}{
				"followed_at": "2026-01-01T00:00:00Z",
				"occurred_at": "2026-02-01T00:00:00Z",
			},
			want: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "skips unparseable fields",
			native: map[string]interface{}{
				"timestamp":   "not a time",
				"followed_at": "2026-01-01T00:00:00Z",
			},
			want: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name:   "falls back to now",
			native: map[string]interface{}{"timestamp": "garbage"},
			want:   fixedNow,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			evt := tr.FromSource("custom.event", tc.native)
			require.True(t, tc.want.Equal(evt.OccurredAt), "got %s want %s", evt.OccurredAt, tc.want)
		})
	}
}

func TestStorageRoundTrip_KnownTypes(t *testing.T) {
	tr := newTestTransformer()

	for eventType, native := range nativeSamples() {
		t.Run(eventType, func(t *testing.T) {
			require.Contains(t, tr.mappers, eventType)

			evt := tr.FromSource(eventType, native)
			rec, err := tr.ForStorage(evt)
			require.NoError(t, err)

			decoded, err := tr.FromStorage(rec)
			require.NoError(t, err)

			require.Equal(t, evt.ID, decoded.ID)
			require.Equal(t, eventType, decoded.Type)
			require.Equal(t, evt.Source, decoded.Source)
			for k := range native {
				require.Contains(t, decoded.Payload, k)
			}
			require.Equal(t, len(evt.Payload), len(decoded.Payload))
		})
	}
}

func TestForStorage_Encoding(t *testing.T) {
	tr := newTestTransformer()
	occurred := time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.FixedZone("CET", 3600))
	evt := v1.NewEvent("channel.follow", v1.SourceTwitch,
		map[string]interface{}{"user_id": "1"},
		v1.WithOccurredAt(occurred),
		v1.WithCorrelationID("corr"),
	)

	rec, err := tr.ForStorage(evt)
	require.NoError(t, err)

	require.Equal(t, "twitch", rec.Source)
	require.Equal(t, "normal", rec.Priority)
	require.Equal(t, "corr", rec.CorrelationID)
	require.Equal(t, time.UTC, rec.OccurredAt.Location())
	require.Equal(t, 123456000, rec.OccurredAt.Nanosecond())
	require.JSONEq(t, `{"user_id":"1"}`, string(rec.Payload))

	var meta map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Metadata, &meta))
	require.Equal(t, "corr", meta["correlation_id"])
	require.Equal(t, "normal", meta["priority"])
}

func TestForRealtimeFeed(t *testing.T) {
	tr := newTestTransformer()
	evt := v1.NewEvent("obs.scene.changed", v1.SourceOBS,
		map[string]interface{}{"scene": "Gameplay"},
		v1.WithCorrelationID("secret-internal"),
	)

	wire := tr.ForRealtimeFeed(evt)

	require.Len(t, wire, 4)
	require.Equal(t, evt.ID, wire["id"])
	require.Equal(t, "obs.scene.changed", wire["type"])
	require.Equal(t, evt.Payload, wire["data"])
	require.Equal(t, evt.OccurredAt.UnixMilli(), wire["timestamp"])
}

func TestForRealtimeFeed_Batch(t *testing.T) {
	tr := newTestTransformer()
	a := v1.NewEvent("channel.follow", v1.SourceTwitch, map[string]interface{}{"user": "a"})
	b := v1.NewEvent("channel.follow", v1.SourceTwitch, map[string]interface{}{"user": "b"})
	batch := v1.NewBatchEvent("events:twitch", []*v1.Event{a, b})

	wire := tr.ForRealtimeFeed(batch)
	require.Equal(t, v1.BatchEventType, wire["type"])

	data := wire["data"].(map[string]interface{})
	require.Equal(t, 2, data["count"])
	require.Equal(t, batch.Metadata.BatchID, data["batch_id"])

	inner := data["events"].([]map[string]interface{})
	require.Equal(t, a.ID, inner[0]["id"])
	require.Equal(t, b.ID, inner[1]["id"])
}

func TestForOutbound(t *testing.T) {
	tr := newTestTransformer()
	occurred := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	evt := v1.NewEvent("channel.cheer", v1.SourceTwitch,
		map[string]interface{}{"bits": float64(100)},
		v1.WithOccurredAt(occurred),
		v1.WithCorrelationID("corr-9"),
	)

	out := tr.ForOutbound(evt)

	require.Equal(t, evt.ID, out.EventID)
	require.Equal(t, "channel.cheer", out.EventType)
	require.Equal(t, "twitch", out.Source)
	require.Equal(t, "corr-9", out.CorrelationID)
	require.Equal(t, "2026-03-01T12:00:00Z", out.OccurredAt)
	require.Equal(t, float64(100), out.Payload["bits"])
}

func TestForCloudEvent(t *testing.T) {
	tr := newTestTransformer()
	evt := v1.NewEvent("channel.follow", v1.SourceTwitch,
		map[string]interface{}{"user_id": "1"},
		v1.WithCorrelationID("corr-1"),
	)

	ce, err := tr.ForCloudEvent(evt)
	require.NoError(t, err)

	require.Equal(t, evt.ID, ce.ID())
	require.Equal(t, "eventpipe/twitch", ce.Source())
	require.Equal(t, "channel.follow", ce.Type())
	require.Equal(t, "corr-1", ce.Extensions()["correlationid"])

	var body OutboundPayload
	require.NoError(t, ce.DataAs(&body))
	require.Equal(t, evt.ID, body.EventID)
	require.Equal(t, "1", body.Payload["user_id"])
}
