package validation

// Field length ceilings shared by the schemas below.
const (
	maxTwitchID     = 20
	maxLogin        = 25
	maxDisplayName  = 64
	maxMessageID    = 64
	maxChatText     = 500
	maxTitle        = 256
	maxEmotes       = 100
	maxFragments    = 200
	maxServiceName  = 64
	maxReasonText   = 256
	maxPathText     = 1024
	maxBadges       = 20
	maxRewardTitle  = 45
	maxCategoryName = 100
)

// Limits on the derived chat emote list. Mappers that build it must stay
// within them or a valid payload would fail after normalization.
const (
	MaxEmotes    = maxEmotes
	MaxEmoteName = maxDisplayName
)

var subTiers = []string{"1000", "2000", "3000"}

var chatFragment = Schema{
	"type": Req(OneOf("text", "cheermote", "emote", "mention")),
	"text": Req(Text(maxChatText)),
}

var chatMessage = Schema{
	"text":      Req(Text(maxChatText)),
	"fragments": Opt(ObjectList(maxFragments, chatFragment)),
}

var subMessage = Schema{
	"text": Opt(Text(maxChatText)),
}

var badge = Schema{
	"set_id": Req(Text(maxDisplayName)),
	"id":     Req(Text(maxDisplayName)),
}

var reward = Schema{
	"id":    Req(Text(maxMessageID)),
	"title": Req(Text(maxRewardTitle)),
	"cost":  Opt(NonNegativeInt()),
}

// twitchSchemas cover externally reachable webhook payloads.
var twitchSchemas = map[string]Schema{
	"channel.follow": {
		"user_id":             Req(NumericID(maxTwitchID)),
		"user_login":          Req(Handle(maxLogin)),
		"user_name":           Opt(Text(maxDisplayName)),
		"broadcaster_user_id": Opt(NumericID(maxTwitchID)),
		"followed_at":         Opt(Timestamp()),
	},
	"channel.subscribe": {
		"user_id":    Req(NumericID(maxTwitchID)),
		"user_login": Req(Handle(maxLogin)),
		"user_name":  Opt(Text(maxDisplayName)),
		"tier":       Req(OneOf(subTiers...)),
		"is_gift":    Opt(Bool()),
	},
	"channel.subscription.gift": {
		"user_id":          Opt(NumericID(maxTwitchID)),
		"user_login":       Opt(Handle(maxLogin)),
		"tier":             Req(OneOf(subTiers...)),
		"total":            Req(PositiveInt()),
		"cumulative_total": Opt(NonNegativeInt()),
		"is_anonymous":     Opt(Bool()),
	},
	"channel.subscription.message": {
		"user_id":           Req(NumericID(maxTwitchID)),
		"user_login":        Req(Handle(maxLogin)),
		"user_name":         Opt(Text(maxDisplayName)),
		"tier":              Req(OneOf(subTiers...)),
		"message":           Opt(Object(subMessage)),
		"cumulative_months": Opt(PositiveInt()),
		"streak_months":     Opt(NonNegativeInt()),
		"duration_months":   Opt(PositiveInt()),
	},
	"channel.cheer": {
		"user_id":      Opt(NumericID(maxTwitchID)),
		"user_login":   Opt(Handle(maxLogin)),
		"is_anonymous": Opt(Bool()),
		"message":      Opt(Text(maxChatText)),
		"bits":         Req(PositiveInt()),
	},
	"channel.chat.message": {
		"chatter_user_id":    Req(NumericID(maxTwitchID)),
		"chatter_user_login": Req(Handle(maxLogin)),
		"chatter_user_name":  Opt(Text(maxDisplayName)),
		"message_id":         Req(Text(maxMessageID)),
		"message":            Req(Object(chatMessage)),
		"color":              Opt(Text(16)),
		"badges":             Opt(ObjectList(maxBadges, badge)),
		"emotes":             Opt(StringList(MaxEmotes, MaxEmoteName)),
	},
	"channel.raid": {
		"from_broadcaster_user_id":    Req(NumericID(maxTwitchID)),
		"from_broadcaster_user_login": Req(Handle(maxLogin)),
		"from_broadcaster_user_name":  Opt(Text(maxDisplayName)),
		"viewers":                     Req(NonNegativeInt()),
	},
	"channel.channel_points_custom_reward_redemption.add": {
		"id":          Req(Text(maxMessageID)),
		"user_id":     Req(NumericID(maxTwitchID)),
		"user_login":  Req(Handle(maxLogin)),
		"user_input":  Opt(Text(maxChatText)),
		"status":      Opt(OneOf("unfulfilled", "fulfilled", "canceled", "unknown")),
		"reward":      Req(Object(reward)),
		"redeemed_at": Opt(Timestamp()),
	},
	"channel.update": {
		"title":         Opt(Text(140)),
		"category_id":   Opt(NumericID(maxTwitchID)),
		"category_name": Opt(Text(maxCategoryName)),
	},
	"stream.online": {
		"broadcaster_user_id": Req(NumericID(maxTwitchID)),
		"type":                Opt(OneOf("live", "playlist", "watch_party", "premiere", "rerun")),
		"started_at":          Opt(Timestamp()),
	},
	"stream.offline": {
		"broadcaster_user_id": Req(NumericID(maxTwitchID)),
	},
}

var obsOutput = Schema{
	"output_active": Opt(Bool()),
	"output_path":   Opt(Text(maxPathText)),
}

// deviceSchemas cover local telemetry from the streaming software and game client.
var deviceSchemas = map[string]Schema{
	"obs.scene.changed": {
		"scene_name": Req(Text(maxTitle)),
	},
	"obs.stream.started":    obsOutput,
	"obs.stream.stopped":    obsOutput,
	"obs.recording.started": obsOutput,
	"obs.recording.stopped": obsOutput,
	"obs.stats.updated": {
		"cpu_usage":             Opt(NonNegativeNumber()),
		"memory_usage":          Opt(NonNegativeNumber()),
		"active_fps":            Opt(NonNegativeNumber()),
		"render_skipped_frames": Opt(NonNegativeInt()),
		"output_skipped_frames": Opt(NonNegativeInt()),
	},
	"obs.connection.lost": {
		"reason": Opt(Text(maxReasonText)),
	},
	"ironmon.init": {
		"game_type":  Opt(Text(32)),
		"version":    Opt(Text(32)),
		"difficulty": Opt(Text(32)),
	},
	"ironmon.seed": {
		"count": Req(NonNegativeInt()),
	},
	"ironmon.checkpoint": {
		"id":   Req(NonNegativeInt()),
		"name": Req(Text(maxDisplayName)),
		"seed": Opt(NonNegativeInt()),
	},
	"ironmon.location": {
		"id": Req(NonNegativeInt()),
	},
	"ironmon.battle_started": {
		"is_wild":       Opt(Bool()),
		"trainer_id":    Opt(NonNegativeInt()),
		"opponent_name": Opt(Text(maxDisplayName)),
	},
	"ironmon.battle_ended": {
		"player_won": Opt(Bool()),
	},
	"ironmon.connection.lost": {
		"reason": Opt(Text(maxReasonText)),
	},
	"rainwave.song_changed": {
		"title":      Opt(Text(maxTitle)),
		"artist":     Opt(Text(maxTitle)),
		"album":      Opt(Text(maxTitle)),
		"station_id": Opt(NonNegativeInt()),
		"length":     Opt(NonNegativeInt()),
	},
}

var serviceEvent = Schema{
	"service": Req(Text(maxServiceName)),
	"reason":  Opt(Text(maxReasonText)),
}

// systemSchemas cover internal lifecycle signals.
var systemSchemas = map[string]Schema{
	"system.service_up":            serviceEvent,
	"system.service_down":          serviceEvent,
	"system.authentication_failed": serviceEvent,
	"system.started": {
		"version": Opt(Text(maxServiceName)),
	},
	"system.stopping": {
		"reason": Opt(Text(maxReasonText)),
	},
	"system.config_reloaded": {
		"changed_keys": Opt(StringList(maxEmotes, maxServiceName)),
	},
}

// defaultSchemas merges the schema groups. Webhook schemas win on conflict.
func defaultSchemas() map[string]Schema {
	out := make(map[string]Schema, len(twitchSchemas)+len(deviceSchemas)+len(systemSchemas))
	for _, group := range []map[string]Schema{systemSchemas, deviceSchemas, twitchSchemas} {
		for k, v := range group {
			out[k] = v
		}
	}
	return out
}
