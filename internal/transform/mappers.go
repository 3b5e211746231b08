package transform

import (
	"strings"

	"github.com/landale/eventpipe/internal/validation"
)

// mapper adds canonical alias fields to a copied native payload in place.
// Mappers never remove or overwrite native keys.
type mapper func(p map[string]interface{})

// nativeEmotePrefix marks the channel's own emotes.
const nativeEmotePrefix = "avalon"

var tierNames = map[string]string{
	"1000": "Tier 1",
	"2000": "Tier 2",
	"3000": "Tier 3",
}

func defaultMappers() map[string]mapper {
	return map[string]mapper{
		"channel.chat.message":         mapChatMessage,
		"channel.follow":               mapViewer("user"),
		"channel.subscribe":            chain(mapViewer("user"), mapTier),
		"channel.subscription.gift":    chain(mapViewer("user"), mapTier, mapGift),
		"channel.subscription.message": chain(mapViewer("user"), mapTier, mapResub),
		"channel.cheer":                chain(mapViewer("user"), mapCheer),
		"channel.raid":                 chain(mapViewer("from_broadcaster_user"), mapRaid),
		"channel.update":               mapChannelUpdate,
		"stream.online":                mapViewer("broadcaster_user"),
		"stream.offline":               mapViewer("broadcaster_user"),

		"channel.channel_points_custom_reward_redemption.add": chain(mapViewer("user"), mapRedemption),

		"obs.scene.changed":      alias("scene_name", "scene"),
		"obs.stream.started":     alias("output_active", "active"),
		"obs.stream.stopped":     alias("output_active", "active"),
		"obs.recording.started":  alias("output_active", "active"),
		"obs.recording.stopped":  alias("output_active", "active"),
		"ironmon.init":           flattenMetadata,
		"ironmon.seed":           flattenMetadata,
		"ironmon.checkpoint":     flattenMetadata,
		"ironmon.location":       flattenMetadata,
		"ironmon.battle_started": flattenMetadata,
		"ironmon.battle_ended":   flattenMetadata,
		"rainwave.song_changed":  mapSong,
	}
}

func chain(ms ...mapper) mapper {
	return func(p map[string]interface{}) {
		for _, m := range ms {
			m(p)
		}
	}
}

func setIfAbsent(p map[string]interface{}, key string, value interface{}) {
	if value == nil {
		return
	}
	if _, exists := p[key]; !exists {
		p[key] = value
	}
}

func alias(from, to string) mapper {
	return func(p map[string]interface{}) {
		setIfAbsent(p, to, p[from])
	}
}

// mapViewer adds user_id/username/display_name from prefixed webhook fields,
// e.g. prefix "user" reads user_id, user_login and user_name.
func mapViewer(prefix string) mapper {
	return func(p map[string]interface{}) {
		setIfAbsent(p, "user_id", p[prefix+"_id"])
		setIfAbsent(p, "username", p[prefix+"_login"])
		setIfAbsent(p, "display_name", p[prefix+"_name"])
	}
}

func mapTier(p map[string]interface{}) {
	tier, _ := p["tier"].(string)
	if name, ok := tierNames[tier]; ok {
		setIfAbsent(p, "tier_name", name)
	}
}

func mapGift(p map[string]interface{}) {
	setIfAbsent(p, "gift_count", p["total"])
	if anon, ok := p["is_anonymous"].(bool); ok && anon {
		setIfAbsent(p, "username", "anonymous")
	}
}

func mapResub(p map[string]interface{}) {
	setIfAbsent(p, "months", p["cumulative_months"])
	if msg, ok := p["message"].(map[string]interface{}); ok {
		setIfAbsent(p, "text", msg["text"])
	}
}

func mapCheer(p map[string]interface{}) {
	setIfAbsent(p, "amount", p["bits"])
	setIfAbsent(p, "text", p["message"])
	if anon, ok := p["is_anonymous"].(bool); ok && anon {
		setIfAbsent(p, "username", "anonymous")
	}
}

func mapRaid(p map[string]interface{}) {
	setIfAbsent(p, "viewer_count", p["viewers"])
}

func mapRedemption(p map[string]interface{}) {
	setIfAbsent(p, "text", p["user_input"])
	if r, ok := p["reward"].(map[string]interface{}); ok {
		setIfAbsent(p, "reward_title", r["title"])
		setIfAbsent(p, "reward_cost", r["cost"])
	}
}

func mapChannelUpdate(p map[string]interface{}) {
	setIfAbsent(p, "category", p["category_name"])
}

// emoteName applies the same item rule the chat schema uses for emotes.
var emoteName = validation.Text(validation.MaxEmoteName)

// mapChatMessage flattens the webhook chat shape into the fields the overlay
// and analysis consumers read: text, emotes, native_emotes and badge flags.
func mapChatMessage(p map[string]interface{}) {
	mapViewer("chatter_user")(p)

	msg, _ := p["message"].(map[string]interface{})
	if msg != nil {
		setIfAbsent(p, "text", msg["text"])
	}

	emotes := []interface{}{}
	native := []interface{}{}
	if fragments, ok := msg["fragments"].([]interface{}); ok {
		setIfAbsent(p, "fragments", fragments)
		for _, f := range fragments {
			frag, ok := f.(map[string]interface{})
			if !ok || frag["type"] != "emote" {
				continue
			}
			name, _ := frag["text"].(string)
			if name == "" {
				continue
			}
			if _, err := emoteName(name); err != nil {
				continue
			}
			if len(emotes) == validation.MaxEmotes {
				break
			}
			emotes = append(emotes, name)
			if strings.HasPrefix(name, nativeEmotePrefix) {
				native = append(native, name)
			}
		}
	}
	setIfAbsent(p, "emotes", emotes)
	setIfAbsent(p, "native_emotes", native)

	var subscriber, moderator bool
	if badges, ok := p["badges"].([]interface{}); ok {
		for _, b := range badges {
			badge, ok := b.(map[string]interface{})
			if !ok {
				continue
			}
			switch badge["set_id"] {
			case "subscriber", "founder":
				subscriber = true
			case "moderator", "broadcaster":
				moderator = true
			}
		}
	}
	setIfAbsent(p, "is_subscriber", subscriber)
	setIfAbsent(p, "is_moderator", moderator)
}

// flattenMetadata lifts the game client's nested metadata object to the top level.
func flattenMetadata(p map[string]interface{}) {
	meta, ok := p["metadata"].(map[string]interface{})
	if !ok {
		return
	}
	for k, v := range meta {
		setIfAbsent(p, k, v)
	}
}

func mapSong(p map[string]interface{}) {
	setIfAbsent(p, "song_title", p["title"])
	if artists, ok := p["artists"].([]interface{}); ok && len(artists) > 0 {
		names := make([]string, 0, len(artists))
		for _, a := range artists {
			if s, ok := a.(string); ok {
				names = append(names, s)
			}
		}
		setIfAbsent(p, "artist", strings.Join(names, ", "))
	}
}
