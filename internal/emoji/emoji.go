// Package emoji canonicalizes emoji between upstream symbols and stable
// textual names. The table covers the reactions the bridged platforms
// actually offer; platform drivers layer their own alias spellings on top.
package emoji

import "strings"

var nameToSymbol = map[string]string{
	"thumbs_up":                     "👍",
	"thumbs_down":                   "👎",
	"red_heart":                     "❤️",
	"fire":                          "🔥",
	"smiling_face_with_hearts":      "🥰",
	"clapping_hands":                "👏",
	"beaming_face_with_smiling_eyes": "😁",
	"thinking_face":                 "🤔",
	"exploding_head":                "🤯",
	"face_screaming_in_fear":        "😱",
	"face_with_symbols_on_mouth":    "🤬",
	"crying_face":                   "😢",
	"partying_face":                 "🥳",
	"star_struck":                   "🤩",
	"face_with_open_mouth":          "😮",
	"face_vomiting":                 "🤮",
	"pile_of_poo":                   "💩",
	"folded_hands":                  "🙏",
	"ok_hand":                       "👌",
	"dove":                          "🕊️",
	"clown_face":                    "🤡",
	"yawning_face":                  "🥱",
	"woozy_face":                    "🥴",
	"smiling_face_with_heart_eyes":  "😍",
	"whale":                         "🐳",
	"heart_on_fire":                 "❤️‍🔥",
	"new_moon_face":                 "🌚",
	"hot_dog":                       "🌭",
	"hundred_points":                "💯",
	"rolling_on_the_floor_laughing": "🤣",
	"high_voltage":                  "⚡",
	"banana":                        "🍌",
	"trophy":                        "🏆",
	"broken_heart":                  "💔",
	"face_with_raised_eyebrow":      "🤨",
	"neutral_face":                  "😐",
	"strawberry":                    "🍓",
	"bottle_with_popping_cork":      "🍾",
	"kiss_mark":                     "💋",
	"middle_finger":                 "🖕",
	"smiling_face_with_horns":       "😈",
	"sleeping_face":                 "😴",
	"loudly_crying_face":            "😭",
	"nerd_face":                     "🤓",
	"ghost":                         "👻",
	"man_technologist":              "👨‍💻",
	"eyes":                          "👀",
	"jack_o_lantern":                "🎃",
	"see_no_evil_monkey":            "🙈",
	"smiling_face_with_halo":        "😇",
	"fearful_face":                  "😨",
	"handshake":                     "🤝",
	"writing_hand":                  "✍️",
	"hugging_face":                  "🤗",
	"saluting_face":                 "🫡",
	"santa_claus":                   "🎅",
	"christmas_tree":                "🎄",
	"snowman":                       "☃️",
	"nail_polish":                   "💅",
	"zany_face":                     "🤪",
	"moai":                          "🗿",
	"cool_button":                   "🆒",
	"heart_with_arrow":              "💘",
	"hear_no_evil_monkey":           "🙉",
	"unicorn":                       "🦄",
	"face_blowing_a_kiss":           "😘",
	"pill":                          "💊",
	"speak_no_evil_monkey":          "🙊",
	"smiling_face_with_sunglasses":  "😎",
	"alien_monster":                 "👾",
	"man_shrugging":                 "🤷‍♂️",
	"person_shrugging":              "🤷",
	"woman_shrugging":               "🤷‍♀️",
	"enraged_face":                  "😡",
	"grinning_face":                 "😀",
	"grinning_face_with_smiling_eyes": "😄",
	"face_with_tears_of_joy":        "😂",
	"slightly_smiling_face":         "🙂",
	"winking_face":                  "😉",
	"party_popper":                  "🎉",
	"rocket":                        "🚀",
	"check_mark":                    "✔️",
	"check_mark_button":             "✅",
	"cross_mark":                    "❌",
	"warning":                       "⚠️",
	"red_question_mark":             "❓",
	"light_bulb":                    "💡",
	"waving_hand":                   "👋",
	"flexed_biceps":                 "💪",
	"raising_hands":                 "🙌",
	"sparkles":                      "✨",
	"star":                         "⭐",
	"sun":                          "☀️",
	"rainbow":                       "🌈",
	"four_leaf_clover":              "🍀",
	"hourglass_done":                "⌛",
	"alarm_clock":                   "⏰",
	"bell":                          "🔔",
	"bullseye":                      "🎯",
	"gem_stone":                     "💎",
	"memo":                          "📝",
	"magnifying_glass_tilted_left":  "🔍",
	"locked":                        "🔒",
	"key":                          "🔑",
	"package":                       "📦",
	"bug":                          "🐛",
	"robot":                         "🤖",
}

var symbolToName = make(map[string]string, len(nameToSymbol))

func init() {
	for name, symbol := range nameToSymbol {
		symbolToName[symbol] = name
		// Index the variation-selector-free form too; platforms are not
		// consistent about sending it.
		if trimmed := strings.TrimSuffix(symbol, "️"); trimmed != symbol {
			symbolToName[trimmed] = name
		}
	}
}

// Name returns the canonical textual name for an upstream symbol and whether
// it is known.
func Name(symbol string) (string, bool) {
	name, ok := symbolToName[symbol]
	return name, ok
}

// Symbol returns the upstream symbol for a canonical name and whether it is
// known.
func Symbol(name string) (string, bool) {
	symbol, ok := nameToSymbol[name]
	return symbol, ok
}

// Canonical normalizes any upstream reaction value (symbol or textual
// spelling) to its canonical name. Unknown values pass through lowercased so
// downstream consumers still see a stable key.
func Canonical(value string) string {
	if value == "" {
		return ""
	}
	if name, ok := symbolToName[value]; ok {
		return name
	}
	normalized := strings.ToLower(strings.Trim(value, ":"))
	normalized = strings.ReplaceAll(normalized, "-", "_")
	if _, ok := nameToSymbol[normalized]; ok {
		return normalized
	}
	return normalized
}

// Known reports whether a canonical name is in the table.
func Known(name string) bool {
	_, ok := nameToSymbol[name]
	return ok
}
