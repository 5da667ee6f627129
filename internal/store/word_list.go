package store

// Call ids read as a short phrase: adjective, noun, verb, adverb.

var adjectives = []string{
	"brave", "calm", "clever", "cozy", "eager", "fancy", "gentle", "golden",
	"happy", "jolly", "kind", "lively", "lucky", "merry", "nimble", "plucky",
	"proud", "quick", "quiet", "rapid", "shiny", "silly", "sleepy", "snug",
	"sunny", "swift", "tidy", "tiny", "vivid", "warm", "witty", "zesty",
}

var nouns = []string{
	"badger", "beaver", "bison", "crane", "dolphin", "falcon", "ferret", "finch",
	"gecko", "heron", "koala", "lemur", "lynx", "marmot", "moose", "narwhal",
	"otter", "panda", "parrot", "pelican", "penguin", "puffin", "quokka", "raven",
	"robin", "salmon", "seal", "sparrow", "tapir", "walrus", "wombat", "yak",
}

var verbs = []string{
	"calls", "chats", "chirps", "dances", "dials", "drums", "echoes", "glides",
	"greets", "hums", "jumps", "laughs", "listens", "naps", "paints", "plays",
	"rings", "roams", "rows", "sails", "sings", "skips", "speaks", "spins",
	"strums", "swims", "talks", "waves", "whistles", "winks", "writes", "yodels",
}

var adverbs = []string{
	"boldly", "brightly", "calmly", "cheerfully", "clearly", "eagerly", "gently", "gladly",
	"happily", "kindly", "lightly", "loudly", "madly", "merrily", "neatly", "nicely",
	"oddly", "politely", "proudly", "quickly", "quietly", "rarely", "sharply", "slowly",
	"smoothly", "softly", "sweetly", "swiftly", "warmly", "wildly", "wisely", "zestily",
}
