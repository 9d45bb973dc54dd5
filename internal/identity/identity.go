package identity

import (
	"fmt"
	"math/rand/v2"
	"sync"
)

// Word lists for display name composition. Collisions between
// simultaneously connected users are tolerated; names are cosmetic.
var (
	adjectives = []string{
		"Silent", "Loud", "Wet", "Dry", "Stinky", "Fresh", "Hot", "Cold",
		"Quick", "Slow", "Big", "Small", "Mysterious", "Obvious", "Sneaky",
		"Bold", "Shy", "Angry", "Happy", "Sad", "Excited", "Calm",
	}
	nouns = []string{
		"Farter", "Gasbag", "Windmaker", "Bubble", "Puff", "Blast", "Rip",
		"Squeak", "Thunder", "Whisper", "Roar", "Sigh", "Huff", "Puff",
		"Breeze", "Gust", "Storm", "Tornado", "Hurricane", "Cyclone",
	}
	colors = []string{
		"Green", "Brown", "Yellow", "Orange", "Red", "Purple", "Blue",
		"Pink", "Gray", "Black", "White", "Silver", "Gold",
	}
)

// Generator produces ephemeral display names for new connections.
// Thread-safe; math/rand/v2 sources are not safe for concurrent use.
type Generator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// New creates a Generator backed by the given source. A nil source
// uses a time-seeded PCG.
func New(src rand.Source) *Generator {
	if src == nil {
		return &Generator{rng: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))}
	}
	return &Generator{rng: rand.New(src)}
}

// Generate returns a display name of the form
// {color}{adjective}{noun}{number} with number in [1, 999].
// No uniqueness check is performed.
func (g *Generator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	color := colors[g.rng.IntN(len(colors))]
	adjective := adjectives[g.rng.IntN(len(adjectives))]
	noun := nouns[g.rng.IntN(len(nouns))]
	number := g.rng.IntN(999) + 1
	return fmt.Sprintf("%s%s%s%d", color, adjective, noun, number)
}
