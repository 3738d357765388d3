package runcoord

import (
	"fmt"
	"math/rand"
	"sync"
)

// adjectives and nouns used to generate readable run names.
var adjectives = []string{
	"dainty", "brave", "calm", "eager", "fancy", "gentle", "happy", "jolly",
	"kind", "lively", "merry", "nice", "proud", "quick", "silly", "tidy",
	"witty", "zealous", "bright", "shy", "bold", "clever", "daring",
	"elegant", "faithful", "graceful", "honest", "inventive", "jovial",
	"keen", "lucky", "modest", "noble", "optimistic", "patient", "quirky",
	"resourceful", "sincere", "thoughtful", "upbeat", "valiant", "warm",
	"youthful", "zesty",
}

var nouns = []string{
	"sunset", "forest", "river", "mountain", "breeze", "meadow", "ocean",
	"valley", "sky", "field", "cloud", "star", "rain", "leaf", "stone",
	"flower", "bird", "tree", "wave", "trail", "island", "desert", "hill",
	"lake", "pond", "grove", "canyon", "reef", "bay", "peak", "glade",
	"marsh", "cliff", "dune", "spring", "brook", "cave", "plain", "ridge",
	"wood",
}

// nameGenerator produces readable run names, counting per base adjective-
// noun pair so repeated draws within a process don't collide.
type nameGenerator struct {
	mu      sync.Mutex
	counter map[string]int
	rng     *rand.Rand
}

func newNameGenerator() *nameGenerator {
	return &nameGenerator{
		counter: make(map[string]int),
		rng:     rand.New(rand.NewSource(rand.Int63())),
	}
}

// generate returns a name like "dainty-sunset-1", retrying against exists
// until a free name is found.
func (g *nameGenerator) generate(exists func(string) bool) string {
	for {
		base := fmt.Sprintf("%s-%s", g.pick(adjectives), g.pick(nouns))

		g.mu.Lock()
		n := g.counter[base]
		g.counter[base] = n + 1
		g.mu.Unlock()

		name := fmt.Sprintf("%s-%d", base, n)
		if exists == nil || !exists(name) {
			return name
		}
	}
}

func (g *nameGenerator) pick(words []string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return words[g.rng.Intn(len(words))]
}
