package sim

import "math/rand/v2"

// topics is the fixed set of specialties a clinical case can be framed in.
var topics = []string{
	"Internal Medicine",
	"Women's Health",
	"Pediatrics",
	"Geriatrics",
	"Emergency Care",
	"Infectious Diseases",
	"Surgical Center",
	"Cardiology",
	"Mental Health",
	"Obstetrics",
}

// DrawTopic picks a specialty uniformly at random.
func DrawTopic() string {
	return topics[rand.IntN(len(topics))]
}

// Topics returns the specialty list, for display and tests.
func Topics() []string {
	out := make([]string, len(topics))
	copy(out, topics)
	return out
}
