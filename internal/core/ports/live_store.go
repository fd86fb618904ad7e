package ports

// LiveStore keeps the transient state of the envelope transport.
type LiveStore interface {
	Envelopes() EnvelopeStore
	DeletedGames() DeletedGameStore
}

type EnvelopeStore interface {
	// Add marks the envelope as seen and returns false if it already was.
	Add(id string) bool
	Includes(id string) bool
}

type DeletedGameStore interface {
	Add(gameId string)
	Includes(gameId string) bool
}
