package repository

// MessageBus decouples the ledger from the concrete event transport.
type MessageBus interface {
	Publish(topic string, data []byte) error
}

// TopicCreditsSpent carries SpendEvent payloads from the atomic Redis spend
// to the worker that persists them in Postgres.
const TopicCreditsSpent = "credits.spent"
