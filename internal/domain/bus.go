package domain

// IntentBus fans intents out to per-page subscriptions.
type IntentBus interface {
	Publish(in Intent)
	Subscribe(pageID string) <-chan Intent
	Unsubscribe(pageID string)
	Close()
}
