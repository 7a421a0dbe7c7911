package repository

import "database/sql"

// ---------- Gateway Webhook Events ----------

// WebhookEventExists checks if a gateway notification has already been received.
func WebhookEventExists(db *sql.DB, eventID string) bool {
	var exists int
	err := db.QueryRow(`SELECT COUNT(*) FROM webhook_events WHERE id = ?`, eventID).Scan(&exists)
	return err == nil && exists > 0
}

// InsertWebhookEvent logs a received gateway notification.
func InsertWebhookEvent(db *sql.DB, eventID, eventType string) error {
	_, err := db.Exec(`INSERT OR IGNORE INTO webhook_events (id, type) VALUES (?, ?)`, eventID, eventType)
	return err
}

// MarkWebhookEventProcessed marks a notification as successfully processed.
func MarkWebhookEventProcessed(db *sql.DB, eventID string) error {
	_, err := db.Exec(`UPDATE webhook_events SET processed = 1 WHERE id = ?`, eventID)
	return err
}
